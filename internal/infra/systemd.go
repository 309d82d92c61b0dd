package infra

import (
	"context"
	"errors"
	"fmt"
	"strings"

	godbus "github.com/godbus/dbus/v5"

	"github.com/eliteGoblin/focusd/govd/internal/domain"
)

const (
	systemdName    = "org.freedesktop.systemd1"
	systemdPath    = godbus.ObjectPath("/org/freedesktop/systemd1")
	systemdManager = "org.freedesktop.systemd1.Manager"

	errAccessDenied   = "org.freedesktop.DBus.Error.AccessDenied"
	errInteractiveReq = "org.freedesktop.DBus.Error.InteractiveAuthorizationRequired"
	errNoReply        = "org.freedesktop.DBus.Error.NoReply"
	errTimeout        = "org.freedesktop.DBus.Error.Timeout"
)

// methodCaller is the part of godbus.BusObject the manager needs.
type methodCaller interface {
	CallWithContext(ctx context.Context, method string, flags godbus.Flags, args ...interface{}) *godbus.Call
}

// SystemdManager implements domain.ServiceManager over the system bus.
// Authorization is left to systemd's polkit policy.
type SystemdManager struct {
	conn *godbus.Conn
	obj  methodCaller
}

// NewSystemdManager connects to the system bus.
func NewSystemdManager() (*SystemdManager, error) {
	conn, err := godbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}
	return &SystemdManager{
		conn: conn,
		obj:  conn.Object(systemdName, systemdPath),
	}, nil
}

// Restart queues a restart job for unit in "replace" mode.
func (m *SystemdManager) Restart(ctx context.Context, unit string) error {
	name := unitName(unit)
	var job godbus.ObjectPath
	call := m.obj.CallWithContext(ctx, systemdManager+".RestartUnit", 0, name, "replace")
	if err := call.Store(&job); err != nil {
		return classifyDBusErr(ctx, "restart "+name, err)
	}
	return nil
}

// Reload asks systemd to reload its unit files.
func (m *SystemdManager) Reload(ctx context.Context) error {
	call := m.obj.CallWithContext(ctx, systemdManager+".Reload", 0)
	if call.Err != nil {
		return classifyDBusErr(ctx, "reload", call.Err)
	}
	return nil
}

// Close releases the bus connection.
func (m *SystemdManager) Close() error {
	if m.conn == nil {
		return nil
	}
	return m.conn.Close()
}

// unitName appends ".service" to a bare unit name.
func unitName(unit string) string {
	unit = strings.TrimSpace(unit)
	if strings.Contains(unit, ".") {
		return unit
	}
	return unit + ".service"
}

func classifyDBusErr(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %v", op, domain.ErrServiceTimeout, err)
	}

	name := ""
	var pe *godbus.Error
	var ve godbus.Error
	switch {
	case errors.As(err, &pe):
		name = pe.Name
	case errors.As(err, &ve):
		name = ve.Name
	}

	switch name {
	case errAccessDenied, errInteractiveReq:
		return fmt.Errorf("%s: %w: %v", op, domain.ErrUnauthorized, err)
	case errNoReply, errTimeout:
		return fmt.Errorf("%s: %w: %v", op, domain.ErrServiceTimeout, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// Ensure SystemdManager implements domain.ServiceManager.
var _ domain.ServiceManager = (*SystemdManager)(nil)
