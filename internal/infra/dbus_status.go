package infra

import (
	"encoding/json"
	"errors"
	"fmt"

	godbus "github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/eliteGoblin/focusd/govd/internal/domain"
)

const (
	statusBusName   = "io.govd.Governor"
	statusObjPath   = "/io/govd/Governor"
	statusIfaceName = "io.govd.Governor1"

	maxRecentActions = 1000
)

const statusIntrospectXML = `
<node>
  <interface name="` + statusIfaceName + `">
    <method name="GetStats">
      <arg direction="out" type="s" name="json"/>
    </method>
    <method name="GetRecentActions">
      <arg direction="in" type="i" name="limit"/>
      <arg direction="out" type="s" name="json"/>
    </method>
  </interface>
` + introspect.IntrospectDataString + `
</node>`

// statsSnapshotter is the read side of the stats sink.
type statsSnapshotter interface {
	Snapshot() domain.MonitorStats
}

// auditReader is the read side of the audit store.
type auditReader interface {
	Recent(limit int) ([]domain.AuditEntry, error)
}

// StatusService exposes read-only daemon status over D-Bus.
// Methods run on godbus goroutines.
type StatusService struct {
	stats statsSnapshotter
	audit auditReader
}

// NewStatusService creates the status object. audit may be nil.
func NewStatusService(stats statsSnapshotter, audit auditReader) *StatusService {
	return &StatusService{stats: stats, audit: audit}
}

// Export registers the object on the system bus, or the session bus when
// systemBus is false.
func (s *StatusService) Export(systemBus bool) (*godbus.Conn, error) {
	connect, which := godbus.SessionBus, "session"
	if systemBus {
		connect, which = godbus.SystemBus, "system"
	}
	conn, err := connect()
	if err != nil {
		return nil, fmt.Errorf("connect %s bus: %w", which, err)
	}

	if err := conn.Export(s, statusObjPath, statusIfaceName); err != nil {
		return nil, fmt.Errorf("export %s: %w", statusIfaceName, err)
	}
	if err := conn.Export(introspect.Introspectable(statusIntrospectXML), statusObjPath,
		"org.freedesktop.DBus.Introspectable"); err != nil {
		return nil, fmt.Errorf("export introspection: %w", err)
	}

	reply, err := conn.RequestName(statusBusName, godbus.NameFlagDoNotQueue)
	if err != nil {
		return nil, fmt.Errorf("request name: %w", err)
	}
	if reply != godbus.RequestNameReplyPrimaryOwner {
		return nil, fmt.Errorf("name %s already taken", statusBusName)
	}
	return conn, nil
}

// GetStats returns the current MonitorStats as JSON.
func (s *StatusService) GetStats() (string, *godbus.Error) {
	snap := s.stats.Snapshot()
	data, err := json.Marshal(&snap)
	if err != nil {
		return "", godbus.MakeFailedError(err)
	}
	return string(data), nil
}

// GetRecentActions returns up to limit audit entries, newest first, as JSON.
func (s *StatusService) GetRecentActions(limit int32) (string, *godbus.Error) {
	if limit <= 0 || limit > maxRecentActions {
		return "", godbus.MakeFailedError(fmt.Errorf("limit must be between 1 and %d", maxRecentActions))
	}
	if s.audit == nil {
		return "", godbus.MakeFailedError(errors.New("audit store disabled"))
	}
	entries, err := s.audit.Recent(int(limit))
	if err != nil {
		return "", godbus.MakeFailedError(err)
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return "", godbus.MakeFailedError(err)
	}
	return string(data), nil
}
