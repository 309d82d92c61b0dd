package infra

import (
	"os"
	"os/user"
	"path/filepath"
)

// ExecMode represents the execution mode of the governor.
type ExecMode string

const (
	// ExecModeUser runs unprivileged and can only act on the user's processes.
	ExecModeUser ExecMode = "user"
	// ExecModeSystem runs as root under systemd.
	ExecModeSystem ExecMode = "system"
)

// ExecModeConfig holds runtime paths based on execution mode.
type ExecModeConfig struct {
	Mode       ExecMode
	ConfigPath string // default configuration file
	LogDir     string
	DataDir    string // audit database, key and instance record
	StatsPath  string
	IsRoot     bool
}

// DetectExecMode determines the execution mode based on effective UID.
func DetectExecMode() *ExecModeConfig {
	if os.Geteuid() == 0 {
		return &ExecModeConfig{
			Mode:       ExecModeSystem,
			ConfigPath: "/etc/govd/govd.toml",
			LogDir:     "/var/log/govd",
			DataDir:    "/var/lib/govd",
			StatsPath:  "/run/govd/stats.json",
			IsRoot:     true,
		}
	}
	home, _ := os.UserHomeDir()
	return userModeConfig(home)
}

// GetUserModeConfig returns user mode paths regardless of the current euid.
// Under sudo the invoking user's home directory is used.
func GetUserModeConfig() *ExecModeConfig {
	cfg := userModeConfig(GetRealUserHome())
	cfg.IsRoot = os.Geteuid() == 0
	return cfg
}

func userModeConfig(home string) *ExecModeConfig {
	return &ExecModeConfig{
		Mode:       ExecModeUser,
		ConfigPath: filepath.Join(home, ".config", "govd", "govd.toml"),
		LogDir:     filepath.Join(home, ".local", "state", "govd"),
		DataDir:    filepath.Join(home, ".local", "share", "govd"),
		StatsPath:  filepath.Join(os.TempDir(), "govd-stats.json"),
	}
}

// String returns a human-readable description of the mode.
func (m ExecMode) String() string {
	switch m {
	case ExecModeSystem:
		return "system (systemd unit, root)"
	case ExecModeUser:
		return "user (unprivileged, own processes only)"
	default:
		return "unknown"
	}
}

// GetRealUserHome returns the real user's home directory, even when running under sudo.
// Under sudo, os.UserHomeDir() returns /root, so SUDO_USER is consulted first.
func GetRealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}
