package infra

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDetectExecMode_ReturnsCorrectPaths(t *testing.T) {
	config := DetectExecMode()

	if os.Geteuid() == 0 {
		if config.Mode != ExecModeSystem {
			t.Errorf("expected system mode when euid=0, got %s", config.Mode)
		}
		if config.ConfigPath != "/etc/govd/govd.toml" {
			t.Errorf("expected /etc/govd/govd.toml, got %s", config.ConfigPath)
		}
		if config.StatsPath != "/run/govd/stats.json" {
			t.Errorf("expected /run/govd/stats.json, got %s", config.StatsPath)
		}
		return
	}

	if config.Mode != ExecModeUser {
		t.Errorf("expected user mode when euid!=0, got %s", config.Mode)
	}
	home, _ := os.UserHomeDir()
	if want := filepath.Join(home, ".config", "govd", "govd.toml"); config.ConfigPath != want {
		t.Errorf("expected %s, got %s", want, config.ConfigPath)
	}
	if want := filepath.Join(home, ".local", "share", "govd"); config.DataDir != want {
		t.Errorf("expected %s, got %s", want, config.DataDir)
	}
}

func TestExecModeConfig_PathsAreAbsolute(t *testing.T) {
	config := DetectExecMode()

	for name, p := range map[string]string{
		"ConfigPath": config.ConfigPath,
		"LogDir":     config.LogDir,
		"DataDir":    config.DataDir,
		"StatsPath":  config.StatsPath,
	} {
		if !filepath.IsAbs(p) {
			t.Errorf("%s should be absolute, got %q", name, p)
		}
	}
	if filepath.Base(config.ConfigPath) != "govd.toml" {
		t.Errorf("ConfigPath should end with govd.toml, got %s", config.ConfigPath)
	}
}

func TestGetUserModeConfig_UsesSudoUserHome(t *testing.T) {
	t.Setenv("SUDO_USER", "")
	home := t.TempDir()
	t.Setenv("HOME", home)

	config := GetUserModeConfig()
	if config.Mode != ExecModeUser {
		t.Errorf("expected user mode, got %s", config.Mode)
	}
	if want := filepath.Join(home, ".local", "state", "govd"); config.LogDir != want {
		t.Errorf("LogDir = %q, want %q", config.LogDir, want)
	}
}

func TestExecMode_String(t *testing.T) {
	tests := []struct {
		mode     ExecMode
		expected string
	}{
		{ExecModeUser, "user (unprivileged, own processes only)"},
		{ExecModeSystem, "system (systemd unit, root)"},
		{ExecMode("invalid"), "unknown"},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			if got := tt.mode.String(); got != tt.expected {
				t.Errorf("ExecMode.String() = %q, want %q", got, tt.expected)
			}
		})
	}
}
