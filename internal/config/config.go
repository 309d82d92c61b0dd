// Package config loads, validates and saves the governor configuration.
// TOML is the default format; files ending in .yaml or .yml are read as YAML.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	minIntervalSeconds    = 1
	maxIntervalSeconds    = 3600
	minDeferredIntervalMs = 10
	maxDeferredIntervalMs = 10000
	minShutdownSeconds    = 1
	maxShutdownSeconds    = 300
	minKillGraceMs        = 100
	maxKillGraceMs        = 60000
	minSampleConcurrency  = 1
	maxSampleConcurrency  = 256
	minRetentionDays      = 1
	maxRetentionDays      = 3650
	minNice               = -20
	maxNice               = 19
	minTopConsumers       = 1
	maxTopConsumers       = 100
	minMaxViolations      = 1
	maxMaxViolations      = 1000
	maxCooldownSeconds    = 86400
	maxPressurePercent    = 100
)

// Format is a configuration file encoding.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// FormatOf picks the encoding from a file extension.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatTOML
	}
}

// ParseFormat validates a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "toml", "":
		return FormatTOML, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown config format %q (want toml or yaml)", s)
	}
}

type Config struct {
	Monitoring MonitoringConfig `toml:"monitoring" yaml:"monitoring"`
	Logging    LoggingConfig    `toml:"logging" yaml:"logging"`
	Storage    StorageConfig    `toml:"storage" yaml:"storage"`
	Security   SecurityConfig   `toml:"security" yaml:"security"`
	DBus       DBusConfig       `toml:"dbus" yaml:"dbus"`
	Pressure   PressureConfig   `toml:"pressure" yaml:"pressure"`
	Targets    []TargetConfig   `toml:"targets" yaml:"targets"`
}

type MonitoringConfig struct {
	CheckIntervalSecs     int  `toml:"check_interval_secs" yaml:"check_interval_secs"`
	PressureIntervalSecs  int  `toml:"pressure_interval_secs" yaml:"pressure_interval_secs"`
	DeferredIntervalMs    int  `toml:"deferred_interval_ms" yaml:"deferred_interval_ms"`
	HeartbeatIntervalSecs int  `toml:"heartbeat_interval_secs" yaml:"heartbeat_interval_secs"`
	ShutdownTimeoutSecs   int  `toml:"shutdown_timeout_secs" yaml:"shutdown_timeout_secs"`
	KillGraceMs           int  `toml:"kill_grace_ms" yaml:"kill_grace_ms"`
	ServiceTimeoutSecs    int  `toml:"service_timeout_secs" yaml:"service_timeout_secs"`
	SampleConcurrency     int  `toml:"sample_concurrency" yaml:"sample_concurrency"`
	ReloadOnStart         bool `toml:"reload_on_start" yaml:"reload_on_start"`
}

type LoggingConfig struct {
	Level      string `toml:"level" yaml:"level"`
	LogDir     string `toml:"log_dir" yaml:"log_dir"`
	DaemonLog  string `toml:"daemon_log" yaml:"daemon_log"`
	ActionsLog string `toml:"actions_log" yaml:"actions_log"`
}

type StorageConfig struct {
	DataDir            string `toml:"data_dir" yaml:"data_dir"`
	StatsPath          string `toml:"stats_path" yaml:"stats_path"`
	AuditEnabled       bool   `toml:"audit_enabled" yaml:"audit_enabled"`
	AuditRetentionDays int    `toml:"audit_retention_days" yaml:"audit_retention_days"`
}

type SecurityConfig struct {
	NoNewPrivs           bool `toml:"no_new_privs" yaml:"no_new_privs"`
	RestrictCapabilities bool `toml:"restrict_capabilities" yaml:"restrict_capabilities"`
}

type DBusConfig struct {
	StatusEnabled bool `toml:"status_enabled" yaml:"status_enabled"`
	UseSystemBus  bool `toml:"use_system_bus" yaml:"use_system_bus"`
}

type PressureConfig struct {
	Enabled            bool              `toml:"enabled" yaml:"enabled"`
	PSIPath            string            `toml:"psi_path" yaml:"psi_path"`
	WarningSome        float64           `toml:"warning_some" yaml:"warning_some"`
	WarningFull        float64           `toml:"warning_full" yaml:"warning_full"`
	CriticalSome       float64           `toml:"critical_some" yaml:"critical_some"`
	CriticalFull       float64           `toml:"critical_full" yaml:"critical_full"`
	WarningAction      string            `toml:"warning_action" yaml:"warning_action"`
	WarningNice        int               `toml:"warning_nice" yaml:"warning_nice"`
	WarningSuspendSecs int               `toml:"warning_suspend_secs" yaml:"warning_suspend_secs"`
	TopConsumers       int               `toml:"top_consumers" yaml:"top_consumers"`
	Sacrifice          []SacrificeConfig `toml:"sacrifice" yaml:"sacrifice"`
}

type SacrificeConfig struct {
	Name        string        `toml:"name" yaml:"name"`
	Match       MatcherConfig `toml:"match" yaml:"match"`
	MinMemoryMB uint64        `toml:"min_memory_mb,omitempty" yaml:"min_memory_mb,omitempty"`
}

// MatcherConfig is the serialized form of a matcher. Exactly one field
// must be set.
type MatcherConfig struct {
	ExactName    string          `toml:"exact_name,omitempty" yaml:"exact_name,omitempty"`
	PathContains string          `toml:"path_contains,omitempty" yaml:"path_contains,omitempty"`
	AnyOf        []MatcherConfig `toml:"any_of,omitempty" yaml:"any_of,omitempty"`
}

type TargetConfig struct {
	Name          string          `toml:"name" yaml:"name"`
	Enabled       *bool           `toml:"enabled,omitempty" yaml:"enabled,omitempty"`
	Match         MatcherConfig   `toml:"match" yaml:"match"`
	Exclude       []MatcherConfig `toml:"exclude,omitempty" yaml:"exclude,omitempty"`
	CPUPercent    float64         `toml:"cpu_percent,omitempty" yaml:"cpu_percent,omitempty"`
	MemoryMB      uint64          `toml:"memory_mb,omitempty" yaml:"memory_mb,omitempty"`
	Action        string          `toml:"action" yaml:"action"`
	Service       string          `toml:"service,omitempty" yaml:"service,omitempty"`
	NiceLevel     int             `toml:"nice_level,omitempty" yaml:"nice_level,omitempty"`
	SuspendSecs   int             `toml:"suspend_secs,omitempty" yaml:"suspend_secs,omitempty"`
	MaxViolations int             `toml:"max_violations,omitempty" yaml:"max_violations,omitempty"`
	CooldownSecs  int             `toml:"cooldown_secs,omitempty" yaml:"cooldown_secs,omitempty"`

	// Kill tier of a counted target, off when kill_cpu_percent is 0.
	KillCPUPercent    float64 `toml:"kill_cpu_percent,omitempty" yaml:"kill_cpu_percent,omitempty"`
	KillMaxViolations int     `toml:"kill_max_violations,omitempty" yaml:"kill_max_violations,omitempty"`
}

// IsEnabled reports whether the target is active. Targets are enabled
// unless explicitly switched off.
func (t TargetConfig) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

// Paths are the mode-dependent locations baked into the defaults.
type Paths struct {
	LogDir    string
	DataDir   string
	StatsPath string
}

// SystemPaths are the locations used when running as root.
func SystemPaths() Paths {
	return Paths{
		LogDir:    "/var/log/govd",
		DataDir:   "/var/lib/govd",
		StatsPath: "/run/govd/stats.json",
	}
}

func DefaultConfig() *Config {
	return DefaultConfigFor(SystemPaths())
}

// DefaultConfigFor returns the defaults with the given locations.
func DefaultConfigFor(p Paths) *Config {
	return &Config{
		Monitoring: MonitoringConfig{
			CheckIntervalSecs:     3,
			PressureIntervalSecs:  5,
			DeferredIntervalMs:    250,
			HeartbeatIntervalSecs: 30,
			ShutdownTimeoutSecs:   5,
			KillGraceMs:           2000,
			ServiceTimeoutSecs:    10,
			SampleConcurrency:     8,
		},
		Logging: LoggingConfig{
			Level:      "info",
			LogDir:     p.LogDir,
			DaemonLog:  "govd.log",
			ActionsLog: "actions.log",
		},
		Storage: StorageConfig{
			DataDir:            p.DataDir,
			StatsPath:          p.StatsPath,
			AuditEnabled:       true,
			AuditRetentionDays: 30,
		},
		Security: SecurityConfig{
			NoNewPrivs:           true,
			RestrictCapabilities: true,
		},
		DBus: DBusConfig{
			UseSystemBus: true,
		},
		Pressure: defaultPressure(),
		Targets:  defaultTargets(),
	}
}

// Load reads a config file over the system defaults.
func Load(path string) (*Config, error) {
	return LoadWithDefaults(path, DefaultConfig())
}

// LoadWithDefaults reads a config file over base. Keys absent from the
// file keep base's value; a targets or sacrifice list in the file
// replaces the default list entirely.
func LoadWithDefaults(path string, base *Config) (*Config, error) {
	if base == nil {
		base = DefaultConfig()
	}
	cfg := *base
	// decoders reuse slice backing arrays; start the lists empty so
	// fields of a default entry never leak into a configured one
	cfg.Targets = nil
	cfg.Pressure.Sacrifice = nil

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := Decode(data, FormatOf(path), &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Targets == nil {
		cfg.Targets = base.Targets
	}
	if cfg.Pressure.Sacrifice == nil {
		cfg.Pressure.Sacrifice = base.Pressure.Sacrifice
	}

	return NormalizeAndValidate(&cfg)
}

// Decode unmarshals data in the given format into cfg.
func Decode(data []byte, format Format, cfg *Config) error {
	switch format {
	case FormatYAML:
		return yaml.Unmarshal(data, cfg)
	default:
		_, err := toml.Decode(string(data), cfg)
		return err
	}
}

// Encode writes cfg in the given format.
func Encode(w io.Writer, cfg *Config, format Format) error {
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("encode config YAML: %w", err)
		}
		return enc.Close()
	default:
		if err := toml.NewEncoder(w).Encode(cfg); err != nil {
			return fmt.Errorf("encode config TOML: %w", err)
		}
		return nil
	}
}

func NormalizeAndValidate(cfg *Config) (*Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}

	sanitized := *cfg

	var err error
	sanitized.Logging.LogDir, err = sanitizePath("logging.log_dir", sanitized.Logging.LogDir)
	if err != nil {
		return nil, err
	}
	sanitized.Storage.DataDir, err = sanitizePath("storage.data_dir", sanitized.Storage.DataDir)
	if err != nil {
		return nil, err
	}
	sanitized.Storage.StatsPath, err = sanitizePath("storage.stats_path", sanitized.Storage.StatsPath)
	if err != nil {
		return nil, err
	}
	if sanitized.Pressure.PSIPath, err = sanitizePath("pressure.psi_path", sanitized.Pressure.PSIPath); err != nil {
		return nil, err
	}
	if err := validateFileName("logging.daemon_log", sanitized.Logging.DaemonLog); err != nil {
		return nil, err
	}
	if err := validateFileName("logging.actions_log", sanitized.Logging.ActionsLog); err != nil {
		return nil, err
	}

	sanitized.Logging.Level = strings.ToLower(strings.TrimSpace(sanitized.Logging.Level))
	switch sanitized.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", cfg.Logging.Level)
	}

	if err := validateMonitoring(sanitized.Monitoring); err != nil {
		return nil, err
	}
	if err := validateRange("storage.audit_retention_days", sanitized.Storage.AuditRetentionDays, minRetentionDays, maxRetentionDays); err != nil {
		return nil, err
	}
	if err := validatePressure(sanitized.Pressure); err != nil {
		return nil, err
	}
	if err := validateTargets(sanitized.Targets); err != nil {
		return nil, err
	}

	return &sanitized, nil
}

// Save validates cfg and writes it atomically. The encoding follows the
// file extension.
func Save(path string, cfg *Config) error {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return fmt.Errorf("config path must not be empty")
	}

	sanitized, err := NormalizeAndValidate(cfg)
	if err != nil {
		return err
	}

	var data bytes.Buffer
	if err := Encode(&data, sanitized, FormatOf(trimmedPath)); err != nil {
		return err
	}

	dir := filepath.Dir(trimmedPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".govd-config-*")
	if err != nil {
		return fmt.Errorf("create temp config file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data.Bytes()); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("write temp config file: %w", err)
	}
	if err := tmpFile.Chmod(0o644); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("chmod temp config file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp config file: %w", err)
	}
	if err := os.Rename(tmpPath, trimmedPath); err != nil {
		return fmt.Errorf("replace config file: %w", err)
	}
	tmpPath = ""

	return nil
}

// DaemonLogPath returns the full path of the daemon log.
func (c *Config) DaemonLogPath() string {
	return filepath.Join(c.Logging.LogDir, c.Logging.DaemonLog)
}

// ActionsLogPath returns the full path of the actions log.
func (c *Config) ActionsLogPath() string {
	return filepath.Join(c.Logging.LogDir, c.Logging.ActionsLog)
}

// AuditDBPath returns the encrypted audit database path.
func (c *Config) AuditDBPath() string {
	return filepath.Join(c.Storage.DataDir, "audit.db")
}

// InstancePath returns the instance registry path.
func (c *Config) InstancePath() string {
	return filepath.Join(c.Storage.DataDir, "instance.json")
}

func sanitizePath(name, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("%s must not be empty", name)
	}
	expanded, err := expandHome(trimmed)
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	cleaned := filepath.Clean(expanded)
	if !filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("%s must be an absolute path, got %q", name, value)
	}
	return cleaned, nil
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand ~: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

func validateFileName(name, value string) error {
	v := strings.TrimSpace(value)
	if v == "" {
		return fmt.Errorf("%s must not be empty", name)
	}
	if strings.ContainsRune(v, filepath.Separator) {
		return fmt.Errorf("%s must be a file name, got %q", name, value)
	}
	return nil
}

func validateRange(name string, value, min, max int) error {
	if value < min || value > max {
		return fmt.Errorf("%s must be between %d and %d, got %d", name, min, max, value)
	}

	return nil
}

func validatePercent(name string, value float64) error {
	if value < 0 || value > maxPressurePercent {
		return fmt.Errorf("%s must be between 0 and %d, got %g", name, maxPressurePercent, value)
	}
	return nil
}
