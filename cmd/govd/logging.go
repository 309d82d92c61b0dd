package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/eliteGoblin/focusd/govd/internal/config"
)

// stderrIsTerminal reports whether stderr is attached to a terminal.
func stderrIsTerminal() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

// createLogger builds the daemon logger: JSON to <log_dir>/<daemon_log>,
// mirrored to stderr. An interactive stderr gets the colored console encoder.
func createLogger(cfg *config.Config) *zap.Logger {
	zc := daemonLogConfig(cfg)

	interactive := stderrIsTerminal()
	if !interactive {
		zc.OutputPaths = append(zc.OutputPaths, "stderr")
	}

	var fileErr error
	if err := os.MkdirAll(cfg.Logging.LogDir, 0o755); err != nil {
		fileErr = err
	}

	logger, err := zc.Build()
	if fileErr != nil || err != nil {
		// Fall back to stderr only if the log directory is not writable
		zc.OutputPaths = []string{"stderr"}
		logger, _ = zc.Build()
		if fileErr == nil {
			fileErr = err
		}
		logger.Warn("file logging disabled",
			zap.String("path", cfg.DaemonLogPath()),
			zap.Error(fileErr))
	}

	if interactive {
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		console := zapcore.NewCore(zapcore.NewConsoleEncoder(ec), zapcore.Lock(os.Stderr), zc.Level)
		logger = logger.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return zapcore.NewTee(c, console)
		}))
	}
	return logger
}

// daemonLogConfig is the file logger config. Sampling is off: repeated
// violation lines for one target are the record of the escalation.
func daemonLogConfig(cfg *config.Config) zap.Config {
	level, _ := zapcore.ParseLevel(cfg.Logging.Level)

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Sampling = nil
	zc.EncoderConfig.TimeKey = "time"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.OutputPaths = []string{cfg.DaemonLogPath()}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc
}

// createActionsLogger builds the JSON actions log. Every intervention is
// written here regardless of the daemon log level.
func createActionsLogger(cfg *config.Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	zc.Sampling = nil
	zc.DisableCaller = true
	zc.DisableStacktrace = true
	zc.EncoderConfig.TimeKey = "time"
	zc.EncoderConfig.MessageKey = "event"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.OutputPaths = []string{cfg.ActionsLogPath()}
	zc.ErrorOutputPaths = []string{"stderr"}

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("open actions log %s: %w", cfg.ActionsLogPath(), err)
	}
	return logger, nil
}

// createCLILogger is the quiet logger for one-shot commands.
func createCLILogger(verbose bool) *zap.Logger {
	level := zapcore.WarnLevel
	if verbose {
		level = zapcore.InfoLevel
	}
	ec := zap.NewDevelopmentEncoderConfig()
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	if stderrIsTerminal() {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(ec), zapcore.Lock(os.Stderr), level)
	return zap.New(core)
}
