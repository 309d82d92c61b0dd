package usecase

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/focusd/govd/internal/domain"
)

const commandLogWidth = 60

// Auditor writes every intervention to the daemon log, the actions log
// and, when configured, the encrypted audit store.
type Auditor struct {
	logger  *zap.Logger
	actions *zap.Logger
	store   domain.AuditStore
}

// NewAuditor creates an auditor. actions and store may be nil.
func NewAuditor(logger, actions *zap.Logger, store domain.AuditStore) *Auditor {
	if actions == nil {
		actions = zap.NewNop()
	}
	return &Auditor{logger: logger, actions: actions, store: store}
}

// Record logs the entry and persists it. Never fails the caller.
func (a *Auditor) Record(e domain.AuditEntry) {
	fields := auditFields(e)

	a.logger.Check(auditLevel(e.Status), auditMessage(e)).Write(fields...)
	a.actions.Info(string(e.Action), fields...)

	if a.store == nil {
		return
	}
	if err := a.store.Record(e); err != nil {
		a.logger.Warn("failed to persist audit entry",
			zap.String("source", e.Source),
			zap.String("action", string(e.Action)),
			zap.Error(err))
	}
}

func auditFields(e domain.AuditEntry) []zap.Field {
	fields := []zap.Field{
		zap.String("source", e.Source),
		zap.String("action", string(e.Action)),
		zap.String("status", string(e.Status)),
	}
	if e.PID != 0 {
		fields = append(fields, zap.Int("pid", e.PID))
	}
	if e.Command != "" {
		fields = append(fields, zap.String("cmd", shortCommand(e.Command)))
	}
	if e.Service != "" {
		fields = append(fields, zap.String("service", e.Service))
	}
	if e.Metric != "" {
		fields = append(fields,
			zap.String("metric", e.Metric),
			zap.Float64("value", e.Value),
			zap.Float64("threshold", e.Threshold))
	}
	if e.Rank != 0 {
		fields = append(fields, zap.Int("rank", e.Rank))
	}
	if e.Detail != "" {
		fields = append(fields, zap.String("detail", e.Detail))
	}
	return fields
}

func auditLevel(status domain.OutcomeStatus) zapcore.Level {
	switch status {
	case domain.OutcomeFailed:
		return zapcore.ErrorLevel
	case domain.OutcomeSkipped:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

func auditMessage(e domain.AuditEntry) string {
	switch e.Status {
	case domain.OutcomeFailed:
		return "action failed"
	case domain.OutcomeSkipped:
		return "action skipped"
	case domain.OutcomeGone:
		return "action target already gone"
	default:
		return "action applied"
	}
}

// shortCommand truncates a command line for log output.
func shortCommand(cmd string) string {
	r := []rune(cmd)
	if len(r) <= commandLogWidth {
		return cmd
	}
	return string(r[:commandLogWidth])
}
