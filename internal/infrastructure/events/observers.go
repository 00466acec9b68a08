// Package events fans session transitions out to logs, Redis subscribers
// and chat notifications.
package events

import (
	"context"
	"log/slog"

	"SeaIndexBridge/internal/domain"
	"SeaIndexBridge/internal/ports"
)

// Fanout forwards every transition to each observer in order.
type Fanout []ports.SessionObserver

var _ ports.SessionObserver = (Fanout)(nil)

// NewFanout drops nil observers.
func NewFanout(observers ...ports.SessionObserver) Fanout {
	out := make(Fanout, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

// OnTransition implements ports.SessionObserver.
func (f Fanout) OnTransition(ctx context.Context, snap domain.Snapshot) {
	for _, o := range f {
		o.OnTransition(ctx, snap)
	}
}

// LogObserver writes one structured line per transition.
type LogObserver struct {
	logger *slog.Logger
}

// NewLogObserver builds a LogObserver; nil falls back to slog.Default.
func NewLogObserver(logger *slog.Logger) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{logger: logger}
}

// OnTransition implements ports.SessionObserver.
func (l *LogObserver) OnTransition(ctx context.Context, snap domain.Snapshot) {
	attrs := []any{
		"session_id", snap.SessionID,
		"phase", snap.Phase,
		"progress", snap.Progress,
	}
	if snap.JobID != "" {
		attrs = append(attrs, "job_id", snap.JobID)
	}
	if snap.Score != nil {
		attrs = append(attrs, "score", *snap.Score)
	}

	level := slog.LevelInfo
	switch snap.Phase {
	case domain.PhaseFailed, domain.PhaseRejected, domain.PhaseMetadataFailed:
		level = slog.LevelWarn
		if snap.ErrorKind != "" {
			attrs = append(attrs, "kind", snap.ErrorKind)
		}
		if msg := firstNonEmpty(snap.Error, snap.ValidationError, snap.MetadataError); msg != "" {
			attrs = append(attrs, "error", msg)
		}
	}
	l.logger.Log(ctx, level, "session.transition", attrs...)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
