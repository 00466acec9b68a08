package ports

import (
	"context"
	"io"
	"time"

	"SeaIndexBridge/internal/domain"
)

// ProgressFunc receives the uploaded fraction of the recording in [0,1].
type ProgressFunc func(fraction float64)

// AnalysisService drives the remote SEA analysis protocol.
type AnalysisService interface {
	Login(ctx context.Context, username, password string) (domain.AnalysisCredential, error)
	Upload(ctx context.Context, req domain.UploadRequest, cred domain.AnalysisCredential, onProgress ProgressFunc) (string, error)
	PollScore(ctx context.Context, query domain.ScoreQuery, cred domain.AnalysisCredential) (domain.ScoreResult, error)
}

// RecordWriter persists the score as a clinical record.
type RecordWriter interface {
	Write(ctx context.Context, score float64, identity domain.Identity) (domain.WriteOutcome, error)
	LastRecord() (domain.ClinicalRecord, bool)
}

// IdentityProvider exposes the clinical-record store launch context.
type IdentityProvider interface {
	HasIdentity() bool
	IdentityRef() string
	Current() domain.Identity
}

// HistoryRepository stores summaries of finished runs.
type HistoryRepository interface {
	Save(ctx context.Context, summary domain.SessionSummary) error
	List(ctx context.Context, limit uint64) ([]domain.SessionSummary, error)
	Get(ctx context.Context, sessionID string) (domain.SessionSummary, error)
}

// SessionObserver is told about every session transition.
type SessionObserver interface {
	OnTransition(ctx context.Context, snap domain.Snapshot)
}

// Metrics records run-level telemetry.
type Metrics interface {
	RecordRun(ctx context.Context, summary domain.SessionSummary)
	Close(ctx context.Context) error
}

// FileStore saves exported artifacts.
type FileStore interface {
	Read(ctx context.Context, name string) (io.ReadCloser, error)
	Write(ctx context.Context, name string) (io.WriteCloser, error)
	Delete(ctx context.Context, name string) error
	Exists(ctx context.Context, name string) (bool, error)
}

// Waiter pauses between poll attempts.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Scheduler controls when recurring jobs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
