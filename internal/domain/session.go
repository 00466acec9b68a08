package domain

import (
	"strings"
	"time"
)

// Phase enumerates the session state machine.
type Phase string

const (
	PhaseIdle               Phase = "idle"
	PhaseValidating         Phase = "validating"
	PhaseRejected           Phase = "rejected"
	PhaseDecoding           Phase = "decoding"
	PhaseExtractingMetadata Phase = "extracting_metadata"
	PhaseReady              Phase = "ready"
	PhaseMetadataFailed     Phase = "metadata_failed"
	PhaseUploading          Phase = "uploading"
	PhasePolling            Phase = "polling"
	PhaseWriting            Phase = "writing"
	PhaseSucceeded          Phase = "succeeded"
	PhaseFailed             Phase = "failed"
)

// Terminal reports whether the phase ends an attempt.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseRejected, PhaseMetadataFailed, PhaseSucceeded, PhaseFailed:
		return true
	}
	return false
}

// Running reports whether a remote pipeline run is in flight.
func (p Phase) Running() bool {
	switch p {
	case PhaseUploading, PhasePolling, PhaseWriting:
		return true
	}
	return false
}

// ArchiveExtension is the only accepted recording suffix.
const ArchiveExtension = ".gz"

// RecordingFile is the raw user-selected archive.
type RecordingFile struct {
	Name string
	Data []byte
}

// Size returns the byte length of the archive.
func (f RecordingFile) Size() int64 { return int64(len(f.Data)) }

// HasArchiveExtension reports whether name ends in .gz, ignoring case.
func HasArchiveExtension(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ArchiveExtension)
}

// DisplayName is the decoded table name shown next to the archive.
func DisplayName(name string) string {
	if !HasArchiveExtension(name) {
		return name
	}
	return name[:len(name)-len(ArchiveExtension)] + ".csv"
}

// UploadSession is the unit of work for one file. Only the session
// controller mutates it.
type UploadSession struct {
	ID              string
	File            *RecordingFile
	ValidationError error
	Metadata        SessionMetadata
	MetadataError   error
	Phase           Phase
	UploadFraction  float64
	PollElapsed     int
	Progress        int
	JobID           string
	Score           *float64
	WriteOutcome    *WriteOutcome
	Err             error
	StartedAt       time.Time
	FinishedAt      time.Time
	UpdatedAt       time.Time
}

// Snapshot is a read-only view of an UploadSession.
type Snapshot struct {
	SessionID       string            `json:"sessionId"`
	FileName        string            `json:"fileName,omitempty"`
	DisplayName     string            `json:"displayName,omitempty"`
	FileSize        int64             `json:"fileSize,omitempty"`
	Phase           Phase             `json:"phase"`
	Progress        int               `json:"progress"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	JobID           string            `json:"jobId,omitempty"`
	Score           *float64          `json:"score,omitempty"`
	WriteOutcome    *WriteOutcome     `json:"writeOutcome,omitempty"`
	ValidationError string            `json:"validationError,omitempty"`
	MetadataError   string            `json:"metadataError,omitempty"`
	Error           string            `json:"error,omitempty"`
	ErrorKind       string            `json:"errorKind,omitempty"`
	StartedAt       *time.Time        `json:"startedAt,omitempty"`
	FinishedAt      *time.Time        `json:"finishedAt,omitempty"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// Snapshot copies the session so callers cannot mutate controller state.
func (s *UploadSession) Snapshot() Snapshot {
	snap := Snapshot{
		SessionID: s.ID,
		Phase:     s.Phase,
		Progress:  s.Progress,
		Metadata:  s.Metadata.Clone(),
		JobID:     s.JobID,
		UpdatedAt: s.UpdatedAt,
	}
	if s.File != nil {
		snap.FileName = s.File.Name
		snap.DisplayName = DisplayName(s.File.Name)
		snap.FileSize = s.File.Size()
	}
	if s.Score != nil {
		v := *s.Score
		snap.Score = &v
	}
	if s.WriteOutcome != nil {
		w := *s.WriteOutcome
		snap.WriteOutcome = &w
	}
	if s.ValidationError != nil {
		snap.ValidationError = UserMessage(s.ValidationError)
	}
	if s.MetadataError != nil {
		snap.MetadataError = UserMessage(s.MetadataError)
	}
	if s.Err != nil {
		snap.Error = UserMessage(s.Err)
		snap.ErrorKind = KindOf(s.Err)
	}
	if !s.StartedAt.IsZero() {
		t := s.StartedAt
		snap.StartedAt = &t
	}
	if !s.FinishedAt.IsZero() {
		t := s.FinishedAt
		snap.FinishedAt = &t
	}
	return snap
}

// SessionSummary is the history row written once a run finishes.
type SessionSummary struct {
	SessionID    string
	FileName     string
	SubjectID    string
	JobID        string
	Phase        Phase
	Score        *float64
	WriteStatus  WriteStatus
	WriteCode    int
	ErrorKind    string
	ErrorMessage string
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Duration returns the wall time of the run.
func (s SessionSummary) Duration() time.Duration {
	if s.StartedAt.IsZero() || s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Summarize builds the history row for a finished session.
func (s *UploadSession) Summarize() SessionSummary {
	sum := SessionSummary{
		SessionID:  s.ID,
		SubjectID:  s.Metadata.SubjectID(),
		JobID:      s.JobID,
		Phase:      s.Phase,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
	}
	if s.File != nil {
		sum.FileName = s.File.Name
	}
	if s.Score != nil {
		v := *s.Score
		sum.Score = &v
	}
	if s.WriteOutcome != nil {
		sum.WriteStatus = s.WriteOutcome.Status
		sum.WriteCode = s.WriteOutcome.StatusCode
	}
	if s.Err != nil {
		sum.ErrorKind = KindOf(s.Err)
		sum.ErrorMessage = s.Err.Error()
	}
	return sum
}
