package httpapi

import (
	"time"

	"SeaIndexBridge/internal/domain"
)

type historyItem struct {
	SessionID   string     `json:"sessionId"`
	FileName    string     `json:"fileName"`
	SubjectID   string     `json:"subjectId,omitempty"`
	JobID       string     `json:"jobId,omitempty"`
	Phase       string     `json:"phase"`
	Score       *float64   `json:"score,omitempty"`
	WriteStatus string     `json:"writeStatus,omitempty"`
	WriteCode   int        `json:"writeStatusCode,omitempty"`
	ErrorKind   string     `json:"errorKind,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	DurationMS  int64      `json:"durationMs"`
}

func toHistoryItem(s domain.SessionSummary) historyItem {
	item := historyItem{
		SessionID:   s.SessionID,
		FileName:    s.FileName,
		SubjectID:   s.SubjectID,
		JobID:       s.JobID,
		Phase:       string(s.Phase),
		Score:       s.Score,
		WriteStatus: string(s.WriteStatus),
		WriteCode:   s.WriteCode,
		ErrorKind:   s.ErrorKind,
		Error:       s.ErrorMessage,
		DurationMS:  s.Duration().Milliseconds(),
	}
	if !s.StartedAt.IsZero() {
		t := s.StartedAt.UTC()
		item.StartedAt = &t
	}
	return item
}
