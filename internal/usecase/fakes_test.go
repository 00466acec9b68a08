package usecase

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	"github.com/klauspost/compress/gzip"

	"SeaIndexBridge/internal/domain"
	"SeaIndexBridge/internal/ports"
)

func gzipText(t *testing.T, text string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(text)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

const goodTable = "SubjectID,Age,Gender,Drug,PHQ-9,Time,signal_quality_score\nS001,34,M,none,12,2024-05-01,0.9\n0.1,0.2\n"

type fakeAnalysis struct {
	mu        sync.Mutex
	logins    int
	uploads   int
	polls     int
	loginErr  error
	uploadErr error
	jobID     string
	// results are returned in order; the last one repeats.
	results []domain.ScoreResult
	pollErr error
}

var _ ports.AnalysisService = (*fakeAnalysis)(nil)

func (f *fakeAnalysis) Login(ctx context.Context, username, password string) (domain.AnalysisCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins++
	if f.loginErr != nil {
		return domain.AnalysisCredential{}, f.loginErr
	}
	return domain.NewAnalysisCredential("tok"), nil
}

func (f *fakeAnalysis) Upload(ctx context.Context, req domain.UploadRequest, cred domain.AnalysisCredential, onProgress ports.ProgressFunc) (string, error) {
	f.mu.Lock()
	f.uploads++
	err := f.uploadErr
	f.mu.Unlock()
	if err != nil {
		return "", err
	}
	if req.Metadata.SubjectID() == "" {
		return "", domain.NewMissingFieldError("upload", domain.KeySubjectID)
	}
	onProgress(0.5)
	onProgress(1)
	if f.jobID == "" {
		return "job-1", nil
	}
	return f.jobID, nil
}

func (f *fakeAnalysis) PollScore(ctx context.Context, query domain.ScoreQuery, cred domain.AnalysisCredential) (domain.ScoreResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.pollErr != nil {
		return domain.ScoreResult{}, f.pollErr
	}
	if len(f.results) == 0 {
		return domain.ScoreResult{Code: 1}, nil
	}
	i := f.polls - 1
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	return f.results[i], nil
}

func (f *fakeAnalysis) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads, f.polls
}

func ready(score float64) domain.ScoreResult {
	return domain.ScoreResult{Code: 0, Ready: true, Score: &score}
}

func pending() domain.ScoreResult {
	return domain.ScoreResult{Code: 1}
}

type countingWaiter struct {
	mu    sync.Mutex
	waits int
}

func (w *countingWaiter) Wait(ctx context.Context) error {
	w.mu.Lock()
	w.waits++
	w.mu.Unlock()
	return ctx.Err()
}

// blockingWaiter parks the first Wait until released or cancelled.
type blockingWaiter struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingWaiter() *blockingWaiter {
	return &blockingWaiter{entered: make(chan struct{}), release: make(chan struct{})}
}

func (w *blockingWaiter) Wait(ctx context.Context) error {
	w.once.Do(func() { close(w.entered) })
	select {
	case <-w.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type fakeRecords struct {
	mu      sync.Mutex
	writes  int
	status  int
	outcome map[string]any
	last    *domain.ClinicalRecord
}

func (f *fakeRecords) Write(ctx context.Context, score float64, identity domain.Identity) (domain.WriteOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	f.last = &domain.ClinicalRecord{
		ResourceType:  "Observation",
		Subject:       domain.Reference{Reference: "Patient/" + identity.PatientID},
		ValueQuantity: domain.Quantity{Value: score},
	}
	if f.status >= 400 {
		return domain.WriteOutcome{}, &domain.RecordStoreError{StatusCode: f.status, Outcome: f.outcome}
	}
	return domain.WriteOutcome{Status: domain.WriteWritten, StatusCode: 201, ResourceID: "obs-1"}, nil
}

func (f *fakeRecords) LastRecord() (domain.ClinicalRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		return domain.ClinicalRecord{}, false
	}
	return *f.last, true
}

type fakeIdentity struct {
	identity domain.Identity
}

func (f fakeIdentity) HasIdentity() bool       { return f.identity.Usable() }
func (f fakeIdentity) IdentityRef() string     { return f.identity.UserRef }
func (f fakeIdentity) Current() domain.Identity { return f.identity }

type phaseRecorder struct {
	mu     sync.Mutex
	phases []domain.Phase
}

func (r *phaseRecorder) OnTransition(ctx context.Context, snap domain.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phases = append(r.phases, snap.Phase)
}

func (r *phaseRecorder) seen() []domain.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Phase(nil), r.phases...)
}

type memHistory struct {
	mu   sync.Mutex
	rows []domain.SessionSummary
}

func (m *memHistory) Save(ctx context.Context, s domain.SessionSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, s)
	return nil
}

func (m *memHistory) List(ctx context.Context, limit uint64) ([]domain.SessionSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.SessionSummary(nil), m.rows...), nil
}

func (m *memHistory) Get(ctx context.Context, id string) (domain.SessionSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.SessionID == id {
			return r, nil
		}
	}
	return domain.SessionSummary{}, io.EOF
}

type memStore struct {
	mu    sync.Mutex
	files map[string][]byte
}

type memWriter struct {
	bytes.Buffer
	store *memStore
	name  string
}

func (w *memWriter) Close() error {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	if w.store.files == nil {
		w.store.files = map[string][]byte{}
	}
	w.store.files[w.name] = append([]byte(nil), w.Bytes()...)
	return nil
}

func (m *memStore) Read(ctx context.Context, name string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return io.NopCloser(bytes.NewReader(m.files[name])), nil
}

func (m *memStore) Write(ctx context.Context, name string) (io.WriteCloser, error) {
	return &memWriter{store: m, name: name}, nil
}

func (m *memStore) Delete(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, name)
	return nil
}

func (m *memStore) Exists(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[name]
	return ok, nil
}
