package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"SeaIndexBridge/internal/archive"
	"SeaIndexBridge/internal/domain"
	"SeaIndexBridge/internal/metadata"
	"SeaIndexBridge/internal/ports"
)

// ControllerDeps wires all driven adapters into the session controller.
type ControllerDeps struct {
	Analysis  ports.AnalysisService
	Records   ports.RecordWriter
	Identity  ports.IdentityProvider
	History   ports.HistoryRepository
	Metrics   ports.Metrics
	Observers []ports.SessionObserver
	Waiter    ports.Waiter
	Logger    *slog.Logger

	PollAttempts int
	PollUnit     int
	Now          func() time.Time
}

// Controller owns the single active UploadSession and drives it through
// validate, decode, extract, upload, poll and write.
type Controller struct {
	analysis  ports.AnalysisService
	records   ports.RecordWriter
	identity  ports.IdentityProvider
	history   ports.HistoryRepository
	metrics   ports.Metrics
	observers []ports.SessionObserver
	poller    *Poller
	logger    *slog.Logger
	now       func() time.Time

	mu        sync.Mutex
	session   *domain.UploadSession
	cred      domain.AnalysisCredential
	runID     string
	runCancel context.CancelFunc
}

// NewController constructs the orchestration component.
func NewController(deps ControllerDeps) *Controller {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	c := &Controller{
		analysis:  deps.Analysis,
		records:   deps.Records,
		identity:  deps.Identity,
		history:   deps.History,
		metrics:   deps.Metrics,
		observers: deps.Observers,
		poller:    NewPoller(deps.Analysis, deps.Waiter, deps.PollAttempts, deps.PollUnit),
		logger:    logger,
		now:       now,
	}
	c.session = c.newSession()
	return c
}

func (c *Controller) newSession() *domain.UploadSession {
	return &domain.UploadSession{
		ID:        uuid.NewString(),
		Phase:     domain.PhaseIdle,
		UpdatedAt: c.now(),
	}
}

// Snapshot returns a read-only copy of the active session.
func (c *Controller) Snapshot() domain.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Snapshot()
}

// LoggedIn reports whether an analysis credential is held.
func (c *Controller) LoggedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cred.Valid()
}

// Login authenticates against the analysis service and keeps the token.
func (c *Controller) Login(ctx context.Context, username, password string) error {
	cred, err := c.analysis.Login(ctx, username, password)
	if err != nil {
		c.logger.Warn("session.login.failed", "kind", domain.KindOf(err), "error", err)
		return err
	}

	c.mu.Lock()
	c.cred = cred
	c.mu.Unlock()

	c.logger.Info("session.login.ok")
	return nil
}

// Logout drops the analysis token.
func (c *Controller) Logout() {
	c.mu.Lock()
	c.cred = domain.AnalysisCredential{}
	c.mu.Unlock()
	c.logger.Info("session.logout")
}

// Reset replaces the active session with an idle one. Any in-flight run is
// cancelled and its late results are ignored.
func (c *Controller) Reset(ctx context.Context) domain.Snapshot {
	c.mu.Lock()
	c.cancelRunLocked()
	c.session = c.newSession()
	snap := c.session.Snapshot()
	c.mu.Unlock()

	c.notify(ctx, snap)
	return snap
}

// SelectFile starts a new session for the file and runs validation,
// decoding and metadata extraction synchronously. The returned error is the
// validation error for a rejected file or the metadata error for a session
// left in MetadataFailed; the snapshot is always usable.
func (c *Controller) SelectFile(ctx context.Context, name string, data []byte) (domain.Snapshot, error) {
	c.mu.Lock()
	c.cancelRunLocked()
	c.session = c.newSession()
	c.session.Phase = domain.PhaseValidating
	id := c.session.ID
	snap := c.session.Snapshot()
	c.mu.Unlock()
	c.notify(ctx, snap)

	log := c.logger.With("session_id", id)
	log.Info("session.select", "file", name, "bytes", len(data))

	if !domain.HasArchiveExtension(name) {
		verr := domain.NewValidationError("session.validate", "Please select a .gz recording.")
		snap, err := c.transition(ctx, id, func(s *domain.UploadSession) {
			s.Phase = domain.PhaseRejected
			s.ValidationError = verr
			s.File = nil
		})
		if err != nil {
			return snap, err
		}
		log.Warn("session.validate.rejected", "file", name)
		return snap, verr
	}

	file := &domain.RecordingFile{Name: name, Data: data}
	if _, err := c.transition(ctx, id, func(s *domain.UploadSession) {
		s.File = file
		s.Phase = domain.PhaseDecoding
	}); err != nil {
		return c.Snapshot(), err
	}

	lines, decodeErr := archive.DecodeLines(bytes.NewReader(data), metadata.ScanLines)
	if decodeErr != nil {
		log.Warn("session.decode.failed", "error", decodeErr)
		snap, err := c.transition(ctx, id, func(s *domain.UploadSession) {
			s.Phase = domain.PhaseMetadataFailed
			s.MetadataError = decodeErr
		})
		if err != nil {
			return snap, err
		}
		return snap, decodeErr
	}

	if _, err := c.transition(ctx, id, func(s *domain.UploadSession) {
		s.Phase = domain.PhaseExtractingMetadata
	}); err != nil {
		return c.Snapshot(), err
	}

	md := metadata.ExtractLines(lines)
	var mdErr error
	switch {
	case len(md) == 0:
		mdErr = domain.NewValidationError("session.extract", "No recognized metadata fields were found in the recording.")
	case md.SubjectID() == "":
		mdErr = domain.NewMissingFieldError("session.extract", domain.KeySubjectID)
	}

	snap, err := c.transition(ctx, id, func(s *domain.UploadSession) {
		s.Metadata = md
		if mdErr != nil {
			s.Phase = domain.PhaseMetadataFailed
			s.MetadataError = mdErr
			return
		}
		s.Phase = domain.PhaseReady
	})
	if err != nil {
		return snap, err
	}

	if mdErr != nil {
		log.Warn("session.extract.incomplete", "fields", len(md), "error", mdErr)
		return snap, mdErr
	}
	log.Info("session.extract.ok", "fields", len(md), "subject_id", md.SubjectID())
	return snap, nil
}

// Start runs upload, polling and the conditional write for the active
// session and blocks until the run reaches a terminal phase.
func (c *Controller) Start(ctx context.Context) (domain.Snapshot, error) {
	r, err := c.begin(ctx)
	if err != nil {
		return c.Snapshot(), err
	}
	return c.execute(r)
}

// StartAsync checks the same gates as Start and then runs the pipeline in
// the background, detached from ctx cancellation. Progress is visible
// through Snapshot.
func (c *Controller) StartAsync(ctx context.Context) (domain.Snapshot, error) {
	r, err := c.begin(context.WithoutCancel(ctx))
	if err != nil {
		return c.Snapshot(), err
	}
	snap := c.Snapshot()
	go func() {
		if _, err := c.execute(r); err != nil && !errors.Is(err, domain.ErrStaleSession) {
			c.logger.Debug("session.run.finished_with_error", "session_id", r.id, "error", err)
		}
	}()
	return snap, nil
}

type run struct {
	ctx    context.Context
	id     string
	file   domain.RecordingFile
	md     domain.SessionMetadata
	cred   domain.AnalysisCredential
	logger *slog.Logger
}

func (c *Controller) begin(parent context.Context) (*run, error) {
	c.mu.Lock()
	s := c.session
	switch {
	case !c.cred.Valid():
		c.mu.Unlock()
		return nil, domain.NewAuthError(domain.ErrLoginRequired, "session.start", 0, "")
	case c.runID != "" || s.Phase.Running():
		c.mu.Unlock()
		return nil, domain.ErrInProgress
	case s.File == nil:
		c.mu.Unlock()
		return nil, domain.NewValidationError("session.start", "Please select a .gz recording first.")
	case !domain.HasArchiveExtension(s.File.Name):
		c.mu.Unlock()
		return nil, domain.NewValidationError("session.start", "Please select a .gz recording.")
	}

	ctx, cancel := context.WithCancel(parent)
	c.runID = s.ID
	c.runCancel = cancel

	s.Phase = domain.PhaseUploading
	s.JobID = ""
	s.Score = nil
	s.WriteOutcome = nil
	s.Err = nil
	s.UploadFraction = 0
	s.PollElapsed = 0
	s.Progress = 0
	s.StartedAt = c.now()
	s.FinishedAt = time.Time{}
	s.UpdatedAt = s.StartedAt

	r := &run{
		ctx:    ctx,
		id:     s.ID,
		file:   *s.File,
		md:     s.Metadata.Clone(),
		cred:   c.cred,
		logger: c.logger.With("session_id", s.ID),
	}
	snap := s.Snapshot()
	c.mu.Unlock()

	c.notify(ctx, snap)
	r.logger.Info("session.upload.start", "file", r.file.Name, "bytes", r.file.Size())
	return r, nil
}

func (c *Controller) execute(r *run) (domain.Snapshot, error) {
	start := c.now()

	jobID, err := c.analysis.Upload(r.ctx, domain.UploadRequest{File: r.file, Metadata: r.md}, r.cred, func(fraction float64) {
		c.mutate(r.id, func(s *domain.UploadSession) {
			s.UploadFraction = fraction
			s.Progress = Progress(s.UploadFraction, s.PollElapsed)
		})
	})
	if err != nil {
		r.logger.Warn("session.upload.failed", "kind", domain.KindOf(err), "error", err)
		return c.finish(r, domain.PhaseFailed, err)
	}
	r.logger.Info("session.upload.ok", "job_id", jobID, "elapsed_ms", c.now().Sub(start).Milliseconds())

	if _, err := c.transition(r.ctx, r.id, func(s *domain.UploadSession) {
		s.JobID = jobID
		s.UploadFraction = 1
		s.Progress = Progress(s.UploadFraction, s.PollElapsed)
		s.Phase = domain.PhasePolling
	}); err != nil {
		return c.Snapshot(), err
	}

	query := domain.ScoreQuery{SubjectID: r.md.SubjectID(), JobID: jobID}
	result, err := c.poller.Poll(r.ctx, query, r.cred, func(elapsed int) {
		c.mutate(r.id, func(s *domain.UploadSession) {
			s.PollElapsed = elapsed
			s.Progress = Progress(s.UploadFraction, s.PollElapsed)
		})
		r.logger.Debug("session.poll.tick", "elapsed", elapsed)
	})
	if err != nil {
		r.logger.Warn("session.poll.failed", "kind", domain.KindOf(err), "error", err)
		return c.finish(r, domain.PhaseFailed, err)
	}

	var score *float64
	if result.Score != nil && !math.IsNaN(*result.Score) && !math.IsInf(*result.Score, 0) {
		v := *result.Score
		score = &v
	}
	r.logger.Info("session.poll.ready", "code", result.Code, "has_score", score != nil)

	if err := c.mutate(r.id, func(s *domain.UploadSession) {
		s.PollElapsed = maxPollUnits
		s.Progress = Progress(s.UploadFraction, s.PollElapsed)
		s.Score = score
	}); err != nil {
		return c.Snapshot(), err
	}

	outcome := c.write(r, score)
	if err := c.mutate(r.id, func(s *domain.UploadSession) {
		s.WriteOutcome = &outcome
	}); err != nil {
		return c.Snapshot(), err
	}

	return c.finish(r, domain.PhaseSucceeded, nil)
}

// write persists the score when an identity is available. Failures are
// folded into the outcome and never fail the run.
func (c *Controller) write(r *run, score *float64) domain.WriteOutcome {
	switch {
	case score == nil:
		r.logger.Info("session.write.skipped", "reason", domain.SkipScoreUnavailable)
		return domain.WriteOutcome{Status: domain.WriteSkipped, Reason: domain.SkipScoreUnavailable, At: c.now()}
	case c.records == nil || c.identity == nil || !c.identity.HasIdentity():
		r.logger.Info("session.write.skipped", "reason", domain.SkipNoIdentity)
		return domain.WriteOutcome{Status: domain.WriteSkipped, Reason: domain.SkipNoIdentity, At: c.now()}
	}

	if _, err := c.transition(r.ctx, r.id, func(s *domain.UploadSession) {
		s.Phase = domain.PhaseWriting
	}); err != nil {
		return domain.WriteOutcome{Status: domain.WriteSkipped, Reason: err.Error(), At: c.now()}
	}

	outcome, err := c.records.Write(r.ctx, *score, c.identity.Current())
	if err != nil {
		r.logger.Warn("session.write.failed", "status", domain.StatusCode(err), "error", err)
		if outcome.Status != domain.WriteFailed {
			outcome = domain.WriteOutcome{
				Status:     domain.WriteFailed,
				Reason:     err.Error(),
				StatusCode: domain.StatusCode(err),
				At:         c.now(),
			}
			var rerr *domain.RecordStoreError
			if errors.As(err, &rerr) {
				outcome.Outcome = rerr.Outcome
			}
		}
		return outcome
	}

	r.logger.Info("session.write.ok", "status", outcome.StatusCode, "resource_id", outcome.ResourceID, "performer", c.identity.IdentityRef())
	return outcome
}

func (c *Controller) finish(r *run, phase domain.Phase, cause error) (domain.Snapshot, error) {
	c.mu.Lock()
	if c.session.ID != r.id {
		c.mu.Unlock()
		r.logger.Info("session.run.discarded", "phase", phase)
		return c.Snapshot(), domain.ErrStaleSession
	}

	s := c.session
	s.Phase = phase
	s.Err = cause
	s.FinishedAt = c.now()
	s.UpdatedAt = s.FinishedAt
	if c.runCancel != nil {
		c.runCancel()
	}
	c.runID = ""
	c.runCancel = nil
	snap := s.Snapshot()
	summary := s.Summarize()
	c.mu.Unlock()

	// The run context is cancelled at this point.
	ctx := context.WithoutCancel(r.ctx)
	c.notify(ctx, snap)
	c.record(ctx, r.logger, summary)

	r.logger.Info("session.finished", "phase", phase, "progress", snap.Progress, "duration_ms", summary.Duration().Milliseconds())
	return snap, cause
}

func (c *Controller) record(ctx context.Context, logger *slog.Logger, summary domain.SessionSummary) {
	if c.history != nil {
		if err := c.history.Save(ctx, summary); err != nil {
			logger.Error("session.history.save_failed", "error", err)
		}
	}
	if c.metrics != nil {
		c.metrics.RecordRun(ctx, summary)
	}
}

// transition applies fn to the session with id and notifies observers.
// It returns ErrStaleSession when the session has been superseded.
func (c *Controller) transition(ctx context.Context, id string, fn func(*domain.UploadSession)) (domain.Snapshot, error) {
	c.mu.Lock()
	if c.session.ID != id {
		c.mu.Unlock()
		return domain.Snapshot{}, domain.ErrStaleSession
	}
	fn(c.session)
	c.session.UpdatedAt = c.now()
	snap := c.session.Snapshot()
	c.mu.Unlock()

	c.notify(ctx, snap)
	return snap, nil
}

// mutate is transition without observer fan-out, used for progress ticks.
func (c *Controller) mutate(id string, fn func(*domain.UploadSession)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.ID != id {
		return domain.ErrStaleSession
	}
	fn(c.session)
	c.session.UpdatedAt = c.now()
	return nil
}

func (c *Controller) cancelRunLocked() {
	if c.runCancel != nil {
		c.runCancel()
	}
	c.runID = ""
	c.runCancel = nil
}

func (c *Controller) notify(ctx context.Context, snap domain.Snapshot) {
	for _, o := range c.observers {
		o.OnTransition(ctx, snap)
	}
}

// LastRecord returns the most recently built clinical record.
func (c *Controller) LastRecord() (domain.ClinicalRecord, bool) {
	if c.records == nil {
		return domain.ClinicalRecord{}, false
	}
	return c.records.LastRecord()
}

// ExportRecord writes the last built record as indented JSON to store.
func (c *Controller) ExportRecord(ctx context.Context, store ports.FileStore, name string) error {
	record, ok := c.LastRecord()
	if !ok {
		return domain.ErrNoRecord
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	w, err := store.Write(ctx, name)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}

	c.logger.Info("session.record.exported", "name", name, "bytes", len(data))
	return nil
}
