package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"SeaIndexBridge/internal/domain"
	"SeaIndexBridge/internal/ports"
)

var writableIdentity = domain.Identity{
	ServerURL:   "https://fhir.example.org",
	AccessToken: "at",
	PatientID:   "p1",
}

type harness struct {
	ctrl     *Controller
	analysis *fakeAnalysis
	records  *fakeRecords
	history  *memHistory
	phases   *phaseRecorder
	waiter   ports.Waiter
}

func newHarness(t *testing.T, analysis *fakeAnalysis, identity domain.Identity, waiter ports.Waiter) *harness {
	t.Helper()
	if waiter == nil {
		waiter = &countingWaiter{}
	}
	h := &harness{
		analysis: analysis,
		records:  &fakeRecords{},
		history:  &memHistory{},
		phases:   &phaseRecorder{},
		waiter:   waiter,
	}
	h.ctrl = NewController(ControllerDeps{
		Analysis:  analysis,
		Records:   h.records,
		Identity:  fakeIdentity{identity: identity},
		History:   h.history,
		Observers: []ports.SessionObserver{h.phases},
		Waiter:    waiter,
	})
	return h
}

func (h *harness) ready(t *testing.T) {
	t.Helper()
	if err := h.ctrl.Login(context.Background(), "alice", "pw"); err != nil {
		t.Fatalf("login: %v", err)
	}
	snap, err := h.ctrl.SelectFile(context.Background(), "rec.gz", gzipText(t, goodTable))
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if snap.Phase != domain.PhaseReady {
		t.Fatalf("expected ready, got %s", snap.Phase)
	}
}

func TestSelectFileRejectsWrongExtension(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeAnalysis{}, domain.Identity{}, nil)
	for _, name := range []string{"rec.csv", "rec.gz.txt", "rec", ""} {
		snap, err := h.ctrl.SelectFile(context.Background(), name, gzipText(t, goodTable))
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("%q: expected validation error, got %v", name, err)
		}
		if snap.Phase != domain.PhaseRejected || snap.FileName != "" || snap.Metadata != nil {
			t.Fatalf("%q: unexpected snapshot %+v", name, snap)
		}
	}

	_ = h.ctrl.Login(context.Background(), "alice", "pw")
	if _, err := h.ctrl.Start(context.Background()); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("start without file must fail validation, got %v", err)
	}
	if uploads, _ := h.analysis.counts(); uploads != 0 {
		t.Fatalf("no upload expected, got %d", uploads)
	}
}

func TestSelectFileExtractsMetadata(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeAnalysis{}, domain.Identity{}, nil)
	snap, err := h.ctrl.SelectFile(context.Background(), "REC.GZ", gzipText(t, goodTable))
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if snap.Phase != domain.PhaseReady || snap.Metadata["SubjectID"] != "S001" || snap.DisplayName != "REC.csv" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	want := []domain.Phase{domain.PhaseValidating, domain.PhaseDecoding, domain.PhaseExtractingMetadata, domain.PhaseReady}
	got := h.phases.seen()
	if len(got) != len(want) {
		t.Fatalf("expected phases %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected phases %v, got %v", want, got)
		}
	}
}

func TestSelectFileMetadataFailures(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeAnalysis{}, domain.Identity{}, nil)

	snap, err := h.ctrl.SelectFile(context.Background(), "rec.gz", []byte("not gzip"))
	if !errors.Is(err, domain.ErrDecode) || snap.Phase != domain.PhaseMetadataFailed {
		t.Fatalf("expected decode failure, got %v / %s", err, snap.Phase)
	}
	if snap.FileName != "rec.gz" {
		t.Fatalf("file must be kept after a decode failure")
	}

	snap, err = h.ctrl.SelectFile(context.Background(), "rec.gz", gzipText(t, "1,2,3\n4,5,6\n"))
	if !errors.Is(err, domain.ErrValidation) || snap.Phase != domain.PhaseMetadataFailed || len(snap.Metadata) != 0 {
		t.Fatalf("expected empty metadata failure, got %v / %+v", err, snap)
	}

	snap, err = h.ctrl.SelectFile(context.Background(), "rec.gz", gzipText(t, "Age: 40\nGender: F\n"))
	if !errors.Is(err, domain.ErrMissingField) || snap.Phase != domain.PhaseMetadataFailed {
		t.Fatalf("expected missing subject, got %v / %s", err, snap.Phase)
	}
	if snap.Metadata["Age"] != "40" {
		t.Fatalf("partial metadata must be kept, got %+v", snap.Metadata)
	}

	_ = h.ctrl.Login(context.Background(), "alice", "pw")
	snap, err = h.ctrl.Start(context.Background())
	if !errors.Is(err, domain.ErrMissingField) || snap.Phase != domain.PhaseFailed {
		t.Fatalf("upload without subject must fail, got %v / %s", err, snap.Phase)
	}
}

func TestSelectFileRejectsTruncatedArchive(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	b.WriteString(goodTable)
	for i := 0; i < 50000; i++ {
		fmt.Fprintf(&b, "%d,0.%d\n", i, i%97)
	}
	data := gzipText(t, b.String())

	h := newHarness(t, &fakeAnalysis{}, domain.Identity{}, nil)
	snap, err := h.ctrl.SelectFile(context.Background(), "rec.gz", data[:len(data)/2])
	if !errors.Is(err, domain.ErrDecode) {
		t.Fatalf("expected decode error, got %v", err)
	}
	if snap.Phase != domain.PhaseMetadataFailed {
		t.Fatalf("expected metadata failure, got %s", snap.Phase)
	}
}

func TestStartRequiresLogin(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeAnalysis{}, domain.Identity{}, nil)
	if _, err := h.ctrl.SelectFile(context.Background(), "rec.gz", gzipText(t, goodTable)); err != nil {
		t.Fatalf("select: %v", err)
	}
	if _, err := h.ctrl.Start(context.Background()); !errors.Is(err, domain.ErrLoginRequired) {
		t.Fatalf("expected login required, got %v", err)
	}

	_ = h.ctrl.Login(context.Background(), "alice", "pw")
	h.ctrl.Logout()
	if h.ctrl.LoggedIn() {
		t.Fatalf("logout must drop the credential")
	}
	if _, err := h.ctrl.Start(context.Background()); !errors.Is(err, domain.ErrLoginRequired) {
		t.Fatalf("expected login required after logout, got %v", err)
	}
}

func TestRunSucceedsAndWrites(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeAnalysis{results: []domain.ScoreResult{pending(), ready(4.2)}}, writableIdentity, nil)
	h.ready(t)

	snap, err := h.ctrl.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if snap.Phase != domain.PhaseSucceeded || snap.Progress != 100 {
		t.Fatalf("unexpected terminal snapshot %+v", snap)
	}
	if snap.Score == nil || *snap.Score != 4.2 || snap.JobID != "job-1" {
		t.Fatalf("unexpected result %+v", snap)
	}
	if snap.WriteOutcome == nil || snap.WriteOutcome.Status != domain.WriteWritten {
		t.Fatalf("expected written outcome, got %+v", snap.WriteOutcome)
	}

	seen := h.phases.seen()
	tail := seen[len(seen)-4:]
	want := []domain.Phase{domain.PhaseUploading, domain.PhasePolling, domain.PhaseWriting, domain.PhaseSucceeded}
	for i := range want {
		if tail[i] != want[i] {
			t.Fatalf("expected phases ending in %v, got %v", want, seen)
		}
	}

	rows, _ := h.history.List(context.Background(), 10)
	if len(rows) != 1 || rows[0].Phase != domain.PhaseSucceeded || rows[0].SubjectID != "S001" || rows[0].WriteStatus != domain.WriteWritten {
		t.Fatalf("unexpected history %+v", rows)
	}

	if _, ok := h.ctrl.LastRecord(); !ok {
		t.Fatalf("record must be available for export")
	}
}

func TestRunWithoutIdentitySkipsWrite(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeAnalysis{results: []domain.ScoreResult{ready(1.5)}}, domain.Identity{PatientID: "p1"}, nil)
	h.ready(t)

	snap, err := h.ctrl.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if snap.Phase != domain.PhaseSucceeded {
		t.Fatalf("expected succeeded, got %s", snap.Phase)
	}
	if snap.WriteOutcome == nil || snap.WriteOutcome.Status != domain.WriteSkipped || snap.WriteOutcome.Reason != domain.SkipNoIdentity {
		t.Fatalf("expected skipped write, got %+v", snap.WriteOutcome)
	}
	if h.records.writes != 0 {
		t.Fatalf("no write expected")
	}
}

func TestRunWithoutScoreSkipsWrite(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeAnalysis{results: []domain.ScoreResult{{Code: 0, Ready: true}}}, writableIdentity, nil)
	h.ready(t)

	snap, err := h.ctrl.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if snap.Phase != domain.PhaseSucceeded || snap.Score != nil {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.WriteOutcome.Reason != domain.SkipScoreUnavailable {
		t.Fatalf("expected score unavailable skip, got %+v", snap.WriteOutcome)
	}
}

func TestRunRecordRejectionStillSucceeds(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeAnalysis{results: []domain.ScoreResult{ready(2)}}, writableIdentity, nil)
	h.records.status = 422
	h.records.outcome = map[string]any{"resourceType": "OperationOutcome"}
	h.ready(t)

	snap, err := h.ctrl.Start(context.Background())
	if err != nil {
		t.Fatalf("a write failure must not fail the run: %v", err)
	}
	if snap.Phase != domain.PhaseSucceeded {
		t.Fatalf("expected succeeded, got %s", snap.Phase)
	}
	w := snap.WriteOutcome
	if w == nil || w.Status != domain.WriteFailed || w.StatusCode != 422 || w.Outcome["resourceType"] != "OperationOutcome" {
		t.Fatalf("unexpected write outcome %+v", w)
	}
}

func TestRunPollTimeout(t *testing.T) {
	t.Parallel()

	waiter := &countingWaiter{}
	h := newHarness(t, &fakeAnalysis{results: []domain.ScoreResult{pending()}}, writableIdentity, waiter)
	h.ready(t)

	snap, err := h.ctrl.Start(context.Background())
	var timeout *domain.PollTimeoutError
	if !errors.As(err, &timeout) || !errors.Is(err, domain.ErrPollTimeout) {
		t.Fatalf("expected poll timeout, got %v", err)
	}
	if snap.Phase != domain.PhaseFailed || snap.ErrorKind != "poll_timeout" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if _, polls := h.analysis.counts(); polls != 8 {
		t.Fatalf("expected 8 polls, got %d", polls)
	}
	if waiter.waits != 8 {
		t.Fatalf("expected 8 waits, got %d", waiter.waits)
	}
	if snap.Progress != Progress(1, 40) {
		t.Fatalf("unexpected progress %d", snap.Progress)
	}
}

func TestRunUploadFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeAnalysis{uploadErr: domain.NewAuthError(domain.ErrTokenRejected, "upload", 401, "")}, writableIdentity, nil)
	h.ready(t)

	snap, err := h.ctrl.Start(context.Background())
	if !errors.Is(err, domain.ErrTokenRejected) || snap.Phase != domain.PhaseFailed {
		t.Fatalf("expected failed run, got %v / %s", err, snap.Phase)
	}
	if snap.Error != "Authorization expired, please log in again." {
		t.Fatalf("unexpected user message %q", snap.Error)
	}
	if _, polls := h.analysis.counts(); polls != 0 {
		t.Fatalf("no poll after a failed upload")
	}
}

func TestRerunAfterTerminal(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeAnalysis{results: []domain.ScoreResult{ready(3)}}, domain.Identity{}, nil)
	h.ready(t)

	first, err := h.ctrl.Start(context.Background())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := h.ctrl.Start(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if first.SessionID != second.SessionID || second.Phase != domain.PhaseSucceeded {
		t.Fatalf("rerun must reuse the session, got %+v", second)
	}
	if uploads, _ := h.analysis.counts(); uploads != 2 {
		t.Fatalf("expected 2 uploads, got %d", uploads)
	}
}

func TestStaleRunIsDiscarded(t *testing.T) {
	t.Parallel()

	waiter := newBlockingWaiter()
	h := newHarness(t, &fakeAnalysis{results: []domain.ScoreResult{ready(9)}}, writableIdentity, waiter)
	h.ready(t)

	done := make(chan error, 1)
	go func() {
		_, err := h.ctrl.Start(context.Background())
		done <- err
	}()

	<-waiter.entered
	if _, err := h.ctrl.Start(context.Background()); !errors.Is(err, domain.ErrInProgress) {
		t.Fatalf("expected in-progress rejection, got %v", err)
	}

	next, err := h.ctrl.SelectFile(context.Background(), "next.gz", gzipText(t, "SubjectID: S002\n"))
	if err != nil {
		t.Fatalf("select: %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, domain.ErrStaleSession) {
			t.Fatalf("expected stale session, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("superseded run did not stop")
	}

	snap := h.ctrl.Snapshot()
	if snap.SessionID != next.SessionID || snap.Phase != domain.PhaseReady || snap.Score != nil || snap.JobID != "" {
		t.Fatalf("stale results leaked into the new session: %+v", snap)
	}
	if h.records.writes != 0 {
		t.Fatalf("stale run must not write")
	}
	rows, _ := h.history.List(context.Background(), 10)
	if len(rows) != 0 {
		t.Fatalf("stale run must not be recorded, got %+v", rows)
	}
}

func TestReset(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeAnalysis{}, domain.Identity{}, nil)
	h.ready(t)
	before := h.ctrl.Snapshot()

	snap := h.ctrl.Reset(context.Background())
	if snap.Phase != domain.PhaseIdle || snap.SessionID == before.SessionID || snap.FileName != "" {
		t.Fatalf("unexpected reset snapshot %+v", snap)
	}
}

func TestExportRecord(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeAnalysis{results: []domain.ScoreResult{ready(5)}}, writableIdentity, nil)
	store := &memStore{}

	if err := h.ctrl.ExportRecord(context.Background(), store, "out.json"); !errors.Is(err, domain.ErrNoRecord) {
		t.Fatalf("expected no record, got %v", err)
	}

	h.ready(t)
	if _, err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.ctrl.ExportRecord(context.Background(), store, "out.json"); err != nil {
		t.Fatalf("export: %v", err)
	}
	if ok, _ := store.Exists(context.Background(), "out.json"); !ok {
		t.Fatalf("export not written")
	}
}
