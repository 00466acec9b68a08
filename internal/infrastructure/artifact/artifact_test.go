package artifact

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/xuri/excelize/v2"

	"SeaIndexBridge/internal/domain"
)

type apiError struct{ code string }

func (e *apiError) Error() string                 { return e.code }
func (e *apiError) ErrorCode() string             { return e.code }
func (e *apiError) ErrorMessage() string          { return e.code }
func (e *apiError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

type mockS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMockS3() *mockS3 {
	return &mockS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *mockS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[*in.Key]
	if !ok {
		return nil, &apiError{code: "NoSuchKey"}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *mockS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[*in.Key] = data
	if in.ContentType != nil {
		m.types[*in.Key] = *in.ContentType
	}
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (m *mockS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[*in.Key]; !ok {
		return nil, &apiError{code: "NotFound"}
	}
	return &s3.HeadObjectOutput{}, nil
}

func writeAll(t *testing.T, w io.WriteCloser, data []byte) {
	t.Helper()
	if _, err := w.Write(data); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestLocalStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("new local: %v", err)
	}

	w, err := store.Write(ctx, "records/obs.json")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	writeAll(t, w, []byte(`{"resourceType":"Observation"}`))

	if ok, err := store.Exists(ctx, "records/obs.json"); err != nil || !ok {
		t.Fatalf("expected file to exist: %v", err)
	}

	r, err := store.Read(ctx, "records/obs.json")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	got, _ := io.ReadAll(r)
	_ = r.Close()
	if string(got) != `{"resourceType":"Observation"}` {
		t.Fatalf("unexpected content %s", got)
	}

	if err := store.Delete(ctx, "records/obs.json"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, "records/obs.json"); err != nil {
		t.Fatalf("second delete must be idempotent: %v", err)
	}
	if _, err := store.Write(ctx, "../outside.json"); err == nil {
		t.Fatalf("expected escape to be refused")
	}
}

func TestS3Store(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mock := newMockS3()
	store := NewS3(mock, "bucket", "/exports/")

	w, err := store.Write(ctx, "obs.json")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	writeAll(t, w, []byte("{}"))

	if _, ok := mock.objects["exports/obs.json"]; !ok {
		t.Fatalf("object not stored under prefix: %v", mock.objects)
	}
	if mock.types["exports/obs.json"] != "application/fhir+json" {
		t.Fatalf("unexpected content type %q", mock.types["exports/obs.json"])
	}

	if ok, err := store.Exists(ctx, "missing.json"); err != nil || ok {
		t.Fatalf("missing object reported as present: %v", err)
	}
	if _, err := store.Read(ctx, "missing.json"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not exist, got %v", err)
	}
}

func TestExportHistoryWorkbook(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("new local: %v", err)
	}

	score := 3.5
	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	rows := []domain.SessionSummary{
		{SessionID: "s-1", FileName: "a.gz", SubjectID: "S001", Phase: domain.PhaseSucceeded, Score: &score, WriteStatus: domain.WriteWritten, WriteCode: 201, StartedAt: start, FinishedAt: start.Add(30 * time.Second)},
		{SessionID: "s-2", FileName: "b.gz", Phase: domain.PhaseFailed, ErrorKind: "service"},
	}
	if err := ExportHistory(ctx, store, "history.xlsx", rows); err != nil {
		t.Fatalf("export: %v", err)
	}

	r, err := store.Read(ctx, "history.xlsx")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	defer r.Close()

	f, err := excelize.OpenReader(r)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	got, err := f.GetRows(HistorySheet)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(got))
	}
	if got[0][0] != "Session" || got[1][2] != "S001" || got[1][5] != "3.5" || got[2][8] != "service" {
		t.Fatalf("unexpected workbook content %v", got)
	}
}
