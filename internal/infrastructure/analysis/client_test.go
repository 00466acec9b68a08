package analysis

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"SeaIndexBridge/internal/domain"
)

func newTestClient(srv *httptest.Server) *Client {
	return NewClient(WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
}

func TestLoginJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/login/" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %s", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"renew_token":true`) {
			t.Errorf("renew flag missing: %s", body)
		}
		_, _ = io.WriteString(w, `{"access_token":"tok-1"}`)
	}))
	defer srv.Close()

	cred, err := newTestClient(srv).Login(context.Background(), "alice", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if cred.Token() != "tok-1" {
		t.Fatalf("unexpected token %q", cred.Token())
	}
}

func TestLoginFormFallbackOnce(t *testing.T) {
	t.Parallel()

	for _, status := range []int{http.StatusBadRequest, http.StatusUnsupportedMediaType} {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n := atomic.AddInt32(&calls, 1)
			if n == 1 {
				w.WriteHeader(status)
				return
			}
			if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
				t.Errorf("expected form body, got %s", ct)
			}
			if err := r.ParseForm(); err != nil {
				t.Errorf("parse form: %v", err)
			}
			if r.PostForm.Get("renew_token") != "true" || r.PostForm.Get("username") != "alice" {
				t.Errorf("unexpected form %v", r.PostForm)
			}
			_, _ = io.WriteString(w, `{"token":"tok-2"}`)
		}))

		cred, err := newTestClient(srv).Login(context.Background(), "alice", "pw")
		srv.Close()
		if err != nil {
			t.Fatalf("status %d: login: %v", status, err)
		}
		if cred.Token() != "tok-2" {
			t.Fatalf("status %d: unexpected token %q", status, cred.Token())
		}
		if got := atomic.LoadInt32(&calls); got != 2 {
			t.Fatalf("status %d: expected 2 requests, got %d", status, got)
		}
	}
}

func TestLoginFallbackStillRejected(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Login(context.Background(), "alice", "bad")
	if !errors.Is(err, domain.ErrBadCredentials) {
		t.Fatalf("expected bad credentials, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected exactly 2 requests, got %d", got)
	}
}

func TestLoginClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusForbidden, "", domain.ErrBadCredentials},
		{http.StatusInternalServerError, "<html><title>502 Bad Gateway</title></html>", domain.ErrAuthService},
		{http.StatusOK, `{"detail":"ok"}`, domain.ErrAuthService},
	}

	for _, tc := range cases {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(tc.status)
			_, _ = io.WriteString(w, tc.body)
		}))
		_, err := newTestClient(srv).Login(context.Background(), "alice", "pw")
		srv.Close()

		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.want, err)
		}
		if got := atomic.LoadInt32(&calls); got != 1 {
			t.Fatalf("status %d: expected a single request, got %d", tc.status, got)
		}
	}
}

func TestUploadMissingSubjectMakesNoRequest(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	req := domain.UploadRequest{
		File:     domain.RecordingFile{Name: "rec.gz", Data: []byte("x")},
		Metadata: domain.SessionMetadata{domain.KeyAge: "34"},
	}
	_, err := newTestClient(srv).Upload(context.Background(), req, domain.NewAnalysisCredential("tok"), nil)
	if !errors.Is(err, domain.ErrMissingField) || !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected missing field error, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Fatalf("expected no request, got %d", got)
	}
}

func TestUploadMultipart(t *testing.T) {
	t.Parallel()

	data := []byte(strings.Repeat("eeg", 50000))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/eegdata/" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "tok-9" {
			t.Errorf("expected raw token, got %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		values := r.MultipartForm.Value
		expect := map[string]string{
			"medicalNumber":          "S001",
			"age":                    "34",
			"phq9_score":             "12",
			"drug":                   "none",
			"techRemarks":            "",
			"comprehensiveResult":    "",
			"signal_quality_score":   "0.9",
			"is_fine_signal_quality": "false",
		}
		for k, v := range expect {
			if len(values[k]) != 1 || values[k][0] != v {
				t.Errorf("field %s: expected %q, got %v", k, v, values[k])
			}
		}
		if _, ok := values["gender"]; ok {
			t.Errorf("absent gender must be omitted")
		}
		file, header, err := r.FormFile("document")
		if err != nil {
			t.Errorf("document: %v", err)
			return
		}
		defer file.Close()
		got, _ := io.ReadAll(file)
		if header.Filename != "rec.gz" || len(got) != len(data) {
			t.Errorf("unexpected document %s (%d bytes)", header.Filename, len(got))
		}
		_, _ = io.WriteString(w, `{"data_no": 4711}`)
	}))
	defer srv.Close()

	req := domain.UploadRequest{
		File: domain.RecordingFile{Name: "rec.gz", Data: data},
		Metadata: domain.SessionMetadata{
			domain.KeySubjectID:     "S001",
			domain.KeyAge:           "34",
			domain.KeyPHQ9:          "12",
			domain.KeyDrug:          "none",
			domain.KeySignalQuality: "0.9",
		},
	}

	var last float64
	var monotonic = true
	jobID, err := newTestClient(srv).Upload(context.Background(), req, domain.NewAnalysisCredential("tok-9"), func(f float64) {
		if f < last {
			monotonic = false
		}
		last = f
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if jobID != "4711" {
		t.Fatalf("unexpected job id %q", jobID)
	}
	if !monotonic || last != 1 {
		t.Fatalf("progress must rise to 1, last=%v monotonic=%v", last, monotonic)
	}
}

func TestUploadStatusClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		want   error
	}{
		{http.StatusBadRequest, domain.ErrValidation},
		{http.StatusUnauthorized, domain.ErrTokenRejected},
		{http.StatusForbidden, domain.ErrTokenRejected},
		{http.StatusInternalServerError, domain.ErrService},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.Copy(io.Discard, r.Body)
			w.WriteHeader(tc.status)
		}))
		req := domain.UploadRequest{
			File:     domain.RecordingFile{Name: "rec.gz", Data: []byte("abc")},
			Metadata: domain.SessionMetadata{domain.KeySubjectID: "S001"},
		}
		_, err := newTestClient(srv).Upload(context.Background(), req, domain.NewAnalysisCredential("tok"), nil)
		srv.Close()

		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.want, err)
		}
		if domain.StatusCode(err) != tc.status {
			t.Fatalf("status %d: status not carried: %v", tc.status, err)
		}
	}
}

func TestUploadWithoutJobID(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		_, _ = io.WriteString(w, `{"status":"queued"}`)
	}))
	defer srv.Close()

	req := domain.UploadRequest{
		File:     domain.RecordingFile{Name: "rec.gz", Data: []byte("abc")},
		Metadata: domain.SessionMetadata{domain.KeySubjectID: "S001"},
	}
	_, err := newTestClient(srv).Upload(context.Background(), req, domain.NewAnalysisCredential("tok"), nil)
	if !errors.Is(err, domain.ErrService) {
		t.Fatalf("expected service error, got %v", err)
	}
}

func TestPollScore(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.EscapedPath() {
		case "/seascore/S%2001/42":
			_, _ = io.WriteString(w, `{"code":0,"result":{"seaIndex":3.25}}`)
		case "/seascore/S002/43":
			_, _ = io.WriteString(w, `{"code":1}`)
		case "/seascore/S003/44":
			_, _ = io.WriteString(w, `{"code":0,"seaScore":"n/a","seaIndex":7}`)
		default:
			t.Errorf("unexpected path %s", r.URL.EscapedPath())
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := newTestClient(srv)
	cred := domain.NewAnalysisCredential("tok")

	res, err := client.PollScore(context.Background(), domain.ScoreQuery{SubjectID: "S 001", JobID: "42"}, cred)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if !res.Ready || res.Score == nil || *res.Score != 3.25 {
		t.Fatalf("unexpected result %+v", res)
	}

	res, err = client.PollScore(context.Background(), domain.ScoreQuery{SubjectID: "S002", JobID: "43"}, cred)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if res.Ready || res.Code != 1 {
		t.Fatalf("expected pending result, got %+v", res)
	}

	res, err = client.PollScore(context.Background(), domain.ScoreQuery{SubjectID: "S003", JobID: "44"}, cred)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if !res.Ready || res.Score != nil {
		t.Fatalf("non-numeric seaScore must leave the score empty, got %+v", res)
	}
}

func TestSummarizeBody(t *testing.T) {
	t.Parallel()

	html := `<html><head><title>504 Gateway Time-out</title></head><body><h1>504</h1></body></html>`
	if got := summarizeBody([]byte(html)); got != "504 Gateway Time-out" {
		t.Fatalf("unexpected html summary %q", got)
	}
	if got := summarizeBody([]byte(`{"detail":"file too large"}`)); got != "file too large" {
		t.Fatalf("unexpected json summary %q", got)
	}
	if got := summarizeBody([]byte(strings.Repeat("x", 500))); len(got) != maxSummaryRunes+3 {
		t.Fatalf("expected truncated summary, got %d chars", len(got))
	}
}
