package fhir

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"SeaIndexBridge/internal/domain"
	"SeaIndexBridge/internal/ports"
)

//go:embed observation.schema.json
var observationSchema []byte

const fhirJSON = "application/fhir+json"

// Writer posts Observations and keeps the last one it built.
type Writer struct {
	codes  Codes
	http   *http.Client
	schema *jsonschema.Schema
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	last *domain.ClinicalRecord
}

var _ ports.RecordWriter = (*Writer)(nil)

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithHTTPClient sets the client used for the POST.
func WithHTTPClient(client *http.Client) WriterOption {
	return func(w *Writer) { w.http = client }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) WriterOption {
	return func(w *Writer) { w.logger = logger }
}

// WithClock overrides the issuance clock.
func WithClock(now func() time.Time) WriterOption {
	return func(w *Writer) { w.now = now }
}

// NewWriter compiles the Observation schema and returns a writer.
func NewWriter(codes Codes, opts ...WriterOption) (*Writer, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("observation.schema.json", bytes.NewReader(observationSchema)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("observation.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	w := &Writer{
		codes:  codes.withDefaults(),
		http:   &http.Client{Timeout: 15 * time.Second},
		schema: schema,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Write builds the Observation for score, retains it, and posts it to the
// identity's FHIR server. A failed write returns an outcome with status
// failed together with a *domain.RecordStoreError.
func (w *Writer) Write(ctx context.Context, score float64, identity domain.Identity) (domain.WriteOutcome, error) {
	record := BuildObservation(w.codes, score, identity, w.now())
	w.keep(record)

	fail := func(rerr *domain.RecordStoreError) (domain.WriteOutcome, error) {
		w.logger.Warn("fhir.write.failed", "status", rerr.StatusCode, "error", rerr.Error())
		return domain.WriteOutcome{
			Status:     domain.WriteFailed,
			Reason:     rerr.Error(),
			StatusCode: rerr.StatusCode,
			Outcome:    rerr.Outcome,
			At:         w.now(),
		}, rerr
	}

	if identity.ServerURL == "" || identity.AccessToken == "" {
		return fail(&domain.RecordStoreError{Message: "FHIR authorization missing"})
	}

	body, err := json.Marshal(record)
	if err != nil {
		return fail(&domain.RecordStoreError{Message: "encode observation", Cause: err})
	}
	if err := w.validate(body); err != nil {
		return fail(&domain.RecordStoreError{Message: "observation failed schema validation", Cause: err})
	}

	endpoint := strings.TrimRight(identity.ServerURL, "/") + "/Observation"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fail(&domain.RecordStoreError{Message: "new request", Cause: err})
	}
	req.Header.Set("Authorization", "Bearer "+identity.AccessToken)
	req.Header.Set("Content-Type", fhirJSON)
	req.Header.Set("Accept", fhirJSON)

	start := time.Now()
	resp, err := w.http.Do(req)
	if err != nil {
		return fail(&domain.RecordStoreError{Message: "FHIR write failed", Cause: err})
	}
	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err := resp.Body.Close(); err != nil {
		w.logger.Warn("fhir.write.response_body_close_error", "error", err)
	}

	var payload map[string]any
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			payload = nil
		}
	}

	if resp.StatusCode/100 != 2 {
		return fail(&domain.RecordStoreError{
			StatusCode: resp.StatusCode,
			Outcome:    payload,
			Message:    "FHIR write failed",
		})
	}
	if readErr != nil {
		w.logger.Warn("fhir.write.read_error", "error", readErr)
	}

	outcome := domain.WriteOutcome{
		Status:     domain.WriteWritten,
		StatusCode: resp.StatusCode,
		Outcome:    payload,
		At:         w.now(),
	}
	if id, ok := payload["id"].(string); ok {
		outcome.ResourceID = id
	}

	w.logger.Info("fhir.write.ok",
		"status", resp.StatusCode,
		"resource_id", outcome.ResourceID,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return outcome, nil
}

// Validate checks a built record against the Observation schema.
func (w *Writer) Validate(record domain.ClinicalRecord) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode observation: %w", err)
	}
	return w.validate(body)
}

func (w *Writer) validate(body []byte) error {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return fmt.Errorf("unmarshal observation: %w", err)
	}
	if err := w.schema.Validate(v); err != nil {
		return fmt.Errorf("observation does not match schema: %w", err)
	}
	return nil
}

// LastRecord returns the most recently built record, if any.
func (w *Writer) LastRecord() (domain.ClinicalRecord, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.last == nil {
		return domain.ClinicalRecord{}, false
	}
	return *w.last, true
}

func (w *Writer) keep(record domain.ClinicalRecord) {
	w.mu.Lock()
	w.last = &record
	w.mu.Unlock()
}
