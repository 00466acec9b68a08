// Package analysis is the client for the remote SEA analysis service:
// login, recording upload and score polling.
package analysis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"SeaIndexBridge/internal/domain"
	"SeaIndexBridge/internal/ports"
)

const (
	// DefaultBaseURL is the production analysis service.
	DefaultBaseURL = "https://hncseasystem.com/sea/v2"

	// DefaultTimeout bounds login and poll requests.
	DefaultTimeout = 30 * time.Second

	loginPath  = "/login/"
	uploadPath = "/eegdata/"
	scorePath  = "/seascore/"
)

// Client talks to the analysis service.
type Client struct {
	loginURL  string
	uploadURL string
	scoreURL  string
	http      *http.Client
	upload    *http.Client
	logger    *slog.Logger
}

var _ ports.AnalysisService = (*Client)(nil)

type clientConfig struct {
	baseURL    string
	loginURL   string
	uploadURL  string
	scoreURL   string
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
}

// Option configures the client.
type Option func(*clientConfig)

// WithBaseURL sets the service root used for all three endpoints.
func WithBaseURL(u string) Option {
	return func(c *clientConfig) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithEndpoints overrides individual endpoint URLs. Empty values keep the
// URL derived from the base.
func WithEndpoints(login, upload, score string) Option {
	return func(c *clientConfig) {
		c.loginURL = login
		c.uploadURL = upload
		c.scoreURL = score
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *clientConfig) { c.httpClient = client }
}

// WithTimeout sets the timeout for login and poll requests. Uploads are
// bounded by the caller's context only.
func WithTimeout(timeout time.Duration) Option {
	return func(c *clientConfig) { c.timeout = timeout }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *clientConfig) { c.logger = logger }
}

// NewClient creates an analysis client.
func NewClient(opts ...Option) *Client {
	cfg := &clientConfig{
		baseURL: DefaultBaseURL,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	short := cfg.httpClient
	long := cfg.httpClient
	if short == nil {
		short = &http.Client{Timeout: cfg.timeout}
		long = &http.Client{}
	}

	return &Client{
		loginURL:  pick(cfg.loginURL, cfg.baseURL+loginPath),
		uploadURL: pick(cfg.uploadURL, cfg.baseURL+uploadPath),
		scoreURL:  pick(cfg.scoreURL, cfg.baseURL+scorePath),
		http:      short,
		upload:    long,
		logger:    logger,
	}
}

func pick(override, fallback string) string {
	if override != "" {
		return override
	}
	return fallback
}

// Login exchanges credentials for a session token. A 400 or 415 answer to
// the JSON body is retried once with a form body.
func (c *Client) Login(ctx context.Context, username, password string) (domain.AnalysisCredential, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return domain.AnalysisCredential{}, domain.NewValidationError("analysis.login", "username and password are required")
	}

	start := time.Now()
	body, status, err := c.postJSON(ctx, c.loginURL, map[string]any{
		"username":    username,
		"password":    password,
		"renew_token": true,
	})
	if err != nil {
		return domain.AnalysisCredential{}, domain.NewAuthError(domain.ErrAuthService, "analysis.login", 0, err.Error())
	}

	if status == http.StatusBadRequest || status == http.StatusUnsupportedMediaType {
		c.logger.Info("analysis.login.form_fallback", "status", status)
		form := url.Values{}
		form.Set("username", username)
		form.Set("password", password)
		form.Set("renew_token", "true")
		body, status, err = c.postForm(ctx, c.loginURL, form)
		if err != nil {
			return domain.AnalysisCredential{}, domain.NewAuthError(domain.ErrAuthService, "analysis.login", 0, err.Error())
		}
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		c.logger.Warn("analysis.login.rejected", "status", status, "elapsed_ms", time.Since(start).Milliseconds())
		return domain.AnalysisCredential{}, domain.NewAuthError(domain.ErrBadCredentials, "analysis.login", status, "")
	case status/100 != 2:
		c.logger.Warn("analysis.login.failed", "status", status, "elapsed_ms", time.Since(start).Milliseconds())
		return domain.AnalysisCredential{}, domain.NewAuthError(domain.ErrAuthService, "analysis.login", status, summarizeBody(body))
	}

	payload, err := decodeObject(body)
	if err != nil {
		return domain.AnalysisCredential{}, domain.NewAuthError(domain.ErrAuthService, "analysis.login", status, "unreadable login response")
	}
	token := stringField(payload, "token")
	if token == "" {
		token = stringField(payload, "access_token")
	}
	if token == "" {
		return domain.AnalysisCredential{}, domain.NewAuthError(domain.ErrAuthService, "analysis.login", status, "login response carried no token")
	}

	c.logger.Info("analysis.login.ok", "elapsed_ms", time.Since(start).Milliseconds())
	return domain.NewAnalysisCredential(token), nil
}

// Upload streams the recording and its metadata as multipart form data and
// returns the job identifier. onProgress receives the fraction of the
// recording bytes sent.
func (c *Client) Upload(ctx context.Context, req domain.UploadRequest, cred domain.AnalysisCredential, onProgress ports.ProgressFunc) (string, error) {
	subject := req.Metadata.SubjectID()
	if subject == "" {
		return "", domain.NewMissingFieldError("analysis.upload", domain.KeySubjectID)
	}
	if !cred.Valid() {
		return "", domain.NewAuthError(domain.ErrLoginRequired, "analysis.upload", 0, "")
	}
	if onProgress == nil {
		onProgress = func(float64) {}
	}

	start := time.Now()
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	errCh := make(chan error, 1)
	go func() {
		err := writeUploadForm(writer, req, onProgress)
		if err == nil {
			err = writer.Close()
		}
		pw.CloseWithError(err)
		errCh <- err
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL, pr)
	if err != nil {
		pr.Close()
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Authorization", cred.Token())

	resp, err := c.upload.Do(httpReq)
	if err != nil {
		pr.Close()
		c.logger.Error("analysis.upload.send_error", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return "", domain.NewServiceError("analysis.upload", 0, "upload request failed", err)
	}
	body, readErr := io.ReadAll(resp.Body)
	closeBody(resp.Body, c.logger)
	pr.Close()
	writeErr := <-errCh

	c.logger.Info("analysis.upload.response",
		"status", resp.StatusCode,
		"bytes", req.File.Size(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if err := classifyStatus("analysis.upload", resp.StatusCode, body); err != nil {
		return "", err
	}
	if writeErr != nil && !errors.Is(writeErr, io.ErrClosedPipe) {
		return "", domain.NewServiceError("analysis.upload", resp.StatusCode, "write multipart body", writeErr)
	}
	if readErr != nil {
		return "", domain.NewServiceError("analysis.upload", resp.StatusCode, "read response body", readErr)
	}

	payload, err := decodeObject(body)
	if err != nil {
		return "", domain.NewServiceError("analysis.upload", resp.StatusCode, "unreadable upload response", err)
	}
	jobID := stringField(payload, "data_no")
	if jobID == "" {
		return "", domain.NewServiceError("analysis.upload", resp.StatusCode, "upload response carried no data_no", nil)
	}

	onProgress(1)
	return jobID, nil
}

// PollScore asks once whether the score for a job is ready.
func (c *Client) PollScore(ctx context.Context, query domain.ScoreQuery, cred domain.AnalysisCredential) (domain.ScoreResult, error) {
	if !cred.Valid() {
		return domain.ScoreResult{}, domain.NewAuthError(domain.ErrLoginRequired, "analysis.poll", 0, "")
	}

	endpoint := c.scoreURL + url.PathEscape(query.SubjectID) + "/" + url.PathEscape(query.JobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.ScoreResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", cred.Token())
	req.Header.Set("Accept", "application/json")

	body, status, err := c.do(req)
	if err != nil {
		return domain.ScoreResult{}, domain.NewServiceError("analysis.poll", 0, "score request failed", err)
	}
	if err := classifyStatus("analysis.poll", status, body); err != nil {
		return domain.ScoreResult{}, err
	}

	payload, err := decodeObject(body)
	if err != nil {
		return domain.ScoreResult{}, domain.NewServiceError("analysis.poll", status, "unreadable score response", err)
	}
	return parseScore(payload), nil
}

func writeUploadForm(w *multipart.Writer, req domain.UploadRequest, onProgress ports.ProgressFunc) error {
	md := req.Metadata
	if err := w.WriteField("medicalNumber", md.SubjectID()); err != nil {
		return fmt.Errorf("write field medicalNumber: %w", err)
	}

	part, err := w.CreateFormFile("document", req.File.Name)
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	counter := &progressWriter{total: req.File.Size(), onProgress: onProgress}
	if _, err := io.Copy(io.MultiWriter(part, counter), bytes.NewReader(req.File.Data)); err != nil {
		return fmt.Errorf("copy file: %w", err)
	}

	fields := make([][2]string, 0, 8)
	if age, ok := md.Int(domain.KeyAge); ok {
		fields = append(fields, [2]string{"age", strconv.Itoa(age)})
	}
	if md.Has(domain.KeyGender) {
		fields = append(fields, [2]string{"gender", md[domain.KeyGender]})
	}
	if phq, ok := md.Int(domain.KeyPHQ9); ok {
		fields = append(fields, [2]string{"phq9_score", strconv.Itoa(phq)})
	}
	if md.Has(domain.KeyDrug) {
		fields = append(fields, [2]string{"drug", md[domain.KeyDrug]})
	}
	fields = append(fields,
		[2]string{"techRemarks", ""},
		[2]string{"comprehensiveResult", ""},
	)
	if q, ok := md.Float(domain.KeySignalQuality); ok {
		fields = append(fields, [2]string{"signal_quality_score", strconv.FormatFloat(q, 'f', -1, 64)})
	}
	fields = append(fields, [2]string{"is_fine_signal_quality", "false"})

	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return fmt.Errorf("write field %s: %w", f[0], err)
		}
	}
	return nil
}

type progressWriter struct {
	total      int64
	sent       int64
	onProgress ports.ProgressFunc
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.sent += int64(len(b))
	if p.total > 0 {
		p.onProgress(float64(p.sent) / float64(p.total))
	}
	return len(b), nil
}

func parseScore(payload map[string]any) domain.ScoreResult {
	result := domain.ScoreResult{Code: -1, Raw: payload}
	if code, ok := numberField(payload["code"]); ok {
		result.Code = int(code)
		result.Ready = result.Code == domain.ReadyCode
	}

	var raw any
	for _, key := range []string{"seaScore", "seaIndex"} {
		if v, ok := payload[key]; ok && v != nil {
			raw = v
			break
		}
	}
	if raw == nil {
		if nested, ok := payload["result"].(map[string]any); ok {
			raw = nested["seaIndex"]
		}
	}
	if score, ok := numberField(raw); ok {
		result.Score = &score
	}
	return result
}
