package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"SeaIndexBridge/internal/domain"
)

// maxBodyBytes caps how much of a response is buffered.
const maxBodyBytes = 1 << 20

func (c *Client) postJSON(ctx context.Context, endpoint string, payload any) ([]byte, int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	return c.do(req)
}

func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("do request: %w", err)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		_ = resp.Body.Close()
		return nil, resp.StatusCode, fmt.Errorf("read response body: %w", err)
	}

	if err := resp.Body.Close(); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("close response body: %w", err)
	}

	return body, resp.StatusCode, nil
}

func closeBody(body io.ReadCloser, logger *slog.Logger) {
	if err := body.Close(); err != nil {
		logger.Warn("analysis.http.response_body_close_error", "error", err)
	}
}

// classifyStatus maps a non-2xx upload or poll answer to the taxonomy:
// 400 is bad input, 401/403 an expired token, anything else a service fault.
func classifyStatus(op string, status int, body []byte) error {
	switch {
	case status/100 == 2:
		return nil
	case status == http.StatusBadRequest:
		return domain.NewUploadRejectedError(op, status, summarizeBody(body))
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.NewAuthError(domain.ErrTokenRejected, op, status, "")
	default:
		return domain.NewServiceError(op, status, summarizeBody(body), nil)
	}
}

func decodeObject(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if payload == nil {
		return nil, fmt.Errorf("decode response: not an object")
	}
	return payload, nil
}

// stringField reads a string or numeric field as text.
func stringField(payload map[string]any, key string) string {
	switch v := payload[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func numberField(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	default:
		return 0, false
	}
}
