package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"SeaIndexBridge/internal/domain"
	"SeaIndexBridge/internal/ports"
)

const defaultAPIBase = "https://api.telegram.org"

// Notifier sends a summary to a Telegram chat when a session run ends.
type Notifier struct {
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client
	logger   *slog.Logger
}

var _ ports.SessionObserver = (*Notifier)(nil)

// Option customizes the notifier.
type Option func(*Notifier)

// WithAPIBase points the notifier at another bot API host.
func WithAPIBase(base string) Option {
	return func(n *Notifier) {
		if base != "" {
			n.apiBase = strings.TrimRight(base, "/")
		}
	}
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(n *Notifier) {
		if c != nil {
			n.client = c
		}
	}
}

// WithLogger sets the logger for delivery failures.
func WithLogger(l *slog.Logger) Option {
	return func(n *Notifier) {
		if l != nil {
			n.logger = l
		}
	}
}

// NewNotifier registers bot token and chat identifier.
func NewNotifier(botToken, chatID string, opts ...Option) *Notifier {
	n := &Notifier{
		botToken: botToken,
		chatID:   chatID,
		apiBase:  defaultAPIBase,
		client:   &http.Client{Timeout: 5 * time.Second},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// OnTransition implements ports.SessionObserver. Only terminal phases of a
// started run produce a message.
func (n *Notifier) OnTransition(ctx context.Context, snap domain.Snapshot) {
	if snap.Phase != domain.PhaseSucceeded && snap.Phase != domain.PhaseFailed {
		return
	}
	if err := n.Send(ctx, FormatSummary(snap)); err != nil {
		n.logger.Warn("notify.telegram.failed", "session_id", snap.SessionID, "error", err)
	}
}

// Send posts a Markdown message to Telegram.
func (n *Notifier) Send(ctx context.Context, text string) error {
	if n.botToken == "" || n.chatID == "" || n.client == nil {
		return fmt.Errorf("telegram notifier misconfigured")
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.botToken)
	form := url.Values{}
	form.Set("chat_id", n.chatID)
	form.Set("text", text)
	form.Set("parse_mode", "Markdown")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram error: %s", resp.Status)
	}

	return nil
}

// FormatSummary renders a finished run as a short Markdown message.
func FormatSummary(snap domain.Snapshot) string {
	var b strings.Builder

	name := snap.DisplayName
	if name == "" {
		name = snap.FileName
	}
	if snap.Phase == domain.PhaseSucceeded {
		fmt.Fprintf(&b, "*SEA run succeeded*: %s\n", name)
	} else {
		fmt.Fprintf(&b, "*SEA run failed*: %s\n", name)
	}

	if subject := snap.Metadata[domain.KeySubjectID]; subject != "" {
		fmt.Fprintf(&b, "Subject: %s\n", subject)
	}
	if snap.JobID != "" {
		fmt.Fprintf(&b, "Job: %s\n", snap.JobID)
	}
	if snap.Score != nil {
		fmt.Fprintf(&b, "SEA Index: %g\n", *snap.Score)
	}
	if w := snap.WriteOutcome; w != nil {
		fmt.Fprintf(&b, "Record: %s", w.Status)
		if w.Reason != "" {
			fmt.Fprintf(&b, " (%s)", w.Reason)
		}
		b.WriteString("\n")
	}
	if snap.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", snap.Error)
	}

	return strings.TrimRight(b.String(), "\n")
}
