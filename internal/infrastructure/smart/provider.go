// Package smart holds the clinical-record store launch context: which
// server to write to, with which token, for which patient and user.
package smart

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"SeaIndexBridge/internal/domain"
	"SeaIndexBridge/internal/ports"
)

// Launch errors reported through Identity.AuthError.
const (
	AuthExpired    = "authorization expired"
	LaunchInactive = "launch not active"
)

// Config is the static launch context.
type Config struct {
	ServerURL   string
	AccessToken string
	PatientID   string
	// FHIRUser is a reference such as "Practitioner/123".
	FHIRUser string
}

// StaticProvider serves an identity fixed at startup.
type StaticProvider struct {
	mu       sync.RWMutex
	identity domain.Identity
	client   *http.Client
	logger   *slog.Logger
}

var _ ports.IdentityProvider = (*StaticProvider)(nil)

// NewStaticProvider builds a provider from cfg. client and logger may be nil.
func NewStaticProvider(cfg Config, client *http.Client, logger *slog.Logger) *StaticProvider {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}

	id := domain.Identity{
		ServerURL:   strings.TrimRight(strings.TrimSpace(cfg.ServerURL), "/"),
		AccessToken: strings.TrimSpace(cfg.AccessToken),
		PatientID:   strings.TrimSpace(cfg.PatientID),
	}
	if ref := strings.TrimSpace(cfg.FHIRUser); ref != "" {
		id.UserRef = ref
		if i := strings.IndexByte(ref, '/'); i > 0 {
			id.UserResourceType = ref[:i]
		}
	}

	return &StaticProvider{identity: id, client: client, logger: logger}
}

// HasIdentity reports whether a record write can be attempted.
func (p *StaticProvider) HasIdentity() bool {
	return p.Current().Usable()
}

// IdentityRef returns the user reference, or "" when none was launched.
func (p *StaticProvider) IdentityRef() string {
	return p.Current().UserRef
}

// Current returns a copy of the identity.
func (p *StaticProvider) Current() domain.Identity {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.identity
}

// Verify reads the patient resource to confirm the token is still accepted.
// A rejected token or unreachable server marks the identity unusable.
func (p *StaticProvider) Verify(ctx context.Context) error {
	id := p.Current()
	if id.ServerURL == "" || id.PatientID == "" || id.AccessToken == "" {
		return nil
	}

	endpoint := fmt.Sprintf("%s/Patient/%s", id.ServerURL, url.PathEscape(id.PatientID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+id.AccessToken)
	req.Header.Set("Accept", "application/fhir+json")

	resp, err := p.client.Do(req)
	if err != nil {
		p.markAuthError(LaunchInactive)
		p.logger.Warn("identity.verify.failed", "error", err)
		return fmt.Errorf("verify identity: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	kind := domain.ErrAuthService
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		p.logger.Debug("identity.verify.ok")
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		kind = domain.ErrTokenRejected
		p.markAuthError(AuthExpired)
	default:
		p.markAuthError(LaunchInactive)
	}
	p.logger.Warn("identity.verify.rejected", "status", resp.StatusCode)
	return domain.NewAuthError(kind, "smart.Verify", resp.StatusCode, "patient read rejected")
}

func (p *StaticProvider) markAuthError(msg string) {
	p.mu.Lock()
	p.identity.AuthError = msg
	p.mu.Unlock()
}
