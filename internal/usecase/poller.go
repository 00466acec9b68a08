package usecase

import (
	"context"

	"SeaIndexBridge/internal/domain"
	"SeaIndexBridge/internal/ports"
)

// Poll loop defaults: eight attempts, five units apart.
const (
	DefaultPollAttempts = 8
	DefaultPollUnit     = 5
)

// Poller asks for a score on a fixed interval until it is ready or the
// attempt budget runs out.
type Poller struct {
	service  ports.AnalysisService
	waiter   ports.Waiter
	attempts int
	unit     int
}

// NewPoller builds a poller. Non-positive attempts or unit use the defaults.
func NewPoller(service ports.AnalysisService, waiter ports.Waiter, attempts, unit int) *Poller {
	if attempts <= 0 {
		attempts = DefaultPollAttempts
	}
	if unit <= 0 {
		unit = DefaultPollUnit
	}
	return &Poller{service: service, waiter: waiter, attempts: attempts, unit: unit}
}

// Poll waits one interval before every request. onTick receives the elapsed
// units after each answer. Transport and status errors end the loop at once.
func (p *Poller) Poll(ctx context.Context, query domain.ScoreQuery, cred domain.AnalysisCredential, onTick func(elapsed int)) (domain.ScoreResult, error) {
	for i := 0; i < p.attempts; i++ {
		if err := p.waiter.Wait(ctx); err != nil {
			return domain.ScoreResult{}, err
		}

		result, err := p.service.PollScore(ctx, query, cred)
		if err != nil {
			return domain.ScoreResult{}, err
		}

		if onTick != nil {
			onTick((i + 1) * p.unit)
		}
		if result.Ready {
			return result, nil
		}
	}

	return domain.ScoreResult{}, &domain.PollTimeoutError{Attempts: p.attempts, Elapsed: p.attempts * p.unit}
}
