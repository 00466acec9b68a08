package telemetry

import (
	"context"

	"SeaIndexBridge/internal/domain"
)

// NoOp drops all metrics.
type NoOp struct{}

// NewNoOp creates a no-op recorder for when telemetry is off.
func NewNoOp() *NoOp {
	return &NoOp{}
}

func (NoOp) RecordRun(context.Context, domain.SessionSummary) {}

func (NoOp) Close(context.Context) error {
	return nil
}
