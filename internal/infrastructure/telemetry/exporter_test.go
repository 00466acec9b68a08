package telemetry

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"SeaIndexBridge/internal/domain"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestRecordRun(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	e, err := newExporter(reader, nil)
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}
	defer e.Close(context.Background())

	start := time.Now()
	score := 4.2
	ctx := context.Background()
	e.RecordRun(ctx, domain.SessionSummary{Phase: domain.PhaseSucceeded, Score: &score, WriteStatus: domain.WriteWritten, StartedAt: start, FinishedAt: start.Add(3 * time.Second)})
	e.RecordRun(ctx, domain.SessionSummary{Phase: domain.PhaseFailed, ErrorKind: "poll_timeout", StartedAt: start, FinishedAt: start.Add(40 * time.Second)})

	got := collect(t, reader)

	runs, ok := got["sea_bridge_runs_total"].(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("runs counter missing: %v", got)
	}
	var total int64
	for _, dp := range runs.DataPoints {
		total += dp.Value
	}
	if total != 2 || len(runs.DataPoints) != 2 {
		t.Fatalf("unexpected runs %+v", runs.DataPoints)
	}

	scores, ok := got["sea_bridge_sea_index"].(metricdata.Histogram[float64])
	if !ok || len(scores.DataPoints) != 1 || scores.DataPoints[0].Count != 1 || scores.DataPoints[0].Sum != 4.2 {
		t.Fatalf("unexpected score histogram %+v", got["sea_bridge_sea_index"])
	}

	writes, ok := got["sea_bridge_record_writes_total"].(metricdata.Sum[int64])
	if !ok || len(writes.DataPoints) != 1 || writes.DataPoints[0].Value != 1 {
		t.Fatalf("unexpected writes %+v", got["sea_bridge_record_writes_total"])
	}
}

func TestNewExporterDisabled(t *testing.T) {
	t.Parallel()

	if _, err := NewExporter(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for disabled exporter")
	}
	if err := NewNoOp().Close(context.Background()); err != nil {
		t.Fatalf("noop close: %v", err)
	}
}
