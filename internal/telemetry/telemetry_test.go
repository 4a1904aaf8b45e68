package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestNewTracerWithNoEndpointReturnsNoop(t *testing.T) {
	tracer, err := NewTracer(context.Background(), "")
	require.NoError(t, err)
	require.NotNil(t, tracer)

	ctx, span := tracer.StartCycle(context.Background(), "sess-1", "sess-1-1")
	require.NotNil(t, ctx)
	span.End()

	require.NoError(t, tracer.Shutdown(context.Background()))
}

func TestMetricsRecordCycleAndStage(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordCycle("completed", 120*time.Millisecond)
	m.RecordStage("recognize", 40*time.Millisecond)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)

	var sawCycles, sawStage bool
	for _, f := range families {
		switch f.GetName() {
		case "gradi_cycles_total":
			sawCycles = true
		case "gradi_stage_latency_seconds":
			sawStage = true
		}
	}
	require.True(t, sawCycles)
	require.True(t, sawStage)
}

func TestServeShutsDownOnContextCancel(t *testing.T) {
	reg := prometheus.NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- Serve(ctx, "127.0.0.1:0", reg) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after context cancellation")
	}
}
