package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func sampleCount(t *testing.T, h prometheus.Histogram) uint64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, h.Write(&m))
	return m.GetHistogram().GetSampleCount()
}

func TestObserveTick_EmptyAuctionIncrementsSkipped(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveTick(context.Background(), 10*time.Millisecond, 0, false)

	require.Equal(t, float64(1), testutil.ToFloat64(m.tickSkipped))
	require.Equal(t, uint64(0), sampleCount(t, m.auctionSize))
}

func TestObserveTick_NonEmptyAuctionRecordsSize(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveTick(context.Background(), 10*time.Millisecond, 5, true)

	require.Equal(t, float64(0), testutil.ToFloat64(m.tickSkipped))
	require.Equal(t, uint64(1), sampleCount(t, m.auctionSize))
}

func TestObserveBan_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveBan()
	m.ObserveBan()

	require.Equal(t, float64(2), testutil.ToFloat64(m.banCount))
}

func TestObserveScores_IgnoresNonPositiveRunnerUp(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveScores(500, 0)

	require.Equal(t, uint64(1), sampleCount(t, m.winnerScore))
	require.Equal(t, uint64(0), sampleCount(t, m.runnerUpScore))
}
