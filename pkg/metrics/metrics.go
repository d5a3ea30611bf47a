// Package metrics holds the Prometheus collectors the autopilot registers.
// The run loop reports into them through ObserveTick; ObserveScores and
// ObserveBan have no caller outside this package's tests, so the score
// histograms and the ban counter stay empty in the running service.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector the autopilot registers, constructed
// once at startup and passed by reference wherever it's needed, the same
// dependency-injection shape as the logger.
type Metrics struct {
	tickDuration  prometheus.Histogram
	auctionSize   prometheus.Histogram
	winnerScore   prometheus.Histogram
	runnerUpScore prometheus.Histogram
	banCount      prometheus.Counter
	tickSkipped   prometheus.Counter
}

// New constructs and registers every collector against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "autopilot",
			Name:      "tick_duration_seconds",
			Help:      "Duration of one leader tick, from lock check to metrics recording.",
			Buckets:   prometheus.DefBuckets,
		}),
		auctionSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "autopilot",
			Name:      "auction_orders",
			Help:      "Number of orders included in a built auction.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		}),
		winnerScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "autopilot",
			Name:      "winning_score",
			Help:      "Winning solver score for a completed competition round.",
			Buckets:   prometheus.ExponentialBuckets(1, 10, 10),
		}),
		runnerUpScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "autopilot",
			Name:      "runner_up_score",
			Help:      "Runner-up solver score for a completed competition round.",
			Buckets:   prometheus.ExponentialBuckets(1, 10, 10),
		}),
		banCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "autopilot",
			Name:      "driver_bans_total",
			Help:      "Number of times a driver has been banned for consecutive unsettled wins.",
		}),
		tickSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "autopilot",
			Name:      "ticks_skipped_total",
			Help:      "Number of ticks that produced no auction to run a competition on.",
		}),
	}
	reg.MustRegister(m.tickDuration, m.auctionSize, m.winnerScore, m.runnerUpScore, m.banCount, m.tickSkipped)
	return m
}

// ObserveTick implements runloop.MetricsRecorder.
func (m *Metrics) ObserveTick(_ context.Context, duration time.Duration, auctionSize int, hadWinner bool) {
	m.tickDuration.Observe(duration.Seconds())
	if auctionSize == 0 {
		m.tickSkipped.Inc()
		return
	}
	m.auctionSize.Observe(float64(auctionSize))
}

// ObserveScores records the winning/runner-up scores of a completed round.
func (m *Metrics) ObserveScores(winner float64, runnerUp float64) {
	m.winnerScore.Observe(winner)
	if runnerUp > 0 {
		m.runnerUpScore.Observe(runnerUp)
	}
}

// ObserveBan records a driver ban event.
func (m *Metrics) ObserveBan() { m.banCount.Inc() }
