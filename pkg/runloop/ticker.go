// Package runloop drives the single leader-gated control loop: acquire
// leadership, refresh the solvable-order cache, build an auction, run a
// competition, persist the outcome, record metrics.
package runloop

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/cowmesh/autopilot/pkg/competition"
	"github.com/cowmesh/autopilot/pkg/domain/auction"
	"github.com/cowmesh/autopilot/pkg/driverclient"
	"github.com/cowmesh/autopilot/pkg/shutdown"
)

// RefreshableCache is the subset of solvablecache.Cache the tick loop
// drives directly.
type RefreshableCache interface {
	Refresh(ctx context.Context) error
}

// LeaderLock is the subset of leaderlock.Lock the tick loop drives
// directly, so it can be exercised by a test double rather than a real
// Postgres session.
type LeaderLock interface {
	Tick(ctx context.Context) (bool, error)
	StepDown(ctx context.Context) error
}

// AuctionSource builds an auction from whatever the cache currently holds,
// returning nil with no error when there is nothing to build (an empty
// eligible order set just skips the tick).
type AuctionSource interface {
	Build(ctx context.Context) (*auction.Auction, error)
}

// CompetitionRunner runs one round given an auction and driver set.
type CompetitionRunner interface {
	Run(ctx context.Context, a auction.Auction, drivers []*driverclient.Driver) (*competition.Result, error)
}

// ResultRecorder persists the winner/reference score and any other
// outcome bookkeeping the tick needs to durably record.
type ResultRecorder interface {
	RecordResult(ctx context.Context, a auction.Auction, result *competition.Result) error
}

// MetricsRecorder observes one completed tick.
type MetricsRecorder interface {
	ObserveTick(ctx context.Context, duration time.Duration, auctionSize int, hadWinner bool)
}

// Ticker drives the leader-gated tick loop.
type Ticker struct {
	log      *zap.Logger
	lock     LeaderLock
	interval time.Duration

	cache     RefreshableCache
	auctions  AuctionSource
	runner    CompetitionRunner
	drivers   []*driverclient.Driver
	driverMap map[string]*driverclient.Driver
	recorder  ResultRecorder
	metrics   MetricsRecorder

	lastAuction atomic.Pointer[auction.Auction]
	lastResult  atomic.Pointer[competition.Result]
}

func New(
	log *zap.Logger,
	lock LeaderLock,
	interval time.Duration,
	cache RefreshableCache,
	auctions AuctionSource,
	runner CompetitionRunner,
	drivers []*driverclient.Driver,
	recorder ResultRecorder,
	metrics MetricsRecorder,
) *Ticker {
	driverMap := make(map[string]*driverclient.Driver, len(drivers))
	for _, d := range drivers {
		driverMap[d.Name] = d
	}
	return &Ticker{
		log: log, lock: lock, interval: interval,
		cache: cache, auctions: auctions, runner: runner, drivers: drivers, driverMap: driverMap,
		recorder: recorder, metrics: metrics,
	}
}

// Run loops until the shutdown controller signals, stepping down from
// leadership before returning if this replica was leader.
func (t *Ticker) Run(ctx context.Context, sd *shutdown.Controller) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sd.Done():
			return t.lock.StepDown(ctx)
		case <-ctx.Done():
			return t.lock.StepDown(ctx)
		case <-ticker.C:
			if sd.ShouldShutdown() {
				return t.lock.StepDown(ctx)
			}
			if err := t.tick(ctx); err != nil {
				t.log.Warn("tick failed", zap.Error(err))
			}
		}
	}
}

func (t *Ticker) tick(ctx context.Context) error {
	start := time.Now()

	isLeader, err := t.lock.Tick(ctx)
	if err != nil {
		return err
	}
	if !isLeader {
		return nil
	}

	if err := t.cache.Refresh(ctx); err != nil {
		return err
	}

	a, err := t.auctions.Build(ctx)
	if err != nil {
		return err
	}
	if a == nil {
		t.metrics.ObserveTick(ctx, time.Since(start), 0, false)
		return nil
	}

	result, err := t.runner.Run(ctx, *a, t.drivers)
	if err != nil {
		return err
	}

	if err := t.recorder.RecordResult(ctx, *a, result); err != nil {
		t.log.Warn("failed to record competition result", zap.Error(err))
	}

	for _, err := range competition.Publish(ctx, result, t.driverMap, int64(a.Id)) {
		t.log.Warn("failed to notify driver of round outcome", zap.Error(err))
	}

	t.lastAuction.Store(a)
	t.lastResult.Store(result)

	t.metrics.ObserveTick(ctx, time.Since(start), len(a.Orders), result.Winner != nil)
	return nil
}

// Current implements obshttp.CurrentAuctionSource.
func (t *Ticker) Current() (auction.Auction, bool) {
	a := t.lastAuction.Load()
	if a == nil {
		return auction.Auction{}, false
	}
	return *a, true
}

// LastResult implements obshttp.LastResultSource.
func (t *Ticker) LastResult() (winner string, score string, ok bool) {
	r := t.lastResult.Load()
	if r == nil || r.Winner == nil {
		return "", "", false
	}
	return string(r.Winner.Driver), r.Winner.Score.String(), true
}
