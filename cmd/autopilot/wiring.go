package main

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/cowmesh/autopilot/pkg/auctionbuilder"
	"github.com/cowmesh/autopilot/pkg/chainevents"
	"github.com/cowmesh/autopilot/pkg/chainrpc"
	"github.com/cowmesh/autopilot/pkg/domain/auction"
	"github.com/cowmesh/autopilot/pkg/domain/eth"
	"github.com/cowmesh/autopilot/pkg/domain/events"
	"github.com/cowmesh/autopilot/pkg/domain/order"
	"github.com/cowmesh/autopilot/pkg/indexer"
	"github.com/cowmesh/autopilot/pkg/oracles"
	persistsql "github.com/cowmesh/autopilot/pkg/persistence/sqlstore"
	"github.com/cowmesh/autopilot/pkg/persistence/walcache"
	ordersql "github.com/cowmesh/autopilot/pkg/orderstore/sqlstore"
	"github.com/cowmesh/autopilot/pkg/shutdown"
	"github.com/cowmesh/autopilot/pkg/solvablecache"
)

// quoteSourceAdapter implements solvablecache.QuoteSource over
// orderstore's quote table, whose Get returns the whole quote row rather
// than the narrower (time, ok) pair the cache asks for.
type quoteSourceAdapter struct {
	table *ordersql.QuoteTable
}

func (a quoteSourceAdapter) QuotedAt(ctx context.Context, uid order.Uid) (time.Time, bool, error) {
	q, ok, err := a.table.Get(ctx, uid)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	return q.QuotedAt, true, nil
}

// archivalSink fans a built auction out to both its durable Postgres record
// and the local Pebble mirror in pkg/persistence/walcache.
type archivalSink struct {
	sql *persistsql.AuctionTable
	wal *walcache.Cache
}

func (s archivalSink) Archive(ctx context.Context, a auction.Auction) error {
	sqlErr := s.sql.Archive(ctx, a)
	walErr := s.wal.Save(a)
	return errors.Join(sqlErr, walErr)
}

// settlementBlockSource reports how far the settlement event stream has
// been indexed, used to stamp a freshly built auction's
// LatestSettlementBlock field.
type settlementBlockSource interface {
	LastEventBlock(ctx context.Context) (uint64, error)
}

// auctionAdapter implements runloop.AuctionSource over auctionbuilder.Builder,
// supplying the cache snapshot, current JIT owner allowlist and latest
// indexed settlement block the builder itself doesn't track.
type auctionAdapter struct {
	builder          *auctionbuilder.Builder
	cache            *solvablecache.Cache
	jitOwners        *oracles.JitOwnerRegistry
	trustedTokens    auction.TrustedTokens
	settlementBlocks settlementBlockSource
}

func (a *auctionAdapter) Build(ctx context.Context) (*auction.Auction, error) {
	latest, err := a.settlementBlocks.LastEventBlock(ctx)
	if err != nil {
		return nil, err
	}
	return a.builder.Build(ctx, a.cache, a.jitOwners.Current(), a.trustedTokens, latest)
}

// eventSourceAdapter implements settlement.EventSource over the raw
// chain-event tables persistence/sqlstore owns.
type eventSourceAdapter struct {
	settlements   *persistsql.SettlementEventTable
	trades        *persistsql.TradeEventTable
	cancellations *persistsql.CancellationEventTable
	presignatures *persistsql.PreSignatureEventTable
}

func (a eventSourceAdapter) Settlements(ctx context.Context) ([]events.Settlement, error) {
	return a.settlements.List(ctx)
}

func (a eventSourceAdapter) Trades(ctx context.Context, orderUID order.Uid) ([]events.Trade, error) {
	return a.trades.ForOrder(ctx, orderUID)
}

func (a eventSourceAdapter) TradesForTx(ctx context.Context, txHash [32]byte) ([]events.Trade, error) {
	return a.trades.ForTx(ctx, txHash)
}

func (a eventSourceAdapter) Cancellations(ctx context.Context) ([]events.Cancellation, error) {
	return a.cancellations.List(ctx)
}

func (a eventSourceAdapter) PreSignatures(ctx context.Context) ([]events.PreSignature, error) {
	return a.presignatures.List(ctx)
}

// maintainedStream bundles one indexer.Maintainer's stream name with its
// RunMaintenance method; runMaintainer supplies the tick interval.
type maintainedStream struct {
	name string
	tick func(ctx context.Context) error
}

// buildMaintainers wires one indexer.Maintainer per raw event stream the
// settlement contract emits, against chainevents retrievers and the
// persistence/sqlstore tables built for them.
func buildMaintainers(
	chain *chainrpc.Client,
	settlementContract eth.Address,
	persist *persistsql.Store,
	log *zap.Logger,
) []maintainedStream {
	trades := indexer.NewMaintainer[events.Trade](
		"trades",
		chainevents.TradeRetriever{Source: chain, Contract: settlementContract},
		chain,
		persist.TradeEvents(),
		log,
	)
	settlements := indexer.NewMaintainer[events.Settlement](
		"settlements",
		chainevents.SettlementRetriever{Source: chain, Contract: settlementContract},
		chain,
		persist.SettlementEvents(),
		log,
	)
	cancellations := indexer.NewMaintainer[events.Cancellation](
		"cancellations",
		chainevents.CancellationRetriever{Source: chain, Contract: settlementContract},
		chain,
		persist.CancellationEvents(),
		log,
	)
	presignatures := indexer.NewMaintainer[events.PreSignature](
		"presignatures",
		chainevents.PreSignatureRetriever{Source: chain, Contract: settlementContract},
		chain,
		persist.PreSignatureEvents(),
		log,
	)

	return []maintainedStream{
		{name: trades.Name, tick: trades.RunMaintenance},
		{name: settlements.Name, tick: settlements.RunMaintenance},
		{name: cancellations.Name, tick: cancellations.RunMaintenance},
		{name: presignatures.Name, tick: presignatures.RunMaintenance},
	}
}

// runMaintainer drives one maintained stream's RunMaintenance loop on a
// fixed interval until shutdown is requested.
func runMaintainer(ctx context.Context, log *zap.Logger, m maintainedStream, sd *shutdown.Controller, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sd.Done():
			return
		case <-ticker.C:
			if err := m.tick(ctx); err != nil {
				log.Warn("indexer maintenance failed", zap.String("stream", m.name), zap.Error(err))
			}
		}
	}
}
