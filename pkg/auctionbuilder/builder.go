// Package auctionbuilder assembles a solvable-order cache snapshot into a
// persisted Auction ready for the competition runner.
package auctionbuilder

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cowmesh/autopilot/pkg/domain/auction"
	"github.com/cowmesh/autopilot/pkg/domain/order"
)

// Snapshot is the minimal view of the solvable-order cache the builder
// needs; it depends on this interface rather than *solvablecache.Cache
// directly so it can be tested without constructing a real cache.
type Snapshot interface {
	Orders() []order.Order
	Prices() auction.Prices
	Block() uint64
}

// AuctionIDAllocator hands out the next auction id; in production this is
// backed by a Postgres sequence so ids are globally monotonic even across
// a leader failover.
type AuctionIDAllocator interface {
	Next(ctx context.Context) (auction.Id, error)
}

// ArchivalSink receives a freshly built auction for durable storage. Build
// hands off to it fire-and-forget via a buffered channel so archival
// latency never blocks the critical tick path, the same shape as the
// teacher's orderbook broadcast being called from the consensus commit
// path without blocking it.
type ArchivalSink interface {
	Archive(ctx context.Context, a auction.Auction) error
}

// Builder assembles auctions from cache snapshots.
type Builder struct {
	log      *zap.Logger
	ids      AuctionIDAllocator
	archival chan auction.Auction
}

// New starts a Builder with a background goroutine draining its archival
// channel; archiveBuffer bounds how many unarchived auctions can queue up.
// Once the buffer is full, Build does not block: it drops that auction's
// archive and logs a warning.
func New(log *zap.Logger, ids AuctionIDAllocator, sink ArchivalSink, archiveBuffer int) *Builder {
	b := &Builder{log: log, ids: ids, archival: make(chan auction.Auction, archiveBuffer)}
	go b.drainArchival(sink)
	return b
}

func (b *Builder) drainArchival(sink ArchivalSink) {
	for a := range b.archival {
		if err := sink.Archive(context.Background(), a); err != nil {
			b.log.Warn("auction archival failed", zap.Int64("auction_id", int64(a.Id)), zap.Error(err))
		}
	}
}

// Build assembles an Auction from a cache snapshot, filtering out any
// order still missing a price for a non-liquidity token. Not fatal, just
// an exclusion from this particular auction.
func (b *Builder) Build(ctx context.Context, snap Snapshot, jitOwners auction.SurplusCapturingJitOwners, trustedTokens auction.TrustedTokens, latestSettlementBlock uint64) (*auction.Auction, error) {
	prices := snap.Prices()

	orders := make([]order.Order, 0, len(snap.Orders()))
	for _, o := range snap.Orders() {
		if o.Class == order.ClassLiquidity {
			orders = append(orders, o)
			continue
		}
		if _, ok := prices[o.SellToken]; !ok {
			continue
		}
		if _, ok := prices[o.BuyToken]; !ok {
			continue
		}
		orders = append(orders, o)
	}

	if len(orders) == 0 {
		return nil, nil
	}

	id, err := b.ids.Next(ctx)
	if err != nil {
		return nil, fmt.Errorf("auctionbuilder: allocate id: %w", err)
	}

	a := auction.Auction{
		Id:                        id,
		Block:                     snap.Block(),
		LatestSettlementBlock:     latestSettlementBlock,
		Orders:                    orders,
		Prices:                    prices,
		SurplusCapturingJitOwners: jitOwners,
		TrustedTokens:             trustedTokens,
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("auctionbuilder: built an invalid auction: %w", err)
	}

	select {
	case b.archival <- a:
	default:
		b.log.Warn("archival channel full, dropping auction archive", zap.Int64("auction_id", int64(a.Id)))
	}

	return &a, nil
}
