// Package indexer runs the generic reorg-safe event indexing loop shared by
// every on-chain log type the autopilot tracks: trades, cancellations,
// settlements and presignatures. The same Maintainer drives all of them,
// parameterized by the event type E.
package indexer

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Retriever fetches events from the chain for a closed block range
// [from, to]. Implementations wrap a chain RPC client and log-decoding
// logic specific to one event type.
type Retriever[E any] interface {
	Events(ctx context.Context, from, to uint64) ([]E, error)
}

// BlockRetriever reports the current safe chain tip to index up to.
type BlockRetriever interface {
	LatestBlock(ctx context.Context) (uint64, error)
}

// Store persists events of type E and tracks how far this event stream has
// been indexed. ReplaceEvents is used for any range the indexer has seen
// before, so a reorg that changes history is corrected by deleting and
// re-inserting rather than appending duplicates. AppendEvents is kept for
// interface completeness — mirroring shared::event_handling::EventStoring
// in the system this is ported from, which exposes both methods even
// though the main indexing flow only ever calls the replace form — but is
// not used by RunMaintenance below.
type Store[E any] interface {
	LastEventBlock(ctx context.Context) (uint64, error)
	ReplaceEvents(ctx context.Context, events []E, from, to uint64) error
	AppendEvents(ctx context.Context, events []E) error
}

// Maintainer drives one event stream's indexing loop: on each tick, it
// re-fetches a safety margin of already-indexed blocks (to catch reorgs)
// plus any new blocks, and replaces that whole range transactionally. Only
// one RunMaintenance call runs at a time, guarded by mu, matching the
// mutex-guarded EventHandler this is ported from.
type Maintainer[E any] struct {
	Name        string
	Retriever   Retriever[E]
	Blocks      BlockRetriever
	Store       Store[E]
	Log         *zap.Logger
	ReorgDepth  uint64 // blocks behind the tip to re-scan on every tick

	mu sync.Mutex
}

// NewMaintainer builds a Maintainer with the default 64-block reorg
// safety depth.
func NewMaintainer[E any](name string, retriever Retriever[E], blocks BlockRetriever, store Store[E], log *zap.Logger) *Maintainer[E] {
	return &Maintainer[E]{
		Name:       name,
		Retriever:  retriever,
		Blocks:     blocks,
		Store:      store,
		Log:        log.With(zap.String("stream", name)),
		ReorgDepth: 64,
	}
}

// RunMaintenance advances the stream's indexed range up to the current safe
// chain tip. It always goes through ReplaceEvents, never AppendEvents, for
// the re-scanned window: the reorg-safety property only holds if the
// maintainer never trusts that a block it has already seen cannot change.
func (m *Maintainer[E]) RunMaintenance(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	last, err := m.Store.LastEventBlock(ctx)
	if err != nil {
		return fmt.Errorf("indexer %s: last event block: %w", m.Name, err)
	}
	tip, err := m.Blocks.LatestBlock(ctx)
	if err != nil {
		return fmt.Errorf("indexer %s: latest block: %w", m.Name, err)
	}

	from := uint64(0)
	if last > m.ReorgDepth {
		from = last - m.ReorgDepth
	}
	if tip < from {
		// Chain tip moved backwards relative to our bookkeeping; nothing to do
		// until it catches back up.
		return nil
	}

	events, err := m.Retriever.Events(ctx, from, tip)
	if err != nil {
		return fmt.Errorf("indexer %s: get events [%d,%d]: %w", m.Name, from, tip, err)
	}

	if err := m.Store.ReplaceEvents(ctx, events, from, tip); err != nil {
		return fmt.Errorf("indexer %s: replace events [%d,%d]: %w", m.Name, from, tip, err)
	}

	m.Log.Debug("indexed range",
		zap.Uint64("from", from),
		zap.Uint64("to", tip),
		zap.Int("events", len(events)),
	)
	return nil
}
