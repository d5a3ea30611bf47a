// Package memstore is an in-process implementation of every orderstore
// interface, backed by plain maps under per-table mutexes. It exists for
// unit tests, where spinning up Postgres is unwanted friction.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cowmesh/autopilot/pkg/domain/eth"
	"github.com/cowmesh/autopilot/pkg/domain/order"
	"github.com/cowmesh/autopilot/pkg/orderstore"
)

// Store aggregates one in-memory implementation per orderstore interface.
// Each field is independently usable wherever its interface is expected;
// grouping them here just gives a test one value to construct and pass
// around.
type Store struct {
	Orders          *OrderTable
	Events          *EventTable
	Quotes          *QuoteTable
	ReferenceScores *ReferenceScoreTable
	SettlementTxs   *SettlementTxTable
	LastBlocks      *LastBlockTable
}

func New() *Store {
	return &Store{
		Orders:          newOrderTable(),
		Events:          newEventTable(),
		Quotes:          newQuoteTable(),
		ReferenceScores: newReferenceScoreTable(),
		SettlementTxs:   newSettlementTxTable(),
		LastBlocks:      newLastBlockTable(),
	}
}

type orderState struct {
	order       order.Order
	executed    order.ExecutedAmounts
	invalidated bool
	presigned   bool
}

// OrderTable implements orderstore.OrderStore.
type OrderTable struct {
	mu     sync.RWMutex
	orders map[order.Uid]*orderState
}

func newOrderTable() *OrderTable {
	return &OrderTable{orders: make(map[order.Uid]*orderState)}
}

func (t *OrderTable) Open(ctx context.Context) ([]order.Order, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := uint64(time.Now().Unix())
	out := make([]order.Order, 0, len(t.orders))
	for _, st := range t.orders {
		if st.invalidated {
			continue
		}
		if now >= uint64(st.order.ValidTo) {
			continue
		}
		if !st.order.PartiallyFillable && !st.executed.Sell.IsZero() {
			continue
		}
		out = append(out, st.order)
	}
	return out, nil
}

func (t *OrderTable) Get(ctx context.Context, uid order.Uid) (order.Order, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.orders[uid]
	if !ok {
		return order.Order{}, false, nil
	}
	return st.order, true, nil
}

func (t *OrderTable) Upsert(ctx context.Context, o order.Order) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.orders[o.UID]; ok {
		existing.order = o
		return nil
	}
	t.orders[o.UID] = &orderState{order: o}
	return nil
}

func (t *OrderTable) RecordFill(ctx context.Context, uid order.Uid, executed order.ExecutedAmounts) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.orders[uid]; ok {
		st.executed = executed
	}
	return nil
}

func (t *OrderTable) RecordInvalidated(ctx context.Context, uid order.Uid) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.orders[uid]; ok {
		st.invalidated = true
	}
	return nil
}

func (t *OrderTable) RecordPreSignature(ctx context.Context, uid order.Uid, signed bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.orders[uid]; ok {
		st.presigned = signed
	}
	return nil
}

// EventTable implements orderstore.OrderEventStore.
type EventTable struct {
	mu     sync.RWMutex
	events map[order.Uid][]orderstore.OrderEvent
}

func newEventTable() *EventTable {
	return &EventTable{events: make(map[order.Uid][]orderstore.OrderEvent)}
}

func (t *EventTable) Append(ctx context.Context, event orderstore.OrderEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events[event.OrderUID] = append(t.events[event.OrderUID], event)
	return nil
}

func (t *EventTable) ForOrder(ctx context.Context, uid order.Uid) ([]orderstore.OrderEvent, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]orderstore.OrderEvent(nil), t.events[uid]...), nil
}

// QuoteTable implements orderstore.QuoteStore.
type QuoteTable struct {
	mu     sync.RWMutex
	quotes map[order.Uid]orderstore.Quote
}

func newQuoteTable() *QuoteTable {
	return &QuoteTable{quotes: make(map[order.Uid]orderstore.Quote)}
}

func (t *QuoteTable) Get(ctx context.Context, uid order.Uid) (orderstore.Quote, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	q, ok := t.quotes[uid]
	return q, ok, nil
}

func (t *QuoteTable) Upsert(ctx context.Context, q orderstore.Quote) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.quotes[q.OrderUID] = q
	return nil
}

// ReferenceScoreTable implements orderstore.ReferenceScoreStore.
type ReferenceScoreTable struct {
	mu     sync.RWMutex
	scores map[int64]orderstore.ReferenceScore
}

func newReferenceScoreTable() *ReferenceScoreTable {
	return &ReferenceScoreTable{scores: make(map[int64]orderstore.ReferenceScore)}
}

func (t *ReferenceScoreTable) Record(ctx context.Context, score orderstore.ReferenceScore) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scores[score.AuctionID] = score
	return nil
}

func (t *ReferenceScoreTable) Get(ctx context.Context, auctionID int64) (orderstore.ReferenceScore, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	score, ok := t.scores[auctionID]
	return score, ok, nil
}

// SettlementTxTable implements orderstore.SettlementTxInfoStore.
type SettlementTxTable struct {
	mu  sync.RWMutex
	txs map[string]orderstore.SettlementTxInfo
}

func newSettlementTxTable() *SettlementTxTable {
	return &SettlementTxTable{txs: make(map[string]orderstore.SettlementTxInfo)}
}

func settlementKey(from eth.Address, nonce uint64) string {
	return fmt.Sprintf("%s:%d", from.Hex(), nonce)
}

func (t *SettlementTxTable) Record(ctx context.Context, info orderstore.SettlementTxInfo) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.txs[settlementKey(info.TxFrom, info.TxNonce)] = info
	return nil
}

func (t *SettlementTxTable) ByFromAndNonce(ctx context.Context, from eth.Address, nonce uint64) (orderstore.SettlementTxInfo, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	info, ok := t.txs[settlementKey(from, nonce)]
	return info, ok, nil
}

// LastBlockTable implements orderstore.LastIndexedBlockStore.
type LastBlockTable struct {
	mu     sync.RWMutex
	blocks map[string]uint64
}

func newLastBlockTable() *LastBlockTable {
	return &LastBlockTable{blocks: make(map[string]uint64)}
}

func (t *LastBlockTable) Get(ctx context.Context, stream string) (uint64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.blocks[stream], nil
}

func (t *LastBlockTable) Set(ctx context.Context, stream string, block uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.blocks[stream] = block
	return nil
}
