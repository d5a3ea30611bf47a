// Package orderstore persists orders and the auxiliary tables the rest of
// the autopilot keys off of: quotes, order events, reference scores,
// settlement transaction correlation and per-stream indexing watermarks.
// Two implementations satisfy every interface here: sqlstore (Postgres, the
// production backing store) and memstore (in-process, used by tests).
package orderstore

import (
	"context"
	"time"

	"github.com/cowmesh/autopilot/pkg/domain/eth"
	"github.com/cowmesh/autopilot/pkg/domain/order"
)

// OrderStore is the primary order table: every order the indexer has ever
// seen, along with its current fill/cancellation/presignature state.
type OrderStore interface {
	// Open returns every order currently eligible to be considered for a
	// batch: not cancelled, not fully filled, not expired.
	Open(ctx context.Context) ([]order.Order, error)
	Get(ctx context.Context, uid order.Uid) (order.Order, bool, error)
	Upsert(ctx context.Context, o order.Order) error
	RecordFill(ctx context.Context, uid order.Uid, executed order.ExecutedAmounts) error
	RecordInvalidated(ctx context.Context, uid order.Uid) error
	RecordPreSignature(ctx context.Context, uid order.Uid, signed bool) error
}

// DropReason categorizes why the solvable-order cache excluded an order
// from a refresh pass; every drop is logged via OrderEventStore so the
// reason is auditable after the fact (closes scenario S6).
type DropReason string

const (
	DropMissingBalance    DropReason = "missing_balance"
	DropBadToken          DropReason = "bad_token"
	DropStaleQuote        DropReason = "stale_quote"
	DropInvalidSignature  DropReason = "invalid_signature"
	DropMissingPrice      DropReason = "missing_price"
	DropBannedOwner       DropReason = "banned_owner"
)

// OrderEvent is one append-only record of an order being dropped from a
// cache refresh, with the reason it was dropped.
type OrderEvent struct {
	OrderUID  order.Uid
	Reason    DropReason
	Label     string
	Timestamp time.Time
}

// OrderEventStore is append-only: rows are never updated or deleted, only
// inserted, so the history of why an order was excluded from auctions is
// preserved.
type OrderEventStore interface {
	Append(ctx context.Context, event OrderEvent) error
	ForOrder(ctx context.Context, uid order.Uid) ([]OrderEvent, error)
}

// Quote is a price estimate for an order, obtained out-of-band from a
// price estimation service, used to detect orders whose limit price has
// drifted stale since it was quoted.
type Quote struct {
	OrderUID  order.Uid
	SellToken eth.Address
	BuyToken  eth.Address
	SellAmount eth.U256
	BuyAmount  eth.U256
	QuotedAt   time.Time
}

type QuoteStore interface {
	Get(ctx context.Context, uid order.Uid) (Quote, bool, error)
	Upsert(ctx context.Context, q Quote) error
}

// ReferenceScore is the winning and runner-up score recorded for an
// auction, used for solver rewards accounting.
type ReferenceScore struct {
	AuctionID int64
	Winner    competitionDriver
	WinningScore eth.U256
	RunnerUpScore eth.U256
}

// competitionDriver avoids an import cycle with pkg/competition: the store
// only needs the driver's name, not its behavior.
type competitionDriver = string

type ReferenceScoreStore interface {
	Record(ctx context.Context, score ReferenceScore) error
	Get(ctx context.Context, auctionID int64) (ReferenceScore, bool, error)
}

// SettlementTxInfo correlates a settlement transaction with the auction it
// executed, keyed by (from, nonce) since that pair is known before the
// transaction is mined and uniquely identifies it once it is.
type SettlementTxInfo struct {
	AuctionID int64
	TxFrom    eth.Address
	TxNonce   uint64
	TxHash    *[32]byte
}

type SettlementTxInfoStore interface {
	Record(ctx context.Context, info SettlementTxInfo) error
	ByFromAndNonce(ctx context.Context, from eth.Address, nonce uint64) (SettlementTxInfo, bool, error)
}

// LastIndexedBlockStore tracks, per named event stream, the highest block
// that stream has indexed through. pkg/indexer's Maintainer does not use
// it: its stores keep their own watermark in persistence/sqlstore's
// event_watermarks table.
type LastIndexedBlockStore interface {
	Get(ctx context.Context, stream string) (uint64, error)
	Set(ctx context.Context, stream string, block uint64) error
}
