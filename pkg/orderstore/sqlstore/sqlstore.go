// Package sqlstore is the Postgres-backed implementation of every
// orderstore interface, built on database/sql plus lib/pq as the driver
// and jmoiron/sqlx for struct-scanning query helpers.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/cowmesh/autopilot/pkg/domain/eth"
	"github.com/cowmesh/autopilot/pkg/domain/order"
	"github.com/cowmesh/autopilot/pkg/orderstore"
)

// Store wraps a shared *sqlx.DB; every table-specific type below is a thin
// view over the same connection pool, so opening one sqlstore.Open call
// is enough to construct all of them.
type Store struct {
	db *sqlx.DB
}

// Open connects to Postgres and verifies the connection with a ping,
// mirroring the fail-fast-on-startup discipline the autopilot applies to
// every external dependency.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: connect: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Orders() *OrderTable                   { return &OrderTable{db: s.db} }
func (s *Store) Events() *EventTable                   { return &EventTable{db: s.db} }
func (s *Store) Quotes() *QuoteTable                   { return &QuoteTable{db: s.db} }
func (s *Store) ReferenceScores() *ReferenceScoreTable { return &ReferenceScoreTable{db: s.db} }
func (s *Store) SettlementTxs() *SettlementTxTable     { return &SettlementTxTable{db: s.db} }
func (s *Store) LastBlocks() *LastBlockTable           { return &LastBlockTable{db: s.db} }

type orderRow struct {
	UID                 string    `db:"uid"`
	Owner               string    `db:"owner"`
	SellToken           string    `db:"sell_token"`
	BuyToken            string    `db:"buy_token"`
	SellAmount          string    `db:"sell_amount"`
	BuyAmount           string    `db:"buy_amount"`
	FeeAmount           string    `db:"fee_amount"`
	ExecutedSell        string    `db:"executed_sell"`
	ExecutedBuy         string    `db:"executed_buy"`
	ValidTo             int64     `db:"valid_to"`
	AppData             string    `db:"app_data"`
	Side                int16     `db:"side"`
	Class               int16     `db:"class"`
	PartiallyFillable   bool      `db:"partially_fillable"`
	SellTokenSource     int16     `db:"sell_token_source"`
	BuyTokenDestination int16     `db:"buy_token_destination"`
	SignatureScheme     int16     `db:"signature_scheme"`
	SignatureData       []byte    `db:"signature_data"`
	Invalidated         bool      `db:"invalidated"`
	CreatedAt           time.Time `db:"created_at"`
}

// OrderTable implements orderstore.OrderStore against the `orders` table.
type OrderTable struct {
	db *sqlx.DB
}

func (t *OrderTable) Open(ctx context.Context) ([]order.Order, error) {
	var rows []orderRow
	const q = `
		SELECT uid, owner, sell_token, buy_token, sell_amount, buy_amount,
		       fee_amount, executed_sell, executed_buy, valid_to, app_data,
		       side, class, partially_fillable, sell_token_source,
		       buy_token_destination, signature_scheme, signature_data,
		       invalidated, created_at
		FROM orders
		WHERE invalidated = false
		  AND valid_to > extract(epoch FROM now())::bigint
		  AND (partially_fillable = true OR executed_sell = '0')
	`
	if err := t.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("sqlstore: open orders: %w", err)
	}
	out := make([]order.Order, 0, len(rows))
	for _, r := range rows {
		o, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func (t *OrderTable) Get(ctx context.Context, uid order.Uid) (order.Order, bool, error) {
	var r orderRow
	const q = `
		SELECT uid, owner, sell_token, buy_token, sell_amount, buy_amount,
		       fee_amount, executed_sell, executed_buy, valid_to, app_data,
		       side, class, partially_fillable, sell_token_source,
		       buy_token_destination, signature_scheme, signature_data,
		       invalidated, created_at
		FROM orders WHERE uid = $1
	`
	if err := t.db.GetContext(ctx, &r, q, uid.String()); err != nil {
		if err == sql.ErrNoRows {
			return order.Order{}, false, nil
		}
		return order.Order{}, false, fmt.Errorf("sqlstore: get order: %w", err)
	}
	o, err := r.toDomain()
	return o, true, err
}

func (t *OrderTable) Upsert(ctx context.Context, o order.Order) error {
	const q = `
		INSERT INTO orders (
			uid, owner, sell_token, buy_token, sell_amount, buy_amount,
			fee_amount, executed_sell, executed_buy, valid_to, app_data,
			side, class, partially_fillable, sell_token_source,
			buy_token_destination, signature_scheme, signature_data,
			invalidated, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, '0', '0', $8, $9, $10, $11, $12, $13,
			$14, $15, $16, false, now()
		)
		ON CONFLICT (uid) DO UPDATE SET
			sell_amount = EXCLUDED.sell_amount,
			buy_amount = EXCLUDED.buy_amount,
			fee_amount = EXCLUDED.fee_amount
	`
	_, err := t.db.ExecContext(ctx, q,
		o.UID.String(), o.Owner.Hex(), o.SellToken.Hex(), o.BuyToken.Hex(),
		o.SellAmount.String(), o.BuyAmount.String(), o.FeeAmount.String(),
		o.ValidTo, fmt.Sprintf("0x%x", o.AppData), int16(o.Side), int16(o.Class),
		o.PartiallyFillable, int16(o.SellTokenSource), int16(o.BuyTokenDestination),
		int16(o.Signature.Scheme), o.Signature.Data,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: upsert order: %w", err)
	}
	return nil
}

func (t *OrderTable) RecordFill(ctx context.Context, uid order.Uid, executed order.ExecutedAmounts) error {
	const q = `UPDATE orders SET executed_sell = $2, executed_buy = $3 WHERE uid = $1`
	_, err := t.db.ExecContext(ctx, q, uid.String(), executed.Sell.String(), executed.Buy.String())
	if err != nil {
		return fmt.Errorf("sqlstore: record fill: %w", err)
	}
	return nil
}

func (t *OrderTable) RecordInvalidated(ctx context.Context, uid order.Uid) error {
	const q = `UPDATE orders SET invalidated = true WHERE uid = $1`
	_, err := t.db.ExecContext(ctx, q, uid.String())
	if err != nil {
		return fmt.Errorf("sqlstore: record invalidated: %w", err)
	}
	return nil
}

func (t *OrderTable) RecordPreSignature(ctx context.Context, uid order.Uid, signed bool) error {
	const q = `
		INSERT INTO order_presignatures (uid, signed, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (uid) DO UPDATE SET signed = EXCLUDED.signed, updated_at = now()
	`
	_, err := t.db.ExecContext(ctx, q, uid.String(), signed)
	if err != nil {
		return fmt.Errorf("sqlstore: record presignature: %w", err)
	}
	return nil
}

func (r orderRow) toDomain() (order.Order, error) {
	sellAmount, err := eth.NewU256FromDecimal(r.SellAmount)
	if err != nil {
		return order.Order{}, fmt.Errorf("sqlstore: decode sell_amount: %w", err)
	}
	buyAmount, err := eth.NewU256FromDecimal(r.BuyAmount)
	if err != nil {
		return order.Order{}, fmt.Errorf("sqlstore: decode buy_amount: %w", err)
	}
	feeAmount, err := eth.NewU256FromDecimal(r.FeeAmount)
	if err != nil {
		return order.Order{}, fmt.Errorf("sqlstore: decode fee_amount: %w", err)
	}

	appDataBytes, err := hex.DecodeString(trimHexPrefix(r.AppData))
	if err != nil || len(appDataBytes) != 32 {
		return order.Order{}, fmt.Errorf("sqlstore: decode app_data %q: %w", r.AppData, err)
	}
	var appData [32]byte
	copy(appData[:], appDataBytes)

	uid, err := order.UidFromHex(r.UID)
	if err != nil {
		return order.Order{}, fmt.Errorf("sqlstore: decode uid: %w", err)
	}

	return order.Order{
		UID:                 uid,
		Owner:               eth.HexToAddress(r.Owner),
		SellToken:           eth.HexToAddress(r.SellToken),
		BuyToken:            eth.HexToAddress(r.BuyToken),
		SellAmount:          sellAmount,
		BuyAmount:           buyAmount,
		FeeAmount:           feeAmount,
		ValidTo:             uint32(r.ValidTo),
		AppData:             appData,
		Side:                order.Side(r.Side),
		Class:               order.Class(r.Class),
		PartiallyFillable:   r.PartiallyFillable,
		SellTokenSource:     order.SellTokenSource(r.SellTokenSource),
		BuyTokenDestination: order.BuyTokenDestination(r.BuyTokenDestination),
		Signature: order.Signature{
			Scheme: order.SignatureScheme(r.SignatureScheme),
			Data:   r.SignatureData,
		},
	}, nil
}

// EventTable implements orderstore.OrderEventStore against the append-only
// `order_events` table.
type EventTable struct {
	db *sqlx.DB
}

func (t *EventTable) Append(ctx context.Context, event orderstore.OrderEvent) error {
	const q = `
		INSERT INTO order_events (uid, reason, label, occurred_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := t.db.ExecContext(ctx, q, event.OrderUID.String(), string(event.Reason), event.Label, event.Timestamp)
	if err != nil {
		return fmt.Errorf("sqlstore: append order event: %w", err)
	}
	return nil
}

func (t *EventTable) ForOrder(ctx context.Context, uid order.Uid) ([]orderstore.OrderEvent, error) {
	type row struct {
		Reason     string    `db:"reason"`
		Label      string    `db:"label"`
		OccurredAt time.Time `db:"occurred_at"`
	}
	var rows []row
	const q = `SELECT reason, label, occurred_at FROM order_events WHERE uid = $1 ORDER BY occurred_at`
	if err := t.db.SelectContext(ctx, &rows, q, uid.String()); err != nil {
		return nil, fmt.Errorf("sqlstore: order events for %s: %w", uid, err)
	}
	out := make([]orderstore.OrderEvent, len(rows))
	for i, r := range rows {
		out[i] = orderstore.OrderEvent{
			OrderUID:  uid,
			Reason:    orderstore.DropReason(r.Reason),
			Label:     r.Label,
			Timestamp: r.OccurredAt,
		}
	}
	return out, nil
}

// QuoteTable implements orderstore.QuoteStore.
type QuoteTable struct {
	db *sqlx.DB
}

func (t *QuoteTable) Get(ctx context.Context, uid order.Uid) (orderstore.Quote, bool, error) {
	type row struct {
		SellToken  string    `db:"sell_token"`
		BuyToken   string    `db:"buy_token"`
		SellAmount string    `db:"sell_amount"`
		BuyAmount  string    `db:"buy_amount"`
		QuotedAt   time.Time `db:"quoted_at"`
	}
	var r row
	const q = `SELECT sell_token, buy_token, sell_amount, buy_amount, quoted_at FROM quotes WHERE uid = $1`
	if err := t.db.GetContext(ctx, &r, q, uid.String()); err != nil {
		if err == sql.ErrNoRows {
			return orderstore.Quote{}, false, nil
		}
		return orderstore.Quote{}, false, fmt.Errorf("sqlstore: get quote: %w", err)
	}
	sellAmount, err := eth.NewU256FromDecimal(r.SellAmount)
	if err != nil {
		return orderstore.Quote{}, false, err
	}
	buyAmount, err := eth.NewU256FromDecimal(r.BuyAmount)
	if err != nil {
		return orderstore.Quote{}, false, err
	}
	return orderstore.Quote{
		OrderUID:   uid,
		SellToken:  eth.HexToAddress(r.SellToken),
		BuyToken:   eth.HexToAddress(r.BuyToken),
		SellAmount: sellAmount,
		BuyAmount:  buyAmount,
		QuotedAt:   r.QuotedAt,
	}, true, nil
}

func (t *QuoteTable) Upsert(ctx context.Context, q orderstore.Quote) error {
	const stmt = `
		INSERT INTO quotes (uid, sell_token, buy_token, sell_amount, buy_amount, quoted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (uid) DO UPDATE SET
			sell_amount = EXCLUDED.sell_amount,
			buy_amount = EXCLUDED.buy_amount,
			quoted_at = EXCLUDED.quoted_at
	`
	_, err := t.db.ExecContext(ctx, stmt, q.OrderUID.String(), q.SellToken.Hex(), q.BuyToken.Hex(),
		q.SellAmount.String(), q.BuyAmount.String(), q.QuotedAt)
	if err != nil {
		return fmt.Errorf("sqlstore: upsert quote: %w", err)
	}
	return nil
}

// ReferenceScoreTable implements orderstore.ReferenceScoreStore.
type ReferenceScoreTable struct {
	db *sqlx.DB
}

func (t *ReferenceScoreTable) Record(ctx context.Context, score orderstore.ReferenceScore) error {
	const q = `
		INSERT INTO reference_scores (auction_id, winner, winning_score, runner_up_score)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (auction_id) DO UPDATE SET
			winner = EXCLUDED.winner,
			winning_score = EXCLUDED.winning_score,
			runner_up_score = EXCLUDED.runner_up_score
	`
	_, err := t.db.ExecContext(ctx, q, score.AuctionID, score.Winner, score.WinningScore.String(), score.RunnerUpScore.String())
	if err != nil {
		return fmt.Errorf("sqlstore: record reference score: %w", err)
	}
	return nil
}

func (t *ReferenceScoreTable) Get(ctx context.Context, auctionID int64) (orderstore.ReferenceScore, bool, error) {
	type row struct {
		Winner        string `db:"winner"`
		WinningScore  string `db:"winning_score"`
		RunnerUpScore string `db:"runner_up_score"`
	}
	var r row
	const q = `SELECT winner, winning_score, runner_up_score FROM reference_scores WHERE auction_id = $1`
	if err := t.db.GetContext(ctx, &r, q, auctionID); err != nil {
		if err == sql.ErrNoRows {
			return orderstore.ReferenceScore{}, false, nil
		}
		return orderstore.ReferenceScore{}, false, fmt.Errorf("sqlstore: get reference score: %w", err)
	}
	winning, err := eth.NewU256FromDecimal(r.WinningScore)
	if err != nil {
		return orderstore.ReferenceScore{}, false, err
	}
	runnerUp, err := eth.NewU256FromDecimal(r.RunnerUpScore)
	if err != nil {
		return orderstore.ReferenceScore{}, false, err
	}
	return orderstore.ReferenceScore{
		AuctionID:     auctionID,
		Winner:        r.Winner,
		WinningScore:  winning,
		RunnerUpScore: runnerUp,
	}, true, nil
}

// SettlementTxTable implements orderstore.SettlementTxInfoStore.
type SettlementTxTable struct {
	db *sqlx.DB
}

func (t *SettlementTxTable) Record(ctx context.Context, info orderstore.SettlementTxInfo) error {
	var txHash any
	if info.TxHash != nil {
		txHash = fmt.Sprintf("0x%x", *info.TxHash)
	}
	const q = `
		INSERT INTO settlement_tx_info (auction_id, tx_from, tx_nonce, tx_hash)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tx_from, tx_nonce) DO UPDATE SET tx_hash = EXCLUDED.tx_hash
	`
	_, err := t.db.ExecContext(ctx, q, info.AuctionID, info.TxFrom.Hex(), info.TxNonce, txHash)
	if err != nil {
		return fmt.Errorf("sqlstore: record settlement tx info: %w", err)
	}
	return nil
}

func (t *SettlementTxTable) ByFromAndNonce(ctx context.Context, from eth.Address, nonce uint64) (orderstore.SettlementTxInfo, bool, error) {
	type row struct {
		AuctionID int64          `db:"auction_id"`
		TxHash    sql.NullString `db:"tx_hash"`
	}
	var r row
	const q = `SELECT auction_id, tx_hash FROM settlement_tx_info WHERE tx_from = $1 AND tx_nonce = $2`
	if err := t.db.GetContext(ctx, &r, q, from.Hex(), nonce); err != nil {
		if err == sql.ErrNoRows {
			return orderstore.SettlementTxInfo{}, false, nil
		}
		return orderstore.SettlementTxInfo{}, false, fmt.Errorf("sqlstore: settlement tx by from/nonce: %w", err)
	}
	info := orderstore.SettlementTxInfo{AuctionID: r.AuctionID, TxFrom: from, TxNonce: nonce}
	if r.TxHash.Valid {
		if decoded, err := hex.DecodeString(trimHexPrefix(r.TxHash.String)); err == nil && len(decoded) == 32 {
			var h [32]byte
			copy(h[:], decoded)
			info.TxHash = &h
		}
	}
	return info, true, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && (s[0:2] == "0x" || s[0:2] == "0X") {
		return s[2:]
	}
	return s
}

// LastBlockTable implements orderstore.LastIndexedBlockStore.
type LastBlockTable struct {
	db *sqlx.DB
}

func (t *LastBlockTable) Get(ctx context.Context, stream string) (uint64, error) {
	var block int64
	const q = `SELECT block FROM last_indexed_blocks WHERE stream = $1`
	err := t.db.GetContext(ctx, &block, q, stream)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sqlstore: last indexed block: %w", err)
	}
	return uint64(block), nil
}

func (t *LastBlockTable) Set(ctx context.Context, stream string, block uint64) error {
	const q = `
		INSERT INTO last_indexed_blocks (stream, block)
		VALUES ($1, $2)
		ON CONFLICT (stream) DO UPDATE SET block = EXCLUDED.block
	`
	_, err := t.db.ExecContext(ctx, q, stream, int64(block))
	if err != nil {
		return fmt.Errorf("sqlstore: set last indexed block: %w", err)
	}
	return nil
}
