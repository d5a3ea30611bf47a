package sqlstore

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/cowmesh/autopilot/pkg/domain/eth"
	"github.com/cowmesh/autopilot/pkg/domain/events"
	"github.com/cowmesh/autopilot/pkg/domain/order"
)

// watermark tracks how far a named chain-event stream has been indexed,
// shared by the four event tables below.
func (s *Store) watermark(ctx context.Context, stream string) (uint64, error) {
	var block int64
	const q = `SELECT block FROM event_watermarks WHERE stream = $1`
	err := s.db.GetContext(ctx, &block, q, stream)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sqlstore: watermark %s: %w", stream, err)
	}
	return uint64(block), nil
}

func replaceRange(ctx context.Context, db interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, table string, from, to uint64) error {
	q := fmt.Sprintf(`DELETE FROM %s WHERE block_number BETWEEN $1 AND $2`, table)
	_, err := db.ExecContext(ctx, q, from, to)
	if err != nil {
		return fmt.Errorf("sqlstore: clear %s [%d,%d]: %w", table, from, to, err)
	}
	return nil
}

// TradeEvents implements indexer.Store[events.Trade] and the Trades half of
// settlement.EventSource.
func (s *Store) TradeEvents() *TradeEventTable { return &TradeEventTable{store: s} }

type TradeEventTable struct{ store *Store }

func (t *TradeEventTable) LastEventBlock(ctx context.Context) (uint64, error) {
	return t.store.watermark(ctx, "trades")
}

func (t *TradeEventTable) ReplaceEvents(ctx context.Context, evs []events.Trade, from, to uint64) error {
	tx, err := t.store.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin trade replace: %w", err)
	}
	defer tx.Rollback()

	if err := replaceRange(ctx, tx, "trade_events", from, to); err != nil {
		return err
	}
	for _, e := range evs {
		if err := insertTrade(ctx, tx, e); err != nil {
			return err
		}
	}
	if err := t.store.setWatermarkTx(ctx, tx, "trades", to); err != nil {
		return err
	}
	return tx.Commit()
}

func (t *TradeEventTable) AppendEvents(ctx context.Context, evs []events.Trade) error {
	for _, e := range evs {
		if err := insertTrade(ctx, t.store.db, e); err != nil {
			return err
		}
	}
	return nil
}

// ForOrder returns every trade recorded against an order, used by the
// settlement observer to re-sum executed amounts after every refresh.
func (t *TradeEventTable) ForOrder(ctx context.Context, uid order.Uid) ([]events.Trade, error) {
	var rows []tradeRow
	const q = `
		SELECT block_number, log_index, order_uid, sell_token, buy_token,
		       sell_amount, buy_amount, fee_amount, tx_hash
		FROM trade_events WHERE order_uid = $1
	`
	if err := t.store.db.SelectContext(ctx, &rows, q, uid.String()); err != nil {
		return nil, fmt.Errorf("sqlstore: trades for %s: %w", uid, err)
	}
	out := make([]events.Trade, len(rows))
	for i, r := range rows {
		e, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

// ForTx returns every trade recorded within one settlement transaction,
// used by the settlement observer to find which orders a newly observed
// settlement touched.
func (t *TradeEventTable) ForTx(ctx context.Context, txHash [32]byte) ([]events.Trade, error) {
	var rows []tradeRow
	const q = `
		SELECT block_number, log_index, order_uid, sell_token, buy_token,
		       sell_amount, buy_amount, fee_amount, tx_hash
		FROM trade_events WHERE tx_hash = $1
	`
	if err := t.store.db.SelectContext(ctx, &rows, q, fmt.Sprintf("0x%x", txHash)); err != nil {
		return nil, fmt.Errorf("sqlstore: trades for tx %x: %w", txHash, err)
	}
	out := make([]events.Trade, len(rows))
	for i, r := range rows {
		e, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

type tradeRow struct {
	BlockNumber uint64 `db:"block_number"`
	LogIndex    uint64 `db:"log_index"`
	OrderUID    string `db:"order_uid"`
	SellToken   string `db:"sell_token"`
	BuyToken    string `db:"buy_token"`
	SellAmount  string `db:"sell_amount"`
	BuyAmount   string `db:"buy_amount"`
	FeeAmount   string `db:"fee_amount"`
	TxHash      string `db:"tx_hash"`
}

func (r tradeRow) toDomain() (events.Trade, error) {
	uid, err := order.UidFromHex(r.OrderUID)
	if err != nil {
		return events.Trade{}, fmt.Errorf("sqlstore: decode trade order uid: %w", err)
	}
	sellAmount, err := eth.NewU256FromDecimal(r.SellAmount)
	if err != nil {
		return events.Trade{}, err
	}
	buyAmount, err := eth.NewU256FromDecimal(r.BuyAmount)
	if err != nil {
		return events.Trade{}, err
	}
	feeAmount, err := eth.NewU256FromDecimal(r.FeeAmount)
	if err != nil {
		return events.Trade{}, err
	}
	var txHash [32]byte
	if decoded, err := hex.DecodeString(strings.TrimPrefix(r.TxHash, "0x")); err == nil {
		copy(txHash[:], decoded)
	}
	return events.Trade{
		Position:   events.Position{BlockNumber: r.BlockNumber, LogIndex: r.LogIndex},
		OrderUID:   uid,
		SellToken:  eth.HexToAddress(r.SellToken),
		BuyToken:   eth.HexToAddress(r.BuyToken),
		SellAmount: sellAmount,
		BuyAmount:  buyAmount,
		FeeAmount:  feeAmount,
		TxHash:     txHash,
	}, nil
}

func insertTrade(ctx context.Context, db interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, e events.Trade) error {
	const q = `
		INSERT INTO trade_events (
			block_number, log_index, order_uid, sell_token, buy_token,
			sell_amount, buy_amount, fee_amount, tx_hash
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (block_number, log_index) DO NOTHING
	`
	_, err := db.ExecContext(ctx, q,
		e.BlockNumber, e.LogIndex, e.OrderUID.String(), e.SellToken.Hex(), e.BuyToken.Hex(),
		e.SellAmount.String(), e.BuyAmount.String(), e.FeeAmount.String(), fmt.Sprintf("0x%x", e.TxHash),
	)
	if err != nil {
		return fmt.Errorf("sqlstore: insert trade: %w", err)
	}
	return nil
}

// SettlementEvents implements indexer.Store[events.Settlement] and the
// Settlements half of settlement.EventSource.
func (s *Store) SettlementEvents() *SettlementEventTable { return &SettlementEventTable{store: s} }

type SettlementEventTable struct{ store *Store }

func (t *SettlementEventTable) LastEventBlock(ctx context.Context) (uint64, error) {
	return t.store.watermark(ctx, "settlements")
}

func (t *SettlementEventTable) ReplaceEvents(ctx context.Context, evs []events.Settlement, from, to uint64) error {
	tx, err := t.store.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin settlement replace: %w", err)
	}
	defer tx.Rollback()

	if err := replaceRange(ctx, tx, "settlement_events", from, to); err != nil {
		return err
	}
	for _, e := range evs {
		if err := insertSettlement(ctx, tx, e); err != nil {
			return err
		}
	}
	if err := t.store.setWatermarkTx(ctx, tx, "settlements", to); err != nil {
		return err
	}
	return tx.Commit()
}

func (t *SettlementEventTable) AppendEvents(ctx context.Context, evs []events.Settlement) error {
	for _, e := range evs {
		if err := insertSettlement(ctx, t.store.db, e); err != nil {
			return err
		}
	}
	return nil
}

// List returns every settlement event recorded so far, consumed by the
// settlement observer on each of its own ticks.
func (t *SettlementEventTable) List(ctx context.Context) ([]events.Settlement, error) {
	var rows []settlementRow
	const q = `SELECT block_number, log_index, solver, tx_hash, tx_from, tx_nonce FROM settlement_events`
	if err := t.store.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("sqlstore: list settlements: %w", err)
	}
	out := make([]events.Settlement, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

type settlementRow struct {
	BlockNumber uint64 `db:"block_number"`
	LogIndex    uint64 `db:"log_index"`
	Solver      string `db:"solver"`
	TxHash      string `db:"tx_hash"`
	TxFrom      string `db:"tx_from"`
	TxNonce     int64  `db:"tx_nonce"`
}

func (r settlementRow) toDomain() events.Settlement {
	var txHash [32]byte
	if decoded, err := hex.DecodeString(strings.TrimPrefix(r.TxHash, "0x")); err == nil {
		copy(txHash[:], decoded)
	}
	return events.Settlement{
		Position: events.Position{BlockNumber: r.BlockNumber, LogIndex: r.LogIndex},
		Solver:   eth.HexToAddress(r.Solver),
		TxHash:   txHash,
		TxFrom:   eth.HexToAddress(r.TxFrom),
		TxNonce:  uint64(r.TxNonce),
	}
}

func insertSettlement(ctx context.Context, db interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, e events.Settlement) error {
	const q = `
		INSERT INTO settlement_events (block_number, log_index, solver, tx_hash, tx_from, tx_nonce)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (block_number, log_index) DO NOTHING
	`
	_, err := db.ExecContext(ctx, q,
		e.BlockNumber, e.LogIndex, e.Solver.Hex(), fmt.Sprintf("0x%x", e.TxHash), e.TxFrom.Hex(), e.TxNonce,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: insert settlement: %w", err)
	}
	return nil
}

// CancellationEvents implements indexer.Store[events.Cancellation].
func (s *Store) CancellationEvents() *CancellationEventTable {
	return &CancellationEventTable{store: s}
}

type CancellationEventTable struct{ store *Store }

func (t *CancellationEventTable) LastEventBlock(ctx context.Context) (uint64, error) {
	return t.store.watermark(ctx, "cancellations")
}

func (t *CancellationEventTable) ReplaceEvents(ctx context.Context, evs []events.Cancellation, from, to uint64) error {
	tx, err := t.store.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin cancellation replace: %w", err)
	}
	defer tx.Rollback()

	if err := replaceRange(ctx, tx, "cancellation_events", from, to); err != nil {
		return err
	}
	for _, e := range evs {
		if err := insertCancellation(ctx, tx, e); err != nil {
			return err
		}
	}
	if err := t.store.setWatermarkTx(ctx, tx, "cancellations", to); err != nil {
		return err
	}
	return tx.Commit()
}

func (t *CancellationEventTable) AppendEvents(ctx context.Context, evs []events.Cancellation) error {
	for _, e := range evs {
		if err := insertCancellation(ctx, t.store.db, e); err != nil {
			return err
		}
	}
	return nil
}

// List returns every cancellation recorded so far, consumed by the
// settlement observer to reconcile the order store's invalidated flag.
func (t *CancellationEventTable) List(ctx context.Context) ([]events.Cancellation, error) {
	var rows []cancellationRow
	const q = `SELECT block_number, log_index, order_uid FROM cancellation_events`
	if err := t.store.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("sqlstore: list cancellations: %w", err)
	}
	out := make([]events.Cancellation, len(rows))
	for i, r := range rows {
		e, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

type cancellationRow struct {
	BlockNumber uint64 `db:"block_number"`
	LogIndex    uint64 `db:"log_index"`
	OrderUID    string `db:"order_uid"`
}

func (r cancellationRow) toDomain() (events.Cancellation, error) {
	uid, err := order.UidFromHex(r.OrderUID)
	if err != nil {
		return events.Cancellation{}, fmt.Errorf("sqlstore: decode cancellation order uid: %w", err)
	}
	return events.Cancellation{
		Position: events.Position{BlockNumber: r.BlockNumber, LogIndex: r.LogIndex},
		OrderUID: uid,
	}, nil
}

func insertCancellation(ctx context.Context, db interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, e events.Cancellation) error {
	const q = `
		INSERT INTO cancellation_events (block_number, log_index, order_uid)
		VALUES ($1,$2,$3)
		ON CONFLICT (block_number, log_index) DO NOTHING
	`
	_, err := db.ExecContext(ctx, q, e.BlockNumber, e.LogIndex, e.OrderUID.String())
	if err != nil {
		return fmt.Errorf("sqlstore: insert cancellation: %w", err)
	}
	return nil
}

// PreSignatureEvents implements indexer.Store[events.PreSignature].
func (s *Store) PreSignatureEvents() *PreSignatureEventTable {
	return &PreSignatureEventTable{store: s}
}

type PreSignatureEventTable struct{ store *Store }

func (t *PreSignatureEventTable) LastEventBlock(ctx context.Context) (uint64, error) {
	return t.store.watermark(ctx, "presignatures")
}

func (t *PreSignatureEventTable) ReplaceEvents(ctx context.Context, evs []events.PreSignature, from, to uint64) error {
	tx, err := t.store.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin presignature replace: %w", err)
	}
	defer tx.Rollback()

	if err := replaceRange(ctx, tx, "presignature_events", from, to); err != nil {
		return err
	}
	for _, e := range evs {
		if err := insertPreSignature(ctx, tx, e); err != nil {
			return err
		}
	}
	if err := t.store.setWatermarkTx(ctx, tx, "presignatures", to); err != nil {
		return err
	}
	return tx.Commit()
}

func (t *PreSignatureEventTable) AppendEvents(ctx context.Context, evs []events.PreSignature) error {
	for _, e := range evs {
		if err := insertPreSignature(ctx, t.store.db, e); err != nil {
			return err
		}
	}
	return nil
}

// List returns every presignature event recorded so far, consumed by the
// settlement observer to reconcile the order store's presigned flag.
func (t *PreSignatureEventTable) List(ctx context.Context) ([]events.PreSignature, error) {
	var rows []presignatureRow
	const q = `SELECT block_number, log_index, order_uid, owner, signed FROM presignature_events`
	if err := t.store.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("sqlstore: list presignatures: %w", err)
	}
	out := make([]events.PreSignature, len(rows))
	for i, r := range rows {
		e, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

type presignatureRow struct {
	BlockNumber uint64 `db:"block_number"`
	LogIndex    uint64 `db:"log_index"`
	OrderUID    string `db:"order_uid"`
	Owner       string `db:"owner"`
	Signed      bool   `db:"signed"`
}

func (r presignatureRow) toDomain() (events.PreSignature, error) {
	uid, err := order.UidFromHex(r.OrderUID)
	if err != nil {
		return events.PreSignature{}, fmt.Errorf("sqlstore: decode presignature order uid: %w", err)
	}
	return events.PreSignature{
		Position: events.Position{BlockNumber: r.BlockNumber, LogIndex: r.LogIndex},
		OrderUID: uid,
		Owner:    eth.HexToAddress(r.Owner),
		Signed:   r.Signed,
	}, nil
}

func insertPreSignature(ctx context.Context, db interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, e events.PreSignature) error {
	const q = `
		INSERT INTO presignature_events (block_number, log_index, order_uid, owner, signed)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (block_number, log_index) DO NOTHING
	`
	_, err := db.ExecContext(ctx, q, e.BlockNumber, e.LogIndex, e.OrderUID.String(), e.Owner.Hex(), e.Signed)
	if err != nil {
		return fmt.Errorf("sqlstore: insert presignature: %w", err)
	}
	return nil
}

// setWatermarkTx is setWatermark run against an open transaction rather
// than the pool, so the watermark advance is atomic with the replaced rows.
func (s *Store) setWatermarkTx(ctx context.Context, tx interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, stream string, block uint64) error {
	const q = `
		INSERT INTO event_watermarks (stream, block)
		VALUES ($1, $2)
		ON CONFLICT (stream) DO UPDATE SET block = EXCLUDED.block
	`
	_, err := tx.ExecContext(ctx, q, stream, int64(block))
	if err != nil {
		return fmt.Errorf("sqlstore: set watermark %s: %w", stream, err)
	}
	return nil
}
