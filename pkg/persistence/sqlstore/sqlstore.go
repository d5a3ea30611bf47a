// Package sqlstore is the Postgres-backed home for the tables
// orderstore/sqlstore doesn't own: auctions (the archival record of
// everything the auction builder assembled), their correlated
// settlements, and the raw chain-event tables with their shared
// event_watermarks table (events.go). It mirrors that package's shape: one
// Store wrapping a shared *sqlx.DB and one type per table.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/cowmesh/autopilot/pkg/competition"
	"github.com/cowmesh/autopilot/pkg/domain/auction"
	"github.com/cowmesh/autopilot/pkg/domain/eth"
)

// Store wraps a shared *sqlx.DB; table accessors return thin views over
// the same connection pool.
type Store struct {
	db *sqlx.DB
}

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

func (s *Store) Auctions() *AuctionTable       { return &AuctionTable{db: s.db} }
func (s *Store) Settlements() *SettlementTable { return &SettlementTable{db: s.db} }
func (s *Store) Results() *ResultTable         { return &ResultTable{db: s.db} }

// AuctionTable implements auctionbuilder.AuctionIDAllocator and
// auctionbuilder.ArchivalSink.
type AuctionTable struct {
	db *sqlx.DB
}

// Next allocates the next auction id from a Postgres sequence, so ids
// stay globally monotonic across a leader failover instead of resetting
// whenever a new replica takes over.
func (t *AuctionTable) Next(ctx context.Context) (auction.Id, error) {
	var id int64
	const q = `SELECT nextval('auction_id_seq')`
	if err := t.db.GetContext(ctx, &id, q); err != nil {
		return 0, fmt.Errorf("sqlstore: allocate auction id: %w", err)
	}
	return auction.Id(id), nil
}

// Archive durably records a built auction as a JSON blob alongside its
// block, for audit and replay; this is not a path the solvable-order
// cache or auction builder read from on the hot tick path.
func (t *AuctionTable) Archive(ctx context.Context, a auction.Auction) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("sqlstore: encode auction %d: %w", a.Id, err)
	}
	const q = `
		INSERT INTO auctions (id, block, latest_settlement_block, body, created_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (id) DO NOTHING
	`
	_, err = t.db.ExecContext(ctx, q, int64(a.Id), a.Block, a.LatestSettlementBlock, body)
	if err != nil {
		return fmt.Errorf("sqlstore: archive auction %d: %w", a.Id, err)
	}
	return nil
}

// Get loads a previously archived auction by id. Nothing in the service
// calls it.
func (t *AuctionTable) Get(ctx context.Context, id auction.Id) (auction.Auction, bool, error) {
	var body []byte
	const q = `SELECT body FROM auctions WHERE id = $1`
	if err := t.db.GetContext(ctx, &body, q, int64(id)); err != nil {
		if err == sql.ErrNoRows {
			return auction.Auction{}, false, nil
		}
		return auction.Auction{}, false, fmt.Errorf("sqlstore: get auction %d: %w", id, err)
	}
	var a auction.Auction
	if err := json.Unmarshal(body, &a); err != nil {
		return auction.Auction{}, false, fmt.Errorf("sqlstore: decode auction %d: %w", id, err)
	}
	return a, true, nil
}

// SettlementTable implements settlement.AuctionCorrelator against the
// `settlements` table, which links a winning auction to the (from, nonce)
// pair the driver promised to settle it with.
type SettlementTable struct {
	db *sqlx.DB
}

func (t *SettlementTable) AuctionForTx(ctx context.Context, from eth.Address, nonce uint64) (int64, bool, error) {
	var auctionID int64
	const q = `
		SELECT s.auction_id FROM settlements s
		JOIN settlement_tx_info i ON i.auction_id = s.auction_id
		WHERE i.tx_from = $1 AND i.tx_nonce = $2
	`
	if err := t.db.GetContext(ctx, &auctionID, q, from.Hex(), nonce); err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("sqlstore: auction for tx (%s,%d): %w", from.Hex(), nonce, err)
	}
	return auctionID, true, nil
}

func (t *SettlementTable) MarkSettled(ctx context.Context, auctionID int64, settlementTxHash [32]byte) error {
	const q = `
		UPDATE settlements SET settled = true, settlement_tx_hash = $2, settled_at = now()
		WHERE auction_id = $1
	`
	_, err := t.db.ExecContext(ctx, q, auctionID, fmt.Sprintf("0x%x", settlementTxHash))
	if err != nil {
		return fmt.Errorf("sqlstore: mark auction %d settled: %w", auctionID, err)
	}
	return nil
}

// ResultTable persists a competition round's outcome, used by
// runloop.Ticker as its ResultRecorder.
type ResultTable struct {
	db *sqlx.DB
}

func (t *ResultTable) RecordResult(ctx context.Context, a auction.Auction, result *competition.Result) error {
	if result == nil || result.Winner == nil {
		return nil
	}

	winningScore := result.Winner.Score.String()
	runnerUpScore := "0"
	if result.RunnerUp != nil {
		runnerUpScore = result.RunnerUp.Score.String()
	}

	const q = `
		INSERT INTO reference_scores (auction_id, winner, winning_score, runner_up_score)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (auction_id) DO UPDATE SET
			winner = EXCLUDED.winner,
			winning_score = EXCLUDED.winning_score,
			runner_up_score = EXCLUDED.runner_up_score
	`
	_, err := t.db.ExecContext(ctx, q, int64(a.Id), string(result.Winner.Driver), winningScore, runnerUpScore)
	if err != nil {
		return fmt.Errorf("sqlstore: record reference score for auction %d: %w", a.Id, err)
	}

	const settleQ = `
		INSERT INTO settlements (auction_id, solver, settled)
		VALUES ($1, $2, false)
		ON CONFLICT (auction_id) DO NOTHING
	`
	_, err = t.db.ExecContext(ctx, settleQ, int64(a.Id), result.Winner.Solution.Solver.Hex())
	if err != nil {
		return fmt.Errorf("sqlstore: record expected settlement for auction %d: %w", a.Id, err)
	}
	return nil
}
