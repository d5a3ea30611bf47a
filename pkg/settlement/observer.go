// Package settlement runs the observer that correlates settlement
// transactions with the auctions that produced them and keeps per-order
// executed amounts current, independent of the leader-gated run loop.
package settlement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	domaincomp "github.com/cowmesh/autopilot/pkg/domain/competition"
	"github.com/cowmesh/autopilot/pkg/domain/eth"
	"github.com/cowmesh/autopilot/pkg/domain/events"
	"github.com/cowmesh/autopilot/pkg/domain/order"
	"github.com/cowmesh/autopilot/pkg/orderstore"
)

// EventSource reads decoded settlement/trade/cancellation/presignature
// events from the chain event indexer's store, up to whatever the store's
// caller considers safely indexed.
type EventSource interface {
	Settlements(ctx context.Context) ([]events.Settlement, error)
	Trades(ctx context.Context, orderUID order.Uid) ([]events.Trade, error)
	TradesForTx(ctx context.Context, txHash [32]byte) ([]events.Trade, error)
	Cancellations(ctx context.Context) ([]events.Cancellation, error)
	PreSignatures(ctx context.Context) ([]events.PreSignature, error)
}

// TxLookup resolves a transaction hash to its sender and nonce, used to
// back-fill a Settlement log missing that information.
type TxLookup interface {
	TransactionByHash(ctx context.Context, hash [32]byte) (from eth.Address, nonce uint64, err error)
}

// AuctionCorrelator maps a settlement's (from, nonce) pair back to the
// auction whose winning solution it executed, and marks that auction
// settled once found.
type AuctionCorrelator interface {
	AuctionForTx(ctx context.Context, from eth.Address, nonce uint64) (auctionID int64, ok bool, err error)
	MarkSettled(ctx context.Context, auctionID int64, settlementTxHash [32]byte) error
}

// ReferenceScoreLookup resolves a settled auction back to the driver that
// won it, so a confirmed settlement can clear that driver's unsettled-win
// streak.
type ReferenceScoreLookup interface {
	Get(ctx context.Context, auctionID int64) (orderstore.ReferenceScore, bool, error)
}

// SettledReporter clears a driver's unsettled-win streak once one of its
// auctions is confirmed settled on-chain.
type SettledReporter interface {
	ReportSettled(driver domaincomp.DriverName)
}

// Observer correlates settlement transactions and keeps order fill state
// current, ticking on its own schedule independent of the leader-gated
// run loop so it keeps working on every replica, not just the leader.
type Observer struct {
	log      *zap.Logger
	interval time.Duration

	events        EventSource
	txLookup      TxLookup
	correlator    AuctionCorrelator
	orders        orderstore.OrderStore
	settlementTxs orderstore.SettlementTxInfoStore
	scores        ReferenceScoreLookup
	bans          SettledReporter

	subMu       sync.Mutex
	subscribers map[*websocket.Conn]struct{}
}

func New(
	log *zap.Logger,
	interval time.Duration,
	eventSource EventSource,
	txLookup TxLookup,
	correlator AuctionCorrelator,
	orders orderstore.OrderStore,
	settlementTxs orderstore.SettlementTxInfoStore,
	scores ReferenceScoreLookup,
	bans SettledReporter,
) *Observer {
	return &Observer{
		log: log, interval: interval,
		events: eventSource, txLookup: txLookup, correlator: correlator,
		orders: orders, settlementTxs: settlementTxs,
		scores: scores, bans: bans,
		subscribers: make(map[*websocket.Conn]struct{}),
	}
}

// Run loops until ctx is cancelled, ticking at the configured interval.
func (o *Observer) Run(ctx context.Context) {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.tick(ctx); err != nil {
				o.log.Warn("settlement observer tick failed", zap.Error(err))
			}
		}
	}
}

func (o *Observer) tick(ctx context.Context) error {
	settled, err := o.events.Settlements(ctx)
	if err != nil {
		return fmt.Errorf("settlement: list settlements: %w", err)
	}

	for _, s := range settled {
		trades, err := o.events.TradesForTx(ctx, s.TxHash)
		if err != nil {
			return fmt.Errorf("settlement: trades for tx: %w", err)
		}
		for _, tr := range trades {
			if err := o.RefreshOrderFill(ctx, tr.OrderUID); err != nil {
				o.log.Warn("refresh order fill failed", zap.Error(err))
			}
		}

		from, nonce := s.TxFrom, s.TxNonce
		if from == (eth.Address{}) {
			var err error
			from, nonce, err = o.txLookup.TransactionByHash(ctx, s.TxHash)
			if err != nil {
				o.log.Debug("back-fill tx info failed", zap.Error(err))
				continue
			}
		}

		auctionID, ok, err := o.correlator.AuctionForTx(ctx, from, nonce)
		if err != nil {
			return fmt.Errorf("settlement: correlate tx: %w", err)
		}
		if !ok {
			continue
		}

		txHash := s.TxHash
		if err := o.settlementTxs.Record(ctx, orderstore.SettlementTxInfo{
			AuctionID: auctionID, TxFrom: from, TxNonce: nonce, TxHash: &txHash,
		}); err != nil {
			o.log.Warn("record settlement tx info failed", zap.Error(err))
		}

		if err := o.correlator.MarkSettled(ctx, auctionID, s.TxHash); err != nil {
			return fmt.Errorf("settlement: mark settled: %w", err)
		}

		if score, ok, err := o.scores.Get(ctx, auctionID); err != nil {
			o.log.Warn("reference score lookup failed", zap.Error(err))
		} else if ok {
			o.bans.ReportSettled(domaincomp.DriverName(score.Winner))
		}

		o.broadcastSettled(s)
	}

	if err := o.reconcileCancellations(ctx); err != nil {
		return err
	}
	if err := o.reconcilePreSignatures(ctx); err != nil {
		return err
	}
	return nil
}

// reconcileCancellations applies every known on-chain cancellation to the
// order store so a cancelled order leaves the solvable set, mirroring the
// re-sum-from-source approach RefreshOrderFill uses for fills.
func (o *Observer) reconcileCancellations(ctx context.Context) error {
	cancellations, err := o.events.Cancellations(ctx)
	if err != nil {
		return fmt.Errorf("settlement: list cancellations: %w", err)
	}
	for _, c := range cancellations {
		if err := o.orders.RecordInvalidated(ctx, c.OrderUID); err != nil {
			return fmt.Errorf("settlement: record invalidated %s: %w", c.OrderUID, err)
		}
	}
	return nil
}

// reconcilePreSignatures applies every known PreSign opt-in/revocation to
// the order store so pre-signed orders enter (and revoked ones leave) the
// solvable set.
func (o *Observer) reconcilePreSignatures(ctx context.Context) error {
	presigs, err := o.events.PreSignatures(ctx)
	if err != nil {
		return fmt.Errorf("settlement: list presignatures: %w", err)
	}
	for _, p := range presigs {
		if err := o.orders.RecordPreSignature(ctx, p.OrderUID, p.Signed); err != nil {
			return fmt.Errorf("settlement: record presignature %s: %w", p.OrderUID, err)
		}
	}
	return nil
}

// RefreshOrderFill re-sums the Trade rows currently in the store for an
// order and records the result. Because it always re-sums from the store
// rather than tracking a running delta, a reorg that removes Trade rows
// via the indexer's ReplaceEvents automatically un-accounts for them the
// next time this runs, with no separate rollback logic needed.
func (o *Observer) RefreshOrderFill(ctx context.Context, uid order.Uid) error {
	trades, err := o.events.Trades(ctx, uid)
	if err != nil {
		return fmt.Errorf("settlement: trades for %s: %w", uid, err)
	}
	sell, buy := eth.Zero, eth.Zero
	for _, t := range trades {
		var err error
		sell, err = sell.Add(t.SellAmount)
		if err != nil {
			return err
		}
		buy, err = buy.Add(t.BuyAmount)
		if err != nil {
			return err
		}
	}
	return o.orders.RecordFill(ctx, uid, order.ExecutedAmounts{Sell: sell, Buy: buy})
}

func (o *Observer) broadcastSettled(s events.Settlement) {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	for conn := range o.subscribers {
		_ = conn.WriteJSON(map[string]any{
			"type":   "settlement",
			"solver": s.Solver.Hex(),
			"block":  s.BlockNumber,
		})
	}
}

// Subscribe registers a debug websocket connection to receive live
// settlement notifications, used by the internal observability endpoint.
func (o *Observer) Subscribe(conn *websocket.Conn) {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	o.subscribers[conn] = struct{}{}
}

// Unsubscribe removes a previously registered debug websocket connection.
func (o *Observer) Unsubscribe(conn *websocket.Conn) {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	delete(o.subscribers, conn)
}
