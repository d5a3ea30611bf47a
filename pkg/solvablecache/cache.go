// Package solvablecache holds the RCU-style snapshot of orders eligible
// for the next auction: readers always see a complete, self-consistent
// snapshot, never a torn state, because the snapshot pointer is swapped
// atomically rather than mutated in place.
package solvablecache

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/cowmesh/autopilot/pkg/domain/auction"
	"github.com/cowmesh/autopilot/pkg/domain/eth"
	"github.com/cowmesh/autopilot/pkg/domain/order"
	"github.com/cowmesh/autopilot/pkg/orderstore"
)

// snapshot is the immutable value swapped into the cache on each refresh.
type snapshot struct {
	orders    []order.Order
	prices    auction.Prices
	block     uint64
	updatedAt time.Time
}

// BalanceOracle reports a sell token's currently-available balance for an
// owner, across whichever sell-token source the order specifies.
type BalanceOracle interface {
	AvailableBalance(ctx context.Context, owner, sellToken eth.Address, source order.SellTokenSource) (eth.U256, error)
}

// BadTokenDetector flags tokens the cache should exclude orders touching,
// e.g. known-malicious or non-standard ERC20 implementations.
type BadTokenDetector interface {
	IsBad(ctx context.Context, token eth.Address) (bool, error)
}

// QuoteSource reports how long ago an order was last quoted, for limit
// orders whose price may have drifted stale.
type QuoteSource interface {
	QuotedAt(ctx context.Context, uid order.Uid) (time.Time, bool, error)
}

// SignatureValidator re-checks an EIP-1271 contract signature against
// current chain state; ECDSA orders don't need this; their signature was
// already checked once at submission time.
type SignatureValidator interface {
	IsValid(ctx context.Context, o order.Order) (bool, error)
}

// PriceOracle reports a token's current external reference price.
type PriceOracle interface {
	Price(ctx context.Context, token eth.Address) (auction.Price, bool, error)
}

// BlockSource reports the current block the refresh should be pinned to.
type BlockSource interface {
	CurrentBlock(ctx context.Context) (uint64, error)
}

// Config tunes the refresh protocol's one time-based parameter.
type Config struct {
	QuoteValidityAge time.Duration
}

// Cache holds the atomically-swapped snapshot plus the narrow
// collaborators Refresh needs. It has no dependency on any concrete
// storage or auction-building code, only these interfaces, so the
// auction builder can't reach back into the cache's internals through it.
type Cache struct {
	cfg Config
	log *zap.Logger

	orders    orderstore.OrderStore
	events    orderstore.OrderEventStore
	balances  BalanceOracle
	badTokens BadTokenDetector
	quotes    QuoteSource
	sigs      SignatureValidator
	prices    PriceOracle
	blocks    BlockSource
	bannedOwners map[eth.Address]struct{}

	current atomic.Pointer[snapshot]
}

func New(
	cfg Config,
	log *zap.Logger,
	orders orderstore.OrderStore,
	events orderstore.OrderEventStore,
	balances BalanceOracle,
	badTokens BadTokenDetector,
	quotes QuoteSource,
	sigs SignatureValidator,
	prices PriceOracle,
	blocks BlockSource,
	bannedOwners map[eth.Address]struct{},
) *Cache {
	c := &Cache{
		cfg: cfg, log: log,
		orders: orders, events: events, balances: balances, badTokens: badTokens,
		quotes: quotes, sigs: sigs, prices: prices, blocks: blocks, bannedOwners: bannedOwners,
	}
	c.current.Store(&snapshot{prices: auction.Prices{}})
	return c
}

// Orders returns the orders in the most recently published snapshot.
func (c *Cache) Orders() []order.Order { return c.current.Load().orders }

// Prices returns the price table of the most recently published snapshot.
func (c *Cache) Prices() auction.Prices { return c.current.Load().prices }

// Block returns the block the most recently published snapshot is pinned
// to.
func (c *Cache) Block() uint64 { return c.current.Load().block }

func (c *Cache) drop(ctx context.Context, uid order.Uid, reason orderstore.DropReason, label string) {
	_ = c.events.Append(ctx, orderstore.OrderEvent{
		OrderUID: uid, Reason: reason, Label: label, Timestamp: time.Now(),
	})
}

// Refresh re-evaluates every known order against current balances, bad
// token status, quote freshness, signatures, and prices, and atomically
// publishes the result. A newer snapshot's block is never allowed to
// regress behind the previous one, so a stale or rolled-back block read
// from the chain never overwrites a fresher snapshot.
func (c *Cache) Refresh(ctx context.Context) error {
	block, err := c.blocks.CurrentBlock(ctx)
	if err != nil {
		return err
	}
	if prev := c.current.Load(); block < prev.block {
		c.log.Warn("refresh saw block behind current snapshot, skipping", zap.Uint64("block", block), zap.Uint64("current", prev.block))
		return nil
	}

	open, err := c.orders.Open(ctx)
	if err != nil {
		return err
	}

	surviving := make([]order.Order, 0, len(open))
	for _, o := range open {
		if _, banned := c.bannedOwners[o.Owner]; banned {
			c.drop(ctx, o.UID, orderstore.DropBannedOwner, "owner on denylist")
			continue
		}

		avail, err := c.balances.AvailableBalance(ctx, o.Owner, o.SellToken, o.SellTokenSource)
		if err != nil {
			c.log.Debug("balance oracle error, dropping order", zap.String("uid", o.UID.String()), zap.Error(err))
			c.drop(ctx, o.UID, orderstore.DropMissingBalance, err.Error())
			continue
		}
		if avail.Cmp(o.SellAmount) < 0 {
			c.drop(ctx, o.UID, orderstore.DropMissingBalance, "available balance below sell amount")
			continue
		}

		sellBad, errSell := c.badTokens.IsBad(ctx, o.SellToken)
		buyBad, errBuy := c.badTokens.IsBad(ctx, o.BuyToken)
		if errSell != nil || errBuy != nil || sellBad || buyBad {
			c.drop(ctx, o.UID, orderstore.DropBadToken, "sell or buy token flagged bad")
			continue
		}

		if o.Class == order.ClassLimit {
			quotedAt, ok, err := c.quotes.QuotedAt(ctx, o.UID)
			if err != nil || !ok || time.Since(quotedAt) > c.cfg.QuoteValidityAge {
				c.drop(ctx, o.UID, orderstore.DropStaleQuote, "quote missing or stale")
				continue
			}
		}

		if o.Signature.Scheme == order.SchemeEip1271 {
			valid, err := c.sigs.IsValid(ctx, o)
			if err != nil || !valid {
				c.drop(ctx, o.UID, orderstore.DropInvalidSignature, "eip-1271 re-validation failed")
				continue
			}
		}

		surviving = append(surviving, o)
	}

	prices := auction.Prices{}
	needed := map[eth.Address]struct{}{}
	for _, o := range surviving {
		needed[o.SellToken] = struct{}{}
		needed[o.BuyToken] = struct{}{}
	}
	for token := range needed {
		p, ok, err := c.prices.Price(ctx, token)
		if err != nil || !ok {
			continue
		}
		prices[token] = p
	}

	final := make([]order.Order, 0, len(surviving))
	for _, o := range surviving {
		_, hasSell := prices[o.SellToken]
		_, hasBuy := prices[o.BuyToken]
		if !hasSell || !hasBuy {
			c.drop(ctx, o.UID, orderstore.DropMissingPrice, "no price for referenced token")
			continue
		}
		final = append(final, o)
	}

	c.current.Store(&snapshot{orders: final, prices: prices, block: block, updatedAt: time.Now()})
	return nil
}
