package solvablecache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cowmesh/autopilot/pkg/domain/auction"
	"github.com/cowmesh/autopilot/pkg/domain/eth"
	"github.com/cowmesh/autopilot/pkg/domain/order"
	"github.com/cowmesh/autopilot/pkg/orderstore"
	"github.com/cowmesh/autopilot/pkg/orderstore/memstore"
)

type fakeBalances struct{ available eth.U256 }

func (f fakeBalances) AvailableBalance(context.Context, eth.Address, eth.Address, order.SellTokenSource) (eth.U256, error) {
	return f.available, nil
}

type fakeBadTokens struct{ bad map[eth.Address]bool }

func (f fakeBadTokens) IsBad(_ context.Context, token eth.Address) (bool, error) {
	return f.bad[token], nil
}

type fakeQuotes struct{ quotedAt map[order.Uid]time.Time }

func (f fakeQuotes) QuotedAt(_ context.Context, uid order.Uid) (time.Time, bool, error) {
	t, ok := f.quotedAt[uid]
	return t, ok, nil
}

type fakeSigs struct{ valid bool }

func (f fakeSigs) IsValid(context.Context, order.Order) (bool, error) { return f.valid, nil }

type fakePrices struct{ prices map[eth.Address]auction.Price }

func (f fakePrices) Price(_ context.Context, token eth.Address) (auction.Price, bool, error) {
	p, ok := f.prices[token]
	return p, ok, nil
}

type fakeBlocks struct{ block uint64 }

func (f fakeBlocks) CurrentBlock(context.Context) (uint64, error) { return f.block, nil }

func mustPrice(t *testing.T, v uint64) auction.Price {
	t.Helper()
	p, err := auction.NewPrice(eth.NewU256FromUint64(v))
	require.NoError(t, err)
	return p
}

func baseTestOrder(sellToken, buyToken eth.Address) order.Order {
	return order.Order{
		UID:        order.BuildUid([32]byte{1}, eth.Address{}, 4_000_000_000),
		Owner:      eth.HexToAddress("0x1111111111111111111111111111111111111111"),
		SellToken:  sellToken,
		BuyToken:   buyToken,
		SellAmount: eth.NewU256FromUint64(100),
		BuyAmount:  eth.NewU256FromUint64(200),
		ValidTo:    4_000_000_000,
		Side:       order.Sell,
		Class:      order.ClassMarket,
	}
}

func TestCache_Refresh_SurvivingOrderAppearsInSnapshot(t *testing.T) {
	sellToken := eth.HexToAddress("0x2222222222222222222222222222222222222222")
	buyToken := eth.HexToAddress("0x3333333333333333333333333333333333333333")
	o := baseTestOrder(sellToken, buyToken)

	store := memstore.New()
	require.NoError(t, store.Orders.Upsert(context.Background(), o))

	prices := map[eth.Address]auction.Price{
		sellToken: mustPrice(t, 1),
		buyToken:  mustPrice(t, 1),
	}

	cache := New(
		Config{QuoteValidityAge: time.Hour},
		zap.NewNop(),
		store.Orders, store.Events,
		fakeBalances{available: eth.NewU256FromUint64(1_000)},
		fakeBadTokens{bad: map[eth.Address]bool{}},
		fakeQuotes{quotedAt: map[order.Uid]time.Time{}},
		fakeSigs{valid: true},
		fakePrices{prices: prices},
		fakeBlocks{block: 100},
		map[eth.Address]struct{}{},
	)

	require.NoError(t, cache.Refresh(context.Background()))
	require.Len(t, cache.Orders(), 1)
	require.Equal(t, uint64(100), cache.Block())
}

func TestCache_Refresh_DropsInsufficientBalance(t *testing.T) {
	sellToken := eth.HexToAddress("0x2222222222222222222222222222222222222222")
	buyToken := eth.HexToAddress("0x3333333333333333333333333333333333333333")
	o := baseTestOrder(sellToken, buyToken)

	store := memstore.New()
	require.NoError(t, store.Orders.Upsert(context.Background(), o))

	cache := New(
		Config{QuoteValidityAge: time.Hour},
		zap.NewNop(),
		store.Orders, store.Events,
		fakeBalances{available: eth.NewU256FromUint64(1)},
		fakeBadTokens{bad: map[eth.Address]bool{}},
		fakeQuotes{quotedAt: map[order.Uid]time.Time{}},
		fakeSigs{valid: true},
		fakePrices{prices: map[eth.Address]auction.Price{sellToken: mustPrice(t, 1), buyToken: mustPrice(t, 1)}},
		fakeBlocks{block: 1},
		map[eth.Address]struct{}{},
	)

	require.NoError(t, cache.Refresh(context.Background()))
	require.Empty(t, cache.Orders())

	events, err := store.Events.ForOrder(context.Background(), o.UID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, orderstore.DropMissingBalance, events[0].Reason)
}

func TestCache_Refresh_DropsBannedOwner(t *testing.T) {
	sellToken := eth.HexToAddress("0x2222222222222222222222222222222222222222")
	buyToken := eth.HexToAddress("0x3333333333333333333333333333333333333333")
	o := baseTestOrder(sellToken, buyToken)

	store := memstore.New()
	require.NoError(t, store.Orders.Upsert(context.Background(), o))

	cache := New(
		Config{QuoteValidityAge: time.Hour},
		zap.NewNop(),
		store.Orders, store.Events,
		fakeBalances{available: eth.NewU256FromUint64(1_000)},
		fakeBadTokens{bad: map[eth.Address]bool{}},
		fakeQuotes{quotedAt: map[order.Uid]time.Time{}},
		fakeSigs{valid: true},
		fakePrices{prices: map[eth.Address]auction.Price{sellToken: mustPrice(t, 1), buyToken: mustPrice(t, 1)}},
		fakeBlocks{block: 1},
		map[eth.Address]struct{}{o.Owner: {}},
	)

	require.NoError(t, cache.Refresh(context.Background()))
	require.Empty(t, cache.Orders())

	events, err := store.Events.ForOrder(context.Background(), o.UID)
	require.NoError(t, err)
	require.Equal(t, orderstore.DropBannedOwner, events[0].Reason)
}

func TestCache_Refresh_DropsStaleLimitOrderQuote(t *testing.T) {
	sellToken := eth.HexToAddress("0x2222222222222222222222222222222222222222")
	buyToken := eth.HexToAddress("0x3333333333333333333333333333333333333333")
	o := baseTestOrder(sellToken, buyToken)
	o.Class = order.ClassLimit

	store := memstore.New()
	require.NoError(t, store.Orders.Upsert(context.Background(), o))

	cache := New(
		Config{QuoteValidityAge: time.Minute},
		zap.NewNop(),
		store.Orders, store.Events,
		fakeBalances{available: eth.NewU256FromUint64(1_000)},
		fakeBadTokens{bad: map[eth.Address]bool{}},
		fakeQuotes{quotedAt: map[order.Uid]time.Time{o.UID: time.Now().Add(-time.Hour)}},
		fakeSigs{valid: true},
		fakePrices{prices: map[eth.Address]auction.Price{sellToken: mustPrice(t, 1), buyToken: mustPrice(t, 1)}},
		fakeBlocks{block: 1},
		map[eth.Address]struct{}{},
	)

	require.NoError(t, cache.Refresh(context.Background()))
	require.Empty(t, cache.Orders())
}

func TestCache_Refresh_NeverRegressesBlock(t *testing.T) {
	sellToken := eth.HexToAddress("0x2222222222222222222222222222222222222222")
	buyToken := eth.HexToAddress("0x3333333333333333333333333333333333333333")
	store := memstore.New()

	blocks := &fakeBlocks{block: 100}
	cache := New(
		Config{QuoteValidityAge: time.Hour},
		zap.NewNop(),
		store.Orders, store.Events,
		fakeBalances{available: eth.NewU256FromUint64(1_000)},
		fakeBadTokens{bad: map[eth.Address]bool{}},
		fakeQuotes{quotedAt: map[order.Uid]time.Time{}},
		fakeSigs{valid: true},
		fakePrices{prices: map[eth.Address]auction.Price{sellToken: mustPrice(t, 1), buyToken: mustPrice(t, 1)}},
		blocks,
		map[eth.Address]struct{}{},
	)

	require.NoError(t, cache.Refresh(context.Background()))
	require.Equal(t, uint64(100), cache.Block())

	blocks.block = 50
	require.NoError(t, cache.Refresh(context.Background()))
	require.Equal(t, uint64(100), cache.Block(), "a stale block read must not regress the published snapshot")
}
