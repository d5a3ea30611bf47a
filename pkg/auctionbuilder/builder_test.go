package auctionbuilder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cowmesh/autopilot/pkg/domain/auction"
	"github.com/cowmesh/autopilot/pkg/domain/eth"
	"github.com/cowmesh/autopilot/pkg/domain/order"
)

type fakeSnapshot struct {
	orders []order.Order
	prices auction.Prices
	block  uint64
}

func (s fakeSnapshot) Orders() []order.Order   { return s.orders }
func (s fakeSnapshot) Prices() auction.Prices  { return s.prices }
func (s fakeSnapshot) Block() uint64           { return s.block }

type sequentialIDs struct{ next int64 }

func (s *sequentialIDs) Next(context.Context) (auction.Id, error) {
	s.next++
	return auction.Id(s.next), nil
}

type recordingSink struct {
	archived chan auction.Auction
}

func newRecordingSink() *recordingSink {
	return &recordingSink{archived: make(chan auction.Auction, 16)}
}

func (s *recordingSink) Archive(_ context.Context, a auction.Auction) error {
	s.archived <- a
	return nil
}

func mustPrice(t *testing.T, v uint64) auction.Price {
	t.Helper()
	p, err := auction.NewPrice(eth.NewU256FromUint64(v))
	require.NoError(t, err)
	return p
}

func priceableOrder(sellToken, buyToken eth.Address, class order.Class) order.Order {
	return order.Order{
		UID:        order.BuildUid([32]byte{byte(sellToken[0])}, eth.Address{}, 1),
		SellToken:  sellToken,
		BuyToken:   buyToken,
		SellAmount: eth.NewU256FromUint64(1),
		BuyAmount:  eth.NewU256FromUint64(1),
		ValidTo:    1,
		Side:       order.Sell,
		Class:      class,
	}
}

func TestBuild_FiltersOrdersMissingPrice(t *testing.T) {
	sellToken := eth.HexToAddress("0x1111111111111111111111111111111111111111")
	buyToken := eth.HexToAddress("0x2222222222222222222222222222222222222222")
	unpriced := eth.HexToAddress("0x3333333333333333333333333333333333333333")

	priced := priceableOrder(sellToken, buyToken, order.ClassMarket)
	missing := priceableOrder(sellToken, unpriced, order.ClassMarket)

	snap := fakeSnapshot{
		orders: []order.Order{priced, missing},
		prices: auction.Prices{sellToken: mustPrice(t, 1), buyToken: mustPrice(t, 1)},
		block:  42,
	}

	b := New(zap.NewNop(), &sequentialIDs{}, newRecordingSink(), 4)
	got, err := b.Build(context.Background(), snap, auction.SurplusCapturingJitOwners{}, auction.TrustedTokens{}, 10)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.Orders, 1)
	require.Equal(t, priced.UID, got.Orders[0].UID)
	require.Equal(t, uint64(42), got.Block)
	require.Equal(t, uint64(10), got.LatestSettlementBlock)
}

func TestBuild_LiquidityOrderBypassesPriceFilter(t *testing.T) {
	sellToken := eth.HexToAddress("0x1111111111111111111111111111111111111111")
	unpricedBuyToken := eth.HexToAddress("0x2222222222222222222222222222222222222222")
	liquidity := priceableOrder(sellToken, unpricedBuyToken, order.ClassLiquidity)

	snap := fakeSnapshot{
		orders: []order.Order{liquidity},
		prices: auction.Prices{},
		block:  1,
	}

	b := New(zap.NewNop(), &sequentialIDs{}, newRecordingSink(), 4)
	got, err := b.Build(context.Background(), snap, auction.SurplusCapturingJitOwners{}, auction.TrustedTokens{}, 0)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.Orders, 1)
}

func TestBuild_NoSurvivingOrdersReturnsNil(t *testing.T) {
	snap := fakeSnapshot{orders: nil, prices: auction.Prices{}, block: 1}
	b := New(zap.NewNop(), &sequentialIDs{}, newRecordingSink(), 4)

	got, err := b.Build(context.Background(), snap, auction.SurplusCapturingJitOwners{}, auction.TrustedTokens{}, 0)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestBuild_ArchivesAsynchronously(t *testing.T) {
	sellToken := eth.HexToAddress("0x1111111111111111111111111111111111111111")
	buyToken := eth.HexToAddress("0x2222222222222222222222222222222222222222")
	priced := priceableOrder(sellToken, buyToken, order.ClassMarket)

	snap := fakeSnapshot{
		orders: []order.Order{priced},
		prices: auction.Prices{sellToken: mustPrice(t, 1), buyToken: mustPrice(t, 1)},
		block:  1,
	}

	sink := newRecordingSink()
	b := New(zap.NewNop(), &sequentialIDs{}, sink, 4)

	got, err := b.Build(context.Background(), snap, auction.SurplusCapturingJitOwners{}, auction.TrustedTokens{}, 0)
	require.NoError(t, err)
	require.NotNil(t, got)

	select {
	case archived := <-sink.archived:
		require.Equal(t, got.Id, archived.Id)
	case <-time.After(time.Second):
		t.Fatal("auction was not archived in time")
	}
}
