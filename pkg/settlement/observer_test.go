package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	domaincomp "github.com/cowmesh/autopilot/pkg/domain/competition"
	"github.com/cowmesh/autopilot/pkg/domain/eth"
	"github.com/cowmesh/autopilot/pkg/domain/events"
	"github.com/cowmesh/autopilot/pkg/domain/order"
	"github.com/cowmesh/autopilot/pkg/orderstore"
	"github.com/cowmesh/autopilot/pkg/orderstore/memstore"
)

type fakeEventSource struct {
	settlements   []events.Settlement
	trades        map[order.Uid][]events.Trade
	tradesByTx    map[[32]byte][]events.Trade
	cancellations []events.Cancellation
	presignatures []events.PreSignature
}

func (f fakeEventSource) Settlements(context.Context) ([]events.Settlement, error) {
	return f.settlements, nil
}

func (f fakeEventSource) Trades(_ context.Context, uid order.Uid) ([]events.Trade, error) {
	return f.trades[uid], nil
}

func (f fakeEventSource) TradesForTx(_ context.Context, txHash [32]byte) ([]events.Trade, error) {
	return f.tradesByTx[txHash], nil
}

func (f fakeEventSource) Cancellations(context.Context) ([]events.Cancellation, error) {
	return f.cancellations, nil
}

func (f fakeEventSource) PreSignatures(context.Context) ([]events.PreSignature, error) {
	return f.presignatures, nil
}

type fakeScores struct {
	score orderstore.ReferenceScore
	found bool
}

func (f fakeScores) Get(context.Context, int64) (orderstore.ReferenceScore, bool, error) {
	return f.score, f.found, nil
}

type fakeBans struct{ settled []domaincomp.DriverName }

func (f *fakeBans) ReportSettled(driver domaincomp.DriverName) { f.settled = append(f.settled, driver) }

type fakeTxLookup struct {
	from  eth.Address
	nonce uint64
}

func (f fakeTxLookup) TransactionByHash(context.Context, [32]byte) (eth.Address, uint64, error) {
	return f.from, f.nonce, nil
}

type fakeCorrelator struct {
	auctionID int64
	found     bool
	settled   []int64
}

func (f *fakeCorrelator) AuctionForTx(context.Context, eth.Address, uint64) (int64, bool, error) {
	return f.auctionID, f.found, nil
}

func (f *fakeCorrelator) MarkSettled(_ context.Context, auctionID int64, _ [32]byte) error {
	f.settled = append(f.settled, auctionID)
	return nil
}

func TestObserver_Tick_MarksCorrelatedAuctionSettled(t *testing.T) {
	from := eth.HexToAddress("0x1111111111111111111111111111111111111111")
	settlements := []events.Settlement{{TxFrom: from, TxNonce: 5}}
	correlator := &fakeCorrelator{auctionID: 7, found: true}

	store := memstore.New()
	bans := &fakeBans{}
	o := New(zap.NewNop(), time.Second, fakeEventSource{settlements: settlements}, fakeTxLookup{}, correlator, store.Orders, store.SettlementTxs,
		fakeScores{score: orderstore.ReferenceScore{Winner: "solver1"}, found: true}, bans)

	require.NoError(t, o.tick(context.Background()))
	require.Equal(t, []int64{7}, correlator.settled)

	info, ok, err := store.SettlementTxs.ByFromAndNonce(context.Background(), from, 5)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(7), info.AuctionID)

	require.Equal(t, []domaincomp.DriverName{"solver1"}, bans.settled)
}

func TestObserver_Tick_UncorrelatedSettlementIsSkipped(t *testing.T) {
	settlements := []events.Settlement{{TxFrom: eth.HexToAddress("0x2222222222222222222222222222222222222222"), TxNonce: 1}}
	correlator := &fakeCorrelator{found: false}

	store := memstore.New()
	bans := &fakeBans{}
	o := New(zap.NewNop(), time.Second, fakeEventSource{settlements: settlements}, fakeTxLookup{}, correlator, store.Orders, store.SettlementTxs,
		fakeScores{}, bans)

	require.NoError(t, o.tick(context.Background()))
	require.Empty(t, correlator.settled)
	require.Empty(t, bans.settled)
}

func TestObserver_Tick_BackfillsMissingTxInfo(t *testing.T) {
	backfilled := eth.HexToAddress("0x3333333333333333333333333333333333333333")
	settlements := []events.Settlement{{TxFrom: eth.Address{}, TxHash: [32]byte{1}}}
	correlator := &fakeCorrelator{auctionID: 1, found: true}

	store := memstore.New()
	o := New(zap.NewNop(), time.Second, fakeEventSource{settlements: settlements}, fakeTxLookup{from: backfilled, nonce: 9}, correlator, store.Orders, store.SettlementTxs,
		fakeScores{}, &fakeBans{})

	require.NoError(t, o.tick(context.Background()))
	require.Equal(t, []int64{1}, correlator.settled)

	info, ok, err := store.SettlementTxs.ByFromAndNonce(context.Background(), backfilled, 9)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), info.AuctionID)
}

func TestObserver_Tick_RefreshesFillsForSettledTx(t *testing.T) {
	uid := order.BuildUid([32]byte{9}, eth.Address{}, 1)
	store := memstore.New()
	require.NoError(t, store.Orders.Upsert(context.Background(), order.Order{
		UID: uid, PartiallyFillable: false, ValidTo: 4_000_000_000,
	}))

	txHash := [32]byte{7}
	settlements := []events.Settlement{{TxFrom: eth.HexToAddress("0x4444444444444444444444444444444444444444"), TxNonce: 2, TxHash: txHash}}
	source := fakeEventSource{
		settlements: settlements,
		trades: map[order.Uid][]events.Trade{
			uid: {{OrderUID: uid, SellAmount: eth.NewU256FromUint64(50), BuyAmount: eth.NewU256FromUint64(100)}},
		},
		tradesByTx: map[[32]byte][]events.Trade{
			txHash: {{OrderUID: uid, SellAmount: eth.NewU256FromUint64(50), BuyAmount: eth.NewU256FromUint64(100)}},
		},
	}

	o := New(zap.NewNop(), time.Second, source, fakeTxLookup{}, &fakeCorrelator{found: false}, store.Orders, store.SettlementTxs,
		fakeScores{}, &fakeBans{})
	require.NoError(t, o.tick(context.Background()))

	open, err := store.Orders.Open(context.Background())
	require.NoError(t, err)
	require.Empty(t, open, "a fully filled, non-partially-fillable order must drop out of the open set")
}

type presignRecorder struct {
	*memstore.OrderTable
	presigned map[order.Uid]bool
}

func (r *presignRecorder) RecordPreSignature(ctx context.Context, uid order.Uid, signed bool) error {
	r.presigned[uid] = signed
	return r.OrderTable.RecordPreSignature(ctx, uid, signed)
}

func TestObserver_Tick_ReconcilesCancellationsAndPreSignatures(t *testing.T) {
	cancelledUID := order.BuildUid([32]byte{3}, eth.Address{}, 1)
	presignedUID := order.BuildUid([32]byte{4}, eth.Address{}, 1)

	store := memstore.New()
	orders := &presignRecorder{OrderTable: store.Orders, presigned: map[order.Uid]bool{}}
	require.NoError(t, store.Orders.Upsert(context.Background(), order.Order{UID: cancelledUID, ValidTo: 4_000_000_000}))
	require.NoError(t, store.Orders.Upsert(context.Background(), order.Order{UID: presignedUID, ValidTo: 4_000_000_000}))

	source := fakeEventSource{
		cancellations: []events.Cancellation{{OrderUID: cancelledUID}},
		presignatures: []events.PreSignature{{OrderUID: presignedUID, Signed: true}},
	}

	o := New(zap.NewNop(), time.Second, source, fakeTxLookup{}, &fakeCorrelator{}, orders, store.SettlementTxs,
		fakeScores{}, &fakeBans{})
	require.NoError(t, o.tick(context.Background()))

	open, err := store.Orders.Open(context.Background())
	require.NoError(t, err)
	for _, ord := range open {
		require.NotEqual(t, cancelledUID, ord.UID, "a cancelled order must drop out of the open set")
	}
	require.True(t, orders.presigned[presignedUID], "a PreSignature event must be applied to the order store")
}

func TestObserver_RefreshOrderFill_SumsTradesAndRemovesFullyFilledOrder(t *testing.T) {
	uid := order.BuildUid([32]byte{1}, eth.Address{}, 1)
	store := memstore.New()
	require.NoError(t, store.Orders.Upsert(context.Background(), order.Order{
		UID: uid, PartiallyFillable: false, ValidTo: 4_000_000_000,
	}))

	source := fakeEventSource{trades: map[order.Uid][]events.Trade{
		uid: {
			{OrderUID: uid, SellAmount: eth.NewU256FromUint64(40), BuyAmount: eth.NewU256FromUint64(80)},
			{OrderUID: uid, SellAmount: eth.NewU256FromUint64(10), BuyAmount: eth.NewU256FromUint64(20)},
		},
	}}

	o := New(zap.NewNop(), time.Second, source, fakeTxLookup{}, &fakeCorrelator{}, store.Orders, store.SettlementTxs, fakeScores{}, &fakeBans{})
	require.NoError(t, o.RefreshOrderFill(context.Background(), uid))

	open, err := store.Orders.Open(context.Background())
	require.NoError(t, err)
	require.Empty(t, open, "a fully filled, non-partially-fillable order must drop out of the open set")
}

func TestObserver_RefreshOrderFill_EmptyTradesRecordsZero(t *testing.T) {
	uid := order.BuildUid([32]byte{2}, eth.Address{}, 1)
	store := memstore.New()
	require.NoError(t, store.Orders.Upsert(context.Background(), order.Order{UID: uid, ValidTo: 4_000_000_000}))

	o := New(zap.NewNop(), time.Second, fakeEventSource{trades: map[order.Uid][]events.Trade{}}, fakeTxLookup{}, &fakeCorrelator{}, store.Orders, store.SettlementTxs, fakeScores{}, &fakeBans{})
	require.NoError(t, o.RefreshOrderFill(context.Background(), uid))
}
