package competition

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cowmesh/autopilot/pkg/domain/auction"
	domaincomp "github.com/cowmesh/autopilot/pkg/domain/competition"
	"github.com/cowmesh/autopilot/pkg/domain/eth"
	"github.com/cowmesh/autopilot/pkg/domain/order"
	"github.com/cowmesh/autopilot/pkg/driverclient"
)

func testAuction() auction.Auction {
	sellToken := eth.HexToAddress("0x1111111111111111111111111111111111111111")
	buyToken := eth.HexToAddress("0x2222222222222222222222222222222222222222")
	o := order.Order{
		UID:        order.BuildUid([32]byte{1}, eth.Address{}, 1),
		SellToken:  sellToken,
		BuyToken:   buyToken,
		SellAmount: eth.NewU256FromUint64(100),
		BuyAmount:  eth.NewU256FromUint64(100),
		ValidTo:    1,
		Side:       order.Sell,
	}
	price, err := auction.NewPrice(eth.NewU256FromUint64(1))
	if err != nil {
		panic(err)
	}
	return auction.Auction{
		Id:     1,
		Orders: []order.Order{o},
		Prices: auction.Prices{sellToken: price, buyToken: price},
	}
}

func solutionFor(a auction.Auction, id uint64, score string) driverclient.SolutionJSON {
	orders := make(map[string]driverclient.TradedAmountsJSON, len(a.Orders))
	prices := make(map[string]string, len(a.Prices))
	for _, o := range a.Orders {
		orders[o.UID.String()] = driverclient.TradedAmountsJSON{Sell: "100", Buy: "100"}
		prices[o.SellToken.Hex()] = "1"
		prices[o.BuyToken.Hex()] = "1"
	}
	return driverclient.SolutionJSON{ID: id, Account: "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", Score: score, Orders: orders, Prices: prices}
}

func TestIngestBids_AcceptsValidSolution(t *testing.T) {
	a := testAuction()
	responses := []driverResponse{
		{driver: "d1", resp: driverclient.SolveResponse{Solutions: []driverclient.SolutionJSON{solutionFor(a, 1, "500")}}},
	}

	bids, rejected := ingestBids(a, responses)
	require.Len(t, bids, 1)
	require.Empty(t, rejected)
	require.Equal(t, domaincomp.DriverName("d1"), bids[0].Driver)
}

func TestIngestBids_RejectsZeroScore(t *testing.T) {
	a := testAuction()
	responses := []driverResponse{
		{driver: "d1", resp: driverclient.SolveResponse{Solutions: []driverclient.SolutionJSON{solutionFor(a, 1, "0")}}},
	}

	bids, rejected := ingestBids(a, responses)
	require.Empty(t, bids)
	require.Len(t, rejected, 1)
	require.Equal(t, driverclient.NotifyEmptySolution, rejected[0].Reason)
}

func TestIngestBids_RejectsDuplicateSolutionID(t *testing.T) {
	a := testAuction()
	sol := solutionFor(a, 1, "500")
	responses := []driverResponse{
		{driver: "d1", resp: driverclient.SolveResponse{Solutions: []driverclient.SolutionJSON{sol, sol}}},
	}

	bids, rejected := ingestBids(a, responses)
	require.Len(t, bids, 1)
	require.Len(t, rejected, 1)
	require.Equal(t, driverclient.NotifyDuplicatedSolutionId, rejected[0].Reason)
}

func TestIngestBids_RejectsUnknownOrderUid(t *testing.T) {
	a := testAuction()
	sol := solutionFor(a, 1, "500")
	foreignUID := order.BuildUid([32]byte{9}, eth.Address{9}, 1).String()
	sol.Orders[foreignUID] = driverclient.TradedAmountsJSON{Sell: "1", Buy: "1"}

	responses := []driverResponse{
		{driver: "d1", resp: driverclient.SolveResponse{Solutions: []driverclient.SolutionJSON{sol}}},
	}

	_, rejected := ingestBids(a, responses)
	require.Len(t, rejected, 1)
	require.Equal(t, driverclient.NotifyInvalidClearingPrices, rejected[0].Reason)
}

func TestIngestBids_DriverErrorYieldsNoBids(t *testing.T) {
	a := testAuction()
	responses := []driverResponse{{driver: "d1", err: require.AnError}}

	bids, rejected := ingestBids(a, responses)
	require.Empty(t, bids)
	require.Len(t, rejected, 1)
	require.Equal(t, driverclient.NotifyTimeout, rejected[0].Reason)
}
