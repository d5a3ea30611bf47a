// Package competition holds the domain types a solver competition round
// operates on: the solutions drivers submit, their scores, and the
// type-state progression a bid moves through from submission to ranking.
package competition

import (
	"fmt"

	"github.com/cowmesh/autopilot/pkg/domain/eth"
	"github.com/cowmesh/autopilot/pkg/domain/order"
)

// SolutionId is a driver-assigned identifier, unique only within the
// solutions that one driver submits for one auction.
type SolutionId uint64

// TradedAmounts is how much of an order a solution proposes to execute,
// carried per order so the settlement observer can later confirm it
// against on-chain Trade events.
type TradedAmounts struct {
	OrderUID order.Uid
	Sell     eth.U256
	Buy      eth.U256
}

// Solution is one driver's proposed settlement for an auction: which
// orders it clears, in what amounts, and at what clearing prices.
// ReportedScore is the score the driver claims for it; per the design
// decision in DESIGN.md, the autopilot treats this as an opaque positive
// integer rather than recomputing surplus itself — the Unscored→Scored
// transition only validates and wraps it.
type Solution struct {
	Id            SolutionId
	Solver        eth.Address
	Prices        map[eth.Address]eth.U256
	Trades        []TradedAmounts
	GasUsed       eth.U256
	ReportedScore eth.U256
}

// Score is a solution's ranking value: the surplus, net of gas, the
// solution is estimated to deliver. A Score may never be zero or negative;
// a solution that delivers no improvement is simply not submitted.
type Score struct{ eth.U256 }

func NewScore(u eth.U256) (Score, error) {
	if u.IsZero() {
		return Score{}, fmt.Errorf("competition: score must be positive, got zero")
	}
	return Score{u}, nil
}
