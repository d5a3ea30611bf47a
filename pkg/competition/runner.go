// Package competition runs one solver competition round: broadcasting an
// auction to every driver, validating and ranking their proposed
// solutions, and publishing the outcome back to each driver.
package competition

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cowmesh/autopilot/pkg/domain/auction"
	domaincomp "github.com/cowmesh/autopilot/pkg/domain/competition"
	"github.com/cowmesh/autopilot/pkg/domain/eth"
	"github.com/cowmesh/autopilot/pkg/domain/order"
	"github.com/cowmesh/autopilot/pkg/driverclient"
)

// Config tunes the configurable parts of a competition round.
type Config struct {
	DriverTimeout time.Duration
	BanThreshold  int           // consecutive unsettled wins before a ban
	BanWindow     time.Duration
}

// DefaultConfig returns the standard defaults: 15s per-driver timeout, and
// a ban lasting 1h after 3 consecutive unsettled wins.
func DefaultConfig() Config {
	return Config{
		DriverTimeout: 15 * time.Second,
		BanThreshold:  3,
		BanWindow:     time.Hour,
	}
}

// Result is the outcome of one competition round.
type Result struct {
	Winner    *domaincomp.BidRanked
	RunnerUp  *domaincomp.BidRanked
	Ranked    []domaincomp.BidRanked
	Rejected  []RejectedBid
}

// RejectedBid records a solution dropped during bid ingestion, so the
// reason is available for logs/metrics without retaining the solution. The
// reason is the same typed NotificationKind the driver is told about when
// the round is published.
type RejectedBid struct {
	Driver domaincomp.DriverName
	Reason driverclient.NotificationKind
}

// Runner drives the broadcast/rank/ban protocol against a fixed set of
// drivers.
type Runner struct {
	Config  Config
	BanTracker *BanTracker
}

func NewRunner(cfg Config) *Runner {
	return &Runner{Config: cfg, BanTracker: NewBanTracker(cfg.BanThreshold, cfg.BanWindow)}
}

type driverResponse struct {
	driver domaincomp.DriverName
	resp   driverclient.SolveResponse
	err    error
}

// Run executes one full competition round against the given auction and
// driver set, returning the ranking and any rejected bids.
func (r *Runner) Run(ctx context.Context, a auction.Auction, drivers []*driverclient.Driver) (*Result, error) {
	active := make([]*driverclient.Driver, 0, len(drivers))
	for _, d := range drivers {
		if r.BanTracker.IsBanned(domaincomp.DriverName(d.Name)) {
			continue
		}
		active = append(active, d)
	}

	responses := r.broadcast(ctx, a, active)

	unscored, rejected := ingestBids(a, responses)

	scored := make([]domaincomp.BidScored, 0, len(unscored))
	for _, b := range unscored {
		score, err := domaincomp.NewScore(b.Solution.ReportedScore)
		if err != nil {
			rejected = append(rejected, RejectedBid{Driver: b.Driver, Reason: driverclient.NotifyEmptySolution})
			continue
		}
		scored = append(scored, b.Score(score))
	}

	ranked := rank(scored)

	result := &Result{Ranked: ranked, Rejected: rejected}
	if len(ranked) > 0 {
		w := ranked[0]
		result.Winner = &w
		r.BanTracker.ReportWin(w.Driver)
	}
	if len(ranked) > 1 {
		ru := ranked[1]
		result.RunnerUp = &ru
	}
	return result, nil
}

// broadcast issues solve(A) to every driver in parallel, each bounded by
// its own timeout, and collects whatever comes back. A driver that errors
// or times out simply contributes no bids to the round.
func (r *Runner) broadcast(ctx context.Context, a auction.Auction, drivers []*driverclient.Driver) []driverResponse {
	results := make([]driverResponse, len(drivers))
	g, gctx := errgroup.WithContext(ctx)
	req := toSolveRequest(a)

	for i, d := range drivers {
		i, d := i, d
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, r.Config.DriverTimeout)
			defer cancel()
			resp, err := d.Solve(callCtx, req)
			results[i] = driverResponse{driver: domaincomp.DriverName(d.Name), resp: resp, err: err}
			return nil
		})
	}
	_ = g.Wait() // per-driver errors are captured in results, never fatal to the round
	return results
}

func toSolveRequest(a auction.Auction) driverclient.SolveRequest {
	orders := make([]driverclient.OrderJSON, 0, len(a.Orders))
	for _, o := range a.Orders {
		orders = append(orders, driverclient.OrderJSON{
			UID:        o.UID.String(),
			SellToken:  o.SellToken.Hex(),
			BuyToken:   o.BuyToken.Hex(),
			SellAmount: o.SellAmount.String(),
			BuyAmount:  o.BuyAmount.String(),
			Kind:       o.Side.String(),
		})
	}
	prices := make(map[string]string, len(a.Prices))
	for tok, p := range a.Prices {
		prices[tok.Hex()] = p.String()
	}
	owners := make([]string, 0, len(a.SurplusCapturingJitOwners))
	for owner := range a.SurplusCapturingJitOwners {
		owners = append(owners, owner.Hex())
	}
	trustedTokens := make([]string, 0, len(a.TrustedTokens))
	for tok := range a.TrustedTokens {
		trustedTokens = append(trustedTokens, tok.Hex())
	}
	return driverclient.SolveRequest{
		ID:                        int64(a.Id),
		Block:                     a.Block,
		LatestSettlementBlock:     a.LatestSettlementBlock,
		Orders:                    orders,
		Prices:                    prices,
		SurplusCapturingJitOwners: owners,
		TrustedTokens:             trustedTokens,
	}
}

// ingestBids validates each driver's proposed solutions against the four
// rejection rules, returning the survivors as unscored bids plus a record
// of everything dropped and why.
func ingestBids(a auction.Auction, responses []driverResponse) ([]domaincomp.BidUnscored, []RejectedBid) {
	inAuction := make(map[order.Uid]order.Order, len(a.Orders))
	for _, o := range a.Orders {
		inAuction[o.UID] = o
	}

	var out []domaincomp.BidUnscored
	var rejected []RejectedBid

	for _, r := range responses {
		if r.err != nil {
			rejected = append(rejected, RejectedBid{Driver: r.driver, Reason: driverclient.NotifyTimeout})
			continue
		}
		seenSolutionIDs := make(map[uint64]struct{})
		for _, sol := range r.resp.Solutions {
			reason, ok := validateSolution(a, inAuction, sol, seenSolutionIDs)
			if !ok {
				rejected = append(rejected, RejectedBid{Driver: r.driver, Reason: reason})
				continue
			}
			seenSolutionIDs[sol.ID] = struct{}{}
			solution, err := fromSolutionJSON(sol)
			if err != nil {
				rejected = append(rejected, RejectedBid{Driver: r.driver, Reason: driverclient.NotifyEmptySolution})
				continue
			}
			out = append(out, domaincomp.NewBidUnscored(r.driver, solution))
		}
	}
	return out, rejected
}

func validateSolution(a auction.Auction, inAuction map[order.Uid]order.Order, sol driverclient.SolutionJSON, seen map[uint64]struct{}) (driverclient.NotificationKind, bool) {
	scoreU, err := eth.NewU256FromDecimal(sol.Score)
	if err != nil || scoreU.IsZero() {
		return driverclient.NotifyEmptySolution, false
	}
	if _, dup := seen[sol.ID]; dup {
		return driverclient.NotifyDuplicatedSolutionId, false
	}
	for uidHex := range sol.Orders {
		uid, err := order.UidFromHex(uidHex)
		if err != nil {
			return driverclient.NotifyEmptySolution, false
		}
		o, ok := inAuction[uid]
		if !ok {
			if !a.SurplusCapturingJitOwners.Contains(uid.Owner()) {
				return driverclient.NotifyInvalidClearingPrices, false
			}
			continue
		}
		if _, hasSell := sol.Prices[o.SellToken.Hex()]; !hasSell {
			return driverclient.NotifyInvalidClearingPrices, false
		}
		if _, hasBuy := sol.Prices[o.BuyToken.Hex()]; !hasBuy {
			return driverclient.NotifyInvalidClearingPrices, false
		}
	}
	return "", true
}

func fromSolutionJSON(sol driverclient.SolutionJSON) (domaincomp.Solution, error) {
	solver := eth.HexToAddress(sol.Account)
	score, err := eth.NewU256FromDecimal(sol.Score)
	if err != nil {
		return domaincomp.Solution{}, fmt.Errorf("competition: decode score: %w", err)
	}
	prices := make(map[eth.Address]eth.U256, len(sol.Prices))
	for tok, p := range sol.Prices {
		pu, err := eth.NewU256FromDecimal(p)
		if err != nil {
			return domaincomp.Solution{}, fmt.Errorf("competition: decode price: %w", err)
		}
		prices[eth.HexToAddress(tok)] = pu
	}
	trades := make([]domaincomp.TradedAmounts, 0, len(sol.Orders))
	for uidHex, amounts := range sol.Orders {
		uid, err := order.UidFromHex(uidHex)
		if err != nil {
			return domaincomp.Solution{}, fmt.Errorf("competition: decode traded order uid: %w", err)
		}
		sell, err := eth.NewU256FromDecimal(amounts.Sell)
		if err != nil {
			return domaincomp.Solution{}, fmt.Errorf("competition: decode traded sell: %w", err)
		}
		buy, err := eth.NewU256FromDecimal(amounts.Buy)
		if err != nil {
			return domaincomp.Solution{}, fmt.Errorf("competition: decode traded buy: %w", err)
		}
		trades = append(trades, domaincomp.TradedAmounts{OrderUID: uid, Sell: sell, Buy: buy})
	}
	return domaincomp.Solution{
		Id:            domaincomp.SolutionId(sol.ID),
		Solver:        solver,
		Prices:        prices,
		Trades:        trades,
		ReportedScore: score,
	}, nil
}
