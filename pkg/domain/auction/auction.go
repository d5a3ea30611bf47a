// Package auction holds the batch auction that the solver competition bids
// on: the set of orders currently solvable, the reference prices they trade
// at, and the bookkeeping that tracks which JIT orders may keep surplus.
package auction

import (
	"fmt"

	"github.com/cowmesh/autopilot/pkg/domain/eth"
	"github.com/cowmesh/autopilot/pkg/domain/order"
)

// Id uniquely identifies an auction within this autopilot's lifetime.
// Ids are allocated monotonically and never reused.
type Id int64

// Price is a token's reference price, quoted such that multiplying an
// amount of the token by Price and dividing by 10^18 gives the amount's
// value in the auction's native-currency unit. A Price may never be
// zero: a token with no price is excluded from the auction by the
// solvable-order cache, not priced at zero.
type Price struct{ eth.U256 }

func NewPrice(u eth.U256) (Price, error) {
	if u.IsZero() {
		return Price{}, fmt.Errorf("auction: zero price is not a valid price")
	}
	return Price{u}, nil
}

// InEth converts an amount of a token priced at p into the auction's
// native-currency unit: floor(amount * price / 1e18).
func (p Price) InEth(amount eth.U256) (eth.U256, error) {
	product, err := amount.Mul(p.U256)
	if err != nil {
		return eth.U256{}, fmt.Errorf("auction: price conversion overflow: %w", err)
	}
	return product.Div(weiPerToken)
}

var weiPerToken = eth.NewU256FromUint64FixedPoint()

// Prices maps each token that appears in the auction's orders to its
// reference price. Every token referenced by a non-liquidity order in the
// auction must have an entry; the auction builder drops any such order
// missing one.
type Prices map[eth.Address]Price

// SurplusCapturingJitOwners is the set of owner addresses allowed to place
// just-in-time orders that keep their own surplus rather than returning it
// to the protocol, as supplied by the caller that builds the auction.
type SurplusCapturingJitOwners map[eth.Address]struct{}

func (s SurplusCapturingJitOwners) Contains(owner eth.Address) bool {
	_, ok := s[owner]
	return ok
}

// TrustedTokens is the set of tokens the settlement contract is willing to
// internalize. It rides along on the auction as a solver strategy hint and
// plays no part in Validate's invariants.
type TrustedTokens map[eth.Address]struct{}

func (t TrustedTokens) Contains(token eth.Address) bool {
	_, ok := t[token]
	return ok
}

// Auction is the unit of work one competition round bids on: a block-pinned
// snapshot of solvable orders and the prices they're valued at.
type Auction struct {
	Id                        Id
	Block                     uint64
	LatestSettlementBlock     uint64
	Orders                    []order.Order
	Prices                    Prices
	SurplusCapturingJitOwners SurplusCapturingJitOwners
	TrustedTokens             TrustedTokens
}

// Validate checks the invariants an auction must satisfy before it is
// published to solvers: every order references only priced tokens, and no
// order appears twice. Liquidity orders are exempt from the price check,
// matching the builder's own exemption for them.
func (a Auction) Validate() error {
	seen := make(map[order.Uid]struct{}, len(a.Orders))
	for _, o := range a.Orders {
		if _, dup := seen[o.UID]; dup {
			return fmt.Errorf("auction %d: duplicate order %s", a.Id, o.UID)
		}
		seen[o.UID] = struct{}{}

		if o.Class == order.ClassLiquidity {
			continue
		}

		if _, ok := a.Prices[o.SellToken]; !ok {
			return fmt.Errorf("auction %d: order %s missing sell token price", a.Id, o.UID)
		}
		if _, ok := a.Prices[o.BuyToken]; !ok {
			return fmt.Errorf("auction %d: order %s missing buy token price", a.Id, o.UID)
		}
	}
	return nil
}

// IsEmpty reports whether the auction has no orders worth running a
// competition over.
func (a Auction) IsEmpty() bool { return len(a.Orders) == 0 }
