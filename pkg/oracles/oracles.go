// Package oracles adapts chainrpc and static configuration into the four
// narrow collaborator interfaces solvablecache.Cache depends on
// (BalanceOracle, BadTokenDetector, SignatureValidator, PriceOracle),
// keeping the cache itself free of any direct chain or storage dependency.
package oracles

import (
	"context"
	"fmt"
	"sync"

	"github.com/cowmesh/autopilot/pkg/domain/auction"
	"github.com/cowmesh/autopilot/pkg/domain/eth"
	"github.com/cowmesh/autopilot/pkg/domain/order"
)

// ChainCaller is the subset of chainrpc.Client the balance/signature
// oracles below call.
type ChainCaller interface {
	BalanceOf(ctx context.Context, token, owner eth.Address) (eth.U256, error)
	Allowance(ctx context.Context, token, owner, spender eth.Address) (eth.U256, error)
	CallIsValidSignature(ctx context.Context, contract eth.Address, digest [32]byte, signature []byte) (bool, error)
}

// BalanceOracle implements solvablecache.BalanceOracle against live chain
// state: an ERC20-sourced order's available balance is the lesser of the
// owner's token balance and their allowance to the settlement vault
// relayer; internal/external sources draw from the settlement contract's
// own buffers, which this autopilot doesn't model directly, so those
// sources are reported as fully available and left for the solver to
// simulate precisely.
type BalanceOracle struct {
	chain  ChainCaller
	vault  eth.Address
}

// maxU256 is 2^256-1, the balance reported for non-ERC20 sources.
var maxU256, _ = eth.NewU256FromHex("0x" + "ffffffffffffffffffffffffffffffff" + "ffffffffffffffffffffffffffffffff")

func NewBalanceOracle(chain ChainCaller, vaultRelayer eth.Address) *BalanceOracle {
	return &BalanceOracle{chain: chain, vault: vaultRelayer}
}

func (b *BalanceOracle) AvailableBalance(ctx context.Context, owner, sellToken eth.Address, source order.SellTokenSource) (eth.U256, error) {
	if source != order.SourceErc20 {
		return maxU256, nil
	}
	balance, err := b.chain.BalanceOf(ctx, sellToken, owner)
	if err != nil {
		return eth.U256{}, fmt.Errorf("oracles: balance of %s for %s: %w", sellToken, owner, err)
	}
	allowance, err := b.chain.Allowance(ctx, sellToken, owner, b.vault)
	if err != nil {
		return eth.U256{}, fmt.Errorf("oracles: allowance of %s for %s: %w", sellToken, owner, err)
	}
	if allowance.Cmp(balance) < 0 {
		return allowance, nil
	}
	return balance, nil
}

// StaticBadTokenDetector flags tokens on a configured denylist, refreshable
// at runtime as new bad tokens are identified.
type StaticBadTokenDetector struct {
	mu  sync.RWMutex
	bad map[eth.Address]struct{}
}

func NewStaticBadTokenDetector(initial []eth.Address) *StaticBadTokenDetector {
	d := &StaticBadTokenDetector{bad: make(map[eth.Address]struct{}, len(initial))}
	for _, t := range initial {
		d.bad[t] = struct{}{}
	}
	return d
}

func (d *StaticBadTokenDetector) IsBad(_ context.Context, token eth.Address) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, bad := d.bad[token]
	return bad, nil
}

func (d *StaticBadTokenDetector) Flag(token eth.Address) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bad[token] = struct{}{}
}

// SignatureValidator implements solvablecache.SignatureValidator by
// re-invoking the owner contract's isValidSignature(bytes32,bytes) view
// function, since an EIP-1271 contract's answer can change between order
// submission and auction time (e.g. a multisig threshold changed).
type SignatureValidator struct {
	chain ChainCaller
}

func NewSignatureValidator(chain ChainCaller) *SignatureValidator {
	return &SignatureValidator{chain: chain}
}

func (s *SignatureValidator) IsValid(ctx context.Context, o order.Order) (bool, error) {
	return s.chain.CallIsValidSignature(ctx, o.Owner, o.UID.OrderDigest(), o.Signature.Data)
}

// PriceOracle serves auction clearing-reference prices out of an
// in-memory table seeded and periodically refreshed by an external price
// feed; solvablecache only ever reads through this narrow interface.
type PriceOracle struct {
	mu     sync.RWMutex
	prices map[eth.Address]auction.Price
}

func NewPriceOracle() *PriceOracle {
	return &PriceOracle{prices: make(map[eth.Address]auction.Price)}
}

func (p *PriceOracle) Price(_ context.Context, token eth.Address) (auction.Price, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	price, ok := p.prices[token]
	return price, ok, nil
}

// Update replaces the price for a token, called by whatever feed-polling
// loop keeps this oracle current.
func (p *PriceOracle) Update(token eth.Address, price auction.Price) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[token] = price
}

// JitOwnerRegistry holds the in-memory set of owners permitted to place
// surplus-capturing JIT orders: the initial list passed to
// NewJitOwnerRegistry, or whatever set was last passed to Replace. It does
// not read any on-chain allowlist; cmd/autopilot builds it empty and never
// calls Replace.
type JitOwnerRegistry struct {
	mu     sync.RWMutex
	owners auction.SurplusCapturingJitOwners
}

func NewJitOwnerRegistry(initial []eth.Address) *JitOwnerRegistry {
	r := &JitOwnerRegistry{owners: make(auction.SurplusCapturingJitOwners, len(initial))}
	for _, o := range initial {
		r.owners[o] = struct{}{}
	}
	return r
}

// Current returns the registry's present allowlist, safe to embed directly
// into a built auction.
func (r *JitOwnerRegistry) Current() auction.SurplusCapturingJitOwners {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := make(auction.SurplusCapturingJitOwners, len(r.owners))
	for o := range r.owners {
		snapshot[o] = struct{}{}
	}
	return snapshot
}

// Replace swaps in a freshly read allowlist wholesale.
func (r *JitOwnerRegistry) Replace(owners []eth.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners = make(auction.SurplusCapturingJitOwners, len(owners))
	for _, o := range owners {
		r.owners[o] = struct{}{}
	}
}
