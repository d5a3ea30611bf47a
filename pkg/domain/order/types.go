// Package order holds the order domain model: the signed intent a trader
// places, and the on-chain identifiers/enums that the rest of the autopilot
// keys its bookkeeping on.
package order

import (
	"encoding/hex"
	"fmt"

	"github.com/cowmesh/autopilot/pkg/domain/eth"
)

// Uid is the 56-byte order identifier the settlement contract uses:
// 32 bytes order digest || 20 bytes owner || 4 bytes validTo (big-endian).
// It is derived, never chosen by the trader, so equality of Uid already
// implies equality of every field it was derived from.
type Uid [56]byte

func (u Uid) String() string { return fmt.Sprintf("0x%x", [56]byte(u)) }

// UidFromHex parses a Uid previously rendered by String, of the form
// "0x" followed by 112 hex characters.
func UidFromHex(s string) (Uid, error) {
	var u Uid
	if len(s) >= 2 && (s[0:2] == "0x" || s[0:2] == "0X") {
		s = s[2:]
	}
	if len(s) != 112 {
		return Uid{}, fmt.Errorf("order: uid hex must be 112 characters, got %d", len(s))
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return Uid{}, fmt.Errorf("order: parse uid: %w", err)
	}
	copy(u[:], decoded)
	return u, nil
}

func (u Uid) OrderDigest() [32]byte {
	var d [32]byte
	copy(d[:], u[0:32])
	return d
}

func (u Uid) Owner() eth.Address {
	var a eth.Address
	copy(a[:], u[32:52])
	return a
}

func (u Uid) ValidTo() uint32 {
	return uint32(u[52])<<24 | uint32(u[53])<<16 | uint32(u[54])<<8 | uint32(u[55])
}

// BuildUid assembles a Uid from its three components, the inverse of the
// accessor methods above.
func BuildUid(digest [32]byte, owner eth.Address, validTo uint32) Uid {
	var u Uid
	copy(u[0:32], digest[:])
	copy(u[32:52], owner[:])
	u[52] = byte(validTo >> 24)
	u[53] = byte(validTo >> 16)
	u[54] = byte(validTo >> 8)
	u[55] = byte(validTo)
	return u
}

// Side is the direction of an order: which token the trader gives up.
type Side uint8

const (
	Sell Side = iota + 1
	Buy
)

func (s Side) String() string {
	switch s {
	case Sell:
		return "sell"
	case Buy:
		return "buy"
	default:
		return "unknown"
	}
}

// Class distinguishes how an order participates in a batch: market orders
// must receive at least their limit price, limit orders rest until matched,
// liquidity orders are supplied by market makers and never pay surplus.
type Class uint8

const (
	ClassMarket Class = iota + 1
	ClassLimit
	ClassLiquidity
)

func (c Class) String() string {
	switch c {
	case ClassMarket:
		return "market"
	case ClassLimit:
		return "limit"
	case ClassLiquidity:
		return "liquidity"
	default:
		return "unknown"
	}
}

// SellTokenSource says where the sell amount is debited from.
type SellTokenSource uint8

const (
	SourceErc20 SellTokenSource = iota + 1
	SourceInternal
	SourceExternal
)

// BuyTokenDestination says where the buy amount is credited to.
type BuyTokenDestination uint8

const (
	DestinationErc20 BuyTokenDestination = iota + 1
	DestinationInternal
)

// SignatureScheme identifies how Signature should be interpreted.
type SignatureScheme uint8

const (
	SchemeEip712 SignatureScheme = iota + 1
	SchemeEthSign
	SchemeEip1271
	SchemePreSign
)

// Signature carries the signature bytes and the scheme needed to verify
// them. EIP-1271 signatures additionally require an on-chain call against
// the owner contract; PreSign orders carry no bytes at all, only an
// on-chain presignature event.
type Signature struct {
	Scheme SignatureScheme
	Data   []byte
}

// Interaction is a contract call the settlement bundles alongside an order's
// swap, typically used by liquidity orders to pull funds from an external
// venue before the trade executes.
type Interaction struct {
	Target    eth.Address
	Value     eth.U256
	CallData  []byte
}

// Order is a trader's signed intent to trade one token for another, subject
// to amounts, deadline and any partial-fill policy.
type Order struct {
	UID         Uid
	Owner       eth.Address
	SellToken   eth.Address
	BuyToken    eth.Address
	SellAmount  eth.U256
	BuyAmount   eth.U256
	FeeAmount   eth.U256
	ValidTo     uint32
	AppData     [32]byte
	Side        Side
	Class       Class
	PartiallyFillable bool
	SellTokenSource   SellTokenSource
	BuyTokenDestination BuyTokenDestination
	Signature   Signature

	// PreInteractions and PostInteractions run before/after the swap,
	// respectively, as part of the same settlement transaction.
	PreInteractions  []Interaction
	PostInteractions []Interaction
}

// Validate checks the invariants every order must satisfy before it can
// enter a batch: nonzero amounts, distinct sell and buy tokens, a nonzero
// deadline and a known side. The class is not checked.
func (o Order) Validate() error {
	if o.SellAmount.IsZero() {
		return fmt.Errorf("order %s: sell amount is zero", o.UID)
	}
	if o.BuyAmount.IsZero() {
		return fmt.Errorf("order %s: buy amount is zero", o.UID)
	}
	if o.SellToken == o.BuyToken {
		return fmt.Errorf("order %s: sell and buy token are identical", o.UID)
	}
	if o.ValidTo == 0 {
		return fmt.Errorf("order %s: validTo is zero", o.UID)
	}
	if o.Side != Sell && o.Side != Buy {
		return fmt.Errorf("order %s: invalid side %d", o.UID, o.Side)
	}
	return nil
}

// ExecutedAmounts is how much of an order's sell/buy side a settlement
// actually moved, which for partially-fillable orders can be less than the
// order's stated amounts.
type ExecutedAmounts struct {
	Sell eth.U256
	Buy  eth.U256
}
