package eth

import (
	"github.com/ethereum/go-ethereum/common"
)

// Address is the 20-byte Ethereum account/contract address used throughout
// the domain: order owners, token addresses, solver accounts.
type Address = common.Address

// HexToAddress parses a 0x-prefixed (or bare) hex string into an Address,
// left-padding or truncating exactly as go-ethereum's common package does.
func HexToAddress(s string) Address { return common.HexToAddress(s) }

// TokenAddress distinguishes a token contract address from a plain account
// address at the type level, even though both are the same 20 bytes.
type TokenAddress Address

func (t TokenAddress) Address() Address { return Address(t) }

func (t TokenAddress) String() string { return Address(t).Hex() }

// TokenAmount is an amount denominated in a specific token's smallest unit.
type TokenAmount struct{ U256 }

func NewTokenAmount(u U256) TokenAmount { return TokenAmount{u} }

// Ether is a wei-denominated amount, used for native-currency-equivalent
// values: prices and solver scores.
type Ether struct{ U256 }

func NewEther(u U256) Ether { return Ether{u} }

// weiPerToken is 10^18, the base unit the price formula divides by.
var weiPerToken = NewU256FromUint64FixedPoint()

func NewU256FromUint64FixedPoint() U256 {
	base := NewU256FromUint64(10)
	out := NewU256FromUint64(1)
	for i := 0; i < 18; i++ {
		var err error
		out, err = out.Mul(base)
		if err != nil {
			panic("eth: 10^18 overflowed u256, impossible")
		}
	}
	return out
}
