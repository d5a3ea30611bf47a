// Package eth holds the small set of Ethereum-flavored value types shared
// across the autopilot: addresses and the checked 256-bit arithmetic that
// amounts, prices and scores are built on.
package eth

import (
	"encoding/json"
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

// ErrOverflow is returned by checked arithmetic instead of silently wrapping.
var ErrOverflow = errors.New("eth: uint256 overflow")

// U256 is a 256-bit unsigned integer with checked (non-wrapping) arithmetic.
// Amounts, prices and solver scores are all U256 per the domain model: every
// operation that could wrap returns ErrOverflow instead.
type U256 struct {
	v uint256.Int
}

// Zero is the additive identity.
var Zero = U256{}

// NewU256FromUint64 builds a U256 from a machine integer.
func NewU256FromUint64(v uint64) U256 {
	var u uint256.Int
	u.SetUint64(v)
	return U256{v: u}
}

// NewU256FromBig converts a big.Int, rejecting negative values and values
// that don't fit in 256 bits.
func NewU256FromBig(b *big.Int) (U256, error) {
	if b == nil {
		return U256{}, errors.New("eth: nil big.Int")
	}
	if b.Sign() < 0 {
		return U256{}, errors.New("eth: negative value")
	}
	u, overflow := uint256.FromBig(b)
	if overflow {
		return U256{}, ErrOverflow
	}
	return U256{v: *u}, nil
}

// NewU256FromDecimal parses a base-10 string.
func NewU256FromDecimal(s string) (U256, error) {
	var u uint256.Int
	if err := u.SetFromDecimal(s); err != nil {
		return U256{}, err
	}
	return U256{v: u}, nil
}

// NewU256FromHex parses a 0x-prefixed hex string.
func NewU256FromHex(s string) (U256, error) {
	u, err := uint256.FromHex(s)
	if err != nil {
		return U256{}, err
	}
	return U256{v: *u}, nil
}

func (u U256) IsZero() bool { return u.v.IsZero() }

func (u U256) Cmp(o U256) int { return u.v.Cmp(&o.v) }

func (u U256) Big() *big.Int { return u.v.ToBig() }

func (u U256) String() string { return u.v.Dec() }

func (u U256) Hex() string { return u.v.Hex() }

// Add returns u+o, or ErrOverflow if the sum doesn't fit in 256 bits.
func (u U256) Add(o U256) (U256, error) {
	var out uint256.Int
	_, overflow := out.AddOverflow(&u.v, &o.v)
	if overflow {
		return U256{}, ErrOverflow
	}
	return U256{v: out}, nil
}

// Sub returns u-o, or an error if o > u (amounts never go negative).
func (u U256) Sub(o U256) (U256, error) {
	if u.Cmp(o) < 0 {
		return U256{}, errors.New("eth: subtraction underflow")
	}
	var out uint256.Int
	out.Sub(&u.v, &o.v)
	return U256{v: out}, nil
}

// Mul returns u*o, or ErrOverflow on overflow.
func (u U256) Mul(o U256) (U256, error) {
	var out uint256.Int
	_, overflow := out.MulOverflow(&u.v, &o.v)
	if overflow {
		return U256{}, ErrOverflow
	}
	return U256{v: out}, nil
}

// Div returns u/o, truncated, erroring on division by zero.
func (u U256) Div(o U256) (U256, error) {
	if o.IsZero() {
		return U256{}, errors.New("eth: division by zero")
	}
	var out uint256.Int
	out.Div(&u.v, &o.v)
	return U256{v: out}, nil
}

// MarshalJSON renders the value as a base-10 string, matching the decimal
// JSON amounts the driver HTTP API exchanges.
func (u U256) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.v.Dec())
}

func (u *U256) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*u = U256{}
		return nil
	}
	var v uint256.Int
	if err := v.SetFromDecimal(s); err != nil {
		return err
	}
	u.v = v
	return nil
}
