package eth

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestU256_Add(t *testing.T) {
	a := NewU256FromUint64(5)
	b := NewU256FromUint64(7)
	sum, err := a.Add(b)
	require.NoError(t, err)
	require.Equal(t, "12", sum.String())
}

func TestU256_Add_Overflow(t *testing.T) {
	max, err := NewU256FromHex("0xffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff")
	require.NoError(t, err)
	_, err = max.Add(NewU256FromUint64(1))
	require.ErrorIs(t, err, ErrOverflow)
}

func TestU256_Sub_Underflow(t *testing.T) {
	small := NewU256FromUint64(1)
	big := NewU256FromUint64(2)
	_, err := small.Sub(big)
	require.Error(t, err)
}

func TestU256_Div_ByZero(t *testing.T) {
	_, err := NewU256FromUint64(10).Div(Zero)
	require.Error(t, err)
}

func TestU256_JSONRoundTrip(t *testing.T) {
	v := NewU256FromUint64(123456789)
	data, err := v.MarshalJSON()
	require.NoError(t, err)
	require.Equal(t, `"123456789"`, string(data))

	var out U256
	require.NoError(t, out.UnmarshalJSON(data))
	require.Equal(t, 0, v.Cmp(out))
}

func TestU256_UnmarshalJSON_Empty(t *testing.T) {
	var out U256
	require.NoError(t, out.UnmarshalJSON([]byte(`""`)))
	require.True(t, out.IsZero())
}
