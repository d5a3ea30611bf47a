package oracles

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cowmesh/autopilot/pkg/domain/auction"
	"github.com/cowmesh/autopilot/pkg/domain/eth"
)

func TestStaticBadTokenDetector_FlagAtRuntime(t *testing.T) {
	token := eth.HexToAddress("0x1111111111111111111111111111111111111111")
	d := NewStaticBadTokenDetector(nil)

	bad, err := d.IsBad(context.Background(), token)
	require.NoError(t, err)
	require.False(t, bad)

	d.Flag(token)
	bad, err = d.IsBad(context.Background(), token)
	require.NoError(t, err)
	require.True(t, bad)
}

func TestStaticBadTokenDetector_SeededInitial(t *testing.T) {
	token := eth.HexToAddress("0x2222222222222222222222222222222222222222")
	d := NewStaticBadTokenDetector([]eth.Address{token})

	bad, err := d.IsBad(context.Background(), token)
	require.NoError(t, err)
	require.True(t, bad)
}

func TestPriceOracle_UpdateThenRead(t *testing.T) {
	token := eth.HexToAddress("0x3333333333333333333333333333333333333333")
	p := NewPriceOracle()

	_, ok, err := p.Price(context.Background(), token)
	require.NoError(t, err)
	require.False(t, ok)

	price, err := auction.NewPrice(eth.NewU256FromUint64(5))
	require.NoError(t, err)
	p.Update(token, price)

	got, ok, err := p.Price(context.Background(), token)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, price, got)
}

func TestJitOwnerRegistry_ReplaceAndCurrent(t *testing.T) {
	owner1 := eth.HexToAddress("0x1111111111111111111111111111111111111111")
	owner2 := eth.HexToAddress("0x2222222222222222222222222222222222222222")

	r := NewJitOwnerRegistry([]eth.Address{owner1})
	current := r.Current()
	require.True(t, current.Contains(owner1))
	require.False(t, current.Contains(owner2))

	r.Replace([]eth.Address{owner2})
	current = r.Current()
	require.False(t, current.Contains(owner1))
	require.True(t, current.Contains(owner2))
}

func TestJitOwnerRegistry_CurrentIsDefensiveCopy(t *testing.T) {
	owner := eth.HexToAddress("0x1111111111111111111111111111111111111111")
	r := NewJitOwnerRegistry([]eth.Address{owner})

	snapshot := r.Current()
	delete(snapshot, owner)

	require.True(t, r.Current().Contains(owner), "mutating a snapshot must not affect the registry")
}
