package walcache

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cowmesh/autopilot/pkg/domain/auction"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "walcache"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCache_Load_EmptyIsNotFound(t *testing.T) {
	c := openTestCache(t)

	_, ok, err := c.Load()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCache_SaveThenLoad_RoundTrips(t *testing.T) {
	c := openTestCache(t)

	a := auction.Auction{Id: 7, Block: 100}
	require.NoError(t, c.Save(a))

	got, ok, err := c.Load()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, a.Id, got.Id)
	require.Equal(t, a.Block, got.Block)
}

func TestCache_Save_OverwritesPreviousEntry(t *testing.T) {
	c := openTestCache(t)

	require.NoError(t, c.Save(auction.Auction{Id: 1, Block: 1}))
	require.NoError(t, c.Save(auction.Auction{Id: 2, Block: 2}))

	got, ok, err := c.Load()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, auction.Id(2), got.Id)
}
