// Package walcache mirrors the most recently built auction snapshot to a
// local Pebble instance, so it survives a process restart. Only Save is
// wired into the service; nothing outside this package's tests calls Load.
package walcache

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/cowmesh/autopilot/pkg/domain/auction"
)

const currentAuctionKey = "auction:current"

// Cache is a single-key write-ahead mirror, not a general store: every
// Save overwrites the previous entry, and Load only ever returns the
// latest one.
type Cache struct {
	db *pebble.DB
}

func Open(path string) (*Cache, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("walcache: open %s: %w", path, err)
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error { return c.db.Close() }

// Save durably records the auction that was just built, fsyncing so a
// process crash immediately after a tick never loses the handoff state.
func (c *Cache) Save(a auction.Auction) error {
	val, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("walcache: encode auction %d: %w", a.Id, err)
	}
	if err := c.db.Set([]byte(currentAuctionKey), val, pebble.Sync); err != nil {
		return fmt.Errorf("walcache: write auction %d: %w", a.Id, err)
	}
	return nil
}

// Load returns the last auction Save wrote, or ok=false if none has ever
// been written on this replica.
func (c *Cache) Load() (a auction.Auction, ok bool, err error) {
	val, closer, err := c.db.Get([]byte(currentAuctionKey))
	if err == pebble.ErrNotFound {
		return auction.Auction{}, false, nil
	}
	if err != nil {
		return auction.Auction{}, false, fmt.Errorf("walcache: read current auction: %w", err)
	}
	defer closer.Close()

	if err := json.Unmarshal(val, &a); err != nil {
		return auction.Auction{}, false, fmt.Errorf("walcache: decode current auction: %w", err)
	}
	return a, true, nil
}
