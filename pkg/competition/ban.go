package competition

import (
	"sync"
	"time"

	domaincomp "github.com/cowmesh/autopilot/pkg/domain/competition"
)

// BanTracker temporarily excludes a driver from future competitions once
// it has won K consecutive auctions without a corresponding on-chain
// settlement being observed. A win resets the counter only when
// ReportSettled is called for it; ReportWin without a matching
// settlement before the next win increments the streak.
type BanTracker struct {
	mu        sync.Mutex
	threshold int
	window    time.Duration
	streaks   map[domaincomp.DriverName]int
	bannedAt  map[domaincomp.DriverName]time.Time
	now       func() time.Time
}

func NewBanTracker(threshold int, window time.Duration) *BanTracker {
	return &BanTracker{
		threshold: threshold,
		window:    window,
		streaks:   make(map[domaincomp.DriverName]int),
		bannedAt:  make(map[domaincomp.DriverName]time.Time),
		now:       time.Now,
	}
}

// ReportWin records that driver won an auction; if this is its Kth
// consecutive win without a reported settlement, the driver is banned.
func (t *BanTracker) ReportWin(driver domaincomp.DriverName) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.streaks[driver]++
	if t.streaks[driver] >= t.threshold {
		t.bannedAt[driver] = t.now()
	}
}

// ReportSettled clears a driver's unsettled-win streak once its solution
// is confirmed on-chain.
func (t *BanTracker) ReportSettled(driver domaincomp.DriverName) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.streaks[driver] = 0
}

// IsBanned reports whether driver is currently serving a ban, lifting it
// automatically once the ban window has elapsed.
func (t *BanTracker) IsBanned(driver domaincomp.DriverName) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.bannedAt[driver]
	if !ok {
		return false
	}
	if t.now().Sub(at) >= t.window {
		delete(t.bannedAt, driver)
		t.streaks[driver] = 0
		return false
	}
	return true
}
