// Package leaderlock implements single-leader election across autopilot
// replicas using a Postgres session-level advisory lock, a direct port of
// the leader lock this system's original Rust implementation used
// (crates/database/src/leader_pg_lock.rs): one held connection, acquire via
// pg_try_advisory_lock, verify liveness with a trivial query each tick,
// release with pg_advisory_unlock on graceful step-down.
package leaderlock

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// Lock holds (or contests) one named advisory lock. The lock key is
// hashed via Postgres's hashtextextended so any string config key can
// identify the lock, matching the original's key derivation.
type Lock struct {
	db   *sql.DB
	conn *sql.Conn
	key  string

	isLeader bool
}

// Open prepares a Lock against the given DSN. It does not attempt to
// acquire leadership; call Tick to do that.
func Open(ctx context.Context, dsn, key string) (*Lock, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("leaderlock: open: %w", err)
	}
	return &Lock{db: db, key: key}, nil
}

func (l *Lock) Close() error {
	if l.conn != nil {
		_ = l.releaseLocked(context.Background())
	}
	return l.db.Close()
}

// Tick attempts to become (or remain) leader. While already leader, it
// pings the held connection to verify the session is still alive,
// demoting itself if the ping fails — a dead session means Postgres has
// already released the advisory lock on our behalf.
func (l *Lock) Tick(ctx context.Context) (bool, error) {
	if l.isLeader {
		if _, err := l.conn.ExecContext(ctx, "SELECT 1"); err != nil {
			l.demote()
			return false, nil
		}
		return true, nil
	}

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("leaderlock: acquire connection: %w", err)
	}

	var acquired bool
	const q = `SELECT pg_try_advisory_lock(hashtextextended($1, 0))`
	if err := conn.QueryRowContext(ctx, q, l.key).Scan(&acquired); err != nil {
		conn.Close()
		return false, fmt.Errorf("leaderlock: try lock: %w", err)
	}
	if !acquired {
		conn.Close()
		return false, nil
	}

	l.conn = conn
	l.isLeader = true
	return true, nil
}

// StepDown releases the advisory lock explicitly, for use on graceful
// shutdown; the run loop must call this before the process exits while
// still leader so the next replica can acquire it without waiting for
// the session to time out.
func (l *Lock) StepDown(ctx context.Context) error {
	if !l.isLeader {
		return nil
	}
	return l.releaseLocked(ctx)
}

func (l *Lock) releaseLocked(ctx context.Context) error {
	const q = `SELECT pg_advisory_unlock(hashtextextended($1, 0))`
	_, err := l.conn.ExecContext(ctx, q, l.key)
	closeErr := l.conn.Close()
	l.conn = nil
	l.isLeader = false
	if err != nil {
		return fmt.Errorf("leaderlock: unlock: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("leaderlock: close session: %w", closeErr)
	}
	return nil
}

func (l *Lock) demote() {
	if l.conn != nil {
		_ = l.conn.Close()
	}
	l.conn = nil
	l.isLeader = false
}

// IsLeader reports the last-known leadership state without making a
// network call; callers wanting a fresh check should call Tick.
func (l *Lock) IsLeader() bool { return l.isLeader }
