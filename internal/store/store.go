// Package store wraps the pocketbase core.App database handle with the
// single-writer discipline spec §4.7 requires: a process-wide serialization
// gate independent of SQLite's own locking, plus truncated-exponential
// retry on transient-busy errors. Grounded on beszel's RunInTransaction
// usage throughout internal/records and internal/hub/systems, generalized
// into one reusable helper instead of being repeated at every call site.
package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/outagewatch/hub/internal/apperr"
	"github.com/outagewatch/hub/internal/clock"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
)

// backoff is the truncated-exponential retry schedule from spec §4.7:
// 10, 20, 40, 80, 160, 320 ms, giving up after ~640 ms total.
var backoff = []time.Duration{
	10 * time.Millisecond,
	20 * time.Millisecond,
	40 * time.Millisecond,
	80 * time.Millisecond,
	160 * time.Millisecond,
	320 * time.Millisecond,
}

// Store serializes writes across the whole process and classifies
// transient-busy errors so callers can retry instead of failing outright.
type Store struct {
	app   core.App
	clock clock.Clock
	// writeMu is the single-writer gate. All mutating statements acquire it
	// before entering a transaction, regardless of what SQLite itself would
	// allow to interleave.
	writeMu sync.Mutex
}

// New wraps app with the write-serialization and retry discipline.
func New(app core.App, c clock.Clock) *Store {
	return &Store{app: app, clock: c}
}

// App returns the underlying pocketbase application, for read-only queries
// and for components (cron, router) that need the full core.App surface.
func (s *Store) App() core.App { return s.app }

// Now returns the injected clock's current time.
func (s *Store) Now() time.Time { return s.clock.Now() }

// DB returns the read-side query builder. Reads never block on the writer
// gate (spec §4.7: "readers never block writers").
func (s *Store) DB() *dbx.DB {
	if db, ok := s.app.DB().(*dbx.DB); ok {
		return db
	}
	return nil
}

// Write runs fn inside a transaction, holding the single-writer gate for
// the duration and retrying on transient-busy errors per the backoff
// schedule above. fn must not perform messenger/network I/O (spec §4.7:
// "Notifier and messenger dispatches must not be enclosed in a database
// transaction").
func (s *Store) Write(ctx context.Context, fn func(txApp core.App) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var lastErr error
	for attempt := 0; attempt <= len(backoff); attempt++ {
		if ctx.Err() != nil {
			return apperr.Wrap(apperr.Transient, "write canceled", ctx.Err())
		}
		lastErr = s.app.RunInTransaction(fn)
		if lastErr == nil {
			return nil
		}
		if !isBusy(lastErr) {
			return lastErr
		}
		if attempt == len(backoff) {
			break
		}
		select {
		case <-ctx.Done():
			return apperr.Wrap(apperr.Transient, "write canceled during backoff", ctx.Err())
		case <-time.After(backoff[attempt]):
		}
	}
	return apperr.Wrap(apperr.Transient, "database busy, retries exhausted", lastErr)
}

// isBusy classifies SQLite's "database is locked"/"SQLITE_BUSY" family of
// errors, which modernc.org/sqlite (pocketbase's driver) surfaces as plain
// error strings rather than a typed sentinel.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "busy")
}
