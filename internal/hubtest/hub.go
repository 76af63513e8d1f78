// Package hubtest provides a test-app wrapper for exercising the store and
// its dependents against a real (in-memory) pocketbase application, mirrors
// beszel's internal/tests.NewTestHub pattern.
package hubtest

import (
	"time"

	"github.com/outagewatch/hub/internal/clock"
	_ "github.com/outagewatch/hub/internal/migrations"
	"github.com/outagewatch/hub/internal/store"

	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tests"
)

// testFixedTime anchors every TestHub's Fake clock to the same instant so
// test expectations never depend on wall-clock time.
func testFixedTime() time.Time {
	return time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
}

// TestHub wraps a pocketbase TestApp with an outagewatch Store bound to a
// Fake clock, so callers get deterministic time control for free.
type TestHub struct {
	core.App
	*tests.TestApp
	Store *store.Store
	Clock *clock.Fake
}

// NewTestHub creates and runs the migrations against a throwaway in-memory
// test application. It is the caller's responsibility to call Cleanup.
func NewTestHub() (*TestHub, error) {
	testApp, err := tests.NewTestApp()
	if err != nil {
		return nil, err
	}

	fake := clock.NewFake(testFixedTime())
	st := store.New(testApp, fake)

	return &TestHub{
		App:     testApp,
		TestApp: testApp,
		Store:   st,
		Clock:   fake,
	}, nil
}

// Cleanup releases the underlying test application's resources.
func (h *TestHub) Cleanup() {
	h.TestApp.Cleanup()
}
