// Package liveness runs the periodic sweep that classifies sensors and
// drives the section aggregator (spec §4.2). Grounded on beszel's
// internal/hub/heartbeat.go Start loop shape (a *time.Ticker driving a
// periodic action until a stop signal) and internal/hub/systems/system.go's
// StartUpdater ticker pattern, redirected from outbound health pings to
// the inbound sensor-staleness sweep the spec actually calls for.
package liveness

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/outagewatch/hub/internal/aggregator"
	"github.com/outagewatch/hub/internal/clock"
)

// Monitor ticks the aggregator on a fixed interval (T_tick, spec §6
// CHECK_INTERVAL_SEC) and exposes a best-effort Poke for the ingress
// handler's opportunistic re-evaluation (spec §4.1/§9).
type Monitor struct {
	interval time.Duration
	agg      *aggregator.Aggregator
	clock    clock.Clock
	logger   *slog.Logger

	pokeCh chan struct{}

	mu       sync.Mutex
	lastTick time.Time
	hasTick  bool
}

// New builds a Monitor. logger may be nil.
func New(interval time.Duration, agg *aggregator.Aggregator, c clock.Clock, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		interval: interval,
		agg:      agg,
		clock:    c,
		logger:   logger,
		pokeCh:   make(chan struct{}, 1),
	}
}

// Poke requests an opportunistic tick without waiting for the next ticker
// boundary. Losing the signal (channel already full) is not an error — the
// next scheduled tick covers it (spec §9).
func (m *Monitor) Poke() {
	select {
	case m.pokeCh <- struct{}{}:
	default:
	}
}

// LastTick returns the time of the most recently completed tick, for the
// health endpoint's last_tick_ago_sec (spec §6).
func (m *Monitor) LastTick() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastTick, m.hasTick
}

// Start runs the tick loop until ctx is canceled. It ticks once immediately
// on startup, then on every interval or Poke, serialized so the aggregator
// is never entered concurrently (spec §4.3: "single-goroutine").
func (m *Monitor) Start(ctx context.Context) error {
	m.tick(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.tick(ctx)
		case <-m.pokeCh:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	transitions, err := m.agg.Tick(ctx)
	m.mu.Lock()
	m.lastTick = m.clock.Now()
	m.hasTick = true
	m.mu.Unlock()

	if err != nil {
		// Invariant/transient failures are logged, never fatal (spec §7):
		// reconciliation runs on the next tick.
		m.logger.Error("liveness tick failed", "err", err)
		return
	}
	for _, t := range transitions {
		m.logger.Info("power transition",
			"building", t.Section.BuildingID, "section", t.Section.SectionID,
			"event_type", t.EventType, "event_id", t.EventID)
	}
}
