package liveness

import (
	"context"
	"testing"
	"time"

	"github.com/outagewatch/hub/internal/aggregator"
	"github.com/outagewatch/hub/internal/hubtest"
	"github.com/outagewatch/hub/internal/sensors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPokeTriggersEarlyTick(t *testing.T) {
	h, err := hubtest.NewTestHub()
	require.NoError(t, err)
	defer h.Cleanup()

	registry := sensors.New(h.Store, map[string]sensors.CanonicalEntry{})
	agg := aggregator.New(h.Store, h.Clock, registry, 0.5, 0.4, 150*time.Second)
	mon := New(time.Hour, agg, h.Clock, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		mon.Start(ctx)
		close(done)
	}()

	// Allow the immediate startup tick to land.
	require.Eventually(t, func() bool {
		_, ok := mon.LastTick()
		return ok
	}, time.Second, time.Millisecond)

	// The interval is an hour, so only the poke can record a tick at the
	// advanced fake time.
	h.Clock.Advance(time.Minute)
	pokedAt := h.Clock.Now()
	mon.Poke()
	assert.Eventually(t, func() bool {
		ts, ok := mon.LastTick()
		return ok && ts.Equal(pokedAt)
	}, time.Second, time.Millisecond)

	cancel()
	<-done
}

func TestPokeNeverBlocksOnFullBuffer(t *testing.T) {
	mon := &Monitor{pokeCh: make(chan struct{}, 1)}
	mon.Poke()
	mon.Poke() // must not block even though the buffer is already full
}
