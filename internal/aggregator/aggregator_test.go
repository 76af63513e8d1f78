package aggregator

import (
	"context"
	"testing"
	"time"

	"github.com/outagewatch/hub/internal/hubtest"
	"github.com/outagewatch/hub/internal/sensors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAggregator(t *testing.T) (*hubtest.TestHub, *sensors.Registry, *Aggregator) {
	t.Helper()
	h, err := hubtest.NewTestHub()
	require.NoError(t, err)
	t.Cleanup(h.Cleanup)

	registry := sensors.New(h.Store, map[string]sensors.CanonicalEntry{})
	agg := New(h.Store, h.Clock, registry, 0.5, 0.4, 150*time.Second)
	return h, registry, agg
}

func TestPolicyHysteresis(t *testing.T) {
	_, _, agg := newTestAggregator(t)

	// no sensors online => down regardless of prior state
	assert.False(t, agg.policy(true, 0, 3))

	// ratio >= thresholdUp (0.5) => up
	assert.True(t, agg.policy(false, 2, 3))

	// ratio <= thresholdDown (0.4) => down
	assert.False(t, agg.policy(true, 1, 3))

	// ratio exactly at thresholdDown (0.4) => down regardless of prior state
	assert.False(t, agg.policy(true, 2, 5))
	assert.False(t, agg.policy(false, 2, 5))

	// ratio strictly between thresholds (0.45) => keep previous state
	assert.True(t, agg.policy(true, 9, 20))
	assert.False(t, agg.policy(false, 9, 20))
}

func TestAliveHonorsFreezeOverride(t *testing.T) {
	_, _, agg := newTestAggregator(t)
	now := time.Now()

	frozenUp := true
	frozenSensor := sensors.Sensor{
		FrozenUntil: ptrTime(now.Add(time.Hour)),
		FrozenIsUp:  &frozenUp,
	}
	assert.True(t, agg.alive(frozenSensor, now))

	frozenDown := false
	frozenSensor.FrozenIsUp = &frozenDown
	assert.False(t, agg.alive(frozenSensor, now))
}

func TestAliveUsesStaleWindow(t *testing.T) {
	_, _, agg := newTestAggregator(t)
	now := time.Now()

	recent := now.Add(-10 * time.Second)
	fresh := sensors.Sensor{LastHeartbeat: &recent}
	assert.True(t, agg.alive(fresh, now))

	stale := now.Add(-200 * time.Second)
	old := sensors.Sensor{LastHeartbeat: &stale}
	assert.False(t, agg.alive(old, now))
}

func TestTickEmitsAlternatingTransitions(t *testing.T) {
	h, registry, agg := newTestAggregator(t)
	ctx := context.Background()

	now := h.Clock.Now()
	_, _, err := registry.UpsertHeartbeat(ctx, "s1", 1, 1, "", now)
	require.NoError(t, err)
	_, _, err = registry.UpsertHeartbeat(ctx, "s2", 1, 1, "", now)
	require.NoError(t, err)

	transitions, err := agg.Tick(ctx)
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.Equal(t, "up", transitions[0].EventType)
	assert.Equal(t, SectionKey{BuildingID: 1, SectionID: 1}, transitions[0].Section)

	// A second tick with nothing changed must not re-emit a transition.
	transitions, err = agg.Tick(ctx)
	require.NoError(t, err)
	assert.Empty(t, transitions)

	// Sensors go stale -> down transition.
	h.Clock.Advance(200 * time.Second)
	transitions, err = agg.Tick(ctx)
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.Equal(t, "down", transitions[0].EventType)
}

func ptrTime(t time.Time) *time.Time { return &t }
