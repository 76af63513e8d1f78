package ingress

import (
	"testing"
	"time"

	"github.com/outagewatch/hub/internal/clock"
	"github.com/outagewatch/hub/internal/hubtest"
	"github.com/outagewatch/hub/internal/sensors"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopPoker struct{ pokes int }

func (p *noopPoker) Poke() { p.pokes++ }

func newTestHandler(t *testing.T) (*hubtest.TestHub, *Handler) {
	t.Helper()
	h, err := hubtest.NewTestHub()
	require.NoError(t, err)
	t.Cleanup(h.Cleanup)

	registry := sensors.New(h.Store, map[string]sensors.CanonicalEntry{})
	handler := New("secret-key", h.Clock, registry, &noopPoker{}, func() (time.Time, bool) { return h.Clock.Now(), true })
	return h, handler
}

func TestRateLimitedAllowsUpToLimitThenBlocks(t *testing.T) {
	_, handler := newTestHandler(t)

	for i := 0; i < sensorRateLimit; i++ {
		assert.False(t, handler.rateLimited("sensor-1"), "request %d should be allowed", i+1)
	}
	assert.True(t, handler.rateLimited("sensor-1"), "request beyond the limit must be blocked")
}

func TestRateLimitedIsPerSensor(t *testing.T) {
	_, handler := newTestHandler(t)

	for i := 0; i < sensorRateLimit; i++ {
		handler.rateLimited("sensor-a")
	}
	assert.True(t, handler.rateLimited("sensor-a"))
	assert.False(t, handler.rateLimited("sensor-b"), "a different sensor must have its own bucket")
}

func TestRateLimitedResetsOnNewCounterBucket(t *testing.T) {
	h := &Handler{
		clock:      clock.Real{},
		rateCounts: expirable.NewLRU[string, *rateCounter](10, nil, time.Millisecond),
	}
	assert.False(t, h.rateLimited("x"))
	time.Sleep(5 * time.Millisecond)
	assert.False(t, h.rateLimited("x"), "a fresh bucket after expiry must not inherit the old count")
}
