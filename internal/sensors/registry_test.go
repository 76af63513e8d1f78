package sensors

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/outagewatch/hub/internal/freeze"
	"github.com/outagewatch/hub/internal/hubtest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidUUID(t *testing.T) {
	assert.True(t, ValidUUID("sensor-1_abc"))
	assert.False(t, ValidUUID(""))
	assert.False(t, ValidUUID("Has Upper And Spaces"))
	assert.False(t, ValidUUID(string(make([]byte, 65))))
}

func TestLoadCanonicalMapMissingFileIsEmpty(t *testing.T) {
	m, err := LoadCanonicalMap(filepath.Join(t.TempDir(), "missing.yml"))
	require.NoError(t, err)
	assert.Empty(t, m)
}

func TestLoadCanonicalMapParses(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sensors.yml")
	content := "sensors:\n  lobby-1:\n    building_id: 1\n    section_id: 2\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	m, err := LoadCanonicalMap(path)
	require.NoError(t, err)
	require.Contains(t, m, "lobby-1")
	assert.Equal(t, CanonicalEntry{BuildingID: 1, SectionID: 2}, m["lobby-1"])
}

func TestResolveUsesCanonicalOverride(t *testing.T) {
	r := New(nil, map[string]CanonicalEntry{"lobby-1": {BuildingID: 1, SectionID: 2}})

	b, s := r.Resolve("lobby-1", 9, 9)
	assert.Equal(t, 1, b)
	assert.Equal(t, 2, s)

	b, s = r.Resolve("unregistered", 3, 4)
	assert.Equal(t, 3, b)
	assert.Equal(t, 4, s)
}

func TestUpsertHeartbeatCreatesThenUpdates(t *testing.T) {
	h, err := hubtest.NewTestHub()
	require.NoError(t, err)
	defer h.Cleanup()

	r := New(h.Store, map[string]CanonicalEntry{})
	ctx := context.Background()

	now := h.Clock.Now()
	s, created, err := r.UpsertHeartbeat(ctx, "sensor-a", 1, 1, "first", now)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 1, s.BuildingID)

	h.Clock.Advance(time.Minute)
	now2 := h.Clock.Now()
	s2, created2, err := r.UpsertHeartbeat(ctx, "sensor-a", 1, 2, "second", now2)
	require.NoError(t, err)
	assert.False(t, created2)
	assert.Equal(t, 2, s2.SectionID)
	assert.Equal(t, "second", s2.Comment)
	assert.WithinDuration(t, now2, *s2.LastHeartbeat, time.Millisecond)
}

func TestUpsertHeartbeatRespectsFreeze(t *testing.T) {
	h, err := hubtest.NewTestHub()
	require.NoError(t, err)
	defer h.Cleanup()

	r := New(h.Store, map[string]CanonicalEntry{})
	ctx := context.Background()
	now := h.Clock.Now()

	_, _, err = r.UpsertHeartbeat(ctx, "sensor-b", 1, 1, "", now)
	require.NoError(t, err)

	fz := freeze.New(h.Store, h.Clock)
	until := now.Add(time.Hour)
	require.NoError(t, fz.Freeze(ctx, "sensor-b", until, true))

	h.Clock.Advance(time.Minute)
	later := h.Clock.Now()
	s, _, err := r.UpsertHeartbeat(ctx, "sensor-b", 2, 2, "ignored while frozen", later)
	require.NoError(t, err)

	assert.Equal(t, 1, s.BuildingID, "frozen sensor must not move building/section on heartbeat")
	assert.Equal(t, 1, s.SectionID)
	assert.WithinDuration(t, later, *s.LastHeartbeat, time.Millisecond)
}
