package sensors

import (
	"testing"

	"github.com/outagewatch/hub/internal/hubtest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildingSectionsCount(t *testing.T) {
	h, err := hubtest.NewTestHub()
	require.NoError(t, err)
	defer h.Cleanup()

	r := New(h.Store, map[string]CanonicalEntry{})

	count, found, err := r.BuildingSectionsCount(1)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 3, count)

	_, found, err = r.BuildingSectionsCount(999)
	require.NoError(t, err)
	assert.False(t, found)
}
