package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/outagewatch/hub/internal/hubtest"

	"github.com/pocketbase/dbx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*hubtest.TestHub, *Queue) {
	t.Helper()
	h, err := hubtest.NewTestHub()
	require.NoError(t, err)
	t.Cleanup(h.Cleanup)
	return h, New(h.Store, h.Clock, 60*time.Second, 3)
}

func TestEnqueueClaimFIFO(t *testing.T) {
	h, q := newTestQueue(t)
	ctx := context.Background()

	id1, err := q.Enqueue(ctx, KindBroadcast, BroadcastPayload{Target: "all", Text: "first"}, "admin")
	require.NoError(t, err)
	h.Clock.Advance(time.Second)
	_, err = q.Enqueue(ctx, KindBroadcast, BroadcastPayload{Target: "all", Text: "second"}, "admin")
	require.NoError(t, err)

	job, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, id1, job.ID)
	assert.Equal(t, "running", job.Status)
	assert.Equal(t, 1, job.Attempts)
}

func TestClaimEmptyQueueReturnsNil(t *testing.T) {
	_, q := newTestQueue(t)
	job, err := q.Claim(context.Background())
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestFinishIsIdempotentOnTerminalJob(t *testing.T) {
	h, q := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, KindLightNotify, LightNotifyPayload{BuildingID: 1, SectionID: 1, EventType: "up"}, "")
	require.NoError(t, err)
	_, err = q.Claim(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Finish(ctx, id, StatusDone, nil))
	// Finishing again with a different outcome must not overwrite the first.
	require.NoError(t, q.Finish(ctx, id, StatusFailed, errors.New("too late")))

	var status string
	require.NoError(t, h.Store.DB().NewQuery(`SELECT status FROM admin_jobs WHERE id = {:id}`).
		Bind(dbx.Params{"id": id}).Row(&status))
	assert.Equal(t, string(StatusDone), status)

	h.Clock.Advance(time.Millisecond)
}

func TestReclaimRequeuesThenFails(t *testing.T) {
	h, q := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, KindLightNotify, LightNotifyPayload{BuildingID: 1, SectionID: 1}, "")
	require.NoError(t, err)

	job, err := q.Claim(ctx)
	require.NoError(t, err)
	require.Equal(t, id, job.ID)

	h.Clock.Advance(2 * time.Minute)
	reclaimed, failed, err := q.Reclaim(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)
	assert.Equal(t, 0, failed)

	for i := 0; i < 2; i++ {
		job, err = q.Claim(ctx)
		require.NoError(t, err)
		require.NotNil(t, job)
		h.Clock.Advance(2 * time.Minute)
		if i == 0 {
			// attempts=2 < maxTries=3: back to pending for the third claim.
			reclaimed, failed, err = q.Reclaim(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, reclaimed)
			assert.Equal(t, 0, failed)
		}
	}

	reclaimed, failed, err = q.Reclaim(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, reclaimed)
	assert.Equal(t, 1, failed)
}
