package notifier

import (
	"context"
	"testing"

	"github.com/outagewatch/hub/internal/hubtest"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int { return &n }

func TestInQuietHoursWrapAround(t *testing.T) {
	s := Subscriber{QuietStart: intPtr(23), QuietEnd: intPtr(7)}
	for _, h := range []int{23, 0, 1, 6} {
		assert.True(t, s.InQuietHours(h), "hour %d should be quiet", h)
	}
	for _, h := range []int{7, 12, 22} {
		assert.False(t, s.InQuietHours(h), "hour %d should not be quiet", h)
	}
}

func TestInQuietHoursNonWrapping(t *testing.T) {
	s := Subscriber{QuietStart: intPtr(1), QuietEnd: intPtr(5)}
	assert.True(t, s.InQuietHours(2))
	assert.False(t, s.InQuietHours(5))
	assert.False(t, s.InQuietHours(23))
}

func TestInQuietHoursUnset(t *testing.T) {
	var s Subscriber
	assert.False(t, s.InQuietHours(3))
}

func insertSubscriber(t *testing.T, h *hubtest.TestHub, chatID string, buildingID, sectionID *int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.Store.Write(ctx, func(app core.App) error {
		_, err := app.DB().NewQuery(`
			INSERT INTO subscribers (chat_id, building_id, section_id, light_notifications, alert_notifications, schedule_notifications, is_active)
			VALUES ({:chat}, {:building}, {:section}, 1, 1, 1, 1)
		`).Bind(dbx.Params{"chat": chatID, "building": buildingID, "section": sectionID}).Execute()
		return err
	}))
}

func TestGlobalLightNotificationsOffDefaultsOn(t *testing.T) {
	h, err := hubtest.NewTestHub()
	require.NoError(t, err)
	defer h.Cleanup()

	off, err := globalLightNotificationsOff(h.Store)
	require.NoError(t, err)
	assert.False(t, off)
}

func TestLightNotifySubscribersFiltersBySection(t *testing.T) {
	h, err := hubtest.NewTestHub()
	require.NoError(t, err)
	defer h.Cleanup()

	b1 := 1
	insertSubscriber(t, h, "chat-all-sections", &b1, nil)
	s2 := 2
	insertSubscriber(t, h, "chat-section-2", &b1, &s2)
	b2 := 2
	insertSubscriber(t, h, "chat-other-building", &b2, nil)

	subs, err := lightNotifySubscribers(h.Store, 1, 2)
	require.NoError(t, err)

	chatIDs := map[string]bool{}
	for _, s := range subs {
		chatIDs[s.ChatID] = true
	}
	assert.True(t, chatIDs["chat-all-sections"])
	assert.True(t, chatIDs["chat-section-2"])
	assert.False(t, chatIDs["chat-other-building"])
}

func TestAllActiveSubscribersOptionalBuildingFilter(t *testing.T) {
	h, err := hubtest.NewTestHub()
	require.NoError(t, err)
	defer h.Cleanup()

	b1 := 1
	b2 := 2
	insertSubscriber(t, h, "a", &b1, nil)
	insertSubscriber(t, h, "b", &b2, nil)

	all, err := allActiveSubscribers(h.Store, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	filtered, err := allActiveSubscribers(h.Store, &b1)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "a", filtered[0].ChatID)
}

func TestDeactivateSubscriber(t *testing.T) {
	h, err := hubtest.NewTestHub()
	require.NoError(t, err)
	defer h.Cleanup()

	b1 := 1
	insertSubscriber(t, h, "a", &b1, nil)

	require.NoError(t, deactivateSubscriber(context.Background(), h.Store, "a"))

	all, err := allActiveSubscribers(h.Store, nil)
	require.NoError(t, err)
	assert.Empty(t, all)
}
