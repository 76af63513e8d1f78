// Package notifier dequeues admin jobs and fans transition/broadcast
// notifications out to subscribers, applying rate limits, quiet hours, and
// deduplication (spec §4.4). Grounded on beszel's internal/alerts package:
// the alert queue/worker shape of alerts_status.go, generalized from
// in-memory pendingAlerts to the persisted admin_jobs queue the spec
// requires, and the shoutrrr dispatch of alerts.go via internal/messenger.
package notifier

import (
	"context"

	"github.com/outagewatch/hub/internal/store"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
)

// Subscriber mirrors the subscribers table row.
type Subscriber struct {
	ChatID                 string `db:"chat_id"`
	BuildingID             *int   `db:"building_id"`
	SectionID              *int   `db:"section_id"`
	LightNotifications     bool   `db:"light_notifications"`
	AlertNotifications     bool   `db:"alert_notifications"`
	ScheduleNotifications  bool   `db:"schedule_notifications"`
	QuietStart             *int   `db:"quiet_start"`
	QuietEnd               *int   `db:"quiet_end"`
	IsActive               bool   `db:"is_active"`
}

// InQuietHours reports whether hour (0-23, local wall clock) falls in the
// subscriber's quiet window, with wrap-around support (spec §4.4/§8: "23–7
// matches hours {23,0,1,2,3,4,5,6}").
func (s Subscriber) InQuietHours(hour int) bool {
	if s.QuietStart == nil || s.QuietEnd == nil {
		return false
	}
	start, end := *s.QuietStart, *s.QuietEnd
	if start == end {
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

// lightNotifySubscribers returns active, light_notifications=ON subscribers
// for a section, honoring the optional subscriber-level section filter
// (spec §4.4 step 1).
func lightNotifySubscribers(st *store.Store, buildingID, sectionID int) ([]Subscriber, error) {
	var subs []Subscriber
	err := st.DB().NewQuery(`
		SELECT * FROM subscribers
		WHERE is_active = 1 AND light_notifications = 1 AND building_id = {:b}
		      AND (section_id IS NULL OR section_id = {:s})
	`).Bind(dbx.Params{"b": buildingID, "s": sectionID}).All(&subs)
	return subs, err
}

// allActiveSubscribers returns every active subscriber, optionally filtered
// to one building, for broadcast jobs.
func allActiveSubscribers(st *store.Store, buildingID *int) ([]Subscriber, error) {
	var subs []Subscriber
	q := "SELECT * FROM subscribers WHERE is_active = 1"
	params := dbx.Params{}
	if buildingID != nil {
		q += " AND building_id = {:b}"
		params["b"] = *buildingID
	}
	err := st.DB().NewQuery(q).Bind(params).All(&subs)
	return subs, err
}

// globalLightNotificationsOff reads the light_notifications_global KV
// switch (spec §4.4 step 1 / §11: retained for operator override, never
// set by deploy scripts).
func globalLightNotificationsOff(st *store.Store) (bool, error) {
	var v string
	err := st.DB().NewQuery(`SELECT v FROM kv WHERE k = 'light_notifications_global'`).Row(&v)
	if err != nil {
		return false, nil // absent key: treated as "on"
	}
	return v == "off", nil
}

// deactivateSubscriber marks a subscriber inactive in its own transaction,
// mirroring beszel's soft-disable convention (spec §4.4: "on permanent
// error the subscriber is marked inactive"). Routed through store.Write so
// concurrent notifier workers never race the single-writer gate (spec §4.7).
func deactivateSubscriber(ctx context.Context, st *store.Store, chatID string) error {
	return st.Write(ctx, func(txApp core.App) error {
		_, err := txApp.DB().NewQuery(`UPDATE subscribers SET is_active = 0 WHERE chat_id = {:id}`).
			Bind(dbx.Params{"id": chatID}).Execute()
		return err
	})
}
