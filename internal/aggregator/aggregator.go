// Package aggregator derives per-section power state from sensor liveness
// (spec §4.3) and emits PowerEvent transitions plus light_notify admin jobs
// (spec §4.4's transition emitter). Grounded on beszel's
// internal/hub/systems/system.go (the createRecords/RunInTransaction
// ordering pattern: compute, then commit state+derived-record together)
// and internal/alerts/alerts_status.go (enqueue-on-transition).
package aggregator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/outagewatch/hub/internal/clock"
	"github.com/outagewatch/hub/internal/queue"
	"github.com/outagewatch/hub/internal/sensors"
	"github.com/outagewatch/hub/internal/store"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
)

// SectionKey identifies a (building, section) pair.
type SectionKey struct {
	BuildingID int
	SectionID  int
}

// Transition is the internal record published when a section flips state,
// the "internal transition record" of spec §4.3 step 3.
type Transition struct {
	Section   SectionKey
	EventType string // "up" | "down"
	EventID   int64
	Timestamp time.Time
}

// Aggregator recomputes section power state on every tick.
type Aggregator struct {
	store         *store.Store
	clock         clock.Clock
	registry      *sensors.Registry
	thresholdUp   float64
	thresholdDown float64
	staleAfter    time.Duration
}

// New builds an Aggregator. thresholdUp/thresholdDown/staleAfter come from
// config (spec §6: defaults 0.5, 0.4, SENSOR_TIMEOUT_SEC).
func New(st *store.Store, c clock.Clock, registry *sensors.Registry, thresholdUp, thresholdDown float64, staleAfter time.Duration) *Aggregator {
	return &Aggregator{
		store: st, clock: c, registry: registry,
		thresholdUp: thresholdUp, thresholdDown: thresholdDown, staleAfter: staleAfter,
	}
}

// alive reports whether sensor contributes "up" to its section at now,
// honoring the freeze override (spec §4.2).
func (a *Aggregator) alive(s sensors.Sensor, now time.Time) bool {
	if s.Frozen(now) {
		return s.FrozenIsUp != nil && *s.FrozenIsUp
	}
	if s.LastHeartbeat == nil {
		return false
	}
	return now.Sub(*s.LastHeartbeat) < a.staleAfter
}

// policy implements spec §4.3 step 2: UP iff online>=1 and ratio>=thresholdUp;
// DOWN iff online=0 or ratio<=thresholdDown; otherwise keep prevIsUp.
func (a *Aggregator) policy(prevIsUp bool, online, total int) bool {
	if online == 0 {
		return false
	}
	ratio := float64(online) / float64(total)
	if ratio >= a.thresholdUp {
		return true
	}
	if ratio <= a.thresholdDown {
		return false
	}
	return prevIsUp
}

// Tick recomputes every section's state and returns the transitions that
// fired this tick, after they have been committed along with their
// PowerEvent rows and light_notify jobs.
func (a *Aggregator) Tick(ctx context.Context) ([]Transition, error) {
	active, err := a.registry.ListActive()
	if err != nil {
		return nil, err
	}

	now := a.clock.Now()
	type tally struct{ online, total int }
	bySection := make(map[SectionKey]*tally)
	for _, s := range active {
		key := SectionKey{s.BuildingID, s.SectionID}
		t, ok := bySection[key]
		if !ok {
			t = &tally{}
			bySection[key] = t
		}
		t.total++
		if a.alive(s, now) {
			t.online++
		}
	}

	keys := make([]SectionKey, 0, len(bySection))
	for k := range bySection {
		keys = append(keys, k)
	}
	// Ascending (building_id, section_id) order for determinism (spec §4.3).
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].BuildingID != keys[j].BuildingID {
			return keys[i].BuildingID < keys[j].BuildingID
		}
		return keys[i].SectionID < keys[j].SectionID
	})

	var transitions []Transition
	err = a.store.Write(ctx, func(txApp core.App) error {
		for _, key := range keys {
			t := bySection[key]
			prevIsUp, exists, err := loadState(txApp, key)
			if err != nil {
				return err
			}
			newIsUp := a.policy(prevIsUp, t.online, t.total)

			if err := touchUpdatedAt(txApp, key, now, exists, newIsUp); err != nil {
				return err
			}

			if exists && newIsUp == prevIsUp {
				continue
			}

			eventType := "down"
			if newIsUp {
				eventType = "up"
			}
			eventID, err := writeTransition(txApp, key, eventType, now)
			if err != nil {
				return err
			}
			if eventID == 0 {
				// writeTransition dropped a duplicate same-type event.
				continue
			}
			transitions = append(transitions, Transition{Section: key, EventType: eventType, EventID: eventID, Timestamp: now})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return transitions, nil
}

func loadState(app core.App, key SectionKey) (isUp bool, exists bool, err error) {
	var row struct {
		IsUp bool `db:"is_up"`
	}
	err = app.DB().NewQuery(`
		SELECT is_up FROM section_power_state WHERE building_id = {:b} AND section_id = {:s}
	`).Bind(dbx.Params{"b": key.BuildingID, "s": key.SectionID}).One(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return row.IsUp, true, nil
}

// touchUpdatedAt persists the row (creating it lazily per spec §3) and its
// updated_at observability marker, independent of whether state changed.
func touchUpdatedAt(app core.App, key SectionKey, now time.Time, exists bool, isUp bool) error {
	if !exists {
		_, err := app.DB().NewQuery(`
			INSERT INTO section_power_state (building_id, section_id, is_up, last_change, updated_at)
			VALUES ({:b}, {:s}, {:up}, {:now}, {:now})
		`).Bind(dbx.Params{"b": key.BuildingID, "s": key.SectionID, "up": isUp, "now": now}).Execute()
		return err
	}
	_, err := app.DB().NewQuery(`
		UPDATE section_power_state SET updated_at = {:now} WHERE building_id = {:b} AND section_id = {:s}
	`).Bind(dbx.Params{"now": now, "b": key.BuildingID, "s": key.SectionID}).Execute()
	return err
}

func writeTransition(app core.App, key SectionKey, eventType string, now time.Time) (int64, error) {
	_, err := app.DB().NewQuery(`
		UPDATE section_power_state SET is_up = {:up}, last_change = {:now}, updated_at = {:now}
		WHERE building_id = {:b} AND section_id = {:s}
	`).Bind(dbx.Params{"up": eventType == "up", "now": now, "b": key.BuildingID, "s": key.SectionID}).Execute()
	if err != nil {
		return 0, err
	}

	// Guard against writing two consecutive same-type events (spec §3
	// invariant: "successive events ... must alternate"). The caller only
	// reaches here when newIsUp != prevIsUp, but a concurrent reconciliation
	// pass could race; re-check the last event defensively.
	var lastType string
	err = app.DB().NewQuery(`
		SELECT event_type FROM power_events WHERE building_id = {:b} AND section_id = {:s}
		ORDER BY id DESC LIMIT 1
	`).Bind(dbx.Params{"b": key.BuildingID, "s": key.SectionID}).Row(&lastType)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	if lastType == eventType {
		return 0, nil
	}

	res, err := app.DB().NewQuery(`
		INSERT INTO power_events (event_type, building_id, section_id, timestamp)
		VALUES ({:type}, {:b}, {:s}, {:now})
	`).Bind(dbx.Params{"type": eventType, "b": key.BuildingID, "s": key.SectionID, "now": now}).Execute()
	if err != nil {
		return 0, err
	}
	eventID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	payload := queue.LightNotifyPayload{
		BuildingID: key.BuildingID, SectionID: key.SectionID,
		EventType: eventType, Timestamp: now.Format(time.RFC3339), EventID: eventID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	_, err = app.DB().NewQuery(`
		INSERT INTO admin_jobs (id, kind, payload, status, created_at, updated_at, attempts)
		VALUES ({:id}, {:kind}, {:payload}, {:status}, {:now}, {:now}, 0)
	`).Bind(dbx.Params{
		"id": jobID(key, eventID), "kind": string(queue.KindLightNotify), "payload": string(body),
		"status": string(queue.StatusPending), "now": now,
	}).Execute()
	return eventID, err
}

// jobID derives a deterministic job id from the event so re-running a tick
// (should it ever retry after a partial commit) cannot double-enqueue.
func jobID(key SectionKey, eventID int64) string {
	return "light_notify-" + strconv.Itoa(key.BuildingID) + "_" + strconv.Itoa(key.SectionID) + "-" + strconv.FormatInt(eventID, 10)
}
