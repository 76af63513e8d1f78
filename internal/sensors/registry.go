// Package sensors owns the sensor rows and the canonical UUID->(building,
// section) map. The canonical map loader mirrors beszel's
// internal/hub/config.SyncSystems: a YAML file under the data directory,
// tolerant of being absent, parsed once at startup and never mutated
// afterwards (spec §4.1's "immutable startup-loaded map").
package sensors

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"regexp"
	"time"

	"github.com/outagewatch/hub/internal/apperr"
	"github.com/outagewatch/hub/internal/store"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"gopkg.in/yaml.v3"
)

// CanonicalEntry pins a known rollout sensor to a fixed building/section,
// overriding whatever the heartbeat request itself claims (spec §4.1).
type CanonicalEntry struct {
	BuildingID int `yaml:"building_id"`
	SectionID  int `yaml:"section_id"`
}

type canonicalFile struct {
	Sensors map[string]CanonicalEntry `yaml:"sensors"`
}

// LoadCanonicalMap reads path (sensors.yml) and returns the UUID->entry map.
// A missing file is not an error: the map is simply empty and every sensor
// UUID is treated as self-declared, matching SyncSystems' "file absent,
// continue" behavior.
func LoadCanonicalMap(path string) (map[string]CanonicalEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]CanonicalEntry{}, nil
		}
		return nil, err
	}
	var cf canonicalFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, err
	}
	if cf.Sensors == nil {
		cf.Sensors = map[string]CanonicalEntry{}
	}
	return cf.Sensors, nil
}

// uuidPattern enforces spec §4.1's sensor_uuid grammar: [a-z0-9_-]{1,64}.
var uuidPattern = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidUUID reports whether uuid satisfies the ingress grammar.
func ValidUUID(uuid string) bool {
	return uuid != "" && uuidPattern.MatchString(uuid)
}

// Sensor mirrors the sensors table row.
type Sensor struct {
	UUID          string     `db:"uuid"`
	BuildingID    int        `db:"building_id"`
	SectionID     int        `db:"section_id"`
	Comment       string     `db:"comment"`
	CreatedAt     time.Time  `db:"created_at"`
	LastHeartbeat *time.Time `db:"last_heartbeat"`
	IsActive      bool       `db:"is_active"`
	FrozenUntil   *time.Time `db:"frozen_until"`
	FrozenIsUp    *bool      `db:"frozen_is_up"`
	FrozenAt      *time.Time `db:"frozen_at"`
}

// Frozen reports whether the sensor is currently pinned to a maintenance
// state, i.e. frozen_until is set and in the future relative to now.
func (s Sensor) Frozen(now time.Time) bool {
	return s.FrozenUntil != nil && s.FrozenUntil.After(now)
}

// Registry resolves heartbeats against the canonical map and upserts rows.
type Registry struct {
	store     *store.Store
	canonical map[string]CanonicalEntry // immutable after construction
}

// New builds a Registry bound to the given store and canonical map. The map
// is kept by reference (not copied) and the Registry only ever reads it.
func New(st *store.Store, canonical map[string]CanonicalEntry) *Registry {
	return &Registry{store: st, canonical: canonical}
}

// Resolve returns the (building, section) to record for uuid, applying the
// canonical-map override from spec §4.1.
func (r *Registry) Resolve(uuid string, requestedBuilding, requestedSection int) (buildingID, sectionID int) {
	if entry, ok := r.canonical[uuid]; ok {
		return entry.BuildingID, entry.SectionID
	}
	return requestedBuilding, requestedSection
}

// IsCanonical reports whether uuid is a known rollout sensor.
func (r *Registry) IsCanonical(uuid string) bool {
	_, ok := r.canonical[uuid]
	return ok
}

// BuildingSectionsCount looks up a building's declared sections_count,
// returning found=false for an unknown building (spec §4.1: "404 unknown
// building").
func (r *Registry) BuildingSectionsCount(buildingID int) (sectionsCount int, found bool, err error) {
	err = r.store.DB().NewQuery("SELECT sections_count FROM buildings WHERE id = {:id}").
		Bind(dbx.Params{"id": buildingID}).Row(&sectionsCount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, apperr.Transientf("query building", err)
	}
	return sectionsCount, true, nil
}

// GetByUUID reads a single sensor row, or nil if it does not exist.
func (r *Registry) GetByUUID(uuid string) (*Sensor, error) {
	var s Sensor
	err := r.store.DB().NewQuery("SELECT * FROM sensors WHERE uuid = {:uuid}").
		Bind(dbx.Params{"uuid": uuid}).One(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Transientf("query sensor", err)
	}
	return &s, nil
}

// UpsertHeartbeat creates the sensor row if missing and always advances
// last_heartbeat; when the sensor is not frozen it also refreshes
// building/section/comment (spec §4.1). Returns the sensor as it is after
// the write and whether the row was newly created.
func (r *Registry) UpsertHeartbeat(ctx context.Context, uuid string, buildingID, sectionID int, comment string, now time.Time) (sensor Sensor, created bool, err error) {
	werr := r.store.Write(ctx, func(txApp core.App) error {
		existing, qerr := queryOne(txApp, uuid)
		if qerr != nil && !errors.Is(qerr, sql.ErrNoRows) {
			return apperr.Transientf("query sensor", qerr)
		}

		if errors.Is(qerr, sql.ErrNoRows) {
			created = true
			_, err := txApp.DB().NewQuery(`
				INSERT INTO sensors (uuid, building_id, section_id, comment, created_at, last_heartbeat, is_active)
				VALUES ({:uuid}, {:building}, {:section}, {:comment}, {:now}, {:now}, 1)
			`).Bind(dbx.Params{
				"uuid": uuid, "building": buildingID, "section": sectionID,
				"comment": comment, "now": now,
			}).Execute()
			if err != nil {
				return apperr.Transientf("insert sensor", err)
			}
			sensor = Sensor{
				UUID: uuid, BuildingID: buildingID, SectionID: sectionID, Comment: comment,
				CreatedAt: now, LastHeartbeat: &now, IsActive: true,
			}
			return nil
		}

		frozen := existing.Frozen(now)
		if frozen {
			_, err = txApp.DB().NewQuery(`UPDATE sensors SET last_heartbeat = {:now} WHERE uuid = {:uuid}`).
				Bind(dbx.Params{"now": now, "uuid": uuid}).Execute()
		} else {
			_, err = txApp.DB().NewQuery(`
				UPDATE sensors SET last_heartbeat = {:now}, building_id = {:building},
				       section_id = {:section}, comment = {:comment}
				WHERE uuid = {:uuid}
			`).Bind(dbx.Params{
				"now": now, "building": buildingID, "section": sectionID,
				"comment": comment, "uuid": uuid,
			}).Execute()
		}
		if err != nil {
			return apperr.Transientf("update sensor", err)
		}

		sensor = *existing
		sensor.LastHeartbeat = &now
		if !frozen {
			sensor.BuildingID = buildingID
			sensor.SectionID = sectionID
			sensor.Comment = comment
		}
		return nil
	})
	if werr != nil {
		return Sensor{}, false, werr
	}
	return sensor, created, nil
}

func queryOne(app core.App, uuid string) (*Sensor, error) {
	var s Sensor
	err := app.DB().NewQuery("SELECT * FROM sensors WHERE uuid = {:uuid}").
		Bind(dbx.Params{"uuid": uuid}).One(&s)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListActive returns every active sensor, used by the liveness monitor.
func (r *Registry) ListActive() ([]Sensor, error) {
	var rows []Sensor
	err := r.store.DB().NewQuery("SELECT * FROM sensors WHERE is_active = 1").All(&rows)
	if err != nil {
		return nil, apperr.Transientf("list active sensors", err)
	}
	return rows, nil
}

// List returns every sensor row (admin surface, spec §6 GET /api/v1/sensors).
func (r *Registry) List() ([]Sensor, error) {
	var rows []Sensor
	err := r.store.DB().NewQuery("SELECT * FROM sensors ORDER BY building_id, section_id, uuid").All(&rows)
	if err != nil {
		return nil, apperr.Transientf("list sensors", err)
	}
	return rows, nil
}
