// Package migrations registers outagewatch's raw-SQL schema against
// pocketbase's migration runner, the same additive-only
// CREATE-TABLE-IF-NOT-EXISTS / ALTER-TABLE-ADD-COLUMN style beszel uses in
// internal/migrations/1758738789_fix_cached_mem.go and
// internal/migrations/1761659006_add_time.go — raw statements inside a
// registered migration function, not pocketbase's collection/record
// framework (spec §4.7: "destructive migrations are out-of-process").
package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		statements := []string{
			`CREATE TABLE IF NOT EXISTS buildings (
				id INTEGER PRIMARY KEY,
				name TEXT NOT NULL,
				address TEXT NOT NULL DEFAULT '',
				sections_count INTEGER NOT NULL DEFAULT 1
			)`,
			`CREATE TABLE IF NOT EXISTS sensors (
				uuid TEXT PRIMARY KEY,
				building_id INTEGER NOT NULL,
				section_id INTEGER NOT NULL,
				comment TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL,
				last_heartbeat DATETIME,
				is_active BOOLEAN NOT NULL DEFAULT 1,
				frozen_until DATETIME,
				frozen_is_up BOOLEAN,
				frozen_at DATETIME
			)`,
			`CREATE INDEX IF NOT EXISTS idx_sensors_building_section ON sensors (building_id, section_id)`,
			`CREATE TABLE IF NOT EXISTS section_power_state (
				building_id INTEGER NOT NULL,
				section_id INTEGER NOT NULL,
				is_up BOOLEAN NOT NULL DEFAULT 0,
				last_change DATETIME,
				updated_at DATETIME,
				PRIMARY KEY (building_id, section_id)
			)`,
			`CREATE TABLE IF NOT EXISTS power_events (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				event_type TEXT NOT NULL,
				building_id INTEGER NOT NULL,
				section_id INTEGER NOT NULL,
				timestamp DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_power_events_section ON power_events (building_id, section_id, timestamp)`,
			`CREATE TABLE IF NOT EXISTS subscribers (
				chat_id TEXT PRIMARY KEY,
				building_id INTEGER,
				section_id INTEGER,
				light_notifications BOOLEAN NOT NULL DEFAULT 1,
				alert_notifications BOOLEAN NOT NULL DEFAULT 1,
				schedule_notifications BOOLEAN NOT NULL DEFAULT 1,
				quiet_start INTEGER,
				quiet_end INTEGER,
				is_active BOOLEAN NOT NULL DEFAULT 1
			)`,
			`CREATE TABLE IF NOT EXISTS admin_jobs (
				id TEXT PRIMARY KEY,
				kind TEXT NOT NULL,
				payload TEXT NOT NULL DEFAULT '{}',
				status TEXT NOT NULL DEFAULT 'pending',
				created_at DATETIME NOT NULL,
				started_at DATETIME,
				finished_at DATETIME,
				updated_at DATETIME NOT NULL,
				attempts INTEGER NOT NULL DEFAULT 0,
				progress_current INTEGER NOT NULL DEFAULT 0,
				progress_total INTEGER NOT NULL DEFAULT 0,
				last_error TEXT,
				created_by TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_admin_jobs_status_created ON admin_jobs (status, created_at)`,
			`CREATE TABLE IF NOT EXISTS kv (
				k TEXT PRIMARY KEY,
				v TEXT NOT NULL
			)`,
		}

		for _, stmt := range statements {
			if _, err := app.DB().NewQuery(stmt).Execute(); err != nil {
				return err
			}
		}

		return seedBuildings(app)
	}, func(app core.App) error {
		// Destructive teardown is out-of-process per spec §4.7; nothing to
		// do here on rollback.
		return nil
	})
}

// seedBuildings idempotently installs the static building catalog on first
// boot, mirroring beszel's collection-snapshot migration seeding default
// rows. Operators extend/edit this catalog directly in the database; these
// three are placeholder starting fixtures for a fresh install.
func seedBuildings(app core.App) error {
	var count int
	if err := app.DB().NewQuery("SELECT COUNT(*) FROM buildings").Row(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	seeds := []struct {
		ID            int
		Name, Address string
		Sections      int
	}{
		{1, "Building 1", "", 3},
		{2, "Building 2", "", 2},
		{3, "Building 3", "", 1},
	}
	for _, b := range seeds {
		_, err := app.DB().NewQuery(`
			INSERT INTO buildings (id, name, address, sections_count)
			VALUES ({:id}, {:name}, {:address}, {:sections})
		`).Bind(map[string]any{
			"id": b.ID, "name": b.Name, "address": b.Address, "sections": b.Sections,
		}).Execute()
		if err != nil {
			return err
		}
	}
	return nil
}
