// Package queue implements the persisted admin job queue (spec §4.6): a
// FIFO with lease semantics backed by the admin_jobs table. Grounded on
// beszel's internal/records batched-SQL-inside-RunInTransaction style;
// the reclaimer itself is scheduled by internal/hub on its own ticker
// (see that package for why).
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/outagewatch/hub/internal/apperr"
	"github.com/outagewatch/hub/internal/clock"
	"github.com/outagewatch/hub/internal/store"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
)

// Kind enumerates admin job kinds (spec §3: "broadcast, light_notify, …").
type Kind string

const (
	KindLightNotify Kind = "light_notify"
	KindBroadcast   Kind = "broadcast"
)

// Status enumerates the admin_jobs.status lifecycle (spec §3).
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusDone     Status = "done"
	StatusFailed   Status = "failed"
	StatusCanceled Status = "canceled"
)

// Job mirrors the admin_jobs table row.
type Job struct {
	ID              string     `db:"id"`
	Kind            string     `db:"kind"`
	Payload         string     `db:"payload"`
	Status          string     `db:"status"`
	CreatedAt       time.Time  `db:"created_at"`
	StartedAt       *time.Time `db:"started_at"`
	FinishedAt      *time.Time `db:"finished_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
	Attempts        int        `db:"attempts"`
	ProgressCurrent int        `db:"progress_current"`
	ProgressTotal   int        `db:"progress_total"`
	LastError       *string    `db:"last_error"`
	CreatedBy       *string    `db:"created_by"`
}

// DecodePayload unmarshals the job's JSON payload into v.
func (j Job) DecodePayload(v any) error {
	return json.Unmarshal([]byte(j.Payload), v)
}

// LightNotifyPayload is the transition-emitter payload (spec §4.4).
type LightNotifyPayload struct {
	BuildingID int    `json:"building_id"`
	SectionID  int    `json:"section_id"`
	EventType  string `json:"event_type"`
	Timestamp  string `json:"timestamp"`
	EventID    int64  `json:"event_id"`
}

// BroadcastPayload targets either every subscriber or one building (spec
// §11's open-question resolution: "{target: all|building, building_id?, text}").
type BroadcastPayload struct {
	Target     string `json:"target"`
	BuildingID int    `json:"building_id,omitempty"`
	Text       string `json:"text"`
}

// Queue is the admin_jobs-backed FIFO.
type Queue struct {
	store    *store.Store
	clock    clock.Clock
	leaseTTL time.Duration
	maxTries int
}

// New builds a Queue. leaseTTL and maxAttempts follow spec §4.6/§6 defaults.
func New(st *store.Store, c clock.Clock, leaseTTL time.Duration, maxAttempts int) *Queue {
	return &Queue{store: st, clock: c, leaseTTL: leaseTTL, maxTries: maxAttempts}
}

// Enqueue inserts a pending job and returns its id.
func (q *Queue) Enqueue(ctx context.Context, kind Kind, payload any, createdBy string) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", apperr.Validationf("marshal job payload", err)
	}
	id := uuid.New().String()
	now := q.clock.Now()
	var createdByPtr *string
	if createdBy != "" {
		createdByPtr = &createdBy
	}
	err = q.store.Write(ctx, func(txApp core.App) error {
		_, err := txApp.DB().NewQuery(`
			INSERT INTO admin_jobs (id, kind, payload, status, created_at, updated_at, attempts, created_by)
			VALUES ({:id}, {:kind}, {:payload}, {:status}, {:now}, {:now}, 0, {:createdBy})
		`).Bind(dbx.Params{
			"id": id, "kind": string(kind), "payload": string(body),
			"status": string(StatusPending), "now": now, "createdBy": createdByPtr,
		}).Execute()
		return err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Claim atomically selects the oldest pending job (ties broken by id, spec
// §4.6), marks it running, and returns it. Returns (nil, nil) if the queue
// is empty.
func (q *Queue) Claim(ctx context.Context) (*Job, error) {
	var claimed *Job
	err := q.store.Write(ctx, func(txApp core.App) error {
		var job Job
		err := txApp.DB().NewQuery(`
			SELECT * FROM admin_jobs WHERE status = {:pending}
			ORDER BY created_at ASC, id ASC LIMIT 1
		`).Bind(dbx.Params{"pending": string(StatusPending)}).One(&job)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return apperr.Transientf("claim: select", err)
		}
		now := q.clock.Now()
		_, err = txApp.DB().NewQuery(`
			UPDATE admin_jobs SET status = {:running}, started_at = {:now},
			       updated_at = {:now}, attempts = attempts + 1
			WHERE id = {:id} AND status = {:pending}
		`).Bind(dbx.Params{
			"running": string(StatusRunning), "now": now, "id": job.ID, "pending": string(StatusPending),
		}).Execute()
		if err != nil {
			return apperr.Transientf("claim: update", err)
		}
		job.Status = string(StatusRunning)
		job.StartedAt = &now
		job.UpdatedAt = now
		job.Attempts++
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Heartbeat refreshes updated_at and progress counters; it also functions
// as the job's lease renewal (spec §4.6).
func (q *Queue) Heartbeat(ctx context.Context, id string, current, total int) error {
	now := q.clock.Now()
	return q.store.Write(ctx, func(txApp core.App) error {
		_, err := txApp.DB().NewQuery(`
			UPDATE admin_jobs SET updated_at = {:now}, progress_current = {:cur}, progress_total = {:tot}
			WHERE id = {:id}
		`).Bind(dbx.Params{"now": now, "cur": current, "tot": total, "id": id}).Execute()
		return err
	})
}

// Finish sets a terminal status and finished_at. Repeating Finish on an
// already-terminal job is a no-op (spec §8).
func (q *Queue) Finish(ctx context.Context, id string, outcome Status, jobErr error) error {
	if outcome != StatusDone && outcome != StatusFailed && outcome != StatusCanceled {
		return apperr.New(apperr.Validation, "invalid terminal status: "+string(outcome))
	}
	now := q.clock.Now()
	var lastErr *string
	if jobErr != nil {
		msg := jobErr.Error()
		lastErr = &msg
	}
	return q.store.Write(ctx, func(txApp core.App) error {
		_, err := txApp.DB().NewQuery(`
			UPDATE admin_jobs SET status = {:status}, finished_at = {:now}, updated_at = {:now}, last_error = {:err}
			WHERE id = {:id} AND status NOT IN ({:done}, {:failed}, {:canceled})
		`).Bind(dbx.Params{
			"status": string(outcome), "now": now, "err": lastErr, "id": id,
			"done": string(StatusDone), "failed": string(StatusFailed), "canceled": string(StatusCanceled),
		}).Execute()
		return err
	})
}

// Reclaim moves any running job whose lease has expired back to pending,
// or to failed once attempts are exhausted (spec §4.6/§8).
func (q *Queue) Reclaim(ctx context.Context) (reclaimed, failed int, err error) {
	cutoff := q.clock.Now().Add(-q.leaseTTL)
	now := q.clock.Now()
	werr := q.store.Write(ctx, func(txApp core.App) error {
		var stale []Job
		qerr := txApp.DB().NewQuery(`
			SELECT * FROM admin_jobs WHERE status = {:running} AND updated_at < {:cutoff}
		`).Bind(dbx.Params{"running": string(StatusRunning), "cutoff": cutoff}).All(&stale)
		if qerr != nil {
			return apperr.Transientf("reclaim: select", qerr)
		}
		for _, job := range stale {
			if job.Attempts >= q.maxTries {
				msg := "lease expired"
				_, uerr := txApp.DB().NewQuery(`
					UPDATE admin_jobs SET status = {:failed}, finished_at = {:now}, updated_at = {:now}, last_error = {:msg}
					WHERE id = {:id}
				`).Bind(dbx.Params{"failed": string(StatusFailed), "now": now, "msg": msg, "id": job.ID}).Execute()
				if uerr != nil {
					return apperr.Transientf("reclaim: fail", uerr)
				}
				failed++
				continue
			}
			_, uerr := txApp.DB().NewQuery(`
				UPDATE admin_jobs SET status = {:pending}, started_at = NULL, updated_at = {:now}
				WHERE id = {:id}
			`).Bind(dbx.Params{"pending": string(StatusPending), "now": now, "id": job.ID}).Execute()
			if uerr != nil {
				return apperr.Transientf("reclaim: requeue", uerr)
			}
			reclaimed++
		}
		return nil
	})
	if werr != nil {
		return 0, 0, werr
	}
	return reclaimed, failed, nil
}
