// Package freeze implements the deploy-freeze protocol (spec §4.5):
// operator-controlled pins on a sensor's contributed power state during
// maintenance, so the liveness monitor and aggregator never need to know a
// deploy is running. Grounded on beszel's convention of soft-toggling state
// on the record (the "paused" handling in internal/hub/systems/system.go)
// rather than introducing a separate out-of-band flag.
package freeze

import (
	"context"
	"time"

	"github.com/outagewatch/hub/internal/clock"
	"github.com/outagewatch/hub/internal/store"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
)

// Controller mutates sensors.frozen_* columns.
type Controller struct {
	store *store.Store
	clock clock.Clock
}

// New builds a freeze Controller.
func New(st *store.Store, c clock.Clock) *Controller {
	return &Controller{store: st, clock: c}
}

// Freeze pins sensorUUID to assumedIsUp until the given deadline.
func (c *Controller) Freeze(ctx context.Context, sensorUUID string, until time.Time, assumedIsUp bool) error {
	now := c.clock.Now()
	return c.store.Write(ctx, func(txApp core.App) error {
		_, err := txApp.DB().NewQuery(`
			UPDATE sensors SET frozen_until = {:until}, frozen_is_up = {:isUp}, frozen_at = {:now}
			WHERE uuid = {:uuid}
		`).Bind(dbx.Params{"until": until, "isUp": assumedIsUp, "now": now, "uuid": sensorUUID}).Execute()
		return err
	})
}

// Unfreeze clears sensorUUID's freeze fields, returning it to pure liveness.
func (c *Controller) Unfreeze(ctx context.Context, sensorUUID string) error {
	return c.store.Write(ctx, func(txApp core.App) error {
		_, err := txApp.DB().NewQuery(`
			UPDATE sensors SET frozen_until = NULL, frozen_is_up = NULL, frozen_at = NULL
			WHERE uuid = {:uuid}
		`).Bind(dbx.Params{"uuid": sensorUUID}).Execute()
		return err
	})
}

// FreezeAll pins every active sensor to assumedIsUp for duration —
// the deploy-script entry point (spec §4.5). The frozen_at stamp it writes
// is what UnfreezeByFreezeAt later uses to unfreeze only these rows.
func (c *Controller) FreezeAll(ctx context.Context, duration time.Duration, assumedIsUp bool) (stampedAt time.Time, err error) {
	now := c.clock.Now()
	until := now.Add(duration)
	werr := c.store.Write(ctx, func(txApp core.App) error {
		_, err := txApp.DB().NewQuery(`
			UPDATE sensors SET frozen_until = {:until}, frozen_is_up = {:isUp}, frozen_at = {:now}
			WHERE is_active = 1
		`).Bind(dbx.Params{"until": until, "isUp": assumedIsUp, "now": now}).Execute()
		return err
	})
	if werr != nil {
		return time.Time{}, werr
	}
	return now, nil
}

// UnfreezeByFreezeAt clears the freeze only on rows stamped at exactly ts —
// the deploy script's completion hook, so a freeze issued by a later deploy
// (or a manual Freeze call) is never clobbered.
func (c *Controller) UnfreezeByFreezeAt(ctx context.Context, ts time.Time) (int, error) {
	var affected int
	err := c.store.Write(ctx, func(txApp core.App) error {
		res, err := txApp.DB().NewQuery(`
			UPDATE sensors SET frozen_until = NULL, frozen_is_up = NULL, frozen_at = NULL
			WHERE frozen_at = {:ts}
		`).Bind(dbx.Params{"ts": ts}).Execute()
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		affected = int(n)
		return nil
	})
	return affected, err
}
