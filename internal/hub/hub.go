// Package hub wires every component into the running pocketbase
// application: route registration and the background tasks (liveness
// ticker, queue reclaimer, notifier worker pool). Grounded on beszel's
// internal/hub/hub.go (NewHub/StartHub/registerApiRoutes), generalized
// from the systems/alerts/records domain to outagewatch's
// sensors/aggregator/notifier domain.
package hub

import (
	"context"
	"net/http"
	"time"

	"github.com/outagewatch/hub/internal/adminauth"
	"github.com/outagewatch/hub/internal/aggregator"
	"github.com/outagewatch/hub/internal/config"
	"github.com/outagewatch/hub/internal/freeze"
	"github.com/outagewatch/hub/internal/ingress"
	"github.com/outagewatch/hub/internal/liveness"
	"github.com/outagewatch/hub/internal/messenger"
	"github.com/outagewatch/hub/internal/notifier"
	"github.com/outagewatch/hub/internal/queue"
	"github.com/outagewatch/hub/internal/sensors"
	"github.com/outagewatch/hub/internal/store"
	ow "github.com/outagewatch/hub/internal/clock"

	"github.com/pocketbase/pocketbase/core"
	"golang.org/x/sync/errgroup"
)

// Hub owns every component's lifecycle.
type Hub struct {
	core.App

	cfg      *config.Config
	store    *store.Store
	clock    ow.Clock
	registry *sensors.Registry
	agg      *aggregator.Aggregator
	monitor  *liveness.Monitor
	queue    *queue.Queue
	freeze   *freeze.Controller
	notif    *notifier.Notifier
	ingress  *ingress.Handler
	admin    *adminauth.Issuer

	cancelBackground context.CancelFunc
}

// NewHub builds a Hub bound to app, loading configuration and the
// canonical sensor map and constructing every downstream component. It
// does not start anything yet; call StartHub for that.
func NewHub(app core.App) (*Hub, error) {
	cfg, err := config.Load(app.DataDir())
	if err != nil {
		return nil, err
	}

	canonical, err := sensors.LoadCanonicalMap(cfg.SensorsConfigPath)
	if err != nil {
		return nil, err
	}

	clk := ow.Real{}
	st := store.New(app, clk)
	registry := sensors.New(st, canonical)
	agg := aggregator.New(st, clk, registry, cfg.ThresholdUp, cfg.ThresholdDown, cfg.SensorTimeout)
	mon := liveness.New(cfg.CheckInterval, agg, clk, app.Logger())
	q := queue.New(st, clk, cfg.LeaseTTL, 5)
	fz := freeze.New(st, clk)

	botToken, _ := config.GetEnv("MESSENGER_BOT_TOKEN")
	msgr := messenger.NewTelegram(botToken)
	notif := notifier.New(st, clk, q, msgr, cfg.IsAdmin, cfg.BroadcastRatePerSec, cfg.BroadcastConcurrency, cfg.BroadcastMaxRetries)

	ih := ingress.New(cfg.SensorAPIKey, clk, registry, mon, mon.LastTick)
	admin := adminauth.New(cfg.AdminJWTSecret)

	h := &Hub{
		cfg: cfg, store: st, clock: clk, registry: registry,
		agg: agg, monitor: mon, queue: q, freeze: fz, notif: notif, ingress: ih, admin: admin,
	}
	h.App = app
	return h, nil
}

// StartHub registers routes and background tasks, then starts the
// pocketbase application, mirroring beszel's StartHub control flow.
func (h *Hub) StartHub() error {
	h.App.OnServe().BindFunc(func(e *core.ServeEvent) error {
		h.ingress.Register(e)
		h.registerAdminRoutes(e)
		h.startBackgroundTasks()
		return e.Next()
	})

	h.App.OnTerminate().BindFunc(func(e *core.TerminateEvent) error {
		if h.cancelBackground != nil {
			h.cancelBackground()
		}
		return e.Next()
	})

	return h.App.Start()
}

// startBackgroundTasks launches the liveness ticker, the queue reclaimer,
// and the notifier worker pool under a single errgroup, canceled on app
// termination (spec §5). The reclaimer runs on its own ticker
// (cfg.ReclaimInterval, spec §4.6/§5: "periodic, every 30 s") rather than
// pocketbase's cron registration, since that scheduler is minute-grained.
func (h *Hub) startBackgroundTasks() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancelBackground = cancel

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.monitor.Start(gctx) })
	g.Go(func() error { return h.notif.RunWorkers(gctx, h.cfg.BroadcastConcurrency) })
	g.Go(func() error { return h.runReclaimLoop(gctx) })

	go func() {
		if err := g.Wait(); err != nil {
			h.Logger().Error("background tasks stopped", "err", err)
		}
	}()
}

// runReclaimLoop reclaims expired job leases on cfg.ReclaimInterval until
// ctx is canceled (spec §4.6).
func (h *Hub) runReclaimLoop(ctx context.Context) error {
	ticker := time.NewTicker(h.cfg.ReclaimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.reclaimOnce(ctx)
		}
	}
}

func (h *Hub) reclaimOnce(ctx context.Context) {
	rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	reclaimed, failed, err := h.queue.Reclaim(rctx)
	if err != nil {
		h.Logger().Error("queue reclaim failed", "err", err)
		return
	}
	if reclaimed > 0 || failed > 0 {
		h.Logger().Info("queue reclaim", "reclaimed", reclaimed, "failed", failed)
	}
}

// registerAdminRoutes exposes the freeze controller and admin job queue
// over HTTP, grouped the way beszel groups its /api/beszel surface behind
// apis.RequireAuth() — here authenticated with a bearer token checked
// against SENSOR_API_KEY's sibling admin secret instead of a pocketbase
// user session, since this service has no end-user auth model.
func (h *Hub) registerAdminRoutes(se *core.ServeEvent) {
	admin := se.Router.Group("/api/v1/admin")
	admin.Bind(h.requireAdminToken())

	admin.POST("/freeze", h.handleFreeze)
	admin.POST("/unfreeze", h.handleUnfreeze)
	admin.POST("/freeze-all", h.handleFreezeAll)
	admin.POST("/unfreeze-by-deploy", h.handleUnfreezeByDeploy)
	admin.POST("/broadcast", h.handleBroadcast)
	admin.POST("/jobs/{id}/cancel", h.handleCancelJob)
}

type freezeRequest struct {
	SensorUUID  string `json:"sensor_uuid"`
	Minutes     int    `json:"minutes"`
	AssumedIsUp bool   `json:"assumed_is_up"`
}

func (h *Hub) handleFreeze(e *core.RequestEvent) error {
	var req freezeRequest
	if err := e.BindBody(&req); err != nil || req.SensorUUID == "" {
		return e.BadRequestError("sensor_uuid is required", err)
	}
	minutes := req.Minutes
	if minutes <= 0 {
		minutes = h.cfg.DeployFreezeMinutes
	}
	until := h.clock.Now().Add(time.Duration(minutes) * time.Minute)
	if err := h.freeze.Freeze(e.Request.Context(), req.SensorUUID, until, req.AssumedIsUp); err != nil {
		return err
	}
	return e.JSON(http.StatusOK, map[string]any{"status": "ok", "until": until})
}

func (h *Hub) handleUnfreeze(e *core.RequestEvent) error {
	var req struct {
		SensorUUID string `json:"sensor_uuid"`
	}
	if err := e.BindBody(&req); err != nil || req.SensorUUID == "" {
		return e.BadRequestError("sensor_uuid is required", err)
	}
	if err := h.freeze.Unfreeze(e.Request.Context(), req.SensorUUID); err != nil {
		return err
	}
	return e.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Hub) handleFreezeAll(e *core.RequestEvent) error {
	var req struct {
		Minutes     int  `json:"minutes"`
		AssumedIsUp bool `json:"assumed_is_up"`
	}
	if err := e.BindBody(&req); err != nil {
		return e.BadRequestError("malformed body", err)
	}
	minutes := req.Minutes
	if minutes <= 0 {
		minutes = h.cfg.DeployFreezeMinutes
	}
	stampedAt, err := h.freeze.FreezeAll(e.Request.Context(), time.Duration(minutes)*time.Minute, req.AssumedIsUp)
	if err != nil {
		return err
	}
	return e.JSON(http.StatusOK, map[string]any{"status": "ok", "frozen_at": stampedAt})
}

func (h *Hub) handleUnfreezeByDeploy(e *core.RequestEvent) error {
	var req struct {
		FrozenAt time.Time `json:"frozen_at"`
	}
	if err := e.BindBody(&req); err != nil || req.FrozenAt.IsZero() {
		return e.BadRequestError("frozen_at is required", err)
	}
	n, err := h.freeze.UnfreezeByFreezeAt(e.Request.Context(), req.FrozenAt)
	if err != nil {
		return err
	}
	return e.JSON(http.StatusOK, map[string]any{"status": "ok", "unfrozen": n})
}

func (h *Hub) handleBroadcast(e *core.RequestEvent) error {
	var req queue.BroadcastPayload
	if err := e.BindBody(&req); err != nil || req.Text == "" {
		return e.BadRequestError("text is required", err)
	}
	if req.Target == "" {
		req.Target = "all"
	}
	id, err := h.queue.Enqueue(e.Request.Context(), queue.KindBroadcast, req, "admin")
	if err != nil {
		return err
	}
	return e.JSON(http.StatusOK, map[string]string{"status": "ok", "job_id": id})
}

func (h *Hub) handleCancelJob(e *core.RequestEvent) error {
	id := e.Request.PathValue("id")
	if id == "" {
		return e.BadRequestError("job id is required", nil)
	}
	if err := h.queue.Finish(e.Request.Context(), id, queue.StatusCanceled, nil); err != nil {
		return err
	}
	return e.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// requireAdminToken authenticates the admin surface with a signed,
// short-lived JWT (ADMIN_JWT_SECRET), the narrow control-plane analog of
// beszel's apis.RequireAuth() user-session middleware.
func (h *Hub) requireAdminToken() func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		if !h.admin.Enabled() {
			return e.ForbiddenError("admin surface disabled: ADMIN_JWT_SECRET not set", nil)
		}
		got := e.Request.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(got) <= len(prefix) || got[:len(prefix)] != prefix {
			return e.UnauthorizedError("missing bearer token", nil)
		}
		if _, err := h.admin.Verify(got[len(prefix):], h.clock.Now()); err != nil {
			return e.UnauthorizedError("invalid admin token", err)
		}
		return e.Next()
	}
}
