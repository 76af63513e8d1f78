// Package ingress implements the sensor-facing HTTP surface (spec §4.1,
// §6): POST /api/v1/heartbeat, GET /api/v1/health, GET /api/v1/sensors.
// Grounded on beszel's internal/hub/agent_connect.go for the
// authenticate-then-validate-then-upsert handler shape and its structured
// error-response convention.
package ingress

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/outagewatch/hub/internal/apperr"
	"github.com/outagewatch/hub/internal/clock"
	"github.com/outagewatch/hub/internal/sensors"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pocketbase/pocketbase/core"
)

// sensorRateLimit is spec §4.1's "429 if the per-sensor rate exceeds 10/s".
const sensorRateLimit = 10

// Poker is the best-effort "re-evaluate now" signal from ingress to the
// aggregator (spec §9: "losing that signal must not compromise
// correctness"). A nil Poker (or a full channel) is fine to ignore.
type Poker interface {
	Poke()
}

// Handler serves the sensor-facing HTTP endpoints.
type Handler struct {
	apiKey     string
	sensorKey  string
	clock      clock.Clock
	registry   *sensors.Registry
	poker      Poker
	startedAt  time.Time
	lastTickAt func() (time.Time, bool)
	rateCounts *expirable.LRU[string, *rateCounter]
}

type rateCounter struct {
	n int32
}

// heartbeatRequest is the JSON body for POST /api/v1/heartbeat (spec §4.1).
type heartbeatRequest struct {
	APIKey     string `json:"api_key"`
	BuildingID int    `json:"building_id"`
	SensorUUID string `json:"sensor_uuid"`
	SectionID  int    `json:"section_id,omitempty"`
	Comment    string `json:"comment,omitempty"`
}

// New builds a Handler. sensorAPIKey authenticates both heartbeats (the
// api_key body field) and GET /api/v1/sensors (spec §6's X-API-Key header).
// lastTickAt reports the liveness monitor's most recent completed tick,
// for the health endpoint.
func New(sensorAPIKey string, c clock.Clock, registry *sensors.Registry, poker Poker, lastTickAt func() (time.Time, bool)) *Handler {
	return &Handler{
		apiKey:     sensorAPIKey,
		sensorKey:  sensorAPIKey,
		clock:      c,
		registry:   registry,
		poker:      poker,
		startedAt:  c.Now(),
		lastTickAt: lastTickAt,
		rateCounts: expirable.NewLRU[string, *rateCounter](10_000, nil, time.Second),
	}
}

// Register attaches the three sensor-facing routes to se.Router, mirroring
// beszel's registerApiRoutes grouping style.
func (h *Handler) Register(se *core.ServeEvent) {
	se.Router.POST("/api/v1/heartbeat", h.handleHeartbeat)
	se.Router.GET("/api/v1/health", h.handleHealth)
	se.Router.GET("/api/v1/sensors", h.handleListSensors)
}

func (h *Handler) handleHeartbeat(e *core.RequestEvent) error {
	var req heartbeatRequest
	if err := e.BindBody(&req); err != nil {
		return e.BadRequestError("malformed body", err)
	}

	if subtle.ConstantTimeCompare([]byte(req.APIKey), []byte(h.apiKey)) != 1 {
		return e.UnauthorizedError("invalid api_key", nil)
	}

	if !sensors.ValidUUID(req.SensorUUID) {
		return e.BadRequestError("invalid sensor_uuid", nil)
	}

	if h.rateLimited(req.SensorUUID) {
		return e.JSON(http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
	}

	buildingID, sectionID := h.registry.Resolve(req.SensorUUID, req.BuildingID, req.SectionID)

	sectionsCount, found, err := h.registry.BuildingSectionsCount(buildingID)
	if err != nil {
		return err
	}
	if !found {
		return e.NotFoundError("unknown building", nil)
	}
	if sectionID != 0 && (sectionID < 1 || sectionID > sectionsCount) {
		return e.BadRequestError("section_id out of range", nil)
	}

	now := h.clock.Now()
	sensor, _, err := h.registry.UpsertHeartbeat(e.Request.Context(), req.SensorUUID, buildingID, sectionID, req.Comment, now)
	if err != nil {
		if apperr.Is(err, apperr.Transient) {
			return e.JSON(http.StatusServiceUnavailable, map[string]string{"error": "store busy"})
		}
		return err
	}

	if h.poker != nil {
		h.poker.Poke()
	}

	return e.JSON(http.StatusOK, map[string]any{
		"status":      "ok",
		"timestamp":   now.UTC().Format(time.RFC3339),
		"building":    sensor.BuildingID,
		"sensor_uuid": sensor.UUID,
	})
}

// rateLimited enforces the 10/s-per-sensor cap using an expirable LRU
// counter: a sensor's window opens at its first request and lasts one
// second (the LRU's TTL; later requests do not extend it), mirroring the hashicorp
// golang-lru/v2/expirable dedup idiom used in internal/notifier.
func (h *Handler) rateLimited(sensorUUID string) bool {
	counter, ok := h.rateCounts.Get(sensorUUID)
	if !ok {
		counter = &rateCounter{}
		h.rateCounts.Add(sensorUUID, counter)
	}
	counter.n++
	return counter.n > sensorRateLimit
}

func (h *Handler) handleHealth(e *core.RequestEvent) error {
	dbOK := true
	if err := e.App.DB().NewQuery("SELECT 1").Row(new(int)); err != nil {
		dbOK = false
	}
	resp := map[string]any{
		"status":    "ok",
		"uptime_sec": int(h.clock.Now().Sub(h.startedAt).Seconds()),
		"db_ok":     dbOK,
	}
	if h.lastTickAt != nil {
		if ts, ok := h.lastTickAt(); ok {
			resp["last_tick_ago_sec"] = int(h.clock.Now().Sub(ts).Seconds())
		}
	}
	return e.JSON(http.StatusOK, resp)
}

func (h *Handler) handleListSensors(e *core.RequestEvent) error {
	if subtle.ConstantTimeCompare([]byte(e.Request.Header.Get("X-API-Key")), []byte(h.sensorKey)) != 1 {
		return e.UnauthorizedError("invalid X-API-Key", nil)
	}
	list, err := h.registry.List()
	if err != nil {
		return err
	}
	return e.JSON(http.StatusOK, map[string]any{"sensors": list})
}
