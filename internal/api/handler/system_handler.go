package handler

import (
	"context"
	"net/http"
	"time"
)

// DepthSource reports the outbound queue depth per priority tier.
type DepthSource interface {
	Depths() (high, normal, low int)
}

// SystemHandler serves the outbound message queue snapshot.
type SystemHandler struct {
	// outbound is nil when SMS runs in simulation mode.
	outbound DepthSource
}

func NewSystemHandler(outbound DepthSource) *SystemHandler {
	return &SystemHandler{outbound: outbound}
}

// Outbound handles GET /api/v1/outbound
//
// @Summary  Real-time outbound message queue depth snapshot
// @Tags     system
// @Produce  json
// @Success  200  {object}  map[string]any
// @Router   /api/v1/outbound [get]
func (h *SystemHandler) Outbound(w http.ResponseWriter, r *http.Request) {
	if h.outbound == nil {
		respondJSON(w, http.StatusOK, map[string]any{"simulated": true})
		return
	}
	high, normal, low := h.outbound.Depths()
	respondJSON(w, http.StatusOK, map[string]any{
		"simulated": false,
		"queue_depth": map[string]int{
			"high":   high,
			"normal": normal,
			"low":    low,
			"total":  high + normal + low,
		},
	})
}

// Pinger checks a backing store; *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	db Pinger
}

func NewHealthHandler(db Pinger) *HealthHandler { return &HealthHandler{db: db} }

// Health handles GET /health
//
// @Summary  Liveness probe
// @Tags     system
// @Produce  json
// @Success  200  {object}  map[string]string
// @Router   /health [get]
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /ready
//
// @Summary  Readiness probe; fails while the database is unreachable
// @Tags     system
// @Produce  json
// @Success  200  {object}  map[string]string
// @Failure  503  {object}  ErrorResponse
// @Router   /ready [get]
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			respondError(w, http.StatusServiceUnavailable, "unavailable", "database unreachable")
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
