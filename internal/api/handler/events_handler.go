package handler

import (
	"net/http"
	"slices"
	"strconv"

	"github.com/go-chi/chi/v5"

	apimw "github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/api/middleware"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/eventbus"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/service"
)

// HistorySource exposes the bus's recent-event ring.
type HistorySource interface {
	Recent(n int) []eventbus.Record
}

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 500
)

// EventsHandler serves a clinic's slice of the recent-event ring.
type EventsHandler struct {
	svc     *service.QueueService
	history HistorySource
}

func NewEventsHandler(svc *service.QueueService, history HistorySource) *EventsHandler {
	return &EventsHandler{svc: svc, history: history}
}

// Recent handles GET /api/v1/clinics/{clinicID}/events/recent
//
// @Summary  Most recently published events of a clinic, oldest first
// @Tags     records
// @Produce  json
// @Param    clinicID  path      string  true   "Clinic ID"
// @Param    limit     query     int     false  "Max events (default 50, max 500)"
// @Success  200       {object}  map[string]any
// @Router   /api/v1/clinics/{clinicID}/events/recent [get]
func (h *EventsHandler) Recent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clinicID := chi.URLParam(r, "clinicID")
	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusUnprocessableEntity, "validation", "limit must be a positive integer")
			return
		}
		limit = min(n, maxRecentLimit)
	}
	if err := h.svc.Authorize(ctx, apimw.GetCaller(ctx), clinicID); err != nil {
		mapError(w, err)
		return
	}

	events := clinicEvents(h.history.Recent(0), clinicID, limit)
	respondJSON(w, http.StatusOK, map[string]any{
		"clinic_id": clinicID,
		"events":    events,
		"count":     len(events),
	})
}

// clinicEvents keeps the last limit records of clinicID, oldest first.
func clinicEvents(all []eventbus.Record, clinicID string, limit int) []eventbus.Record {
	out := []eventbus.Record{}
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		if all[i].ClinicID == clinicID {
			out = append(out, all[i])
		}
	}
	slices.Reverse(out)
	return out
}
