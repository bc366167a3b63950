package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apimw "github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/api/middleware"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/realtime"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/service"
)

// FeedHandler upgrades reception screens to the clinic's realtime feed.
type FeedHandler struct {
	svc *service.QueueService
	hub *realtime.Hub
}

func NewFeedHandler(svc *service.QueueService, hub *realtime.Hub) *FeedHandler {
	return &FeedHandler{svc: svc, hub: hub}
}

// Serve handles GET /api/v1/clinics/{clinicID}/feed
//
// @Summary  Websocket stream of the clinic's queue events
// @Tags     queue
// @Param    clinicID  path  string  true  "Clinic ID"
// @Success  101
// @Failure  403  {object}  ErrorResponse
// @Router   /api/v1/clinics/{clinicID}/feed [get]
func (h *FeedHandler) Serve(w http.ResponseWriter, r *http.Request) {
	clinicID := chi.URLParam(r, "clinicID")
	if err := h.svc.Authorize(r.Context(), apimw.GetCaller(r.Context()), clinicID); err != nil {
		mapError(w, err)
		return
	}
	h.hub.Serve(w, r, clinicID)
}
