package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/api/middleware"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/domain"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/service"
)

// DayHandler closes and reopens clinic days.
type DayHandler struct {
	svc    *service.QueueService
	logger *zap.Logger
}

func NewDayHandler(svc *service.QueueService, logger *zap.Logger) *DayHandler {
	return &DayHandler{svc: svc, logger: logger}
}

// EndDayRequest optionally names the day to close; today by default.
type EndDayRequest struct {
	Date string `json:"date,omitempty"`
}

// End handles POST /api/v1/clinics/{clinicID}/day/end
//
// @Summary  Close the clinic day
// @Tags     day
// @Accept   json
// @Produce  json
// @Param    clinicID  path      string         true   "Clinic ID"
// @Param    body      body      EndDayRequest  false  "Day to close"
// @Success  200       {object}  domain.DayClosure
// @Failure  409       {object}  ErrorResponse  "day already closed"
// @Router   /api/v1/clinics/{clinicID}/day/end [post]
func (h *DayHandler) End(w http.ResponseWriter, r *http.Request) {
	var req EndDayRequest
	if !decodeJSON(r, &req) {
		respondError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	day := h.svc.Today()
	if req.Date != "" {
		var err error
		if day, err = domain.ParseDay(req.Date); err != nil {
			mapError(w, err)
			return
		}
	}
	closure, err := h.svc.EndDay(r.Context(), apimw.GetCaller(r.Context()), chi.URLParam(r, "clinicID"), day)
	if err != nil {
		logRejection(h.logger, r, "end day", err)
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, closure)
}

// Reopen handles POST /api/v1/clinics/{clinicID}/day/closures/{closureID}/reopen
//
// @Summary  Reopen a closed day within the reopen window
// @Tags     day
// @Accept   json
// @Produce  json
// @Param    clinicID   path      string         true  "Clinic ID"
// @Param    closureID  path      string         true  "Day closure ID"
// @Param    body       body      ReasonRequest  true  "Why the day is reopened"
// @Success  200        {object}  domain.DayClosure
// @Failure  403        {object}  ErrorResponse  "not the clinic owner"
// @Failure  409        {object}  ErrorResponse  "reopen window expired"
// @Router   /api/v1/clinics/{clinicID}/day/closures/{closureID}/reopen [post]
func (h *DayHandler) Reopen(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if !decodeJSON(r, &req) {
		respondError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	closure, err := h.svc.ReopenDay(r.Context(), apimw.GetCaller(r.Context()),
		chi.URLParam(r, "clinicID"), chi.URLParam(r, "closureID"), req.Reason)
	if err != nil {
		logRejection(h.logger, r, "reopen day", err)
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, closure)
}

// dayBounds returns the UTC instants at which day starts and ends in loc.
func dayBounds(day time.Time, loc *time.Location) (time.Time, time.Time) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	return start.UTC(), start.AddDate(0, 0, 1).UTC()
}
