package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/api/middleware"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/domain"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/service"
)

// QueueHandler exposes the live queue operations of one clinic.
type QueueHandler struct {
	svc    *service.QueueService
	logger *zap.Logger
}

func NewQueueHandler(svc *service.QueueService, logger *zap.Logger) *QueueHandler {
	return &QueueHandler{svc: svc, logger: logger}
}

// ReasonRequest is the optional body of markAbsent and the body of reopenDay.
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// Get handles GET /api/v1/clinics/{clinicID}/queue
//
// @Summary  Queue snapshot in display order
// @Tags     queue
// @Produce  json
// @Param    clinicID  path      string  true   "Clinic ID"
// @Param    date      query     string  false  "Day (YYYY-MM-DD), defaults to today"
// @Success  200       {object}  service.QueueView
// @Failure  403       {object}  ErrorResponse
// @Failure  422       {object}  ErrorResponse
// @Router   /api/v1/clinics/{clinicID}/queue [get]
func (h *QueueHandler) Get(w http.ResponseWriter, r *http.Request) {
	day, err := dayParam(r)
	if err != nil {
		mapError(w, err)
		return
	}
	view, err := h.svc.GetQueue(r.Context(), apimw.GetCaller(r.Context()), chi.URLParam(r, "clinicID"), day)
	if err != nil {
		h.fail(w, r, "get queue", err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// Add handles POST /api/v1/clinics/{clinicID}/queue
//
// @Summary  Check a patient in at the tail of today's queue
// @Tags     queue
// @Accept   json
// @Produce  json
// @Param    clinicID  path      string                     true  "Clinic ID"
// @Param    body      body      service.AddToQueueRequest  true  "Patient and appointment type"
// @Success  201       {object}  domain.QueueEntry
// @Failure  409       {object}  ErrorResponse
// @Failure  422       {object}  ErrorResponse
// @Router   /api/v1/clinics/{clinicID}/queue [post]
func (h *QueueHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req service.AddToQueueRequest
	if !decodeJSON(r, &req) {
		respondError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	entry, err := h.svc.AddToQueue(r.Context(), apimw.GetCaller(r.Context()), chi.URLParam(r, "clinicID"), req)
	if err != nil {
		h.fail(w, r, "add to queue", err)
		return
	}
	respondJSON(w, http.StatusCreated, entry)
}

// CallNext handles POST /api/v1/clinics/{clinicID}/queue/call-next
//
// @Summary  Call the waiting patient at position 1
// @Tags     queue
// @Produce  json
// @Param    clinicID  path      string  true  "Clinic ID"
// @Success  200       {object}  domain.QueueEntry
// @Failure  404       {object}  ErrorResponse  "queue empty"
// @Failure  409       {object}  ErrorResponse  "a patient is already in progress"
// @Router   /api/v1/clinics/{clinicID}/queue/call-next [post]
func (h *QueueHandler) CallNext(w http.ResponseWriter, r *http.Request) {
	entry, err := h.svc.CallNextPatient(r.Context(), apimw.GetCaller(r.Context()), chi.URLParam(r, "clinicID"))
	if err != nil {
		h.fail(w, r, "call next patient", err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

// CallSpecific handles POST /api/v1/clinics/{clinicID}/queue/{entryID}/call
//
// @Summary  Call a waiting patient out of order
// @Tags     queue
// @Produce  json
// @Param    clinicID  path      string  true  "Clinic ID"
// @Param    entryID   path      string  true  "Queue entry ID"
// @Success  200       {object}  domain.QueueEntry
// @Router   /api/v1/clinics/{clinicID}/queue/{entryID}/call [post]
func (h *QueueHandler) CallSpecific(w http.ResponseWriter, r *http.Request) {
	entry, err := h.svc.CallSpecificPatient(r.Context(), apimw.GetCaller(r.Context()),
		chi.URLParam(r, "clinicID"), chi.URLParam(r, "entryID"))
	if err != nil {
		h.fail(w, r, "call specific patient", err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

// MarkAbsent handles POST /api/v1/clinics/{clinicID}/queue/{entryID}/absent
//
// @Summary  Mark a waiting patient absent and open the grace window
// @Tags     queue
// @Accept   json
// @Produce  json
// @Param    clinicID  path      string         true   "Clinic ID"
// @Param    entryID   path      string         true   "Queue entry ID"
// @Param    body      body      ReasonRequest  false  "Optional reason"
// @Success  200       {object}  domain.QueueEntry
// @Router   /api/v1/clinics/{clinicID}/queue/{entryID}/absent [post]
func (h *QueueHandler) MarkAbsent(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if !decodeJSON(r, &req) {
		respondError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	entry, err := h.svc.MarkAbsent(r.Context(), apimw.GetCaller(r.Context()),
		chi.URLParam(r, "clinicID"), chi.URLParam(r, "entryID"), req.Reason)
	if err != nil {
		h.fail(w, r, "mark absent", err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

// MarkReturned handles POST /api/v1/clinics/{clinicID}/queue/{entryID}/return
//
// @Summary  Put an absent patient back at the tail of the queue
// @Tags     queue
// @Produce  json
// @Param    clinicID  path      string  true  "Clinic ID"
// @Param    entryID   path      string  true  "Queue entry ID"
// @Success  200       {object}  domain.QueueEntry
// @Failure  409       {object}  ErrorResponse  "grace window expired"
// @Router   /api/v1/clinics/{clinicID}/queue/{entryID}/return [post]
func (h *QueueHandler) MarkReturned(w http.ResponseWriter, r *http.Request) {
	entry, err := h.svc.MarkReturned(r.Context(), apimw.GetCaller(r.Context()),
		chi.URLParam(r, "clinicID"), chi.URLParam(r, "entryID"))
	if err != nil {
		h.fail(w, r, "mark returned", err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

// Complete handles POST /api/v1/clinics/{clinicID}/queue/{entryID}/complete
//
// @Summary  Complete the in-progress appointment
// @Tags     queue
// @Produce  json
// @Param    clinicID  path      string  true  "Clinic ID"
// @Param    entryID   path      string  true  "Queue entry ID"
// @Success  200       {object}  domain.QueueEntry
// @Router   /api/v1/clinics/{clinicID}/queue/{entryID}/complete [post]
func (h *QueueHandler) Complete(w http.ResponseWriter, r *http.Request) {
	entry, err := h.svc.CompleteAppointment(r.Context(), apimw.GetCaller(r.Context()),
		chi.URLParam(r, "clinicID"), chi.URLParam(r, "entryID"))
	if err != nil {
		h.fail(w, r, "complete appointment", err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

func (h *QueueHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	logRejection(h.logger, r, op, err)
	mapError(w, err)
}

// logRejection logs client-side rejections at warn and infrastructure
// failures at error.
func logRejection(logger *zap.Logger, r *http.Request, op string, err error) {
	fields := []zap.Field{
		zap.String("op", op),
		zap.String("correlation_id", apimw.GetCorrelationID(r.Context())),
		zap.String("clinic_id", chi.URLParam(r, "clinicID")),
		zap.Error(err),
	}
	if domain.KindOf(err) == "" {
		logger.Error("request failed", fields...)
		return
	}
	logger.Warn("request rejected", fields...)
}
