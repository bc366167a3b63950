package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/api/middleware"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/domain"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/repository"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/service"
)

// RecordsHandler serves the read-only audit trail and budget of a clinic.
type RecordsHandler struct {
	svc          *service.QueueService
	audit        repository.AuditRepository
	budgets      repository.BudgetRepository
	dir          repository.ClinicDirectory
	monthlyLimit int
	now          func() time.Time
	logger       *zap.Logger
}

func NewRecordsHandler(
	svc *service.QueueService,
	audit repository.AuditRepository,
	budgets repository.BudgetRepository,
	dir repository.ClinicDirectory,
	monthlyLimit int,
	now func() time.Time,
	logger *zap.Logger,
) *RecordsHandler {
	if now == nil {
		now = time.Now
	}
	return &RecordsHandler{
		svc:          svc,
		audit:        audit,
		budgets:      budgets,
		dir:          dir,
		monthlyLimit: monthlyLimit,
		now:          now,
		logger:       logger,
	}
}

// Audit handles GET /api/v1/clinics/{clinicID}/audit
//
// @Summary  Queue overrides recorded on a clinic day
// @Tags     records
// @Produce  json
// @Param    clinicID  path      string  true   "Clinic ID"
// @Param    date      query     string  false  "Day (YYYY-MM-DD), defaults to today"
// @Success  200       {object}  map[string]any
// @Router   /api/v1/clinics/{clinicID}/audit [get]
func (h *RecordsHandler) Audit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clinicID := chi.URLParam(r, "clinicID")
	day, err := dayParam(r)
	if err != nil {
		mapError(w, err)
		return
	}
	if err := h.svc.Authorize(ctx, apimw.GetCaller(ctx), clinicID); err != nil {
		mapError(w, err)
		return
	}
	if day.IsZero() {
		day = h.svc.Today()
	}

	from, to := dayBounds(day, h.svc.Location())
	rows, err := h.audit.ListAudit(ctx, clinicID, from, to)
	if err != nil {
		logRejection(h.logger, r, "list audit", err)
		mapError(w, err)
		return
	}
	if rows == nil {
		rows = []*domain.AuditEntry{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"clinic_id": clinicID,
		"day":       day.Format(time.DateOnly),
		"entries":   rows,
	})
}

// Budget handles GET /api/v1/clinics/{clinicID}/budget
//
// @Summary  Notification budget of the current month
// @Tags     records
// @Produce  json
// @Param    clinicID  path      string  true  "Clinic ID"
// @Success  200       {object}  map[string]any
// @Router   /api/v1/clinics/{clinicID}/budget [get]
func (h *RecordsHandler) Budget(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clinicID := chi.URLParam(r, "clinicID")
	if err := h.svc.Authorize(ctx, apimw.GetCaller(ctx), clinicID); err != nil {
		mapError(w, err)
		return
	}

	period, resetAt := domain.BillingPeriod(h.now())
	b, err := h.budgets.GetBudget(ctx, clinicID, period)
	switch {
	case errors.Is(err, domain.ErrBudgetNotFound):
		// Nothing sent yet this month.
		limit, err := h.limitFor(r, clinicID)
		if err != nil {
			logRejection(h.logger, r, "clinic monthly limit", err)
			mapError(w, err)
			return
		}
		b = &domain.NotificationBudget{ClinicID: clinicID, Period: period, MonthlyLimit: limit, ResetAt: resetAt}
	case err != nil:
		logRejection(h.logger, r, "get budget", err)
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"clinic_id":     b.ClinicID,
		"period":        b.Period,
		"monthly_limit": b.MonthlyLimit,
		"sent":          b.Sent,
		"remaining":     b.Remaining(),
		"reset_at":      b.ResetAt,
	})
}

// limitFor is the limit the first send of the month will store: the
// clinic's own sms_monthly_limit when set, else the configured default.
func (h *RecordsHandler) limitFor(r *http.Request, clinicID string) (int, error) {
	limit, err := h.dir.ClinicMonthlyLimit(r.Context(), clinicID)
	if errors.Is(err, domain.ErrNotFound) {
		return h.monthlyLimit, nil
	}
	return limit, err
}
