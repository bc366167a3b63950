package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/api/handler"
	apimw "github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/api/middleware"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/realtime"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/repository"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/service"
)

// Deps is everything the HTTP surface reads from or writes to.
type Deps struct {
	Queue        *service.QueueService
	Audit        repository.AuditRepository
	Budgets      repository.BudgetRepository
	Directory    repository.ClinicDirectory
	MonthlyLimit int
	Hub          *realtime.Hub
	History      handler.HistorySource
	// Outbound is nil in SMS simulation mode.
	Outbound handler.DepthSource
	DB       handler.Pinger
	Gatherer prometheus.Gatherer
}

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. It is the single source of truth for the HTTP surface area.
func NewRouter(d Deps, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- global middleware (applied to every route) ---
	r.Use(chimw.Recoverer)            // recover panics, return 500
	r.Use(chimw.RealIP)               // trust X-Forwarded-For / X-Real-IP
	r.Use(chimw.RequestSize(1 << 20)) // 1 MB max request body
	r.Use(apimw.CorrelationID)        // X-Correlation-ID inject / echo
	r.Use(apimw.RequestLogger(logger))
	r.Use(apimw.Caller)

	// --- handler instances ---
	qh := handler.NewQueueHandler(d.Queue, logger)
	dh := handler.NewDayHandler(d.Queue, logger)
	rh := handler.NewRecordsHandler(d.Queue, d.Audit, d.Budgets, d.Directory, d.MonthlyLimit, nil, logger)
	sh := handler.NewSystemHandler(d.Outbound)
	eh := handler.NewEventsHandler(d.Queue, d.History)
	fh := handler.NewFeedHandler(d.Queue, d.Hub)
	hh := handler.NewHealthHandler(d.DB)

	// --- routes ---
	r.Get("/health", hh.Health)
	r.Get("/ready", hh.Ready)

	// Raw Prometheus scrape endpoint (for Prometheus server / Grafana)
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/outbound", sh.Outbound)

		r.Route("/clinics/{clinicID}", func(r chi.Router) {
			// call-next is registered before /{entryID} routes so chi does
			// not treat the literal segment as an entry ID.
			r.Get("/queue", qh.Get)
			r.Post("/queue", qh.Add)
			r.Post("/queue/call-next", qh.CallNext)
			r.Post("/queue/{entryID}/call", qh.CallSpecific)
			r.Post("/queue/{entryID}/absent", qh.MarkAbsent)
			r.Post("/queue/{entryID}/return", qh.MarkReturned)
			r.Post("/queue/{entryID}/complete", qh.Complete)

			r.Post("/day/end", dh.End)
			r.Post("/day/closures/{closureID}/reopen", dh.Reopen)

			r.Get("/audit", rh.Audit)
			r.Get("/budget", rh.Budget)
			r.Get("/events/recent", eh.Recent)
			r.Get("/feed", fh.Serve)
		})
	})

	return r
}
