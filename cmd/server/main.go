package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/api"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/api/handler"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/audit"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/config"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/db"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/eventbus"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/history"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/metrics"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/notify"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/outbound"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/provider"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/ratelimiter"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/realtime"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/repository"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/service"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/worker"
)

func main() {
	// ---- configuration ----
	cfg, err := config.Load()
	if err != nil {
		bootLogger, _ := zap.NewProduction()
		bootLogger.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		bootLogger, _ := zap.NewProduction()
		bootLogger.Fatal("failed to build logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	loc, _ := cfg.Location() // validated by config.Load

	// ---- database ----
	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(cfg.DatabaseURL, cfg.MigrationsURL); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	logger.Info("database migrations applied")

	// ---- core dependencies ----
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	queueRepo := repository.NewPgQueueRepository(pool)
	auditRepo := repository.NewPgAuditRepository(pool)
	budgetRepo := repository.NewPgBudgetRepository(pool)
	historyRepo := repository.NewPgHistoryRepository(pool)
	directory := repository.NewPgClinicDirectory(pool)

	bus := eventbus.New(logger, eventbus.Options{
		HistorySize:    cfg.EventHistorySize,
		HandlerTimeout: cfg.EventHandlerTimeout,
		Hooks:          m.BusHooks(),
	})

	svc := service.NewQueueService(queueRepo, directory, bus, logger, service.Options{
		GraceWindow:  cfg.GraceWindow,
		ReopenWindow: cfg.ReopenWindow,
		Location:     loc,
		Hooks:        m.ServiceHooks(),
	})

	templates, err := notify.LoadTemplates(cfg.TemplatesPath)
	if err != nil {
		logger.Fatal("failed to load message templates", zap.Error(err))
	}

	// Context for all background goroutines; cancelled on shutdown signal.
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	var background sync.WaitGroup
	goBackground := func(fn func(ctx context.Context)) {
		background.Add(1)
		go func() {
			defer background.Done()
			fn(workerCtx)
		}()
	}

	// ---- outbound SMS ----
	// Without a gateway the dispatcher logs messages instead of queueing them.
	var (
		enqueuer   notify.Enqueuer
		depths     handler.DepthSource
		senderPool *worker.Pool
	)
	if !cfg.SimulateSMS() {
		q := outbound.New(outbound.Capacity{})
		gw := provider.NewHTTPGateway(cfg.SMSGatewayURL, cfg.SMSSenderID, cfg.SMSGatewayTimeout)
		limiter := ratelimiter.New(cfg.SMSRateLimit)
		senderPool = worker.NewPool(cfg.NotifyWorkers, q, gw, limiter, cfg.SMSGatewayTimeout, logger, m.WorkerHooks())
		senderPool.Start(workerCtx)

		sampler := worker.NewDepthSampler(q, cfg.DepthSampleInterval, m.RecordDepths, logger)
		goBackground(sampler.Run)

		enqueuer, depths = q, q
	} else {
		logger.Warn("SMS_GATEWAY_URL not set; notifications run in simulation mode")
	}

	// ---- event subscribers (registration order is delivery order) ----
	audit.NewRecorder(auditRepo, logger, m.AuditHooks()).Register(bus)
	history.NewRecorder(historyRepo, logger, m.VisitsWritten.Inc).Register(bus)
	notify.NewDispatcher(directory, budgetRepo, templates, enqueuer, logger, notify.Options{
		MonthlyLimit:  cfg.NotifyMonthlyLimit,
		SkipThreshold: cfg.SkipNotifyThreshold,
		GraceWindow:   cfg.GraceWindow,
		Hooks:         m.NotifyHooks(),
	}).Register(bus)

	hub := realtime.NewHub(nil, logger, m.RealtimeDropped.Inc)
	hub.Register(bus)
	goBackground(hub.Run)

	bus.Start(workerCtx)

	// ---- scheduled end of day ----
	if cfg.AutoCloseSchedule != "" {
		job := worker.NewDayCloseJob(svc, cfg.AutoCloseSchedule, loc, logger, func(string) { m.DaysAutoClosed.Inc() })
		goBackground(func(ctx context.Context) {
			if err := job.Run(ctx); err != nil {
				logger.Error("day close job stopped", zap.Error(err))
			}
		})
	}

	// ---- HTTP server ----
	router := api.NewRouter(api.Deps{
		Queue:        svc,
		Audit:        auditRepo,
		Budgets:      budgetRepo,
		Directory:    directory,
		MonthlyLimit: cfg.NotifyMonthlyLimit,
		Hub:          hub,
		History:      bus,
		Outbound:     depths,
		DB:           pool,
		Gatherer:     reg,
	}, logger)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	// Start server in a goroutine so it does not block the shutdown listener.
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("timezone", loc.String()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// ---- graceful shutdown ----
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")

	// 1. Stop accepting new HTTP requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// 2. Stop background work; the bus delivers what is already published.
	cancelWorkers()
	bus.Wait()

	// 3. Wait for in-flight sends and jobs to finish.
	if senderPool != nil {
		senderPool.Wait()
	}
	background.Wait()

	logger.Info("server stopped cleanly")
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
