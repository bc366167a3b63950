package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/domain"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/outbound"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/provider"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/ratelimiter"
)

// Worker is a single goroutine that pulls messages from the outbound queue,
// waits for the clinic's rate limiter and hands each one to the gateway.
// A failed send is logged and counted; it is not retried.
type Worker struct {
	id          int
	q           *outbound.PriorityQueue
	gw          provider.Gateway
	limiter     *ratelimiter.ClinicLimiters
	sendTimeout time.Duration
	logger      *zap.Logger

	onSent   func(kind domain.MessageKind, latency time.Duration)
	onFailed func(kind domain.MessageKind)
}

// NewWorker constructs a worker. onSent and onFailed are optional (nil = no-op).
func NewWorker(
	id int,
	q *outbound.PriorityQueue,
	gw provider.Gateway,
	limiter *ratelimiter.ClinicLimiters,
	sendTimeout time.Duration,
	logger *zap.Logger,
	onSent func(domain.MessageKind, time.Duration),
	onFailed func(domain.MessageKind),
) *Worker {
	if onSent == nil {
		onSent = func(domain.MessageKind, time.Duration) {}
	}
	if onFailed == nil {
		onFailed = func(domain.MessageKind) {}
	}
	return &Worker{
		id: id, q: q, gw: gw, limiter: limiter,
		sendTimeout: sendTimeout, logger: logger,
		onSent: onSent, onFailed: onFailed,
	}
}

// Run blocks until ctx is cancelled, sending one message per iteration.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started", zap.Int("id", w.id))
	for {
		m, ok := w.q.Dequeue(ctx)
		if !ok {
			w.logger.Info("worker stopping", zap.Int("id", w.id))
			return
		}
		w.process(ctx, m)
	}
}

func (w *Worker) process(ctx context.Context, m domain.Message) {
	log := w.logger.With(
		zap.String("message_id", m.ID),
		zap.String("clinic_id", m.ClinicID),
		zap.String("kind", string(m.Kind)),
	)

	if err := w.limiter.Wait(ctx, m.ClinicID); err != nil {
		// ctx cancelled while waiting: the pool is shutting down.
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.sendTimeout)
	defer cancel()

	start := time.Now()
	resp, err := w.gw.Send(sendCtx, m)
	elapsed := time.Since(start)
	if err != nil {
		log.Warn("sms send failed", zap.Error(err), zap.Duration("latency", elapsed))
		w.onFailed(m.Kind)
		return
	}

	w.onSent(m.Kind, elapsed)
	log.Info("sms sent", zap.String("gateway_msg_id", resp.MessageID), zap.Duration("latency", elapsed))
}
