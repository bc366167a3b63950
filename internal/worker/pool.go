package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/domain"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/outbound"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/provider"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/ratelimiter"
)

// MetricHooks carries the metric callback functions injected by main.
type MetricHooks struct {
	OnSent   func(kind domain.MessageKind, latency time.Duration)
	OnFailed func(kind domain.MessageKind)
}

// Pool manages the lifecycle of the send workers. All workers share the
// outbound queue; its double select handles priority ordering.
type Pool struct {
	workers []*Worker
	wg      sync.WaitGroup
}

// NewPool creates size identical workers.
func NewPool(
	size int,
	q *outbound.PriorityQueue,
	gw provider.Gateway,
	limiter *ratelimiter.ClinicLimiters,
	sendTimeout time.Duration,
	logger *zap.Logger,
	hooks MetricHooks,
) *Pool {
	if size <= 0 {
		size = 1
	}
	workers := make([]*Worker, size)
	for i := range workers {
		workers[i] = NewWorker(
			i, q, gw, limiter, sendTimeout,
			logger.With(zap.Int("worker_id", i)),
			hooks.OnSent,
			hooks.OnFailed,
		)
	}
	return &Pool{workers: workers}
}

// Start launches all workers. Cancelling ctx shuts the pool down.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run(ctx)
		}(w)
	}
}

// Wait blocks until every worker has returned after ctx is cancelled.
func (p *Pool) Wait() {
	p.wg.Wait()
}
