package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DepthSource reports the number of waiting messages per priority tier.
type DepthSource interface {
	Depths() (high, normal, low int)
}

// DepthSampler periodically reports outbound queue depths to a gauge
// callback so a stalled gateway is visible before messages are dropped.
type DepthSampler struct {
	src      DepthSource
	interval time.Duration
	record   func(high, normal, low int)
	logger   *zap.Logger
}

func NewDepthSampler(src DepthSource, interval time.Duration, record func(high, normal, low int), logger *zap.Logger) *DepthSampler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &DepthSampler{src: src, interval: interval, record: record, logger: logger}
}

// Run samples every interval until ctx is cancelled.
func (s *DepthSampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("depth sampler started", zap.Duration("interval", s.interval))
	s.sample()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("depth sampler stopping")
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *DepthSampler) sample() {
	s.record(s.src.Depths())
}
