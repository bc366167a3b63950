package ratelimiter

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// ClinicLimiters holds one token bucket per clinic so a busy clinic cannot
// starve the gateway for the others. Buckets are created on first use.
type ClinicLimiters struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

// New creates ClinicLimiters allowing ratePerSec messages per second per
// clinic, with burst equal to the rate.
func New(ratePerSec int) *ClinicLimiters {
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	return &ClinicLimiters{
		limit:    rate.Limit(ratePerSec),
		burst:    ratePerSec,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until the clinic's bucket grants a token. It returns an error
// only when ctx is done first.
func (cl *ClinicLimiters) Wait(ctx context.Context, clinicID string) error {
	return cl.get(clinicID).Wait(ctx)
}

// Allow reports whether a token is available right now, consuming it if so.
func (cl *ClinicLimiters) Allow(clinicID string) bool {
	return cl.get(clinicID).Allow()
}

func (cl *ClinicLimiters) get(clinicID string) *rate.Limiter {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	l, ok := cl.limiters[clinicID]
	if !ok {
		l = rate.NewLimiter(cl.limit, cl.burst)
		cl.limiters[clinicID] = l
	}
	return l
}
