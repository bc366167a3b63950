package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/domain"
)

// DayCloser is the part of the queue service the auto-close job drives.
type DayCloser interface {
	Today() time.Time
	ClinicsToClose(ctx context.Context, day time.Time) ([]string, error)
	EndDay(ctx context.Context, caller domain.Caller, clinicID string, day time.Time) (*domain.DayClosure, error)
}

// DayCloseJob ends the current clinic-day for every clinic that left it
// open, acting as the system caller. It runs on a cron schedule evaluated
// in the clinic timezone.
type DayCloseJob struct {
	closer   DayCloser
	schedule string
	loc      *time.Location
	logger   *zap.Logger
	onClosed func(clinicID string)
}

func NewDayCloseJob(closer DayCloser, schedule string, loc *time.Location, logger *zap.Logger, onClosed func(string)) *DayCloseJob {
	if loc == nil {
		loc = time.UTC
	}
	if onClosed == nil {
		onClosed = func(string) {}
	}
	return &DayCloseJob{
		closer:   closer,
		schedule: schedule,
		loc:      loc,
		logger:   logger.With(zap.String("component", "day_close_job")),
		onClosed: onClosed,
	}
}

// Run schedules the job and blocks until ctx is cancelled, then waits for a
// running close to finish.
func (j *DayCloseJob) Run(ctx context.Context) error {
	cl := cronLogger{j.logger.Sugar()}
	c := cron.New(
		cron.WithLocation(j.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(j.schedule, func() { j.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule %q: %w", j.schedule, err)
	}

	c.Start()
	j.logger.Info("day close job scheduled", zap.String("schedule", j.schedule))
	<-ctx.Done()
	<-c.Stop().Done()
	j.logger.Info("day close job stopped")
	return nil
}

// RunOnce closes today's open clinic-days and returns how many it closed.
// A clinic closed concurrently by staff is skipped.
func (j *DayCloseJob) RunOnce(ctx context.Context) int {
	day := j.closer.Today()
	clinics, err := j.closer.ClinicsToClose(ctx, day)
	if err != nil {
		j.logger.Error("list open clinic days failed", zap.Error(err))
		return 0
	}

	closed := 0
	for _, clinicID := range clinics {
		if ctx.Err() != nil {
			break
		}
		closure, err := j.closer.EndDay(ctx, domain.SystemCaller, clinicID, day)
		switch {
		case errors.Is(err, domain.ErrDayAlreadyClosed):
			continue
		case err != nil:
			j.logger.Error("auto close failed", zap.String("clinic_id", clinicID), zap.Error(err))
			continue
		}
		closed++
		j.onClosed(clinicID)
		j.logger.Info("clinic day auto-closed",
			zap.String("clinic_id", clinicID),
			zap.Int("finalized", closure.Counts.Total()),
		)
	}
	return closed
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
