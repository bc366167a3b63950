// Package history mirrors completed appointments into the visit history.
package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/domain"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/eventbus"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/repository"
)

const subscriberName = "history"

// Recorder appends one VisitRecord per completed entry. The repository
// ignores duplicates, so redelivered events are harmless.
type Recorder struct {
	repo    repository.HistoryRepository
	logger  *zap.Logger
	onWrite func()
}

// NewRecorder returns a Recorder. onWrite may be nil.
func NewRecorder(repo repository.HistoryRepository, logger *zap.Logger, onWrite func()) *Recorder {
	if onWrite == nil {
		onWrite = func() {}
	}
	return &Recorder{
		repo:    repo,
		logger:  logger.With(zap.String("component", "history")),
		onWrite: onWrite,
	}
}

func (r *Recorder) Register(sub eventbus.Subscriber) {
	sub.Subscribe(domain.EventAppointmentStatus, subscriberName, r.Handle)
	sub.Subscribe(domain.EventDayClosed, subscriberName, r.Handle)
}

func (r *Recorder) Handle(ctx context.Context, e domain.Event) error {
	var completed []*domain.QueueEntry
	switch ev := e.(type) {
	case domain.AppointmentStatusChangedEvent:
		if ev.NewStatus == domain.StatusCompleted {
			completed = append(completed, ev.Entry)
		}
	case domain.DayClosedEvent:
		for _, t := range ev.Transitions {
			if t.Entry.Status == domain.StatusCompleted {
				completed = append(completed, t.Entry)
			}
		}
	}

	var errs []error
	for _, entry := range completed {
		visit, ok := Visit(entry)
		if !ok {
			r.logger.Warn("completed entry without completion time",
				zap.String("entry_id", entry.ID))
			continue
		}
		visit.ID = uuid.New().String()
		if err := r.repo.AppendVisit(ctx, visit); err != nil {
			errs = append(errs, fmt.Errorf("append visit %s: %w", entry.ID, err))
			continue
		}
		r.onWrite()
	}
	return errors.Join(errs...)
}

// Visit builds the visit record of a completed entry. Wait time runs from
// check-in to call, service time from call to completion.
func Visit(e *domain.QueueEntry) (*domain.VisitRecord, bool) {
	if e.Status != domain.StatusCompleted || e.CompletedAt == nil {
		return nil, false
	}
	v := &domain.VisitRecord{
		EntryID:         e.ID,
		ClinicID:        e.ClinicID,
		Patient:         e.Patient,
		AppointmentType: e.AppointmentType,
		CheckedInAt:     e.CheckedInAt,
		CompletedAt:     *e.CompletedAt,
	}
	if e.CalledAt != nil {
		started := *e.CalledAt
		v.StartedAt = &started
		v.WaitSeconds = seconds(started.Sub(e.CheckedInAt).Seconds())
		v.ServiceSeconds = seconds(e.CompletedAt.Sub(started).Seconds())
	} else {
		v.WaitSeconds = seconds(e.CompletedAt.Sub(e.CheckedInAt).Seconds())
	}
	return v, true
}

func seconds(s float64) int64 {
	if s < 0 {
		return 0
	}
	return int64(s)
}
