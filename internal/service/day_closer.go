package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/domain"
)

// EndDay finalizes a clinic-day in one transaction: waiting and absent
// entries become no_show, the in-progress entry is completed and a
// DayClosure records the counts. Any failure leaves every entry untouched.
// A zero day means today; a day after today is rejected.
func (s *QueueService) EndDay(ctx context.Context, caller domain.Caller, clinicID string, day time.Time) (*domain.DayClosure, error) {
	const op = "end_day"
	clinicID = strings.TrimSpace(clinicID)
	if err := s.Authorize(ctx, caller, clinicID); err != nil {
		return nil, s.reject(op, err)
	}
	if day.IsZero() {
		day = s.Today()
	}
	if day.After(s.Today()) {
		return nil, s.reject(op, domain.ErrFutureDay)
	}

	now := s.now().UTC()
	var closure *domain.DayClosure
	var transitions []domain.EntryTransition

	err := s.withClinicDay(ctx, clinicID, day, func(ctx context.Context) error {
		_, err := s.repo.GetActiveClosure(ctx, clinicID, day)
		if err == nil {
			return domain.ErrDayAlreadyClosed
		}
		if !errors.Is(err, domain.ErrClosureNotFound) {
			return err
		}

		entries, err := s.repo.GetQueueByDate(ctx, clinicID, day)
		if err != nil {
			return err
		}

		var counts domain.ClosureCounts
		for _, e := range entries {
			before := e.Snapshot()
			var updated *domain.QueueEntry

			switch e.Status {
			case domain.StatusWaiting:
				updated, err = s.transition(ctx, e, domain.StatusNoShow, domain.EntryPatch{ClearPosition: true})
				counts.NoShowFromWaiting++
			case domain.StatusAbsent:
				updated, err = s.transition(ctx, e, domain.StatusNoShow, domain.EntryPatch{ClearPosition: true})
				if err == nil {
					err = s.closeAbsence(ctx, e.ID, now)
				}
				counts.NoShowFromAbsent++
			case domain.StatusInProgress:
				updated, err = s.transition(ctx, e, domain.StatusCompleted, domain.EntryPatch{CompletedAt: &now})
				counts.CompletedFromInProgress++
			default:
				continue
			}
			if err != nil {
				return err
			}
			transitions = append(transitions, domain.EntryTransition{Entry: updated, Before: before})
		}

		closure = &domain.DayClosure{
			ID:       uuid.New().String(),
			ClinicID: clinicID,
			Day:      day,
			ClosedAt: now,
			ClosedBy: caller.Actor(),
			Counts:   counts,
		}
		return s.repo.CreateDayClosure(ctx, closure)
	}, func() domain.Event {
		return domain.DayClosedEvent{
			Meta:        s.meta(clinicID, day, caller, now, ""),
			Closure:     closure,
			Counts:      closure.Counts,
			Transitions: transitions,
		}
	})
	if err != nil {
		return nil, s.reject(op, err)
	}

	for _, t := range transitions {
		s.hooks.OnTransition(t.Before.Status, t.Entry.Status)
	}
	s.logger.Info("clinic day closed",
		zap.String("clinic_id", clinicID),
		zap.String("day", day.Format(time.DateOnly)),
		zap.String("closed_by", caller.Actor()),
		zap.Int("no_show_from_waiting", closure.Counts.NoShowFromWaiting),
		zap.Int("no_show_from_absent", closure.Counts.NoShowFromAbsent),
		zap.Int("completed_from_in_progress", closure.Counts.CompletedFromInProgress),
	)
	return closure, nil
}

// ReopenDay marks a closure reopened so staff can correct the day by hand.
// Entry statuses are left exactly as end-of-day set them.
// Only the clinic owner or the system caller may reopen, and only within
// the reopen window after closing.
func (s *QueueService) ReopenDay(ctx context.Context, caller domain.Caller, clinicID, closureID, reason string) (*domain.DayClosure, error) {
	const op = "reopen_day"
	clinicID, closureID, reason = strings.TrimSpace(clinicID), strings.TrimSpace(closureID), strings.TrimSpace(reason)
	if err := s.authorizeOwner(ctx, caller, clinicID); err != nil {
		return nil, s.reject(op, err)
	}
	if reason == "" {
		return nil, s.reject(op, domain.ErrMissingReason)
	}
	if utf8.RuneCountInString(reason) > maxReasonLength {
		return nil, s.reject(op, domain.ErrReasonTooLong)
	}

	stored, err := s.repo.GetClosure(ctx, closureID)
	if err != nil {
		return nil, s.reject(op, err)
	}
	if stored.ClinicID != clinicID {
		return nil, s.reject(op, domain.ErrClosureNotFound)
	}

	now := s.now().UTC()
	var reopened *domain.DayClosure

	err = s.withClinicDay(ctx, clinicID, stored.Day, func(ctx context.Context) error {
		c, err := s.repo.GetClosure(ctx, closureID)
		if err != nil {
			return err
		}
		if !c.IsActive() {
			return domain.ErrClosureAlreadyReopened
		}
		if now.After(c.ClosedAt.Add(s.reopen)) {
			return domain.ErrReopenWindowExpired
		}
		if err := s.repo.MarkClosureReopened(ctx, c.ID, caller.Actor(), reason, now); err != nil {
			return err
		}
		reopened, err = s.repo.GetClosure(ctx, c.ID)
		return err
	}, func() domain.Event {
		return domain.DayReopenedEvent{
			Meta:    s.meta(clinicID, reopened.Day, caller, now, reason),
			Closure: reopened,
		}
	})
	if err != nil {
		return nil, s.reject(op, err)
	}

	s.logger.Info("clinic day reopened",
		zap.String("clinic_id", clinicID),
		zap.String("closure_id", closureID),
		zap.String("reopened_by", caller.Actor()),
	)
	return reopened, nil
}

// ClinicsToClose lists clinics whose day still has active entries and no
// closure.
func (s *QueueService) ClinicsToClose(ctx context.Context, day time.Time) ([]string, error) {
	return s.repo.ListClinicsWithOpenDay(ctx, day)
}

func (s *QueueService) closeAbsence(ctx context.Context, entryID string, at time.Time) error {
	absence, err := s.repo.GetOpenAbsence(ctx, entryID)
	if errors.Is(err, domain.ErrAbsenceNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.repo.CloseAbsenceRecord(ctx, absence.ID, domain.AbsenceClosure{
		At:         at,
		Resolution: domain.AbsenceNoShow,
	})
}
