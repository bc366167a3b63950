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
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/eventbus"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/repository"
)

const maxReasonLength = 500

// MetricHooks carries the metric callbacks injected by main.
type MetricHooks struct {
	OnTransition func(from, to domain.Status)
	OnRejected   func(op string, kind domain.Kind)
}

// Options tunes the queue rules. Zero values fall back to defaults.
type Options struct {
	GraceWindow  time.Duration
	ReopenWindow time.Duration
	Location     *time.Location
	Now          func() time.Time
	Hooks        MetricHooks
}

const (
	DefaultGraceWindow  = 10 * time.Minute
	DefaultReopenWindow = 2 * time.Hour
)

// QueueService is the queue state machine. Every mutation runs as
// authorize → lock clinic-day → transaction (read, validate, write) →
// publish exactly one event → unlock.
type QueueService struct {
	repo   repository.QueueRepository
	dir    repository.ClinicDirectory
	pub    eventbus.Publisher
	locks  *dayLocks
	logger *zap.Logger

	grace  time.Duration
	reopen time.Duration
	loc    *time.Location
	now    func() time.Time
	hooks  MetricHooks
}

func NewQueueService(
	repo repository.QueueRepository,
	dir repository.ClinicDirectory,
	pub eventbus.Publisher,
	logger *zap.Logger,
	opts Options,
) *QueueService {
	if opts.GraceWindow <= 0 {
		opts.GraceWindow = DefaultGraceWindow
	}
	if opts.ReopenWindow <= 0 {
		opts.ReopenWindow = DefaultReopenWindow
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Hooks.OnTransition == nil {
		opts.Hooks.OnTransition = func(domain.Status, domain.Status) {}
	}
	if opts.Hooks.OnRejected == nil {
		opts.Hooks.OnRejected = func(string, domain.Kind) {}
	}
	return &QueueService{
		repo:   repo,
		dir:    dir,
		pub:    pub,
		locks:  newDayLocks(),
		logger: logger.With(zap.String("component", "queue_service")),
		grace:  opts.GraceWindow,
		reopen: opts.ReopenWindow,
		loc:    opts.Location,
		now:    opts.Now,
		hooks:  opts.Hooks,
	}
}

// AddToQueueRequest is the body of addToQueue.
type AddToQueueRequest struct {
	Patient         domain.PatientRef      `json:"patient"`
	AppointmentType domain.AppointmentType `json:"appointment_type"`
}

func (r AddToQueueRequest) Validate() error {
	if err := r.Patient.Validate(); err != nil {
		return err
	}
	if !r.AppointmentType.IsValid() {
		return domain.ErrInvalidAppointmentType
	}
	return nil
}

// QueueView is a read-only snapshot of one clinic-day.
type QueueView struct {
	ClinicID string               `json:"clinic_id"`
	Day      string               `json:"day"`
	Closure  *domain.DayClosure   `json:"closure,omitempty"`
	Entries  []*domain.QueueEntry `json:"entries"`
}

// Today returns the current clinic-day.
func (s *QueueService) Today() time.Time {
	return domain.DayOf(s.now(), s.loc)
}

// Location returns the timezone clinic-days are computed in.
func (s *QueueService) Location() *time.Location { return s.loc }

// GetQueue returns the clinic-day's entries in display order. A zero day
// means today.
func (s *QueueService) GetQueue(ctx context.Context, caller domain.Caller, clinicID string, day time.Time) (*QueueView, error) {
	clinicID = strings.TrimSpace(clinicID)
	if err := s.Authorize(ctx, caller, clinicID); err != nil {
		return nil, err
	}
	if day.IsZero() {
		day = s.Today()
	}

	entries, err := s.repo.GetQueueByDate(ctx, clinicID, day)
	if err != nil {
		return nil, err
	}
	view := &QueueView{ClinicID: clinicID, Day: day.Format(time.DateOnly), Entries: entries}
	if view.Entries == nil {
		view.Entries = []*domain.QueueEntry{}
	}
	closure, err := s.repo.GetActiveClosure(ctx, clinicID, day)
	switch {
	case err == nil:
		view.Closure = closure
	case !errors.Is(err, domain.ErrClosureNotFound):
		return nil, err
	}
	return view, nil
}

// AddToQueue appends a waiting entry at the tail of today's queue.
func (s *QueueService) AddToQueue(ctx context.Context, caller domain.Caller, clinicID string, req AddToQueueRequest) (*domain.QueueEntry, error) {
	const op = "add_to_queue"
	clinicID = strings.TrimSpace(clinicID)
	req.Patient = req.Patient.Normalize()

	if err := s.Authorize(ctx, caller, clinicID); err != nil {
		return nil, s.reject(op, err)
	}
	if err := req.Validate(); err != nil {
		return nil, s.reject(op, err)
	}

	now := s.now().UTC()
	day := domain.DayOf(now, s.loc)
	var created *domain.QueueEntry

	err := s.withClinicDay(ctx, clinicID, day, func(ctx context.Context) error {
		if err := s.ensureOpen(ctx, clinicID, day); err != nil {
			return err
		}
		entries, err := s.repo.GetQueueByDate(ctx, clinicID, day)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.Status.IsActive() && e.Patient == req.Patient {
				return domain.ErrDuplicateActiveEntry
			}
		}

		created = &domain.QueueEntry{
			ID:              uuid.New().String(),
			ClinicID:        clinicID,
			QueueDate:       day,
			Patient:         req.Patient,
			AppointmentType: req.AppointmentType,
			Status:          domain.StatusWaiting,
			Position:        domain.IntPtr(domain.MaxWaitingPosition(entries) + 1),
			CheckedInAt:     now,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		return s.repo.CreateQueueEntry(ctx, created)
	}, func() domain.Event {
		return domain.PatientAddedToQueueEvent{
			Meta:  s.meta(clinicID, day, caller, now, ""),
			Entry: created.Clone(),
		}
	})
	if err != nil {
		return nil, s.reject(op, err)
	}

	s.logger.Debug("patient added to queue",
		zap.String("clinic_id", clinicID),
		zap.String("entry_id", created.ID),
		zap.Int("position", *created.Position),
	)
	return created, nil
}

// CallNextPatient moves the lowest-positioned waiting entry to in_progress.
func (s *QueueService) CallNextPatient(ctx context.Context, caller domain.Caller, clinicID string) (*domain.QueueEntry, error) {
	const op = "call_next_patient"
	clinicID = strings.TrimSpace(clinicID)
	if err := s.Authorize(ctx, caller, clinicID); err != nil {
		return nil, s.reject(op, err)
	}

	now := s.now().UTC()
	day := domain.DayOf(now, s.loc)
	var called, nextUp *domain.QueueEntry
	var before domain.EntrySnapshot

	err := s.withClinicDay(ctx, clinicID, day, func(ctx context.Context) error {
		if err := s.ensureOpen(ctx, clinicID, day); err != nil {
			return err
		}
		entries, err := s.repo.GetQueueByDate(ctx, clinicID, day)
		if err != nil {
			return err
		}
		if inProgress(entries) != nil {
			return domain.ErrPatientInProgress
		}
		waiting := waitingEntries(entries)
		if len(waiting) == 0 {
			return domain.ErrQueueEmpty
		}

		head := waiting[0]
		before = head.Snapshot()
		called, err = s.transition(ctx, head, domain.StatusInProgress, domain.EntryPatch{
			ClearPosition: true,
			CalledAt:      &now,
		})
		if err != nil {
			return err
		}
		if len(waiting) > 1 {
			nextUp = waiting[1].Clone()
		}
		return nil
	}, func() domain.Event {
		return domain.PatientCalledEvent{
			Meta:   s.meta(clinicID, day, caller, now, ""),
			Entry:  called.Clone(),
			Before: before,
			NextUp: nextUp,
		}
	})
	if err != nil {
		return nil, s.reject(op, err)
	}

	s.hooks.OnTransition(before.Status, called.Status)
	s.logger.Debug("patient called",
		zap.String("clinic_id", clinicID),
		zap.String("entry_id", called.ID),
	)
	return called, nil
}

// CallSpecificPatient calls a named waiting entry ahead of its turn. Every
// waiting entry positioned before it accrues one skip; positions are kept.
func (s *QueueService) CallSpecificPatient(ctx context.Context, caller domain.Caller, clinicID, entryID string) (*domain.QueueEntry, error) {
	const op = "call_specific_patient"
	clinicID, entryID = strings.TrimSpace(clinicID), strings.TrimSpace(entryID)
	if err := s.Authorize(ctx, caller, clinicID); err != nil {
		return nil, s.reject(op, err)
	}

	now := s.now().UTC()
	var called, nextUp *domain.QueueEntry
	var before domain.EntrySnapshot
	var bypassed []domain.BypassedEntry

	err := s.withEntry(ctx, clinicID, entryID, func(ctx context.Context, target *domain.QueueEntry, entries []*domain.QueueEntry) error {
		if target.Status != domain.StatusWaiting || target.Position == nil {
			return domain.ErrNotWaiting
		}
		if inProgress(entries) != nil {
			return domain.ErrPatientInProgress
		}

		before = target.Snapshot()
		for _, e := range waitingEntries(entries) {
			if *e.Position >= *target.Position {
				continue
			}
			skips := e.SkipCount + 1
			updated, err := s.repo.UpdateQueueEntry(ctx, e.ID, domain.EntryPatch{SkipCount: &skips})
			if err != nil {
				return err
			}
			bypassed = append(bypassed, domain.BypassedEntry{
				EntryID:   updated.ID,
				Patient:   updated.Patient,
				Position:  *updated.Position,
				SkipCount: updated.SkipCount,
			})
			if nextUp == nil {
				nextUp = updated
			}
		}

		var err error
		called, err = s.transition(ctx, target, domain.StatusInProgress, domain.EntryPatch{
			ClearPosition: true,
			CalledAt:      &now,
		})
		if err != nil {
			return err
		}
		if nextUp == nil {
			for _, e := range waitingEntries(entries) {
				if e.ID != target.ID {
					nextUp = e.Clone()
					break
				}
			}
		}
		return nil
	}, func() domain.Event {
		return domain.QueuePositionChangedEvent{
			Meta:        s.meta(clinicID, called.QueueDate, caller, now, ""),
			Entry:       called.Clone(),
			Before:      before,
			OldPosition: before.Position,
			NewPosition: nil,
			Bypassed:    bypassed,
			NextUp:      nextUp,
		}
	})
	if err != nil {
		return nil, s.reject(op, err)
	}

	s.hooks.OnTransition(before.Status, called.Status)
	s.logger.Debug("patient called out of order",
		zap.String("clinic_id", clinicID),
		zap.String("entry_id", called.ID),
		zap.Int("bypassed", len(bypassed)),
	)
	return called, nil
}

// MarkAbsent moves a waiting entry to absent and opens a grace period.
// The released position is not reused and other positions do not shift.
func (s *QueueService) MarkAbsent(ctx context.Context, caller domain.Caller, clinicID, entryID, reason string) (*domain.QueueEntry, error) {
	const op = "mark_absent"
	clinicID, entryID, reason = strings.TrimSpace(clinicID), strings.TrimSpace(entryID), strings.TrimSpace(reason)
	if err := s.Authorize(ctx, caller, clinicID); err != nil {
		return nil, s.reject(op, err)
	}
	if utf8.RuneCountInString(reason) > maxReasonLength {
		return nil, s.reject(op, domain.ErrReasonTooLong)
	}

	now := s.now().UTC()
	var absent *domain.QueueEntry
	var absence *domain.AbsenceRecord
	var before domain.EntrySnapshot

	err := s.withEntry(ctx, clinicID, entryID, func(ctx context.Context, target *domain.QueueEntry, _ []*domain.QueueEntry) error {
		if target.Status != domain.StatusWaiting {
			return domain.ErrNotWaiting
		}
		before = target.Snapshot()

		var err error
		absent, err = s.transition(ctx, target, domain.StatusAbsent, domain.EntryPatch{ClearPosition: true})
		if err != nil {
			return err
		}
		absence = &domain.AbsenceRecord{
			ID:            uuid.New().String(),
			EntryID:       target.ID,
			ClinicID:      clinicID,
			MarkedBy:      caller.Actor(),
			Reason:        reason,
			MarkedAt:      now,
			GraceDeadline: now.Add(s.grace),
		}
		return s.repo.CreateAbsenceRecord(ctx, absence)
	}, func() domain.Event {
		return domain.PatientMarkedAbsentEvent{
			Meta:          s.meta(clinicID, absent.QueueDate, caller, now, reason),
			Entry:         absent.Clone(),
			Before:        before,
			Absence:       absence,
			GraceDeadline: absence.GraceDeadline,
		}
	})
	if err != nil {
		return nil, s.reject(op, err)
	}

	s.hooks.OnTransition(before.Status, absent.Status)
	s.logger.Debug("patient marked absent",
		zap.String("clinic_id", clinicID),
		zap.String("entry_id", absent.ID),
		zap.Time("grace_deadline", absence.GraceDeadline),
	)
	return absent, nil
}

// MarkReturned re-queues an absent entry at the tail while its grace period
// is open. After the deadline the patient must be added as a new entry.
func (s *QueueService) MarkReturned(ctx context.Context, caller domain.Caller, clinicID, entryID string) (*domain.QueueEntry, error) {
	const op = "mark_returned"
	clinicID, entryID = strings.TrimSpace(clinicID), strings.TrimSpace(entryID)
	if err := s.Authorize(ctx, caller, clinicID); err != nil {
		return nil, s.reject(op, err)
	}

	now := s.now().UTC()
	var returned *domain.QueueEntry
	var before domain.EntrySnapshot

	err := s.withEntry(ctx, clinicID, entryID, func(ctx context.Context, target *domain.QueueEntry, entries []*domain.QueueEntry) error {
		if target.Status != domain.StatusAbsent {
			return domain.ErrNotAbsent
		}
		absence, err := s.repo.GetOpenAbsence(ctx, target.ID)
		if errors.Is(err, domain.ErrAbsenceNotFound) {
			return domain.ErrNotAbsent
		}
		if err != nil {
			return err
		}
		if absence.GraceElapsed(now) {
			return domain.ErrGraceExpired
		}

		before = target.Snapshot()
		position := domain.MaxWaitingPosition(entries) + 1
		returned, err = s.transition(ctx, target, domain.StatusWaiting, domain.EntryPatch{Position: &position})
		if err != nil {
			return err
		}
		return s.repo.CloseAbsenceRecord(ctx, absence.ID, domain.AbsenceClosure{
			At:         now,
			Resolution: domain.AbsenceReturned,
		})
	}, func() domain.Event {
		return domain.PatientReturnedEvent{
			Meta:        s.meta(clinicID, returned.QueueDate, caller, now, ""),
			Entry:       returned.Clone(),
			Before:      before,
			NewPosition: *returned.Position,
		}
	})
	if err != nil {
		return nil, s.reject(op, err)
	}

	s.hooks.OnTransition(before.Status, returned.Status)
	s.logger.Debug("patient returned",
		zap.String("clinic_id", clinicID),
		zap.String("entry_id", returned.ID),
		zap.Int("position", *returned.Position),
	)
	return returned, nil
}

// CompleteAppointment finishes the in-progress entry.
func (s *QueueService) CompleteAppointment(ctx context.Context, caller domain.Caller, clinicID, entryID string) (*domain.QueueEntry, error) {
	const op = "complete_appointment"
	clinicID, entryID = strings.TrimSpace(clinicID), strings.TrimSpace(entryID)
	if err := s.Authorize(ctx, caller, clinicID); err != nil {
		return nil, s.reject(op, err)
	}

	now := s.now().UTC()
	var completed *domain.QueueEntry
	var before domain.EntrySnapshot

	err := s.withEntry(ctx, clinicID, entryID, func(ctx context.Context, target *domain.QueueEntry, _ []*domain.QueueEntry) error {
		if target.Status != domain.StatusInProgress {
			return domain.ErrNotInProgress
		}
		before = target.Snapshot()
		var err error
		completed, err = s.transition(ctx, target, domain.StatusCompleted, domain.EntryPatch{CompletedAt: &now})
		return err
	}, func() domain.Event {
		return domain.AppointmentStatusChangedEvent{
			Meta:      s.meta(clinicID, completed.QueueDate, caller, now, ""),
			Entry:     completed.Clone(),
			Before:    before,
			OldStatus: before.Status,
			NewStatus: completed.Status,
		}
	})
	if err != nil {
		return nil, s.reject(op, err)
	}

	s.hooks.OnTransition(before.Status, completed.Status)
	s.logger.Debug("appointment completed",
		zap.String("clinic_id", clinicID),
		zap.String("entry_id", completed.ID),
	)
	return completed, nil
}

// ---- private helpers ----

// withClinicDay runs fn inside the clinic-day exclusive section: the
// in-process keyed mutex plus the store's lock inside one transaction.
// After a successful commit the event built by event is published before
// the mutex is released, so subscribers see events in commit order.
func (s *QueueService) withClinicDay(ctx context.Context, clinicID string, day time.Time, fn func(ctx context.Context) error, event func() domain.Event) error {
	unlock := s.locks.lock(clinicID, day)
	defer unlock()

	err := s.repo.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.LockClinicDay(ctx, clinicID, day); err != nil {
			return err
		}
		return fn(ctx)
	})
	if err != nil {
		return err
	}
	s.pub.Publish(event())
	return nil
}

// withEntry resolves the entry's clinic-day, enters its exclusive section
// and hands fn a fresh read of the entry and its queue.
func (s *QueueService) withEntry(
	ctx context.Context,
	clinicID, entryID string,
	fn func(ctx context.Context, target *domain.QueueEntry, entries []*domain.QueueEntry) error,
	event func() domain.Event,
) error {
	if entryID == "" {
		return domain.ErrMissingEntry
	}
	stored, err := s.repo.GetQueueEntry(ctx, entryID)
	if err != nil {
		return err
	}
	if stored.ClinicID != clinicID {
		return domain.ErrEntryNotFound
	}
	day := stored.QueueDate

	return s.withClinicDay(ctx, clinicID, day, func(ctx context.Context) error {
		if err := s.ensureOpen(ctx, clinicID, day); err != nil {
			return err
		}
		entries, err := s.repo.GetQueueByDate(ctx, clinicID, day)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.ID == entryID {
				return fn(ctx, e, entries)
			}
		}
		return domain.ErrEntryNotFound
	}, event)
}

// ensureOpen rejects mutations on a clinic-day with an active closure.
func (s *QueueService) ensureOpen(ctx context.Context, clinicID string, day time.Time) error {
	_, err := s.repo.GetActiveClosure(ctx, clinicID, day)
	switch {
	case err == nil:
		return domain.ErrDayClosed
	case errors.Is(err, domain.ErrClosureNotFound):
		return nil
	default:
		return err
	}
}

// transition writes a status change after checking it against the state
// machine. patch carries the other fields that change with it.
func (s *QueueService) transition(ctx context.Context, e *domain.QueueEntry, to domain.Status, patch domain.EntryPatch) (*domain.QueueEntry, error) {
	if !domain.CanTransition(e.Status, to) {
		return nil, domain.ErrIllegalTransition
	}
	patch.Status = &to
	return s.repo.UpdateQueueEntry(ctx, e.ID, patch)
}

func (s *QueueService) meta(clinicID string, day time.Time, caller domain.Caller, at time.Time, reason string) domain.Meta {
	return domain.Meta{ClinicID: clinicID, Day: day, Actor: caller.Actor(), At: at, Reason: reason}
}

// reject counts a failed operation by error kind and returns err unchanged.
func (s *QueueService) reject(op string, err error) error {
	kind := domain.KindOf(err)
	if kind == "" {
		s.logger.Error("queue operation failed", zap.String("op", op), zap.Error(err))
		kind = "internal"
	}
	s.hooks.OnRejected(op, kind)
	return err
}

func inProgress(entries []*domain.QueueEntry) *domain.QueueEntry {
	for _, e := range entries {
		if e.Status == domain.StatusInProgress {
			return e
		}
	}
	return nil
}

// waitingEntries returns the waiting entries in position order. entries is
// already sorted by the repository.
func waitingEntries(entries []*domain.QueueEntry) []*domain.QueueEntry {
	var waiting []*domain.QueueEntry
	for _, e := range entries {
		if e.Status == domain.StatusWaiting && e.Position != nil {
			waiting = append(waiting, e)
		}
	}
	return waiting
}
