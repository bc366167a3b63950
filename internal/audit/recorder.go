// Package audit turns queue events into append-only override rows.
package audit

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

const subscriberName = "audit"

// MetricHooks carries the metric callbacks injected by main.
type MetricHooks struct {
	OnWritten func(action domain.AuditAction)
	OnFailed  func(action domain.AuditAction)
}

// Recorder writes one audit row per entry transition. Failed writes are
// logged and counted, never retried; the queue operation has already
// committed.
type Recorder struct {
	repo   repository.AuditRepository
	logger *zap.Logger
	hooks  MetricHooks
}

func NewRecorder(repo repository.AuditRepository, logger *zap.Logger, hooks MetricHooks) *Recorder {
	if hooks.OnWritten == nil {
		hooks.OnWritten = func(domain.AuditAction) {}
	}
	if hooks.OnFailed == nil {
		hooks.OnFailed = func(domain.AuditAction) {}
	}
	return &Recorder{
		repo:   repo,
		logger: logger.With(zap.String("component", "audit")),
		hooks:  hooks,
	}
}

// Register subscribes the recorder to every queue-mutating event.
func (r *Recorder) Register(sub eventbus.Subscriber) {
	for _, t := range domain.QueueMutatingEvents {
		sub.Subscribe(t, subscriberName, r.Handle)
	}
}

// Handle writes the rows for e. Every row is attempted even when an
// earlier one fails.
func (r *Recorder) Handle(ctx context.Context, e domain.Event) error {
	var errs []error
	for _, row := range Rows(e) {
		row.ID = uuid.New().String()
		if err := r.repo.AppendAudit(ctx, row); err != nil {
			r.logger.Error("audit write failed",
				zap.String("clinic_id", row.ClinicID),
				zap.String("action", string(row.Action)),
				zap.Error(err),
			)
			r.hooks.OnFailed(row.Action)
			errs = append(errs, fmt.Errorf("append %s: %w", row.Action, err))
			continue
		}
		r.hooks.OnWritten(row.Action)
	}
	return errors.Join(errs...)
}

// Rows maps an event to the audit rows it produces, without ids.
func Rows(e domain.Event) []*domain.AuditEntry {
	m := e.Metadata()
	switch ev := e.(type) {
	case domain.PatientAddedToQueueEvent:
		row := entryRow(m, domain.AuditAddToQueue, ev.Entry, domain.EntrySnapshot{})
		return []*domain.AuditEntry{row}
	case domain.PatientCalledEvent:
		return []*domain.AuditEntry{entryRow(m, domain.AuditCallNext, ev.Entry, ev.Before)}
	case domain.QueuePositionChangedEvent:
		row := entryRow(m, domain.AuditCallSpecific, ev.Entry, ev.Before)
		if row.Reason == "" && len(ev.Bypassed) > 0 {
			row.Reason = fmt.Sprintf("called ahead of %d waiting patient(s)", len(ev.Bypassed))
		}
		return []*domain.AuditEntry{row}
	case domain.PatientMarkedAbsentEvent:
		return []*domain.AuditEntry{entryRow(m, domain.AuditMarkAbsent, ev.Entry, ev.Before)}
	case domain.PatientReturnedEvent:
		return []*domain.AuditEntry{entryRow(m, domain.AuditMarkReturned, ev.Entry, ev.Before)}
	case domain.AppointmentStatusChangedEvent:
		return []*domain.AuditEntry{entryRow(m, domain.AuditComplete, ev.Entry, ev.Before)}
	case domain.DayClosedEvent:
		rows := make([]*domain.AuditEntry, 0, len(ev.Transitions))
		for _, t := range ev.Transitions {
			rows = append(rows, entryRow(m, domain.AuditEndDay, t.Entry, t.Before))
		}
		return rows
	case domain.DayReopenedEvent:
		return []*domain.AuditEntry{{
			ClinicID:    m.ClinicID,
			Action:      domain.AuditReopenDay,
			PerformedBy: m.Actor,
			Reason:      m.Reason,
			CreatedAt:   m.At,
		}}
	default:
		return nil
	}
}

func entryRow(m domain.Meta, action domain.AuditAction, after *domain.QueueEntry, before domain.EntrySnapshot) *domain.AuditEntry {
	id := after.ID
	row := &domain.AuditEntry{
		ClinicID:         m.ClinicID,
		EntryID:          &id,
		Action:           action,
		PerformedBy:      m.Actor,
		Reason:           m.Reason,
		PreviousStatus:   before.Status,
		NewStatus:        after.Status,
		PreviousPosition: before.Position,
		CreatedAt:        m.At,
	}
	if after.Position != nil {
		p := *after.Position
		row.NewPosition = &p
	}
	return row
}
