package repository

import (
	"context"
	"time"

	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/domain"
)

// QueueRepository is the persistence boundary of the queue service.
// The pgx implementation is in pg_queue_repo.go; tests use the hand-written
// MockQueueRepository.
//
// Write methods do not open transactions of their own. Multi-step operations
// wrap them in RunInTransaction, which carries the transaction in ctx.
type QueueRepository interface {
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	// LockClinicDay takes the clinic-day exclusive lock for the rest of the
	// current transaction.
	LockClinicDay(ctx context.Context, clinicID string, day time.Time) error

	// GetQueueByDate returns every entry of the clinic-day in display order
	// (see domain.SortQueue).
	GetQueueByDate(ctx context.Context, clinicID string, day time.Time) ([]*domain.QueueEntry, error)
	GetQueueEntry(ctx context.Context, id string) (*domain.QueueEntry, error)
	CreateQueueEntry(ctx context.Context, e *domain.QueueEntry) error
	UpdateQueueEntry(ctx context.Context, id string, patch domain.EntryPatch) (*domain.QueueEntry, error)

	GetOpenAbsence(ctx context.Context, entryID string) (*domain.AbsenceRecord, error)
	CreateAbsenceRecord(ctx context.Context, a *domain.AbsenceRecord) error
	CloseAbsenceRecord(ctx context.Context, id string, closure domain.AbsenceClosure) error

	// GetActiveClosure returns the non-reopened closure of the clinic-day,
	// or domain.ErrClosureNotFound.
	GetActiveClosure(ctx context.Context, clinicID string, day time.Time) (*domain.DayClosure, error)
	GetClosure(ctx context.Context, id string) (*domain.DayClosure, error)
	CreateDayClosure(ctx context.Context, c *domain.DayClosure) error
	MarkClosureReopened(ctx context.Context, id, reopenedBy, reason string, at time.Time) error

	// ListClinicsWithOpenDay returns clinics that have active entries on day
	// and no active closure for it.
	ListClinicsWithOpenDay(ctx context.Context, day time.Time) ([]string, error)
}

// AuditRepository stores queue overrides. Rows are append-only.
type AuditRepository interface {
	AppendAudit(ctx context.Context, a *domain.AuditEntry) error
	ListAudit(ctx context.Context, clinicID string, from, to time.Time) ([]*domain.AuditEntry, error)
}

// BudgetRepository stores per-clinic monthly notification counters.
type BudgetRepository interface {
	// ConsumeBudget increments the period's counter only while it is below
	// the monthly limit, creating the period row on first use. It reports
	// whether a unit was consumed.
	ConsumeBudget(ctx context.Context, clinicID, period string, defaultLimit int, resetAt time.Time) (*domain.NotificationBudget, bool, error)
	GetBudget(ctx context.Context, clinicID, period string) (*domain.NotificationBudget, error)
}

// HistoryRepository stores completed visits. Appending the same entry twice
// is a no-op.
type HistoryRepository interface {
	AppendVisit(ctx context.Context, v *domain.VisitRecord) error
}

// ClinicDirectory answers questions about clinics, staff and patients that
// the queue core does not own.
type ClinicDirectory interface {
	StaffRole(ctx context.Context, clinicID, staffID string) (domain.StaffRole, error)
	ClinicLanguage(ctx context.Context, clinicID string) (string, error)
	// ClinicMonthlyLimit returns domain.ErrNotFound when the clinic has no
	// SMS limit of its own.
	ClinicMonthlyLimit(ctx context.Context, clinicID string) (int, error)
	// PatientContact returns domain.ErrNotFound when the patient has no phone.
	PatientContact(ctx context.Context, p domain.PatientRef) (*domain.Contact, error)
}
