package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/db"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/domain"
)

// ---- audit ----

type pgAuditRepository struct {
	pool *pgxpool.Pool
}

func NewPgAuditRepository(pool *pgxpool.Pool) AuditRepository {
	return &pgAuditRepository{pool: pool}
}

func (r *pgAuditRepository) AppendAudit(ctx context.Context, a *domain.AuditEntry) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO queue_overrides
			(id, clinic_id, entry_id, action, performed_by, reason,
			 previous_status, new_status, previous_position, new_position, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		a.ID, a.ClinicID, a.EntryID, a.Action, a.PerformedBy, nullString(a.Reason),
		nullString(string(a.PreviousStatus)), nullString(string(a.NewStatus)),
		a.PreviousPosition, a.NewPosition, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert queue override: %w", err)
	}
	return nil
}

func (r *pgAuditRepository) ListAudit(ctx context.Context, clinicID string, from, to time.Time) ([]*domain.AuditEntry, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, clinic_id, entry_id, action, performed_by, COALESCE(reason, ''),
		       COALESCE(previous_status, ''), COALESCE(new_status, ''),
		       previous_position, new_position, created_at
		FROM queue_overrides
		WHERE clinic_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at ASC, id ASC`, clinicID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list queue overrides: %w", err)
	}
	defer rows.Close()

	var result []*domain.AuditEntry
	for rows.Next() {
		var a domain.AuditEntry
		if err := rows.Scan(
			&a.ID, &a.ClinicID, &a.EntryID, &a.Action, &a.PerformedBy, &a.Reason,
			&a.PreviousStatus, &a.NewStatus, &a.PreviousPosition, &a.NewPosition, &a.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, &a)
	}
	return result, rows.Err()
}

// ---- notification budget ----

type pgBudgetRepository struct {
	pool *pgxpool.Pool
}

func NewPgBudgetRepository(pool *pgxpool.Pool) BudgetRepository {
	return &pgBudgetRepository{pool: pool}
}

const budgetCols = `clinic_id, period, monthly_limit, sent, reset_at`

func (r *pgBudgetRepository) ConsumeBudget(
	ctx context.Context,
	clinicID, period string,
	defaultLimit int,
	resetAt time.Time,
) (*domain.NotificationBudget, bool, error) {
	conn := db.Conn(ctx, r.pool)

	// The clinic's own limit wins over the configured default.
	_, err := conn.Exec(ctx, `
		INSERT INTO notification_budgets (`+budgetCols+`)
		VALUES ($1, $2, COALESCE((SELECT sms_monthly_limit FROM clinics WHERE id = $1), $3), 0, $4)
		ON CONFLICT (clinic_id, period) DO NOTHING`,
		clinicID, period, defaultLimit, resetAt)
	if err != nil {
		return nil, false, fmt.Errorf("ensure budget row: %w", err)
	}

	b, err := scanBudget(conn.QueryRow(ctx, `
		UPDATE notification_budgets
		SET sent = sent + 1
		WHERE clinic_id = $1 AND period = $2 AND sent < monthly_limit
		RETURNING `+budgetCols, clinicID, period))
	if err == nil {
		return b, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("consume budget: %w", err)
	}

	b, err = r.GetBudget(ctx, clinicID, period)
	if err != nil {
		return nil, false, err
	}
	return b, false, nil
}

func (r *pgBudgetRepository) GetBudget(ctx context.Context, clinicID, period string) (*domain.NotificationBudget, error) {
	b, err := scanBudget(db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+budgetCols+`
		FROM notification_budgets
		WHERE clinic_id = $1 AND period = $2`, clinicID, period))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrBudgetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get budget: %w", err)
	}
	return b, nil
}

func scanBudget(row pgx.Row) (*domain.NotificationBudget, error) {
	var b domain.NotificationBudget
	if err := row.Scan(&b.ClinicID, &b.Period, &b.MonthlyLimit, &b.Sent, &b.ResetAt); err != nil {
		return nil, err
	}
	return &b, nil
}

// ---- visit history ----

type pgHistoryRepository struct {
	pool *pgxpool.Pool
}

func NewPgHistoryRepository(pool *pgxpool.Pool) HistoryRepository {
	return &pgHistoryRepository{pool: pool}
}

func (r *pgHistoryRepository) AppendVisit(ctx context.Context, v *domain.VisitRecord) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO visit_history
			(id, entry_id, clinic_id, patient_id, guest_patient_id, appointment_type,
			 checked_in_at, started_at, completed_at, wait_seconds, service_seconds)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (entry_id) DO NOTHING`,
		v.ID, v.EntryID, v.ClinicID, nullString(v.Patient.PatientID), nullString(v.Patient.GuestID),
		v.AppointmentType, v.CheckedInAt, v.StartedAt, v.CompletedAt, v.WaitSeconds, v.ServiceSeconds,
	)
	if err != nil {
		return fmt.Errorf("insert visit: %w", err)
	}
	return nil
}

// ---- clinic directory ----

type pgClinicDirectory struct {
	pool *pgxpool.Pool
}

func NewPgClinicDirectory(pool *pgxpool.Pool) ClinicDirectory {
	return &pgClinicDirectory{pool: pool}
}

func (r *pgClinicDirectory) StaffRole(ctx context.Context, clinicID, staffID string) (domain.StaffRole, error) {
	var role string
	err := r.pool.QueryRow(ctx, `
		SELECT CASE
			WHEN c.owner_id = $2 THEN 'owner'
			WHEN EXISTS (
				SELECT 1 FROM clinic_staff s
				WHERE s.clinic_id = c.id AND s.staff_id = $2 AND s.active) THEN 'staff'
			ELSE ''
		END
		FROM clinics c WHERE c.id = $1`, clinicID, staffID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RoleNone, nil
	}
	if err != nil {
		return domain.RoleNone, fmt.Errorf("staff role: %w", err)
	}
	return domain.StaffRole(role), nil
}

func (r *pgClinicDirectory) ClinicLanguage(ctx context.Context, clinicID string) (string, error) {
	var lang string
	err := r.pool.QueryRow(ctx, `SELECT language FROM clinics WHERE id = $1`, clinicID).Scan(&lang)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("clinic language: %w", err)
	}
	return lang, nil
}

func (r *pgClinicDirectory) ClinicMonthlyLimit(ctx context.Context, clinicID string) (int, error) {
	var limit *int
	err := r.pool.QueryRow(ctx, `SELECT sms_monthly_limit FROM clinics WHERE id = $1`, clinicID).Scan(&limit)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("clinic monthly limit: %w", err)
	}
	if limit == nil {
		return 0, domain.ErrNotFound
	}
	return *limit, nil
}

func (r *pgClinicDirectory) PatientContact(ctx context.Context, p domain.PatientRef) (*domain.Contact, error) {
	query := `SELECT phone, COALESCE(language, '') FROM patients WHERE id = $1 AND phone IS NOT NULL`
	id := p.PatientID
	if p.IsGuest() {
		query = `SELECT phone, '' FROM guest_patients WHERE id = $1 AND phone IS NOT NULL`
		id = p.GuestID
	}

	var c domain.Contact
	err := r.pool.QueryRow(ctx, query, id).Scan(&c.Phone, &c.Language)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("patient contact: %w", err)
	}
	return &c, nil
}
