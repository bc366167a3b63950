package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/db"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/domain"
)

type pgQueueRepository struct {
	pool *pgxpool.Pool
}

// NewPgQueueRepository returns a QueueRepository backed by PostgreSQL.
func NewPgQueueRepository(pool *pgxpool.Pool) QueueRepository {
	return &pgQueueRepository{pool: pool}
}

func (r *pgQueueRepository) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const entryCols = `id, clinic_id, queue_date, patient_id, guest_patient_id,
	appointment_type, status, queue_position, skip_count,
	checked_in_at, called_at, completed_at, created_at, updated_at`

const absenceCols = `id, entry_id, clinic_id, marked_by, reason, marked_at,
	grace_deadline, returned_at, closed_at, resolution`

const closureCols = `id, clinic_id, day, closed_at, closed_by,
	reopened_at, reopened_by, reopen_reason,
	no_show_from_waiting, no_show_from_absent, completed_from_in_progress`

func (r *pgQueueRepository) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return classify(db.InTx(ctx, r.pool, fn))
}

func (r *pgQueueRepository) LockClinicDay(ctx context.Context, clinicID string, day time.Time) error {
	tx := db.TxFromContext(ctx)
	if tx == nil {
		return errors.New("clinic-day lock requires a transaction")
	}
	key := clinicID + "/" + day.Format(time.DateOnly)
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return fmt.Errorf("lock clinic-day: %w", classify(err))
	}
	return nil
}

func (r *pgQueueRepository) GetQueueByDate(ctx context.Context, clinicID string, day time.Time) ([]*domain.QueueEntry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+entryCols+`
		FROM queue_entries
		WHERE clinic_id = $1 AND queue_date = $2
		ORDER BY
			CASE status
				WHEN 'in_progress' THEN 0
				WHEN 'waiting' THEN 1
				WHEN 'absent' THEN 2
				ELSE 3
			END,
			queue_position NULLS LAST,
			CASE WHEN status = 'absent' THEN checked_in_at END,
			updated_at`, clinicID, day)
	if err != nil {
		return nil, fmt.Errorf("get queue: %w", classify(err))
	}
	defer rows.Close()

	var entries []*domain.QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get queue: %w", classify(err))
	}
	return entries, nil
}

func (r *pgQueueRepository) GetQueueEntry(ctx context.Context, id string) (*domain.QueueEntry, error) {
	row := r.conn(ctx).QueryRow(ctx, `SELECT `+entryCols+` FROM queue_entries WHERE id = $1`, id)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get queue entry: %w", classify(err))
	}
	return e, nil
}

func (r *pgQueueRepository) CreateQueueEntry(ctx context.Context, e *domain.QueueEntry) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO queue_entries (`+entryCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		e.ID, e.ClinicID, e.QueueDate, nullString(e.Patient.PatientID), nullString(e.Patient.GuestID),
		e.AppointmentType, e.Status, e.Position, e.SkipCount,
		e.CheckedInAt, e.CalledAt, e.CompletedAt, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert queue entry: %w", classify(err))
	}
	return nil
}

func (r *pgQueueRepository) UpdateQueueEntry(ctx context.Context, id string, patch domain.EntryPatch) (*domain.QueueEntry, error) {
	if patch.IsEmpty() {
		return r.GetQueueEntry(ctx, id)
	}
	set, args := buildPatchSet(patch)
	args = append(args, id)
	query := fmt.Sprintf(`UPDATE queue_entries SET %s WHERE id = $%d RETURNING %s`, set, len(args), entryCols)

	e, err := scanEntry(r.conn(ctx).QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update queue entry: %w", classify(err))
	}
	return e, nil
}

func (r *pgQueueRepository) GetOpenAbsence(ctx context.Context, entryID string) (*domain.AbsenceRecord, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+absenceCols+`
		FROM absence_records
		WHERE entry_id = $1 AND closed_at IS NULL
		ORDER BY marked_at DESC
		LIMIT 1`, entryID)
	a, err := scanAbsence(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAbsenceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get open absence: %w", classify(err))
	}
	return a, nil
}

func (r *pgQueueRepository) CreateAbsenceRecord(ctx context.Context, a *domain.AbsenceRecord) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO absence_records (`+absenceCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		a.ID, a.EntryID, a.ClinicID, a.MarkedBy, a.Reason, a.MarkedAt,
		a.GraceDeadline, a.ReturnedAt, a.ClosedAt, nullString(string(a.Resolution)),
	)
	if err != nil {
		return fmt.Errorf("insert absence record: %w", classify(err))
	}
	return nil
}

func (r *pgQueueRepository) CloseAbsenceRecord(ctx context.Context, id string, c domain.AbsenceClosure) error {
	var returnedAt *time.Time
	if c.Resolution == domain.AbsenceReturned {
		returnedAt = &c.At
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE absence_records
		SET closed_at = $1, returned_at = COALESCE($2, returned_at), resolution = $3
		WHERE id = $4 AND closed_at IS NULL`,
		c.At, returnedAt, c.Resolution, id)
	if err != nil {
		return fmt.Errorf("close absence record: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAbsenceNotFound
	}
	return nil
}

func (r *pgQueueRepository) GetActiveClosure(ctx context.Context, clinicID string, day time.Time) (*domain.DayClosure, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+closureCols+`
		FROM day_closures
		WHERE clinic_id = $1 AND day = $2 AND reopened_at IS NULL`, clinicID, day)
	c, err := scanClosure(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrClosureNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get active closure: %w", classify(err))
	}
	return c, nil
}

func (r *pgQueueRepository) GetClosure(ctx context.Context, id string) (*domain.DayClosure, error) {
	row := r.conn(ctx).QueryRow(ctx, `SELECT `+closureCols+` FROM day_closures WHERE id = $1`, id)
	c, err := scanClosure(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrClosureNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get closure: %w", classify(err))
	}
	return c, nil
}

func (r *pgQueueRepository) CreateDayClosure(ctx context.Context, c *domain.DayClosure) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO day_closures (`+closureCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		c.ID, c.ClinicID, c.Day, c.ClosedAt, c.ClosedBy,
		c.ReopenedAt, c.ReopenedBy, c.ReopenReason,
		c.Counts.NoShowFromWaiting, c.Counts.NoShowFromAbsent, c.Counts.CompletedFromInProgress,
	)
	if err != nil {
		return fmt.Errorf("insert day closure: %w", classify(err))
	}
	return nil
}

func (r *pgQueueRepository) MarkClosureReopened(ctx context.Context, id, reopenedBy, reason string, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE day_closures
		SET reopened_at = $1, reopened_by = $2, reopen_reason = $3
		WHERE id = $4 AND reopened_at IS NULL`, at, reopenedBy, reason, id)
	if err != nil {
		return fmt.Errorf("reopen closure: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrClosureAlreadyReopened
	}
	return nil
}

func (r *pgQueueRepository) ListClinicsWithOpenDay(ctx context.Context, day time.Time) ([]string, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT DISTINCT q.clinic_id
		FROM queue_entries q
		WHERE q.queue_date = $1
		  AND q.status IN ('waiting', 'in_progress', 'absent')
		  AND NOT EXISTS (
			SELECT 1 FROM day_closures d
			WHERE d.clinic_id = q.clinic_id AND d.day = $1 AND d.reopened_at IS NULL)
		ORDER BY q.clinic_id`, day)
	if err != nil {
		return nil, fmt.Errorf("list open clinic-days: %w", classify(err))
	}
	defer rows.Close()

	var clinics []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		clinics = append(clinics, id)
	}
	return clinics, rows.Err()
}

// ---- helpers ----

func scanEntry(row pgx.Row) (*domain.QueueEntry, error) {
	var e domain.QueueEntry
	var patientID, guestID *string
	err := row.Scan(
		&e.ID, &e.ClinicID, &e.QueueDate, &patientID, &guestID,
		&e.AppointmentType, &e.Status, &e.Position, &e.SkipCount,
		&e.CheckedInAt, &e.CalledAt, &e.CompletedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if patientID != nil {
		e.Patient.PatientID = *patientID
	}
	if guestID != nil {
		e.Patient.GuestID = *guestID
	}
	return &e, nil
}

func scanAbsence(row pgx.Row) (*domain.AbsenceRecord, error) {
	var a domain.AbsenceRecord
	var resolution *string
	err := row.Scan(
		&a.ID, &a.EntryID, &a.ClinicID, &a.MarkedBy, &a.Reason, &a.MarkedAt,
		&a.GraceDeadline, &a.ReturnedAt, &a.ClosedAt, &resolution,
	)
	if err != nil {
		return nil, err
	}
	if resolution != nil {
		a.Resolution = domain.AbsenceResolution(*resolution)
	}
	return &a, nil
}

func scanClosure(row pgx.Row) (*domain.DayClosure, error) {
	var c domain.DayClosure
	err := row.Scan(
		&c.ID, &c.ClinicID, &c.Day, &c.ClosedAt, &c.ClosedBy,
		&c.ReopenedAt, &c.ReopenedBy, &c.ReopenReason,
		&c.Counts.NoShowFromWaiting, &c.Counts.NoShowFromAbsent, &c.Counts.CompletedFromInProgress,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// buildPatchSet builds a parameterised SET clause from an EntryPatch.
func buildPatchSet(p domain.EntryPatch) (string, []any) {
	var sets []string
	var args []any

	add := func(column string, val any) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if p.Status != nil {
		add("status", *p.Status)
	}
	if p.ClearPosition {
		sets = append(sets, "queue_position = NULL")
	} else if p.Position != nil {
		add("queue_position", *p.Position)
	}
	if p.SkipCount != nil {
		add("skip_count", *p.SkipCount)
	}
	if p.CalledAt != nil {
		add("called_at", *p.CalledAt)
	}
	if p.CompletedAt != nil {
		add("completed_at", *p.CompletedAt)
	}
	sets = append(sets, "updated_at = NOW()")
	return strings.Join(sets, ", "), args
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
