package repository

import (
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/domain"
)

// Unique indexes whose violations carry domain meaning.
const (
	constraintActivePatient   = "queue_entries_active_patient_uq"
	constraintWaitingPosition = "queue_entries_waiting_position_uq"
	constraintInProgress      = "queue_entries_in_progress_uq"
	constraintActiveClosure   = "day_closures_active_uq"
)

// classify maps PostgreSQL errors onto domain errors. Anything it does not
// recognise is returned unchanged.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected, pgerrcode.LockNotAvailable:
		return domain.ErrConcurrentUpdate
	case pgerrcode.UniqueViolation:
		switch pgErr.ConstraintName {
		case constraintActivePatient:
			return domain.ErrDuplicateActiveEntry
		case constraintWaitingPosition:
			return domain.ErrConcurrentUpdate
		case constraintInProgress:
			return domain.ErrPatientInProgress
		case constraintActiveClosure:
			return domain.ErrDayAlreadyClosed
		}
	}
	return err
}
