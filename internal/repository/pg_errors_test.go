package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/domain"
)

func TestClassify(t *testing.T) {
	plain := errors.New("connection reset")

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"serialization failure", &pgconn.PgError{Code: pgerrcode.SerializationFailure}, domain.ErrConcurrentUpdate},
		{"deadlock", &pgconn.PgError{Code: pgerrcode.DeadlockDetected}, domain.ErrConcurrentUpdate},
		{"duplicate active patient",
			&pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: constraintActivePatient},
			domain.ErrDuplicateActiveEntry},
		{"position collision",
			&pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: constraintWaitingPosition},
			domain.ErrConcurrentUpdate},
		{"second patient in progress",
			&pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: constraintInProgress},
			domain.ErrPatientInProgress},
		{"second active closure",
			&pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: constraintActiveClosure},
			domain.ErrDayAlreadyClosed},
		{"wrapped serialization failure",
			fmt.Errorf("commit: %w", &pgconn.PgError{Code: pgerrcode.SerializationFailure}),
			domain.ErrConcurrentUpdate},
		{"unrelated error", plain, plain},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := classify(tc.err); !errors.Is(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}
