package domain

import "errors"

// Kind classifies every error the queue core returns to a caller.
// Handlers translate kinds to HTTP status codes via a single mapError function.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindBusinessRule Kind = "business_rule"
	KindConcurrency  Kind = "concurrency"
	KindForbidden    Kind = "forbidden"
)

func (k Kind) Error() string { return string(k) + " error" }

// Kind sentinels. errors.Is(err, ErrBusinessRule) is true for every
// business-rule violation regardless of which rule was broken.
var (
	ErrValidation   error = KindValidation
	ErrNotFound     error = KindNotFound
	ErrBusinessRule error = KindBusinessRule
	ErrConcurrency  error = KindConcurrency
	ErrForbidden    error = KindForbidden
)

// Error is a classified error naming the rule that was violated.
type Error struct {
	Kind    Kind
	Rule    string
	Message string
}

func (e *Error) Error() string { return e.Message }

// Is matches the kind sentinels, so callers can test either the exact rule
// (pointer identity) or the broader kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// KindOf returns the kind of err, or "" when err is unclassified.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return ""
}

// RuleOf returns the violated rule name, or "" when err is unclassified.
func RuleOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Rule
	}
	return ""
}

func newError(kind Kind, rule, msg string) *Error {
	return &Error{Kind: kind, Rule: rule, Message: msg}
}

// Validation errors: malformed or missing input, never retried.
var (
	ErrInvalidPatientRef      = newError(KindValidation, "invalid_patient_ref", "patient reference must set exactly one of patient_id or guest_id")
	ErrInvalidAppointmentType = newError(KindValidation, "invalid_appointment_type", "appointment type must be walk_in or scheduled")
	ErrDuplicateActiveEntry   = newError(KindValidation, "duplicate_active_entry", "patient already has an active queue entry for this day")
	ErrMissingClinic          = newError(KindValidation, "missing_clinic", "clinic id must not be empty")
	ErrMissingEntry           = newError(KindValidation, "missing_entry", "entry id must not be empty")
	ErrMissingReason          = newError(KindValidation, "missing_reason", "reason must not be empty")
	ErrReasonTooLong          = newError(KindValidation, "reason_too_long", "reason must be at most 500 characters")
	ErrInvalidDate            = newError(KindValidation, "invalid_date", "date must be formatted YYYY-MM-DD")
	ErrFutureDay              = newError(KindValidation, "future_day", "cannot close a day that has not started")
)

// Not-found errors.
var (
	ErrEntryNotFound   = newError(KindNotFound, "entry_not_found", "queue entry not found")
	ErrQueueEmpty      = newError(KindNotFound, "queue_empty", "no waiting patient in the queue")
	ErrClosureNotFound = newError(KindNotFound, "closure_not_found", "day closure not found")
	ErrAbsenceNotFound = newError(KindNotFound, "absence_not_found", "no open absence record for entry")
	ErrBudgetNotFound  = newError(KindNotFound, "budget_not_found", "no notification budget for this period")
)

// Business-rule errors: valid input that violates a state-machine invariant.
var (
	ErrPatientInProgress      = newError(KindBusinessRule, "patient_in_progress", "another patient is already in progress; complete it first")
	ErrNotWaiting             = newError(KindBusinessRule, "entry_not_waiting", "entry is not waiting")
	ErrNotAbsent              = newError(KindBusinessRule, "entry_not_absent", "entry is not marked absent")
	ErrNotInProgress          = newError(KindBusinessRule, "entry_not_in_progress", "entry is not in progress")
	ErrGraceExpired           = newError(KindBusinessRule, "grace_period_expired", "grace period has expired; add the patient to the queue as a new entry")
	ErrDayClosed              = newError(KindBusinessRule, "day_closed", "the clinic day is closed; reopen it before changing the queue")
	ErrDayAlreadyClosed       = newError(KindBusinessRule, "day_already_closed", "the clinic day is already closed")
	ErrClosureAlreadyReopened = newError(KindBusinessRule, "closure_already_reopened", "the day closure has already been reopened")
	ErrReopenWindowExpired    = newError(KindBusinessRule, "reopen_window_expired", "the reopen window for this closure has expired")
	ErrIllegalTransition      = newError(KindBusinessRule, "illegal_transition", "status transition is not allowed")
)

// Concurrency and authorization errors.
var (
	ErrConcurrentUpdate = newError(KindConcurrency, "concurrent_update", "the queue changed concurrently; retry with fresh state")
	ErrNotClinicStaff   = newError(KindForbidden, "not_clinic_staff", "caller is not an owner or active staff member of the clinic")
	ErrNotClinicOwner   = newError(KindForbidden, "not_clinic_owner", "only the clinic owner may perform this operation")
)
