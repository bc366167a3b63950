package domain

import "time"

// AbsenceResolution records how an absence was closed.
type AbsenceResolution string

const (
	AbsenceOpen     AbsenceResolution = ""
	AbsenceReturned AbsenceResolution = "returned"
	AbsenceNoShow   AbsenceResolution = "no_show"
)

// AbsenceRecord is created when a waiting entry is marked absent. It stays
// open until the patient returns within the grace period or the day ends.
type AbsenceRecord struct {
	ID            string            `json:"id"`
	EntryID       string            `json:"entry_id"`
	ClinicID      string            `json:"clinic_id"`
	MarkedBy      string            `json:"marked_by"`
	Reason        string            `json:"reason"`
	MarkedAt      time.Time         `json:"marked_at"`
	GraceDeadline time.Time         `json:"grace_deadline"`
	ReturnedAt    *time.Time        `json:"returned_at,omitempty"`
	ClosedAt      *time.Time        `json:"closed_at,omitempty"`
	Resolution    AbsenceResolution `json:"resolution,omitempty"`
}

func (a *AbsenceRecord) IsOpen() bool { return a.ClosedAt == nil }

// GraceElapsed reports whether now is past the grace deadline.
func (a *AbsenceRecord) GraceElapsed(now time.Time) bool {
	return now.After(a.GraceDeadline)
}

// AbsenceClosure is the close-out written to an absence record.
type AbsenceClosure struct {
	At         time.Time
	Resolution AbsenceResolution
}

// ClosureCounts summarises the entries transitioned by an end-of-day.
type ClosureCounts struct {
	NoShowFromWaiting       int `json:"no_show_from_waiting"`
	NoShowFromAbsent        int `json:"no_show_from_absent"`
	CompletedFromInProgress int `json:"completed_from_in_progress"`
}

func (c ClosureCounts) Total() int {
	return c.NoShowFromWaiting + c.NoShowFromAbsent + c.CompletedFromInProgress
}

// DayClosure is written once per clinic-day by end-of-day. A closure with a
// ReopenedAt is inert and a new one may be created for the same day.
type DayClosure struct {
	ID           string        `json:"id"`
	ClinicID     string        `json:"clinic_id"`
	Day          time.Time     `json:"day"`
	ClosedAt     time.Time     `json:"closed_at"`
	ClosedBy     string        `json:"closed_by"`
	ReopenedAt   *time.Time    `json:"reopened_at,omitempty"`
	ReopenedBy   *string       `json:"reopened_by,omitempty"`
	ReopenReason *string       `json:"reopen_reason,omitempty"`
	Counts       ClosureCounts `json:"counts"`
}

func (c *DayClosure) IsActive() bool { return c.ReopenedAt == nil }

// AuditAction names the queue-altering action an audit row records.
type AuditAction string

const (
	AuditAddToQueue   AuditAction = "add_to_queue"
	AuditCallNext     AuditAction = "call_next"
	AuditCallSpecific AuditAction = "call_specific"
	AuditMarkAbsent   AuditAction = "mark_absent"
	AuditMarkReturned AuditAction = "mark_returned"
	AuditComplete     AuditAction = "complete_appointment"
	AuditEndDay       AuditAction = "end_day"
	AuditReopenDay    AuditAction = "reopen_day"
)

// AuditEntry (a queue override row) is immutable once written.
// EntryID is nil for clinic-level actions such as reopening a day.
type AuditEntry struct {
	ID               string      `json:"id"`
	ClinicID         string      `json:"clinic_id"`
	EntryID          *string     `json:"entry_id,omitempty"`
	Action           AuditAction `json:"action"`
	PerformedBy      string      `json:"performed_by"`
	Reason           string      `json:"reason,omitempty"`
	PreviousStatus   Status      `json:"previous_status,omitempty"`
	NewStatus        Status      `json:"new_status,omitempty"`
	PreviousPosition *int        `json:"previous_position,omitempty"`
	NewPosition      *int        `json:"new_position,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
}

// VisitRecord mirrors a completed appointment into the visit history.
type VisitRecord struct {
	ID              string          `json:"id"`
	EntryID         string          `json:"entry_id"`
	ClinicID        string          `json:"clinic_id"`
	Patient         PatientRef      `json:"patient"`
	AppointmentType AppointmentType `json:"appointment_type"`
	CheckedInAt     time.Time       `json:"checked_in_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     time.Time       `json:"completed_at"`
	WaitSeconds     int64           `json:"wait_seconds"`
	ServiceSeconds  int64           `json:"service_seconds"`
}

// StaffRole is a caller's relationship to a clinic.
type StaffRole string

const (
	RoleNone  StaffRole = ""
	RoleStaff StaffRole = "staff"
	RoleOwner StaffRole = "owner"
)

// Caller is the already-authenticated identity invoking an operation.
// The System caller is used by scheduled jobs and bypasses clinic roles.
type Caller struct {
	StaffID string
	System  bool
}

// SystemCaller is the identity of scheduled background jobs.
var SystemCaller = Caller{StaffID: "system", System: true}

// Actor returns the id recorded as the performer of an action.
func (c Caller) Actor() string { return c.StaffID }
