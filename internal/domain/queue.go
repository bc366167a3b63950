package domain

import (
	"sort"
	"strings"
	"time"
)

// Status tracks the lifecycle of a queue entry within one clinic-day.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusInProgress Status = "in_progress"
	StatusAbsent     Status = "absent"
	StatusCompleted  Status = "completed"
	StatusNoShow     Status = "no_show"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusWaiting, StatusInProgress, StatusAbsent, StatusCompleted, StatusNoShow:
		return true
	}
	return false
}

// IsActive reports whether the entry still occupies the patient's slot for
// the day. Terminal entries do not block a new entry for the same patient.
func (s Status) IsActive() bool {
	switch s {
	case StatusWaiting, StatusInProgress, StatusAbsent:
		return true
	}
	return false
}

// transitions is the complete state machine. Anything not listed is illegal.
var transitions = map[Status][]Status{
	StatusWaiting:    {StatusInProgress, StatusAbsent, StatusNoShow},
	StatusAbsent:     {StatusWaiting, StatusNoShow},
	StatusInProgress: {StatusCompleted},
}

// CanTransition reports whether from → to is an edge of the state machine.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// AppointmentType distinguishes walk-ins from patients with a booking.
type AppointmentType string

const (
	AppointmentWalkIn    AppointmentType = "walk_in"
	AppointmentScheduled AppointmentType = "scheduled"
)

func (a AppointmentType) IsValid() bool {
	switch a {
	case AppointmentWalkIn, AppointmentScheduled:
		return true
	}
	return false
}

// PatientRef identifies the patient of an entry: a registered patient or a
// guest registered at the desk. Exactly one of the two ids is set.
type PatientRef struct {
	PatientID string `json:"patient_id,omitempty"`
	GuestID   string `json:"guest_id,omitempty"`
}

// Normalize trims both ids.
func (p PatientRef) Normalize() PatientRef {
	return PatientRef{
		PatientID: strings.TrimSpace(p.PatientID),
		GuestID:   strings.TrimSpace(p.GuestID),
	}
}

func (p PatientRef) Validate() error {
	n := p.Normalize()
	if (n.PatientID == "") == (n.GuestID == "") {
		return ErrInvalidPatientRef
	}
	return nil
}

// IsGuest reports whether the reference points to a guest patient.
func (p PatientRef) IsGuest() bool { return p.GuestID != "" }

// Key is a stable string for equality checks and logging.
func (p PatientRef) Key() string {
	if p.IsGuest() {
		return "guest:" + p.GuestID
	}
	return "patient:" + p.PatientID
}

// QueueEntry is one patient's place in one clinic-day queue.
type QueueEntry struct {
	ID              string          `json:"id"`
	ClinicID        string          `json:"clinic_id"`
	QueueDate       time.Time       `json:"queue_date"`
	Patient         PatientRef      `json:"patient"`
	AppointmentType AppointmentType `json:"appointment_type"`
	Status          Status          `json:"status"`
	Position        *int            `json:"position,omitempty"`
	SkipCount       int             `json:"skip_count"`
	CheckedInAt     time.Time       `json:"checked_in_at"`
	CalledAt        *time.Time      `json:"called_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Clone returns a deep copy; pointer fields are not shared.
func (e *QueueEntry) Clone() *QueueEntry {
	c := *e
	if e.Position != nil {
		p := *e.Position
		c.Position = &p
	}
	if e.CalledAt != nil {
		t := *e.CalledAt
		c.CalledAt = &t
	}
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Snapshot captures the audited part of an entry's state.
func (e *QueueEntry) Snapshot() EntrySnapshot {
	s := EntrySnapshot{Status: e.Status}
	if e.Position != nil {
		p := *e.Position
		s.Position = &p
	}
	return s
}

// Apply mutates e in place with the fields set on patch.
func (e *QueueEntry) Apply(patch EntryPatch, at time.Time) {
	if patch.Status != nil {
		e.Status = *patch.Status
	}
	if patch.ClearPosition {
		e.Position = nil
	} else if patch.Position != nil {
		p := *patch.Position
		e.Position = &p
	}
	if patch.SkipCount != nil {
		e.SkipCount = *patch.SkipCount
	}
	if patch.CalledAt != nil {
		t := *patch.CalledAt
		e.CalledAt = &t
	}
	if patch.CompletedAt != nil {
		t := *patch.CompletedAt
		e.CompletedAt = &t
	}
	e.UpdatedAt = at
}

// EntrySnapshot is the before/after state recorded for audit.
type EntrySnapshot struct {
	Status   Status `json:"status"`
	Position *int   `json:"position,omitempty"`
}

// EntryPatch is a partial update of a queue entry. Nil fields are left as is.
// ClearPosition wins over Position.
type EntryPatch struct {
	Status        *Status
	Position      *int
	ClearPosition bool
	SkipCount     *int
	CalledAt      *time.Time
	CompletedAt   *time.Time
}

// IsEmpty reports whether the patch changes nothing.
func (p EntryPatch) IsEmpty() bool {
	return p.Status == nil && p.Position == nil && !p.ClearPosition &&
		p.SkipCount == nil && p.CalledAt == nil && p.CompletedAt == nil
}

// DayOf returns the calendar day of t in loc, as midnight UTC of that date.
// All clinic-day keys use this representation so they compare with ==.
func DayOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD date into the DayOf representation.
func ParseDay(s string) (time.Time, error) {
	d, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return d, nil
}

// SortQueue orders entries for display: the in-progress patient, then
// waiting entries by position, then absent entries by check-in, then
// terminal entries by last update.
func SortQueue(entries []*QueueEntry) {
	rank := func(s Status) int {
		switch s {
		case StatusInProgress:
			return 0
		case StatusWaiting:
			return 1
		case StatusAbsent:
			return 2
		default:
			return 3
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if ra, rb := rank(a.Status), rank(b.Status); ra != rb {
			return ra < rb
		}
		switch a.Status {
		case StatusWaiting:
			if a.Position != nil && b.Position != nil {
				return *a.Position < *b.Position
			}
		case StatusAbsent:
			return a.CheckedInAt.Before(b.CheckedInAt)
		case StatusCompleted, StatusNoShow:
			return a.UpdatedAt.Before(b.UpdatedAt)
		}
		return false
	})
}

// MaxWaitingPosition returns the highest position held by a waiting entry,
// or 0 when nobody is waiting.
func MaxWaitingPosition(entries []*QueueEntry) int {
	highest := 0
	for _, e := range entries {
		if e.Status == StatusWaiting && e.Position != nil && *e.Position > highest {
			highest = *e.Position
		}
	}
	return highest
}

// IntPtr is a small helper for optional positions.
func IntPtr(v int) *int { return &v }

func StatusPtr(s Status) *Status { return &s }

func TimePtr(t time.Time) *time.Time { return &t }
