package domain

import "time"

// EventType is the routing key subscribers register against.
type EventType string

const (
	EventPatientAdded         EventType = "PatientAddedToQueueEvent"
	EventPatientCalled        EventType = "PatientCalledEvent"
	EventQueuePositionChanged EventType = "QueuePositionChangedEvent"
	EventPatientMarkedAbsent  EventType = "PatientMarkedAbsentEvent"
	EventPatientReturned      EventType = "PatientReturnedEvent"
	EventAppointmentStatus    EventType = "AppointmentStatusChangedEvent"
	EventDayClosed            EventType = "DayClosedEvent"
	EventDayReopened          EventType = "DayReopenedEvent"
)

// Event is implemented only by the event structs in this file.
// Subscribers switch on the concrete type.
type Event interface {
	Type() EventType
	Metadata() Meta
	isEvent()
}

// Meta is shared by every event: which clinic-day changed, who did it, when.
type Meta struct {
	ClinicID string    `json:"clinic_id"`
	Day      time.Time `json:"day"`
	Actor    string    `json:"actor"`
	At       time.Time `json:"at"`
	Reason   string    `json:"reason,omitempty"`
}

func (m Meta) Metadata() Meta { return m }

// PatientAddedToQueueEvent is published after addToQueue.
type PatientAddedToQueueEvent struct {
	Meta
	Entry *QueueEntry `json:"entry"`
}

// PatientCalledEvent is published after callNextPatient. NextUp is the new
// head of the waiting queue, nil when nobody else is waiting.
type PatientCalledEvent struct {
	Meta
	Entry  *QueueEntry   `json:"entry"`
	Before EntrySnapshot `json:"before"`
	NextUp *QueueEntry   `json:"next_up,omitempty"`
}

// BypassedEntry is a waiting entry that a skip-ahead call jumped over.
type BypassedEntry struct {
	EntryID   string     `json:"entry_id"`
	Patient   PatientRef `json:"patient"`
	Position  int        `json:"position"`
	SkipCount int        `json:"skip_count"`
}

// QueuePositionChangedEvent is published after callSpecificPatient. The
// called entry leaves the waiting positions (NewPosition is nil) and every
// bypassed entry is listed with its incremented skip count.
type QueuePositionChangedEvent struct {
	Meta
	Entry       *QueueEntry     `json:"entry"`
	Before      EntrySnapshot   `json:"before"`
	OldPosition *int            `json:"old_position"`
	NewPosition *int            `json:"new_position"`
	Bypassed    []BypassedEntry `json:"bypassed"`
	NextUp      *QueueEntry     `json:"next_up,omitempty"`
}

// PatientMarkedAbsentEvent is published after markAbsent.
type PatientMarkedAbsentEvent struct {
	Meta
	Entry         *QueueEntry    `json:"entry"`
	Before        EntrySnapshot  `json:"before"`
	Absence       *AbsenceRecord `json:"absence"`
	GraceDeadline time.Time      `json:"grace_deadline"`
}

// PatientReturnedEvent is published after markReturned.
type PatientReturnedEvent struct {
	Meta
	Entry       *QueueEntry   `json:"entry"`
	Before      EntrySnapshot `json:"before"`
	NewPosition int           `json:"new_position"`
}

// AppointmentStatusChangedEvent is published after completeAppointment.
type AppointmentStatusChangedEvent struct {
	Meta
	Entry     *QueueEntry   `json:"entry"`
	Before    EntrySnapshot `json:"before"`
	OldStatus Status        `json:"old_status"`
	NewStatus Status        `json:"new_status"`
}

// EntryTransition is one entry finalized by end-of-day.
type EntryTransition struct {
	Entry  *QueueEntry   `json:"entry"`
	Before EntrySnapshot `json:"before"`
}

// DayClosedEvent is published after endDay.
type DayClosedEvent struct {
	Meta
	Closure     *DayClosure       `json:"closure"`
	Counts      ClosureCounts     `json:"counts"`
	Transitions []EntryTransition `json:"transitions"`
}

// DayReopenedEvent is published after reopenDay.
type DayReopenedEvent struct {
	Meta
	Closure *DayClosure `json:"closure"`
}

func (PatientAddedToQueueEvent) Type() EventType      { return EventPatientAdded }
func (PatientCalledEvent) Type() EventType            { return EventPatientCalled }
func (QueuePositionChangedEvent) Type() EventType     { return EventQueuePositionChanged }
func (PatientMarkedAbsentEvent) Type() EventType      { return EventPatientMarkedAbsent }
func (PatientReturnedEvent) Type() EventType          { return EventPatientReturned }
func (AppointmentStatusChangedEvent) Type() EventType { return EventAppointmentStatus }
func (DayClosedEvent) Type() EventType                { return EventDayClosed }
func (DayReopenedEvent) Type() EventType              { return EventDayReopened }

func (PatientAddedToQueueEvent) isEvent()      {}
func (PatientCalledEvent) isEvent()            {}
func (QueuePositionChangedEvent) isEvent()     {}
func (PatientMarkedAbsentEvent) isEvent()      {}
func (PatientReturnedEvent) isEvent()          {}
func (AppointmentStatusChangedEvent) isEvent() {}
func (DayClosedEvent) isEvent()                {}
func (DayReopenedEvent) isEvent()              {}

// QueueMutatingEvents lists every event type that records an audited change.
var QueueMutatingEvents = []EventType{
	EventPatientAdded,
	EventPatientCalled,
	EventQueuePositionChanged,
	EventPatientMarkedAbsent,
	EventPatientReturned,
	EventAppointmentStatus,
	EventDayClosed,
	EventDayReopened,
}
