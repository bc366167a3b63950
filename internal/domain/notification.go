package domain

import (
	"fmt"
	"time"
)

// Priority controls outbound send ordering. High is processed first.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

func (p Priority) IsValid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// MessageKind selects the template of an outbound patient message.
type MessageKind string

const (
	MessageCalled   MessageKind = "called"
	MessageNextUp   MessageKind = "next_up"
	MessageSkipped  MessageKind = "skipped"
	MessageAbsent   MessageKind = "absent"
	MessageReturned MessageKind = "returned"
)

// Priority returns the send priority for messages of this kind.
// A patient being called must never wait behind reassurance messages.
func (k MessageKind) Priority() Priority {
	switch k {
	case MessageCalled, MessageNextUp:
		return PriorityHigh
	case MessageSkipped:
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// Message is one rendered SMS ready for transport.
type Message struct {
	ID       string      `json:"id"`
	ClinicID string      `json:"clinic_id"`
	EntryID  string      `json:"entry_id"`
	Kind     MessageKind `json:"kind"`
	Language string      `json:"language"`
	To       string      `json:"to"`
	Body     string      `json:"body"`
	Priority Priority    `json:"priority"`
}

// Contact is how a patient can be reached.
type Contact struct {
	Phone    string
	Language string
}

// NotificationBudget caps outbound messages per clinic per calendar month.
type NotificationBudget struct {
	ClinicID     string    `json:"clinic_id"`
	Period       string    `json:"period"`
	MonthlyLimit int       `json:"monthly_limit"`
	Sent         int       `json:"sent"`
	ResetAt      time.Time `json:"reset_at"`
}

func (b *NotificationBudget) Remaining() int {
	if r := b.MonthlyLimit - b.Sent; r > 0 {
		return r
	}
	return 0
}

// BillingPeriod returns the budget period key ("2006-01") containing t and
// the instant the next period starts.
func BillingPeriod(t time.Time) (string, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return fmt.Sprintf("%04d-%02d", t.Year(), int(t.Month())), start.AddDate(0, 1, 0)
}
