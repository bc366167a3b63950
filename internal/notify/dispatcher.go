// Package notify turns queue events into patient SMS messages.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/domain"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/eventbus"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/repository"
)

const subscriberName = "notify"

// Enqueuer accepts rendered messages for asynchronous delivery.
type Enqueuer interface {
	Enqueue(m domain.Message) error
}

// MetricHooks carries the metric callbacks injected by main.
type MetricHooks struct {
	OnQueued         func(kind domain.MessageKind)
	OnSimulated      func(kind domain.MessageKind)
	OnBudgetExceeded func(clinicID string)
	OnDropped        func(kind domain.MessageKind)
}

// Options configures a Dispatcher. Zero values fall back to defaults.
type Options struct {
	// MonthlyLimit is the budget given to a clinic without its own limit.
	MonthlyLimit int
	// SkipThreshold is the skip count from which a bypassed patient is told.
	SkipThreshold int
	GraceWindow   time.Duration
	Now           func() time.Time
	Hooks         MetricHooks
}

const (
	DefaultMonthlyLimit  = 500
	DefaultSkipThreshold = 1
)

// Dispatcher subscribes to queue events, renders the patient messages they
// call for and charges each one to the clinic's monthly budget before
// handing it to the outbound queue. With no outbound queue it runs in
// simulation mode: the budget is still charged and the message is logged.
type Dispatcher struct {
	dir       repository.ClinicDirectory
	budgets   repository.BudgetRepository
	templates *Templates
	out       Enqueuer
	logger    *zap.Logger

	limit         int
	skipThreshold int
	grace         time.Duration
	now           func() time.Time
	hooks         MetricHooks
}

// NewDispatcher returns a Dispatcher. out may be nil for simulation mode.
func NewDispatcher(
	dir repository.ClinicDirectory,
	budgets repository.BudgetRepository,
	templates *Templates,
	out Enqueuer,
	logger *zap.Logger,
	opts Options,
) *Dispatcher {
	if opts.MonthlyLimit <= 0 {
		opts.MonthlyLimit = DefaultMonthlyLimit
	}
	if opts.SkipThreshold <= 0 {
		opts.SkipThreshold = DefaultSkipThreshold
	}
	if opts.GraceWindow <= 0 {
		opts.GraceWindow = 10 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Hooks.OnQueued == nil {
		opts.Hooks.OnQueued = func(domain.MessageKind) {}
	}
	if opts.Hooks.OnSimulated == nil {
		opts.Hooks.OnSimulated = func(domain.MessageKind) {}
	}
	if opts.Hooks.OnBudgetExceeded == nil {
		opts.Hooks.OnBudgetExceeded = func(string) {}
	}
	if opts.Hooks.OnDropped == nil {
		opts.Hooks.OnDropped = func(domain.MessageKind) {}
	}
	return &Dispatcher{
		dir:           dir,
		budgets:       budgets,
		templates:     templates,
		out:           out,
		logger:        logger.With(zap.String("component", "notify")),
		limit:         opts.MonthlyLimit,
		skipThreshold: opts.SkipThreshold,
		grace:         opts.GraceWindow,
		now:           opts.Now,
		hooks:         opts.Hooks,
	}
}

// Simulated reports whether messages are logged instead of sent.
func (d *Dispatcher) Simulated() bool { return d.out == nil }

func (d *Dispatcher) Register(sub eventbus.Subscriber) {
	for _, t := range []domain.EventType{
		domain.EventPatientCalled,
		domain.EventQueuePositionChanged,
		domain.EventPatientMarkedAbsent,
		domain.EventPatientReturned,
	} {
		sub.Subscribe(t, subscriberName, d.Handle)
	}
}

// recipient is one patient to message about one entry.
type recipient struct {
	entryID string
	patient domain.PatientRef
	kind    domain.MessageKind
	data    TemplateData
}

// Handle sends every message e calls for. One failing recipient does not
// stop the others.
func (d *Dispatcher) Handle(ctx context.Context, e domain.Event) error {
	clinicID := e.Metadata().ClinicID
	var errs []error
	for _, r := range d.recipients(e) {
		if err := d.send(ctx, clinicID, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) recipients(e domain.Event) []recipient {
	var out []recipient
	switch ev := e.(type) {
	case domain.PatientCalledEvent:
		out = append(out, called(ev.Entry))
		if ev.NextUp != nil {
			out = append(out, nextUp(ev.NextUp))
		}
	case domain.QueuePositionChangedEvent:
		out = append(out, called(ev.Entry))
		for _, b := range ev.Bypassed {
			if b.SkipCount < d.skipThreshold {
				continue
			}
			out = append(out, recipient{
				entryID: b.EntryID,
				patient: b.Patient,
				kind:    domain.MessageSkipped,
				data:    TemplateData{Position: b.Position, SkipCount: b.SkipCount},
			})
		}
		if ev.NextUp != nil {
			out = append(out, nextUp(ev.NextUp))
		}
	case domain.PatientMarkedAbsentEvent:
		out = append(out, recipient{
			entryID: ev.Entry.ID,
			patient: ev.Entry.Patient,
			kind:    domain.MessageAbsent,
			data:    TemplateData{GraceMinutes: int(d.grace.Minutes())},
		})
	case domain.PatientReturnedEvent:
		out = append(out, recipient{
			entryID: ev.Entry.ID,
			patient: ev.Entry.Patient,
			kind:    domain.MessageReturned,
			data:    TemplateData{Position: ev.NewPosition},
		})
	}
	return out
}

func called(e *domain.QueueEntry) recipient {
	return recipient{entryID: e.ID, patient: e.Patient, kind: domain.MessageCalled}
}

func nextUp(e *domain.QueueEntry) recipient {
	r := recipient{entryID: e.ID, patient: e.Patient, kind: domain.MessageNextUp}
	if e.Position != nil {
		r.data.Position = *e.Position
	}
	return r
}

func (d *Dispatcher) send(ctx context.Context, clinicID string, r recipient) error {
	log := d.logger.With(
		zap.String("clinic_id", clinicID),
		zap.String("entry_id", r.entryID),
		zap.String("kind", string(r.kind)),
	)

	contact, err := d.dir.PatientContact(ctx, r.patient)
	if errors.Is(err, domain.ErrNotFound) {
		log.Debug("patient has no phone number; message skipped")
		return nil
	}
	if err != nil {
		return fmt.Errorf("patient contact: %w", err)
	}

	lang := contact.Language
	if lang == "" {
		lang, err = d.dir.ClinicLanguage(ctx, clinicID)
		if err != nil {
			lang = FallbackLanguage
		}
	}
	body, lang, err := d.templates.Render(r.kind, lang, r.data)
	if err != nil {
		return err
	}

	period, resetAt := domain.BillingPeriod(d.now())
	budget, consumed, err := d.budgets.ConsumeBudget(ctx, clinicID, period, d.limit, resetAt)
	if err != nil {
		return fmt.Errorf("consume budget: %w", err)
	}
	if !consumed {
		log.Warn("notification budget exceeded",
			zap.String("period", period),
			zap.Int("monthly_limit", budget.MonthlyLimit),
		)
		d.hooks.OnBudgetExceeded(clinicID)
		return nil
	}

	msg := domain.Message{
		ID:       uuid.New().String(),
		ClinicID: clinicID,
		EntryID:  r.entryID,
		Kind:     r.kind,
		Language: lang,
		To:       contact.Phone,
		Body:     body,
		Priority: r.kind.Priority(),
	}

	if d.out == nil {
		log.Info("sms simulated",
			zap.String("message_id", msg.ID),
			zap.String("language", lang),
			zap.String("body", body),
			zap.Int("budget_remaining", budget.Remaining()),
		)
		d.hooks.OnSimulated(r.kind)
		return nil
	}

	if err := d.out.Enqueue(msg); err != nil {
		log.Error("message dropped", zap.String("message_id", msg.ID), zap.Error(err))
		d.hooks.OnDropped(r.kind)
		return fmt.Errorf("enqueue %s: %w", r.kind, err)
	}
	d.hooks.OnQueued(r.kind)
	return nil
}
