package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/domain"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/service"
)

// seedBusyDay stores 5 waiting, 2 absent (with open absence records),
// 1 in progress and 10 completed entries.
func seedBusyDay(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		f.seed(fmt.Sprintf("w%d", i), domain.StatusWaiting, i)
	}
	for i := 1; i <= 2; i++ {
		id := f.seed(fmt.Sprintf("a%d", i), domain.StatusWaiting, 10+i)
		if _, err := f.svc.MarkAbsent(ctx, staff, clinicID, id, ""); err != nil {
			t.Fatalf("mark absent %s: %v", id, err)
		}
	}
	f.seed("ip", domain.StatusInProgress, 0)
	for i := 1; i <= 10; i++ {
		f.seed(fmt.Sprintf("c%d", i), domain.StatusCompleted, 0)
	}
}

func TestEndDay_FinalizesEveryActiveEntry(t *testing.T) {
	f := newFixture()
	seedBusyDay(t, f)
	f.pub.events = nil

	closure, err := f.svc.EndDay(context.Background(), staff, clinicID, time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := domain.ClosureCounts{NoShowFromWaiting: 5, NoShowFromAbsent: 2, CompletedFromInProgress: 1}
	if closure.Counts != want {
		t.Fatalf("expected counts %+v, got %+v", want, closure.Counts)
	}
	if closure.ClosedBy != staffID || !closure.Day.Equal(today) || !closure.IsActive() {
		t.Fatalf("unexpected closure: %+v", closure)
	}

	entries, _ := f.repo.GetQueueByDate(context.Background(), clinicID, today)
	byStatus := map[domain.Status]int{}
	for _, e := range entries {
		byStatus[e.Status]++
		if e.Position != nil {
			t.Fatalf("entry %s still holds a position", e.ID)
		}
	}
	if byStatus[domain.StatusCompleted] != 11 || byStatus[domain.StatusNoShow] != 7 || len(byStatus) != 2 {
		t.Fatalf("expected 11 completed and 7 no_show, got %v", byStatus)
	}
	if f.entry(t, "ip").CompletedAt == nil {
		t.Fatal("expected completed_at on the finished in-progress entry")
	}

	for _, id := range []string{"a1", "a2"} {
		records := f.repo.Absences(id)
		if len(records) != 1 || records[0].IsOpen() || records[0].Resolution != domain.AbsenceNoShow {
			t.Fatalf("%s: expected absence closed as no_show, got %+v", id, records)
		}
	}

	events := f.pub.all()
	if len(events) != 1 {
		t.Fatalf("expected exactly one event, got %d", len(events))
	}
	ev, ok := events[0].(domain.DayClosedEvent)
	if !ok {
		t.Fatalf("expected DayClosedEvent, got %T", events[0])
	}
	if len(ev.Transitions) != 8 || ev.Counts != want {
		t.Fatalf("expected 8 transitions, got %d", len(ev.Transitions))
	}
}

func TestEndDay_SecondAttemptFails(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.seed("a", domain.StatusWaiting, 1)

	if _, err := f.svc.EndDay(ctx, staff, clinicID, time.Time{}); err != nil {
		t.Fatalf("first end day: %v", err)
	}
	f.seed("late", domain.StatusWaiting, 2)
	published := len(f.pub.all())

	_, err := f.svc.EndDay(ctx, staff, clinicID, time.Time{})
	if !errors.Is(err, domain.ErrDayAlreadyClosed) || !errors.Is(err, domain.ErrBusinessRule) {
		t.Fatalf("expected ErrDayAlreadyClosed, got %v", err)
	}
	if e := f.entry(t, "late"); e.Status != domain.StatusWaiting {
		t.Fatalf("expected second attempt to change nothing, got %s", e.Status)
	}
	if len(f.repo.Closures(clinicID)) != 1 {
		t.Fatal("expected a single closure")
	}
	if len(f.pub.all()) != published {
		t.Fatal("expected no event on failure")
	}
}

// TestEndDay_AllOrNothing fails the third entry write and expects every
// earlier write to be rolled back.
func TestEndDay_AllOrNothing(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
	}{
		{"entry update fails", func(f *fixture) {
			writes := 0
			f.repo.UpdateHook = func(string, domain.EntryPatch) error {
				writes++
				if writes == 3 {
					return errors.New("connection reset")
				}
				return nil
			}
		}},
		{"closure insert fails", func(f *fixture) {
			f.repo.CreateClosureErr = errors.New("connection reset")
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			seedBusyDay(t, f)
			tc.setup(f)

			if _, err := f.svc.EndDay(context.Background(), staff, clinicID, time.Time{}); err == nil {
				t.Fatal("expected error")
			}

			for i := 1; i <= 5; i++ {
				if e := f.entry(t, fmt.Sprintf("w%d", i)); e.Status != domain.StatusWaiting {
					t.Fatalf("w%d: expected waiting after rollback, got %s", i, e.Status)
				}
			}
			if e := f.entry(t, "ip"); e.Status != domain.StatusInProgress {
				t.Fatalf("expected in_progress after rollback, got %s", e.Status)
			}
			if records := f.repo.Absences("a1"); !records[0].IsOpen() {
				t.Fatal("expected absence record to stay open")
			}
			if len(f.repo.Closures(clinicID)) != 0 {
				t.Fatal("expected no closure")
			}
			assertQueueInvariants(t, f)
		})
	}
}

func TestEndDay_BlocksMutations(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.seed("a", domain.StatusWaiting, 1)
	f.seed("b", domain.StatusWaiting, 2)
	if _, err := f.svc.EndDay(ctx, staff, clinicID, time.Time{}); err != nil {
		t.Fatal(err)
	}

	ops := map[string]func() error{
		"add": func() error {
			_, err := f.svc.AddToQueue(ctx, staff, clinicID, service.AddToQueueRequest{
				Patient: domain.PatientRef{GuestID: "g"}, AppointmentType: domain.AppointmentWalkIn,
			})
			return err
		},
		"call next": func() error {
			_, err := f.svc.CallNextPatient(ctx, staff, clinicID)
			return err
		},
		"complete": func() error {
			_, err := f.svc.CompleteAppointment(ctx, staff, clinicID, "a")
			return err
		},
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			if err := op(); !errors.Is(err, domain.ErrDayClosed) {
				t.Fatalf("expected ErrDayClosed, got %v", err)
			}
		})
	}
}

func TestEndDay_EmptyDay(t *testing.T) {
	f := newFixture()

	closure, err := f.svc.EndDay(context.Background(), domain.SystemCaller, clinicID, today)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if closure.Counts.Total() != 0 || closure.ClosedBy != "system" {
		t.Fatalf("unexpected closure: %+v", closure)
	}
}

func TestEndDay_FutureDay(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	tomorrow := today.AddDate(0, 0, 1)

	_, err := f.svc.EndDay(ctx, owner, clinicID, tomorrow)
	if !errors.Is(err, domain.ErrFutureDay) || !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrFutureDay, got %v", err)
	}
	if len(f.repo.Closures(clinicID)) != 0 {
		t.Fatal("expected no closure for a future day")
	}
	if len(f.pub.all()) != 0 {
		t.Fatal("expected no event on rejection")
	}

	f.clock.Advance(24 * time.Hour)
	f.add(t, "p1")

	if _, err := f.svc.EndDay(ctx, owner, clinicID, today); err != nil {
		t.Fatalf("closing a past day: %v", err)
	}
}

func TestReopenDay(t *testing.T) {
	tests := []struct {
		name    string
		caller  domain.Caller
		after   time.Duration
		reason  string
		wantErr error
	}{
		{"owner within window", owner, time.Hour, "closed too early", nil},
		{"system caller", domain.SystemCaller, time.Minute, "auto-close correction", nil},
		{"exactly at window end", owner, 2 * time.Hour, "late fix", nil},
		{"staff forbidden", staff, time.Minute, "please", domain.ErrNotClinicOwner},
		{"stranger forbidden", domain.Caller{StaffID: "x"}, time.Minute, "please", domain.ErrNotClinicStaff},
		{"window expired", owner, 2*time.Hour + time.Second, "too late", domain.ErrReopenWindowExpired},
		{"missing reason", owner, time.Minute, "  ", domain.ErrMissingReason},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			ctx := context.Background()
			seedBusyDay(t, f)
			closure, err := f.svc.EndDay(ctx, staff, clinicID, time.Time{})
			if err != nil {
				t.Fatal(err)
			}
			f.clock.Advance(tc.after)

			reopened, err := f.svc.ReopenDay(ctx, tc.caller, clinicID, closure.ID, tc.reason)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				stored, _ := f.repo.GetClosure(ctx, closure.ID)
				if !stored.IsActive() {
					t.Fatal("expected closure to stay active")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if reopened.IsActive() || *reopened.ReopenedBy != tc.caller.Actor() || *reopened.ReopenReason != tc.reason {
				t.Fatalf("unexpected reopened closure: %+v", reopened)
			}
			if _, ok := f.pub.last().(domain.DayReopenedEvent); !ok {
				t.Fatalf("expected DayReopenedEvent, got %T", f.pub.last())
			}

			// Statuses stay as closing left them; the queue accepts changes again.
			if e := f.entry(t, "w1"); e.Status != domain.StatusNoShow {
				t.Fatalf("expected w1 to stay no_show, got %s", e.Status)
			}
			e, err := f.svc.AddToQueue(ctx, staff, clinicID, service.AddToQueueRequest{
				Patient: domain.PatientRef{PatientID: "patient-w1"}, AppointmentType: domain.AppointmentWalkIn,
			})
			if err != nil {
				t.Fatalf("expected add after reopen to succeed, got %v", err)
			}
			if *e.Position != 1 {
				t.Fatalf("expected position 1 on a fully closed-out day, got %d", *e.Position)
			}
		})
	}
}

func TestReopenDay_Twice(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	closure, err := f.svc.EndDay(ctx, staff, clinicID, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.ReopenDay(ctx, owner, clinicID, closure.ID, "fix"); err != nil {
		t.Fatal(err)
	}

	_, err = f.svc.ReopenDay(ctx, owner, clinicID, closure.ID, "again")
	if !errors.Is(err, domain.ErrClosureAlreadyReopened) {
		t.Fatalf("expected ErrClosureAlreadyReopened, got %v", err)
	}

	// A reopened day can be closed again.
	second, err := f.svc.EndDay(ctx, staff, clinicID, time.Time{})
	if err != nil {
		t.Fatalf("expected second close after reopen, got %v", err)
	}
	if second.ID == closure.ID || len(f.repo.Closures(clinicID)) != 2 {
		t.Fatal("expected a new closure record")
	}
}

func TestReopenDay_OtherClinicClosure(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.dir.SetRole("clinic-2", ownerID, domain.RoleOwner)
	closure, err := f.svc.EndDay(ctx, owner, "clinic-2", time.Time{})
	if err != nil {
		t.Fatal(err)
	}

	_, err = f.svc.ReopenDay(ctx, owner, clinicID, closure.ID, "wrong clinic")
	if !errors.Is(err, domain.ErrClosureNotFound) {
		t.Fatalf("expected ErrClosureNotFound, got %v", err)
	}
}

func TestClinicsToClose(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.seed("a", domain.StatusWaiting, 1)
	f.dir.SetRole("clinic-2", staffID, domain.RoleStaff)
	f.repo.Seed(&domain.QueueEntry{ID: "b", ClinicID: "clinic-2", QueueDate: today, Status: domain.StatusCompleted})

	clinics, err := f.svc.ClinicsToClose(ctx, today)
	if err != nil {
		t.Fatal(err)
	}
	if len(clinics) != 1 || clinics[0] != clinicID {
		t.Fatalf("expected only %s, got %v", clinicID, clinics)
	}

	if _, err := f.svc.EndDay(ctx, domain.SystemCaller, clinicID, today); err != nil {
		t.Fatal(err)
	}
	clinics, _ = f.svc.ClinicsToClose(ctx, today)
	if len(clinics) != 0 {
		t.Fatalf("expected no clinics after closing, got %v", clinics)
	}
}
