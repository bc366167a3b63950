package history_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/domain"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/history"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/repository"
)

var checkIn = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func completedEntry(id string, called *time.Time, done time.Time) *domain.QueueEntry {
	return &domain.QueueEntry{
		ID:              id,
		ClinicID:        "clinic-1",
		Patient:         domain.PatientRef{GuestID: "g-" + id},
		AppointmentType: domain.AppointmentScheduled,
		Status:          domain.StatusCompleted,
		CheckedInAt:     checkIn,
		CalledAt:        called,
		CompletedAt:     &done,
	}
}

func TestVisit(t *testing.T) {
	tests := []struct {
		name        string
		entry       *domain.QueueEntry
		ok          bool
		wantWait    int64
		wantService int64
	}{
		{"called then completed", completedEntry("a", domain.TimePtr(checkIn.Add(15*time.Minute)), checkIn.Add(35*time.Minute)), true, 900, 1200},
		{"completed without call", completedEntry("b", nil, checkIn.Add(5*time.Minute)), true, 300, 0},
		{"not completed", &domain.QueueEntry{ID: "c", Status: domain.StatusNoShow}, false, 0, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v, ok := history.Visit(tc.entry)
			if ok != tc.ok {
				t.Fatalf("expected ok=%v, got %v", tc.ok, ok)
			}
			if !ok {
				return
			}
			if v.WaitSeconds != tc.wantWait || v.ServiceSeconds != tc.wantService {
				t.Fatalf("expected wait=%d service=%d, got %d %d", tc.wantWait, tc.wantService, v.WaitSeconds, v.ServiceSeconds)
			}
			if v.EntryID != tc.entry.ID || v.Patient != tc.entry.Patient {
				t.Fatalf("unexpected visit: %+v", v)
			}
		})
	}
}

func TestRecorder_Handle(t *testing.T) {
	repo := repository.NewMockHistoryRepository()
	writes := 0
	r := history.NewRecorder(repo, zap.NewNop(), func() { writes++ })
	ctx := context.Background()
	called := domain.TimePtr(checkIn.Add(time.Minute))

	completed := domain.AppointmentStatusChangedEvent{
		Entry:     completedEntry("a", called, checkIn.Add(10*time.Minute)),
		OldStatus: domain.StatusInProgress,
		NewStatus: domain.StatusCompleted,
	}
	closed := domain.DayClosedEvent{
		Transitions: []domain.EntryTransition{
			{Entry: &domain.QueueEntry{ID: "b", Status: domain.StatusNoShow}},
			{Entry: completedEntry("c", called, checkIn.Add(time.Hour))},
		},
	}

	for _, e := range []domain.Event{completed, closed, completed} {
		if err := r.Handle(ctx, e); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	visits := repo.Visits()
	if len(visits) != 2 || visits[0].EntryID != "a" || visits[1].EntryID != "c" {
		t.Fatalf("expected visits for a and c once each, got %+v", visits)
	}
	if writes != 3 {
		t.Fatalf("expected 3 write attempts reported, got %d", writes)
	}
}
