package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/domain"
)

type mockTxKey struct{}

// MockQueueRepository is a hand-written, in-memory implementation of
// QueueRepository used in unit tests. No mock-generation library needed.
//
// RunInTransaction serialises transactions and restores a snapshot of all
// rows when fn fails, so tests observe all-or-nothing behaviour.
type MockQueueRepository struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	entries  map[string]*domain.QueueEntry
	absences map[string]*domain.AbsenceRecord
	closures map[string]*domain.DayClosure

	// Optional error overrides. Set in tests to simulate failure paths.
	LockErr          error
	CreateErr        error
	CreateClosureErr error
	// UpdateHook runs before every UpdateQueueEntry; a non-nil return aborts
	// the update with that error.
	UpdateHook func(id string, patch domain.EntryPatch) error

	// Now stamps UpdatedAt on patched entries.
	Now func() time.Time

	LockCalls int
}

func NewMockQueueRepository() *MockQueueRepository {
	return &MockQueueRepository{
		entries:  make(map[string]*domain.QueueEntry),
		absences: make(map[string]*domain.AbsenceRecord),
		closures: make(map[string]*domain.DayClosure),
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *MockQueueRepository) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(mockTxKey{}) != nil {
		return fn(ctx)
	}

	m.txMu.Lock()
	defer m.txMu.Unlock()

	snapshot := m.snapshot()
	if err := fn(context.WithValue(ctx, mockTxKey{}, true)); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

func (m *MockQueueRepository) LockClinicDay(ctx context.Context, _ string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LockCalls++
	if m.LockErr != nil {
		return m.LockErr
	}
	if ctx.Value(mockTxKey{}) == nil {
		return errNoTransaction
	}
	return nil
}

func (m *MockQueueRepository) GetQueueByDate(_ context.Context, clinicID string, day time.Time) ([]*domain.QueueEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.QueueEntry
	for _, e := range m.entries {
		if e.ClinicID == clinicID && e.QueueDate.Equal(day) {
			result = append(result, e.Clone())
		}
	}
	domain.SortQueue(result)
	return result, nil
}

func (m *MockQueueRepository) GetQueueEntry(_ context.Context, id string) (*domain.QueueEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, domain.ErrEntryNotFound
	}
	return e.Clone(), nil
}

func (m *MockQueueRepository) CreateQueueEntry(_ context.Context, e *domain.QueueEntry) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.entries {
		if existing.ClinicID == e.ClinicID && existing.QueueDate.Equal(e.QueueDate) &&
			existing.Status.IsActive() && existing.Patient == e.Patient {
			return domain.ErrDuplicateActiveEntry
		}
	}
	m.entries[e.ID] = e.Clone()
	return nil
}

func (m *MockQueueRepository) UpdateQueueEntry(_ context.Context, id string, patch domain.EntryPatch) (*domain.QueueEntry, error) {
	if m.UpdateHook != nil {
		if err := m.UpdateHook(id, patch); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, domain.ErrEntryNotFound
	}
	e.Apply(patch, m.Now())
	return e.Clone(), nil
}

func (m *MockQueueRepository) GetOpenAbsence(_ context.Context, entryID string) (*domain.AbsenceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.absences {
		if a.EntryID == entryID && a.IsOpen() {
			clone := *a
			return &clone, nil
		}
	}
	return nil, domain.ErrAbsenceNotFound
}

func (m *MockQueueRepository) CreateAbsenceRecord(_ context.Context, a *domain.AbsenceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *a
	m.absences[a.ID] = &clone
	return nil
}

func (m *MockQueueRepository) CloseAbsenceRecord(_ context.Context, id string, c domain.AbsenceClosure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.absences[id]
	if !ok || !a.IsOpen() {
		return domain.ErrAbsenceNotFound
	}
	at := c.At
	a.ClosedAt = &at
	a.Resolution = c.Resolution
	if c.Resolution == domain.AbsenceReturned {
		a.ReturnedAt = &at
	}
	return nil
}

func (m *MockQueueRepository) GetActiveClosure(_ context.Context, clinicID string, day time.Time) (*domain.DayClosure, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.closures {
		if c.ClinicID == clinicID && c.Day.Equal(day) && c.IsActive() {
			clone := *c
			return &clone, nil
		}
	}
	return nil, domain.ErrClosureNotFound
}

func (m *MockQueueRepository) GetClosure(_ context.Context, id string) (*domain.DayClosure, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.closures[id]
	if !ok {
		return nil, domain.ErrClosureNotFound
	}
	clone := *c
	return &clone, nil
}

func (m *MockQueueRepository) CreateDayClosure(_ context.Context, c *domain.DayClosure) error {
	if m.CreateClosureErr != nil {
		return m.CreateClosureErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.closures {
		if existing.ClinicID == c.ClinicID && existing.Day.Equal(c.Day) && existing.IsActive() {
			return domain.ErrDayAlreadyClosed
		}
	}
	clone := *c
	m.closures[c.ID] = &clone
	return nil
}

func (m *MockQueueRepository) MarkClosureReopened(_ context.Context, id, reopenedBy, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.closures[id]
	if !ok {
		return domain.ErrClosureNotFound
	}
	if !c.IsActive() {
		return domain.ErrClosureAlreadyReopened
	}
	c.ReopenedAt = &at
	c.ReopenedBy = &reopenedBy
	c.ReopenReason = &reason
	return nil
}

func (m *MockQueueRepository) ListClinicsWithOpenDay(_ context.Context, day time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]bool)
	for _, e := range m.entries {
		if e.QueueDate.Equal(day) && e.Status.IsActive() {
			seen[e.ClinicID] = true
		}
	}
	for _, c := range m.closures {
		if c.Day.Equal(day) && c.IsActive() {
			delete(seen, c.ClinicID)
		}
	}
	clinics := make([]string, 0, len(seen))
	for id := range seen {
		clinics = append(clinics, id)
	}
	sort.Strings(clinics)
	return clinics, nil
}

// ---- test helpers ----

// Seed stores e as is, bypassing duplicate checks.
func (m *MockQueueRepository) Seed(e *domain.QueueEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.ID] = e.Clone()
}

// Absences returns every absence record of an entry.
func (m *MockQueueRepository) Absences(entryID string) []*domain.AbsenceRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.AbsenceRecord
	for _, a := range m.absences {
		if a.EntryID == entryID {
			clone := *a
			result = append(result, &clone)
		}
	}
	return result
}

// Closures returns every closure of a clinic.
func (m *MockQueueRepository) Closures(clinicID string) []*domain.DayClosure {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.DayClosure
	for _, c := range m.closures {
		if c.ClinicID == clinicID {
			clone := *c
			result = append(result, &clone)
		}
	}
	return result
}

type mockSnapshot struct {
	entries  map[string]*domain.QueueEntry
	absences map[string]domain.AbsenceRecord
	closures map[string]domain.DayClosure
}

func (m *MockQueueRepository) snapshot() mockSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := mockSnapshot{
		entries:  make(map[string]*domain.QueueEntry, len(m.entries)),
		absences: make(map[string]domain.AbsenceRecord, len(m.absences)),
		closures: make(map[string]domain.DayClosure, len(m.closures)),
	}
	for id, e := range m.entries {
		s.entries[id] = e.Clone()
	}
	for id, a := range m.absences {
		s.absences[id] = *a
	}
	for id, c := range m.closures {
		s.closures[id] = *c
	}
	return s
}

func (m *MockQueueRepository) restore(s mockSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = s.entries
	m.absences = make(map[string]*domain.AbsenceRecord, len(s.absences))
	for id, a := range s.absences {
		a := a
		m.absences[id] = &a
	}
	m.closures = make(map[string]*domain.DayClosure, len(s.closures))
	for id, c := range s.closures {
		c := c
		m.closures[id] = &c
	}
}
