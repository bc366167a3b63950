package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/domain"
)

var errNoTransaction = errors.New("clinic-day lock requires a transaction")

// MockAuditRepository is an in-memory AuditRepository.
type MockAuditRepository struct {
	mu      sync.RWMutex
	entries []*domain.AuditEntry

	AppendErr error
}

func NewMockAuditRepository() *MockAuditRepository {
	return &MockAuditRepository{}
}

func (m *MockAuditRepository) AppendAudit(_ context.Context, a *domain.AuditEntry) error {
	if m.AppendErr != nil {
		return m.AppendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *a
	m.entries = append(m.entries, &clone)
	return nil
}

func (m *MockAuditRepository) ListAudit(_ context.Context, clinicID string, from, to time.Time) ([]*domain.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.AuditEntry
	for _, a := range m.entries {
		if a.ClinicID == clinicID && !a.CreatedAt.Before(from) && a.CreatedAt.Before(to) {
			clone := *a
			result = append(result, &clone)
		}
	}
	return result, nil
}

// All returns every stored row in insertion order.
func (m *MockAuditRepository) All() []*domain.AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*domain.AuditEntry, len(m.entries))
	for i, a := range m.entries {
		clone := *a
		result[i] = &clone
	}
	return result
}

// MockBudgetRepository is an in-memory BudgetRepository.
type MockBudgetRepository struct {
	mu      sync.Mutex
	budgets map[string]*domain.NotificationBudget

	ConsumeErr error
}

func NewMockBudgetRepository() *MockBudgetRepository {
	return &MockBudgetRepository{budgets: make(map[string]*domain.NotificationBudget)}
}

func budgetKey(clinicID, period string) string { return clinicID + "/" + period }

func (m *MockBudgetRepository) ConsumeBudget(
	_ context.Context,
	clinicID, period string,
	defaultLimit int,
	resetAt time.Time,
) (*domain.NotificationBudget, bool, error) {
	if m.ConsumeErr != nil {
		return nil, false, m.ConsumeErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.budgets[budgetKey(clinicID, period)]
	if !ok {
		b = &domain.NotificationBudget{
			ClinicID: clinicID, Period: period, MonthlyLimit: defaultLimit, ResetAt: resetAt,
		}
		m.budgets[budgetKey(clinicID, period)] = b
	}
	if b.Sent >= b.MonthlyLimit {
		clone := *b
		return &clone, false, nil
	}
	b.Sent++
	clone := *b
	return &clone, true, nil
}

func (m *MockBudgetRepository) GetBudget(_ context.Context, clinicID, period string) (*domain.NotificationBudget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.budgets[budgetKey(clinicID, period)]
	if !ok {
		return nil, domain.ErrBudgetNotFound
	}
	clone := *b
	return &clone, nil
}

// SetBudget seeds a budget row.
func (m *MockBudgetRepository) SetBudget(b domain.NotificationBudget) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.budgets[budgetKey(b.ClinicID, b.Period)] = &b
}

// MockHistoryRepository is an in-memory HistoryRepository keyed by entry.
type MockHistoryRepository struct {
	mu     sync.Mutex
	visits map[string]*domain.VisitRecord
	order  []string

	AppendErr error
}

func NewMockHistoryRepository() *MockHistoryRepository {
	return &MockHistoryRepository{visits: make(map[string]*domain.VisitRecord)}
}

func (m *MockHistoryRepository) AppendVisit(_ context.Context, v *domain.VisitRecord) error {
	if m.AppendErr != nil {
		return m.AppendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.visits[v.EntryID]; exists {
		return nil
	}
	clone := *v
	m.visits[v.EntryID] = &clone
	m.order = append(m.order, v.EntryID)
	return nil
}

// Visits returns stored visits in insertion order.
func (m *MockHistoryRepository) Visits() []*domain.VisitRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*domain.VisitRecord, 0, len(m.order))
	for _, id := range m.order {
		clone := *m.visits[id]
		result = append(result, &clone)
	}
	return result
}

// MockClinicDirectory is an in-memory ClinicDirectory.
type MockClinicDirectory struct {
	mu        sync.RWMutex
	roles     map[string]domain.StaffRole
	languages map[string]string
	limits    map[string]int
	contacts  map[domain.PatientRef]domain.Contact

	RoleErr error
}

func NewMockClinicDirectory() *MockClinicDirectory {
	return &MockClinicDirectory{
		roles:     make(map[string]domain.StaffRole),
		languages: make(map[string]string),
		limits:    make(map[string]int),
		contacts:  make(map[domain.PatientRef]domain.Contact),
	}
}

func (m *MockClinicDirectory) SetRole(clinicID, staffID string, role domain.StaffRole) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[clinicID+"/"+staffID] = role
}

func (m *MockClinicDirectory) SetLanguage(clinicID, lang string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.languages[clinicID] = lang
}

func (m *MockClinicDirectory) SetMonthlyLimit(clinicID string, limit int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits[clinicID] = limit
}

func (m *MockClinicDirectory) SetContact(p domain.PatientRef, c domain.Contact) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contacts[p] = c
}

func (m *MockClinicDirectory) StaffRole(_ context.Context, clinicID, staffID string) (domain.StaffRole, error) {
	if m.RoleErr != nil {
		return domain.RoleNone, m.RoleErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.roles[clinicID+"/"+staffID], nil
}

func (m *MockClinicDirectory) ClinicLanguage(_ context.Context, clinicID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lang, ok := m.languages[clinicID]
	if !ok {
		return "", domain.ErrNotFound
	}
	return lang, nil
}

func (m *MockClinicDirectory) ClinicMonthlyLimit(_ context.Context, clinicID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	limit, ok := m.limits[clinicID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return limit, nil
}

func (m *MockClinicDirectory) PatientContact(_ context.Context, p domain.PatientRef) (*domain.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contacts[p]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

var (
	_ QueueRepository   = (*MockQueueRepository)(nil)
	_ AuditRepository   = (*MockAuditRepository)(nil)
	_ BudgetRepository  = (*MockBudgetRepository)(nil)
	_ HistoryRepository = (*MockHistoryRepository)(nil)
	_ ClinicDirectory   = (*MockClinicDirectory)(nil)
)
