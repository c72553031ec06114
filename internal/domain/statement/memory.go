package statement

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rxledger/rxledger/internal/platform/apperr"
	"github.com/rxledger/rxledger/pkg/pagination"
)

// MemoryMonthly is an in-memory MonthlyRepository for tests and local runs.
type MemoryMonthly struct {
	mu   sync.RWMutex
	data []Monthly
}

func NewMemoryMonthly() *MemoryMonthly { return &MemoryMonthly{} }

func (m *MemoryMonthly) Create(_ context.Context, s *Monthly) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.data {
		if existing.PatientID == s.PatientID && existing.PeriodStart.Equal(s.PeriodStart) && existing.PeriodEnd.Equal(s.PeriodEnd) {
			return apperr.Conflict("monthly statement for patient %s already exists", s.PatientID)
		}
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	m.data = append(m.data, *s)
	return nil
}

func (m *MemoryMonthly) Get(_ context.Context, patientID uuid.UUID, start, end time.Time) (*Monthly, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.data {
		if s.PatientID == patientID && s.PeriodStart.Equal(start) && s.PeriodEnd.Equal(end) {
			return &s, nil
		}
	}
	return nil, apperr.NotFound("monthly statement", patientID)
}

func (m *MemoryMonthly) LatestBefore(_ context.Context, patientID uuid.UUID, start time.Time) (*Monthly, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *Monthly
	for _, s := range m.data {
		if s.PatientID != patientID || !s.PeriodEnd.Before(start) {
			continue
		}
		if latest == nil || s.PeriodEnd.After(latest.PeriodEnd) {
			s := s
			latest = &s
		}
	}
	return latest, nil
}

func (m *MemoryMonthly) DeletePeriod(_ context.Context, patientID uuid.UUID, start, end time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.data[:0]
	for _, s := range m.data {
		if s.PatientID == patientID && s.PeriodStart.Equal(start) && s.PeriodEnd.Equal(end) {
			continue
		}
		kept = append(kept, s)
	}
	m.data = kept
	return nil
}

func (m *MemoryMonthly) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*Monthly, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Monthly
	for _, s := range m.data {
		if s.PatientID == patientID {
			s := s
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodStart.After(out[j].PeriodStart) })
	return out, nil
}

func (m *MemoryMonthly) PatientsWithBalance(ctx context.Context, start time.Time) ([]uuid.UUID, error) {
	m.mu.RLock()
	patients := make(map[uuid.UUID]bool)
	for _, s := range m.data {
		patients[s.PatientID] = true
	}
	m.mu.RUnlock()

	var out []uuid.UUID
	for id := range patients {
		latest, _ := m.LatestBefore(ctx, id, start)
		if latest != nil && !latest.ClosingBalance.IsZero() {
			out = append(out, id)
		}
	}
	return out, nil
}

// MemoryFinancial is an in-memory FinancialRepository.
type MemoryFinancial struct {
	mu   sync.RWMutex
	data []Financial
}

func NewMemoryFinancial() *MemoryFinancial { return &MemoryFinancial{} }

func (m *MemoryFinancial) Create(_ context.Context, s *Financial) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.data {
		if existing.PeriodStart.Equal(s.PeriodStart) && existing.PeriodEnd.Equal(s.PeriodEnd) {
			return apperr.Conflict("financial statement for the period already exists")
		}
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	m.data = append(m.data, *s)
	return nil
}

func (m *MemoryFinancial) Get(_ context.Context, start, end time.Time) (*Financial, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.data {
		if s.PeriodStart.Equal(start) && s.PeriodEnd.Equal(end) {
			return &s, nil
		}
	}
	return nil, apperr.NotFound("financial statement", start.Format("2006-01-02"))
}

func (m *MemoryFinancial) DeletePeriod(_ context.Context, start, end time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.data[:0]
	for _, s := range m.data {
		if s.PeriodStart.Equal(start) && s.PeriodEnd.Equal(end) {
			continue
		}
		kept = append(kept, s)
	}
	m.data = kept
	return nil
}

func (m *MemoryFinancial) List(_ context.Context, from, to time.Time, limit, offset int) ([]*Financial, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var all []*Financial
	for _, s := range m.data {
		if !from.IsZero() && s.PeriodEnd.Before(from) {
			continue
		}
		if !to.IsZero() && s.PeriodStart.After(to) {
			continue
		}
		s := s
		all = append(all, &s)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].PeriodStart.Equal(all[j].PeriodStart) {
			return all[i].PeriodStart.After(all[j].PeriodStart)
		}
		return all[i].PeriodEnd.After(all[j].PeriodEnd)
	})
	return pagination.Page(all, pagination.Params{Limit: limit, Offset: offset}), len(all), nil
}
