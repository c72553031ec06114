package prescription

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rxledger/rxledger/internal/platform/apperr"
	"github.com/rxledger/rxledger/pkg/pagination"
)

// MemoryRepo is an in-memory Repository for tests and local runs.
type MemoryRepo struct {
	mu   sync.RWMutex
	data map[uuid.UUID]Prescription
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{data: make(map[uuid.UUID]Prescription)}
}

func (m *MemoryRepo) Create(_ context.Context, p *Prescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = time.Now().UTC()
	m.data[p.ID] = *p
	return nil
}

func (m *MemoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Prescription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.data[id]
	if !ok {
		return nil, apperr.NotFound("prescription", id)
	}
	return &p, nil
}

func (m *MemoryRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var all []*Prescription
	for _, p := range m.data {
		if p.PatientID == patientID {
			cp := p
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].FillDate.Equal(all[j].FillDate) {
			return all[i].FillDate.After(all[j].FillDate)
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	return pagination.Page(all, pagination.Params{Limit: limit, Offset: offset}), len(all), nil
}

func (m *MemoryRepo) MarkAdjudicated(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.data[id]
	if !ok {
		return apperr.NotFound("prescription", id)
	}
	if p.AdjudicatedAt != nil {
		return apperr.Conflict("prescription %s is already adjudicated", id)
	}
	p.AdjudicatedAt = &at
	m.data[id] = p
	return nil
}
