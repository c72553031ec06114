package claims

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rxledger/rxledger/internal/platform/apperr"
)

// MemoryRepo is an in-memory Repository for tests and local runs.
type MemoryRepo struct {
	mu     sync.RWMutex
	claims map[uuid.UUID]Claim
	adjs   map[uuid.UUID][]Adjudication
	seq    int
	order  map[uuid.UUID]int
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		claims: make(map[uuid.UUID]Claim),
		adjs:   make(map[uuid.UUID][]Adjudication),
		order:  make(map[uuid.UUID]int),
	}
}

func (m *MemoryRepo) Create(_ context.Context, c *Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ReversesID != nil {
		for _, existing := range m.claims {
			if existing.ReversesID != nil && *existing.ReversesID == *c.ReversesID {
				return apperr.Conflict("claim %s is already reversed", *c.ReversesID)
			}
		}
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt = time.Now().UTC()
	m.claims[c.ID] = *c
	m.seq++
	m.order[c.ID] = m.seq
	return nil
}

func (m *MemoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.claims[id]
	if !ok {
		return nil, apperr.NotFound("claim", id)
	}
	return &c, nil
}

func (m *MemoryRepo) ListByPrescription(_ context.Context, prescriptionID uuid.UUID) ([]*Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Claim
	for _, c := range m.claims {
		if c.PrescriptionID == prescriptionID {
			c := c
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return m.order[out[i].ID] < m.order[out[j].ID] })
	return out, nil
}

func (m *MemoryRepo) GetReversal(_ context.Context, id uuid.UUID) (*Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.claims {
		if c.ReversesID != nil && *c.ReversesID == id {
			return &c, nil
		}
	}
	return nil, apperr.NotFound("claim reversal", id)
}

func (m *MemoryRepo) CreateAdjudication(_ context.Context, a *Adjudication) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.claims[a.ClaimID]; !ok {
		return apperr.NotFound("claim", a.ClaimID)
	}
	for _, existing := range m.adjs[a.ClaimID] {
		if existing.Attempt == a.Attempt {
			return apperr.Conflict("claim %s already has attempt %d", a.ClaimID, a.Attempt)
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	m.adjs[a.ClaimID] = append(m.adjs[a.ClaimID], *a)
	return nil
}

func (m *MemoryRepo) ListAdjudications(_ context.Context, claimID uuid.UUID) ([]*Adjudication, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Adjudication
	for _, a := range m.adjs[claimID] {
		a := a
		out = append(out, &a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Attempt < out[j].Attempt })
	return out, nil
}
