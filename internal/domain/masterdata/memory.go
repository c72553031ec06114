package masterdata

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rxledger/rxledger/internal/platform/apperr"
	"github.com/rxledger/rxledger/pkg/pagination"
)

// In-memory repositories for tests and local runs. Stored values are copied
// on the way in and out.

type MemoryPatients struct {
	mu   sync.RWMutex
	data map[uuid.UUID]Patient
}

func NewMemoryPatients() *MemoryPatients {
	return &MemoryPatients{data: make(map[uuid.UUID]Patient)}
}

func (m *MemoryPatients) Create(_ context.Context, p *Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	m.data[p.ID] = *p
	return nil
}

func (m *MemoryPatients) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.data[id]
	if !ok {
		return nil, apperr.NotFound("patient", id)
	}
	return &p, nil
}

func (m *MemoryPatients) List(_ context.Context, limit, offset int) ([]*Patient, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := make([]*Patient, 0, len(m.data))
	for _, p := range m.data {
		p := p
		all = append(all, &p)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].LastName != all[j].LastName {
			return all[i].LastName < all[j].LastName
		}
		if all[i].FirstName != all[j].FirstName {
			return all[i].FirstName < all[j].FirstName
		}
		return all[i].ID.String() < all[j].ID.String()
	})
	return pagination.Page(all, pagination.Params{Limit: limit, Offset: offset}), len(all), nil
}

type MemoryDrugs struct {
	mu    sync.RWMutex
	drugs map[uuid.UUID]Drug
	packs map[uuid.UUID]DrugPack
}

func NewMemoryDrugs() *MemoryDrugs {
	return &MemoryDrugs{drugs: make(map[uuid.UUID]Drug), packs: make(map[uuid.UUID]DrugPack)}
}

func (m *MemoryDrugs) CreateDrug(_ context.Context, d *Drug) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	d.CreatedAt = time.Now().UTC()
	m.drugs[d.ID] = *d
	return nil
}

func (m *MemoryDrugs) GetDrug(_ context.Context, id uuid.UUID) (*Drug, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drugs[id]
	if !ok {
		return nil, apperr.NotFound("drug", id)
	}
	return &d, nil
}

func (m *MemoryDrugs) CreatePack(_ context.Context, p *DrugPack) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = time.Now().UTC()
	m.packs[p.ID] = *p
	return nil
}

func (m *MemoryDrugs) GetPack(_ context.Context, id uuid.UUID) (*DrugPack, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.packs[id]
	if !ok {
		return nil, apperr.NotFound("drug pack", id)
	}
	return &p, nil
}

func (m *MemoryDrugs) ListPacks(_ context.Context, drugID uuid.UUID) ([]*DrugPack, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*DrugPack
	for _, p := range m.packs {
		if p.DrugID == drugID {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type MemoryPlans struct {
	mu       sync.RWMutex
	plans    map[uuid.UUID]BenefitPlan
	subPlans map[uuid.UUID]SubPlan
}

func NewMemoryPlans() *MemoryPlans {
	return &MemoryPlans{plans: make(map[uuid.UUID]BenefitPlan), subPlans: make(map[uuid.UUID]SubPlan)}
}

func (m *MemoryPlans) CreatePlan(_ context.Context, p *BenefitPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.plans {
		if existing.Code == p.Code {
			return apperr.Conflict("benefit plan code %s already exists", p.Code)
		}
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = time.Now().UTC()
	m.plans[p.ID] = *p
	return nil
}

func (m *MemoryPlans) GetPlan(_ context.Context, id uuid.UUID) (*BenefitPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plans[id]
	if !ok {
		return nil, apperr.NotFound("benefit plan", id)
	}
	return &p, nil
}

func (m *MemoryPlans) CreateSubPlan(_ context.Context, sp *SubPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sp.ID == uuid.Nil {
		sp.ID = uuid.New()
	}
	sp.CreatedAt = time.Now().UTC()
	m.subPlans[sp.ID] = *sp
	return nil
}

func (m *MemoryPlans) GetSubPlan(_ context.Context, id uuid.UUID) (*SubPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sp, ok := m.subPlans[id]
	if !ok {
		return nil, apperr.NotFound("sub plan", id)
	}
	return &sp, nil
}

func (m *MemoryPlans) ListSubPlans(_ context.Context, planID uuid.UUID) ([]*SubPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*SubPlan
	for _, sp := range m.subPlans {
		if sp.PlanID == planID {
			sp := sp
			out = append(out, &sp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

type MemoryEnrollments struct {
	mu   sync.RWMutex
	data map[uuid.UUID]Enrollment
}

func NewMemoryEnrollments() *MemoryEnrollments {
	return &MemoryEnrollments{data: make(map[uuid.UUID]Enrollment)}
}

func (m *MemoryEnrollments) Create(_ context.Context, e *Enrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.CreatedAt = time.Now().UTC()
	m.data[e.ID] = *e
	return nil
}

func (m *MemoryEnrollments) GetByID(_ context.Context, id uuid.UUID) (*Enrollment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.data[id]
	if !ok {
		return nil, apperr.NotFound("enrollment", id)
	}
	return &e, nil
}

func (m *MemoryEnrollments) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*Enrollment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Enrollment
	for _, e := range m.data {
		if e.PatientID == patientID {
			e := e
			out = append(out, &e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Sequence != out[j].Sequence {
			return out[i].Sequence < out[j].Sequence
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
