package billing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rxledger/rxledger/internal/platform/apperr"
	"github.com/rxledger/rxledger/pkg/pagination"
	"github.com/rxledger/rxledger/pkg/period"
)

// In-memory repositories for tests and local runs. Row locks are not
// modelled; version checks still apply.

type MemoryInvoices struct {
	mu   sync.RWMutex
	data map[uuid.UUID]Invoice
}

func NewMemoryInvoices() *MemoryInvoices {
	return &MemoryInvoices{data: make(map[uuid.UUID]Invoice)}
}

func (m *MemoryInvoices) Create(_ context.Context, inv *Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.data {
		if existing.PrescriptionID == inv.PrescriptionID {
			return apperr.Conflict("prescription %s is already invoiced", inv.PrescriptionID)
		}
	}
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	inv.Version = 1
	inv.CreatedAt = time.Now().UTC()
	inv.UpdatedAt = inv.CreatedAt
	m.data[inv.ID] = *inv
	return nil
}

func (m *MemoryInvoices) GetByID(_ context.Context, id uuid.UUID) (*Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inv, ok := m.data[id]
	if !ok {
		return nil, apperr.NotFound("invoice", id)
	}
	return &inv, nil
}

func (m *MemoryInvoices) GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return m.GetByID(ctx, id)
}

func (m *MemoryInvoices) GetByPrescription(_ context.Context, prescriptionID uuid.UUID) (*Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, inv := range m.data {
		if inv.PrescriptionID == prescriptionID {
			return &inv, nil
		}
	}
	return nil, apperr.NotFound("invoice for prescription", prescriptionID)
}

func (m *MemoryInvoices) Update(_ context.Context, inv *Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.data[inv.ID]
	if !ok || cur.Version != inv.Version {
		return apperr.Conflict("invoice %s was modified concurrently", inv.ID)
	}
	inv.Version++
	inv.UpdatedAt = time.Now().UTC()
	m.data[inv.ID] = *inv
	return nil
}

func (m *MemoryInvoices) filter(keep func(*Invoice) bool) []*Invoice {
	var out []*Invoice
	for _, inv := range m.data {
		inv := inv
		if keep(&inv) {
			out = append(out, &inv)
		}
	}
	return out
}

func (m *MemoryInvoices) List(_ context.Context, f InvoiceFilter, limit, offset int) ([]*Invoice, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.filter(func(inv *Invoice) bool {
		if f.PatientID != nil && inv.PatientID != *f.PatientID {
			return false
		}
		if f.Status != "" && inv.Status != f.Status {
			return false
		}
		if f.From != nil && inv.InvoiceDate.Before(period.Date(*f.From)) {
			return false
		}
		if f.To != nil && inv.InvoiceDate.After(period.Date(*f.To)) {
			return false
		}
		return true
	})
	sort.Slice(all, func(i, j int) bool { return all[i].InvoiceDate.After(all[j].InvoiceDate) })
	return pagination.Page(all, pagination.Params{Limit: limit, Offset: offset}), len(all), nil
}

func (m *MemoryInvoices) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.filter(func(inv *Invoice) bool { return inv.PatientID == patientID })
	sort.Slice(out, func(i, j int) bool {
		if !out[i].InvoiceDate.Equal(out[j].InvoiceDate) {
			return out[i].InvoiceDate.After(out[j].InvoiceDate)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryInvoices) ListDated(_ context.Context, patientID *uuid.UUID, start, end time.Time) ([]*Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.filter(func(inv *Invoice) bool {
		return (patientID == nil || inv.PatientID == *patientID) && period.Contains(start, end, inv.InvoiceDate)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].InvoiceDate.Before(out[j].InvoiceDate) })
	return out, nil
}

func (m *MemoryInvoices) ListPastDue(_ context.Context, asOf time.Time) ([]*Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	day := period.Date(asOf)
	out := m.filter(func(inv *Invoice) bool {
		return (inv.Status == InvoicePending || inv.Status == InvoicePartial) &&
			inv.DueDate.Before(day) && inv.BalanceDue().IsPositive()
	})
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out, nil
}

func (m *MemoryInvoices) PatientsInvoiced(ctx context.Context, start, end time.Time) ([]uuid.UUID, error) {
	invs, err := m.ListDated(ctx, nil, start, end)
	if err != nil {
		return nil, err
	}
	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for _, inv := range invs {
		if !seen[inv.PatientID] {
			seen[inv.PatientID] = true
			out = append(out, inv.PatientID)
		}
	}
	return out, nil
}

type MemoryPayments struct {
	mu   sync.RWMutex
	data map[uuid.UUID]Payment
}

func NewMemoryPayments() *MemoryPayments {
	return &MemoryPayments{data: make(map[uuid.UUID]Payment)}
}

func (m *MemoryPayments) Create(_ context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ReversesID != nil {
		for _, existing := range m.data {
			if existing.ReversesID != nil && *existing.ReversesID == *p.ReversesID {
				return apperr.Conflict("payment %s is already reversed", *p.ReversesID)
			}
		}
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.Version = 1
	p.CreatedAt = time.Now().UTC()
	m.data[p.ID] = *p
	return nil
}

func (m *MemoryPayments) GetByID(_ context.Context, id uuid.UUID) (*Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.data[id]
	if !ok {
		return nil, apperr.NotFound("payment", id)
	}
	return &p, nil
}

func (m *MemoryPayments) GetForUpdate(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return m.GetByID(ctx, id)
}

func (m *MemoryPayments) Touch(_ context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.data[p.ID]
	if !ok || cur.Version != p.Version {
		return apperr.Conflict("payment %s was modified concurrently", p.ID)
	}
	cur.Version++
	p.Version = cur.Version
	m.data[p.ID] = cur
	return nil
}

func (m *MemoryPayments) GetReversal(_ context.Context, id uuid.UUID) (*Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.data {
		if p.ReversesID != nil && *p.ReversesID == id {
			return &p, nil
		}
	}
	return nil, apperr.NotFound("payment reversal", id)
}

func (m *MemoryPayments) ListDated(_ context.Context, patientID uuid.UUID, start, end time.Time) ([]*Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Payment
	for _, p := range m.data {
		if p.PatientID == patientID && period.Contains(start, end, p.PaymentDate) {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PaymentDate.Before(out[j].PaymentDate) })
	return out, nil
}

func (m *MemoryPayments) PatientsPaying(_ context.Context, start, end time.Time) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for _, p := range m.data {
		if period.Contains(start, end, p.PaymentDate) && !seen[p.PatientID] {
			seen[p.PatientID] = true
			out = append(out, p.PatientID)
		}
	}
	return out, nil
}

type MemoryAllocations struct {
	mu   sync.RWMutex
	data []Allocation
}

func NewMemoryAllocations() *MemoryAllocations {
	return &MemoryAllocations{}
}

func (m *MemoryAllocations) Create(_ context.Context, a *Allocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.data {
		if existing.PaymentID == a.PaymentID && existing.InvoiceID == a.InvoiceID {
			return apperr.Conflict("payment %s is already allocated to invoice %s", a.PaymentID, a.InvoiceID)
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	m.data = append(m.data, *a)
	return nil
}

func (m *MemoryAllocations) Get(_ context.Context, paymentID, invoiceID uuid.UUID) (*Allocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.data {
		if a.PaymentID == paymentID && a.InvoiceID == invoiceID {
			return &a, nil
		}
	}
	return nil, apperr.NotFound("allocation", paymentID.String()+"/"+invoiceID.String())
}

func (m *MemoryAllocations) ListByPayment(_ context.Context, paymentID uuid.UUID) ([]*Allocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Allocation
	for _, a := range m.data {
		if a.PaymentID == paymentID {
			a := a
			out = append(out, &a)
		}
	}
	return out, nil
}

func (m *MemoryAllocations) SumByPayment(ctx context.Context, paymentID uuid.UUID) (decimal.Decimal, error) {
	list, _ := m.ListByPayment(ctx, paymentID)
	sum := decimal.Zero
	for _, a := range list {
		sum = sum.Add(a.Amount)
	}
	return sum, nil
}

func (m *MemoryAllocations) ListByInvoices(_ context.Context, invoiceIDs []uuid.UUID, appliedBy time.Time) ([]*Allocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	want := make(map[uuid.UUID]bool, len(invoiceIDs))
	for _, id := range invoiceIDs {
		want[id] = true
	}
	var out []*Allocation
	for _, a := range m.data {
		if want[a.InvoiceID] && !a.AppliedAt.After(appliedBy) {
			a := a
			out = append(out, &a)
		}
	}
	return out, nil
}

type MemoryAdjustments struct {
	mu   sync.RWMutex
	data []Adjustment
}

func NewMemoryAdjustments() *MemoryAdjustments {
	return &MemoryAdjustments{}
}

func (m *MemoryAdjustments) Create(_ context.Context, a *Adjustment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ClaimID != nil {
		for _, existing := range m.data {
			if existing.ClaimID != nil && *existing.ClaimID == *a.ClaimID {
				return apperr.Conflict("claim %s already adjusted invoice %s", *a.ClaimID, existing.InvoiceID)
			}
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = time.Now().UTC()
	m.data = append(m.data, *a)
	return nil
}

func (m *MemoryAdjustments) list(keep func(*Adjustment) bool) []*Adjustment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Adjustment
	for _, a := range m.data {
		a := a
		if keep(&a) {
			out = append(out, &a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AdjustmentDate.Before(out[j].AdjustmentDate) })
	return out
}

func (m *MemoryAdjustments) ListByInvoice(_ context.Context, invoiceID uuid.UUID) ([]*Adjustment, error) {
	return m.list(func(a *Adjustment) bool { return a.InvoiceID == invoiceID }), nil
}

func (m *MemoryAdjustments) ListDated(_ context.Context, patientID *uuid.UUID, start, end time.Time) ([]*Adjustment, error) {
	return m.list(func(a *Adjustment) bool {
		return (patientID == nil || a.PatientID == *patientID) && period.Contains(start, end, a.AdjustmentDate)
	}), nil
}

func (m *MemoryAdjustments) PatientsAdjusted(ctx context.Context, start, end time.Time) ([]uuid.UUID, error) {
	adjs, _ := m.ListDated(ctx, nil, start, end)
	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for _, a := range adjs {
		if !seen[a.PatientID] {
			seen[a.PatientID] = true
			out = append(out, a.PatientID)
		}
	}
	return out, nil
}
