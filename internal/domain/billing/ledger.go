package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/rxledger/rxledger/internal/platform/apperr"
	"github.com/rxledger/rxledger/internal/platform/db"
	"github.com/rxledger/rxledger/internal/platform/events"
	"github.com/rxledger/rxledger/pkg/money"
	"github.com/rxledger/rxledger/pkg/period"
)

// Ledger records invoices, payments and their allocations. Every mutation
// runs in one transaction with the touched invoice and payment rows locked.
type Ledger struct {
	invoices    InvoiceRepository
	payments    PaymentRepository
	allocations AllocationRepository
	adjustments AdjustmentRepository
	tx          db.Transactor
	publisher   events.Publisher
	logger      zerolog.Logger
	now         func() time.Time
}

func NewLedger(inv InvoiceRepository, pay PaymentRepository, alloc AllocationRepository, adj AdjustmentRepository,
	tx db.Transactor, pub events.Publisher, logger zerolog.Logger) *Ledger {
	if pub == nil {
		pub = events.Nop
	}
	return &Ledger{
		invoices:    inv,
		payments:    pay,
		allocations: alloc,
		adjustments: adj,
		tx:          tx,
		publisher:   pub,
		logger:      logger,
		now:         time.Now,
	}
}

func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

func (l *Ledger) emit(ctx context.Context, evts ...events.Event) {
	if err := events.Emit(ctx, l.publisher, evts...); err != nil {
		l.logger.Warn().Err(err).Msg("failed to publish ledger events")
	}
}

func (l *Ledger) event(ctx context.Context, typ string, payload interface{}) events.Event {
	return events.New(typ, db.TenantFromContext(ctx), l.now().UTC(), payload)
}

// -- Invoices --

// CreateInvoice stores a built invoice. A prescription is invoiced once.
func (l *Ledger) CreateInvoice(ctx context.Context, inv *Invoice) error {
	if err := l.invoices.Create(ctx, inv); err != nil {
		return err
	}
	l.emit(ctx, l.event(ctx, events.InvoiceCreated, inv))
	return nil
}

func (l *Ledger) GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return l.invoices.GetByID(ctx, id)
}

func (l *Ledger) InvoiceForPrescription(ctx context.Context, prescriptionID uuid.UUID) (*Invoice, error) {
	return l.invoices.GetByPrescription(ctx, prescriptionID)
}

func (l *Ledger) ListInvoices(ctx context.Context, f InvoiceFilter, limit, offset int) ([]*Invoice, int, error) {
	return l.invoices.List(ctx, f, limit, offset)
}

// AccountStatement lists what the patient owes on each invoice: the patient
// share after adjustments minus the allocations applied to it, reversals
// included.
func (l *Ledger) AccountStatement(ctx context.Context, patientID uuid.UUID) (*AccountStatement, error) {
	now := l.now().UTC()
	invs, err := l.invoices.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(invs))
	for _, inv := range invs {
		ids = append(ids, inv.ID)
	}
	allocs, err := l.allocations.ListByInvoices(ctx, ids, now)
	if err != nil {
		return nil, err
	}
	paid := make(map[uuid.UUID]decimal.Decimal, len(invs))
	for _, a := range allocs {
		paid[a.InvoiceID] = paid[a.InvoiceID].Add(a.Amount)
	}

	stmt := &AccountStatement{PatientID: patientID, AsOf: now, Lines: make([]AccountLine, 0, len(invs))}
	for _, inv := range invs {
		line := AccountLine{
			InvoiceID:      inv.ID,
			PrescriptionID: inv.PrescriptionID,
			InvoiceDate:    inv.InvoiceDate,
			Status:         inv.Status,
			PatientOwes:    inv.PatientOwes(),
			Paid:           paid[inv.ID],
		}
		line.Balance = line.PatientOwes.Sub(line.Paid)
		if !line.Balance.Equal(inv.BalanceDue()) {
			return nil, apperr.DataInconsistency("invoice %s allocations sum to %s but amount paid is %s", inv.ID, line.Paid, inv.AmountPaid)
		}
		stmt.Lines = append(stmt.Lines, line)
		stmt.TotalBalance = stmt.TotalBalance.Add(line.Balance)
	}
	return stmt, nil
}

// MarkOverdue flags every unsettled invoice whose due date is before asOf.
func (l *Ledger) MarkOverdue(ctx context.Context, asOf time.Time) ([]*Invoice, error) {
	var marked []*Invoice
	err := l.tx.InTx(ctx, func(ctx context.Context) error {
		due, err := l.invoices.ListPastDue(ctx, period.Date(asOf))
		if err != nil {
			return err
		}
		for _, candidate := range due {
			inv, err := l.invoices.GetForUpdate(ctx, candidate.ID)
			if err != nil {
				return err
			}
			if inv.Settled() || inv.Status == InvoiceOverdue {
				continue
			}
			inv.Status = InvoiceOverdue
			if err := l.invoices.Update(ctx, inv); err != nil {
				return err
			}
			marked = append(marked, inv)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	evts := make([]events.Event, 0, len(marked))
	for _, inv := range marked {
		evts = append(evts, l.event(ctx, events.InvoiceOverdue, inv))
	}
	l.emit(ctx, evts...)
	l.logger.Info().Int("count", len(marked)).Time("as_of", asOf).Msg("invoices marked overdue")
	return marked, nil
}

// ApplyClaimReversal records that a paid claim of amount was reversed: the
// prescription's invoice gets an adjustment dated today moving amount from
// the insurers to the patient. The invoice's issued split is left as is.
func (l *Ledger) ApplyClaimReversal(ctx context.Context, prescriptionID, claimID uuid.UUID, amount decimal.Decimal) (*Invoice, *Adjustment, error) {
	if !amount.IsPositive() {
		return nil, nil, apperr.InvalidAmount("reversed claim amount must be positive, got %s", amount)
	}
	var (
		inv *Invoice
		adj *Adjustment
	)
	err := l.tx.InTx(ctx, func(ctx context.Context) error {
		found, err := l.invoices.GetByPrescription(ctx, prescriptionID)
		if err != nil {
			return err
		}
		if inv, err = l.invoices.GetForUpdate(ctx, found.ID); err != nil {
			return err
		}
		if net := inv.NetInsurance(); amount.GreaterThan(net) {
			return apperr.DataInconsistency("invoice %s has %s insurance coverage left, cannot reverse %s", inv.ID, net, amount)
		}

		adj = &Adjustment{
			InvoiceID:      inv.ID,
			PatientID:      inv.PatientID,
			ClaimID:        &claimID,
			Amount:         amount,
			AdjustmentDate: period.Date(l.now()),
			Reason:         "claim reversed",
		}
		inv.Adjustments = inv.Adjustments.Add(amount)
		inv.refreshStatus(l.now())
		if err := l.invoices.Update(ctx, inv); err != nil {
			return err
		}
		return l.adjustments.Create(ctx, adj)
	})
	if err != nil {
		return nil, nil, err
	}
	l.emit(ctx, l.event(ctx, events.InvoiceAdjusted, adj))
	l.logger.Info().
		Str("invoice_id", inv.ID.String()).
		Str("claim_id", claimID.String()).
		Str("amount", amount.StringFixed(2)).
		Msg("invoice adjusted for claim reversal")
	return inv, adj, nil
}

func (l *Ledger) ListAdjustments(ctx context.Context, invoiceID uuid.UUID) ([]*Adjustment, error) {
	if _, err := l.invoices.GetByID(ctx, invoiceID); err != nil {
		return nil, err
	}
	return l.adjustments.ListByInvoice(ctx, invoiceID)
}

// -- Payments --

// RecordPaymentRequest describes money received. When InvoiceID is set the
// payment is applied to that invoice immediately, up to its balance.
type RecordPaymentRequest struct {
	PatientID   uuid.UUID
	Amount      decimal.Decimal
	Method      string
	PaymentDate *time.Time
	Reference   *string
	InvoiceID   *uuid.UUID
}

// RecordPayment stores a payment and, optionally, its first allocation.
func (l *Ledger) RecordPayment(ctx context.Context, req RecordPaymentRequest) (*Payment, *Allocation, error) {
	if !req.Amount.IsPositive() {
		return nil, nil, apperr.InvalidAmount("payment amount must be positive, got %s", req.Amount)
	}
	if !money.IsCents(req.Amount) {
		return nil, nil, apperr.InvalidAmount("payment amount %s has fractional cents", req.Amount)
	}
	if !validMethod(req.Method) {
		return nil, nil, apperr.InvalidInput("unknown payment method %q", req.Method)
	}
	payDate := period.Date(l.now())
	if req.PaymentDate != nil {
		payDate = period.Date(*req.PaymentDate)
	}

	var (
		p     *Payment
		alloc *Allocation
		inv   *Invoice
	)
	err := l.tx.InTx(ctx, func(ctx context.Context) error {
		if req.InvoiceID != nil {
			var err error
			if inv, err = l.invoices.GetForUpdate(ctx, *req.InvoiceID); err != nil {
				return err
			}
			if inv.PatientID != req.PatientID {
				return apperr.InvalidInput("invoice %s does not belong to patient %s", inv.ID, req.PatientID)
			}
		}

		p = &Payment{
			PatientID:   req.PatientID,
			Amount:      req.Amount,
			Method:      req.Method,
			PaymentDate: payDate,
			Reference:   req.Reference,
		}
		if err := l.payments.Create(ctx, p); err != nil {
			return err
		}

		if inv == nil {
			return nil
		}
		amount := money.Min(p.Amount, inv.BalanceDue())
		if !amount.IsPositive() {
			return nil
		}
		var err error
		alloc, err = l.apply(ctx, p, inv, amount)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	evts := []events.Event{l.event(ctx, events.PaymentRecorded, p)}
	if alloc != nil {
		evts = append(evts, l.event(ctx, events.PaymentAllocated, alloc))
	}
	l.emit(ctx, evts...)
	return p, alloc, nil
}

// AllocatePayment applies amount of paymentID to invoiceID. Repeating an
// identical allocation returns the existing one with created false.
func (l *Ledger) AllocatePayment(ctx context.Context, paymentID, invoiceID uuid.UUID, amount decimal.Decimal) (*Allocation, bool, error) {
	if !amount.IsPositive() || !money.IsCents(amount) {
		return nil, false, apperr.InvalidAmount("allocation amount must be a positive amount in cents, got %s", amount)
	}

	var (
		alloc   *Allocation
		created bool
	)
	err := l.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := l.payments.GetForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.IsReversal() {
			return apperr.InvalidInput("payment %s is a reversal and cannot be allocated", p.ID)
		}
		if _, err := l.payments.GetReversal(ctx, p.ID); err == nil {
			return apperr.InvalidInput("payment %s has been reversed", p.ID)
		} else if !errors.Is(err, apperr.ErrNotFound) {
			return err
		}

		existing, err := l.allocations.Get(ctx, paymentID, invoiceID)
		switch {
		case err == nil:
			if existing.Amount.Equal(amount) {
				alloc = existing
				return nil
			}
			return apperr.Conflict("payment %s is already allocated %s to invoice %s", paymentID, existing.Amount, invoiceID)
		case !errors.Is(err, apperr.ErrNotFound):
			return err
		}

		inv, err := l.invoices.GetForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.PatientID != p.PatientID {
			return apperr.InvalidInput("invoice %s does not belong to the payer of payment %s", inv.ID, p.ID)
		}
		allocated, err := l.allocations.SumByPayment(ctx, p.ID)
		if err != nil {
			return err
		}
		if unallocated := p.Amount.Sub(allocated); amount.GreaterThan(unallocated) {
			return apperr.OverAllocation("payment %s has %s unallocated, requested %s", p.ID, unallocated, amount)
		}
		if balance := inv.BalanceDue(); amount.GreaterThan(balance) {
			return apperr.OverAllocation("invoice %s has %s due, requested %s", inv.ID, balance, amount)
		}

		alloc, err = l.apply(ctx, p, inv, amount)
		created = err == nil
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		l.emit(ctx, l.event(ctx, events.PaymentAllocated, alloc))
	}
	return alloc, created, nil
}

// apply writes the invoice update, the allocation and the payment touch, in
// that order, so a stale invoice fails before anything else is written.
// Both rows must already be locked by the caller.
func (l *Ledger) apply(ctx context.Context, p *Payment, inv *Invoice, amount decimal.Decimal) (*Allocation, error) {
	now := l.now().UTC()
	inv.AmountPaid = inv.AmountPaid.Add(amount)
	inv.refreshStatus(now)
	if err := l.invoices.Update(ctx, inv); err != nil {
		return nil, err
	}
	alloc := &Allocation{PaymentID: p.ID, InvoiceID: inv.ID, Amount: amount, AppliedAt: now}
	if err := l.allocations.Create(ctx, alloc); err != nil {
		return nil, err
	}
	if err := l.payments.Touch(ctx, p); err != nil {
		return nil, err
	}
	return alloc, nil
}

// ReversePayment writes a negative payment cancelling paymentID and undoes
// each of its allocations with a negative allocation of its own. Invoice
// statuses are recomputed from the new balances.
func (l *Ledger) ReversePayment(ctx context.Context, paymentID uuid.UUID, reference *string) (*Payment, []*Allocation, error) {
	var (
		rev     *Payment
		undone  []*Allocation
		touched []*Invoice
	)
	err := l.tx.InTx(ctx, func(ctx context.Context) error {
		orig, err := l.payments.GetForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		if orig.IsReversal() {
			return apperr.InvalidInput("payment %s is itself a reversal", orig.ID)
		}

		rev = &Payment{
			PatientID:   orig.PatientID,
			Amount:      orig.Amount.Neg(),
			Method:      orig.Method,
			PaymentDate: period.Date(l.now()),
			Reference:   reference,
			ReversesID:  &orig.ID,
		}
		if err := l.payments.Create(ctx, rev); err != nil {
			return err
		}

		allocs, err := l.allocations.ListByPayment(ctx, orig.ID)
		if err != nil {
			return err
		}
		now := l.now().UTC()
		for _, a := range allocs {
			inv, err := l.invoices.GetForUpdate(ctx, a.InvoiceID)
			if err != nil {
				return err
			}
			neg := &Allocation{PaymentID: rev.ID, InvoiceID: a.InvoiceID, Amount: a.Amount.Neg(), AppliedAt: now}
			if err := l.allocations.Create(ctx, neg); err != nil {
				return err
			}
			inv.AmountPaid = inv.AmountPaid.Sub(a.Amount)
			if inv.AmountPaid.IsNegative() {
				return apperr.DataInconsistency("reversing payment %s leaves invoice %s with negative amount paid", orig.ID, inv.ID)
			}
			inv.refreshStatus(now)
			if err := l.invoices.Update(ctx, inv); err != nil {
				return err
			}
			undone = append(undone, neg)
			touched = append(touched, inv)
		}
		return l.payments.Touch(ctx, orig)
	})
	if err != nil {
		return nil, nil, err
	}

	l.emit(ctx, l.event(ctx, events.PaymentReversed, map[string]interface{}{
		"payment":     rev,
		"allocations": undone,
		"invoices":    touched,
	}))
	return rev, undone, nil
}

func (l *Ledger) GetPayment(ctx context.Context, id uuid.UUID) (*PaymentView, error) {
	p, err := l.payments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	allocs, err := l.allocations.ListByPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if allocs == nil {
		allocs = []*Allocation{}
	}
	sum := decimal.Zero
	for _, a := range allocs {
		sum = sum.Add(a.Amount)
	}
	return &PaymentView{Payment: *p, Allocations: allocs, Unallocated: p.Amount.Sub(sum)}, nil
}
