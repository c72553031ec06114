package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceFilter narrows invoice listings. Zero fields are ignored.
type InvoiceFilter struct {
	PatientID *uuid.UUID
	Status    InvoiceStatus
	From, To  *time.Time
}

type InvoiceRepository interface {
	Create(ctx context.Context, inv *Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	// GetForUpdate loads the invoice and holds a row lock until the
	// surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error)
	GetByPrescription(ctx context.Context, prescriptionID uuid.UUID) (*Invoice, error)
	// Update writes AmountPaid, Adjustments and Status if inv.Version is
	// still current and bumps the version. The issued split is never
	// written. A stale version yields a Conflict error.
	Update(ctx context.Context, inv *Invoice) error
	List(ctx context.Context, f InvoiceFilter, limit, offset int) ([]*Invoice, int, error)
	// ListByPatient returns every invoice of the patient, newest first.
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Invoice, error)
	// ListDated returns invoices dated in [start, end], for one patient or
	// all when patientID is nil.
	ListDated(ctx context.Context, patientID *uuid.UUID, start, end time.Time) ([]*Invoice, error)
	// ListPastDue returns unsettled pending or partial invoices due before asOf.
	ListPastDue(ctx context.Context, asOf time.Time) ([]*Invoice, error)
	PatientsInvoiced(ctx context.Context, start, end time.Time) ([]uuid.UUID, error)
}

type PaymentRepository interface {
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Payment, error)
	// Touch bumps the version of p, serializing allocations against it.
	Touch(ctx context.Context, p *Payment) error
	// GetReversal returns the payment reversing id, or a NotFound error.
	GetReversal(ctx context.Context, id uuid.UUID) (*Payment, error)
	ListDated(ctx context.Context, patientID uuid.UUID, start, end time.Time) ([]*Payment, error)
	PatientsPaying(ctx context.Context, start, end time.Time) ([]uuid.UUID, error)
}

type AdjustmentRepository interface {
	// Create stores a. A claim is adjusted at most once; a second
	// adjustment for the same claim is a Conflict.
	Create(ctx context.Context, a *Adjustment) error
	ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*Adjustment, error)
	// ListDated returns adjustments dated in [start, end], for one patient
	// or all when patientID is nil.
	ListDated(ctx context.Context, patientID *uuid.UUID, start, end time.Time) ([]*Adjustment, error)
	PatientsAdjusted(ctx context.Context, start, end time.Time) ([]uuid.UUID, error)
}

type AllocationRepository interface {
	Create(ctx context.Context, a *Allocation) error
	// Get returns the allocation of paymentID to invoiceID, or a NotFound error.
	Get(ctx context.Context, paymentID, invoiceID uuid.UUID) (*Allocation, error)
	ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]*Allocation, error)
	SumByPayment(ctx context.Context, paymentID uuid.UUID) (decimal.Decimal, error)
	// ListByInvoices returns allocations to any of invoiceIDs applied at or
	// before appliedBy.
	ListByInvoices(ctx context.Context, invoiceIDs []uuid.UUID, appliedBy time.Time) ([]*Allocation, error)
}
