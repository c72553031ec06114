package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rxledger/rxledger/pkg/period"
)

type InvoiceStatus string

const (
	InvoicePending InvoiceStatus = "pending"
	InvoicePartial InvoiceStatus = "partial"
	InvoicePaid    InvoiceStatus = "paid"
	InvoiceOverdue InvoiceStatus = "overdue"
)

// Invoice is the patient-facing bill for one prescription. TotalAmount is
// split between InsuranceCovered and PatientPortion when the invoice is
// issued and that split is never rewritten. Later shifts from insurer to
// patient are Adjustment rows summed into Adjustments. AmountPaid counts
// patient money allocated to it and never exceeds PatientOwes.
type Invoice struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	PrescriptionID   uuid.UUID       `db:"prescription_id" json:"prescription_id"`
	PatientID        uuid.UUID       `db:"patient_id" json:"patient_id"`
	InvoiceDate      time.Time       `db:"invoice_date" json:"invoice_date"`
	DueDate          time.Time       `db:"due_date" json:"due_date"`
	TotalAmount      decimal.Decimal `db:"total_amount" json:"total_amount"`
	InsuranceCovered decimal.Decimal `db:"insurance_covered" json:"insurance_covered"`
	PatientPortion   decimal.Decimal `db:"patient_portion" json:"patient_portion"`
	Adjustments      decimal.Decimal `db:"adjustments" json:"adjustments"`
	AmountPaid       decimal.Decimal `db:"amount_paid" json:"amount_paid"`
	Status           InvoiceStatus   `db:"status" json:"status"`
	Version          int             `db:"version" json:"version"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// PatientOwes is the patient's share after adjustments.
func (i *Invoice) PatientOwes() decimal.Decimal {
	return i.PatientPortion.Add(i.Adjustments)
}

// NetInsurance is what the insurers still cover after adjustments.
func (i *Invoice) NetInsurance() decimal.Decimal {
	return i.InsuranceCovered.Sub(i.Adjustments)
}

// BalanceDue is what the patient still owes.
func (i *Invoice) BalanceDue() decimal.Decimal {
	return i.PatientOwes().Sub(i.AmountPaid)
}

// Settled reports whether insurance and patient payments cover the total.
func (i *Invoice) Settled() bool {
	return i.NetInsurance().Add(i.AmountPaid).Equal(i.TotalAmount)
}

// Adjustment shifts part of an issued invoice from the insurers to the
// patient, for example when a paid claim is reversed. It is dated when it
// happens and statements count it in that period.
type Adjustment struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	InvoiceID      uuid.UUID       `db:"invoice_id" json:"invoice_id"`
	PatientID      uuid.UUID       `db:"patient_id" json:"patient_id"`
	ClaimID        *uuid.UUID      `db:"claim_id" json:"claim_id,omitempty"`
	Amount         decimal.Decimal `db:"amount" json:"amount"`
	AdjustmentDate time.Time       `db:"adjustment_date" json:"adjustment_date"`
	Reason         string          `db:"reason" json:"reason"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

// refreshStatus derives the status from the amounts. An unsettled invoice
// past its due date on asOf is overdue.
func (i *Invoice) refreshStatus(asOf time.Time) {
	switch {
	case i.Settled():
		i.Status = InvoicePaid
	case i.Status == InvoiceOverdue || period.Date(asOf).After(period.Date(i.DueDate)):
		i.Status = InvoiceOverdue
	case i.AmountPaid.IsPositive():
		i.Status = InvoicePartial
	default:
		i.Status = InvoicePending
	}
}

// Payment is money received from a patient. Reversals are separate negative
// payments pointing at the original through ReversesID.
type Payment struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	PatientID   uuid.UUID       `db:"patient_id" json:"patient_id"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	Method      string          `db:"method" json:"method"`
	PaymentDate time.Time       `db:"payment_date" json:"payment_date"`
	Reference   *string         `db:"reference" json:"reference,omitempty"`
	ReversesID  *uuid.UUID      `db:"reverses_id" json:"reverses_id,omitempty"`
	Version     int             `db:"version" json:"version"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// IsReversal reports whether p cancels an earlier payment.
func (p *Payment) IsReversal() bool { return p.ReversesID != nil }

// Payment methods accepted at the counter.
var PaymentMethods = []string{"cash", "debit", "credit", "cheque", "insurance_refund", "other"}

func validMethod(m string) bool {
	for _, v := range PaymentMethods {
		if v == m {
			return true
		}
	}
	return false
}

// Allocation applies part of a payment to an invoice. (PaymentID, InvoiceID)
// is unique.
type Allocation struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	PaymentID uuid.UUID       `db:"payment_id" json:"payment_id"`
	InvoiceID uuid.UUID       `db:"invoice_id" json:"invoice_id"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	AppliedAt time.Time       `db:"applied_at" json:"applied_at"`
}

// PaymentView is a payment with its allocations, as returned by the API.
type PaymentView struct {
	Payment
	Allocations []*Allocation   `json:"allocations"`
	Unallocated decimal.Decimal `json:"unallocated"`
}

// AccountLine is one prescription on a patient's account.
type AccountLine struct {
	InvoiceID      uuid.UUID       `json:"invoice_id"`
	PrescriptionID uuid.UUID       `json:"prescription_id"`
	InvoiceDate    time.Time       `json:"invoice_date"`
	Status         InvoiceStatus   `json:"status"`
	PatientOwes    decimal.Decimal `json:"patient_owes"`
	Paid           decimal.Decimal `json:"paid"`
	Balance        decimal.Decimal `json:"balance"`
}

// AccountStatement is the patient's running account: what each
// prescription still owes and the total.
type AccountStatement struct {
	PatientID    uuid.UUID       `json:"patient_id"`
	AsOf         time.Time       `json:"as_of"`
	Lines        []AccountLine   `json:"lines"`
	TotalBalance decimal.Decimal `json:"total_balance"`
}
