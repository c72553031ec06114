package billing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rxledger/rxledger/internal/domain/claims"
	"github.com/rxledger/rxledger/internal/domain/prescription"
	"github.com/rxledger/rxledger/internal/platform/apperr"
	"github.com/rxledger/rxledger/pkg/period"
)

// Builder turns an adjudicated prescription into its invoice.
type Builder struct {
	graceDays int
}

func NewBuilder(graceDays int) *Builder {
	return &Builder{graceDays: graceDays}
}

// Build sums what the plans pay and bills the rest to the patient. An
// invoice with nothing left for the patient is born paid.
func (b *Builder) Build(rx *prescription.Prescription, adjs []*claims.Adjudication, invoiceDate time.Time) (*Invoice, error) {
	covered := decimal.Zero
	for _, a := range adjs {
		if a.PlanPays.IsNegative() {
			return nil, apperr.DataInconsistency("adjudication %s has negative plan payment", a.ID)
		}
		covered = covered.Add(a.PlanPays)
	}
	if covered.GreaterThan(rx.GrossCharge) {
		return nil, apperr.DataInconsistency("plans pay %s on prescription %s charged %s", covered, rx.ID, rx.GrossCharge)
	}

	day := period.Date(invoiceDate)
	inv := &Invoice{
		PrescriptionID:   rx.ID,
		PatientID:        rx.PatientID,
		InvoiceDate:      day,
		DueDate:          day.AddDate(0, 0, b.graceDays),
		TotalAmount:      rx.GrossCharge,
		InsuranceCovered: covered,
		PatientPortion:   rx.GrossCharge.Sub(covered),
		AmountPaid:       decimal.Zero,
		Status:           InvoicePending,
	}
	if inv.Settled() {
		inv.Status = InvoicePaid
	}
	return inv, nil
}
