// Package pricing derives the gross charge of a dispensed quantity from a
// drug pack's acquisition cost, the markup policy and the dispensing fee.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/rxledger/rxledger/internal/domain/masterdata"
	"github.com/rxledger/rxledger/internal/platform/apperr"
	"github.com/rxledger/rxledger/pkg/money"
)

// Breakdown is the frozen cost split attached to a prescription.
// AcquisitionCost is kept at full precision; only Markup and GrossCharge are
// rounded, and each exactly once.
type Breakdown struct {
	AcquisitionCost decimal.Decimal `json:"acquisition_cost"`
	Markup          decimal.Decimal `json:"markup"`
	Fee             decimal.Decimal `json:"fee"`
	GrossCharge     decimal.Decimal `json:"gross_charge"`
}

type Calculator struct {
	markupRate decimal.Decimal
	fee        decimal.Decimal
}

func NewCalculator(markupRate, fee decimal.Decimal) *Calculator {
	return &Calculator{markupRate: markupRate, fee: money.Round(fee)}
}

func (c *Calculator) MarkupRate() decimal.Decimal { return c.markupRate }

func (c *Calculator) Fee() decimal.Decimal { return c.fee }

// Price computes the breakdown for qty units of pack.
func (c *Calculator) Price(pack *masterdata.DrugPack, qty decimal.Decimal) (Breakdown, error) {
	if pack == nil {
		return Breakdown{}, apperr.InvalidInput("drug pack is required")
	}
	if !pack.AcqCost.Valid {
		return Breakdown{}, apperr.InvalidInput("drug pack %s has no acquisition cost", pack.ID)
	}
	if pack.AcqCost.Decimal.IsNegative() {
		return Breakdown{}, apperr.InvalidInput("drug pack %s has negative acquisition cost %s", pack.ID, pack.AcqCost.Decimal)
	}
	if !qty.IsPositive() {
		return Breakdown{}, apperr.InvalidInput("dispensed quantity must be positive, got %s", qty)
	}

	acq := pack.AcqCost.Decimal.Mul(qty)
	markup := money.Round(acq.Mul(c.markupRate))
	gross := money.Round(acq.Add(markup).Add(c.fee))

	return Breakdown{
		AcquisitionCost: acq,
		Markup:          markup,
		Fee:             c.fee,
		GrossCharge:     gross,
	}, nil
}
