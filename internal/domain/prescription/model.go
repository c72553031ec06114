package prescription

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rxledger/rxledger/internal/domain/masterdata"
	"github.com/rxledger/rxledger/internal/domain/pricing"
)

// Prescription is a priced dispensing event. Pricing is fixed at creation;
// repricing produces a new record that points back through CopiedFromID.
type Prescription struct {
	ID           uuid.UUID           `db:"id" json:"id"`
	PatientID    uuid.UUID           `db:"patient_id" json:"patient_id"`
	DrugPackID   uuid.UUID           `db:"drug_pack_id" json:"drug_pack_id"`
	Schedule     masterdata.Schedule `db:"schedule" json:"schedule"`
	DispensedQty decimal.Decimal     `db:"dispensed_qty" json:"dispensed_qty"`
	DaysSupply   int                 `db:"days_supply" json:"days_supply"`
	FillDate     time.Time           `db:"fill_date" json:"fill_date"`
	pricing.Breakdown
	CopiedFromID  *uuid.UUID `db:"copied_from_id" json:"copied_from_id,omitempty"`
	AdjudicatedAt *time.Time `db:"adjudicated_at" json:"adjudicated_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// Adjudicated reports whether claims have been run for the prescription.
func (p *Prescription) Adjudicated() bool { return p.AdjudicatedAt != nil }

// CreateRequest describes a fill to price.
type CreateRequest struct {
	PatientID    uuid.UUID
	DrugPackID   uuid.UUID
	DispensedQty decimal.Decimal
	DaysSupply   int
	FillDate     *time.Time
}

// RepriceRequest overrides parts of an existing prescription. Zero values
// keep the original's.
type RepriceRequest struct {
	DrugPackID   *uuid.UUID
	DispensedQty decimal.NullDecimal
	DaysSupply   *int
}
