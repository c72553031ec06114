package claims

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type State string

const (
	StatePending    State = "Pending"
	StatePaid       State = "Paid"
	StateRejected   State = "Rejected"
	StateNotCovered State = "NotCovered"
	StateReversed   State = "Reversed"
)

// Adjudication result codes.
const (
	ResultPaid         = "PAY"
	ResultRejected     = "REJ"
	ResultMissingField = "MISSING_FIELD"
	ResultReversal     = "REV"
)

// Claim is one submission of a prescription's remaining charge to one
// enrollment.
type Claim struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	PrescriptionID  uuid.UUID       `db:"prescription_id" json:"prescription_id"`
	EnrollmentID    uuid.UUID       `db:"enrollment_id" json:"enrollment_id"`
	Sequence        int             `db:"sequence" json:"sequence"`
	AmountRequested decimal.Decimal `db:"amount_requested" json:"amount_requested"`
	State           State           `db:"state" json:"state"`
	ReversesID      *uuid.UUID      `db:"reverses_id" json:"reverses_id,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

// Adjudication records what a plan was asked for and what it paid. The paid
// components always sum to PlanPays, and PlanPays plus Copay to the amount
// requested on the claim.
type Adjudication struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	ClaimID         uuid.UUID       `db:"claim_id" json:"claim_id"`
	Attempt         int             `db:"attempt" json:"attempt"`
	SubmittedCost   decimal.Decimal `db:"submitted_cost" json:"submitted_cost"`
	SubmittedMarkup decimal.Decimal `db:"submitted_markup" json:"submitted_markup"`
	SubmittedFee    decimal.Decimal `db:"submitted_fee" json:"submitted_fee"`
	PaidCost        decimal.Decimal `db:"paid_cost" json:"paid_cost"`
	PaidMarkup      decimal.Decimal `db:"paid_markup" json:"paid_markup"`
	PaidFee         decimal.Decimal `db:"paid_fee" json:"paid_fee"`
	PlanPays        decimal.Decimal `db:"plan_pays" json:"plan_pays"`
	Copay           decimal.Decimal `db:"copay" json:"copay"`
	ResultCode      string          `db:"result_code" json:"result_code"`
	Message         *string         `db:"message" json:"message,omitempty"`
	AdjudicatedAt   time.Time       `db:"adjudicated_at" json:"adjudicated_at"`
}

// ClaimWithAdjudications is the read model returned by the API.
type ClaimWithAdjudications struct {
	Claim
	Adjudications []*Adjudication `json:"adjudications"`
}
