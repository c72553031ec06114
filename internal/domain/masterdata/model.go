package masterdata

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rxledger/rxledger/pkg/period"
)

// Schedule is a drug's dispensing class.
type Schedule string

const (
	ScheduleRx  Schedule = "Rx"
	ScheduleOTC Schedule = "OTC"
)

func (s Schedule) Valid() bool {
	return s == ScheduleRx || s == ScheduleOTC
}

type Patient struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	FirstName string     `db:"first_name" json:"first_name"`
	LastName  string     `db:"last_name" json:"last_name"`
	BirthDate *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Province  string     `db:"province" json:"province"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

type Drug struct {
	ID          uuid.UUID `db:"id" json:"id"`
	DIN         *string   `db:"din" json:"din,omitempty"`
	BrandName   string    `db:"brand_name" json:"brand_name"`
	GenericName *string   `db:"generic_name" json:"generic_name,omitempty"`
	Schedule    Schedule  `db:"schedule" json:"schedule"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// DrugPack is a priceable unit of a drug. AcqCost is per dispensed unit and
// may be unknown.
type DrugPack struct {
	ID          uuid.UUID           `db:"id" json:"id"`
	DrugID      uuid.UUID           `db:"drug_id" json:"drug_id"`
	Strength    *string             `db:"strength" json:"strength,omitempty"`
	PackSize    decimal.Decimal     `db:"pack_size" json:"pack_size"`
	AcqCost     decimal.NullDecimal `db:"acq_cost" json:"acq_cost"`
	SellingCost decimal.NullDecimal `db:"selling_cost" json:"selling_cost"`
	CreatedAt   time.Time           `db:"created_at" json:"created_at"`
}

type BenefitPlan struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Code         string    `db:"code" json:"code"`
	Description  *string   `db:"description" json:"description,omitempty"`
	Province     *string   `db:"province" json:"province,omitempty"`
	IsProvincial bool      `db:"is_provincial" json:"is_provincial"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// SubPlan carries the required-field flags checked before a claim is paid
// and an optional coverage override.
type SubPlan struct {
	ID           uuid.UUID           `db:"id" json:"id"`
	PlanID       uuid.UUID           `db:"plan_id" json:"plan_id"`
	Code         string              `db:"code" json:"code"`
	Description  *string             `db:"description" json:"description,omitempty"`
	DefSubPlan   bool                `db:"def_sub_plan" json:"def_sub_plan"`
	CarrierIDReq bool                `db:"carrier_id_req" json:"carrier_id_req"`
	GroupReq     bool                `db:"group_req" json:"group_req"`
	ClientReq    bool                `db:"client_req" json:"client_req"`
	CPHAReq      bool                `db:"cpha_req" json:"cpha_req"`
	RelReq       bool                `db:"rel_req" json:"rel_req"`
	ExpiryReq    bool                `db:"expiry_req" json:"expiry_req"`
	BirthReq     bool                `db:"birth_req" json:"birth_req"`
	CoversOTC    bool                `db:"covers_otc" json:"covers_otc"`
	CoverageRate decimal.NullDecimal `db:"coverage_rate" json:"coverage_rate"`
	CreatedAt    time.Time           `db:"created_at" json:"created_at"`
}

// Enrollment links a patient to a plan. A nil SubPlanID means the plan's
// default subplan.
type Enrollment struct {
	ID                  uuid.UUID  `db:"id" json:"id"`
	PatientID           uuid.UUID  `db:"patient_id" json:"patient_id"`
	PlanID              uuid.UUID  `db:"plan_id" json:"plan_id"`
	SubPlanID           *uuid.UUID `db:"sub_plan_id" json:"sub_plan_id,omitempty"`
	Sequence            int        `db:"sequence" json:"sequence"`
	CarrierID           *string    `db:"carrier_id" json:"carrier_id,omitempty"`
	GroupID             *string    `db:"group_id" json:"group_id,omitempty"`
	ClientID            *string    `db:"client_id" json:"client_id,omitempty"`
	CPHACode            *string    `db:"cpha_code" json:"cpha_code,omitempty"`
	Relationship        *string    `db:"relationship" json:"relationship,omitempty"`
	CardholderBirthDate *time.Time `db:"cardholder_birth_date" json:"cardholder_birth_date,omitempty"`
	ExpiryDate          *time.Time `db:"expiry_date" json:"expiry_date,omitempty"`
	InactivatedAt       *time.Time `db:"inactivated_at" json:"inactivated_at,omitempty"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
}

// ActiveOn reports whether the enrollment can be billed on asOf. The expiry
// date itself is still covered.
func (e *Enrollment) ActiveOn(asOf time.Time) bool {
	if e.InactivatedAt != nil && !e.InactivatedAt.After(asOf) {
		return false
	}
	if e.ExpiryDate != nil && period.Date(*e.ExpiryDate).Before(period.Date(asOf)) {
		return false
	}
	return true
}
