package statement

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Monthly is a patient's account summary for one period.
// ClosingBalance = OpeningBalance + Charges - Payments.
type Monthly struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	PatientID      uuid.UUID       `db:"patient_id" json:"patient_id"`
	PeriodStart    time.Time       `db:"period_start" json:"period_start"`
	PeriodEnd      time.Time       `db:"period_end" json:"period_end"`
	OpeningBalance decimal.Decimal `db:"opening_balance" json:"opening_balance"`
	Charges        decimal.Decimal `db:"charges" json:"charges"`
	Payments       decimal.Decimal `db:"payments" json:"payments"`
	ClosingBalance decimal.Decimal `db:"closing_balance" json:"closing_balance"`
	GeneratedAt    time.Time       `db:"generated_at" json:"generated_at"`
}

// Financial is the pharmacy-wide summary for one period.
// TotalRevenue = InsurancePayments + PatientPayments + OutstandingBalance.
type Financial struct {
	ID                 uuid.UUID       `db:"id" json:"id"`
	PeriodStart        time.Time       `db:"period_start" json:"period_start"`
	PeriodEnd          time.Time       `db:"period_end" json:"period_end"`
	TotalRevenue       decimal.Decimal `db:"total_revenue" json:"total_revenue"`
	InsurancePayments  decimal.Decimal `db:"insurance_payments" json:"insurance_payments"`
	PatientPayments    decimal.Decimal `db:"patient_payments" json:"patient_payments"`
	OutstandingBalance decimal.Decimal `db:"outstanding_balance" json:"outstanding_balance"`
	GeneratedAt        time.Time       `db:"generated_at" json:"generated_at"`
}
