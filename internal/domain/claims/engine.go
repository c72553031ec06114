// Package claims adjudicates a priced prescription against a patient's
// enrollments and keeps the resulting claim records.
package claims

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rxledger/rxledger/internal/config"
	"github.com/rxledger/rxledger/internal/domain/enrollment"
	"github.com/rxledger/rxledger/internal/domain/masterdata"
	"github.com/rxledger/rxledger/internal/domain/prescription"
	"github.com/rxledger/rxledger/pkg/money"
)

// Policy holds the coverage defaults applied when a subplan carries no
// override, and how secondary plans are consulted.
type Policy struct {
	ProvincialRate decimal.Decimal
	PrivateRate    decimal.Decimal
	COBMode        string
}

func DefaultPolicy() Policy {
	return Policy{
		ProvincialRate: money.MustParse("0.75"),
		PrivateRate:    money.MustParse("0.80"),
		COBMode:        config.COBResidual,
	}
}

// Result pairs a claim with the adjudication that settled it.
type Result struct {
	Claim        *Claim        `json:"claim"`
	Adjudication *Adjudication `json:"adjudication"`
}

// Outcome is the full adjudication of one prescription.
type Outcome struct {
	Results          []Result
	InsuranceCovered decimal.Decimal
	PatientPortion   decimal.Decimal
}

// Adjudications lists the outcome's adjudication records in claim order.
func (o *Outcome) Adjudications() []*Adjudication {
	out := make([]*Adjudication, 0, len(o.Results))
	for _, r := range o.Results {
		out = append(out, r.Adjudication)
	}
	return out
}

// Engine is pure: it builds claims in memory and never touches storage.
type Engine struct {
	policy Policy
	now    func() time.Time
}

func NewEngine(policy Policy) *Engine {
	return &Engine{policy: policy, now: time.Now}
}

func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Adjudicate submits rx's gross charge to each candidate in order. Each plan
// is asked for what earlier plans left unpaid. In first-payer mode the walk
// stops at the first plan that pays anything.
func (e *Engine) Adjudicate(rx *prescription.Prescription, candidates []enrollment.Candidate) *Outcome {
	at := e.now().UTC()
	remaining := rx.GrossCharge
	out := &Outcome{}

	for _, cand := range candidates {
		if !remaining.IsPositive() {
			break
		}
		claim := &Claim{
			ID:              uuid.New(),
			PrescriptionID:  rx.ID,
			EnrollmentID:    cand.Enrollment.ID,
			Sequence:        cand.Enrollment.Sequence,
			AmountRequested: remaining,
			State:           StatePending,
		}
		adj := &Adjudication{
			ID:              uuid.New(),
			ClaimID:         claim.ID,
			Attempt:         1,
			SubmittedCost:   rx.AcquisitionCost,
			SubmittedMarkup: rx.Markup,
			SubmittedFee:    rx.Fee,
			PlanPays:        decimal.Zero,
			AdjudicatedAt:   at,
		}

		claim.State = e.decide(rx, cand, remaining, adj)

		adj.Copay = remaining.Sub(adj.PlanPays)
		adj.PaidFee, adj.PaidMarkup, adj.PaidCost = split(adj.PlanPays, rx.Fee, rx.Markup)

		out.Results = append(out.Results, Result{Claim: claim, Adjudication: adj})
		out.InsuranceCovered = out.InsuranceCovered.Add(adj.PlanPays)
		remaining = remaining.Sub(adj.PlanPays)

		if e.policy.COBMode == config.COBFirstPayer && adj.PlanPays.IsPositive() {
			break
		}
	}

	out.PatientPortion = rx.GrossCharge.Sub(out.InsuranceCovered)
	return out
}

func (e *Engine) decide(rx *prescription.Prescription, cand enrollment.Candidate, remaining decimal.Decimal, adj *Adjudication) State {
	if missing := MissingFields(cand.SubPlan, cand.Enrollment); len(missing) > 0 {
		adj.ResultCode = ResultMissingField
		adj.Message = message("missing required fields: " + strings.Join(missing, ", "))
		return StateRejected
	}
	if rx.Schedule == masterdata.ScheduleOTC && cand.Plan.IsProvincial && !cand.SubPlan.CoversOTC {
		adj.ResultCode = ResultRejected
		adj.Message = message("plan " + cand.Plan.Code + " does not cover OTC drugs")
		return StateNotCovered
	}
	rate := e.rate(cand)
	if !rate.IsPositive() {
		adj.ResultCode = ResultRejected
		adj.Message = message("plan " + cand.Plan.Code + " has no coverage for this fill")
		return StateNotCovered
	}

	adj.PlanPays = money.Round(money.Min(remaining, rx.GrossCharge.Mul(rate)))
	adj.ResultCode = ResultPaid
	return StatePaid
}

func (e *Engine) rate(cand enrollment.Candidate) decimal.Decimal {
	if cand.SubPlan.CoverageRate.Valid {
		return cand.SubPlan.CoverageRate.Decimal
	}
	if cand.Plan.IsProvincial {
		return e.policy.ProvincialRate
	}
	return e.policy.PrivateRate
}

// split allocates a plan payment to fee first, then markup, then cost.
func split(pays, fee, markup decimal.Decimal) (paidFee, paidMarkup, paidCost decimal.Decimal) {
	paidFee = money.Min(pays, fee)
	rest := pays.Sub(paidFee)
	paidMarkup = money.Min(rest, markup)
	paidCost = rest.Sub(paidMarkup)
	return paidFee, paidMarkup, paidCost
}

// MissingFields lists the enrollment fields the subplan requires but the
// enrollment lacks.
func MissingFields(sp *masterdata.SubPlan, e *masterdata.Enrollment) []string {
	var missing []string
	check := func(required bool, present bool, name string) {
		if required && !present {
			missing = append(missing, name)
		}
	}
	check(sp.CarrierIDReq, nonEmpty(e.CarrierID), "carrier_id")
	check(sp.GroupReq, nonEmpty(e.GroupID), "group_id")
	check(sp.ClientReq, nonEmpty(e.ClientID), "client_id")
	check(sp.CPHAReq, nonEmpty(e.CPHACode), "cpha_code")
	check(sp.RelReq, nonEmpty(e.Relationship), "relationship")
	check(sp.ExpiryReq, e.ExpiryDate != nil, "expiry_date")
	check(sp.BirthReq, e.CardholderBirthDate != nil, "cardholder_birth_date")
	return missing
}

func nonEmpty(s *string) bool { return s != nil && strings.TrimSpace(*s) != "" }

func message(s string) *string { return &s }
