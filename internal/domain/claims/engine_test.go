package claims

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rxledger/rxledger/internal/config"
	"github.com/rxledger/rxledger/internal/domain/enrollment"
	"github.com/rxledger/rxledger/internal/domain/masterdata"
	"github.com/rxledger/rxledger/internal/domain/prescription"
	"github.com/rxledger/rxledger/internal/domain/pricing"
	"github.com/rxledger/rxledger/pkg/money"
)

func strPtr(s string) *string { return &s }

func rxFor(t *testing.T, schedule masterdata.Schedule, cost string) *prescription.Prescription {
	t.Helper()
	calc := pricing.NewCalculator(money.MustParse("0.10"), money.MustParse("12.00"))
	b, err := calc.Price(&masterdata.DrugPack{AcqCost: decimal.NewNullDecimal(money.MustParse(cost))}, decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	return &prescription.Prescription{ID: uuid.New(), Schedule: schedule, DispensedQty: decimal.NewFromInt(1), Breakdown: b}
}

func provincial(seq int) enrollment.Candidate {
	plan := &masterdata.BenefitPlan{ID: uuid.New(), Code: "ODB", Province: strPtr("ON"), IsProvincial: true}
	return enrollment.Candidate{
		Enrollment: &masterdata.Enrollment{ID: uuid.New(), PlanID: plan.ID, Sequence: seq},
		Plan:       plan,
		SubPlan:    &masterdata.SubPlan{ID: uuid.New(), PlanID: plan.ID, Code: "ODB-STD", DefSubPlan: true},
	}
}

func private(seq int) enrollment.Candidate {
	plan := &masterdata.BenefitPlan{ID: uuid.New(), Code: "GSC"}
	return enrollment.Candidate{
		Enrollment: &masterdata.Enrollment{ID: uuid.New(), PlanID: plan.ID, Sequence: seq},
		Plan:       plan,
		SubPlan:    &masterdata.SubPlan{ID: uuid.New(), PlanID: plan.ID, Code: "GSC-A", DefSubPlan: true},
	}
}

func newEngine(mode string) *Engine {
	p := DefaultPolicy()
	p.COBMode = mode
	e := NewEngine(p)
	e.SetClock(func() time.Time { return time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC) })
	return e
}

func assertMoney(t *testing.T, what string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(money.MustParse(want)) {
		t.Errorf("%s: expected %s, got %s", what, want, got)
	}
}

func TestAdjudicate_ProvincialRx(t *testing.T) {
	rx := rxFor(t, masterdata.ScheduleRx, "150.75")
	out := newEngine(config.COBResidual).Adjudicate(rx, []enrollment.Candidate{provincial(1)})

	if len(out.Results) != 1 {
		t.Fatalf("expected 1 claim, got %d", len(out.Results))
	}
	r := out.Results[0]
	if r.Claim.State != StatePaid || r.Adjudication.ResultCode != ResultPaid {
		t.Errorf("expected paid claim, got %s/%s", r.Claim.State, r.Adjudication.ResultCode)
	}
	assertMoney(t, "plan pays", r.Adjudication.PlanPays, "133.37")
	assertMoney(t, "copay", r.Adjudication.Copay, "44.46")
	assertMoney(t, "insurance covered", out.InsuranceCovered, "133.37")
	assertMoney(t, "patient portion", out.PatientPortion, "44.46")

	a := r.Adjudication
	assertMoney(t, "paid fee", a.PaidFee, "12.00")
	assertMoney(t, "paid markup", a.PaidMarkup, "15.08")
	if !a.PaidFee.Add(a.PaidMarkup).Add(a.PaidCost).Equal(a.PlanPays) {
		t.Error("paid components must sum to plan pays")
	}
}

func TestAdjudicate_ProvincialOTCNotCovered(t *testing.T) {
	rx := rxFor(t, masterdata.ScheduleOTC, "20.00")
	out := newEngine(config.COBResidual).Adjudicate(rx, []enrollment.Candidate{provincial(1)})

	r := out.Results[0]
	if r.Claim.State != StateNotCovered || r.Adjudication.ResultCode != ResultRejected {
		t.Errorf("expected not covered, got %s/%s", r.Claim.State, r.Adjudication.ResultCode)
	}
	assertMoney(t, "plan pays", r.Adjudication.PlanPays, "0")
	assertMoney(t, "patient portion", out.PatientPortion, rx.GrossCharge.String())
}

func TestAdjudicate_ProvincialOTCWhenSubPlanCoversIt(t *testing.T) {
	rx := rxFor(t, masterdata.ScheduleOTC, "20.00")
	cand := provincial(1)
	cand.SubPlan.CoversOTC = true

	out := newEngine(config.COBResidual).Adjudicate(rx, []enrollment.Candidate{cand})
	if out.Results[0].Claim.State != StatePaid {
		t.Errorf("expected paid, got %s", out.Results[0].Claim.State)
	}
}

func TestAdjudicate_ResidualCOB(t *testing.T) {
	rx := rxFor(t, masterdata.ScheduleRx, "150.75")
	out := newEngine(config.COBResidual).Adjudicate(rx, []enrollment.Candidate{provincial(1), private(2)})

	if len(out.Results) != 2 {
		t.Fatalf("expected 2 claims, got %d", len(out.Results))
	}
	second := out.Results[1]
	assertMoney(t, "secondary requested", second.Claim.AmountRequested, "44.46")
	// 177.83 * 0.80 exceeds the residual, so the secondary pays all of it.
	assertMoney(t, "secondary pays", second.Adjudication.PlanPays, "44.46")
	assertMoney(t, "secondary copay", second.Adjudication.Copay, "0")
	assertMoney(t, "patient portion", out.PatientPortion, "0")
	assertMoney(t, "insurance covered", out.InsuranceCovered, "177.83")
}

func TestAdjudicate_FirstPayerStops(t *testing.T) {
	rx := rxFor(t, masterdata.ScheduleRx, "150.75")
	out := newEngine(config.COBFirstPayer).Adjudicate(rx, []enrollment.Candidate{provincial(1), private(2)})

	if len(out.Results) != 1 {
		t.Fatalf("expected the walk to stop after the first payer, got %d claims", len(out.Results))
	}
	assertMoney(t, "patient portion", out.PatientPortion, "44.46")
}

func TestAdjudicate_FirstPayerFallsThroughRejection(t *testing.T) {
	rx := rxFor(t, masterdata.ScheduleOTC, "20.00")
	out := newEngine(config.COBFirstPayer).Adjudicate(rx, []enrollment.Candidate{provincial(1), private(2)})

	if len(out.Results) != 2 {
		t.Fatalf("expected both plans consulted, got %d", len(out.Results))
	}
	if out.Results[1].Claim.State != StatePaid {
		t.Errorf("expected private plan to pay OTC, got %s", out.Results[1].Claim.State)
	}
}

func TestAdjudicate_MissingField(t *testing.T) {
	rx := rxFor(t, masterdata.ScheduleRx, "50.00")
	cand := private(1)
	cand.SubPlan.CarrierIDReq = true
	cand.SubPlan.GroupReq = true
	cand.Enrollment.GroupID = strPtr("G-100")

	out := newEngine(config.COBResidual).Adjudicate(rx, []enrollment.Candidate{cand})
	r := out.Results[0]
	if r.Claim.State != StateRejected || r.Adjudication.ResultCode != ResultMissingField {
		t.Fatalf("expected missing field rejection, got %s/%s", r.Claim.State, r.Adjudication.ResultCode)
	}
	if r.Adjudication.Message == nil || !strings.Contains(*r.Adjudication.Message, "carrier_id") {
		t.Errorf("expected message naming carrier_id, got %v", r.Adjudication.Message)
	}
	if strings.Contains(*r.Adjudication.Message, "group_id") {
		t.Error("group_id is present and must not be reported")
	}
	assertMoney(t, "plan pays", r.Adjudication.PlanPays, "0")
}

func TestAdjudicate_CoverageOverride(t *testing.T) {
	rx := rxFor(t, masterdata.ScheduleRx, "100.00") // gross 122.00
	cand := private(1)
	cand.SubPlan.CoverageRate = decimal.NewNullDecimal(money.MustParse("0.5"))

	out := newEngine(config.COBResidual).Adjudicate(rx, []enrollment.Candidate{cand})
	assertMoney(t, "plan pays", out.Results[0].Adjudication.PlanPays, "61.00")

	cand.SubPlan.CoverageRate = decimal.NewNullDecimal(decimal.Zero)
	out = newEngine(config.COBResidual).Adjudicate(rx, []enrollment.Candidate{cand})
	if out.Results[0].Claim.State != StateNotCovered {
		t.Errorf("zero rate must be not covered, got %s", out.Results[0].Claim.State)
	}
}

func TestAdjudicate_NoCandidates(t *testing.T) {
	rx := rxFor(t, masterdata.ScheduleRx, "10.00")
	out := newEngine(config.COBResidual).Adjudicate(rx, nil)
	if len(out.Results) != 0 {
		t.Errorf("expected no claims, got %d", len(out.Results))
	}
	assertMoney(t, "patient portion", out.PatientPortion, rx.GrossCharge.String())
}

func TestSplit_Waterfall(t *testing.T) {
	tests := []struct {
		pays, fee, markup       string
		wantFee, wantMk, wantCo string
	}{
		{"5.00", "12.00", "3.00", "5.00", "0", "0"},
		{"14.00", "12.00", "3.00", "12.00", "2.00", "0"},
		{"40.00", "12.00", "3.00", "12.00", "3.00", "25.00"},
	}
	for _, tt := range tests {
		f, m, c := split(money.MustParse(tt.pays), money.MustParse(tt.fee), money.MustParse(tt.markup))
		assertMoney(t, "fee", f, tt.wantFee)
		assertMoney(t, "markup", m, tt.wantMk)
		assertMoney(t, "cost", c, tt.wantCo)
	}
}
