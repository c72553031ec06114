package statement

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/rxledger/rxledger/internal/domain/billing"
	"github.com/rxledger/rxledger/internal/domain/claims"
	"github.com/rxledger/rxledger/internal/domain/prescription"
	"github.com/rxledger/rxledger/internal/domain/pricing"
	"github.com/rxledger/rxledger/internal/platform/apperr"
	"github.com/rxledger/rxledger/internal/platform/db"
	"github.com/rxledger/rxledger/internal/platform/events"
	"github.com/rxledger/rxledger/internal/platform/lock"
	"github.com/rxledger/rxledger/internal/platform/validate"
	"github.com/rxledger/rxledger/pkg/money"
	"github.com/rxledger/rxledger/pkg/period"
)

func day(m time.Month, d int) time.Time {
	return time.Date(2024, m, d, 0, 0, 0, 0, time.UTC)
}

type fixture struct {
	ledger  *billing.Ledger
	agg     *Aggregator
	rec     *events.Recorder
	clock   time.Time
	monthly *MemoryMonthly
}

func newFixture() *fixture {
	f := &fixture{rec: &events.Recorder{}, clock: day(time.May, 1), monthly: NewMemoryMonthly()}
	invs, pays, allocs := billing.NewMemoryInvoices(), billing.NewMemoryPayments(), billing.NewMemoryAllocations()
	adjs := billing.NewMemoryAdjustments()
	f.ledger = billing.NewLedger(invs, pays, allocs, adjs, db.Passthrough, events.Nop, zerolog.Nop())
	f.ledger.SetClock(func() time.Time { return f.clock })
	f.agg = NewAggregator(Sources{Invoices: invs, Payments: pays, Allocations: allocs, Adjustments: adjs},
		f.monthly, NewMemoryFinancial(), lock.NewLocalLocker(time.Second), db.Passthrough, f.rec, zerolog.Nop())
	f.agg.SetClock(func() time.Time { return f.clock })
	return f
}

// invoice bills a prescription dated on the given day.
func (f *fixture) invoice(t *testing.T, patient uuid.UUID, on time.Time, total, covered string) *billing.Invoice {
	t.Helper()
	f.clock = on
	rx := &prescription.Prescription{ID: uuid.New(), PatientID: patient,
		Breakdown: pricing.Breakdown{GrossCharge: money.MustParse(total)}}
	var adjs []*claims.Adjudication
	if covered != "0" {
		adjs = append(adjs, &claims.Adjudication{ID: uuid.New(), PlanPays: money.MustParse(covered)})
	}
	inv, err := billing.NewBuilder(30).Build(rx, adjs, on)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := f.ledger.CreateInvoice(context.Background(), inv); err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	return inv
}

// pay records a payment on the given day, applied to inv when it is set.
func (f *fixture) pay(t *testing.T, patient uuid.UUID, on time.Time, amount string, inv *billing.Invoice) {
	t.Helper()
	f.clock = on
	req := billing.RecordPaymentRequest{PatientID: patient, Amount: money.MustParse(amount), Method: "cash", PaymentDate: &on}
	if inv != nil {
		req.InvoiceID = &inv.ID
	}
	if _, _, err := f.ledger.RecordPayment(context.Background(), req); err != nil {
		t.Fatalf("record payment: %v", err)
	}
}

func wantAmount(t *testing.T, name string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(money.MustParse(want)) {
		t.Errorf("%s = %s, want %s", name, got, want)
	}
}

func TestGenerateMonthlyStatement(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	patient := uuid.New()

	mayInv := f.invoice(t, patient, day(time.May, 10), "100.00", "75.00")
	f.pay(t, patient, day(time.May, 12), "10.00", mayInv)
	f.invoice(t, patient, day(time.June, 3), "40.00", "0")
	f.pay(t, patient, day(time.June, 5), "20.00", nil)

	start, end := period.Month(2024, time.May)
	may, err := f.agg.GenerateMonthlyStatement(ctx, patient, start, end)
	if err != nil {
		t.Fatalf("may: %v", err)
	}
	wantAmount(t, "may opening", may.OpeningBalance, "0")
	wantAmount(t, "may charges", may.Charges, "25.00")
	wantAmount(t, "may payments", may.Payments, "10.00")
	wantAmount(t, "may closing", may.ClosingBalance, "15.00")

	start, end = period.Month(2024, time.June)
	june, err := f.agg.GenerateMonthlyStatement(ctx, patient, start, end)
	if err != nil {
		t.Fatalf("june: %v", err)
	}
	wantAmount(t, "june opening", june.OpeningBalance, "15.00")
	wantAmount(t, "june charges", june.Charges, "40.00")
	wantAmount(t, "june payments", june.Payments, "20.00")
	wantAmount(t, "june closing", june.ClosingBalance, "35.00")

	if got := june.OpeningBalance.Add(june.Charges).Sub(june.Payments); !got.Equal(june.ClosingBalance) {
		t.Errorf("closing %s does not match opening + charges - payments = %s", june.ClosingBalance, got)
	}
	if types := f.rec.Types(); len(types) != 2 || types[0] != events.StatementGenerated {
		t.Errorf("events = %v", types)
	}
}

func TestGenerateMonthlyStatement_Regenerate(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	patient := uuid.New()
	f.invoice(t, patient, day(time.May, 10), "50.00", "0")
	start, end := period.Month(2024, time.May)

	first, err := f.agg.GenerateMonthlyStatement(ctx, patient, start, end)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := f.agg.GenerateMonthlyStatement(ctx, patient, start, end)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !first.ClosingBalance.Equal(second.ClosingBalance) {
		t.Errorf("closing changed on rerun: %s then %s", first.ClosingBalance, second.ClosingBalance)
	}
	list, err := f.agg.ListMonthly(ctx, patient)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("statements stored = %d, want 1", len(list))
	}
	got, err := f.agg.GetMonthly(ctx, patient, start, end)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	wantAmount(t, "stored closing", got.ClosingBalance, "50.00")
}

func TestGenerateMonthlyStatement_PaymentReversal(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	patient := uuid.New()
	inv := f.invoice(t, patient, day(time.May, 2), "30.00", "0")
	f.pay(t, patient, day(time.May, 3), "30.00", inv)

	payments, err := f.agg.src.Payments.ListDated(ctx, patient, day(time.May, 1), day(time.May, 31))
	if err != nil || len(payments) != 1 {
		t.Fatalf("payments: %v", err)
	}
	f.clock = day(time.May, 20)
	if _, _, err := f.ledger.ReversePayment(ctx, payments[0].ID, nil); err != nil {
		t.Fatalf("reverse: %v", err)
	}

	start, end := period.Month(2024, time.May)
	stmt, err := f.agg.GenerateMonthlyStatement(ctx, patient, start, end)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	wantAmount(t, "payments", stmt.Payments, "0")
	wantAmount(t, "closing", stmt.ClosingBalance, "30.00")
}

func TestGenerateMonthlyStatement_ClaimReversedNextMonth(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	patient := uuid.New()
	inv := f.invoice(t, patient, day(time.May, 10), "177.83", "133.37")

	mayStart, mayEnd := period.Month(2024, time.May)
	may, err := f.agg.GenerateMonthlyStatement(ctx, patient, mayStart, mayEnd)
	if err != nil {
		t.Fatalf("may: %v", err)
	}
	wantAmount(t, "may closing", may.ClosingBalance, "44.46")

	f.clock = day(time.June, 15)
	adjusted, _, err := f.ledger.ApplyClaimReversal(ctx, inv.PrescriptionID, uuid.New(), money.MustParse("133.37"))
	if err != nil {
		t.Fatalf("claim reversal: %v", err)
	}

	juneStart, juneEnd := period.Month(2024, time.June)
	stmts, err := f.agg.GenerateMonthlyStatements(ctx, juneStart, juneEnd)
	if err != nil || len(stmts) != 1 {
		t.Fatalf("june batch: %v %v", stmts, err)
	}
	june := stmts[0]
	wantAmount(t, "june opening", june.OpeningBalance, "44.46")
	wantAmount(t, "june charges", june.Charges, "133.37")
	wantAmount(t, "june closing", june.ClosingBalance, adjusted.BalanceDue().StringFixed(2))
	wantAmount(t, "balance due", adjusted.BalanceDue(), "177.83")

	again, err := f.agg.GenerateMonthlyStatement(ctx, patient, mayStart, mayEnd)
	if err != nil {
		t.Fatalf("may rerun: %v", err)
	}
	wantAmount(t, "may closing after reversal", again.ClosingBalance, "44.46")

	mayFin, err := f.agg.GenerateFinancialStatement(ctx, mayStart, mayEnd)
	if err != nil {
		t.Fatalf("may financial: %v", err)
	}
	wantAmount(t, "may insurance", mayFin.InsurancePayments, "133.37")
	wantAmount(t, "may outstanding", mayFin.OutstandingBalance, "44.46")

	juneFin, err := f.agg.GenerateFinancialStatement(ctx, juneStart, juneEnd)
	if err != nil {
		t.Fatalf("june financial: %v", err)
	}
	wantAmount(t, "june revenue", juneFin.TotalRevenue, "0")
	wantAmount(t, "june insurance", juneFin.InsurancePayments, "-133.37")
	wantAmount(t, "june outstanding", juneFin.OutstandingBalance, "133.37")
}

func TestGenerateMonthlyStatements_Batch(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	carried, active, settled := uuid.New(), uuid.New(), uuid.New()

	f.invoice(t, carried, day(time.May, 10), "20.00", "0")
	inv := f.invoice(t, settled, day(time.May, 11), "20.00", "0")
	f.pay(t, settled, day(time.May, 11), "20.00", inv)
	start, end := period.Month(2024, time.May)
	if _, err := f.agg.GenerateMonthlyStatements(ctx, start, end); err != nil {
		t.Fatalf("may batch: %v", err)
	}

	f.invoice(t, active, day(time.June, 4), "12.00", "0")
	start, end = period.Month(2024, time.June)
	stmts, err := f.agg.GenerateMonthlyStatements(ctx, start, end)
	if err != nil {
		t.Fatalf("june batch: %v", err)
	}
	got := make(map[uuid.UUID]*Monthly)
	for _, s := range stmts {
		got[s.PatientID] = s
	}
	if len(got) != 2 {
		t.Fatalf("june statements = %d, want 2", len(got))
	}
	if s := got[carried]; s == nil {
		t.Error("patient with a carried balance was skipped")
	} else {
		wantAmount(t, "carried closing", s.ClosingBalance, "20.00")
	}
	if got[settled] != nil {
		t.Error("settled patient with no activity got a statement")
	}
	if s := got[active]; s == nil {
		t.Error("invoiced patient was skipped")
	} else {
		wantAmount(t, "active closing", s.ClosingBalance, "12.00")
	}
}

func TestGenerateFinancialStatement(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	invA := f.invoice(t, a, day(time.May, 10), "100.00", "75.00")
	f.pay(t, a, day(time.May, 12), "10.00", invA)
	f.invoice(t, b, day(time.May, 20), "60.00", "45.00")
	// Paid after the period closes, so not counted for May.
	f.pay(t, a, day(time.June, 2), "5.00", invA)
	f.invoice(t, b, day(time.June, 3), "80.00", "0")

	start, end := period.Month(2024, time.May)
	stmt, err := f.agg.GenerateFinancialStatement(ctx, start, end)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	wantAmount(t, "revenue", stmt.TotalRevenue, "160.00")
	wantAmount(t, "insurance", stmt.InsurancePayments, "120.00")
	wantAmount(t, "patient", stmt.PatientPayments, "10.00")
	wantAmount(t, "outstanding", stmt.OutstandingBalance, "30.00")

	sum := stmt.InsurancePayments.Add(stmt.PatientPayments).Add(stmt.OutstandingBalance)
	if !sum.Equal(stmt.TotalRevenue) {
		t.Errorf("components %s != revenue %s", sum, stmt.TotalRevenue)
	}

	if _, err := f.agg.GenerateFinancialStatement(ctx, start, end); err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	stored, err := f.agg.GetFinancial(ctx, start, end)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	wantAmount(t, "stored revenue", stored.TotalRevenue, "160.00")
}

func TestGenerate_InvalidPeriod(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, err := f.agg.GenerateMonthlyStatement(ctx, uuid.New(), day(time.June, 1), day(time.May, 1))
	if !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("monthly err = %v, want invalid input", err)
	}
	_, err = f.agg.GenerateFinancialStatement(ctx, day(time.June, 1), day(time.May, 1))
	if !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("financial err = %v, want invalid input", err)
	}
}

func TestGenerateMonthlyStatement_Locked(t *testing.T) {
	f := newFixture()
	locker := lock.NewLocalLocker(20 * time.Millisecond)
	f.agg.locker = locker
	patient := uuid.New()
	start, end := period.Month(2024, time.May)
	key := lock.StatementKey(db.TenantFromContext(context.Background()), patient.String(), start, end)

	err := locker.WithLock(context.Background(), key, func(ctx context.Context) error {
		_, err := f.agg.GenerateMonthlyStatement(ctx, patient, start, end)
		return err
	})
	if err == nil {
		t.Fatal("expected generation to fail while the period is locked")
	}
}

func TestHandler_GenerateMonthly(t *testing.T) {
	f := newFixture()
	patient := uuid.New()
	f.invoice(t, patient, day(time.May, 10), "100.00", "75.00")

	e := echo.New()
	e.Validator = validate.New()
	h := NewHandler(f.agg)

	body := `{"patient_id":"` + patient.String() + `","year":2024,"month":5}`
	req := httptest.NewRequest(http.MethodPost, "/statements/monthly", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	if err := h.GenerateMonthly(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"closing_balance":"25`) {
		t.Errorf("body = %s", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/statements/monthly", strings.NewReader(`{"patient_id":"`+patient.String()+`"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	err := h.GenerateMonthly(e.NewContext(req, httptest.NewRecorder()))
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Errorf("missing period err = %v, want 400", err)
	}
}

func TestHandler_GetFinancial(t *testing.T) {
	f := newFixture()
	f.invoice(t, uuid.New(), day(time.May, 10), "40.00", "0")
	start, end := period.Month(2024, time.May)
	if _, err := f.agg.GenerateFinancialStatement(context.Background(), start, end); err != nil {
		t.Fatalf("generate: %v", err)
	}

	e := echo.New()
	h := NewHandler(f.agg)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("year", "month")
	c.SetParamValues("2024", "5")
	if err := h.GetFinancial(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"total_revenue":"40`) {
		t.Errorf("body = %s", rec.Body.String())
	}

	c = e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("year", "month")
	c.SetParamValues("2024", "13")
	var he *echo.HTTPError
	if err := h.GetFinancial(c); !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Errorf("bad month err = %v, want 400", err)
	}
}

func TestListFinancial(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.invoice(t, uuid.New(), day(time.May, 10), "40.00", "0")
	f.invoice(t, uuid.New(), day(time.June, 10), "25.00", "0")
	for _, m := range []time.Month{time.May, time.June} {
		start, end := period.Month(2024, m)
		if _, err := f.agg.GenerateFinancialStatement(ctx, start, end); err != nil {
			t.Fatalf("generate %s: %v", m, err)
		}
	}

	e := echo.New()
	h := NewHandler(f.agg)
	req := httptest.NewRequest(http.MethodGet, "/statements/financial?limit=1", nil)
	rec := httptest.NewRecorder()
	if err := h.ListFinancial(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler: %v", err)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"total":2`) || !strings.Contains(body, `"has_more":true`) {
		t.Errorf("body = %s", body)
	}
	if !strings.Contains(body, `"period_start":"2024-06-01`) || strings.Contains(body, `"period_start":"2024-05-01`) {
		t.Errorf("expected only the latest period on the first page: %s", body)
	}

	req = httptest.NewRequest(http.MethodGet, "/statements/financial?to=2024-05-31", nil)
	rec = httptest.NewRecorder()
	if err := h.ListFinancial(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"total":1`) || !strings.Contains(rec.Body.String(), `"total_revenue":"40`) {
		t.Errorf("filtered body = %s", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/statements/financial?from=june", nil)
	var he *echo.HTTPError
	if err := h.ListFinancial(e.NewContext(req, httptest.NewRecorder())); !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Errorf("bad from err = %v, want 400", err)
	}

	if _, _, err := f.agg.ListFinancial(ctx, day(time.June, 1), day(time.May, 1), 10, 0); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("inverted range err = %v, want invalid input", err)
	}
}
