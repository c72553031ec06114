// Package statement produces patient monthly statements and the
// pharmacy-wide financial statement from the billing ledger.
package statement

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/rxledger/rxledger/internal/domain/billing"
	"github.com/rxledger/rxledger/internal/platform/apperr"
	"github.com/rxledger/rxledger/internal/platform/db"
	"github.com/rxledger/rxledger/internal/platform/events"
	"github.com/rxledger/rxledger/internal/platform/lock"
	"github.com/rxledger/rxledger/pkg/period"
)

// Sources are the ledger reads the aggregator needs.
type Sources struct {
	Invoices interface {
		ListDated(ctx context.Context, patientID *uuid.UUID, start, end time.Time) ([]*billing.Invoice, error)
		PatientsInvoiced(ctx context.Context, start, end time.Time) ([]uuid.UUID, error)
	}
	Payments interface {
		ListDated(ctx context.Context, patientID uuid.UUID, start, end time.Time) ([]*billing.Payment, error)
		PatientsPaying(ctx context.Context, start, end time.Time) ([]uuid.UUID, error)
	}
	Allocations interface {
		ListByInvoices(ctx context.Context, invoiceIDs []uuid.UUID, appliedBy time.Time) ([]*billing.Allocation, error)
	}
	Adjustments interface {
		ListDated(ctx context.Context, patientID *uuid.UUID, start, end time.Time) ([]*billing.Adjustment, error)
		PatientsAdjusted(ctx context.Context, start, end time.Time) ([]uuid.UUID, error)
	}
}

// Aggregator generates statements. Generation for one period and scope is
// serialized by the locker and replaces any earlier statement for it, so
// rerunning a period yields the same figures.
type Aggregator struct {
	src       Sources
	monthly   MonthlyRepository
	financial FinancialRepository
	locker    lock.Locker
	tx        db.Transactor
	publisher events.Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

func NewAggregator(src Sources, monthly MonthlyRepository, financial FinancialRepository,
	locker lock.Locker, tx db.Transactor, pub events.Publisher, logger zerolog.Logger) *Aggregator {
	if pub == nil {
		pub = events.Nop
	}
	return &Aggregator{
		src:       src,
		monthly:   monthly,
		financial: financial,
		locker:    locker,
		tx:        tx,
		publisher: pub,
		logger:    logger,
		now:       time.Now,
	}
}

func (a *Aggregator) SetClock(now func() time.Time) { a.now = now }

func (a *Aggregator) emit(ctx context.Context, payload interface{}) {
	evt := events.New(events.StatementGenerated, db.TenantFromContext(ctx), a.now().UTC(), payload)
	if err := events.Emit(ctx, a.publisher, evt); err != nil {
		a.logger.Warn().Err(err).Msg("failed to publish statement event")
	}
}

func normalize(start, end time.Time) (time.Time, time.Time, error) {
	start, end = period.Date(start), period.Date(end)
	if err := period.Validate(start, end); err != nil {
		return start, end, apperr.InvalidInput("%s", err.Error())
	}
	return start, end, nil
}

// GenerateMonthlyStatement summarizes the patient's account over
// [start, end]. Charges are the patient portions of invoices dated in the
// period plus invoice adjustments dated in it; payments are the net patient
// payments dated in it, reversals included. A period's figures never change
// when later activity touches its invoices.
func (a *Aggregator) GenerateMonthlyStatement(ctx context.Context, patientID uuid.UUID, start, end time.Time) (*Monthly, error) {
	start, end, err := normalize(start, end)
	if err != nil {
		return nil, err
	}

	var stmt *Monthly
	key := lock.StatementKey(db.TenantFromContext(ctx), patientID.String(), start, end)
	err = a.locker.WithLock(ctx, key, func(ctx context.Context) error {
		return a.tx.InTx(ctx, func(ctx context.Context) error {
			opening := decimal.Zero
			prev, err := a.monthly.LatestBefore(ctx, patientID, start)
			if err != nil {
				return err
			}
			if prev != nil {
				opening = prev.ClosingBalance
			}

			invoices, err := a.src.Invoices.ListDated(ctx, &patientID, start, end)
			if err != nil {
				return err
			}
			charges := decimal.Zero
			for _, inv := range invoices {
				charges = charges.Add(inv.PatientPortion)
			}
			adjustments, err := a.src.Adjustments.ListDated(ctx, &patientID, start, end)
			if err != nil {
				return err
			}
			for _, adj := range adjustments {
				charges = charges.Add(adj.Amount)
			}

			payments, err := a.src.Payments.ListDated(ctx, patientID, start, end)
			if err != nil {
				return err
			}
			paid := decimal.Zero
			for _, p := range payments {
				paid = paid.Add(p.Amount)
			}

			stmt = &Monthly{
				PatientID:      patientID,
				PeriodStart:    start,
				PeriodEnd:      end,
				OpeningBalance: opening,
				Charges:        charges,
				Payments:       paid,
				ClosingBalance: opening.Add(charges).Sub(paid),
				GeneratedAt:    a.now().UTC(),
			}
			if err := a.monthly.DeletePeriod(ctx, patientID, start, end); err != nil {
				return err
			}
			return a.monthly.Create(ctx, stmt)
		})
	})
	if err != nil {
		return nil, err
	}

	a.logger.Info().
		Str("patient_id", patientID.String()).
		Str("period_start", start.Format(period.Layout)).
		Str("closing_balance", stmt.ClosingBalance.StringFixed(2)).
		Msg("monthly statement generated")
	a.emit(ctx, stmt)
	return stmt, nil
}

// GenerateMonthlyStatements runs GenerateMonthlyStatement for every patient
// with invoices, adjustments or payments in the period or a balance carried
// into it.
// Failures for one patient do not stop the others; they are returned
// joined.
func (a *Aggregator) GenerateMonthlyStatements(ctx context.Context, start, end time.Time) ([]*Monthly, error) {
	start, end, err := normalize(start, end)
	if err != nil {
		return nil, err
	}
	invoiced, err := a.src.Invoices.PatientsInvoiced(ctx, start, end)
	if err != nil {
		return nil, err
	}
	paying, err := a.src.Payments.PatientsPaying(ctx, start, end)
	if err != nil {
		return nil, err
	}
	adjusted, err := a.src.Adjustments.PatientsAdjusted(ctx, start, end)
	if err != nil {
		return nil, err
	}
	carried, err := a.monthly.PatientsWithBalance(ctx, start)
	if err != nil {
		return nil, err
	}

	seen := make(map[uuid.UUID]bool)
	var patients []uuid.UUID
	for _, group := range [][]uuid.UUID{invoiced, adjusted, paying, carried} {
		for _, id := range group {
			if !seen[id] {
				seen[id] = true
				patients = append(patients, id)
			}
		}
	}
	sort.Slice(patients, func(i, j int) bool { return patients[i].String() < patients[j].String() })

	var (
		out  []*Monthly
		errs []error
	)
	for _, id := range patients {
		stmt, err := a.GenerateMonthlyStatement(ctx, id, start, end)
		if err != nil {
			a.logger.Error().Err(err).Str("patient_id", id.String()).Msg("monthly statement failed")
			errs = append(errs, err)
			continue
		}
		out = append(out, stmt)
	}
	return out, errors.Join(errs...)
}

// GenerateFinancialStatement summarizes the invoices dated in [start, end]:
// what was billed, what plans covered, what patients paid toward them by the
// end of the period, and what is still owed. Claim reversals booked in the
// period come off insurance payments and onto the outstanding balance.
func (a *Aggregator) GenerateFinancialStatement(ctx context.Context, start, end time.Time) (*Financial, error) {
	start, end, err := normalize(start, end)
	if err != nil {
		return nil, err
	}

	var stmt *Financial
	key := lock.StatementKey(db.TenantFromContext(ctx), "", start, end)
	err = a.locker.WithLock(ctx, key, func(ctx context.Context) error {
		return a.tx.InTx(ctx, func(ctx context.Context) error {
			invoices, err := a.src.Invoices.ListDated(ctx, nil, start, end)
			if err != nil {
				return err
			}
			revenue, insurance, portion := decimal.Zero, decimal.Zero, decimal.Zero
			ids := make([]uuid.UUID, 0, len(invoices))
			for _, inv := range invoices {
				revenue = revenue.Add(inv.TotalAmount)
				insurance = insurance.Add(inv.InsuranceCovered)
				portion = portion.Add(inv.PatientPortion)
				ids = append(ids, inv.ID)
			}

			allocs, err := a.src.Allocations.ListByInvoices(ctx, ids, period.EndOfDay(end))
			if err != nil {
				return err
			}
			patient := decimal.Zero
			for _, al := range allocs {
				patient = patient.Add(al.Amount)
			}
			adjustments, err := a.src.Adjustments.ListDated(ctx, nil, start, end)
			if err != nil {
				return err
			}
			adjusted := decimal.Zero
			for _, adj := range adjustments {
				adjusted = adjusted.Add(adj.Amount)
			}

			stmt = &Financial{
				PeriodStart:        start,
				PeriodEnd:          end,
				TotalRevenue:       revenue,
				InsurancePayments:  insurance.Sub(adjusted),
				PatientPayments:    patient,
				OutstandingBalance: portion.Sub(patient).Add(adjusted),
				GeneratedAt:        a.now().UTC(),
			}
			if sum := stmt.InsurancePayments.Add(stmt.PatientPayments).Add(stmt.OutstandingBalance); !sum.Equal(stmt.TotalRevenue) {
				return apperr.DataInconsistency("financial statement does not balance: revenue %s, components %s", stmt.TotalRevenue, sum)
			}
			if err := a.financial.DeletePeriod(ctx, start, end); err != nil {
				return err
			}
			return a.financial.Create(ctx, stmt)
		})
	})
	if err != nil {
		return nil, err
	}

	a.logger.Info().
		Str("period_start", start.Format(period.Layout)).
		Str("total_revenue", stmt.TotalRevenue.StringFixed(2)).
		Msg("financial statement generated")
	a.emit(ctx, stmt)
	return stmt, nil
}

func (a *Aggregator) GetMonthly(ctx context.Context, patientID uuid.UUID, start, end time.Time) (*Monthly, error) {
	return a.monthly.Get(ctx, patientID, period.Date(start), period.Date(end))
}

func (a *Aggregator) ListMonthly(ctx context.Context, patientID uuid.UUID) ([]*Monthly, error) {
	return a.monthly.ListByPatient(ctx, patientID)
}

func (a *Aggregator) GetFinancial(ctx context.Context, start, end time.Time) (*Financial, error) {
	return a.financial.Get(ctx, period.Date(start), period.Date(end))
}

func (a *Aggregator) ListFinancial(ctx context.Context, from, to time.Time, limit, offset int) ([]*Financial, int, error) {
	if !from.IsZero() && !to.IsZero() {
		if _, _, err := normalize(from, to); err != nil {
			return nil, 0, err
		}
	}
	return a.financial.List(ctx, from, to, limit, offset)
}
