package statement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rxledger/rxledger/internal/platform/apperr"
	"github.com/rxledger/rxledger/internal/platform/db"
)

// =========== Monthly Statement Repository ===========

type monthlyRepoPG struct{ pool *pgxpool.Pool }

func NewMonthlyRepoPG(pool *pgxpool.Pool) MonthlyRepository { return &monthlyRepoPG{pool: pool} }

func (r *monthlyRepoPG) conn(ctx context.Context) db.Queryable { return db.Conn(ctx, r.pool) }

const monthlyCols = `id, patient_id, period_start, period_end, opening_balance, charges, payments, closing_balance, generated_at`

func scanMonthly(row pgx.Row) (*Monthly, error) {
	var s Monthly
	err := row.Scan(&s.ID, &s.PatientID, &s.PeriodStart, &s.PeriodEnd, &s.OpeningBalance, &s.Charges, &s.Payments, &s.ClosingBalance, &s.GeneratedAt)
	return &s, err
}

func (r *monthlyRepoPG) Create(ctx context.Context, s *Monthly) error {
	s.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `INSERT INTO monthly_statements (`+monthlyCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, s.PatientID, s.PeriodStart, s.PeriodEnd, s.OpeningBalance, s.Charges, s.Payments, s.ClosingBalance, s.GeneratedAt)
	if err != nil {
		return fmt.Errorf("insert monthly statement: %w", err)
	}
	return nil
}

func (r *monthlyRepoPG) Get(ctx context.Context, patientID uuid.UUID, start, end time.Time) (*Monthly, error) {
	s, err := scanMonthly(r.conn(ctx).QueryRow(ctx, `SELECT `+monthlyCols+` FROM monthly_statements
		WHERE patient_id = $1 AND period_start = $2 AND period_end = $3`, patientID, start, end))
	if db.NotFound(err) {
		return nil, apperr.NotFound("monthly statement", fmt.Sprintf("%s %s..%s", patientID, start.Format("2006-01-02"), end.Format("2006-01-02")))
	}
	if err != nil {
		return nil, fmt.Errorf("get monthly statement: %w", err)
	}
	return s, nil
}

func (r *monthlyRepoPG) LatestBefore(ctx context.Context, patientID uuid.UUID, start time.Time) (*Monthly, error) {
	s, err := scanMonthly(r.conn(ctx).QueryRow(ctx, `SELECT `+monthlyCols+` FROM monthly_statements
		WHERE patient_id = $1 AND period_end < $2
		ORDER BY period_end DESC, generated_at DESC LIMIT 1`, patientID, start))
	if db.NotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get previous monthly statement: %w", err)
	}
	return s, nil
}

func (r *monthlyRepoPG) DeletePeriod(ctx context.Context, patientID uuid.UUID, start, end time.Time) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM monthly_statements
		WHERE patient_id = $1 AND period_start = $2 AND period_end = $3`, patientID, start, end)
	if err != nil {
		return fmt.Errorf("delete monthly statement: %w", err)
	}
	return nil
}

func (r *monthlyRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Monthly, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+monthlyCols+` FROM monthly_statements
		WHERE patient_id = $1 ORDER BY period_start DESC`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list monthly statements: %w", err)
	}
	defer rows.Close()
	var out []*Monthly
	for rows.Next() {
		s, err := scanMonthly(rows)
		if err != nil {
			return nil, fmt.Errorf("scan monthly statement: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *monthlyRepoPG) PatientsWithBalance(ctx context.Context, start time.Time) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT patient_id FROM (
			SELECT DISTINCT ON (patient_id) patient_id, closing_balance
			FROM monthly_statements WHERE period_end < $1
			ORDER BY patient_id, period_end DESC
		) latest WHERE closing_balance <> 0`, start)
	if err != nil {
		return nil, fmt.Errorf("list patients with balance: %w", err)
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan patient id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// =========== Financial Statement Repository ===========

type financialRepoPG struct{ pool *pgxpool.Pool }

func NewFinancialRepoPG(pool *pgxpool.Pool) FinancialRepository { return &financialRepoPG{pool: pool} }

func (r *financialRepoPG) conn(ctx context.Context) db.Queryable { return db.Conn(ctx, r.pool) }

const financialCols = `id, period_start, period_end, total_revenue, insurance_payments, patient_payments, outstanding_balance, generated_at`

func (r *financialRepoPG) Create(ctx context.Context, s *Financial) error {
	s.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `INSERT INTO financial_statements (`+financialCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.PeriodStart, s.PeriodEnd, s.TotalRevenue, s.InsurancePayments, s.PatientPayments, s.OutstandingBalance, s.GeneratedAt)
	if err != nil {
		return fmt.Errorf("insert financial statement: %w", err)
	}
	return nil
}

func scanFinancial(row pgx.Row) (*Financial, error) {
	var s Financial
	err := row.Scan(&s.ID, &s.PeriodStart, &s.PeriodEnd, &s.TotalRevenue, &s.InsurancePayments, &s.PatientPayments, &s.OutstandingBalance, &s.GeneratedAt)
	return &s, err
}

func (r *financialRepoPG) Get(ctx context.Context, start, end time.Time) (*Financial, error) {
	s, err := scanFinancial(r.conn(ctx).QueryRow(ctx, `SELECT `+financialCols+` FROM financial_statements
		WHERE period_start = $1 AND period_end = $2`, start, end))
	if db.NotFound(err) {
		return nil, apperr.NotFound("financial statement", start.Format("2006-01-02")+".."+end.Format("2006-01-02"))
	}
	if err != nil {
		return nil, fmt.Errorf("get financial statement: %w", err)
	}
	return s, nil
}

func (r *financialRepoPG) List(ctx context.Context, from, to time.Time, limit, offset int) ([]*Financial, int, error) {
	var lo, hi *time.Time
	if !from.IsZero() {
		lo = &from
	}
	if !to.IsZero() {
		hi = &to
	}
	const where = ` WHERE ($1::date IS NULL OR period_end >= $1) AND ($2::date IS NULL OR period_start <= $2)`
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM financial_statements`+where, lo, hi).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count financial statements: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+financialCols+` FROM financial_statements`+where+`
		ORDER BY period_start DESC, period_end DESC LIMIT $3 OFFSET $4`, lo, hi, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list financial statements: %w", err)
	}
	defer rows.Close()
	var out []*Financial
	for rows.Next() {
		s, err := scanFinancial(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan financial statement: %w", err)
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

func (r *financialRepoPG) DeletePeriod(ctx context.Context, start, end time.Time) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM financial_statements WHERE period_start = $1 AND period_end = $2`, start, end)
	if err != nil {
		return fmt.Errorf("delete financial statement: %w", err)
	}
	return nil
}
