package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/rxledger/rxledger/internal/platform/apperr"
	"github.com/rxledger/rxledger/internal/platform/db"
)

func uniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// =========== Invoice Repository ===========

type invoiceRepoPG struct{ pool *pgxpool.Pool }

func NewInvoiceRepoPG(pool *pgxpool.Pool) InvoiceRepository { return &invoiceRepoPG{pool: pool} }

func (r *invoiceRepoPG) conn(ctx context.Context) db.Queryable { return db.Conn(ctx, r.pool) }

const invoiceCols = `id, prescription_id, patient_id, invoice_date, due_date, total_amount, insurance_covered,
	patient_portion, adjustments, amount_paid, status, version, created_at, updated_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var i Invoice
	err := row.Scan(&i.ID, &i.PrescriptionID, &i.PatientID, &i.InvoiceDate, &i.DueDate, &i.TotalAmount, &i.InsuranceCovered,
		&i.PatientPortion, &i.Adjustments, &i.AmountPaid, &i.Status, &i.Version, &i.CreatedAt, &i.UpdatedAt)
	return &i, err
}

func (r *invoiceRepoPG) scanAll(rows pgx.Rows) ([]*Invoice, error) {
	defer rows.Close()
	var out []*Invoice
	for rows.Next() {
		i, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func (r *invoiceRepoPG) Create(ctx context.Context, inv *Invoice) error {
	inv.ID = uuid.New()
	inv.Version = 1
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO invoices (id, prescription_id, patient_id, invoice_date, due_date, total_amount,
			insurance_covered, patient_portion, amount_paid, status, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`,
		inv.ID, inv.PrescriptionID, inv.PatientID, inv.InvoiceDate, inv.DueDate, inv.TotalAmount,
		inv.InsuranceCovered, inv.PatientPortion, inv.AmountPaid, inv.Status, inv.Version,
	).Scan(&inv.CreatedAt, &inv.UpdatedAt)
	if uniqueViolation(err) {
		return apperr.Conflict("prescription %s is already invoiced", inv.PrescriptionID)
	}
	if err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}
	return nil
}

func (r *invoiceRepoPG) get(ctx context.Context, query string, arg interface{}, what string) (*Invoice, error) {
	i, err := scanInvoice(r.conn(ctx).QueryRow(ctx, query, arg))
	if db.NotFound(err) {
		return nil, apperr.NotFound(what, arg)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", what, err)
	}
	return i, nil
}

func (r *invoiceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return r.get(ctx, `SELECT `+invoiceCols+` FROM invoices WHERE id = $1`, id, "invoice")
}

func (r *invoiceRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return r.get(ctx, `SELECT `+invoiceCols+` FROM invoices WHERE id = $1 FOR UPDATE`, id, "invoice")
}

func (r *invoiceRepoPG) GetByPrescription(ctx context.Context, prescriptionID uuid.UUID) (*Invoice, error) {
	return r.get(ctx, `SELECT `+invoiceCols+` FROM invoices WHERE prescription_id = $1`, prescriptionID, "invoice for prescription")
}

func (r *invoiceRepoPG) Update(ctx context.Context, inv *Invoice) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE invoices SET amount_paid = $3, adjustments = $4, status = $5,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at`,
		inv.ID, inv.Version, inv.AmountPaid, inv.Adjustments, inv.Status,
	).Scan(&inv.Version, &inv.UpdatedAt)
	if db.NotFound(err) {
		return apperr.Conflict("invoice %s was modified concurrently", inv.ID)
	}
	if err != nil {
		return fmt.Errorf("update invoice: %w", err)
	}
	return nil
}

func (r *invoiceRepoPG) List(ctx context.Context, f InvoiceFilter, limit, offset int) ([]*Invoice, int, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.From != nil {
		add("invoice_date >= $%d", *f.From)
	}
	if f.To != nil {
		add("invoice_date <= $%d", *f.To)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM invoices`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count invoices: %w", err)
	}
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+invoiceCols+` FROM invoices`+clause+
		fmt.Sprintf(` ORDER BY invoice_date DESC, created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list invoices: %w", err)
	}
	out, err := r.scanAll(rows)
	return out, total, err
}

func (r *invoiceRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Invoice, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+invoiceCols+` FROM invoices
		WHERE patient_id = $1 ORDER BY invoice_date DESC, created_at DESC`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list patient invoices: %w", err)
	}
	return r.scanAll(rows)
}

func (r *invoiceRepoPG) ListDated(ctx context.Context, patientID *uuid.UUID, start, end time.Time) ([]*Invoice, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+invoiceCols+` FROM invoices
		WHERE invoice_date BETWEEN $1 AND $2 AND ($3::uuid IS NULL OR patient_id = $3)
		ORDER BY invoice_date, created_at`, start, end, patientID)
	if err != nil {
		return nil, fmt.Errorf("list dated invoices: %w", err)
	}
	return r.scanAll(rows)
}

func (r *invoiceRepoPG) ListPastDue(ctx context.Context, asOf time.Time) ([]*Invoice, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+invoiceCols+` FROM invoices
		WHERE status IN ('pending', 'partial') AND due_date < $1 AND amount_paid < patient_portion + adjustments
		ORDER BY due_date`, asOf)
	if err != nil {
		return nil, fmt.Errorf("list past due invoices: %w", err)
	}
	return r.scanAll(rows)
}

func (r *invoiceRepoPG) PatientsInvoiced(ctx context.Context, start, end time.Time) ([]uuid.UUID, error) {
	return queryIDs(ctx, r.conn(ctx), `SELECT DISTINCT patient_id FROM invoices WHERE invoice_date BETWEEN $1 AND $2`, start, end)
}

func queryIDs(ctx context.Context, q db.Queryable, sql string, args ...interface{}) ([]uuid.UUID, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list patient ids: %w", err)
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

// =========== Payment Repository ===========

type paymentRepoPG struct{ pool *pgxpool.Pool }

func NewPaymentRepoPG(pool *pgxpool.Pool) PaymentRepository { return &paymentRepoPG{pool: pool} }

func (r *paymentRepoPG) conn(ctx context.Context) db.Queryable { return db.Conn(ctx, r.pool) }

const paymentCols = `id, patient_id, amount, method, payment_date, reference, reverses_id, version, created_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.PatientID, &p.Amount, &p.Method, &p.PaymentDate, &p.Reference, &p.ReversesID, &p.Version, &p.CreatedAt)
	return &p, err
}

func (r *paymentRepoPG) Create(ctx context.Context, p *Payment) error {
	p.ID = uuid.New()
	p.Version = 1
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO payments (id, patient_id, amount, method, payment_date, reference, reverses_id, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		p.ID, p.PatientID, p.Amount, p.Method, p.PaymentDate, p.Reference, p.ReversesID, p.Version,
	).Scan(&p.CreatedAt)
	if uniqueViolation(err) && p.ReversesID != nil {
		return apperr.Conflict("payment %s is already reversed", *p.ReversesID)
	}
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *paymentRepoPG) get(ctx context.Context, query string, id uuid.UUID, what string) (*Payment, error) {
	p, err := scanPayment(r.conn(ctx).QueryRow(ctx, query, id))
	if db.NotFound(err) {
		return nil, apperr.NotFound(what, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", what, err)
	}
	return p, nil
}

func (r *paymentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return r.get(ctx, `SELECT `+paymentCols+` FROM payments WHERE id = $1`, id, "payment")
}

func (r *paymentRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return r.get(ctx, `SELECT `+paymentCols+` FROM payments WHERE id = $1 FOR UPDATE`, id, "payment")
}

func (r *paymentRepoPG) GetReversal(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return r.get(ctx, `SELECT `+paymentCols+` FROM payments WHERE reverses_id = $1`, id, "payment reversal")
}

func (r *paymentRepoPG) Touch(ctx context.Context, p *Payment) error {
	err := r.conn(ctx).QueryRow(ctx, `UPDATE payments SET version = version + 1
		WHERE id = $1 AND version = $2 RETURNING version`, p.ID, p.Version).Scan(&p.Version)
	if db.NotFound(err) {
		return apperr.Conflict("payment %s was modified concurrently", p.ID)
	}
	if err != nil {
		return fmt.Errorf("touch payment: %w", err)
	}
	return nil
}

func (r *paymentRepoPG) ListDated(ctx context.Context, patientID uuid.UUID, start, end time.Time) ([]*Payment, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+paymentCols+` FROM payments
		WHERE patient_id = $1 AND payment_date BETWEEN $2 AND $3
		ORDER BY payment_date, created_at`, patientID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()
	var out []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *paymentRepoPG) PatientsPaying(ctx context.Context, start, end time.Time) ([]uuid.UUID, error) {
	return queryIDs(ctx, r.conn(ctx), `SELECT DISTINCT patient_id FROM payments WHERE payment_date BETWEEN $1 AND $2`, start, end)
}

// =========== Allocation Repository ===========

type allocationRepoPG struct{ pool *pgxpool.Pool }

func NewAllocationRepoPG(pool *pgxpool.Pool) AllocationRepository { return &allocationRepoPG{pool: pool} }

func (r *allocationRepoPG) conn(ctx context.Context) db.Queryable { return db.Conn(ctx, r.pool) }

const allocationCols = `id, payment_id, invoice_id, amount, applied_at`

func (r *allocationRepoPG) Create(ctx context.Context, a *Allocation) error {
	a.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `INSERT INTO payment_invoices (`+allocationCols+`) VALUES ($1, $2, $3, $4, $5)`,
		a.ID, a.PaymentID, a.InvoiceID, a.Amount, a.AppliedAt)
	if uniqueViolation(err) {
		return apperr.Conflict("payment %s is already allocated to invoice %s", a.PaymentID, a.InvoiceID)
	}
	if err != nil {
		return fmt.Errorf("insert allocation: %w", err)
	}
	return nil
}

func (r *allocationRepoPG) Get(ctx context.Context, paymentID, invoiceID uuid.UUID) (*Allocation, error) {
	var a Allocation
	err := r.conn(ctx).QueryRow(ctx, `SELECT `+allocationCols+` FROM payment_invoices
		WHERE payment_id = $1 AND invoice_id = $2`, paymentID, invoiceID).
		Scan(&a.ID, &a.PaymentID, &a.InvoiceID, &a.Amount, &a.AppliedAt)
	if db.NotFound(err) {
		return nil, apperr.NotFound("allocation", paymentID.String()+"/"+invoiceID.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get allocation: %w", err)
	}
	return &a, nil
}

func (r *allocationRepoPG) list(ctx context.Context, sql string, args ...interface{}) ([]*Allocation, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	defer rows.Close()
	var out []*Allocation
	for rows.Next() {
		var a Allocation
		if err := rows.Scan(&a.ID, &a.PaymentID, &a.InvoiceID, &a.Amount, &a.AppliedAt); err != nil {
			return nil, fmt.Errorf("scan allocation: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (r *allocationRepoPG) ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]*Allocation, error) {
	return r.list(ctx, `SELECT `+allocationCols+` FROM payment_invoices WHERE payment_id = $1 ORDER BY applied_at`, paymentID)
}

func (r *allocationRepoPG) ListByInvoices(ctx context.Context, invoiceIDs []uuid.UUID, appliedBy time.Time) ([]*Allocation, error) {
	if len(invoiceIDs) == 0 {
		return nil, nil
	}
	return r.list(ctx, `SELECT `+allocationCols+` FROM payment_invoices
		WHERE invoice_id = ANY($1) AND applied_at <= $2 ORDER BY applied_at`, invoiceIDs, appliedBy)
}

func (r *allocationRepoPG) SumByPayment(ctx context.Context, paymentID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.conn(ctx).QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM payment_invoices WHERE payment_id = $1`, paymentID).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum allocations: %w", err)
	}
	return sum, nil
}

// =========== Adjustment Repository ===========

type adjustmentRepoPG struct{ pool *pgxpool.Pool }

func NewAdjustmentRepoPG(pool *pgxpool.Pool) AdjustmentRepository { return &adjustmentRepoPG{pool: pool} }

func (r *adjustmentRepoPG) conn(ctx context.Context) db.Queryable { return db.Conn(ctx, r.pool) }

const adjustmentCols = `id, invoice_id, patient_id, claim_id, amount, adjustment_date, reason, created_at`

func (r *adjustmentRepoPG) Create(ctx context.Context, a *Adjustment) error {
	a.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO invoice_adjustments (id, invoice_id, patient_id, claim_id, amount, adjustment_date, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		a.ID, a.InvoiceID, a.PatientID, a.ClaimID, a.Amount, a.AdjustmentDate, a.Reason,
	).Scan(&a.CreatedAt)
	if uniqueViolation(err) && a.ClaimID != nil {
		return apperr.Conflict("claim %s already adjusted invoice %s", *a.ClaimID, a.InvoiceID)
	}
	if err != nil {
		return fmt.Errorf("insert adjustment: %w", err)
	}
	return nil
}

func (r *adjustmentRepoPG) list(ctx context.Context, sql string, args ...interface{}) ([]*Adjustment, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list adjustments: %w", err)
	}
	defer rows.Close()
	var out []*Adjustment
	for rows.Next() {
		var a Adjustment
		if err := rows.Scan(&a.ID, &a.InvoiceID, &a.PatientID, &a.ClaimID, &a.Amount, &a.AdjustmentDate,
			&a.Reason, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan adjustment: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (r *adjustmentRepoPG) ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*Adjustment, error) {
	return r.list(ctx, `SELECT `+adjustmentCols+` FROM invoice_adjustments
		WHERE invoice_id = $1 ORDER BY adjustment_date, created_at`, invoiceID)
}

func (r *adjustmentRepoPG) ListDated(ctx context.Context, patientID *uuid.UUID, start, end time.Time) ([]*Adjustment, error) {
	return r.list(ctx, `SELECT `+adjustmentCols+` FROM invoice_adjustments
		WHERE adjustment_date BETWEEN $1 AND $2 AND ($3::uuid IS NULL OR patient_id = $3)
		ORDER BY adjustment_date, created_at`, start, end, patientID)
}

func (r *adjustmentRepoPG) PatientsAdjusted(ctx context.Context, start, end time.Time) ([]uuid.UUID, error) {
	return queryIDs(ctx, r.conn(ctx), `SELECT DISTINCT patient_id FROM invoice_adjustments
		WHERE adjustment_date BETWEEN $1 AND $2`, start, end)
}
