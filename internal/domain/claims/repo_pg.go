package claims

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rxledger/rxledger/internal/platform/apperr"
	"github.com/rxledger/rxledger/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Queryable { return db.Conn(ctx, r.pool) }

const claimCols = `id, prescription_id, enrollment_id, sequence, amount_requested, state, reverses_id, created_at`

func scanClaim(row pgx.Row) (*Claim, error) {
	var c Claim
	err := row.Scan(&c.ID, &c.PrescriptionID, &c.EnrollmentID, &c.Sequence, &c.AmountRequested, &c.State, &c.ReversesID, &c.CreatedAt)
	return &c, err
}

func (r *repoPG) Create(ctx context.Context, c *Claim) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO claims (id, prescription_id, enrollment_id, sequence, amount_requested, state, reverses_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		c.ID, c.PrescriptionID, c.EnrollmentID, c.Sequence, c.AmountRequested, c.State, c.ReversesID,
	).Scan(&c.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && c.ReversesID != nil {
		return apperr.Conflict("claim %s is already reversed", *c.ReversesID)
	}
	if err != nil {
		return fmt.Errorf("insert claim: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Claim, error) {
	c, err := scanClaim(r.conn(ctx).QueryRow(ctx, `SELECT `+claimCols+` FROM claims WHERE id = $1`, id))
	if db.NotFound(err) {
		return nil, apperr.NotFound("claim", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get claim: %w", err)
	}
	return c, nil
}

func (r *repoPG) ListByPrescription(ctx context.Context, prescriptionID uuid.UUID) ([]*Claim, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+claimCols+` FROM claims
		WHERE prescription_id = $1 ORDER BY created_at, sequence`, prescriptionID)
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	defer rows.Close()
	var out []*Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *repoPG) GetReversal(ctx context.Context, id uuid.UUID) (*Claim, error) {
	c, err := scanClaim(r.conn(ctx).QueryRow(ctx, `SELECT `+claimCols+` FROM claims WHERE reverses_id = $1`, id))
	if db.NotFound(err) {
		return nil, apperr.NotFound("claim reversal", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get claim reversal: %w", err)
	}
	return c, nil
}

const adjCols = `id, claim_id, attempt, submitted_cost, submitted_markup, submitted_fee,
	paid_cost, paid_markup, paid_fee, plan_pays, copay, result_code, message, adjudicated_at`

func (r *repoPG) CreateAdjudication(ctx context.Context, a *Adjudication) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO claim_adjudications (`+adjCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		a.ID, a.ClaimID, a.Attempt, a.SubmittedCost, a.SubmittedMarkup, a.SubmittedFee,
		a.PaidCost, a.PaidMarkup, a.PaidFee, a.PlanPays, a.Copay, a.ResultCode, a.Message, a.AdjudicatedAt)
	if err != nil {
		return fmt.Errorf("insert claim adjudication: %w", err)
	}
	return nil
}

func (r *repoPG) ListAdjudications(ctx context.Context, claimID uuid.UUID) ([]*Adjudication, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+adjCols+` FROM claim_adjudications
		WHERE claim_id = $1 ORDER BY attempt`, claimID)
	if err != nil {
		return nil, fmt.Errorf("list claim adjudications: %w", err)
	}
	defer rows.Close()
	var out []*Adjudication
	for rows.Next() {
		var a Adjudication
		if err := rows.Scan(&a.ID, &a.ClaimID, &a.Attempt, &a.SubmittedCost, &a.SubmittedMarkup, &a.SubmittedFee,
			&a.PaidCost, &a.PaidMarkup, &a.PaidFee, &a.PlanPays, &a.Copay, &a.ResultCode, &a.Message, &a.AdjudicatedAt); err != nil {
			return nil, fmt.Errorf("scan claim adjudication: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
