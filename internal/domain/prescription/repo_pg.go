package prescription

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

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Queryable { return db.Conn(ctx, r.pool) }

const cols = `id, patient_id, drug_pack_id, schedule, dispensed_qty, days_supply, fill_date,
	acquisition_cost, markup, fee, gross_charge, copied_from_id, adjudicated_at, created_at`

func scan(row pgx.Row) (*Prescription, error) {
	var p Prescription
	err := row.Scan(&p.ID, &p.PatientID, &p.DrugPackID, &p.Schedule, &p.DispensedQty, &p.DaysSupply, &p.FillDate,
		&p.AcquisitionCost, &p.Markup, &p.Fee, &p.GrossCharge, &p.CopiedFromID, &p.AdjudicatedAt, &p.CreatedAt)
	return &p, err
}

func (r *repoPG) Create(ctx context.Context, p *Prescription) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO prescriptions (id, patient_id, drug_pack_id, schedule, dispensed_qty, days_supply, fill_date,
			acquisition_cost, markup, fee, gross_charge, copied_from_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at`,
		p.ID, p.PatientID, p.DrugPackID, p.Schedule, p.DispensedQty, p.DaysSupply, p.FillDate,
		p.AcquisitionCost, p.Markup, p.Fee, p.GrossCharge, p.CopiedFromID,
	).Scan(&p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert prescription: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	p, err := scan(r.conn(ctx).QueryRow(ctx, `SELECT `+cols+` FROM prescriptions WHERE id = $1`, id))
	if db.NotFound(err) {
		return nil, apperr.NotFound("prescription", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get prescription: %w", err)
	}
	return p, nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM prescriptions WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count prescriptions: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+cols+` FROM prescriptions
		WHERE patient_id = $1 ORDER BY fill_date DESC, created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list prescriptions: %w", err)
	}
	defer rows.Close()
	var out []*Prescription
	for rows.Next() {
		p, err := scan(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan prescription: %w", err)
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

func (r *repoPG) MarkAdjudicated(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE prescriptions SET adjudicated_at = $2
		WHERE id = $1 AND adjudicated_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("mark prescription adjudicated: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return apperr.Conflict("prescription %s is already adjudicated", id)
	}
	return nil
}
