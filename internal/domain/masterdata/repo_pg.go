package masterdata

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rxledger/rxledger/internal/platform/apperr"
	"github.com/rxledger/rxledger/internal/platform/db"
)

// =========== Patient Repository ===========

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository { return &patientRepoPG{pool: pool} }

func (r *patientRepoPG) conn(ctx context.Context) db.Queryable { return db.Conn(ctx, r.pool) }

const patientCols = `id, first_name, last_name, birth_date, province, created_at, updated_at`

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patients (id, first_name, last_name, birth_date, province)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		p.ID, p.FirstName, p.LastName, p.BirthDate, p.Province,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, id).
		Scan(&p.ID, &p.FirstName, &p.LastName, &p.BirthDate, &p.Province, &p.CreatedAt, &p.UpdatedAt)
	if db.NotFound(err) {
		return nil, apperr.NotFound("patient", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get patient: %w", err)
	}
	return &p, nil
}

func (r *patientRepoPG) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patients`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count patients: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+patientCols+` FROM patients
		ORDER BY last_name, first_name, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list patients: %w", err)
	}
	defer rows.Close()
	var out []*Patient
	for rows.Next() {
		var p Patient
		if err := rows.Scan(&p.ID, &p.FirstName, &p.LastName, &p.BirthDate, &p.Province, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan patient: %w", err)
		}
		out = append(out, &p)
	}
	return out, total, rows.Err()
}

// =========== Drug Repository ===========

type drugRepoPG struct{ pool *pgxpool.Pool }

func NewDrugRepoPG(pool *pgxpool.Pool) DrugRepository { return &drugRepoPG{pool: pool} }

func (r *drugRepoPG) conn(ctx context.Context) db.Queryable { return db.Conn(ctx, r.pool) }

const drugCols = `id, din, brand_name, generic_name, schedule, created_at`

const packCols = `id, drug_id, strength, pack_size, acq_cost, selling_cost, created_at`

func scanPack(row pgx.Row) (*DrugPack, error) {
	var p DrugPack
	err := row.Scan(&p.ID, &p.DrugID, &p.Strength, &p.PackSize, &p.AcqCost, &p.SellingCost, &p.CreatedAt)
	return &p, err
}

func (r *drugRepoPG) CreateDrug(ctx context.Context, d *Drug) error {
	d.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO drugs (id, din, brand_name, generic_name, schedule)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		d.ID, d.DIN, d.BrandName, d.GenericName, string(d.Schedule),
	).Scan(&d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert drug: %w", err)
	}
	return nil
}

func (r *drugRepoPG) GetDrug(ctx context.Context, id uuid.UUID) (*Drug, error) {
	var d Drug
	var schedule string
	err := r.conn(ctx).QueryRow(ctx, `SELECT `+drugCols+` FROM drugs WHERE id = $1`, id).
		Scan(&d.ID, &d.DIN, &d.BrandName, &d.GenericName, &schedule, &d.CreatedAt)
	if db.NotFound(err) {
		return nil, apperr.NotFound("drug", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get drug: %w", err)
	}
	d.Schedule = Schedule(schedule)
	return &d, nil
}

func (r *drugRepoPG) CreatePack(ctx context.Context, p *DrugPack) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO drug_packs (id, drug_id, strength, pack_size, acq_cost, selling_cost)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		p.ID, p.DrugID, p.Strength, p.PackSize, p.AcqCost, p.SellingCost,
	).Scan(&p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert drug pack: %w", err)
	}
	return nil
}

func (r *drugRepoPG) GetPack(ctx context.Context, id uuid.UUID) (*DrugPack, error) {
	p, err := scanPack(r.conn(ctx).QueryRow(ctx, `SELECT `+packCols+` FROM drug_packs WHERE id = $1`, id))
	if db.NotFound(err) {
		return nil, apperr.NotFound("drug pack", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get drug pack: %w", err)
	}
	return p, nil
}

func (r *drugRepoPG) ListPacks(ctx context.Context, drugID uuid.UUID) ([]*DrugPack, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+packCols+` FROM drug_packs WHERE drug_id = $1 ORDER BY created_at`, drugID)
	if err != nil {
		return nil, fmt.Errorf("list drug packs: %w", err)
	}
	defer rows.Close()
	var out []*DrugPack
	for rows.Next() {
		p, err := scanPack(rows)
		if err != nil {
			return nil, fmt.Errorf("scan drug pack: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// =========== Plan Repository ===========

type planRepoPG struct{ pool *pgxpool.Pool }

func NewPlanRepoPG(pool *pgxpool.Pool) PlanRepository { return &planRepoPG{pool: pool} }

func (r *planRepoPG) conn(ctx context.Context) db.Queryable { return db.Conn(ctx, r.pool) }

const planCols = `id, code, description, province, is_provincial, created_at`

const subPlanCols = `id, plan_id, code, description, def_sub_plan,
	carrier_id_req, group_req, client_req, cpha_req, rel_req, expiry_req, birth_req,
	covers_otc, coverage_rate, created_at`

func scanSubPlan(row pgx.Row) (*SubPlan, error) {
	var sp SubPlan
	err := row.Scan(&sp.ID, &sp.PlanID, &sp.Code, &sp.Description, &sp.DefSubPlan,
		&sp.CarrierIDReq, &sp.GroupReq, &sp.ClientReq, &sp.CPHAReq, &sp.RelReq, &sp.ExpiryReq, &sp.BirthReq,
		&sp.CoversOTC, &sp.CoverageRate, &sp.CreatedAt)
	return &sp, err
}

func (r *planRepoPG) CreatePlan(ctx context.Context, p *BenefitPlan) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO benefit_plans (id, code, description, province, is_provincial)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		p.ID, p.Code, p.Description, p.Province, p.IsProvincial,
	).Scan(&p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert benefit plan: %w", err)
	}
	return nil
}

func (r *planRepoPG) GetPlan(ctx context.Context, id uuid.UUID) (*BenefitPlan, error) {
	var p BenefitPlan
	err := r.conn(ctx).QueryRow(ctx, `SELECT `+planCols+` FROM benefit_plans WHERE id = $1`, id).
		Scan(&p.ID, &p.Code, &p.Description, &p.Province, &p.IsProvincial, &p.CreatedAt)
	if db.NotFound(err) {
		return nil, apperr.NotFound("benefit plan", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get benefit plan: %w", err)
	}
	return &p, nil
}

func (r *planRepoPG) CreateSubPlan(ctx context.Context, sp *SubPlan) error {
	sp.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO sub_plans (id, plan_id, code, description, def_sub_plan,
			carrier_id_req, group_req, client_req, cpha_req, rel_req, expiry_req, birth_req,
			covers_otc, coverage_rate)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING created_at`,
		sp.ID, sp.PlanID, sp.Code, sp.Description, sp.DefSubPlan,
		sp.CarrierIDReq, sp.GroupReq, sp.ClientReq, sp.CPHAReq, sp.RelReq, sp.ExpiryReq, sp.BirthReq,
		sp.CoversOTC, sp.CoverageRate,
	).Scan(&sp.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert sub plan: %w", err)
	}
	return nil
}

func (r *planRepoPG) GetSubPlan(ctx context.Context, id uuid.UUID) (*SubPlan, error) {
	sp, err := scanSubPlan(r.conn(ctx).QueryRow(ctx, `SELECT `+subPlanCols+` FROM sub_plans WHERE id = $1`, id))
	if db.NotFound(err) {
		return nil, apperr.NotFound("sub plan", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get sub plan: %w", err)
	}
	return sp, nil
}

func (r *planRepoPG) ListSubPlans(ctx context.Context, planID uuid.UUID) ([]*SubPlan, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+subPlanCols+` FROM sub_plans WHERE plan_id = $1 ORDER BY code`, planID)
	if err != nil {
		return nil, fmt.Errorf("list sub plans: %w", err)
	}
	defer rows.Close()
	var out []*SubPlan
	for rows.Next() {
		sp, err := scanSubPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sub plan: %w", err)
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

// =========== Enrollment Repository ===========

type enrollmentRepoPG struct{ pool *pgxpool.Pool }

func NewEnrollmentRepoPG(pool *pgxpool.Pool) EnrollmentRepository {
	return &enrollmentRepoPG{pool: pool}
}

func (r *enrollmentRepoPG) conn(ctx context.Context) db.Queryable { return db.Conn(ctx, r.pool) }

const enrollmentCols = `id, patient_id, plan_id, sub_plan_id, sequence,
	carrier_id, group_id, client_id, cpha_code, relationship, cardholder_birth_date,
	expiry_date, inactivated_at, created_at`

func scanEnrollment(row pgx.Row) (*Enrollment, error) {
	var e Enrollment
	err := row.Scan(&e.ID, &e.PatientID, &e.PlanID, &e.SubPlanID, &e.Sequence,
		&e.CarrierID, &e.GroupID, &e.ClientID, &e.CPHACode, &e.Relationship, &e.CardholderBirthDate,
		&e.ExpiryDate, &e.InactivatedAt, &e.CreatedAt)
	return &e, err
}

func (r *enrollmentRepoPG) Create(ctx context.Context, e *Enrollment) error {
	e.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO enrollments (id, patient_id, plan_id, sub_plan_id, sequence,
			carrier_id, group_id, client_id, cpha_code, relationship, cardholder_birth_date,
			expiry_date, inactivated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING created_at`,
		e.ID, e.PatientID, e.PlanID, e.SubPlanID, e.Sequence,
		e.CarrierID, e.GroupID, e.ClientID, e.CPHACode, e.Relationship, e.CardholderBirthDate,
		e.ExpiryDate, e.InactivatedAt,
	).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert enrollment: %w", err)
	}
	return nil
}

func (r *enrollmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Enrollment, error) {
	e, err := scanEnrollment(r.conn(ctx).QueryRow(ctx, `SELECT `+enrollmentCols+` FROM enrollments WHERE id = $1`, id))
	if db.NotFound(err) {
		return nil, apperr.NotFound("enrollment", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get enrollment: %w", err)
	}
	return e, nil
}

func (r *enrollmentRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Enrollment, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+enrollmentCols+` FROM enrollments
		WHERE patient_id = $1 ORDER BY sequence, created_at`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	defer rows.Close()
	var out []*Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
