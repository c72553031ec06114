package masterdata

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rxledger/rxledger/internal/platform/apperr"
)

// Directory is the lookup service over master data. Relationships are held
// as ids and resolved here rather than through object back-references.
type Directory struct {
	patients    PatientRepository
	drugs       DrugRepository
	plans       PlanRepository
	enrollments EnrollmentRepository
	now         func() time.Time
}

func NewDirectory(p PatientRepository, d DrugRepository, pl PlanRepository, e EnrollmentRepository) *Directory {
	return &Directory{patients: p, drugs: d, plans: pl, enrollments: e, now: time.Now}
}

// SetClock replaces the time source used for activity checks.
func (s *Directory) SetClock(now func() time.Time) { s.now = now }

// -- Patients --

func (s *Directory) CreatePatient(ctx context.Context, p *Patient) error {
	if strings.TrimSpace(p.FirstName) == "" || strings.TrimSpace(p.LastName) == "" {
		return apperr.InvalidInput("patient first_name and last_name are required")
	}
	if strings.TrimSpace(p.Province) == "" {
		return apperr.InvalidInput("patient province is required")
	}
	p.Province = strings.ToUpper(strings.TrimSpace(p.Province))
	return s.patients.Create(ctx, p)
}

func (s *Directory) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Directory) ListPatients(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.patients.List(ctx, limit, offset)
}

// -- Drugs --

func (s *Directory) CreateDrug(ctx context.Context, d *Drug) error {
	if strings.TrimSpace(d.BrandName) == "" {
		return apperr.InvalidInput("drug brand_name is required")
	}
	if !d.Schedule.Valid() {
		return apperr.InvalidInput("invalid drug schedule: %q", d.Schedule)
	}
	return s.drugs.CreateDrug(ctx, d)
}

func (s *Directory) GetDrug(ctx context.Context, id uuid.UUID) (*Drug, error) {
	return s.drugs.GetDrug(ctx, id)
}

func (s *Directory) CreatePack(ctx context.Context, p *DrugPack) error {
	if _, err := s.drugs.GetDrug(ctx, p.DrugID); err != nil {
		return err
	}
	if p.PackSize.IsZero() {
		p.PackSize = decimal.NewFromInt(1)
	}
	if !p.PackSize.IsPositive() {
		return apperr.InvalidInput("pack_size must be positive")
	}
	if p.AcqCost.Valid && p.AcqCost.Decimal.IsNegative() {
		return apperr.InvalidInput("acq_cost must not be negative")
	}
	return s.drugs.CreatePack(ctx, p)
}

func (s *Directory) GetPack(ctx context.Context, id uuid.UUID) (*DrugPack, error) {
	return s.drugs.GetPack(ctx, id)
}

func (s *Directory) ListPacks(ctx context.Context, drugID uuid.UUID) ([]*DrugPack, error) {
	return s.drugs.ListPacks(ctx, drugID)
}

// PackWithDrug loads a pack and the drug it belongs to.
func (s *Directory) PackWithDrug(ctx context.Context, packID uuid.UUID) (*DrugPack, *Drug, error) {
	pack, err := s.drugs.GetPack(ctx, packID)
	if err != nil {
		return nil, nil, err
	}
	drug, err := s.drugs.GetDrug(ctx, pack.DrugID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, nil, apperr.DataInconsistency("drug pack %s references missing drug %s", pack.ID, pack.DrugID)
		}
		return nil, nil, err
	}
	return pack, drug, nil
}

// -- Plans --

func (s *Directory) CreatePlan(ctx context.Context, p *BenefitPlan) error {
	p.Code = strings.TrimSpace(p.Code)
	if p.Code == "" {
		return apperr.InvalidInput("plan code is required")
	}
	if p.IsProvincial && (p.Province == nil || *p.Province == "") {
		return apperr.InvalidInput("provincial plan %s needs a province", p.Code)
	}
	if p.Province != nil {
		upper := strings.ToUpper(*p.Province)
		p.Province = &upper
	}
	return s.plans.CreatePlan(ctx, p)
}

func (s *Directory) GetPlan(ctx context.Context, id uuid.UUID) (*BenefitPlan, error) {
	return s.plans.GetPlan(ctx, id)
}

func (s *Directory) CreateSubPlan(ctx context.Context, sp *SubPlan) error {
	if _, err := s.plans.GetPlan(ctx, sp.PlanID); err != nil {
		return err
	}
	if strings.TrimSpace(sp.Code) == "" {
		return apperr.InvalidInput("sub plan code is required")
	}
	if sp.CoverageRate.Valid {
		r := sp.CoverageRate.Decimal
		if r.IsNegative() || r.GreaterThan(decimal.NewFromInt(1)) {
			return apperr.InvalidInput("coverage_rate must be between 0 and 1")
		}
	}
	if sp.DefSubPlan {
		existing, err := s.plans.ListSubPlans(ctx, sp.PlanID)
		if err != nil {
			return err
		}
		for _, other := range existing {
			if other.DefSubPlan {
				return apperr.Conflict("plan %s already has default sub plan %s", sp.PlanID, other.Code)
			}
		}
	}
	return s.plans.CreateSubPlan(ctx, sp)
}

func (s *Directory) GetSubPlan(ctx context.Context, id uuid.UUID) (*SubPlan, error) {
	return s.plans.GetSubPlan(ctx, id)
}

func (s *Directory) ListSubPlans(ctx context.Context, planID uuid.UUID) ([]*SubPlan, error) {
	return s.plans.ListSubPlans(ctx, planID)
}

// DefaultSubPlan returns the plan's single default subplan.
func (s *Directory) DefaultSubPlan(ctx context.Context, planID uuid.UUID) (*SubPlan, error) {
	subs, err := s.plans.ListSubPlans(ctx, planID)
	if err != nil {
		return nil, err
	}
	var def *SubPlan
	for _, sp := range subs {
		if !sp.DefSubPlan {
			continue
		}
		if def != nil {
			return nil, apperr.DataInconsistency("plan %s has more than one default sub plan", planID)
		}
		def = sp
	}
	if def == nil {
		return nil, apperr.DataInconsistency("plan %s has no default sub plan", planID)
	}
	return def, nil
}

// -- Enrollments --

func (s *Directory) CreateEnrollment(ctx context.Context, e *Enrollment) error {
	if _, err := s.patients.GetByID(ctx, e.PatientID); err != nil {
		return err
	}
	if _, err := s.plans.GetPlan(ctx, e.PlanID); err != nil {
		return err
	}
	if e.SubPlanID != nil {
		sp, err := s.plans.GetSubPlan(ctx, *e.SubPlanID)
		if err != nil {
			return err
		}
		if sp.PlanID != e.PlanID {
			return apperr.InvalidInput("sub plan %s does not belong to plan %s", sp.ID, e.PlanID)
		}
	}
	if e.Sequence <= 0 {
		return apperr.InvalidInput("enrollment sequence must be positive")
	}

	existing, err := s.enrollments.ListByPatient(ctx, e.PatientID)
	if err != nil {
		return err
	}
	now := s.now()
	for _, other := range existing {
		if other.Sequence == e.Sequence {
			return apperr.Conflict("patient %s already has an enrollment with sequence %d", e.PatientID, e.Sequence)
		}
		if other.PlanID == e.PlanID && other.ActiveOn(now) && e.ActiveOn(now) {
			return apperr.Conflict("patient %s already has an active enrollment in plan %s", e.PatientID, e.PlanID)
		}
	}
	return s.enrollments.Create(ctx, e)
}

func (s *Directory) GetEnrollment(ctx context.Context, id uuid.UUID) (*Enrollment, error) {
	return s.enrollments.GetByID(ctx, id)
}

func (s *Directory) EnrollmentsForPatient(ctx context.Context, patientID uuid.UUID) ([]*Enrollment, error) {
	return s.enrollments.ListByPatient(ctx, patientID)
}
