package masterdata

import (
	"context"

	"github.com/google/uuid"
)

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	// List pages through patients ordered by last then first name.
	List(ctx context.Context, limit, offset int) ([]*Patient, int, error)
}

type DrugRepository interface {
	CreateDrug(ctx context.Context, d *Drug) error
	GetDrug(ctx context.Context, id uuid.UUID) (*Drug, error)
	CreatePack(ctx context.Context, p *DrugPack) error
	GetPack(ctx context.Context, id uuid.UUID) (*DrugPack, error)
	ListPacks(ctx context.Context, drugID uuid.UUID) ([]*DrugPack, error)
}

type PlanRepository interface {
	CreatePlan(ctx context.Context, p *BenefitPlan) error
	GetPlan(ctx context.Context, id uuid.UUID) (*BenefitPlan, error)
	CreateSubPlan(ctx context.Context, sp *SubPlan) error
	GetSubPlan(ctx context.Context, id uuid.UUID) (*SubPlan, error)
	ListSubPlans(ctx context.Context, planID uuid.UUID) ([]*SubPlan, error)
}

type EnrollmentRepository interface {
	Create(ctx context.Context, e *Enrollment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Enrollment, error)
	// ListByPatient returns every enrollment of the patient ordered by sequence.
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Enrollment, error)
}
