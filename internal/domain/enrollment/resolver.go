// Package enrollment turns a patient's stored enrollments into the ordered
// list of plans a claim is submitted to.
package enrollment

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/rxledger/rxledger/internal/domain/masterdata"
	"github.com/rxledger/rxledger/internal/platform/apperr"
)

// Candidate is one enrollment with its plan and effective subplan resolved.
type Candidate struct {
	Enrollment *masterdata.Enrollment  `json:"enrollment"`
	Plan       *masterdata.BenefitPlan `json:"plan"`
	SubPlan    *masterdata.SubPlan     `json:"sub_plan"`
}

// Directory is the master-data lookup the resolver reads from.
type Directory interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*masterdata.Patient, error)
	EnrollmentsForPatient(ctx context.Context, patientID uuid.UUID) ([]*masterdata.Enrollment, error)
	GetPlan(ctx context.Context, id uuid.UUID) (*masterdata.BenefitPlan, error)
	GetSubPlan(ctx context.Context, id uuid.UUID) (*masterdata.SubPlan, error)
	DefaultSubPlan(ctx context.Context, planID uuid.UUID) (*masterdata.SubPlan, error)
}

type Resolver struct {
	dir Directory
}

func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve returns the patient's enrollments active on asOf in sequence
// order. No active enrollment yields a NoEligiblePlan error, which callers
// treat as self-pay. Broken master data yields DataInconsistency.
func (r *Resolver) Resolve(ctx context.Context, patientID uuid.UUID, asOf time.Time) ([]Candidate, error) {
	patient, err := r.dir.GetPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	enrollments, err := r.dir.EnrollmentsForPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}

	var active []*masterdata.Enrollment
	seqs := make(map[int]uuid.UUID)
	plans := make(map[uuid.UUID]bool)
	for _, e := range enrollments {
		if !e.ActiveOn(asOf) {
			continue
		}
		if other, dup := seqs[e.Sequence]; dup {
			return nil, apperr.DataInconsistency("enrollments %s and %s share sequence %d", other, e.ID, e.Sequence)
		}
		seqs[e.Sequence] = e.ID
		if plans[e.PlanID] {
			return nil, apperr.DataInconsistency("patient %s has more than one active enrollment in plan %s", patientID, e.PlanID)
		}
		plans[e.PlanID] = true
		active = append(active, e)
	}
	if len(active) == 0 {
		return nil, apperr.NoEligiblePlan("patient %s has no active enrollment on %s", patientID, asOf.Format("2006-01-02"))
	}
	sort.SliceStable(active, func(i, j int) bool { return active[i].Sequence < active[j].Sequence })

	out := make([]Candidate, 0, len(active))
	for _, e := range active {
		c, err := r.candidate(ctx, patient, e)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *Resolver) candidate(ctx context.Context, patient *masterdata.Patient, e *masterdata.Enrollment) (Candidate, error) {
	plan, err := r.dir.GetPlan(ctx, e.PlanID)
	if err != nil {
		return Candidate{}, inconsistent(err, "enrollment %s references missing plan %s", e.ID, e.PlanID)
	}
	if plan.Province != nil && *plan.Province != patient.Province {
		return Candidate{}, apperr.DataInconsistency("enrollment %s: plan %s is for province %s, patient lives in %s",
			e.ID, plan.Code, *plan.Province, patient.Province)
	}

	var sub *masterdata.SubPlan
	if e.SubPlanID != nil {
		sub, err = r.dir.GetSubPlan(ctx, *e.SubPlanID)
		if err != nil {
			return Candidate{}, inconsistent(err, "enrollment %s references missing sub plan %s", e.ID, *e.SubPlanID)
		}
		if sub.PlanID != plan.ID {
			return Candidate{}, apperr.DataInconsistency("enrollment %s: sub plan %s belongs to another plan", e.ID, sub.Code)
		}
	} else {
		sub, err = r.dir.DefaultSubPlan(ctx, plan.ID)
		if err != nil {
			return Candidate{}, err
		}
	}
	return Candidate{Enrollment: e, Plan: plan, SubPlan: sub}, nil
}

func inconsistent(err error, format string, args ...interface{}) error {
	if apperr.KindOf(err) == apperr.KindNotFound {
		return apperr.Wrap(apperr.KindDataInconsistency, err, format, args...)
	}
	return err
}
