package prescription

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rxledger/rxledger/internal/domain/masterdata"
	"github.com/rxledger/rxledger/internal/domain/pricing"
	"github.com/rxledger/rxledger/internal/platform/apperr"
	"github.com/rxledger/rxledger/pkg/period"
)

type Service struct {
	repo Repository
	dir  *masterdata.Directory
	calc *pricing.Calculator
	now  func() time.Time
}

func NewService(repo Repository, dir *masterdata.Directory, calc *pricing.Calculator) *Service {
	return &Service{repo: repo, dir: dir, calc: calc, now: time.Now}
}

func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Create prices a fill and stores it. The drug's schedule is copied onto the
// prescription so later changes to the drug do not affect adjudication.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Prescription, error) {
	if _, err := s.dir.GetPatient(ctx, req.PatientID); err != nil {
		return nil, err
	}
	if req.DaysSupply < 0 {
		return nil, apperr.InvalidInput("days_supply must not be negative")
	}
	fillDate := period.Date(s.now())
	if req.FillDate != nil {
		fillDate = period.Date(*req.FillDate)
	}

	rx := &Prescription{
		PatientID:    req.PatientID,
		DrugPackID:   req.DrugPackID,
		DispensedQty: req.DispensedQty,
		DaysSupply:   req.DaysSupply,
		FillDate:     fillDate,
	}
	if err := s.price(ctx, rx); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, rx); err != nil {
		return nil, err
	}
	return rx, nil
}

// Reprice stores a new prescription derived from id with fresh pricing.
// The original is left untouched.
func (s *Service) Reprice(ctx context.Context, id uuid.UUID, req RepriceRequest) (*Prescription, error) {
	orig, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	rx := &Prescription{
		PatientID:    orig.PatientID,
		DrugPackID:   orig.DrugPackID,
		DispensedQty: orig.DispensedQty,
		DaysSupply:   orig.DaysSupply,
		FillDate:     orig.FillDate,
		CopiedFromID: &orig.ID,
	}
	if req.DrugPackID != nil {
		rx.DrugPackID = *req.DrugPackID
	}
	if req.DispensedQty.Valid {
		rx.DispensedQty = req.DispensedQty.Decimal
	}
	if req.DaysSupply != nil {
		if *req.DaysSupply < 0 {
			return nil, apperr.InvalidInput("days_supply must not be negative")
		}
		rx.DaysSupply = *req.DaysSupply
	}
	if err := s.price(ctx, rx); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, rx); err != nil {
		return nil, err
	}
	return rx, nil
}

func (s *Service) price(ctx context.Context, rx *Prescription) error {
	pack, drug, err := s.dir.PackWithDrug(ctx, rx.DrugPackID)
	if err != nil {
		return err
	}
	b, err := s.calc.Price(pack, rx.DispensedQty)
	if err != nil {
		return err
	}
	rx.Schedule = drug.Schedule
	rx.Breakdown = b
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// MarkAdjudicated freezes the prescription against a second adjudication.
func (s *Service) MarkAdjudicated(ctx context.Context, id uuid.UUID) (time.Time, error) {
	at := s.now().UTC()
	if err := s.repo.MarkAdjudicated(ctx, id, at); err != nil {
		return time.Time{}, err
	}
	return at, nil
}
