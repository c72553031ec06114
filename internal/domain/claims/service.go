package claims

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rxledger/rxledger/internal/domain/enrollment"
	"github.com/rxledger/rxledger/internal/domain/prescription"
	"github.com/rxledger/rxledger/internal/platform/apperr"
)

type Service struct {
	repo   Repository
	engine *Engine
	now    func() time.Time
}

func NewService(repo Repository, engine *Engine) *Service {
	return &Service{repo: repo, engine: engine, now: time.Now}
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
	s.engine.SetClock(now)
}

// Adjudicate runs the engine for rx and stores every claim and adjudication
// it produced. Callers own the surrounding transaction.
func (s *Service) Adjudicate(ctx context.Context, rx *prescription.Prescription, candidates []enrollment.Candidate) (*Outcome, error) {
	out := s.engine.Adjudicate(rx, candidates)
	for _, r := range out.Results {
		if err := s.repo.Create(ctx, r.Claim); err != nil {
			return nil, err
		}
		if err := s.repo.CreateAdjudication(ctx, r.Adjudication); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*ClaimWithAdjudications, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.withAdjudications(ctx, c)
}

func (s *Service) ListByPrescription(ctx context.Context, prescriptionID uuid.UUID) ([]*ClaimWithAdjudications, error) {
	list, err := s.repo.ListByPrescription(ctx, prescriptionID)
	if err != nil {
		return nil, err
	}
	out := make([]*ClaimWithAdjudications, 0, len(list))
	for _, c := range list {
		cw, err := s.withAdjudications(ctx, c)
		if err != nil {
			return nil, err
		}
		out = append(out, cw)
	}
	return out, nil
}

func (s *Service) withAdjudications(ctx context.Context, c *Claim) (*ClaimWithAdjudications, error) {
	adjs, err := s.repo.ListAdjudications(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if adjs == nil {
		adjs = []*Adjudication{}
	}
	return &ClaimWithAdjudications{Claim: *c, Adjudications: adjs}, nil
}

// Reversal is the compensating record written for a paid claim.
type Reversal struct {
	Original     *Claim          `json:"original"`
	Claim        *Claim          `json:"reversal"`
	Adjudication *Adjudication   `json:"adjudication"`
	Amount       decimal.Decimal `json:"amount"`
}

// Reverse writes a negative claim that cancels what the plan paid on
// claimID. The original claim is never modified. Amount is the plan payment
// that moves back to the patient.
func (s *Service) Reverse(ctx context.Context, claimID uuid.UUID, reason string) (*Reversal, error) {
	orig, err := s.repo.GetByID(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if orig.State != StatePaid {
		return nil, apperr.InvalidInput("claim %s is %s, only paid claims can be reversed", orig.ID, orig.State)
	}
	if _, err := s.repo.GetReversal(ctx, orig.ID); err == nil {
		return nil, apperr.Conflict("claim %s is already reversed", orig.ID)
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	adjs, err := s.repo.ListAdjudications(ctx, orig.ID)
	if err != nil {
		return nil, err
	}
	var paid *Adjudication
	for _, a := range adjs {
		if a.ResultCode == ResultPaid {
			paid = a
		}
	}
	if paid == nil {
		return nil, apperr.DataInconsistency("paid claim %s has no paying adjudication", orig.ID)
	}

	rev := &Claim{
		PrescriptionID:  orig.PrescriptionID,
		EnrollmentID:    orig.EnrollmentID,
		Sequence:        orig.Sequence,
		AmountRequested: paid.PlanPays.Neg(),
		State:           StateReversed,
		ReversesID:      &orig.ID,
	}
	if err := s.repo.Create(ctx, rev); err != nil {
		return nil, err
	}

	var msg *string
	if reason != "" {
		msg = &reason
	}
	adj := &Adjudication{
		ClaimID:         rev.ID,
		Attempt:         1,
		SubmittedCost:   paid.SubmittedCost,
		SubmittedMarkup: paid.SubmittedMarkup,
		SubmittedFee:    paid.SubmittedFee,
		PaidCost:        paid.PaidCost.Neg(),
		PaidMarkup:      paid.PaidMarkup.Neg(),
		PaidFee:         paid.PaidFee.Neg(),
		PlanPays:        paid.PlanPays.Neg(),
		Copay:           decimal.Zero,
		ResultCode:      ResultReversal,
		Message:         msg,
		AdjudicatedAt:   s.now().UTC(),
	}
	if err := s.repo.CreateAdjudication(ctx, adj); err != nil {
		return nil, err
	}
	return &Reversal{Original: orig, Claim: rev, Adjudication: adj, Amount: paid.PlanPays}, nil
}
