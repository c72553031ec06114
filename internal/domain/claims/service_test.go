package claims

import (
	"context"
	"errors"
	"testing"

	"github.com/rxledger/rxledger/internal/config"
	"github.com/rxledger/rxledger/internal/domain/enrollment"
	"github.com/rxledger/rxledger/internal/domain/masterdata"
	"github.com/rxledger/rxledger/internal/platform/apperr"
)

func TestService_AdjudicatePersists(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo, newEngine(config.COBResidual))
	rx := rxFor(t, masterdata.ScheduleRx, "150.75")
	ctx := context.Background()

	if _, err := svc.Adjudicate(ctx, rx, []enrollment.Candidate{provincial(1), private(2)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	list, err := svc.ListByPrescription(ctx, rx.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 stored claims, got %d", len(list))
	}
	if list[0].Sequence != 1 || len(list[0].Adjudications) != 1 {
		t.Errorf("unexpected first claim %+v", list[0].Claim)
	}
}

func TestService_Reverse(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo, newEngine(config.COBResidual))
	rx := rxFor(t, masterdata.ScheduleRx, "150.75")
	ctx := context.Background()

	out, _ := svc.Adjudicate(ctx, rx, []enrollment.Candidate{provincial(1)})
	claimID := out.Results[0].Claim.ID

	rev, err := svc.Reverse(ctx, claimID, "billed in error")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertMoney(t, "reversed amount", rev.Amount, "133.37")
	assertMoney(t, "reversal requested", rev.Claim.AmountRequested, "-133.37")
	if rev.Claim.State != StateReversed || rev.Adjudication.ResultCode != ResultReversal {
		t.Errorf("unexpected reversal %s/%s", rev.Claim.State, rev.Adjudication.ResultCode)
	}

	orig, _ := svc.Get(ctx, claimID)
	if orig.State != StatePaid {
		t.Errorf("original claim must stay paid, got %s", orig.State)
	}

	if _, err := svc.Reverse(ctx, claimID, ""); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected conflict on second reversal, got %v", err)
	}
	if _, err := svc.Reverse(ctx, rev.Claim.ID, ""); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("expected invalid input reversing a reversal, got %v", err)
	}
}

func TestService_ReverseRejected(t *testing.T) {
	svc := NewService(NewMemoryRepo(), newEngine(config.COBResidual))
	rx := rxFor(t, masterdata.ScheduleOTC, "10.00")
	ctx := context.Background()

	out, _ := svc.Adjudicate(ctx, rx, []enrollment.Candidate{provincial(1)})
	if _, err := svc.Reverse(ctx, out.Results[0].Claim.ID, ""); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("expected invalid input, got %v", err)
	}
}
