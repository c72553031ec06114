package claims

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, c *Claim) error
	GetByID(ctx context.Context, id uuid.UUID) (*Claim, error)
	ListByPrescription(ctx context.Context, prescriptionID uuid.UUID) ([]*Claim, error)
	// GetReversal returns the claim that reverses id, or a NotFound error.
	GetReversal(ctx context.Context, id uuid.UUID) (*Claim, error)

	CreateAdjudication(ctx context.Context, a *Adjudication) error
	// ListAdjudications returns a claim's adjudications by attempt.
	ListAdjudications(ctx context.Context, claimID uuid.UUID) ([]*Adjudication, error)
}
