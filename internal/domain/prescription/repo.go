package prescription

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, p *Prescription) error
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Prescription, int, error)
	// MarkAdjudicated stamps the prescription once. A second call returns a
	// Conflict error.
	MarkAdjudicated(ctx context.Context, id uuid.UUID, at time.Time) error
}
