package statement

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type MonthlyRepository interface {
	Create(ctx context.Context, s *Monthly) error
	Get(ctx context.Context, patientID uuid.UUID, start, end time.Time) (*Monthly, error)
	// LatestBefore returns the patient's statement with the latest end date
	// before start, or nil when there is none.
	LatestBefore(ctx context.Context, patientID uuid.UUID, start time.Time) (*Monthly, error)
	DeletePeriod(ctx context.Context, patientID uuid.UUID, start, end time.Time) error
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Monthly, error)
	// PatientsWithBalance lists patients whose latest statement before start
	// closed with a non-zero balance.
	PatientsWithBalance(ctx context.Context, start time.Time) ([]uuid.UUID, error)
}

type FinancialRepository interface {
	Create(ctx context.Context, s *Financial) error
	Get(ctx context.Context, start, end time.Time) (*Financial, error)
	DeletePeriod(ctx context.Context, start, end time.Time) error
	// List returns statements overlapping [from, to], latest period first.
	// A zero bound is open.
	List(ctx context.Context, from, to time.Time, limit, offset int) ([]*Financial, int, error)
}
