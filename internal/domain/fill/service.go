// Package fill runs the dispensing workflow: price a prescription, resolve
// the patient's plans, adjudicate, invoice and optionally take payment, all
// in one transaction. Domain events raised along the way are published only
// after it commits.
package fill

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/rxledger/rxledger/internal/domain/billing"
	"github.com/rxledger/rxledger/internal/domain/claims"
	"github.com/rxledger/rxledger/internal/domain/enrollment"
	"github.com/rxledger/rxledger/internal/domain/prescription"
	"github.com/rxledger/rxledger/internal/platform/apperr"
	"github.com/rxledger/rxledger/internal/platform/db"
	"github.com/rxledger/rxledger/internal/platform/events"
)

type Service struct {
	tx        db.Transactor
	rx        *prescription.Service
	resolver  *enrollment.Resolver
	claims    *claims.Service
	builder   *billing.Builder
	ledger    *billing.Ledger
	publisher events.Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(tx db.Transactor, rx *prescription.Service, resolver *enrollment.Resolver, cl *claims.Service,
	builder *billing.Builder, ledger *billing.Ledger, pub events.Publisher, logger zerolog.Logger) *Service {
	if pub == nil {
		pub = events.Nop
	}
	return &Service{
		tx:        tx,
		rx:        rx,
		resolver:  resolver,
		claims:    cl,
		builder:   builder,
		ledger:    ledger,
		publisher: pub,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Adjudication is the result of adjudicating one prescription.
type Adjudication struct {
	Prescription     *prescription.Prescription `json:"prescription"`
	Claims           []claims.Result            `json:"claims"`
	SelfPay          bool                       `json:"self_pay"`
	InsuranceCovered decimal.Decimal            `json:"insurance_covered"`
	PatientPortion   decimal.Decimal            `json:"patient_portion"`
	Invoice          *billing.Invoice           `json:"invoice"`
}

// PaymentRequest is money taken at the counter with a fill.
type PaymentRequest struct {
	Amount    decimal.Decimal
	Method    string
	Reference *string
}

type Request struct {
	prescription.CreateRequest
	Payment *PaymentRequest
}

// Result is a processed fill.
type Result struct {
	*Adjudication
	Payment    *billing.Payment    `json:"payment,omitempty"`
	Allocation *billing.Allocation `json:"allocation,omitempty"`
}

// ClaimReversal is a reversed claim, the invoice it shifted onto the
// patient and the adjustment recording the shift.
type ClaimReversal struct {
	*claims.Reversal
	Invoice    *billing.Invoice    `json:"invoice"`
	Adjustment *billing.Adjustment `json:"adjustment"`
}

// run executes fn in a transaction and publishes the events it raised once
// the transaction has committed.
func (s *Service) run(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, buf := events.WithBuffer(ctx)
	if err := s.tx.InTx(ctx, fn); err != nil {
		buf.Discard()
		return err
	}
	if err := buf.Flush(ctx, s.publisher); err != nil {
		s.logger.Warn().Err(err).Msg("failed to publish fill events")
	}
	return nil
}

func (s *Service) emit(ctx context.Context, typ string, payload interface{}) error {
	return events.Emit(ctx, s.publisher, events.New(typ, db.TenantFromContext(ctx), s.now(), payload))
}

// PricePrescription creates and prices a prescription without adjudicating
// it.
func (s *Service) PricePrescription(ctx context.Context, req prescription.CreateRequest) (*prescription.Prescription, error) {
	var rx *prescription.Prescription
	err := s.run(ctx, func(ctx context.Context) error {
		var err error
		rx, err = s.price(ctx, req)
		return err
	})
	return rx, err
}

func (s *Service) price(ctx context.Context, req prescription.CreateRequest) (*prescription.Prescription, error) {
	rx, err := s.rx.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	return rx, s.emit(ctx, events.PrescriptionPriced, rx)
}

// RepricePrescription prices a copy of id with the given overrides. The
// original is left as it was.
func (s *Service) RepricePrescription(ctx context.Context, id uuid.UUID, req prescription.RepriceRequest) (*prescription.Prescription, error) {
	var rx *prescription.Prescription
	err := s.run(ctx, func(ctx context.Context) error {
		var err error
		if rx, err = s.rx.Reprice(ctx, id, req); err != nil {
			return err
		}
		return s.emit(ctx, events.PrescriptionPriced, rx)
	})
	return rx, err
}

// AdjudicatePrescription runs claims for a priced prescription and issues
// its invoice. A prescription is adjudicated at most once; a patient with no
// active plan pays the whole charge.
func (s *Service) AdjudicatePrescription(ctx context.Context, id uuid.UUID) (*Adjudication, error) {
	var res *Adjudication
	err := s.run(ctx, func(ctx context.Context) error {
		rx, err := s.rx.Get(ctx, id)
		if err != nil {
			return err
		}
		res, err = s.adjudicate(ctx, rx)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logAdjudication(res)
	return res, nil
}

func (s *Service) adjudicate(ctx context.Context, rx *prescription.Prescription) (*Adjudication, error) {
	if rx.Adjudicated() {
		return nil, apperr.Conflict("prescription %s is already adjudicated", rx.ID)
	}
	at, err := s.rx.MarkAdjudicated(ctx, rx.ID)
	if err != nil {
		return nil, err
	}
	rx.AdjudicatedAt = &at

	selfPay := false
	candidates, err := s.resolver.Resolve(ctx, rx.PatientID, rx.FillDate)
	if errors.Is(err, apperr.ErrNoEligiblePlan) {
		selfPay, candidates = true, nil
	} else if err != nil {
		return nil, err
	}

	outcome, err := s.claims.Adjudicate(ctx, rx, candidates)
	if err != nil {
		return nil, err
	}
	for _, r := range outcome.Results {
		if err := s.emit(ctx, events.ClaimAdjudicated, r); err != nil {
			return nil, err
		}
	}

	inv, err := s.builder.Build(rx, outcome.Adjudications(), rx.FillDate)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.CreateInvoice(ctx, inv); err != nil {
		return nil, err
	}

	results := outcome.Results
	if results == nil {
		results = []claims.Result{}
	}
	return &Adjudication{
		Prescription:     rx,
		Claims:           results,
		SelfPay:          selfPay,
		InsuranceCovered: inv.InsuranceCovered,
		PatientPortion:   inv.PatientPortion,
		Invoice:          inv,
	}, nil
}

func (s *Service) logAdjudication(res *Adjudication) {
	s.logger.Info().
		Str("prescription_id", res.Prescription.ID.String()).
		Str("invoice_id", res.Invoice.ID.String()).
		Int("claims", len(res.Claims)).
		Bool("self_pay", res.SelfPay).
		Str("insurance_covered", res.InsuranceCovered.StringFixed(2)).
		Str("patient_portion", res.PatientPortion.StringFixed(2)).
		Msg("prescription adjudicated")
}

// ProcessFill prices, adjudicates and invoices a fill, then applies the
// counter payment if one was taken. Any failure rolls back the whole fill.
func (s *Service) ProcessFill(ctx context.Context, req Request) (*Result, error) {
	var res *Result
	err := s.run(ctx, func(ctx context.Context) error {
		rx, err := s.price(ctx, req.CreateRequest)
		if err != nil {
			return err
		}
		adj, err := s.adjudicate(ctx, rx)
		if err != nil {
			return err
		}
		res = &Result{Adjudication: adj}
		if req.Payment == nil {
			return nil
		}

		payDate := rx.FillDate
		res.Payment, res.Allocation, err = s.ledger.RecordPayment(ctx, billing.RecordPaymentRequest{
			PatientID:   rx.PatientID,
			Amount:      req.Payment.Amount,
			Method:      req.Payment.Method,
			PaymentDate: &payDate,
			Reference:   req.Payment.Reference,
			InvoiceID:   &adj.Invoice.ID,
		})
		if err != nil {
			return err
		}
		if res.Allocation != nil {
			adj.Invoice, err = s.ledger.GetInvoice(ctx, adj.Invoice.ID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logAdjudication(res.Adjudication)
	return res, nil
}

// ReverseClaim cancels a paid claim and adjusts what the plan paid onto the
// patient's side of the invoice.
func (s *Service) ReverseClaim(ctx context.Context, claimID uuid.UUID, reason string) (*ClaimReversal, error) {
	var res *ClaimReversal
	err := s.run(ctx, func(ctx context.Context) error {
		rev, err := s.claims.Reverse(ctx, claimID, reason)
		if err != nil {
			return err
		}
		inv, adj, err := s.ledger.ApplyClaimReversal(ctx, rev.Original.PrescriptionID, rev.Original.ID, rev.Amount)
		if err != nil {
			return err
		}
		res = &ClaimReversal{Reversal: rev, Invoice: inv, Adjustment: adj}
		return s.emit(ctx, events.ClaimReversed, res)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("claim_id", claimID.String()).
		Str("invoice_id", res.Invoice.ID.String()).
		Str("amount", res.Amount.StringFixed(2)).
		Msg("claim reversed")
	return res, nil
}
