package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/rxledger/rxledger/internal/config"
	"github.com/rxledger/rxledger/internal/domain/billing"
	"github.com/rxledger/rxledger/internal/domain/claims"
	"github.com/rxledger/rxledger/internal/domain/enrollment"
	"github.com/rxledger/rxledger/internal/domain/fill"
	"github.com/rxledger/rxledger/internal/domain/masterdata"
	"github.com/rxledger/rxledger/internal/domain/prescription"
	"github.com/rxledger/rxledger/internal/domain/pricing"
	"github.com/rxledger/rxledger/internal/domain/statement"
	"github.com/rxledger/rxledger/internal/platform/db"
	"github.com/rxledger/rxledger/internal/platform/events"
	"github.com/rxledger/rxledger/internal/platform/lock"
	"github.com/rxledger/rxledger/internal/platform/websocket"
)

// app holds the wired services shared by the server and the batch commands.
type app struct {
	directory     *masterdata.Directory
	prescriptions *prescription.Service
	resolver      *enrollment.Resolver
	claims        *claims.Service
	ledger        *billing.Ledger
	statements    *statement.Aggregator
	fills         *fill.Service
	hub           *websocket.Hub

	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func policyFromConfig(cfg *config.Config) claims.Policy {
	return claims.Policy{
		ProvincialRate: config.Decimal(cfg.ProvincialCoverageRate),
		PrivateRate:    config.Decimal(cfg.PrivateCoverageRate),
		COBMode:        cfg.COBMode,
	}
}

func newPublisher(cfg *config.Config, logger zerolog.Logger) (events.Publisher, []func(), error) {
	if cfg.AMQPURL == "" {
		return events.NewLogPublisher(logger), nil, nil
	}
	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to amqp: %w", err)
	}
	pub, err := events.NewAMQPPublisher(conn, cfg.AMQPExchange, logger)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	logger.Info().Str("exchange", cfg.AMQPExchange).Msg("publishing domain events to amqp")
	return pub, []func(){func() { conn.Close() }, func() { pub.Close() }}, nil
}

func newLocker(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, tx db.Transactor, logger zerolog.Logger) (lock.Locker, []func(), error) {
	if cfg.RedisURL == "" {
		return lock.NewAdvisoryLocker(pool, tx, cfg.LockWait), nil, nil
	}
	client, err := lock.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info().Msg("statement locks held in redis")
	return lock.NewRedisLocker(client, cfg.LockTTL, cfg.LockWait, logger), []func(){func() { _ = client.Close() }}, nil
}

func newApp(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (*app, error) {
	a := &app{}
	tx := db.NewTransactor(pool)

	broker, closers, err := newPublisher(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closers...)
	a.hub = websocket.NewHub(logger)
	pub := events.Fanout{broker, a.hub}

	locker, closers, err := newLocker(ctx, cfg, pool, tx, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, closers...)

	a.directory = masterdata.NewDirectory(
		masterdata.NewPatientRepoPG(pool),
		masterdata.NewDrugRepoPG(pool),
		masterdata.NewPlanRepoPG(pool),
		masterdata.NewEnrollmentRepoPG(pool),
	)
	calc := pricing.NewCalculator(config.Decimal(cfg.MarkupRate), config.Decimal(cfg.DispensingFee))
	a.prescriptions = prescription.NewService(prescription.NewRepoPG(pool), a.directory, calc)
	a.resolver = enrollment.NewResolver(a.directory)
	a.claims = claims.NewService(claims.NewRepoPG(pool), claims.NewEngine(policyFromConfig(cfg)))

	invoices := billing.NewInvoiceRepoPG(pool)
	payments := billing.NewPaymentRepoPG(pool)
	allocations := billing.NewAllocationRepoPG(pool)
	adjustments := billing.NewAdjustmentRepoPG(pool)
	a.ledger = billing.NewLedger(invoices, payments, allocations, adjustments, tx, pub, logger)

	a.statements = statement.NewAggregator(
		statement.Sources{Invoices: invoices, Payments: payments, Allocations: allocations, Adjustments: adjustments},
		statement.NewMonthlyRepoPG(pool), statement.NewFinancialRepoPG(pool),
		locker, tx, pub, logger,
	)
	a.fills = fill.NewService(tx, a.prescriptions, a.resolver, a.claims,
		billing.NewBuilder(cfg.InvoiceGraceDays), a.ledger, pub, logger)
	return a, nil
}
