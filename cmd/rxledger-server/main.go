package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rxledger/rxledger/internal/config"
	"github.com/rxledger/rxledger/internal/domain/billing"
	"github.com/rxledger/rxledger/internal/domain/claims"
	"github.com/rxledger/rxledger/internal/domain/enrollment"
	"github.com/rxledger/rxledger/internal/domain/fill"
	"github.com/rxledger/rxledger/internal/domain/masterdata"
	"github.com/rxledger/rxledger/internal/domain/prescription"
	"github.com/rxledger/rxledger/internal/domain/statement"
	"github.com/rxledger/rxledger/internal/platform/auth"
	"github.com/rxledger/rxledger/internal/platform/db"
	"github.com/rxledger/rxledger/internal/platform/middleware"
	"github.com/rxledger/rxledger/internal/platform/validate"
	"github.com/rxledger/rxledger/internal/platform/websocket"
	"github.com/rxledger/rxledger/migrations"
	"github.com/rxledger/rxledger/pkg/period"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "rxledger-server",
		Short: "Pharmacy claims adjudication and billing API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(statementsCmd())
	rootCmd.AddCommand(invoicesCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// connect loads and validates the config and opens the pool.
func connect(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")

			ctx := context.Background()
			_, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			schema := db.SchemaName(tenant)
			fmt.Printf("Running migrations on schema: %s\n", schema)
			count, err := db.NewMigrator(pool, migrations.FS).Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("tenant", "default", "Pharmacy tenant to migrate")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")

			ctx := context.Background()
			_, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			schema := db.SchemaName(tenant)
			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("tenant", "default", "Pharmacy tenant to inspect")
	cmd.AddCommand(statusCmd)

	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage pharmacy tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create and migrate a pharmacy schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			ctx := context.Background()
			_, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Creating tenant schema: %s\n", db.SchemaName(name))
			if err := db.CreateTenantSchema(ctx, pool, name, migrations.FS); err != nil {
				return err
			}
			fmt.Println("Tenant created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric)")

	cmd.AddCommand(createCmd)
	return cmd
}

// withApp runs fn against a fully wired app inside the tenant's schema.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	tenant, _ := cmd.Flags().GetString("tenant")

	ctx := context.Background()
	cfg, pool, err := connect(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	a, err := newApp(ctx, cfg, pool, newLogger(cfg))
	if err != nil {
		return err
	}
	defer a.Close()

	return db.WithTenantConn(ctx, pool, tenant, func(ctx context.Context) error {
		return fn(ctx, a)
	})
}

// monthFlags reads --year and --month, defaulting to the previous calendar
// month.
func monthFlags(cmd *cobra.Command, now time.Time) (time.Time, time.Time, error) {
	year, _ := cmd.Flags().GetInt("year")
	month, _ := cmd.Flags().GetInt("month")
	if year == 0 && month == 0 {
		prev := period.Date(now).AddDate(0, 0, -now.Day())
		year, month = prev.Year(), int(prev.Month())
	}
	if month < 1 || month > 12 {
		return time.Time{}, time.Time{}, fmt.Errorf("--month must be between 1 and 12, got %d", month)
	}
	start, end := period.Month(year, time.Month(month))
	return start, end, nil
}

func statementsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "statements",
		Short: "Generate statements",
	}
	cmd.PersistentFlags().String("tenant", "default", "Pharmacy tenant")
	cmd.PersistentFlags().Int("year", 0, "Statement year (defaults to last month's)")
	cmd.PersistentFlags().Int("month", 0, "Statement month 1-12 (defaults to last month)")

	monthlyCmd := &cobra.Command{
		Use:   "monthly",
		Short: "Generate patient monthly statements",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := monthFlags(cmd, time.Now().UTC())
			if err != nil {
				return err
			}
			patient, _ := cmd.Flags().GetString("patient")
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if patient != "" {
					id, err := uuid.Parse(patient)
					if err != nil {
						return fmt.Errorf("invalid --patient: %w", err)
					}
					stmt, err := a.statements.GenerateMonthlyStatement(ctx, id, start, end)
					if err != nil {
						return err
					}
					fmt.Printf("Patient %s: opening %s, charges %s, payments %s, closing %s\n", id,
						stmt.OpeningBalance.StringFixed(2), stmt.Charges.StringFixed(2),
						stmt.Payments.StringFixed(2), stmt.ClosingBalance.StringFixed(2))
					return nil
				}
				stmts, err := a.statements.GenerateMonthlyStatements(ctx, start, end)
				fmt.Printf("Generated %d monthly statement(s) for %s to %s.\n", len(stmts),
					start.Format(period.Layout), end.Format(period.Layout))
				return err
			})
		},
	}
	monthlyCmd.Flags().String("patient", "", "Only this patient (default: every patient with activity)")
	cmd.AddCommand(monthlyCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "financial",
		Short: "Generate the pharmacy financial statement",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := monthFlags(cmd, time.Now().UTC())
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				stmt, err := a.statements.GenerateFinancialStatement(ctx, start, end)
				if err != nil {
					return err
				}
				fmt.Printf("Revenue %s = insurance %s + patient %s + outstanding %s\n",
					stmt.TotalRevenue.StringFixed(2), stmt.InsurancePayments.StringFixed(2),
					stmt.PatientPayments.StringFixed(2), stmt.OutstandingBalance.StringFixed(2))
				return nil
			})
		},
	})
	return cmd
}

func invoicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoices",
		Short: "Invoice maintenance",
	}

	overdueCmd := &cobra.Command{
		Use:   "mark-overdue",
		Short: "Flag unpaid invoices past their due date",
		RunE: func(cmd *cobra.Command, args []string) error {
			asOfFlag, _ := cmd.Flags().GetString("as-of")
			asOf := period.Date(time.Now().UTC())
			if asOfFlag != "" {
				var err error
				if asOf, err = period.ParseDate(asOfFlag); err != nil {
					return err
				}
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				marked, err := a.ledger.MarkOverdue(ctx, asOf)
				if err != nil {
					return err
				}
				fmt.Printf("Marked %d invoice(s) overdue as of %s.\n", len(marked), asOf.Format(period.Layout))
				return nil
			})
		},
	}
	overdueCmd.Flags().String("tenant", "default", "Pharmacy tenant")
	overdueCmd.Flags().String("as-of", "", "Date to evaluate due dates against (YYYY-MM-DD, default today)")
	cmd.AddCommand(overdueCmd)
	return cmd
}

func runServer() error {
	ctx := context.Background()
	cfg, pool, err := connect(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()
	logger := newLogger(cfg)
	logger.Info().Msg("connected to database")

	a, err := newApp(ctx, cfg, pool, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validate.New()

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
	}))

	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		jwtCfg := auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			Skipper:  auth.AuthSkipper,
		}
		if cfg.AuthPublicKeyFile != "" {
			if jwtCfg.PublicKey, err = auth.LoadPublicKey(cfg.AuthPublicKeyFile); err != nil {
				return err
			}
		}
		if cfg.AuthSigningKey != "" {
			jwtCfg.Secret = []byte(cfg.AuthSigningKey)
		}
		e.Use(auth.JWTMiddleware(jwtCfg))
	}

	e.Use(db.TenantMiddleware(pool, cfg.DefaultTenant))

	apiV1 := e.Group("/api/v1")
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	apiV1.Use(middleware.RequestTimeout(30 * time.Second))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	masterdata.NewHandler(a.directory).RegisterRoutes(apiV1)
	prescription.NewHandler(a.prescriptions).RegisterRoutes(apiV1)
	enrollment.NewHandler(a.resolver).RegisterRoutes(apiV1)
	claims.NewHandler(a.claims).RegisterRoutes(apiV1)
	billing.NewHandler(a.ledger).RegisterRoutes(apiV1)
	statement.NewHandler(a.statements).RegisterRoutes(apiV1)
	fill.NewHandler(a.fills).RegisterRoutes(apiV1)
	websocket.NewHandler(a.hub).RegisterRoutes(apiV1, auth.RequireRole(auth.RoleBilling, auth.RoleAuditor))

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
