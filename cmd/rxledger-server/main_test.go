package main

import (
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/rxledger/rxledger/internal/config"
)

func monthCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().Int("year", 0, "")
	cmd.Flags().Int("month", 0, "")
	if err := cmd.Flags().Parse(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return cmd
}

func TestMonthFlags_DefaultsToPreviousMonth(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	start, end, err := monthFlags(monthCmd(t), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := start.Format("2006-01-02"); got != "2024-02-01" {
		t.Errorf("start = %s, want 2024-02-01", got)
	}
	if got := end.Format("2006-01-02"); got != "2024-02-29" {
		t.Errorf("end = %s, want 2024-02-29", got)
	}
}

func TestMonthFlags_YearBoundary(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	start, _, err := monthFlags(monthCmd(t), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := start.Format("2006-01-02"); got != "2024-12-01" {
		t.Errorf("start = %s, want 2024-12-01", got)
	}
}

func TestMonthFlags_Explicit(t *testing.T) {
	start, end, err := monthFlags(monthCmd(t, "--year", "2023", "--month", "11"), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if start.Format("2006-01-02") != "2023-11-01" || end.Format("2006-01-02") != "2023-11-30" {
		t.Errorf("period = %s..%s", start, end)
	}
	if _, _, err := monthFlags(monthCmd(t, "--year", "2023", "--month", "13"), time.Now()); err == nil {
		t.Error("expected an error for month 13")
	}
}

func TestPolicyFromConfig(t *testing.T) {
	cfg := &config.Config{ProvincialCoverageRate: 0.7, PrivateCoverageRate: 0.9, COBMode: config.COBFirstPayer}
	p := policyFromConfig(cfg)
	if p.ProvincialRate.String() != "0.7" || p.PrivateRate.String() != "0.9" {
		t.Errorf("rates = %s/%s", p.ProvincialRate, p.PrivateRate)
	}
	if p.COBMode != config.COBFirstPayer {
		t.Errorf("cob mode = %s", p.COBMode)
	}
}
