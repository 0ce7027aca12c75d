package database

import (
	"context"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/jobbridge/internal/docstore"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/guard"
	"go.uber.org/zap"
)

// ProvisionConfig describes what Provision creates and which guards it resets.
type ProvisionConfig struct {
	Store  docstore.Store
	Schema Schema
	Guards *guard.Registry
	Clock  func() time.Time
	Logger *zap.Logger
}

// ProvisionReport summarizes a provisioning run.
type ProvisionReport struct {
	Tables     []string
	Migrations []string
}

// Provision creates every logical table, applies pending migrations, and then
// resets the availability guards so cached "missing" verdicts are dropped.
func Provision(ctx context.Context, cfg ProvisionConfig) (ProvisionReport, error) {
	if cfg.Store == nil {
		return ProvisionReport{}, fmt.Errorf("provision: store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	report := ProvisionReport{}
	tables := append(cfg.Schema.Tables(), MigrationsTable)
	for _, table := range tables {
		if err := cfg.Store.CreateTable(ctx, table); err != nil {
			return report, fmt.Errorf("provision: create table %s: %w", table.Name, err)
		}
		report.Tables = append(report.Tables, table.Name)
	}

	applied, err := applyMigrations(ctx, cfg.Store, cfg.Schema, clock, logger)
	report.Migrations = applied
	if err != nil {
		return report, err
	}

	if cfg.Guards != nil {
		cfg.Guards.ResetAll()
	}
	logger.Info("tables provisioned", zap.Strings("tables", report.Tables), zap.Int("migrations", len(applied)))
	return report, nil
}
