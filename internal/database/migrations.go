package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/jobbridge/internal/docstore"
	"go.uber.org/zap"
)

const (
	migrationNormalizeUserEmails    = "2026-03-01_normalize_user_emails"
	migrationBackfillUserVisibility = "2026-03-08_backfill_user_visibility"
)

type migrationRecord struct {
	Name             string `json:"name"`
	AppliedAtSeconds int64  `json:"appliedAt"`
}

type migrationDefinition struct {
	name  string
	apply func(context.Context, docstore.Store, Schema) (int, error)
}

func migrations() []migrationDefinition {
	return []migrationDefinition{
		{name: migrationNormalizeUserEmails, apply: normalizeUserEmails},
		{name: migrationBackfillUserVisibility, apply: backfillUserVisibility},
	}
}

// applyMigrations runs every migration not yet present in the ledger and
// returns the names it applied.
func applyMigrations(ctx context.Context, store docstore.Store, schema Schema, clock func() time.Time, logger *zap.Logger) ([]string, error) {
	var applied []string
	for _, migration := range migrations() {
		_, err := store.GetItem(ctx, MigrationsTable, migration.name)
		if err == nil {
			continue
		}
		if !errors.Is(err, docstore.ErrItemNotFound) {
			return applied, err
		}
		touched, err := migration.apply(ctx, store, schema)
		if err != nil {
			return applied, fmt.Errorf("migration %s: %w", migration.name, err)
		}
		record, err := docstore.Marshal(migrationRecord{Name: migration.name, AppliedAtSeconds: clock().UTC().Unix()})
		if err != nil {
			return applied, err
		}
		if err := store.PutItem(ctx, MigrationsTable, record); err != nil {
			return applied, err
		}
		applied = append(applied, migration.name)
		logger.Info("database migration applied", zap.String("migration", migration.name), zap.Int("items", touched))
	}
	return applied, nil
}

func normalizeUserEmails(ctx context.Context, store docstore.Store, schema Schema) (int, error) {
	items, err := store.ScanItems(ctx, schema.Users, nil)
	if err != nil {
		return 0, err
	}
	touched := 0
	for _, item := range items {
		email, _ := item["email"].(string)
		normalized := strings.ToLower(strings.TrimSpace(email))
		if normalized == email {
			continue
		}
		key, _ := item[schema.Users.KeyAttribute].(string)
		if _, err := store.UpdateItem(ctx, schema.Users, key, docstore.Item{"email": normalized}); err != nil {
			return touched, err
		}
		touched++
	}
	return touched, nil
}

func backfillUserVisibility(ctx context.Context, store docstore.Store, schema Schema) (int, error) {
	items, err := store.ScanItems(ctx, schema.Users, nil)
	if err != nil {
		return 0, err
	}
	touched := 0
	for _, item := range items {
		changes := docstore.Item{}
		if _, ok := item["visible"]; !ok {
			changes["visible"] = true
		}
		if _, ok := item["blocked"]; !ok {
			changes["blocked"] = false
		}
		if len(changes) == 0 {
			continue
		}
		key, _ := item[schema.Users.KeyAttribute].(string)
		if _, err := store.UpdateItem(ctx, schema.Users, key, changes); err != nil {
			return touched, err
		}
		touched++
	}
	return touched, nil
}
