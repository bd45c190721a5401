//go:build integration

package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quota-admission-service/internal/model"
)

func TestPostgresAPIKeyLifecycleIntegration(t *testing.T) {
	ctx := context.Background()
	pg := setupIntegrationStore(t)

	apiKey := &model.APIKey{
		Name:              "integration-key",
		Owner:             "platform-team",
		KeyHash:           fmt.Sprintf("hash-%s", uuid.NewString()),
		KeyPrefix:         "ak_abc...",
		RequestsPerMinute: 120,
		RequestsPerDay:    5000,
		Status:            model.StatusActive,
	}

	if err := pg.CreateAPIKey(ctx, apiKey); err != nil {
		t.Fatalf("create api key: %v", err)
	}
	if apiKey.ID == uuid.Nil {
		t.Fatal("expected generated API key ID")
	}

	byHash, err := pg.GetAPIKeyByHash(ctx, apiKey.KeyHash)
	if err != nil {
		t.Fatalf("get by hash: %v", err)
	}
	if byHash.ID != apiKey.ID {
		t.Fatalf("unexpected id from hash lookup: got %s want %s", byHash.ID, apiKey.ID)
	}

	newName := "integration-key-updated"
	newPerMinute := 999
	if err := pg.UpdateAPIKeyLimits(ctx, apiKey.ID, KeyUpdates{
		Name:              &newName,
		RequestsPerMinute: &newPerMinute,
	}); err != nil {
		t.Fatalf("update api key: %v", err)
	}

	updated, err := pg.GetAPIKeyByID(ctx, apiKey.ID)
	if err != nil {
		t.Fatalf("get updated key: %v", err)
	}
	if updated.Name != newName || updated.RequestsPerMinute != newPerMinute {
		t.Fatalf("unexpected updated key: %+v", updated)
	}

	if err := pg.UpdateAPIKeyStatus(ctx, apiKey.ID, model.StatusDisabled); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if _, err := pg.GetAPIKeyByHash(ctx, apiKey.KeyHash); err != ErrNotFound {
		t.Fatalf("disabled key must not resolve by hash, got %v", err)
	}

	if err := pg.RotateAPIKey(ctx, apiKey.ID, "rotated-"+uuid.NewString(), "ak_rot..."); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if _, err := pg.GetAPIKeyByHash(ctx, apiKey.KeyHash); err != ErrNotFound {
		t.Fatalf("old hash must stop resolving after rotation, got %v", err)
	}

	keys, total, err := pg.ListAPIKeys(ctx, 1, 20)
	if err != nil {
		t.Fatalf("list api keys: %v", err)
	}
	if total != 1 || len(keys) != 1 || keys[0].ID != apiKey.ID {
		t.Fatalf("unexpected listing: total=%d keys=%#v", total, keys)
	}
}

func TestPostgresConsumeRefundIntegration(t *testing.T) {
	ctx := context.Background()
	pg := setupIntegrationStore(t)

	apiKey := &model.APIKey{
		Name:              "quota-key",
		Owner:             "platform-team",
		KeyHash:           fmt.Sprintf("hash-%s", uuid.NewString()),
		KeyPrefix:         "ak_xyz...",
		RequestsPerMinute: 2,
		RequestsPerDay:    100,
		Status:            model.StatusActive,
	}
	if err := pg.CreateAPIKey(ctx, apiKey); err != nil {
		t.Fatalf("create api key: %v", err)
	}

	first, err := pg.Consume(ctx, apiKey, "int-r1", 1)
	if err != nil {
		t.Fatalf("first consume: %v", err)
	}
	if !first.Allowed || first.Remaining != 1 {
		t.Fatalf("unexpected first decision: %+v", first)
	}

	replay, err := pg.Consume(ctx, apiKey, "int-r1", 1)
	if err != nil {
		t.Fatalf("replay consume: %v", err)
	}
	if replay.Allowed != first.Allowed || replay.Remaining != first.Remaining || !replay.ResetAt.Equal(first.ResetAt) {
		t.Fatalf("replay diverged: %+v vs %+v", first, replay)
	}

	usage, err := pg.Usage(ctx, apiKey)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if usage.Minute.Used != 1 {
		t.Fatalf("replay must not re-charge: %+v", usage.Minute)
	}

	if _, err := pg.Consume(ctx, apiKey, "int-r2", 1); err != nil {
		t.Fatalf("second consume: %v", err)
	}
	denied, err := pg.Consume(ctx, apiKey, "int-r3", 1)
	if err != nil {
		t.Fatalf("third consume: %v", err)
	}
	if denied.Allowed || denied.Reason != model.ReasonRateLimited {
		t.Fatalf("expected minute denial: %+v", denied)
	}

	refunded, err := pg.Refund(ctx, apiKey, "int-r1")
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if !refunded {
		t.Fatal("expected refund to apply")
	}
	refunded, err = pg.Refund(ctx, apiKey, "int-r1")
	if err != nil {
		t.Fatalf("second refund: %v", err)
	}
	if refunded {
		t.Fatal("second refund must be a no-op")
	}

	refunded, err = pg.Refund(ctx, apiKey, "int-r3")
	if err != nil {
		t.Fatalf("refund of denial: %v", err)
	}
	if refunded {
		t.Fatal("refund of a denied charge must be a no-op")
	}

	usage, err = pg.Usage(ctx, apiKey)
	if err != nil {
		t.Fatalf("usage after refund: %v", err)
	}
	if usage.Minute.Used != 1 {
		t.Fatalf("unexpected usage after refund: %+v", usage.Minute)
	}
}

func setupIntegrationStore(t *testing.T) *Postgres {
	t.Helper()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}

	migrationsDir := repoMigrationsDir(t)
	m, err := migrate.New("file://"+migrationsDir, databaseURL)
	if err != nil {
		t.Fatalf("init migrate: %v", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		t.Fatalf("apply migrations: %v", err)
	}
	if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
		t.Fatalf("close migrator: source=%v database=%v", srcErr, dbErr)
	}

	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := pool.Ping(context.Background()); err != nil {
		t.Fatalf("ping pg: %v", err)
	}

	if _, err := pool.Exec(context.Background(), `TRUNCATE TABLE idempotency_records, quota_windows, api_keys RESTART IDENTITY CASCADE`); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}

	return NewPostgres(pool, 4, time.Hour)
}

func repoMigrationsDir(t *testing.T) string {
	t.Helper()

	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("cannot locate caller for migrations dir")
	}
	return filepath.Join(filepath.Dir(thisFile), "..", "..", "migrations")
}
