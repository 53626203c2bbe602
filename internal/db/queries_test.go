package db

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/HanTheDev/phone-checker/internal/cache"
	"github.com/HanTheDev/phone-checker/internal/models"
)

func skipIfNoTestDB(t *testing.T) {
	t.Helper()
	if os.Getenv("TEST_DATABASE_URL") == "" {
		t.Skip("Skipping integration test: TEST_DATABASE_URL not set")
	}
}

func setupTestDB(t *testing.T) (*DB, func()) {
	t.Helper()
	skipIfNoTestDB(t)

	connString := os.Getenv("TEST_DATABASE_URL")
	ctx := context.Background()

	database, err := NewDB(ctx, connString)
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}
	if err := database.RunMigrations(connString); err != nil {
		database.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	database.Pool.Exec(ctx, "DELETE FROM probe_cache")

	cleanup := func() {
		database.Pool.Exec(ctx, "DELETE FROM probe_cache")
		database.Close()
	}
	return database, cleanup
}

func TestProbeCache_PutGet(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	stored := time.Now().UTC().Truncate(time.Microsecond)
	entry := &models.CacheEntry{
		Phone:      "+33612345678",
		Platform:   models.WhatsApp,
		Exists:     true,
		Confidence: 0.88,
		StoredAt:   stored,
		ExpiresAt:  stored.Add(time.Hour),
	}

	if err := db.Put(ctx, entry); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := db.Get(ctx, entry.Key())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !got.Exists || got.Confidence != 0.88 || !got.StoredAt.Equal(stored) {
		t.Errorf("Get() = %+v, want %+v", got, entry)
	}

	entry.Exists = false
	if err := db.Put(ctx, entry); err != nil {
		t.Fatalf("Put() overwrite error = %v", err)
	}
	got, _ = db.Get(ctx, entry.Key())
	if got.Exists {
		t.Error("Put() did not replace the existing row")
	}
}

func TestProbeCache_DeleteAndList(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().UTC()
	for _, p := range []models.Platform{models.WhatsApp, models.Telegram} {
		if err := db.Put(ctx, &models.CacheEntry{Phone: "+33612345678", Platform: p, StoredAt: now, ExpiresAt: now.Add(time.Hour)}); err != nil {
			t.Fatalf("Put(%s) error = %v", p, err)
		}
	}

	entries, err := db.List(ctx)
	if err != nil || len(entries) != 2 {
		t.Fatalf("List() = %d entries, %v, want 2", len(entries), err)
	}

	if err := db.Delete(ctx, models.CacheKey("+33612345678", models.WhatsApp)); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := db.Delete(ctx, "missing"); err != nil {
		t.Errorf("Delete(missing) error = %v, want nil", err)
	}

	_, err = db.Get(ctx, models.CacheKey("+33612345678", models.WhatsApp))
	if !errors.Is(err, cache.ErrNotFound) {
		t.Errorf("Get() after Delete error = %v, want cache.ErrNotFound", err)
	}
}

func TestProbeCache_BacksSmartCache(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	c := cache.New(db, cache.Options{})
	if err := c.Put(ctx, "+33612345678", models.Snapchat, true, 0.7); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	restarted := cache.New(db, cache.Options{})
	if n, err := restarted.Load(ctx); err != nil || n != 1 {
		t.Fatalf("Load() = %d, %v, want 1, nil", n, err)
	}
	if got, err := restarted.Get(ctx, "+33612345678", models.Snapchat); err != nil || got == nil {
		t.Errorf("Get() = %v, %v, want hit", got, err)
	}
}
