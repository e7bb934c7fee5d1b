package seed

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/Simplici0/upf/internal/db"
	"github.com/Simplici0/upf/internal/migrations"
	"github.com/Simplici0/upf/internal/store"
	"github.com/Simplici0/upf/internal/upf"
)

func TestRunIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dbPath := filepath.Join(t.TempDir(), "seed-test.db")
	database, err := db.Open(ctx, dbPath)
	if err != nil {
		t.Fatalf("open sqlite database: %v", err)
	}
	defer database.Close()

	if err := migrations.Up(ctx, database, "../../migrations", nil); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	cfg := Config{
		AdminEmail:    "admin@upf.local",
		AdminPassword: "12345",
		Demo:          true,
	}

	for i := 0; i < 5; i++ {
		stats, err := Run(ctx, database, cfg)
		if err != nil {
			t.Fatalf("run seed (iteration=%d): %v", i, err)
		}
		if i == 0 {
			if stats.Inserts != 2 {
				t.Fatalf("expected 2 inserts in first run, got %d", stats.Inserts)
			}
			continue
		}
		if stats.Inserts != 0 {
			t.Fatalf("expected 0 inserts in iteration %d, got %d", i, stats.Inserts)
		}
	}

	assertCount(t, database, `SELECT COUNT(*) FROM users WHERE email = ?`, "admin@upf.local", 1)
	assertCount(t, database, `SELECT COUNT(*) FROM processes WHERE name = ?`, DemoProcessName, 1)
	assertCount(t, database, `SELECT COUNT(*) FROM variant_usages`, nil, 3)

	var hash string
	if err := database.QueryRow(`SELECT password_hash FROM users WHERE email = ?`, "admin@upf.local").Scan(&hash); err != nil {
		t.Fatalf("query admin hash: %v", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("12345")); err != nil {
		t.Fatalf("expected admin hash to match password: %v", err)
	}
}

func TestDemoProcessWorstCase(t *testing.T) {
	ctx := context.Background()

	database, err := db.Open(ctx, filepath.Join(t.TempDir(), "seed-demo.db"))
	if err != nil {
		t.Fatalf("open sqlite database: %v", err)
	}
	defer database.Close()
	if err := migrations.Up(ctx, database, "../../migrations", nil); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	if _, err := Run(ctx, database, Config{Demo: true}); err != nil {
		t.Fatalf("run seed: %v", err)
	}

	var processID int64
	if err := database.QueryRow(`SELECT id FROM processes WHERE name = ?`, DemoProcessName).Scan(&processID); err != nil {
		t.Fatalf("query demo process: %v", err)
	}

	snap, err := store.New(database).LoadSnapshot(ctx, processID)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	rp, err := upf.Resolve(snap)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := upf.Estimate(rp).Total.StringFixed(2); got != "19.50" {
		t.Fatalf("worst case=%s, want 19.50", got)
	}
}

func assertCount(t *testing.T, database *sql.DB, query string, args any, expected int) {
	t.Helper()

	var count int
	var err error
	switch v := args.(type) {
	case nil:
		err = database.QueryRow(query).Scan(&count)
	case []any:
		err = database.QueryRow(query, v...).Scan(&count)
	default:
		err = database.QueryRow(query, v).Scan(&count)
	}
	if err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if count != expected {
		t.Fatalf("expected count %d, got %d", expected, count)
	}
}
