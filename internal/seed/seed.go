package seed

import (
	"context"
	"database/sql"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	DemoProcessName    = "Demo bracket"
	demoSubprocessName = "Cutting"
)

// Config contains the values required by startup seed.
type Config struct {
	AdminEmail    string
	AdminPassword string
	Demo          bool
}

// Stats contains seed operation counters.
type Stats struct {
	Inserts int
	Updates int
}

// Run executes the startup seed in an idempotent way.
func Run(ctx context.Context, db *sql.DB, cfg Config) (Stats, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return Stats{}, fmt.Errorf("begin seed transaction: %w", err)
	}

	stats := Stats{}

	if err := seedAdmin(ctx, tx, cfg.AdminEmail, cfg.AdminPassword, &stats); err != nil {
		_ = tx.Rollback()
		return Stats{}, err
	}
	if cfg.Demo {
		if err := ensureDemoProcess(ctx, tx, &stats); err != nil {
			_ = tx.Rollback()
			return Stats{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return Stats{}, fmt.Errorf("commit seed transaction: %w", err)
	}

	return stats, nil
}

func seedAdmin(ctx context.Context, tx *sql.Tx, email, password string, stats *Stats) error {
	if email == "" || password == "" {
		return nil
	}

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE email = ? LIMIT 1)`, email).Scan(&exists); err != nil {
		return fmt.Errorf("check admin user existence: %w", err)
	}
	if exists {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO users (email, password_hash) VALUES (?, ?)`, email, string(hash)); err != nil {
		return fmt.Errorf("insert admin user: %w", err)
	}
	stats.Inserts++
	return nil
}

// ensureDemoProcess stores a one-step process with a mandatory sheet, a
// labor cost and a two-candidate fastener group. Its worst case is 19.50.
func ensureDemoProcess(ctx context.Context, tx *sql.Tx, stats *Stats) error {
	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM processes WHERE name = ? LIMIT 1)`, DemoProcessName).Scan(&exists); err != nil {
		return fmt.Errorf("check demo process existence: %w", err)
	}
	if exists {
		return nil
	}

	processID, err := insertID(ctx, tx, "demo process",
		`INSERT INTO processes (name, description) VALUES (?, ?)`, DemoProcessName, "Seeded example")
	if err != nil {
		return err
	}
	subprocessID, err := insertID(ctx, tx, "demo subprocess",
		`INSERT INTO subprocesses (name) VALUES (?)`, demoSubprocessName)
	if err != nil {
		return err
	}
	linkID, err := insertID(ctx, tx, "demo link",
		`INSERT INTO process_subprocesses (process_id, subprocess_id, sequence) VALUES (?, ?, ?)`, processID, subprocessID, 10)
	if err != nil {
		return err
	}

	variants := make(map[string]int64, 3)
	for _, v := range []struct{ sku, name, unit string }{
		{"DEMO-STEEL-2MM", "Steel sheet 2mm", "sheet"},
		{"DEMO-BOLT-A", "Bolt A", "unit"},
		{"DEMO-BOLT-B", "Bolt B", "unit"},
	} {
		id, err := insertID(ctx, tx, "demo variant",
			`INSERT INTO item_variants (sku, name, unit) VALUES (?, ?, ?)`, v.sku, v.name, v.unit)
		if err != nil {
			return err
		}
		variants[v.sku] = id
	}

	if _, err := insertID(ctx, tx, "demo mandatory usage", `
		INSERT INTO variant_usages (process_subprocess_id, item_variant_id, quantity, cost_per_unit)
		VALUES (?, ?, ?, ?)
	`, linkID, variants["DEMO-STEEL-2MM"], "2", "5.00"); err != nil {
		return err
	}
	if _, err := insertID(ctx, tx, "demo cost item", `
		INSERT INTO cost_items (process_subprocess_id, cost_type, description, amount)
		VALUES (?, ?, ?, ?)
	`, linkID, "labor", "Operator", "3.50"); err != nil {
		return err
	}

	groupID, err := insertID(ctx, tx, "demo substitute group", `
		INSERT INTO substitute_groups (process_subprocess_id, name, selection_method)
		VALUES (?, ?, ?)
	`, linkID, "Fastener", "radio")
	if err != nil {
		return err
	}
	for i, c := range []struct {
		sku  string
		cost string
	}{
		{"DEMO-BOLT-A", "4.00"},
		{"DEMO-BOLT-B", "6.00"},
	} {
		if _, err := insertID(ctx, tx, "demo alternative usage", `
			INSERT INTO variant_usages (
				process_subprocess_id, item_variant_id, quantity, cost_per_unit,
				substitute_group_id, is_alternative, alternative_order
			) VALUES (?, ?, ?, ?, ?, TRUE, ?)
		`, linkID, variants[c.sku], "1", c.cost, groupID, i+1); err != nil {
			return err
		}
	}

	stats.Inserts++
	return nil
}

func insertID(ctx context.Context, tx *sql.Tx, what, query string, args ...any) (int64, error) {
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert %s: %w", what, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert %s: %w", what, err)
	}
	return id, nil
}
