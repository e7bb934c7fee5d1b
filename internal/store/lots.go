package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Simplici0/upf/internal/upf"
)

// LotInput is the request to create a production lot with a concrete
// selection.
type LotInput struct {
	ProcessID int64
	LotNumber string
	CreatedBy int64
	Status    string
	Quantity  decimal.Decimal
	Selection upf.Selection
}

// NewLotNumber returns a random lot number.
func NewLotNumber() string {
	return "LOT-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// CommitLot re-reads the process inside the write transaction, materializes
// the selection against the current rows and stores the lot together with
// its selection. A selection that went stale because a group or candidate
// was deleted fails with upf.ErrInvalidSelection and nothing is written.
func (s *Store) CommitLot(ctx context.Context, in LotInput) (upf.ProductionLot, upf.Breakdown, error) {
	if !in.Quantity.IsPositive() {
		return upf.ProductionLot{}, upf.Breakdown{}, fmt.Errorf("%w: lot quantity %s", upf.ErrInvalidQuantity, in.Quantity)
	}
	status := upf.LotPlanning
	if in.Status != "" {
		var err error
		if status, err = upf.ParseLotStatus(in.Status); err != nil {
			return upf.ProductionLot{}, upf.Breakdown{}, err
		}
	}
	lotNumber := strings.TrimSpace(in.LotNumber)
	if lotNumber == "" {
		lotNumber = NewLotNumber()
	}

	var (
		lot   upf.ProductionLot
		costs upf.Breakdown
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		snap, err := s.loadSnapshot(ctx, tx, in.ProcessID)
		if err != nil {
			return err
		}
		rp, err := upf.Resolve(snap)
		if err != nil {
			return err
		}
		if costs, err = upf.Materialize(rp, in.Selection); err != nil {
			return err
		}

		lotID, err := insert(ctx, tx, "production lot", `
			INSERT INTO production_lots (process_id, lot_number, created_by, status, quantity, estimated_cost)
			VALUES (?, ?, ?, ?, ?, ?)
		`, in.ProcessID, lotNumber, nullID(in.CreatedBy), string(status), in.Quantity, costs.Total)
		if err != nil {
			return err
		}

		for _, sp := range costs.PerSubprocess {
			for _, g := range sp.GroupsCost {
				if g.ChosenCandidateID == nil {
					continue
				}
				variantID := candidateVariant(rp, g.GroupID, *g.ChosenCandidateID)
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO production_lot_selections (lot_id, substitute_group_id, variant_usage_id, item_variant_id, cost)
					VALUES (?, ?, ?, ?, ?)
				`, lotID, g.GroupID, *g.ChosenCandidateID, variantID, g.Cost); err != nil {
					return fmt.Errorf("insert lot selection: %w", err)
				}
			}
		}

		lot, err = getLot(ctx, tx, lotID)
		return err
	})
	if err != nil {
		return upf.ProductionLot{}, upf.Breakdown{}, err
	}
	return lot, costs, nil
}

func candidateVariant(rp upf.ResolvedProcess, groupID, usageID int64) int64 {
	g, _ := rp.Group(groupID)
	for _, c := range g.Candidates {
		if c.ID == usageID {
			return c.VariantID
		}
	}
	return 0
}

// GetLot returns a lot with its recorded selection.
func (s *Store) GetLot(ctx context.Context, id int64) (upf.ProductionLot, error) {
	return getLot(ctx, s.db, id)
}

func getLot(ctx context.Context, q querier, id int64) (upf.ProductionLot, error) {
	var (
		lot       upf.ProductionLot
		createdBy sql.NullInt64
		createdAt nullTime
		updatedAt nullTime
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, process_id, lot_number, created_by, status, quantity, estimated_cost, created_at, updated_at
		FROM production_lots
		WHERE id = ?
	`, id).Scan(&lot.ID, &lot.ProcessID, &lot.LotNumber, &createdBy, &lot.Status,
		&lot.Quantity, &lot.EstimatedCost, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return upf.ProductionLot{}, fmt.Errorf("production lot %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return upf.ProductionLot{}, fmt.Errorf("query production lot: %w", err)
	}
	lot.CreatedBy = createdBy.Int64
	lot.CreatedAt = createdAt.Time
	lot.UpdatedAt = updatedAt.Time

	rows, err := q.QueryContext(ctx, `
		SELECT substitute_group_id, variant_usage_id
		FROM production_lot_selections
		WHERE lot_id = ?
		ORDER BY substitute_group_id
	`, id)
	if err != nil {
		return upf.ProductionLot{}, fmt.Errorf("query lot selections: %w", err)
	}
	defer rows.Close()

	lot.Selection = make(upf.Selection)
	for rows.Next() {
		var groupID, usageID int64
		if err := rows.Scan(&groupID, &usageID); err != nil {
			return upf.ProductionLot{}, fmt.Errorf("scan lot selection: %w", err)
		}
		lot.Selection[groupID] = usageID
	}
	if err := rows.Err(); err != nil {
		return upf.ProductionLot{}, fmt.Errorf("iterate lot selections: %w", err)
	}
	return lot, nil
}

// UpdateLotStatus moves a lot to the status named by raw, matched
// case-insensitively. The selection and cached cost never change.
func (s *Store) UpdateLotStatus(ctx context.Context, id int64, raw string) (upf.ProductionLot, error) {
	var lot upf.ProductionLot
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var current upf.LotStatus
		err := tx.QueryRowContext(ctx, `SELECT status FROM production_lots WHERE id = ?`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("production lot %d: %w", id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("query production lot status: %w", err)
		}

		next, err := upf.Transition(current, raw)
		if err != nil {
			return err
		}
		if err := execOne(ctx, tx, "update production lot status", `
			UPDATE production_lots SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
		`, string(next), id); err != nil {
			return err
		}

		lot, err = getLot(ctx, tx, id)
		return err
	})
	return lot, err
}
