package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Simplici0/upf/internal/upf"
)

// CreateProcess inserts an empty process and returns its id.
func (s *Store) CreateProcess(ctx context.Context, name, description string) (int64, error) {
	return insert(ctx, s.db, "process", `
		INSERT INTO processes (name, description) VALUES (?, ?)
	`, name, nullString(description))
}

// CreateSubprocess inserts a reusable subprocess definition.
func (s *Store) CreateSubprocess(ctx context.Context, name, description string) (int64, error) {
	return insert(ctx, s.db, "subprocess", `
		INSERT INTO subprocesses (name, description) VALUES (?, ?)
	`, name, nullString(description))
}

func (s *Store) CreateVariant(ctx context.Context, sku, name, unit string) (int64, error) {
	if unit == "" {
		unit = "unit"
	}
	return insert(ctx, s.db, "item variant", `
		INSERT INTO item_variants (sku, name, unit) VALUES (?, ?, ?)
	`, sku, name, unit)
}

func (s *Store) CreateSupplier(ctx context.Context, name string) (int64, error) {
	return insert(ctx, s.db, "supplier", `
		INSERT INTO suppliers (name, active) VALUES (?, TRUE)
	`, name)
}

// SupplierRate is a supplier's unit price for a variant from a given date.
type SupplierRate struct {
	ID            int64           `json:"id"`
	SupplierID    int64           `json:"supplier_id"`
	SupplierName  string          `json:"supplier_name"`
	VariantID     int64           `json:"variant_id"`
	CostPerUnit   decimal.Decimal `json:"cost_per_unit"`
	EffectiveDate time.Time       `json:"effective_date"`
}

// AddSupplierRate stores a dated rate. An unknown supplier or variant fails
// with ErrNotFound.
func (s *Store) AddSupplierRate(ctx context.Context, r SupplierRate) (int64, error) {
	if r.CostPerUnit.IsNegative() {
		return 0, fmt.Errorf("%w: cost per unit %s is negative", ErrInvalidRate, r.CostPerUnit)
	}
	return insert(ctx, s.db, "supplier rate", `
		INSERT INTO supplier_variant_rates (supplier_id, variant_id, cost_per_unit, effective_date)
		VALUES (?, ?, ?, ?)
	`, r.SupplierID, r.VariantID, r.CostPerUnit, r.EffectiveDate.Format(dateLayout))
}

// ListSupplierRates returns every rate of a variant, newest first.
func (s *Store) ListSupplierRates(ctx context.Context, variantID int64) ([]SupplierRate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.supplier_id, s.name, r.variant_id, r.cost_per_unit, r.effective_date
		FROM supplier_variant_rates r
		JOIN suppliers s ON s.id = r.supplier_id
		WHERE r.variant_id = ?
		ORDER BY r.effective_date DESC, r.id DESC
	`, variantID)
	if err != nil {
		return nil, fmt.Errorf("query supplier rates: %w", err)
	}
	defer rows.Close()

	rates := make([]SupplierRate, 0)
	for rows.Next() {
		var r SupplierRate
		var date string
		if err := rows.Scan(&r.ID, &r.SupplierID, &r.SupplierName, &r.VariantID, &r.CostPerUnit, &date); err != nil {
			return nil, fmt.Errorf("scan supplier rate: %w", err)
		}
		if r.EffectiveDate, err = time.Parse(dateLayout, date); err != nil {
			return nil, fmt.Errorf("parse effective date %q: %w", date, err)
		}
		rates = append(rates, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate supplier rates: %w", err)
	}
	return rates, nil
}

// LinkInput adds a subprocess to a process at a sequence position.
type LinkInput struct {
	ProcessID    int64
	SubprocessID int64
	Sequence     int
	CustomName   string
	Notes        string
}

// AddSubprocessLink fails with upf.ErrDuplicateSequence when the position is
// taken.
func (s *Store) AddSubprocessLink(ctx context.Context, in LinkInput) (int64, error) {
	id, err := insert(ctx, s.db, "subprocess link", `
		INSERT INTO process_subprocesses (process_id, subprocess_id, sequence, custom_name, notes)
		VALUES (?, ?, ?, ?, ?)
	`, in.ProcessID, in.SubprocessID, in.Sequence, nullString(in.CustomName), nullString(in.Notes))
	if errors.Is(err, ErrDuplicate) {
		return 0, fmt.Errorf("%w: process %d already has position %d", upf.ErrDuplicateSequence, in.ProcessID, in.Sequence)
	}
	return id, err
}

// DeleteSubprocessLink removes a link; its usages, cost items and groups
// cascade.
func (s *Store) DeleteSubprocessLink(ctx context.Context, id int64) error {
	return execOne(ctx, s.db, "delete subprocess link", `DELETE FROM process_subprocesses WHERE id = ?`, id)
}

// UsageInput describes a variant usage row.
type UsageInput struct {
	LinkID            int64
	VariantID         int64
	Quantity          decimal.Decimal
	CostPerUnit       *decimal.Decimal
	TotalCost         *decimal.Decimal
	SubstituteGroupID *int64
	AlternativeOrder  *int
}

// AddVariantUsage inserts a usage after checking that its group, if any, is a
// live group of the same subprocess link.
func (s *Store) AddVariantUsage(ctx context.Context, in UsageInput) (int64, error) {
	if !in.Quantity.IsPositive() {
		return 0, fmt.Errorf("%w: quantity %s", upf.ErrInvalidQuantity, in.Quantity)
	}

	var id int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var group sql.NullInt64
		if in.SubstituteGroupID != nil {
			if err := checkGroupLink(ctx, tx, *in.SubstituteGroupID, in.LinkID); err != nil {
				return err
			}
			group = sql.NullInt64{Int64: *in.SubstituteGroupID, Valid: true}
		}

		var order sql.NullInt64
		if in.AlternativeOrder != nil {
			order = sql.NullInt64{Int64: int64(*in.AlternativeOrder), Valid: true}
		}

		var err error
		id, err = insert(ctx, tx, "variant usage", `
			INSERT INTO variant_usages (
				process_subprocess_id, item_variant_id, quantity, cost_per_unit, total_cost,
				substitute_group_id, is_alternative, alternative_order
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, in.LinkID, in.VariantID, in.Quantity, nullDecimal(in.CostPerUnit), nullDecimal(in.TotalCost),
			group, group.Valid, order)
		return err
	})
	return id, err
}

func checkGroupLink(ctx context.Context, q querier, groupID, linkID int64) error {
	var groupLink int64
	var deletedAt nullTime
	err := q.QueryRowContext(ctx, `
		SELECT process_subprocess_id, deleted_at FROM substitute_groups WHERE id = ?
	`, groupID).Scan(&groupLink, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && deletedAt.Valid) {
		return fmt.Errorf("%w: group %d does not exist", upf.ErrInconsistentGroupMembership, groupID)
	}
	if err != nil {
		return fmt.Errorf("query substitute group: %w", err)
	}
	if groupLink != linkID {
		return fmt.Errorf("%w: group %d belongs to link %d, not %d",
			upf.ErrInconsistentGroupMembership, groupID, groupLink, linkID)
	}
	return nil
}

func (s *Store) UpdateUsageQuantity(ctx context.Context, id int64, qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return fmt.Errorf("%w: quantity %s", upf.ErrInvalidQuantity, qty)
	}
	return execOne(ctx, s.db, "update variant usage", `
		UPDATE variant_usages SET quantity = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, qty, id)
}

func (s *Store) DeleteVariantUsage(ctx context.Context, id int64) error {
	return execOne(ctx, s.db, "delete variant usage", `DELETE FROM variant_usages WHERE id = ?`, id)
}

// CostItemInput describes a cost item row. Unit and Quantity are both set
// for unit-rate costs.
type CostItemInput struct {
	LinkID      int64
	Type        upf.CostType
	Description string
	Amount      decimal.Decimal
	Unit        string
	Quantity    *decimal.Decimal
}

func (s *Store) AddCostItem(ctx context.Context, in CostItemInput) (int64, error) {
	if !in.Type.Valid() {
		return 0, fmt.Errorf("unknown cost type %q", in.Type)
	}
	if in.Amount.IsNegative() {
		return 0, fmt.Errorf("%w: amount %s is negative", upf.ErrInvalidQuantity, in.Amount)
	}
	if in.Quantity != nil && !in.Quantity.IsPositive() {
		return 0, fmt.Errorf("%w: quantity %s", upf.ErrInvalidQuantity, in.Quantity)
	}
	return insert(ctx, s.db, "cost item", `
		INSERT INTO cost_items (process_subprocess_id, cost_type, description, amount, unit, quantity)
		VALUES (?, ?, ?, ?, ?, ?)
	`, in.LinkID, string(in.Type), nullString(in.Description), in.Amount, nullString(in.Unit), nullDecimal(in.Quantity))
}

func (s *Store) DeleteCostItem(ctx context.Context, id int64) error {
	return execOne(ctx, s.db, "delete cost item", `DELETE FROM cost_items WHERE id = ?`, id)
}

// GroupInput describes a substitute group.
type GroupInput struct {
	LinkID          int64
	Name            string
	Description     string
	SelectionMethod upf.SelectionMethod
}

func (s *Store) CreateSubstituteGroup(ctx context.Context, in GroupInput) (int64, error) {
	method := in.SelectionMethod
	if method == "" {
		method = upf.SelectionDropdown
	}
	return insert(ctx, s.db, "substitute group", `
		INSERT INTO substitute_groups (process_subprocess_id, name, description, selection_method)
		VALUES (?, ?, ?, ?)
	`, in.LinkID, in.Name, nullString(in.Description), string(method))
}

// SoftDeleteGroup tombstones a live substitute group. Its candidate rows are
// kept for history.
func (s *Store) SoftDeleteGroup(ctx context.Context, id int64) error {
	return execOne(ctx, s.db, "soft delete substitute group", `
		UPDATE substitute_groups SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL
	`, formatTime(s.now()), id)
}
