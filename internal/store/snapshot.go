package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Simplici0/upf/internal/upf"
)

// LoadSnapshot reads every row needed to cost a process inside one
// transaction. Soft-deleted substitute groups are moved to Retired here and
// nowhere else.
func (s *Store) LoadSnapshot(ctx context.Context, processID int64) (upf.Snapshot, error) {
	var snap upf.Snapshot
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		snap, err = s.loadSnapshot(ctx, tx, processID)
		return err
	})
	return snap, err
}

func (s *Store) loadSnapshot(ctx context.Context, q querier, processID int64) (upf.Snapshot, error) {
	snap := upf.Snapshot{}

	err := q.QueryRowContext(ctx, `SELECT id, name FROM processes WHERE id = ?`, processID).
		Scan(&snap.Process.ID, &snap.Process.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return upf.Snapshot{}, fmt.Errorf("process %d: %w", processID, ErrNotFound)
	}
	if err != nil {
		return upf.Snapshot{}, fmt.Errorf("query process: %w", err)
	}

	if snap.Process.Links, err = queryLinks(ctx, q, processID); err != nil {
		return upf.Snapshot{}, err
	}

	live, retired, err := queryGroups(ctx, q, processID)
	if err != nil {
		return upf.Snapshot{}, err
	}
	snap.Groups = live

	usages, err := queryUsages(ctx, q, processID)
	if err != nil {
		return upf.Snapshot{}, err
	}
	retiredAt := make(map[int64]int, len(retired))
	for i, r := range retired {
		retiredAt[r.ID] = i
	}
	snap.Usages = make([]upf.VariantUsage, 0, len(usages))
	for _, u := range usages {
		if u.SubstituteGroupID != nil {
			if i, ok := retiredAt[*u.SubstituteGroupID]; ok {
				retired[i].UsageIDs = append(retired[i].UsageIDs, u.ID)
				continue
			}
		}
		snap.Usages = append(snap.Usages, u)
	}
	snap.Retired = retired

	if snap.CostItems, err = queryCostItems(ctx, q, processID); err != nil {
		return upf.Snapshot{}, err
	}

	if snap.SupplierRates, err = s.querySupplierRates(ctx, q, processID); err != nil {
		return upf.Snapshot{}, err
	}

	return snap, nil
}

func queryLinks(ctx context.Context, q querier, processID int64) ([]upf.SubprocessLink, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT ps.id, ps.process_id, ps.subprocess_id, ps.sequence, sp.name,
			COALESCE(ps.custom_name, ''), COALESCE(ps.notes, '')
		FROM process_subprocesses ps
		JOIN subprocesses sp ON sp.id = ps.subprocess_id
		WHERE ps.process_id = ?
		ORDER BY ps.sequence, ps.id
	`, processID)
	if err != nil {
		return nil, fmt.Errorf("query subprocess links: %w", err)
	}
	defer rows.Close()

	links := make([]upf.SubprocessLink, 0)
	for rows.Next() {
		var l upf.SubprocessLink
		if err := rows.Scan(&l.ID, &l.ProcessID, &l.SubprocessID, &l.Sequence, &l.Name, &l.CustomName, &l.Notes); err != nil {
			return nil, fmt.Errorf("scan subprocess link: %w", err)
		}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subprocess links: %w", err)
	}
	return links, nil
}

func queryGroups(ctx context.Context, q querier, processID int64) ([]upf.SubstituteGroup, []upf.RetiredGroup, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT g.id, g.process_subprocess_id, g.name, COALESCE(g.description, ''), g.selection_method, g.deleted_at
		FROM substitute_groups g
		JOIN process_subprocesses ps ON ps.id = g.process_subprocess_id
		WHERE ps.process_id = ?
		ORDER BY g.id
	`, processID)
	if err != nil {
		return nil, nil, fmt.Errorf("query substitute groups: %w", err)
	}
	defer rows.Close()

	live := make([]upf.SubstituteGroup, 0)
	retired := make([]upf.RetiredGroup, 0)
	for rows.Next() {
		var g upf.SubstituteGroup
		var deletedAt nullTime
		if err := rows.Scan(&g.ID, &g.LinkID, &g.Name, &g.Description, &g.SelectionMethod, &deletedAt); err != nil {
			return nil, nil, fmt.Errorf("scan substitute group: %w", err)
		}
		if deletedAt.Valid {
			retired = append(retired, upf.RetiredGroup{ID: g.ID, LinkID: g.LinkID, Name: g.Name, DeletedAt: deletedAt.Time})
			continue
		}
		live = append(live, g)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate substitute groups: %w", err)
	}
	return live, retired, nil
}

func queryUsages(ctx context.Context, q querier, processID int64) ([]upf.VariantUsage, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT vu.id, vu.process_subprocess_id, vu.item_variant_id, vu.quantity,
			vu.cost_per_unit, vu.total_cost, vu.substitute_group_id, vu.is_alternative, vu.alternative_order
		FROM variant_usages vu
		JOIN process_subprocesses ps ON ps.id = vu.process_subprocess_id
		WHERE ps.process_id = ?
		ORDER BY vu.id
	`, processID)
	if err != nil {
		return nil, fmt.Errorf("query variant usages: %w", err)
	}
	defer rows.Close()

	usages := make([]upf.VariantUsage, 0)
	for rows.Next() {
		var (
			u           upf.VariantUsage
			costPerUnit decimal.NullDecimal
			totalCost   decimal.NullDecimal
			groupID     sql.NullInt64
			alternative sql.NullInt64
		)
		if err := rows.Scan(&u.ID, &u.LinkID, &u.VariantID, &u.Quantity,
			&costPerUnit, &totalCost, &groupID, &u.IsAlternative, &alternative); err != nil {
			return nil, fmt.Errorf("scan variant usage: %w", err)
		}
		if costPerUnit.Valid {
			u.CostPerUnit = &costPerUnit.Decimal
		}
		if totalCost.Valid {
			u.TotalCost = &totalCost.Decimal
		}
		if groupID.Valid {
			u.SubstituteGroupID = &groupID.Int64
		}
		if alternative.Valid {
			rank := int(alternative.Int64)
			u.AlternativeOrder = &rank
		}
		usages = append(usages, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate variant usages: %w", err)
	}
	return usages, nil
}

func queryCostItems(ctx context.Context, q querier, processID int64) ([]upf.CostItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT ci.id, ci.process_subprocess_id, ci.cost_type, COALESCE(ci.description, ''),
			ci.amount, ci.unit, ci.quantity
		FROM cost_items ci
		JOIN process_subprocesses ps ON ps.id = ci.process_subprocess_id
		WHERE ps.process_id = ?
		ORDER BY ci.id
	`, processID)
	if err != nil {
		return nil, fmt.Errorf("query cost items: %w", err)
	}
	defer rows.Close()

	items := make([]upf.CostItem, 0)
	for rows.Next() {
		var (
			c        upf.CostItem
			unit     sql.NullString
			quantity decimal.NullDecimal
		)
		if err := rows.Scan(&c.ID, &c.LinkID, &c.Type, &c.Description, &c.Amount, &unit, &quantity); err != nil {
			return nil, fmt.Errorf("scan cost item: %w", err)
		}
		if unit.Valid {
			c.Unit = &unit.String
		}
		if quantity.Valid {
			c.Quantity = &quantity.Decimal
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cost items: %w", err)
	}
	return items, nil
}

// querySupplierRates returns, per variant consumed by the process, the unit
// rate with the latest effective date not after today. Rates sharing that
// date resolve to the highest one.
func (s *Store) querySupplierRates(ctx context.Context, q querier, processID int64) (map[int64]decimal.Decimal, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT r.variant_id, r.cost_per_unit, r.effective_date
		FROM supplier_variant_rates r
		JOIN suppliers s ON s.id = r.supplier_id
		WHERE s.active
			AND r.effective_date <= ?
			AND r.variant_id IN (
				SELECT vu.item_variant_id
				FROM variant_usages vu
				JOIN process_subprocesses ps ON ps.id = vu.process_subprocess_id
				WHERE ps.process_id = ?
			)
	`, s.now().Format(dateLayout), processID)
	if err != nil {
		return nil, fmt.Errorf("query supplier rates: %w", err)
	}
	defer rows.Close()

	type latest struct {
		date string
		rate decimal.Decimal
	}
	best := make(map[int64]latest)
	for rows.Next() {
		var (
			variantID int64
			rate      decimal.Decimal
			date      string
		)
		if err := rows.Scan(&variantID, &rate, &date); err != nil {
			return nil, fmt.Errorf("scan supplier rate: %w", err)
		}
		cur, ok := best[variantID]
		if !ok || date > cur.date || (date == cur.date && rate.GreaterThan(cur.rate)) {
			best[variantID] = latest{date: date, rate: rate}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate supplier rates: %w", err)
	}

	rates := make(map[int64]decimal.Decimal, len(best))
	for variantID, l := range best {
		rates[variantID] = l.rate
	}
	return rates, nil
}
