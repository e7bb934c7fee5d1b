package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrDivisionUndefined is returned together with a complete Result when the
// margin percentage cannot be computed because revenue is zero. Callers
// should report it and keep the result.
var ErrDivisionUndefined = errors.New("division undefined")

// ErrInvalidRevenue reports revenue inputs that cannot describe a sale.
var ErrInvalidRevenue = errors.New("invalid revenue")

// Revenue is the expected income of a process run, either an explicit
// figure or a selling price times a quantity.
type Revenue struct {
	Explicit     *decimal.Decimal
	SellingPrice decimal.Decimal
	Quantity     decimal.Decimal
}

// Validate rejects negative amounts.
func (r Revenue) Validate() error {
	if r.Explicit != nil {
		if r.Explicit.IsNegative() {
			return fmt.Errorf("%w: revenue %s is negative", ErrInvalidRevenue, r.Explicit)
		}
		return nil
	}
	if r.SellingPrice.IsNegative() {
		return fmt.Errorf("%w: selling price %s is negative", ErrInvalidRevenue, r.SellingPrice)
	}
	if r.Quantity.IsNegative() {
		return fmt.Errorf("%w: quantity %s is negative", ErrInvalidRevenue, r.Quantity)
	}
	return nil
}

// Amount returns the revenue figure.
func (r Revenue) Amount() decimal.Decimal {
	if r.Explicit != nil {
		return *r.Explicit
	}
	return r.SellingPrice.Mul(r.Quantity)
}

// Result is the profitability of a cost against a revenue. MarginPct is the
// ratio margin/revenue and is nil when revenue is zero.
type Result struct {
	Cost         decimal.Decimal
	Revenue      decimal.Decimal
	Margin       decimal.Decimal
	MarginPct    *decimal.Decimal
	IsProfitable bool
}

// Rounded returns a copy with every amount rounded to places digits.
func (r Result) Rounded(places int32) Result {
	out := r
	out.Cost = r.Cost.Round(places)
	out.Revenue = r.Revenue.Round(places)
	out.Margin = r.Margin.Round(places)
	if r.MarginPct != nil {
		pct := r.MarginPct.Round(places + 2)
		out.MarginPct = &pct
	}
	return out
}

// Calculate computes margin and profitability of cost against rev. It is a
// pure function; the only error is ErrDivisionUndefined, which leaves the
// returned Result complete apart from MarginPct.
func Calculate(cost decimal.Decimal, rev Revenue) (Result, error) {
	revenue := rev.Amount()
	margin := revenue.Sub(cost)

	result := Result{
		Cost:         cost,
		Revenue:      revenue,
		Margin:       margin,
		IsProfitable: margin.IsPositive(),
	}
	if revenue.IsZero() {
		return result, fmt.Errorf("%w: margin percentage with zero revenue", ErrDivisionUndefined)
	}

	pct := margin.Div(revenue)
	result.MarginPct = &pct
	return result, nil
}
