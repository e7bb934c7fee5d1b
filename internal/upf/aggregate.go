package upf

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Basis tells how substitute groups were costed.
type Basis string

const (
	BasisWorstCase Basis = "worst_case"
	BasisSelected  Basis = "selected"
)

// CostSource tells where a usage's effective cost came from.
type CostSource string

const (
	SourceTotalCost    CostSource = "total_cost"
	SourceCostPerUnit  CostSource = "cost_per_unit"
	SourceSupplierRate CostSource = "supplier_rate"
	SourceNone         CostSource = "none"
)

// GroupCost is the contribution of one substitute group.
type GroupCost struct {
	GroupID           int64
	ChosenCandidateID *int64
	Cost              decimal.Decimal
}

// SubprocessCost is the cost breakdown of one subprocess link.
type SubprocessCost struct {
	SubprocessLinkID int64
	Sequence         int
	Name             string
	MandatoryCost    decimal.Decimal
	CostItemsTotal   decimal.Decimal
	GroupsCost       []GroupCost
	Subtotal         decimal.Decimal
}

// Breakdown is the cost of a process, either the worst-case estimate or the
// actual cost of a concrete selection.
type Breakdown struct {
	ProcessID     int64
	Basis         Basis
	PerSubprocess []SubprocessCost
	Total         decimal.Decimal
	Warnings      []Warning
}

// Rounded returns a copy with every amount rounded to places digits. Each
// amount is rounded on its own: Total is the exact sum rounded once, so the
// rounded subtotals may not add up to it.
func (b Breakdown) Rounded(places int32) Breakdown {
	out := b
	out.Total = b.Total.Round(places)
	out.PerSubprocess = make([]SubprocessCost, len(b.PerSubprocess))
	for i, sp := range b.PerSubprocess {
		sp.MandatoryCost = sp.MandatoryCost.Round(places)
		sp.CostItemsTotal = sp.CostItemsTotal.Round(places)
		sp.Subtotal = sp.Subtotal.Round(places)
		groups := make([]GroupCost, len(sp.GroupsCost))
		for j, g := range sp.GroupsCost {
			g.Cost = g.Cost.Round(places)
			groups[j] = g
		}
		sp.GroupsCost = groups
		out.PerSubprocess[i] = sp
	}
	return out
}

// EffectiveCost resolves the cost of a usage: an explicit total cost, else
// cost per unit times quantity, else the variant's supplier rate times
// quantity. The bool is false when no source exists.
func EffectiveCost(u VariantUsage, rates map[int64]decimal.Decimal) (decimal.Decimal, CostSource, bool) {
	switch {
	case u.TotalCost != nil:
		return *u.TotalCost, SourceTotalCost, true
	case u.CostPerUnit != nil:
		return u.CostPerUnit.Mul(u.Quantity), SourceCostPerUnit, true
	}
	if rate, ok := rates[u.VariantID]; ok {
		return rate.Mul(u.Quantity), SourceSupplierRate, true
	}
	return decimal.Zero, SourceNone, false
}

// pricedCandidate is a group candidate with its effective cost.
type pricedCandidate struct {
	Usage VariantUsage
	Cost  decimal.Decimal
}

// groupPicker chooses the candidate that stands for a non-empty group.
type groupPicker func(g ResolvedGroup, priced []pricedCandidate) (int, error)

// Estimate computes the worst-case cost of rp: every substitute group
// contributes its most expensive candidate.
func Estimate(rp ResolvedProcess) Breakdown {
	b, err := aggregate(rp, BasisWorstCase, pickMax)
	if err != nil {
		// pickMax never fails.
		panic(err)
	}
	return b
}

func pickMax(_ ResolvedGroup, priced []pricedCandidate) (int, error) {
	best := 0
	for i := 1; i < len(priced); i++ {
		if priced[i].Cost.GreaterThan(priced[best].Cost) {
			best = i
		}
	}
	return best, nil
}

func aggregate(rp ResolvedProcess, basis Basis, pick groupPicker) (Breakdown, error) {
	out := Breakdown{
		ProcessID:     rp.ProcessID,
		Basis:         basis,
		PerSubprocess: make([]SubprocessCost, 0, len(rp.Subprocesses)),
		Total:         decimal.Zero,
		Warnings:      make([]Warning, 0),
	}

	for _, sp := range rp.Subprocesses {
		linkID := sp.Link.ID
		cost := SubprocessCost{
			SubprocessLinkID: linkID,
			Sequence:         sp.Link.Sequence,
			Name:             sp.Link.DisplayName(),
			MandatoryCost:    decimal.Zero,
			CostItemsTotal:   decimal.Zero,
			GroupsCost:       make([]GroupCost, 0, len(sp.Groups)),
		}

		for _, u := range sp.Mandatory {
			c, _, ok := EffectiveCost(u, rp.SupplierRates)
			if !ok {
				out.Warnings = append(out.Warnings, missingCostWarning(linkID, 0, u))
			}
			cost.MandatoryCost = cost.MandatoryCost.Add(c)
		}

		for _, item := range sp.CostItems {
			cost.CostItemsTotal = cost.CostItemsTotal.Add(item.Total())
		}

		groupsTotal := decimal.Zero
		for _, g := range sp.Groups {
			if len(g.Candidates) == 0 {
				out.Warnings = append(out.Warnings, Warning{
					Code:             WarnEmptyGroup,
					SubprocessLinkID: linkID,
					GroupID:          g.Group.ID,
					Message:          fmt.Sprintf("substitute group %q has no candidates", g.Group.Name),
				})
				cost.GroupsCost = append(cost.GroupsCost, GroupCost{GroupID: g.Group.ID, Cost: decimal.Zero})
				continue
			}

			priced := make([]pricedCandidate, len(g.Candidates))
			for i, u := range g.Candidates {
				c, _, ok := EffectiveCost(u, rp.SupplierRates)
				if !ok {
					out.Warnings = append(out.Warnings, missingCostWarning(linkID, g.Group.ID, u))
				}
				priced[i] = pricedCandidate{Usage: u, Cost: c}
			}

			idx, err := pick(g, priced)
			if err != nil {
				return Breakdown{}, err
			}
			chosen := priced[idx]
			id := chosen.Usage.ID
			cost.GroupsCost = append(cost.GroupsCost, GroupCost{GroupID: g.Group.ID, ChosenCandidateID: &id, Cost: chosen.Cost})
			groupsTotal = groupsTotal.Add(chosen.Cost)
		}

		for _, r := range sp.Retired {
			out.Warnings = append(out.Warnings, Warning{
				Code:             WarnGroupRetired,
				SubprocessLinkID: linkID,
				GroupID:          r.ID,
				Message:          fmt.Sprintf("substitute group %q was deleted and is excluded", r.Name),
			})
		}

		cost.Subtotal = cost.MandatoryCost.Add(cost.CostItemsTotal).Add(groupsTotal)
		out.Total = out.Total.Add(cost.Subtotal)
		out.PerSubprocess = append(out.PerSubprocess, cost)
	}

	return out, nil
}

func missingCostWarning(linkID, groupID int64, u VariantUsage) Warning {
	return Warning{
		Code:             WarnMissingCostSource,
		SubprocessLinkID: linkID,
		GroupID:          groupID,
		UsageID:          u.ID,
		Message:          fmt.Sprintf("usage %d of variant %d has no cost source", u.ID, u.VariantID),
	}
}
