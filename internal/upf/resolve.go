package upf

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"
)

// ResolvedProcess is the usage graph of a process, ordered for reporting.
type ResolvedProcess struct {
	ProcessID     int64
	Name          string
	Subprocesses  []ResolvedSubprocess
	SupplierRates map[int64]decimal.Decimal
}

// ResolvedSubprocess holds the consumption of one subprocess link split
// into mandatory usages and substitute groups.
type ResolvedSubprocess struct {
	Link      SubprocessLink
	Mandatory []VariantUsage
	Groups    []ResolvedGroup
	CostItems []CostItem
	Retired   []RetiredGroup
}

// ResolvedGroup is a live substitute group with its candidates ordered by
// alternative order (unranked last), then id. Candidates may be empty.
type ResolvedGroup struct {
	Group      SubstituteGroup
	Candidates []VariantUsage
}

// Group returns the resolved group with the given id.
func (rp ResolvedProcess) Group(id int64) (ResolvedGroup, bool) {
	for _, sp := range rp.Subprocesses {
		for _, g := range sp.Groups {
			if g.Group.ID == id {
				return g, true
			}
		}
	}
	return ResolvedGroup{}, false
}

// Resolve builds the usage graph of s.Process. The result depends only on
// the set of rows in s, never on their order.
func Resolve(s Snapshot) (ResolvedProcess, error) {
	links := slices.Clone(s.Process.Links)
	slices.SortFunc(links, func(a, b SubprocessLink) int {
		return cmp.Or(cmp.Compare(a.Sequence, b.Sequence), cmp.Compare(a.ID, b.ID))
	})

	index := make(map[int64]int, len(links))
	subs := make([]ResolvedSubprocess, len(links))
	for i, link := range links {
		if i > 0 && links[i-1].Sequence == link.Sequence {
			return ResolvedProcess{}, fmt.Errorf("%w: links %d and %d share position %d",
				ErrDuplicateSequence, links[i-1].ID, link.ID, link.Sequence)
		}
		index[link.ID] = i
		subs[i] = ResolvedSubprocess{
			Link:      link,
			Mandatory: make([]VariantUsage, 0),
			Groups:    make([]ResolvedGroup, 0),
			CostItems: make([]CostItem, 0),
			Retired:   make([]RetiredGroup, 0),
		}
	}

	groups := slices.Clone(s.Groups)
	slices.SortFunc(groups, func(a, b SubstituteGroup) int { return cmp.Compare(a.ID, b.ID) })
	groupAt := make(map[int64][2]int, len(groups))
	for _, g := range groups {
		i, ok := index[g.LinkID]
		if !ok {
			return ResolvedProcess{}, fmt.Errorf("%w: group %d references link %d",
				ErrUnknownSubprocess, g.ID, g.LinkID)
		}
		groupAt[g.ID] = [2]int{i, len(subs[i].Groups)}
		subs[i].Groups = append(subs[i].Groups, ResolvedGroup{Group: g, Candidates: make([]VariantUsage, 0)})
	}

	usages := slices.Clone(s.Usages)
	slices.SortFunc(usages, func(a, b VariantUsage) int { return cmp.Compare(a.ID, b.ID) })
	for _, u := range usages {
		i, ok := index[u.LinkID]
		if !ok {
			return ResolvedProcess{}, fmt.Errorf("%w: usage %d references link %d",
				ErrUnknownSubprocess, u.ID, u.LinkID)
		}
		if !u.Quantity.IsPositive() {
			return ResolvedProcess{}, fmt.Errorf("%w: usage %d has quantity %s",
				ErrInvalidQuantity, u.ID, u.Quantity)
		}

		switch role := u.Role().(type) {
		case Mandatory:
			subs[i].Mandatory = append(subs[i].Mandatory, u)
		case Alternative:
			at, ok := groupAt[role.GroupID]
			if !ok {
				return ResolvedProcess{}, fmt.Errorf("%w: usage %d references unknown group %d",
					ErrInconsistentGroupMembership, u.ID, role.GroupID)
			}
			if at[0] != i {
				return ResolvedProcess{}, fmt.Errorf("%w: usage %d on link %d belongs to group %d on link %d",
					ErrInconsistentGroupMembership, u.ID, u.LinkID, role.GroupID, subs[at[0]].Link.ID)
			}
			g := &subs[i].Groups[at[1]]
			g.Candidates = append(g.Candidates, u)
		default:
			panic(fmt.Sprintf("upf: unhandled usage role %T", role))
		}
	}
	for i := range subs {
		for j := range subs[i].Groups {
			slices.SortStableFunc(subs[i].Groups[j].Candidates, compareCandidates)
		}
	}

	items := slices.Clone(s.CostItems)
	slices.SortFunc(items, func(a, b CostItem) int { return cmp.Compare(a.ID, b.ID) })
	for _, c := range items {
		i, ok := index[c.LinkID]
		if !ok {
			return ResolvedProcess{}, fmt.Errorf("%w: cost item %d references link %d",
				ErrUnknownSubprocess, c.ID, c.LinkID)
		}
		if c.Quantity != nil && !c.Quantity.IsPositive() {
			return ResolvedProcess{}, fmt.Errorf("%w: cost item %d has quantity %s",
				ErrInvalidQuantity, c.ID, *c.Quantity)
		}
		subs[i].CostItems = append(subs[i].CostItems, c)
	}

	retired := slices.Clone(s.Retired)
	slices.SortFunc(retired, func(a, b RetiredGroup) int { return cmp.Compare(a.ID, b.ID) })
	for _, r := range retired {
		i, ok := index[r.LinkID]
		if !ok {
			continue
		}
		r.UsageIDs = slices.Sorted(slices.Values(r.UsageIDs))
		subs[i].Retired = append(subs[i].Retired, r)
	}

	rates := make(map[int64]decimal.Decimal, len(s.SupplierRates))
	for variantID, rate := range s.SupplierRates {
		rates[variantID] = rate
	}

	return ResolvedProcess{
		ProcessID:     s.Process.ID,
		Name:          s.Process.Name,
		Subprocesses:  subs,
		SupplierRates: rates,
	}, nil
}

func compareCandidates(a, b VariantUsage) int {
	switch {
	case a.AlternativeOrder != nil && b.AlternativeOrder == nil:
		return -1
	case a.AlternativeOrder == nil && b.AlternativeOrder != nil:
		return 1
	case a.AlternativeOrder != nil && b.AlternativeOrder != nil:
		if c := cmp.Compare(*a.AlternativeOrder, *b.AlternativeOrder); c != 0 {
			return c
		}
	}
	return cmp.Compare(a.ID, b.ID)
}
