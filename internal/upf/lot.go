package upf

import (
	"fmt"
	"maps"
	"slices"
)

// Materialize computes the actual cost of rp when every substitute group
// contributes the candidate named in sel. Groups without candidates need no
// entry. It fails with ErrUnresolvedGroup when a group with candidates has no
// entry and with ErrInvalidSelection when an entry names a candidate or a
// group that is not part of rp. An entry for a group whose candidates are
// all gone is invalid too: no id belongs to an empty candidate set.
func Materialize(rp ResolvedProcess, sel Selection) (Breakdown, error) {
	for _, groupID := range slices.Sorted(maps.Keys(sel)) {
		g, ok := rp.Group(groupID)
		if !ok {
			return Breakdown{}, fmt.Errorf("%w: group %d is not an active group of process %d",
				ErrInvalidSelection, groupID, rp.ProcessID)
		}
		if len(g.Candidates) == 0 {
			return Breakdown{}, fmt.Errorf("%w: usage %d is not a candidate of group %d, which has none",
				ErrInvalidSelection, sel[groupID], groupID)
		}
	}
	return aggregate(rp, BasisSelected, pickSelected(sel))
}

func pickSelected(sel Selection) groupPicker {
	return func(g ResolvedGroup, priced []pricedCandidate) (int, error) {
		usageID, ok := sel[g.Group.ID]
		if !ok {
			return 0, fmt.Errorf("%w: group %d (%s) has %d candidates and no selection",
				ErrUnresolvedGroup, g.Group.ID, g.Group.Name, len(priced))
		}
		for i, c := range priced {
			if c.Usage.ID == usageID {
				return i, nil
			}
		}
		return 0, fmt.Errorf("%w: usage %d is not a candidate of group %d",
			ErrInvalidSelection, usageID, g.Group.ID)
	}
}

// Selection returns the candidate chosen for every non-empty group.
func (b Breakdown) Selection() Selection {
	sel := make(Selection)
	for _, sp := range b.PerSubprocess {
		for _, g := range sp.GroupsCost {
			if g.ChosenCandidateID != nil {
				sel[g.GroupID] = *g.ChosenCandidateID
			}
		}
	}
	return sel
}

// Terminal reports whether no further transition is allowed out of s.
func (s LotStatus) Terminal() bool {
	return s == LotArchived
}

// CanTransitionTo reports whether a lot in status s may move to next.
func (s LotStatus) CanTransitionTo(next LotStatus) bool {
	return !s.Terminal() && s != next
}

// Transition validates moving a lot from its current status to raw, which is
// matched case-insensitively.
func Transition(current LotStatus, raw string) (LotStatus, error) {
	next, err := ParseLotStatus(raw)
	if err != nil {
		return "", err
	}
	if !current.CanTransitionTo(next) {
		return "", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
	}
	return next, nil
}
