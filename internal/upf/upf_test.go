package upf

import (
	"slices"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func ip(v int) *int       { return &v }
func i64p(v int64) *int64 { return &v }
func sp(v string) *string { return &v }

// scenarioSnapshot is one subprocess with a mandatory usage of 10.00, a 3.50
// labor cost and a group choosing between 4.00 (A) and 6.00 (B).
func scenarioSnapshot() Snapshot {
	return Snapshot{
		Process: Process{ID: 1, Name: "Assembly", Links: []SubprocessLink{
			{ID: 10, ProcessID: 1, SubprocessID: 5, Sequence: 1, Name: "Cutting"},
		}},
		Usages: []VariantUsage{
			{ID: 1, LinkID: 10, VariantID: 501, Quantity: d("2"), CostPerUnit: dp("5.00")},
			{ID: 2, LinkID: 10, VariantID: 502, Quantity: d("1"), CostPerUnit: dp("4.00"), SubstituteGroupID: i64p(100), IsAlternative: true},
			{ID: 3, LinkID: 10, VariantID: 503, Quantity: d("1"), CostPerUnit: dp("6.00"), SubstituteGroupID: i64p(100), IsAlternative: true, AlternativeOrder: ip(1)},
		},
		CostItems: []CostItem{
			{ID: 20, LinkID: 10, Type: CostLabor, Description: "operator", Amount: d("3.50")},
		},
		Groups: []SubstituteGroup{
			{ID: 100, LinkID: 10, Name: "Fastener", SelectionMethod: SelectionDropdown},
		},
	}
}

func resolve(t *testing.T, s Snapshot) ResolvedProcess {
	t.Helper()
	rp, err := Resolve(s)
	require.NoError(t, err)
	return rp
}

func TestEstimate_WorstCaseScenario(t *testing.T) {
	b := Estimate(resolve(t, scenarioSnapshot()))

	require.Len(t, b.PerSubprocess, 1)
	sub := b.PerSubprocess[0]
	assert.Equal(t, BasisWorstCase, b.Basis)
	assert.Equal(t, "Cutting", sub.Name)
	assert.True(t, sub.MandatoryCost.Equal(d("10.00")), "mandatory = %s", sub.MandatoryCost)
	assert.True(t, sub.CostItemsTotal.Equal(d("3.50")), "cost items = %s", sub.CostItemsTotal)
	require.Len(t, sub.GroupsCost, 1)
	require.NotNil(t, sub.GroupsCost[0].ChosenCandidateID)
	assert.Equal(t, int64(3), *sub.GroupsCost[0].ChosenCandidateID)
	assert.True(t, sub.GroupsCost[0].Cost.Equal(d("6.00")))
	assert.True(t, sub.Subtotal.Equal(d("19.50")), "subtotal = %s", sub.Subtotal)
	assert.Equal(t, "19.50", b.Total.StringFixed(2))
	assert.Empty(t, b.Warnings)
}

func TestMaterialize_SelectedScenario(t *testing.T) {
	b, err := Materialize(resolve(t, scenarioSnapshot()), Selection{100: 2})
	require.NoError(t, err)

	assert.Equal(t, BasisSelected, b.Basis)
	assert.Equal(t, "17.50", b.Total.StringFixed(2))
	require.NotNil(t, b.PerSubprocess[0].GroupsCost[0].ChosenCandidateID)
	assert.Equal(t, int64(2), *b.PerSubprocess[0].GroupsCost[0].ChosenCandidateID)
	assert.Equal(t, Selection{100: 2}, b.Selection())
}

func twoGroupSnapshot() Snapshot {
	s := scenarioSnapshot()
	s.Process.Links = append(s.Process.Links, SubprocessLink{ID: 11, ProcessID: 1, SubprocessID: 6, Sequence: 5, CustomName: "Painting"})
	s.Groups = append(s.Groups, SubstituteGroup{ID: 101, LinkID: 11, Name: "Paint"})
	s.Usages = append(s.Usages,
		VariantUsage{ID: 4, LinkID: 11, VariantID: 601, Quantity: d("0.5"), TotalCost: dp("12.25"), SubstituteGroupID: i64p(101)},
		VariantUsage{ID: 5, LinkID: 11, VariantID: 602, Quantity: d("3"), CostPerUnit: dp("2.10"), SubstituteGroupID: i64p(101)},
		VariantUsage{ID: 6, LinkID: 11, VariantID: 603, Quantity: d("2"), SubstituteGroupID: i64p(101)},
	)
	s.SupplierRates = map[int64]decimal.Decimal{603: d("7.01")}
	return s
}

func TestEstimate_DominatesEveryValidSelection(t *testing.T) {
	rp := resolve(t, twoGroupSnapshot())
	worst := Estimate(rp)

	for _, a := range []int64{2, 3} {
		for _, b := range []int64{4, 5, 6} {
			actual, err := Materialize(rp, Selection{100: a, 101: b})
			require.NoError(t, err)
			assert.True(t, worst.Total.GreaterThanOrEqual(actual.Total),
				"worst %s < actual %s for {%d,%d}", worst.Total, actual.Total, a, b)
		}
	}
}

func TestEstimate_GroupContributionIsMaxOfCandidates(t *testing.T) {
	rp := resolve(t, twoGroupSnapshot())
	b := Estimate(rp)

	g, ok := rp.Group(101)
	require.True(t, ok)
	want := decimal.Zero
	for _, c := range g.Candidates {
		cost, _, _ := EffectiveCost(c, rp.SupplierRates)
		want = decimal.Max(want, cost)
	}

	paint := b.PerSubprocess[1].GroupsCost[0]
	assert.True(t, paint.Cost.Equal(want))
	assert.True(t, paint.Cost.Equal(d("14.02")), "supplier rate 7.01 x 2 is the most expensive, got %s", paint.Cost)
	assert.Equal(t, int64(6), *paint.ChosenCandidateID)
	assert.Equal(t, "Painting", b.PerSubprocess[1].Name)
}

func TestEstimate_TiesPickFirstRankedCandidate(t *testing.T) {
	s := scenarioSnapshot()
	s.Usages[1].CostPerUnit = dp("6.00")

	b := Estimate(resolve(t, s))

	// usage 3 is ranked, usage 2 is not
	assert.Equal(t, int64(3), *b.PerSubprocess[0].GroupsCost[0].ChosenCandidateID)
}

func TestResolve_IsOrderIndependent(t *testing.T) {
	s := twoGroupSnapshot()
	first := resolve(t, s)
	again := resolve(t, s)

	reversed := s
	reversed.Process.Links = slices.Clone(s.Process.Links)
	reversed.Usages = slices.Clone(s.Usages)
	reversed.CostItems = slices.Clone(s.CostItems)
	reversed.Groups = slices.Clone(s.Groups)
	slices.Reverse(reversed.Process.Links)
	slices.Reverse(reversed.Usages)
	slices.Reverse(reversed.CostItems)
	slices.Reverse(reversed.Groups)

	assert.Equal(t, first, again)
	assert.Equal(t, first, resolve(t, reversed))
	assert.Equal(t, Estimate(first), Estimate(resolve(t, reversed)))
}

func TestResolve_OrdersCandidatesByRankNullsLast(t *testing.T) {
	s := scenarioSnapshot()
	s.Usages = append(s.Usages,
		VariantUsage{ID: 7, LinkID: 10, VariantID: 504, Quantity: d("1"), SubstituteGroupID: i64p(100), AlternativeOrder: ip(0)},
		VariantUsage{ID: 8, LinkID: 10, VariantID: 505, Quantity: d("1"), SubstituteGroupID: i64p(100), AlternativeOrder: ip(1)},
	)

	rp := resolve(t, s)
	g, ok := rp.Group(100)
	require.True(t, ok)

	ids := make([]int64, 0, len(g.Candidates))
	for _, c := range g.Candidates {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []int64{7, 3, 8, 2}, ids)
}

func TestResolve_RejectsCandidateOfGroupOnAnotherLink(t *testing.T) {
	s := twoGroupSnapshot()
	s.Usages[1].SubstituteGroupID = i64p(101)

	_, err := Resolve(s)
	require.ErrorIs(t, err, ErrInconsistentGroupMembership)
	assert.Equal(t, "inconsistent_group_membership", Kind(err))
}

func TestResolve_RejectsUnknownGroup(t *testing.T) {
	s := scenarioSnapshot()
	s.Usages[1].SubstituteGroupID = i64p(999)

	_, err := Resolve(s)
	require.ErrorIs(t, err, ErrInconsistentGroupMembership)
}

func TestResolve_RejectsNonPositiveQuantity(t *testing.T) {
	for _, qty := range []string{"0", "-1.5"} {
		s := scenarioSnapshot()
		s.Usages[0].Quantity = d(qty)

		_, err := Resolve(s)
		require.ErrorIs(t, err, ErrInvalidQuantity, "quantity %s", qty)
	}
}

func TestResolve_RejectsDuplicateSequence(t *testing.T) {
	s := twoGroupSnapshot()
	s.Process.Links[1].Sequence = 1

	_, err := Resolve(s)
	require.ErrorIs(t, err, ErrDuplicateSequence)
}

func TestResolve_RejectsRowsOutsideProcess(t *testing.T) {
	s := scenarioSnapshot()
	s.CostItems[0].LinkID = 77

	_, err := Resolve(s)
	require.ErrorIs(t, err, ErrUnknownSubprocess)
}

func TestEstimate_EmptyGroupContributesZeroWithWarning(t *testing.T) {
	s := scenarioSnapshot()
	s.Groups = append(s.Groups, SubstituteGroup{ID: 102, LinkID: 10, Name: "Spare"})

	rp := resolve(t, s)
	g, ok := rp.Group(102)
	require.True(t, ok)
	assert.Empty(t, g.Candidates)

	b := Estimate(rp)
	assert.Equal(t, "19.50", b.Total.StringFixed(2))
	require.Len(t, b.Warnings, 1)
	assert.Equal(t, WarnEmptyGroup, b.Warnings[0].Code)
	assert.Equal(t, int64(102), b.Warnings[0].GroupID)

	// no selection entry is needed for the empty group
	actual, err := Materialize(rp, Selection{100: 3})
	require.NoError(t, err)
	assert.Equal(t, "19.50", actual.Total.StringFixed(2))
}

func TestMaterialize_EntryForEmptyGroupIsInvalid(t *testing.T) {
	s := scenarioSnapshot()
	s.Groups = append(s.Groups, SubstituteGroup{ID: 102, LinkID: 10, Name: "Spare"})
	rp := resolve(t, s)

	for name, usageID := range map[string]int64{
		"former candidate": 2,
		"unknown usage":    999,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Materialize(rp, Selection{100: 3, 102: usageID})
			require.ErrorIs(t, err, ErrInvalidSelection)
			assert.Equal(t, "invalid_selection", Kind(err))
		})
	}
}

func TestEstimate_MissingCostSourceIsWarningNotError(t *testing.T) {
	s := scenarioSnapshot()
	s.Usages[0].CostPerUnit = nil

	b := Estimate(resolve(t, s))
	assert.Equal(t, "9.50", b.Total.StringFixed(2))
	require.Len(t, b.Warnings, 1)
	assert.Equal(t, WarnMissingCostSource, b.Warnings[0].Code)
	assert.Equal(t, int64(1), b.Warnings[0].UsageID)
}

func TestEffectiveCost_Precedence(t *testing.T) {
	rates := map[int64]decimal.Decimal{9: d("3.00")}

	cost, src, ok := EffectiveCost(VariantUsage{VariantID: 9, Quantity: d("4"), TotalCost: dp("1.11"), CostPerUnit: dp("2.00")}, rates)
	assert.True(t, ok)
	assert.Equal(t, SourceTotalCost, src)
	assert.True(t, cost.Equal(d("1.11")))

	cost, src, _ = EffectiveCost(VariantUsage{VariantID: 9, Quantity: d("4"), CostPerUnit: dp("2.00")}, rates)
	assert.Equal(t, SourceCostPerUnit, src)
	assert.True(t, cost.Equal(d("8.00")))

	cost, src, _ = EffectiveCost(VariantUsage{VariantID: 9, Quantity: d("4")}, rates)
	assert.Equal(t, SourceSupplierRate, src)
	assert.True(t, cost.Equal(d("12.00")))

	cost, src, ok = EffectiveCost(VariantUsage{VariantID: 8, Quantity: d("4")}, rates)
	assert.False(t, ok)
	assert.Equal(t, SourceNone, src)
	assert.True(t, cost.IsZero())
}

func TestEstimate_UnitRateCostItem(t *testing.T) {
	s := scenarioSnapshot()
	s.CostItems = append(s.CostItems, CostItem{ID: 21, LinkID: 10, Type: CostElectricity, Amount: d("0.25"), Unit: sp("kWh"), Quantity: dp("12")})

	b := Estimate(resolve(t, s))
	assert.Equal(t, "6.50", b.PerSubprocess[0].CostItemsTotal.StringFixed(2))
	assert.Equal(t, "22.50", b.Total.StringFixed(2))
}

func TestEstimate_DecimalSumsAreExact(t *testing.T) {
	s := Snapshot{
		Process: Process{ID: 2, Links: []SubprocessLink{{ID: 1, Sequence: 1}}},
		Usages: []VariantUsage{
			{ID: 1, LinkID: 1, Quantity: d("1"), TotalCost: dp("0.10")},
			{ID: 2, LinkID: 1, Quantity: d("1"), TotalCost: dp("0.20")},
			{ID: 3, LinkID: 1, Quantity: d("1"), TotalCost: dp("0.30")},
		},
	}

	b := Estimate(resolve(t, s))
	assert.True(t, b.Total.Equal(d("0.60")))
	assert.Equal(t, "0.6", b.Total.String())
	assert.Equal(t, "0.60", b.Rounded(2).Total.StringFixed(2))
}

func TestBreakdown_RoundedTotalIsExactSumRoundedOnce(t *testing.T) {
	s := Snapshot{
		Process: Process{ID: 2, Links: []SubprocessLink{{ID: 1, Sequence: 1}, {ID: 2, Sequence: 2}}},
		Usages: []VariantUsage{
			{ID: 1, LinkID: 1, Quantity: d("1"), TotalCost: dp("0.005")},
			{ID: 2, LinkID: 2, Quantity: d("1"), TotalCost: dp("0.005")},
		},
	}

	b := Estimate(resolve(t, s))
	r := b.Rounded(2)

	require.Len(t, r.PerSubprocess, 2)
	assert.Equal(t, "0.01", r.PerSubprocess[0].Subtotal.StringFixed(2))
	assert.Equal(t, "0.01", r.PerSubprocess[1].Subtotal.StringFixed(2))
	assert.Equal(t, "0.01", r.Total.StringFixed(2))
	assert.True(t, b.Total.Equal(d("0.01")))
	assert.True(t, b.PerSubprocess[0].Subtotal.Equal(d("0.005")), "receiver left unrounded")
}

func TestEstimate_SoftDeletedGroupIsExcludedWithWarning(t *testing.T) {
	before := Estimate(resolve(t, scenarioSnapshot()))
	require.Equal(t, "19.50", before.Total.StringFixed(2))

	s := scenarioSnapshot()
	s.Usages = s.Usages[:1]
	s.Groups = nil
	s.Retired = []RetiredGroup{{ID: 100, LinkID: 10, Name: "Fastener", DeletedAt: time.Now(), UsageIDs: []int64{3, 2}}}

	after := Estimate(resolve(t, s))
	assert.Equal(t, "13.50", after.Total.StringFixed(2))
	assert.Empty(t, after.PerSubprocess[0].GroupsCost)
	require.Len(t, after.Warnings, 1)
	assert.Equal(t, WarnGroupRetired, after.Warnings[0].Code)
	assert.Equal(t, int64(100), after.Warnings[0].GroupID)

	_, err := Materialize(resolve(t, s), Selection{100: 2})
	require.ErrorIs(t, err, ErrInvalidSelection)
}

func TestMaterialize_UnresolvedGroup(t *testing.T) {
	_, err := Materialize(resolve(t, twoGroupSnapshot()), Selection{100: 2})
	require.ErrorIs(t, err, ErrUnresolvedGroup)
	assert.Equal(t, "unresolved_group", Kind(err))
}

func TestMaterialize_InvalidSelection(t *testing.T) {
	rp := resolve(t, twoGroupSnapshot())

	tests := map[string]Selection{
		"candidate of other group": {100: 4, 101: 5},
		"mandatory usage":          {100: 1, 101: 5},
		"unknown group":            {100: 2, 101: 5, 555: 1},
	}
	for name, sel := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Materialize(rp, sel)
			require.ErrorIs(t, err, ErrInvalidSelection)
		})
	}
}

func TestParseLotStatus(t *testing.T) {
	for raw, want := range map[string]LotStatus{
		"planning":    LotPlanning,
		"IN-PROGRESS": LotInProgress,
		" Completed ": LotCompleted,
		"Archived":    LotArchived,
	} {
		got, err := ParseLotStatus(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got)
	}

	_, err := ParseLotStatus("shipped")
	require.ErrorIs(t, err, ErrInvalidStatus)
	assert.Equal(t, "invalid_status", Kind(err))
}

func TestTransition(t *testing.T) {
	next, err := Transition(LotPlanning, "READY")
	require.NoError(t, err)
	assert.Equal(t, LotReady, next)

	_, err = Transition(LotArchived, "active")
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = Transition(LotReady, "ready")
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = Transition(LotReady, "done")
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestCostType_Valid(t *testing.T) {
	assert.True(t, CostPacking.Valid())
	assert.False(t, CostType("tooling").Valid())
}
