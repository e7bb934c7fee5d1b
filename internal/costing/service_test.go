package costing

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Simplici0/upf/internal/pricing"
	"github.com/Simplici0/upf/internal/store"
	"github.com/Simplici0/upf/internal/upf"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func i64p(v int64) *int64 { return &v }

// fakeRepo serves one fixed process and records committed lots.
type fakeRepo struct {
	snap      upf.Snapshot
	committed []store.LotInput
	retired   []int64
}

func (f *fakeRepo) LoadSnapshot(_ context.Context, processID int64) (upf.Snapshot, error) {
	if processID != f.snap.Process.ID {
		return upf.Snapshot{}, store.ErrNotFound
	}
	return f.snap, nil
}

func (f *fakeRepo) CommitLot(_ context.Context, in store.LotInput) (upf.ProductionLot, upf.Breakdown, error) {
	rp, err := upf.Resolve(f.snap)
	if err != nil {
		return upf.ProductionLot{}, upf.Breakdown{}, err
	}
	b, err := upf.Materialize(rp, in.Selection)
	if err != nil {
		return upf.ProductionLot{}, upf.Breakdown{}, err
	}
	f.committed = append(f.committed, in)
	return upf.ProductionLot{
		ID:            int64(len(f.committed)),
		ProcessID:     in.ProcessID,
		LotNumber:     in.LotNumber,
		Status:        upf.LotPlanning,
		Quantity:      in.Quantity,
		EstimatedCost: b.Total,
		Selection:     b.Selection(),
	}, b, nil
}

func (f *fakeRepo) GetLot(context.Context, int64) (upf.ProductionLot, error) {
	return upf.ProductionLot{}, store.ErrNotFound
}

func (f *fakeRepo) UpdateLotStatus(_ context.Context, id int64, status string) (upf.ProductionLot, error) {
	next, err := upf.Transition(upf.LotPlanning, status)
	if err != nil {
		return upf.ProductionLot{}, err
	}
	return upf.ProductionLot{ID: id, Status: next}, nil
}

func (f *fakeRepo) ListSupplierRates(context.Context, int64) ([]store.SupplierRate, error) {
	return nil, nil
}

func (f *fakeRepo) AddSupplierRate(context.Context, store.SupplierRate) (int64, error) {
	return 1, nil
}

func (f *fakeRepo) SoftDeleteGroup(_ context.Context, id int64) error {
	f.retired = append(f.retired, id)
	return nil
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{snap: upf.Snapshot{
		Process: upf.Process{ID: 1, Name: "Bracket", Links: []upf.SubprocessLink{
			{ID: 10, ProcessID: 1, SubprocessID: 5, Sequence: 1, Name: "Cutting"},
		}},
		Usages: []upf.VariantUsage{
			{ID: 1, LinkID: 10, VariantID: 501, Quantity: d("2"), CostPerUnit: dp("5.00")},
			{ID: 2, LinkID: 10, VariantID: 502, Quantity: d("1"), CostPerUnit: dp("4.00"), SubstituteGroupID: i64p(100)},
			{ID: 3, LinkID: 10, VariantID: 503, Quantity: d("1"), CostPerUnit: dp("6.00"), SubstituteGroupID: i64p(100)},
		},
		CostItems: []upf.CostItem{
			{ID: 20, LinkID: 10, Type: upf.CostLabor, Amount: d("3.50")},
		},
		Groups: []upf.SubstituteGroup{
			{ID: 100, LinkID: 10, Name: "Fastener", SelectionMethod: upf.SelectionDropdown},
		},
	}}
}

func newObservedService(repo Repository) (*Service, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return NewService(repo, zap.New(core)), logs
}

func TestEstimate(t *testing.T) {
	svc, logs := newObservedService(newFakeRepo())

	b, err := svc.Estimate(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "19.50", b.Total.StringFixed(2))
	assert.Equal(t, 1, logs.FilterMessage("process estimated").Len())

	_, err = svc.Estimate(context.Background(), 2)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestProfitability(t *testing.T) {
	svc, logs := newObservedService(newFakeRepo())
	ctx := context.Background()

	p, err := svc.Profitability(ctx, 1, pricing.Revenue{SellingPrice: d("12.50"), Quantity: d("2")})
	require.NoError(t, err)
	assert.False(t, p.MarginUndefined)
	assert.True(t, p.Result.Margin.Equal(d("5.50")), "margin = %s", p.Result.Margin)
	require.NotNil(t, p.Result.MarginPct)
	assert.True(t, p.Result.MarginPct.Equal(d("0.22")), "margin pct = %s", p.Result.MarginPct)
	assert.True(t, p.Result.IsProfitable)

	zero := decimal.Zero
	p, err = svc.Profitability(ctx, 1, pricing.Revenue{Explicit: &zero})
	require.NoError(t, err)
	assert.True(t, p.MarginUndefined)
	assert.Nil(t, p.Result.MarginPct)
	assert.False(t, p.Result.IsProfitable)
	assert.Equal(t, 1, logs.FilterMessage("margin percentage undefined").Len())

	_, err = svc.Profitability(ctx, 1, pricing.Revenue{SellingPrice: d("-1"), Quantity: d("1")})
	require.ErrorIs(t, err, pricing.ErrInvalidRevenue)
}

func TestPreviewLot(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newObservedService(repo)
	ctx := context.Background()

	b, err := svc.PreviewLot(ctx, 1, upf.Selection{100: 2})
	require.NoError(t, err)
	assert.Equal(t, "17.50", b.Total.StringFixed(2))
	assert.Equal(t, upf.BasisSelected, b.Basis)
	assert.Empty(t, repo.committed)

	_, err = svc.PreviewLot(ctx, 1, upf.Selection{})
	require.ErrorIs(t, err, upf.ErrUnresolvedGroup)

	_, err = svc.PreviewLot(ctx, 1, upf.Selection{100: 1})
	require.ErrorIs(t, err, upf.ErrInvalidSelection)
}

func TestCommitLot(t *testing.T) {
	repo := newFakeRepo()
	svc, logs := newObservedService(repo)

	lot, costs, err := svc.CommitLot(context.Background(), store.LotInput{
		ProcessID: 1,
		LotNumber: "LOT-TEST",
		Quantity:  d("10"),
		Selection: upf.Selection{100: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, "19.50", costs.Total.StringFixed(2))
	assert.True(t, lot.EstimatedCost.Equal(costs.Total))
	assert.Equal(t, upf.Selection{100: 3}, lot.Selection)
	require.Len(t, repo.committed, 1)

	entries := logs.FilterMessage("production lot committed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "19.50", entries[0].ContextMap()["estimated_cost"])
}

func TestUpdateLotStatusAndRetireGroup(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newObservedService(repo)
	ctx := context.Background()

	lot, err := svc.UpdateLotStatus(ctx, 7, "COMPLETED")
	require.NoError(t, err)
	assert.Equal(t, upf.LotCompleted, lot.Status)

	_, err = svc.UpdateLotStatus(ctx, 7, "shipped")
	require.ErrorIs(t, err, upf.ErrInvalidStatus)

	require.NoError(t, svc.RetireGroup(ctx, 100))
	assert.Equal(t, []int64{100}, repo.retired)
}
