// Package costing combines the store with the cost engine and the
// profitability calculator.
package costing

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Simplici0/upf/internal/pricing"
	"github.com/Simplici0/upf/internal/store"
	"github.com/Simplici0/upf/internal/upf"
)

// Repository is the persistence the service needs.
type Repository interface {
	LoadSnapshot(ctx context.Context, processID int64) (upf.Snapshot, error)
	CommitLot(ctx context.Context, in store.LotInput) (upf.ProductionLot, upf.Breakdown, error)
	GetLot(ctx context.Context, id int64) (upf.ProductionLot, error)
	UpdateLotStatus(ctx context.Context, id int64, status string) (upf.ProductionLot, error)
	ListSupplierRates(ctx context.Context, variantID int64) ([]store.SupplierRate, error)
	AddSupplierRate(ctx context.Context, r store.SupplierRate) (int64, error)
	SoftDeleteGroup(ctx context.Context, id int64) error
}

type Service struct {
	repo   Repository
	logger *zap.Logger
}

func NewService(repo Repository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, logger: logger.Named("costing")}
}

func (s *Service) resolve(ctx context.Context, processID int64) (upf.ResolvedProcess, error) {
	snap, err := s.repo.LoadSnapshot(ctx, processID)
	if err != nil {
		return upf.ResolvedProcess{}, fmt.Errorf("load process %d: %w", processID, err)
	}
	rp, err := upf.Resolve(snap)
	if err != nil {
		return upf.ResolvedProcess{}, fmt.Errorf("resolve process %d: %w", processID, err)
	}
	return rp, nil
}

// Estimate returns the worst-case cost of a process.
func (s *Service) Estimate(ctx context.Context, processID int64) (upf.Breakdown, error) {
	rp, err := s.resolve(ctx, processID)
	if err != nil {
		return upf.Breakdown{}, err
	}
	b := upf.Estimate(rp)
	s.logBreakdown("process estimated", b)
	return b, nil
}

// Profitability is the worst-case cost of a process measured against a
// revenue. MarginUndefined is set when revenue is zero.
type Profitability struct {
	Costs           upf.Breakdown
	Result          pricing.Result
	MarginUndefined bool
}

func (s *Service) Profitability(ctx context.Context, processID int64, rev pricing.Revenue) (Profitability, error) {
	if err := rev.Validate(); err != nil {
		return Profitability{}, err
	}
	costs, err := s.Estimate(ctx, processID)
	if err != nil {
		return Profitability{}, err
	}

	result, err := pricing.Calculate(costs.Total, rev)
	p := Profitability{Costs: costs, Result: result}
	switch {
	case errors.Is(err, pricing.ErrDivisionUndefined):
		p.MarginUndefined = true
		s.logger.Warn("margin percentage undefined", zap.Int64("process_id", processID), zap.Error(err))
	case err != nil:
		return Profitability{}, err
	}
	return p, nil
}

// PreviewLot costs a selection without persisting anything.
func (s *Service) PreviewLot(ctx context.Context, processID int64, sel upf.Selection) (upf.Breakdown, error) {
	rp, err := s.resolve(ctx, processID)
	if err != nil {
		return upf.Breakdown{}, err
	}
	b, err := upf.Materialize(rp, sel)
	if err != nil {
		return upf.Breakdown{}, fmt.Errorf("materialize process %d: %w", processID, err)
	}
	return b, nil
}

func (s *Service) CommitLot(ctx context.Context, in store.LotInput) (upf.ProductionLot, upf.Breakdown, error) {
	lot, costs, err := s.repo.CommitLot(ctx, in)
	if err != nil {
		return upf.ProductionLot{}, upf.Breakdown{}, fmt.Errorf("commit lot for process %d: %w", in.ProcessID, err)
	}
	s.logger.Info("production lot committed",
		zap.Int64("lot_id", lot.ID),
		zap.String("lot_number", lot.LotNumber),
		zap.Int64("process_id", lot.ProcessID),
		zap.String("estimated_cost", lot.EstimatedCost.StringFixed(2)),
		zap.Int("warnings", len(costs.Warnings)),
	)
	return lot, costs, nil
}

func (s *Service) GetLot(ctx context.Context, id int64) (upf.ProductionLot, error) {
	return s.repo.GetLot(ctx, id)
}

func (s *Service) UpdateLotStatus(ctx context.Context, id int64, status string) (upf.ProductionLot, error) {
	lot, err := s.repo.UpdateLotStatus(ctx, id, status)
	if err != nil {
		return upf.ProductionLot{}, fmt.Errorf("update lot %d status: %w", id, err)
	}
	s.logger.Info("production lot status changed", zap.Int64("lot_id", id), zap.String("status", string(lot.Status)))
	return lot, nil
}

func (s *Service) SupplierRates(ctx context.Context, variantID int64) ([]store.SupplierRate, error) {
	return s.repo.ListSupplierRates(ctx, variantID)
}

func (s *Service) AddSupplierRate(ctx context.Context, r store.SupplierRate) (int64, error) {
	id, err := s.repo.AddSupplierRate(ctx, r)
	if err != nil {
		return 0, fmt.Errorf("add supplier rate: %w", err)
	}
	s.logger.Info("supplier rate added",
		zap.Int64("variant_id", r.VariantID),
		zap.Int64("supplier_id", r.SupplierID),
		zap.String("cost_per_unit", r.CostPerUnit.String()),
	)
	return id, nil
}

// RetireGroup soft-deletes a substitute group. Existing lots keep their
// recorded selection.
func (s *Service) RetireGroup(ctx context.Context, id int64) error {
	if err := s.repo.SoftDeleteGroup(ctx, id); err != nil {
		return fmt.Errorf("retire substitute group %d: %w", id, err)
	}
	s.logger.Info("substitute group retired", zap.Int64("group_id", id))
	return nil
}

func (s *Service) logBreakdown(msg string, b upf.Breakdown) {
	s.logger.Debug(msg,
		zap.Int64("process_id", b.ProcessID),
		zap.String("basis", string(b.Basis)),
		zap.String("total", b.Total.StringFixed(2)),
		zap.Int("warnings", len(b.Warnings)),
	)
}
