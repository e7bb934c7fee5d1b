package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Simplici0/upf/internal/pricing"
	"github.com/Simplici0/upf/internal/store"
	"github.com/Simplici0/upf/internal/upf"
)

const moneyPlaces = 2

type groupView struct {
	GroupID           int64  `json:"group_id"`
	ChosenCandidateID *int64 `json:"chosen_candidate_id"`
	Cost              string `json:"cost"`
}

type subprocessView struct {
	SubprocessLinkID int64       `json:"subprocess_link_id"`
	Sequence         int         `json:"sequence"`
	Name             string      `json:"name"`
	MandatoryCost    string      `json:"mandatory_cost"`
	CostItemsTotal   string      `json:"cost_items_total"`
	Groups           []groupView `json:"groups"`
	Subtotal         string      `json:"subtotal"`
}

type breakdownView struct {
	ProcessID    int64            `json:"process_id"`
	Basis        upf.Basis        `json:"basis"`
	Subprocesses []subprocessView `json:"subprocesses"`
	Total        string           `json:"total"`
	Warnings     []upf.Warning    `json:"warnings"`
}

func money(d decimal.Decimal) string {
	return d.StringFixed(moneyPlaces)
}

func newBreakdownView(b upf.Breakdown) breakdownView {
	b = b.Rounded(moneyPlaces)
	view := breakdownView{
		ProcessID:    b.ProcessID,
		Basis:        b.Basis,
		Subprocesses: make([]subprocessView, 0, len(b.PerSubprocess)),
		Total:        money(b.Total),
		Warnings:     make([]upf.Warning, 0, len(b.Warnings)),
	}
	for _, sp := range b.PerSubprocess {
		groups := make([]groupView, 0, len(sp.GroupsCost))
		for _, g := range sp.GroupsCost {
			groups = append(groups, groupView{GroupID: g.GroupID, ChosenCandidateID: g.ChosenCandidateID, Cost: money(g.Cost)})
		}
		view.Subprocesses = append(view.Subprocesses, subprocessView{
			SubprocessLinkID: sp.SubprocessLinkID,
			Sequence:         sp.Sequence,
			Name:             sp.Name,
			MandatoryCost:    money(sp.MandatoryCost),
			CostItemsTotal:   money(sp.CostItemsTotal),
			Groups:           groups,
			Subtotal:         money(sp.Subtotal),
		})
	}
	view.Warnings = append(view.Warnings, b.Warnings...)
	return view
}

type lotView struct {
	ID            int64           `json:"id"`
	ProcessID     int64           `json:"process_id"`
	LotNumber     string          `json:"lot_number"`
	CreatedBy     int64           `json:"created_by,omitempty"`
	Status        upf.LotStatus   `json:"status"`
	Quantity      string          `json:"quantity"`
	EstimatedCost string          `json:"estimated_cost"`
	Selection     map[int64]int64 `json:"selection"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func newLotView(l upf.ProductionLot) lotView {
	return lotView{
		ID:            l.ID,
		ProcessID:     l.ProcessID,
		LotNumber:     l.LotNumber,
		CreatedBy:     l.CreatedBy,
		Status:        l.Status,
		Quantity:      l.Quantity.String(),
		EstimatedCost: money(l.EstimatedCost),
		Selection:     l.Selection,
		CreatedAt:     l.CreatedAt,
		UpdatedAt:     l.UpdatedAt,
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		badRequest(w, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	email := strings.TrimSpace(req.Email)
	valid, err := s.auth.validateCredentials(r.Context(), email, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !valid {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Message: "invalid credentials"})
		return
	}

	s.auth.setSessionCookie(w, email)
	writeJSON(w, http.StatusOK, map[string]string{"email": email})
}

func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.auth.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	processID, ok := pathID(r)
	if !ok {
		badRequest(w, "invalid process id")
		return
	}

	b, err := s.costing.Estimate(r.Context(), processID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newBreakdownView(b))
}

type profitabilityRequest struct {
	Revenue      *decimal.Decimal `json:"revenue"`
	SellingPrice *decimal.Decimal `json:"selling_price"`
	Quantity     *decimal.Decimal `json:"quantity"`
}

type profitabilityView struct {
	Costs        breakdownView `json:"costs"`
	Cost         string        `json:"cost"`
	Revenue      string        `json:"revenue"`
	Margin       string        `json:"margin"`
	MarginPct    *string       `json:"margin_pct"`
	IsProfitable bool          `json:"is_profitable"`
	Warning      string        `json:"warning,omitempty"`
}

func (s *server) handleProfitability(w http.ResponseWriter, r *http.Request) {
	processID, ok := pathID(r)
	if !ok {
		badRequest(w, "invalid process id")
		return
	}

	var req profitabilityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rev := pricing.Revenue{Explicit: req.Revenue}
	if req.Revenue == nil {
		if req.SellingPrice == nil || req.Quantity == nil {
			badRequest(w, "either revenue or selling_price and quantity are required")
			return
		}
		rev.SellingPrice = *req.SellingPrice
		rev.Quantity = *req.Quantity
	}

	p, err := s.costing.Profitability(r.Context(), processID, rev)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result := p.Result.Rounded(moneyPlaces)
	view := profitabilityView{
		Costs:        newBreakdownView(p.Costs),
		Cost:         money(result.Cost),
		Revenue:      money(result.Revenue),
		Margin:       money(result.Margin),
		IsProfitable: result.IsProfitable,
	}
	if result.MarginPct != nil {
		pct := result.MarginPct.StringFixed(moneyPlaces + 2)
		view.MarginPct = &pct
	}
	if p.MarginUndefined {
		view.Warning = "division_undefined"
	}
	writeJSON(w, http.StatusOK, view)
}

type selectionRequest struct {
	Selection upf.Selection `json:"selection"`
}

func (s *server) handlePreviewLot(w http.ResponseWriter, r *http.Request) {
	processID, ok := pathID(r)
	if !ok {
		badRequest(w, "invalid process id")
		return
	}

	var req selectionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	b, err := s.costing.PreviewLot(r.Context(), processID, req.Selection)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newBreakdownView(b))
}

type commitLotRequest struct {
	LotNumber string          `json:"lot_number"`
	Quantity  decimal.Decimal `json:"quantity"`
	Status    string          `json:"status"`
	Selection upf.Selection   `json:"selection"`
}

type commitLotResponse struct {
	Lot   lotView       `json:"lot"`
	Costs breakdownView `json:"costs"`
}

func (s *server) handleCommitLot(w http.ResponseWriter, r *http.Request) {
	processID, ok := pathID(r)
	if !ok {
		badRequest(w, "invalid process id")
		return
	}

	var req commitLotRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	createdBy, err := s.auth.userID(r.Context(), userFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	lot, costs, err := s.costing.CommitLot(r.Context(), store.LotInput{
		ProcessID: processID,
		LotNumber: req.LotNumber,
		CreatedBy: createdBy,
		Status:    req.Status,
		Quantity:  req.Quantity,
		Selection: req.Selection,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, commitLotResponse{Lot: newLotView(lot), Costs: newBreakdownView(costs)})
}

func (s *server) handleGetLot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		badRequest(w, "invalid lot id")
		return
	}

	lot, err := s.costing.GetLot(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newLotView(lot))
}

type statusRequest struct {
	Status string `json:"status"`
}

func (s *server) handleUpdateLotStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		badRequest(w, "invalid lot id")
		return
	}

	var req statusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	lot, err := s.costing.UpdateLotStatus(r.Context(), id, req.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newLotView(lot))
}

type rateView struct {
	ID            int64  `json:"id"`
	SupplierID    int64  `json:"supplier_id"`
	SupplierName  string `json:"supplier_name"`
	VariantID     int64  `json:"variant_id"`
	CostPerUnit   string `json:"cost_per_unit"`
	EffectiveDate string `json:"effective_date"`
}

func (s *server) handleListRates(w http.ResponseWriter, r *http.Request) {
	variantID, ok := pathID(r)
	if !ok {
		badRequest(w, "invalid variant id")
		return
	}

	rates, err := s.costing.SupplierRates(r.Context(), variantID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	views := make([]rateView, 0, len(rates))
	for _, rate := range rates {
		views = append(views, rateView{
			ID:            rate.ID,
			SupplierID:    rate.SupplierID,
			SupplierName:  rate.SupplierName,
			VariantID:     rate.VariantID,
			CostPerUnit:   rate.CostPerUnit.String(),
			EffectiveDate: rate.EffectiveDate.Format(time.DateOnly),
		})
	}
	writeJSON(w, http.StatusOK, views)
}

type addRateRequest struct {
	SupplierID    int64           `json:"supplier_id"`
	CostPerUnit   decimal.Decimal `json:"cost_per_unit"`
	EffectiveDate string          `json:"effective_date"`
}

func (s *server) handleAddRate(w http.ResponseWriter, r *http.Request) {
	variantID, ok := pathID(r)
	if !ok {
		badRequest(w, "invalid variant id")
		return
	}

	var req addRateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	effective, err := time.Parse(time.DateOnly, req.EffectiveDate)
	if err != nil {
		badRequest(w, "effective_date must be YYYY-MM-DD")
		return
	}

	id, err := s.costing.AddSupplierRate(r.Context(), store.SupplierRate{
		SupplierID:    req.SupplierID,
		VariantID:     variantID,
		CostPerUnit:   req.CostPerUnit,
		EffectiveDate: effective,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *server) handleRetireGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		badRequest(w, "invalid group id")
		return
	}

	if err := s.costing.RetireGroup(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Debug("group retired via api", zap.Int64("group_id", id), zap.String("user", userFrom(r.Context())))
	w.WriteHeader(http.StatusNoContent)
}
