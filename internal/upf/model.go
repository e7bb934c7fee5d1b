// Package upf implements the Universal Process Framework costing engine:
// resolving a process's variant usages into mandatory consumption and
// substitute (OR) groups, and aggregating them into a worst-case estimate
// or the actual cost of a concrete alternative selection.
//
// Everything in this package is a pure function over a Snapshot that the
// persistence layer has already read in a single transaction.
package upf

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Process is a manufacturing process made of ordered subprocess links.
type Process struct {
	ID    int64
	Name  string
	Links []SubprocessLink
}

// SubprocessLink places a subprocess at a sequence position inside a process.
type SubprocessLink struct {
	ID           int64
	ProcessID    int64
	SubprocessID int64
	Sequence     int
	Name         string
	CustomName   string
	Notes        string
}

// DisplayName prefers the link's custom name over the subprocess name.
func (l SubprocessLink) DisplayName() string {
	if l.CustomName != "" {
		return l.CustomName
	}
	return l.Name
}

// VariantUsage is a consumption of an item variant by a subprocess link.
// A nil SubstituteGroupID marks a mandatory consumption.
type VariantUsage struct {
	ID                int64
	LinkID            int64
	VariantID         int64
	Quantity          decimal.Decimal
	CostPerUnit       *decimal.Decimal
	TotalCost         *decimal.Decimal
	SubstituteGroupID *int64
	IsAlternative     bool
	AlternativeOrder  *int
}

// Role is either Mandatory or Alternative.
type Role interface {
	isRole()
}

// Mandatory usages are always consumed.
type Mandatory struct{}

// Alternative usages are candidates of a substitute group.
type Alternative struct {
	GroupID int64
	Rank    *int
}

func (Mandatory) isRole()   {}
func (Alternative) isRole() {}

// Role classifies the usage by its group reference.
func (u VariantUsage) Role() Role {
	if u.SubstituteGroupID == nil {
		return Mandatory{}
	}
	return Alternative{GroupID: *u.SubstituteGroupID, Rank: u.AlternativeOrder}
}

// SelectionMethod only affects how a group is presented to users.
type SelectionMethod string

const (
	SelectionDropdown SelectionMethod = "dropdown"
	SelectionRadio    SelectionMethod = "radio"
	SelectionList     SelectionMethod = "list"
)

// SubstituteGroup is an OR group of interchangeable variant usages.
type SubstituteGroup struct {
	ID              int64
	LinkID          int64
	Name            string
	Description     string
	SelectionMethod SelectionMethod
}

// RetiredGroup is a soft-deleted substitute group. Its candidates are kept
// for history but never take part in costing.
type RetiredGroup struct {
	ID        int64
	LinkID    int64
	Name      string
	DeletedAt time.Time
	UsageIDs  []int64
}

// CostType classifies a non-material cost item.
type CostType string

const (
	CostLabor       CostType = "labor"
	CostElectricity CostType = "electricity"
	CostMaintenance CostType = "maintenance"
	CostService     CostType = "service"
	CostOverhead    CostType = "overhead"
	CostPacking     CostType = "packing"
	CostTransport   CostType = "transport"
	CostOther       CostType = "other"
)

var costTypes = []CostType{
	CostLabor, CostElectricity, CostMaintenance, CostService,
	CostOverhead, CostPacking, CostTransport, CostOther,
}

// Valid reports whether t is one of the known cost types.
func (t CostType) Valid() bool {
	for _, known := range costTypes {
		if t == known {
			return true
		}
	}
	return false
}

// CostItem is a mandatory non-material cost of a subprocess link. When both
// Unit and Quantity are set, Amount is a unit rate.
type CostItem struct {
	ID          int64
	LinkID      int64
	Type        CostType
	Description string
	Amount      decimal.Decimal
	Unit        *string
	Quantity    *decimal.Decimal
}

// IsUnitRate reports whether the item is priced per unit.
func (c CostItem) IsUnitRate() bool {
	return c.Unit != nil && *c.Unit != "" && c.Quantity != nil
}

// Total is the cost contributed by the item.
func (c CostItem) Total() decimal.Decimal {
	if c.IsUnitRate() {
		return c.Amount.Mul(*c.Quantity)
	}
	return c.Amount
}

// Snapshot is every row needed to cost one process, read consistently.
// Groups holds live groups only; soft-deleted ones are in Retired and their
// usages are excluded from Usages.
type Snapshot struct {
	Process       Process
	Usages        []VariantUsage
	CostItems     []CostItem
	Groups        []SubstituteGroup
	Retired       []RetiredGroup
	SupplierRates map[int64]decimal.Decimal
}

// Selection maps a substitute group id to the chosen candidate usage id.
type Selection map[int64]int64

// LotStatus is the lifecycle state of a production lot.
type LotStatus string

const (
	LotPlanning   LotStatus = "planning"
	LotReady      LotStatus = "ready"
	LotInProgress LotStatus = "in-progress"
	LotActive     LotStatus = "active"
	LotInactive   LotStatus = "inactive"
	LotDraft      LotStatus = "draft"
	LotCompleted  LotStatus = "completed"
	LotFailed     LotStatus = "failed"
	LotCancelled  LotStatus = "cancelled"
	LotArchived   LotStatus = "archived"
)

var lotStatuses = []LotStatus{
	LotPlanning, LotReady, LotInProgress, LotActive, LotInactive,
	LotDraft, LotCompleted, LotFailed, LotCancelled, LotArchived,
}

// ParseLotStatus matches raw against the lot status enumeration ignoring case.
func ParseLotStatus(raw string) (LotStatus, error) {
	normalized := LotStatus(strings.ToLower(strings.TrimSpace(raw)))
	for _, s := range lotStatuses {
		if normalized == s {
			return s, nil
		}
	}
	return "", invalidStatus(raw)
}

// ProductionLot is a concrete execution of a process with a fixed selection.
type ProductionLot struct {
	ID            int64
	ProcessID     int64
	LotNumber     string
	CreatedBy     int64
	Status        LotStatus
	Quantity      decimal.Decimal
	EstimatedCost decimal.Decimal
	Selection     Selection
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
