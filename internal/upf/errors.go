package upf

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidQuantity             = errors.New("invalid quantity")
	ErrInconsistentGroupMembership = errors.New("inconsistent group membership")
	ErrUnknownSubprocess           = errors.New("unknown subprocess link")
	ErrDuplicateSequence           = errors.New("duplicate sequence position")
	ErrUnresolvedGroup             = errors.New("unresolved group")
	ErrInvalidSelection            = errors.New("invalid selection")
	ErrInvalidStatus               = errors.New("invalid status")
	ErrInvalidTransition           = errors.New("invalid status transition")
)

func invalidStatus(raw string) error {
	return fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
}

// Kind returns a stable machine-readable name for an engine error, or "" if
// err is not one.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, ErrInconsistentGroupMembership):
		return "inconsistent_group_membership"
	case errors.Is(err, ErrUnknownSubprocess):
		return "unknown_subprocess"
	case errors.Is(err, ErrDuplicateSequence):
		return "duplicate_sequence"
	case errors.Is(err, ErrUnresolvedGroup):
		return "unresolved_group"
	case errors.Is(err, ErrInvalidSelection):
		return "invalid_selection"
	case errors.Is(err, ErrInvalidStatus):
		return "invalid_status"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	}
	return ""
}

// WarningCode classifies advisories attached to a cost breakdown.
type WarningCode string

const (
	WarnMissingCostSource WarningCode = "missing_cost_source"
	WarnEmptyGroup        WarningCode = "empty_group"
	WarnGroupRetired      WarningCode = "group_retired"
)

// Warning flags an incomplete process definition without failing the
// computation.
type Warning struct {
	Code             WarningCode `json:"code"`
	SubprocessLinkID int64       `json:"subprocess_link_id"`
	GroupID          int64       `json:"group_id,omitempty"`
	UsageID          int64       `json:"usage_id,omitempty"`
	Message          string      `json:"message"`
}
