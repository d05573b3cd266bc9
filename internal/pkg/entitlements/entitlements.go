package entitlements

import "strings"

// Status is the local subscription state of a user. It is written by the
// webhook processor (authoritative) and provisionally by the checkout flow.
type Status string

const (
	StatusNoSubscription Status = "no_subscription"
	StatusTrialing       Status = "trialing"
	StatusActive         Status = "active"
	StatusPastDue        Status = "past_due"
	StatusCancelled      Status = "cancelled"
)

// Plan is the internal plan tier. ShipLog has a single paid tier.
type Plan string

const (
	PlanNone    Plan = "none"
	PlanTrial   Plan = "trial"
	PlanPremium Plan = "premium"
)

// NormalizeStatus maps arbitrary stored strings onto a known Status.
func NormalizeStatus(s string) Status {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusTrialing:
		return StatusTrialing
	case StatusActive:
		return StatusActive
	case StatusPastDue:
		return StatusPastDue
	case StatusCancelled:
		return StatusCancelled
	default:
		return StatusNoSubscription
	}
}

// NormalizePlan maps arbitrary stored strings onto a known Plan.
func NormalizePlan(p string) Plan {
	switch Plan(strings.ToLower(strings.TrimSpace(p))) {
	case PlanTrial:
		return PlanTrial
	case PlanPremium:
		return PlanPremium
	default:
		return PlanNone
	}
}

// GrantsAccess reports whether the status allows quota-metered actions.
func (s Status) GrantsAccess() bool {
	return s == StatusTrialing || s == StatusActive
}

// PlanForStatus returns the plan a status implies, if it implies one.
// Active users are always premium, trialing users always on the trial plan.
// Other statuses keep whatever plan the row already carries.
func PlanForStatus(s Status, current Plan) Plan {
	switch s {
	case StatusActive, StatusPastDue:
		return PlanPremium
	case StatusTrialing:
		return PlanTrial
	default:
		return current
	}
}
