// Package billing provides the plan catalog and the webhook-driven
// subscription state machine.
package billing

import (
	"strings"

	"opsight/internal/types"
)

// Plan describes a purchasable tier: display name and the amount charged per
// 30-day billing period.
type Plan struct {
	Tier        types.PlanTier
	Name        string
	AmountCents int64
	Currency    string
}

// PlanRegistry is the authoritative catalog of purchasable plans.
type PlanRegistry interface {
	// Get returns the plan for the given tier, or ok=false for unknown tiers.
	Get(tier types.PlanTier) (Plan, bool)

	// Parse normalizes a raw plan string (checkout metadata, request bodies)
	// into a known tier. Matching is case-insensitive.
	Parse(raw string) (types.PlanTier, bool)
}

// staticPlanRegistry is a compile-time plan registry backed by an in-memory map.
type staticPlanRegistry struct {
	plans map[types.PlanTier]Plan
}

var planDefaults = map[types.PlanTier]Plan{
	types.PlanBasic: {
		Tier:        types.PlanBasic,
		Name:        "Basic",
		AmountCents: 2900,
		Currency:    "usd",
	},
	types.PlanPro: {
		Tier:        types.PlanPro,
		Name:        "Pro",
		AmountCents: 9900,
		Currency:    "usd",
	},
	types.PlanEnterprise: {
		Tier:        types.PlanEnterprise,
		Name:        "Enterprise",
		AmountCents: 49900,
		Currency:    "usd",
	},
}

// NewStaticPlanRegistry returns a PlanRegistry backed by the hardcoded plan
// catalog. No database or external service is required.
func NewStaticPlanRegistry() PlanRegistry {
	m := make(map[types.PlanTier]Plan, len(planDefaults))
	for k, v := range planDefaults {
		m[k] = v
	}
	return &staticPlanRegistry{plans: m}
}

// Get returns the plan for the given tier, or ok=false for unknown tiers.
func (r *staticPlanRegistry) Get(tier types.PlanTier) (Plan, bool) {
	p, ok := r.plans[tier]
	return p, ok
}

// Parse normalizes a raw plan string into a known tier. Unknown strings
// return ok=false; callers decide whether that is a validation error (API
// requests) or a logged no-op (webhook metadata).
func (r *staticPlanRegistry) Parse(raw string) (types.PlanTier, bool) {
	tier := types.PlanTier(strings.ToUpper(strings.TrimSpace(raw)))
	_, ok := r.plans[tier]
	return tier, ok
}
