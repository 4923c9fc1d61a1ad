// Package rolegate decides whether a (role, tier) combination is authorized.
// The kernel layer is a static matrix lookup; the policy layer adds dynamic
// rules and per-agent exceptions on top of it.
package rolegate

import "github.com/ppiankov/trustplane/internal/model"

// roleGateMatrix marks structurally valid (role, tier) pairs.
//
// INVARIANT: every row is a contiguous prefix of true starting at T0.
// A role reaching tier N reaches every tier below it.
var roleGateMatrix = [9][6]bool{
	//  T0     T1     T2     T3     T4     T5
	{true, true, false, false, false, false}, // LISTENER
	{true, true, false, false, false, false}, // RESPONDER
	{true, true, true, false, false, false},  // TASK_EXECUTOR
	{true, true, true, true, false, false},   // WORKFLOW_MANAGER
	{true, true, true, true, false, false},   // DOMAIN_EXPERT
	{true, true, true, true, true, false},    // RESOURCE_CONTROLLER
	{true, true, true, true, true, false},    // SYSTEM_ADMINISTRATOR
	{true, true, true, true, true, true},     // TRUST_GOVERNOR
	{true, true, true, true, true, true},     // ECOSYSTEM_CONTROLLER
}

// ValidateRoleAndTier reports whether the pair is structurally valid.
// Pure matrix lookup: never errors, false for anything outside the enums.
func ValidateRoleAndTier(role model.Role, tier model.Tier) bool {
	r := role.Rank()
	t := tier.Rank()
	if r < 0 || t < 0 {
		return false
	}
	return roleGateMatrix[r][t]
}

// MaxTierForRole returns the highest tier the role reaches, false for an
// unknown role.
func MaxTierForRole(role model.Role) (model.Tier, bool) {
	r := role.Rank()
	if r < 0 {
		return "", false
	}
	for t := len(roleGateMatrix[r]) - 1; t >= 0; t-- {
		if roleGateMatrix[r][t] {
			tier, _ := model.TierAt(t)
			return tier, true
		}
	}
	return "", false
}

// MinRoleForTier returns the least autonomous role that reaches the tier,
// false for an unknown tier or one no role reaches.
func MinRoleForTier(tier model.Tier) (model.Role, bool) {
	t := tier.Rank()
	if t < 0 {
		return "", false
	}
	for r, role := range model.Roles() {
		if roleGateMatrix[r][t] {
			return role, true
		}
	}
	return "", false
}
