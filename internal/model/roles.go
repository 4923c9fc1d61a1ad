package model

// Role classifies an agent's autonomy level. Roles are ordered: a higher
// rank means more autonomous behavior is expected of the agent.
type Role string

const (
	RoleListener      Role = "LISTENER"
	RoleResponder     Role = "RESPONDER"
	RoleTaskExecutor  Role = "TASK_EXECUTOR"
	RoleWorkflowMgr   Role = "WORKFLOW_MANAGER"
	RoleDomainExpert  Role = "DOMAIN_EXPERT"
	RoleResourceCtl   Role = "RESOURCE_CONTROLLER"
	RoleSysAdmin      Role = "SYSTEM_ADMINISTRATOR"
	RoleTrustGovernor Role = "TRUST_GOVERNOR"
	RoleEcosystemCtl  Role = "ECOSYSTEM_CONTROLLER"
)

// RoleRank maps roles to comparable integers for matrix indexing.
var RoleRank = map[Role]int{
	RoleListener:      0,
	RoleResponder:     1,
	RoleTaskExecutor:  2,
	RoleWorkflowMgr:   3,
	RoleDomainExpert:  4,
	RoleResourceCtl:   5,
	RoleSysAdmin:      6,
	RoleTrustGovernor: 7,
	RoleEcosystemCtl:  8,
}

// Roles returns all roles in rank order.
func Roles() []Role {
	return []Role{
		RoleListener, RoleResponder, RoleTaskExecutor, RoleWorkflowMgr,
		RoleDomainExpert, RoleResourceCtl, RoleSysAdmin, RoleTrustGovernor,
		RoleEcosystemCtl,
	}
}

// Valid reports whether the role is a known enum member.
func (r Role) Valid() bool {
	_, ok := RoleRank[r]
	return ok
}

// Rank returns the role's position in the autonomy ordering, -1 if unknown.
func (r Role) Rank() int {
	rank, ok := RoleRank[r]
	if !ok {
		return -1
	}
	return rank
}

// Tier classifies the operational scope an action runs under. Tiers are
// ordered: a higher rank means broader blast radius.
type Tier string

const (
	TierSandbox      Tier = "T0_SANDBOX"
	TierProbation    Tier = "T1_PROBATION"
	TierLimitedProd  Tier = "T2_LIMITED_PROD"
	TierStandardProd Tier = "T3_STANDARD_PROD"
	TierCritical     Tier = "T4_CRITICAL"
	TierSovereign    Tier = "T5_SOVEREIGN"
)

// TierRank maps tiers to comparable integers for matrix indexing.
var TierRank = map[Tier]int{
	TierSandbox:      0,
	TierProbation:    1,
	TierLimitedProd:  2,
	TierStandardProd: 3,
	TierCritical:     4,
	TierSovereign:    5,
}

// Tiers returns all tiers in rank order.
func Tiers() []Tier {
	return []Tier{
		TierSandbox, TierProbation, TierLimitedProd,
		TierStandardProd, TierCritical, TierSovereign,
	}
}

// Valid reports whether the tier is a known enum member.
func (t Tier) Valid() bool {
	_, ok := TierRank[t]
	return ok
}

// Rank returns the tier's position in the scope ordering, -1 if unknown.
func (t Tier) Rank() int {
	rank, ok := TierRank[t]
	if !ok {
		return -1
	}
	return rank
}

// TierAt returns the tier with the given rank, false if out of range.
func TierAt(rank int) (Tier, bool) {
	all := Tiers()
	if rank < 0 || rank >= len(all) {
		return "", false
	}
	return all[rank], true
}
