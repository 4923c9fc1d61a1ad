// Package policydiff compares two kernel configurations and reports what
// changed in authorization terms: rules, exceptions, registered agents,
// trust scoring and breaker settings. The CLI uses it to review a config
// edit before deploying it; the hot reloader uses it to annotate
// policy_changed ledger events with what actually moved.
package policydiff

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ppiankov/trustplane/internal/config"
)

// Change represents a scalar setting change.
type Change struct {
	Field   string `json:"field"`
	Old     string `json:"old"`
	New     string `json:"new"`
	Comment string `json:"comment,omitempty"`
}

// EntryChange represents a rule or exception addition, removal or flip.
type EntryChange struct {
	Type  string `json:"type"` // added | removed | changed
	Entry string `json:"entry"`
}

// DiffResult holds the comparison of two kernel configs.
type DiffResult struct {
	OldPath          string        `json:"old_path,omitempty"`
	NewPath          string        `json:"new_path,omitempty"`
	Changes          []Change      `json:"changes"`
	RuleChanges      []EntryChange `json:"rule_changes"`
	ExceptionChanges []EntryChange `json:"exception_changes"`
	HasChanges       bool          `json:"has_changes"`
}

// Summary renders the result as one line for logs and ledger payloads.
func (r *DiffResult) Summary() string {
	if !r.HasChanges {
		return "no policy changes"
	}
	var parts []string
	if n := len(r.RuleChanges); n > 0 {
		parts = append(parts, fmt.Sprintf("%d rule changes", n))
	}
	if n := len(r.ExceptionChanges); n > 0 {
		parts = append(parts, fmt.Sprintf("%d exception changes", n))
	}
	if n := len(r.Changes); n > 0 {
		parts = append(parts, fmt.Sprintf("%d setting changes", n))
	}
	return strings.Join(parts, ", ")
}

// Diff compares two kernel configs and returns the differences.
func Diff(old, new *config.Config) *DiffResult {
	r := &DiffResult{}

	diffString(r, "merge_strategy", old.Trust.MergeStrategy, new.Trust.MergeStrategy)
	diffString(r, "ledger_backend", old.Ledger.Backend, new.Ledger.Backend)
	diffString(r, "profile_backend", old.Profiles.Backend, new.Profiles.Backend)

	// Trust scoring knobs. Directionality: faster decay and tighter drop
	// thresholds mean the kernel forgives less.
	diffFloat(r, "trust.decay_rate_pct_per_day",
		old.Trust.DecayRatePct, new.Trust.DecayRatePct, higherIsStricter)
	diffInt(r, "trust.staleness_hours",
		old.Trust.StalenessHours, new.Trust.StalenessHours, lowerIsStricter)
	diffInt(r, "trust.band_drop_min",
		old.Trust.BandDropMin, new.Trust.BandDropMin, lowerIsStricter)
	diffFloat(r, "trust.score_drop_pct",
		old.Trust.ScoreDropPct, new.Trust.ScoreDropPct, lowerIsStricter)

	diffInt(r, "weights.ct", old.Trust.Weights.CT, new.Trust.Weights.CT, neutral)
	diffInt(r, "weights.bt", old.Trust.Weights.BT, new.Trust.Weights.BT, neutral)
	diffInt(r, "weights.gt", old.Trust.Weights.GT, new.Trust.Weights.GT, neutral)
	diffInt(r, "weights.xt", old.Trust.Weights.XT, new.Trust.Weights.XT, neutral)
	diffInt(r, "weights.ac", old.Trust.Weights.AC, new.Trust.Weights.AC, neutral)

	diffFloat(r, "canary.lambda_per_hour",
		old.Canary.LambdaPerHour, new.Canary.LambdaPerHour, higherIsStricter)
	diffInt(r, "canary.min_interval_sec",
		old.Canary.MinIntervalSec, new.Canary.MinIntervalSec, lowerIsStricter)
	diffInt(r, "canary.max_consecutive_failures",
		old.Canary.MaxConsecFails, new.Canary.MaxConsecFails, lowerIsStricter)

	diffInt(r, "breaker.cooldown_sec",
		old.Breaker.CooldownSec, new.Breaker.CooldownSec, higherIsStricter)
	diffInt(r, "breaker.half_open_trials",
		old.Breaker.HalfOpenTrials, new.Breaker.HalfOpenTrials, lowerIsStricter)

	r.RuleChanges = diffRules(old.Policy.Rules, new.Policy.Rules)
	r.ExceptionChanges = diffExceptions(old.Policy.Exceptions, new.Policy.Exceptions)

	diffMapKeys(r, "agents", agentIDs(old), agentIDs(new))
	diffMapKeys(r, "presets", presetNames(old), presetNames(new))

	r.HasChanges = len(r.Changes) > 0 || len(r.RuleChanges) > 0 || len(r.ExceptionChanges) > 0
	return r
}

type direction int

const (
	neutral direction = iota
	higherIsStricter
	lowerIsStricter
)

func directionComment(oldLess bool, dir direction) string {
	switch dir {
	case higherIsStricter:
		if oldLess {
			return "stricter"
		}
		return "looser"
	case lowerIsStricter:
		if oldLess {
			return "looser"
		}
		return "stricter"
	default:
		return ""
	}
}

func diffString(r *DiffResult, field, old, new string) {
	if old != new {
		r.Changes = append(r.Changes, Change{Field: field, Old: old, New: new})
	}
}

func diffInt(r *DiffResult, field string, old, new int, dir direction) {
	if old != new {
		r.Changes = append(r.Changes, Change{
			Field:   field,
			Old:     fmt.Sprintf("%d", old),
			New:     fmt.Sprintf("%d", new),
			Comment: directionComment(old < new, dir),
		})
	}
}

func diffFloat(r *DiffResult, field string, old, new float64, dir direction) {
	if old != new {
		r.Changes = append(r.Changes, Change{
			Field:   field,
			Old:     fmt.Sprintf("%g", old),
			New:     fmt.Sprintf("%g", new),
			Comment: directionComment(old < new, dir),
		})
	}
}

// verdict normalizes a decision string the way the policy engine does:
// anything that is not exactly "allow" denies. Two spellings of the same
// verdict are not a change.
func verdict(decision string) string {
	if strings.ToLower(strings.TrimSpace(decision)) == "allow" {
		return "allow"
	}
	return "deny"
}

func ruleKey(rc config.RuleConfig) string {
	return rc.Role + "|" + rc.Tier + "|" + rc.Domain
}

func ruleLabel(rc config.RuleConfig) string {
	domain := rc.Domain
	if domain == "" {
		domain = "*"
	}
	return fmt.Sprintf("role=%s tier=%s domain=%s", rc.Role, rc.Tier, domain)
}

func diffRules(oldRules, newRules []config.RuleConfig) []EntryChange {
	oldMap := make(map[string]config.RuleConfig, len(oldRules))
	for _, rc := range oldRules {
		oldMap[ruleKey(rc)] = rc
	}
	newMap := make(map[string]config.RuleConfig, len(newRules))
	for _, rc := range newRules {
		newMap[ruleKey(rc)] = rc
	}

	var changes []EntryChange
	for _, rc := range newRules {
		oldRule, exists := oldMap[ruleKey(rc)]
		if !exists {
			changes = append(changes, EntryChange{
				Type:  "added",
				Entry: fmt.Sprintf("%s → %s", ruleLabel(rc), verdict(rc.Decision)),
			})
			continue
		}
		if verdict(oldRule.Decision) != verdict(rc.Decision) {
			changes = append(changes, EntryChange{
				Type: "changed",
				Entry: fmt.Sprintf("%s → %s (was: %s)",
					ruleLabel(rc), verdict(rc.Decision), verdict(oldRule.Decision)),
			})
		}
	}
	for _, rc := range oldRules {
		if _, exists := newMap[ruleKey(rc)]; !exists {
			changes = append(changes, EntryChange{
				Type:  "removed",
				Entry: fmt.Sprintf("%s → %s", ruleLabel(rc), verdict(rc.Decision)),
			})
		}
	}
	return changes
}

func exceptionKey(xc config.ExceptionConfig) string {
	return xc.AgentID + "|" + xc.Role + "|" + xc.Tier
}

func exceptionLabel(xc config.ExceptionConfig) string {
	return fmt.Sprintf("agent=%s role=%s tier=%s", xc.AgentID, xc.Role, xc.Tier)
}

func diffExceptions(oldExcs, newExcs []config.ExceptionConfig) []EntryChange {
	oldMap := make(map[string]config.ExceptionConfig, len(oldExcs))
	for _, xc := range oldExcs {
		oldMap[exceptionKey(xc)] = xc
	}
	newMap := make(map[string]config.ExceptionConfig, len(newExcs))
	for _, xc := range newExcs {
		newMap[exceptionKey(xc)] = xc
	}

	var changes []EntryChange
	for _, xc := range newExcs {
		oldExc, exists := oldMap[exceptionKey(xc)]
		if !exists {
			changes = append(changes, EntryChange{
				Type:  "added",
				Entry: fmt.Sprintf("%s → %s", exceptionLabel(xc), verdict(xc.Decision)),
			})
			continue
		}
		if verdict(oldExc.Decision) != verdict(xc.Decision) {
			changes = append(changes, EntryChange{
				Type: "changed",
				Entry: fmt.Sprintf("%s → %s (was: %s)",
					exceptionLabel(xc), verdict(xc.Decision), verdict(oldExc.Decision)),
			})
		} else if oldExc.ExpiresAt != xc.ExpiresAt {
			changes = append(changes, EntryChange{
				Type: "changed",
				Entry: fmt.Sprintf("%s → expires %s (was: %s)",
					exceptionLabel(xc), orNever(xc.ExpiresAt), orNever(oldExc.ExpiresAt)),
			})
		}
	}
	for _, xc := range oldExcs {
		if _, exists := newMap[exceptionKey(xc)]; !exists {
			changes = append(changes, EntryChange{
				Type:  "removed",
				Entry: fmt.Sprintf("%s → %s", exceptionLabel(xc), verdict(xc.Decision)),
			})
		}
	}
	return changes
}

func orNever(expiresAt string) string {
	if expiresAt == "" {
		return "never"
	}
	return expiresAt
}

func diffMapKeys(r *DiffResult, section string, oldKeys, newKeys []string) {
	oldSet := make(map[string]bool, len(oldKeys))
	for _, k := range oldKeys {
		oldSet[k] = true
	}
	newSet := make(map[string]bool, len(newKeys))
	for _, k := range newKeys {
		newSet[k] = true
	}

	for _, k := range newKeys {
		if !oldSet[k] {
			r.Changes = append(r.Changes, Change{Field: section, New: k, Comment: "added"})
		}
	}
	for _, k := range oldKeys {
		if !newSet[k] {
			r.Changes = append(r.Changes, Change{Field: section, Old: k, Comment: "removed"})
		}
	}
}

func agentIDs(cfg *config.Config) []string {
	ids := make([]string, 0, len(cfg.Agents))
	for _, a := range cfg.Agents {
		ids = append(ids, a.AgentID)
	}
	sort.Strings(ids)
	return ids
}

func presetNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Trust.Presets))
	for name := range cfg.Trust.Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
