// Package trust computes trust profiles: weight merging, evidence folding,
// composite scoring, observation discounting and decay. Everything here is
// a pure computation; persistence and notification live in profile.
package trust

import (
	"fmt"
	"time"

	"github.com/ppiankov/trustplane/internal/config"
	"github.com/ppiankov/trustplane/internal/fault"
	"github.com/ppiankov/trustplane/internal/model"
)

// Strategy selects how domain weight deltas combine with the canonical
// vector.
type Strategy string

const (
	// StrategyCanonical ignores all deltas.
	StrategyCanonical Strategy = "canonical"
	// StrategyDeltaOverride applies each unexpired delta directly.
	StrategyDeltaOverride Strategy = "deltaOverride"
	// StrategyBlended averages overlapping deltas per dimension first.
	StrategyBlended Strategy = "blended"
)

// Valid reports whether the strategy is a known one.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyCanonical, StrategyDeltaOverride, StrategyBlended:
		return true
	}
	return false
}

// Weights is the per-dimension weight vector. Nominal sum is 1000 with a
// 10% tolerance either way.
type Weights struct {
	CT int `json:"ct"`
	BT int `json:"bt"`
	GT int `json:"gt"`
	XT int `json:"xt"`
	AC int `json:"ac"`
}

const (
	weightSumNominal   = 1000
	weightSumTolerance = 100
)

// Canonical returns the default weight vector.
func Canonical() Weights {
	return Weights{CT: 350, BT: 200, GT: 200, XT: 100, AC: 150}
}

// Sum returns the total weight mass.
func (w Weights) Sum() int {
	return w.CT + w.BT + w.GT + w.XT + w.AC
}

// PositiveSum returns the mass of the positively contributing dimensions.
// BT is excluded: it subtracts from the composite.
func (w Weights) PositiveSum() int {
	return w.CT + w.GT + w.XT + w.AC
}

// Of returns the weight for one dimension, 0 for an unknown one.
func (w Weights) Of(d model.Dimension) int {
	switch d {
	case model.DimCumulative:
		return w.CT
	case model.DimBurned:
		return w.BT
	case model.DimGranted:
		return w.GT
	case model.DimExceptional:
		return w.XT
	case model.DimAgentClass:
		return w.AC
	}
	return 0
}

func (w Weights) with(d model.Dimension, v int) Weights {
	switch d {
	case model.DimCumulative:
		w.CT = v
	case model.DimBurned:
		w.BT = v
	case model.DimGranted:
		w.GT = v
	case model.DimExceptional:
		w.XT = v
	case model.DimAgentClass:
		w.AC = v
	}
	return w
}

// Validate checks non-negativity and the sum tolerance.
func (w Weights) Validate() error {
	for _, d := range model.Dimensions() {
		if w.Of(d) < 0 {
			return fault.Validation("weight for %s is negative (%d)", d, w.Of(d))
		}
	}
	sum := w.Sum()
	if sum < weightSumNominal-weightSumTolerance || sum > weightSumNominal+weightSumTolerance {
		return fault.Validation("weight sum %d outside [%d, %d]",
			sum, weightSumNominal-weightSumTolerance, weightSumNominal+weightSumTolerance)
	}
	return nil
}

// Delta is one signed adjustment to a single dimension's weight, usually
// part of a named domain preset.
type Delta struct {
	Dimension  model.Dimension `json:"dimension"`
	Adjustment int             `json:"adjustment"`
	Reason     string          `json:"reason,omitempty"`
	AppliedAt  time.Time       `json:"appliedAt,omitempty"`
	ExpiresAt  time.Time       `json:"expiresAt,omitempty"`
}

// Expired reports whether the delta is past expiry. Zero ExpiresAt never
// expires.
func (d Delta) Expired(now time.Time) bool {
	return !d.ExpiresAt.IsZero() && now.After(d.ExpiresAt)
}

// Merge combines the base vector with deltas under the given strategy.
// Expired deltas behave exactly as if omitted. Per-dimension results clamp
// at zero; the merged vector must still pass the sum tolerance.
func Merge(base Weights, deltas []Delta, strategy Strategy, now time.Time) (Weights, error) {
	if !strategy.Valid() {
		return Weights{}, fault.Validation("unknown merge strategy %q", strategy)
	}
	if strategy == StrategyCanonical {
		if err := base.Validate(); err != nil {
			return Weights{}, err
		}
		return base, nil
	}

	live := make([]Delta, 0, len(deltas))
	for _, d := range deltas {
		if !d.Dimension.Valid() {
			return Weights{}, fault.Validation("delta targets unknown dimension %q", d.Dimension)
		}
		if d.Expired(now) {
			continue
		}
		live = append(live, d)
	}

	merged := base
	switch strategy {
	case StrategyDeltaOverride:
		for _, d := range live {
			v := merged.Of(d.Dimension) + d.Adjustment
			if v < 0 {
				v = 0
			}
			merged = merged.with(d.Dimension, v)
		}
	case StrategyBlended:
		sums := make(map[model.Dimension]int)
		counts := make(map[model.Dimension]int)
		for _, d := range live {
			sums[d.Dimension] += d.Adjustment
			counts[d.Dimension]++
		}
		for dim, total := range sums {
			// Round half away from zero so +1/+2 averages to +2, -1/-2 to -2.
			n := counts[dim]
			avg := (total + sign(total)*n/2) / n
			v := merged.Of(dim) + avg
			if v < 0 {
				v = 0
			}
			merged = merged.with(dim, v)
		}
	}

	if err := merged.Validate(); err != nil {
		return Weights{}, err
	}
	return merged, nil
}

func sign(n int) int {
	if n < 0 {
		return -1
	}
	return 1
}

// WeightsFromConfig converts the YAML weight block. A zero block falls back
// to the canonical vector.
func WeightsFromConfig(wc config.WeightsConfig) Weights {
	w := Weights{CT: wc.CT, BT: wc.BT, GT: wc.GT, XT: wc.XT, AC: wc.AC}
	if w == (Weights{}) {
		return Canonical()
	}
	return w
}

// DeltasFromConfig converts one preset's delta list, validating dimensions
// and parsing expiry timestamps.
func DeltasFromConfig(dcs []config.DeltaConfig) ([]Delta, error) {
	out := make([]Delta, 0, len(dcs))
	for i, dc := range dcs {
		d := Delta{
			Dimension:  model.Dimension(dc.Dimension),
			Adjustment: dc.Adjustment,
			Reason:     dc.Reason,
		}
		if !d.Dimension.Valid() {
			return nil, fault.Validation("preset delta %d: unknown dimension %q", i, dc.Dimension)
		}
		if dc.ExpiresAt != "" {
			t, err := time.Parse(time.RFC3339, dc.ExpiresAt)
			if err != nil {
				return nil, fault.Validation("preset delta %d: bad expires_at %q: %v", i, dc.ExpiresAt, err)
			}
			d.ExpiresAt = t
		}
		out = append(out, d)
	}
	return out, nil
}

// PresetsFromConfig converts all named domain presets.
func PresetsFromConfig(presets map[string][]config.DeltaConfig) (map[string][]Delta, error) {
	out := make(map[string][]Delta, len(presets))
	for name, dcs := range presets {
		deltas, err := DeltasFromConfig(dcs)
		if err != nil {
			return nil, fmt.Errorf("preset %q: %w", name, err)
		}
		out[name] = deltas
	}
	return out, nil
}
