package trust

import (
	"math"
	"time"

	"github.com/ppiankov/trustplane/internal/fault"
	"github.com/ppiankov/trustplane/internal/model"
)

// Dimensions holds the five raw dimension scores, each on a 0-100 scale
// before weighting.
type Dimensions struct {
	CT float64 `json:"ct"`
	BT float64 `json:"bt"`
	GT float64 `json:"gt"`
	XT float64 `json:"xt"`
	AC float64 `json:"ac"`
}

// Of returns one dimension's score, 0 for an unknown dimension.
func (d Dimensions) Of(dim model.Dimension) float64 {
	switch dim {
	case model.DimCumulative:
		return d.CT
	case model.DimBurned:
		return d.BT
	case model.DimGranted:
		return d.GT
	case model.DimExceptional:
		return d.XT
	case model.DimAgentClass:
		return d.AC
	}
	return 0
}

func (d Dimensions) with(dim model.Dimension, v float64) Dimensions {
	switch dim {
	case model.DimCumulative:
		d.CT = v
	case model.DimBurned:
		d.BT = v
	case model.DimGranted:
		d.GT = v
	case model.DimExceptional:
		d.XT = v
	case model.DimAgentClass:
		d.AC = v
	}
	return d
}

// Evidence is one timestamped signal nudging a single dimension.
type Evidence struct {
	EvidenceID string          `json:"evidenceId"`
	AgentID    string          `json:"agentId"`
	Dimension  model.Dimension `json:"dimension"`
	Delta      float64         `json:"delta"`
	Reason     string          `json:"reason,omitempty"`
	Source     string          `json:"source,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// Profile is the full trust state of one agent.
type Profile struct {
	AgentID         string                `json:"agentId"`
	Dimensions      Dimensions            `json:"dimensions"`
	Weights         Weights               `json:"weights"`
	CompositeScore  int                   `json:"compositeScore"`
	ObservationTier model.ObservationTier `json:"observationTier"`
	AdjustedScore   int                   `json:"adjustedScore"`
	Band            model.Band            `json:"band"`
	CreationType    model.CreationType    `json:"creationType,omitempty"`
	Evidence        []Evidence            `json:"evidence"`
	CalculatedAt    time.Time             `json:"calculatedAt"`
	Version         int                   `json:"version"`
}

// acSeedBase is the AC dimension's starting point before the creation-type
// modifier (which lives on the 0-1000 composite scale, hence /10 here).
const acSeedBase = 50

// SeedEvidence builds the creation-time AC seed for a new profile.
func SeedEvidence(agentID string, ct model.CreationType, now time.Time) Evidence {
	return Evidence{
		AgentID:    agentID,
		Dimension:  model.DimAgentClass,
		Delta:      acSeedBase + float64(ct.Modifier())/10,
		Reason:     "creation seed (" + string(ct) + ")",
		Source:     "registry",
		OccurredAt: now.UTC(),
	}
}

// Calculator derives profiles from evidence. Pure except for the clock,
// which is injectable for tests.
type Calculator struct {
	// DecayRatePct is the percentage of each positive dimension lost per
	// idle day. BT decays at half this rate.
	DecayRatePct float64

	now func() time.Time
}

// NewCalculator returns a calculator with the given decay rate in percent
// per idle day.
func NewCalculator(decayRatePct float64) *Calculator {
	return &Calculator{DecayRatePct: decayRatePct, now: time.Now}
}

// Calculate produces a fresh profile from scratch. A zero weight vector
// means canonical. Evidence folds into zeroed dimensions in order.
func (c *Calculator) Calculate(agentID string, tier model.ObservationTier, evidence []Evidence, weights Weights) (Profile, error) {
	if agentID == "" {
		return Profile{}, fault.Validation("agentId must not be empty")
	}
	if !tier.Valid() {
		return Profile{}, fault.Validation("unknown observation tier %q", tier)
	}
	if weights == (Weights{}) {
		weights = Canonical()
	}
	if err := weights.Validate(); err != nil {
		return Profile{}, err
	}

	dims, err := foldEvidence(Dimensions{}, evidence)
	if err != nil {
		return Profile{}, err
	}

	p := Profile{
		AgentID:         agentID,
		Dimensions:      dims,
		Weights:         weights,
		ObservationTier: tier,
		Evidence:        append([]Evidence(nil), evidence...),
		CalculatedAt:    c.now().UTC(),
		Version:         1,
	}
	c.score(&p)
	return p, nil
}

// Recalculate folds new evidence into an existing profile. Prior evidence
// is retained; version increments by one.
func (c *Calculator) Recalculate(existing Profile, newEvidence []Evidence) (Profile, error) {
	if existing.AgentID == "" {
		return Profile{}, fault.Validation("profile has no agentId")
	}
	dims, err := foldEvidence(existing.Dimensions, newEvidence)
	if err != nil {
		return Profile{}, err
	}

	p := existing
	p.Dimensions = dims
	p.Evidence = append(append([]Evidence(nil), existing.Evidence...), newEvidence...)
	p.CalculatedAt = c.now().UTC()
	p.Version = existing.Version + 1
	c.score(&p)
	return p, nil
}

// ApplyDecay reduces dimension scores in proportion to idle time since the
// last calculation. No new evidence; version increments by one. Positive
// dimensions lose DecayRatePct per idle day; BT fades at half that rate.
func (c *Calculator) ApplyDecay(existing Profile, now time.Time) (Profile, error) {
	if existing.AgentID == "" {
		return Profile{}, fault.Validation("profile has no agentId")
	}
	idleDays := now.Sub(existing.CalculatedAt).Hours() / 24
	if idleDays < 0 {
		idleDays = 0
	}
	posFactor := decayFactor(c.DecayRatePct, idleDays)
	btFactor := decayFactor(c.DecayRatePct/2, idleDays)

	p := existing
	p.Dimensions = Dimensions{
		CT: existing.Dimensions.CT * posFactor,
		BT: existing.Dimensions.BT * btFactor,
		GT: existing.Dimensions.GT * posFactor,
		XT: existing.Dimensions.XT * posFactor,
		AC: existing.Dimensions.AC * posFactor,
	}
	p.CalculatedAt = now.UTC()
	p.Version = existing.Version + 1
	c.score(&p)
	return p, nil
}

func decayFactor(ratePct, idleDays float64) float64 {
	f := 1 - ratePct/100*idleDays
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// score derives composite, adjusted and band from dimensions and weights.
// Band is always the threshold bucket of the adjusted score.
func (c *Calculator) score(p *Profile) {
	p.CompositeScore = Composite(p.Dimensions, p.Weights)
	p.AdjustedScore = int(math.Round(float64(p.CompositeScore) * p.ObservationTier.DiscountFactor()))
	p.Band = model.BandForScore(p.AdjustedScore)
}

// Composite maps dimensions and weights to the 0-1000 composite score.
// Positive dimensions contribute weighted fractions of their scale; BT
// subtracts. The result is normalized by the positive weight mass so a
// perfect clean profile reaches 1000 under any tolerant vector.
func Composite(d Dimensions, w Weights) int {
	pos := w.PositiveSum()
	if pos <= 0 {
		return 0
	}
	raw := d.CT/100*float64(w.CT) +
		d.GT/100*float64(w.GT) +
		d.XT/100*float64(w.XT) +
		d.AC/100*float64(w.AC) -
		d.BT/100*float64(w.BT)
	scaled := raw * float64(weightSumNominal) / float64(pos)
	n := int(math.Round(scaled))
	if n < 0 {
		return 0
	}
	if n > 1000 {
		return 1000
	}
	return n
}

// foldEvidence applies each item to its dimension, clamping to [0,100].
func foldEvidence(base Dimensions, evidence []Evidence) (Dimensions, error) {
	dims := base
	for i, ev := range evidence {
		if !ev.Dimension.Valid() {
			return Dimensions{}, fault.Validation("evidence %d targets unknown dimension %q", i, ev.Dimension)
		}
		v := dims.Of(ev.Dimension) + ev.Delta
		if v < 0 {
			v = 0
		}
		if v > 100 {
			v = 100
		}
		dims = dims.with(ev.Dimension, v)
	}
	return dims, nil
}
