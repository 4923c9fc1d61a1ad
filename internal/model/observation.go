package model

// ObservationTier describes how much visibility exists into an agent's
// behavior. Less-observed agents carry a discount on their composite score:
// a black-box agent can never exceed 60% of the scale no matter how good
// its evidence looks.
type ObservationTier string

const (
	ObservationBlackBox     ObservationTier = "BLACK_BOX"
	ObservationGrayBox      ObservationTier = "GRAY_BOX"
	ObservationGlassBox     ObservationTier = "GLASS_BOX"
	ObservationInstrumented ObservationTier = "INSTRUMENTED"
)

// observationFactor maps observation tiers to score discount factors.
var observationFactor = map[ObservationTier]float64{
	ObservationBlackBox:     0.60,
	ObservationGrayBox:      0.75,
	ObservationGlassBox:     0.90,
	ObservationInstrumented: 1.00,
}

// ObservationTiers returns all observation tiers from least to most visible.
func ObservationTiers() []ObservationTier {
	return []ObservationTier{
		ObservationBlackBox, ObservationGrayBox,
		ObservationGlassBox, ObservationInstrumented,
	}
}

// Valid reports whether the observation tier is a known enum member.
func (o ObservationTier) Valid() bool {
	_, ok := observationFactor[o]
	return ok
}

// DiscountFactor returns the multiplier applied to the composite score.
// Unknown tiers get the black-box factor: no visibility, no credit.
func (o ObservationTier) DiscountFactor() float64 {
	f, ok := observationFactor[o]
	if !ok {
		return observationFactor[ObservationBlackBox]
	}
	return f
}
