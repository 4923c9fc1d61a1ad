package model

// Band classifies an agent's adjusted trust score into six ordered levels.
// A band is always derived from the score by BandForScore, never assigned
// directly.
type Band string

const (
	BandUntrusted    Band = "T0_UNTRUSTED"
	BandProbationary Band = "T1_PROBATIONARY"
	BandLimited      Band = "T2_LIMITED"
	BandStandard     Band = "T3_STANDARD"
	BandTrusted      Band = "T4_TRUSTED"
	BandCertified    Band = "T5_CERTIFIED"
)

// BandRank maps bands to comparable integers for drop detection.
var BandRank = map[Band]int{
	BandUntrusted:    0,
	BandProbationary: 1,
	BandLimited:      2,
	BandStandard:     3,
	BandTrusted:      4,
	BandCertified:    5,
}

// Band thresholds on the 0-1000 adjusted score scale. A score s maps to the
// highest band whose threshold is <= s.
const (
	ThresholdProbationary = 100
	ThresholdLimited      = 300
	ThresholdStandard     = 500
	ThresholdTrusted      = 700
	ThresholdCertified    = 900
)

// Bands returns all bands in rank order.
func Bands() []Band {
	return []Band{
		BandUntrusted, BandProbationary, BandLimited,
		BandStandard, BandTrusted, BandCertified,
	}
}

// Valid reports whether the band is a known enum member.
func (b Band) Valid() bool {
	_, ok := BandRank[b]
	return ok
}

// Rank returns the band's position in the trust ordering, -1 if unknown.
func (b Band) Rank() int {
	rank, ok := BandRank[b]
	if !ok {
		return -1
	}
	return rank
}

// Tier returns the operational tier an agent in this band may act at.
// Band and tier ranks correspond one to one.
func (b Band) Tier() Tier {
	tier, ok := TierAt(b.Rank())
	if !ok {
		return TierSandbox
	}
	return tier
}

// BandForScore buckets an adjusted score (0-1000) into its band. Scores
// outside the scale clamp to the nearest end.
func BandForScore(score int) Band {
	switch {
	case score < ThresholdProbationary:
		return BandUntrusted
	case score < ThresholdLimited:
		return BandProbationary
	case score < ThresholdStandard:
		return BandLimited
	case score < ThresholdTrusted:
		return BandStandard
	case score < ThresholdCertified:
		return BandTrusted
	default:
		return BandCertified
	}
}
