package model

// CreationType records how an agent came into existence. Provenance shifts
// the starting trust: an agent promoted from a proven lineage starts higher
// than one imported from an unknown origin.
type CreationType string

const (
	CreationFresh    CreationType = "FRESH"
	CreationCloned   CreationType = "CLONED"
	CreationEvolved  CreationType = "EVOLVED"
	CreationPromoted CreationType = "PROMOTED"
	CreationImported CreationType = "IMPORTED"
)

// provenanceModifier maps creation types to composite-scale (0-1000)
// adjustments applied when a profile is first created.
var provenanceModifier = map[CreationType]int{
	CreationFresh:    0,
	CreationCloned:   -50,
	CreationEvolved:  100,
	CreationPromoted: 150,
	CreationImported: -100,
}

// Valid reports whether the creation type is a known enum member.
func (c CreationType) Valid() bool {
	_, ok := provenanceModifier[c]
	return ok
}

// Modifier returns the provenance adjustment on the composite scale.
// Unknown types get zero.
func (c CreationType) Modifier() int {
	return provenanceModifier[c]
}
