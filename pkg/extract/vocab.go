package extract

// Entity and relation vocabularies are closed. Model output using any other
// value is dropped during validation rather than persisted.

var entityTypes = map[string]bool{
	"PERSON":       true,
	"PLACE":        true,
	"ORGANIZATION": true,
	"OBJECT":       true,
	"EVENT":        true,
	"TIME":         true,
}

var relationTypes = map[string]bool{
	"MENTIONS":       true,
	"LOCATED_IN":     true,
	"PART_OF":        true,
	"OWNS":           true,
	"INTERACTS_WITH": true,
	"BEFORE":         true,
	"AFTER":          true,
	"CAUSES":         true,
	"CAUSED_BY":      true,
	"HAS_ATTRIBUTE":  true,
	"HAS_ALIAS":      true,
}

// ValidEntityType reports whether t is one of the six entity labels.
func ValidEntityType(t string) bool {
	return entityTypes[t]
}

// ValidRelationType reports whether t is one of the eleven relation types.
func ValidRelationType(t string) bool {
	return relationTypes[t]
}
