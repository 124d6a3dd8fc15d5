package prompts

// Input is a superset of all fields any prompt might need.
// Missing fields render empty strings (templates use missingkey=zero).
type Input struct {
	// Paper grounding
	PaperID    string
	PaperTitle string
	FullText   string

	// Section-scoped extraction
	SectionsJSON string

	// Relationship extraction
	KnownNodesJSON string

	// Budgets rendered into the prompt text
	MaxSections       int
	MaxSectionChars   int
	MaxEntities       int
	MaxEntitiesPerSec int
	MaxMetricEntities int
	MaxRelationships  int
	MaxEvidenceChars  int
}
