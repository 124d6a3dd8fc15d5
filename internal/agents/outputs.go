package agents

// ExtractedSection is one segmented part of a paper's text.
type ExtractedSection struct {
	SectionType string `json:"section_type"`
	PartIndex   int    `json:"part_index"`
	Content     string `json:"content"`
}

type SectionExtractOutput struct {
	Sections []ExtractedSection `json:"sections"`
}

// ExtractedEntity is one typed entity grounded in a section.
type ExtractedEntity struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Definition  string   `json:"definition"`
	Evidence    string   `json:"evidence"`
	Aliases     []string `json:"aliases"`
	Confidence  float64  `json:"confidence"`
	SectionType string   `json:"section_type"`
	CharStart   int      `json:"char_start"`
	CharEnd     int      `json:"char_end"`
}

type EntityExtractOutput struct {
	Entities []ExtractedEntity `json:"entities"`
}

// ExtractedRelationship references entities by canonical name; resolution to
// node ids happens downstream.
type ExtractedRelationship struct {
	Source           string  `json:"source"`
	Target           string  `json:"target"`
	RelationshipType string  `json:"relationship_type"`
	Confidence       float64 `json:"confidence"`
	Evidence         string  `json:"evidence,omitempty"`
	SectionType      string  `json:"section_type"`
	CharStart        int     `json:"char_start"`
	CharEnd          int     `json:"char_end"`
}

type RelationshipExtractOutput struct {
	Relationships []ExtractedRelationship `json:"relationships"`
}
