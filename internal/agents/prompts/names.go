package prompts

type PromptName string

const (
	// Ingestion
	PromptSectionExtract PromptName = "section_extract"

	// Entity extraction
	PromptEntityExtract PromptName = "entity_extract"

	// Relationship extraction with progressive degradation variants
	PromptRelationshipExtract        PromptName = "relationship_extract"
	PromptRelationshipExtractCompact PromptName = "relationship_extract_compact"
	PromptRelationshipExtractMinimal PromptName = "relationship_extract_minimal"
)
