package prompts

// RegisterAll registers every prompt in the registry using RegisterSpec.
func RegisterAll() {
	// ---------- Ingestion ----------

	RegisterSpec(Spec{
		Name:          PromptSectionExtract,
		Version:       "1.0.0",
		SchemaVersion: 1,
		SchemaName:    "section_extract",
		Schema:        SectionExtractSchema,
		System: `
You segment academic paper text into typed sections for a knowledge graph pipeline.
Use only the closed set of section types: abstract, methods, results, related_work, conclusion, other.
Exclude references, bibliographies, footnotes, and acknowledgments entirely.
Return JSON only.`,
		User: `
Paper: {{.PaperTitle}}

FULL TEXT:
{{.FullText}}

Output rules:
- At most {{.MaxSections}} sections.
- Each section content at most {{.MaxSectionChars}} characters; split longer sections into parts with increasing part_index (0-based) and the same section_type.
- Content must be verbatim text from the paper, not a summary.
- part_index orders parts within a section_type.`,
		Validators: []Validator{
			RequireNonEmpty("FullText", func(in Input) string { return in.FullText }),
		},
	})

	// ---------- Entity extraction ----------

	RegisterSpec(Spec{
		Name:          PromptEntityExtract,
		Version:       "1.0.0",
		SchemaVersion: 1,
		SchemaName:    "entity_extract",
		Schema:        EntityExtractSchema,
		System: `
You extract typed research entities from academic paper sections.
Entity types: Concept, Method, Dataset, Metric, Paper.
Every entity must be grounded in the section text with a verbatim evidence quote.
Return JSON only.`,
		User: `
Paper: {{.PaperTitle}}

SECTIONS (JSON array of {section_type, part_index, content}):
{{.SectionsJSON}}

Output rules:
- At most {{.MaxEntities}} entities total, at most {{.MaxEntitiesPerSec}} per section, at most {{.MaxMetricEntities}} Metric entities.
- confidence in [0,1]; omit anything below 0.5.
- definition: one sentence in your own words; evidence: verbatim quote from the section.
- char_start/char_end index into the section content containing the evidence.
- aliases: abbreviations or alternate names actually used in the text.`,
		Validators: []Validator{
			RequireNonEmpty("SectionsJSON", func(in Input) string { return in.SectionsJSON }),
		},
	})

	// ---------- Relationship extraction (progressive degradation) ----------

	relationshipSystem := `
You extract typed relationships between known research entities from academic paper sections.
Relationship types: introduces, uses, evaluates, improves_on, extends, compares_to.
source and target must be canonical names from the known entity list; never invent entities.
No self-relationships. improves_on must not target a Dataset or Metric.
Return JSON only.`

	relationshipUser := `
Paper: {{.PaperTitle}}

KNOWN ENTITIES (JSON array of {name, type}):
{{.KnownNodesJSON}}

SECTIONS (JSON array of {section_type, part_index, content}):
{{.SectionsJSON}}

Output rules:
- At most {{.MaxRelationships}} relationships.
- confidence in [0,1]; omit anything below 0.5.
- evidence: verbatim quote (at most {{.MaxEvidenceChars}} characters) from the cited section.
- char_start/char_end index into the section content containing the evidence.`

	RegisterSpec(Spec{
		Name:          PromptRelationshipExtract,
		Version:       "1.0.0",
		SchemaVersion: 1,
		SchemaName:    "relationship_extract",
		Schema:        RelationshipExtractSchema,
		System:        relationshipSystem,
		User:          relationshipUser,
		Validators: []Validator{
			RequireNonEmpty("SectionsJSON", func(in Input) string { return in.SectionsJSON }),
			RequireNonEmpty("KnownNodesJSON", func(in Input) string { return in.KnownNodesJSON }),
		},
	})

	RegisterSpec(Spec{
		Name:          PromptRelationshipExtractCompact,
		Version:       "1.0.0",
		SchemaVersion: 1,
		SchemaName:    "relationship_extract_compact",
		Schema:        RelationshipExtractCompactSchema,
		System:        relationshipSystem,
		User: relationshipUser + `
- Do NOT include evidence quotes; keep the payload small.`,
		Validators: []Validator{
			RequireNonEmpty("SectionsJSON", func(in Input) string { return in.SectionsJSON }),
			RequireNonEmpty("KnownNodesJSON", func(in Input) string { return in.KnownNodesJSON }),
		},
	})

	RegisterSpec(Spec{
		Name:          PromptRelationshipExtractMinimal,
		Version:       "1.0.0",
		SchemaVersion: 1,
		SchemaName:    "relationship_extract_minimal",
		Schema:        RelationshipExtractMinimalSchema,
		System:        relationshipSystem,
		User: relationshipUser + `
- Do NOT include evidence quotes.
- Return ONLY the 8 highest-confidence relationships.`,
		Validators: []Validator{
			RequireNonEmpty("SectionsJSON", func(in Input) string { return in.SectionsJSON }),
			RequireNonEmpty("KnownNodesJSON", func(in Input) string { return in.KnownNodesJSON }),
		},
	})
}
