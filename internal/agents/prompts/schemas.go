package prompts

func objectSchema(properties map[string]any, required []string) map[string]any {
	return map[string]any{
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": false,
	}
}

func arraySchema(items map[string]any) map[string]any {
	return map[string]any{"type": "array", "items": items}
}

func stringSchema() map[string]any {
	return map[string]any{"type": "string"}
}

func stringArraySchema() map[string]any {
	return arraySchema(stringSchema())
}

func numberSchema() map[string]any {
	return map[string]any{"type": "number"}
}

func intSchema() map[string]any {
	return map[string]any{"type": "integer"}
}

func enumSchema(values ...string) map[string]any {
	arr := make([]any, 0, len(values))
	for _, v := range values {
		arr = append(arr, v)
	}
	return map[string]any{"type": "string", "enum": arr}
}

func sectionTypeSchema() map[string]any {
	return enumSchema("abstract", "methods", "results", "related_work", "conclusion", "other")
}

func entityTypeSchema() map[string]any {
	return enumSchema("Concept", "Method", "Dataset", "Metric", "Paper")
}

func relationshipTypeSchema() map[string]any {
	return enumSchema("introduces", "uses", "evaluates", "improves_on", "extends", "compares_to")
}

func SectionExtractSchema() map[string]any {
	return objectSchema(map[string]any{
		"sections": arraySchema(objectSchema(map[string]any{
			"section_type": sectionTypeSchema(),
			"part_index":   intSchema(),
			"content":      stringSchema(),
		}, []string{"section_type", "part_index", "content"})),
	}, []string{"sections"})
}

func EntityExtractSchema() map[string]any {
	return objectSchema(map[string]any{
		"entities": arraySchema(objectSchema(map[string]any{
			"name":         stringSchema(),
			"type":         entityTypeSchema(),
			"definition":   stringSchema(),
			"evidence":     stringSchema(),
			"aliases":      stringArraySchema(),
			"confidence":   numberSchema(),
			"section_type": sectionTypeSchema(),
			"char_start":   intSchema(),
			"char_end":     intSchema(),
		}, []string{"name", "type", "definition", "evidence", "aliases", "confidence", "section_type", "char_start", "char_end"})),
	}, []string{"entities"})
}

func relationshipItemSchema(withEvidence bool) map[string]any {
	props := map[string]any{
		"source":            stringSchema(),
		"target":            stringSchema(),
		"relationship_type": relationshipTypeSchema(),
		"confidence":        numberSchema(),
		"section_type":      sectionTypeSchema(),
		"char_start":        intSchema(),
		"char_end":          intSchema(),
	}
	required := []string{"source", "target", "relationship_type", "confidence", "section_type", "char_start", "char_end"}
	if withEvidence {
		props["evidence"] = stringSchema()
		required = append(required, "evidence")
	}
	return objectSchema(props, required)
}

func RelationshipExtractSchema() map[string]any {
	return objectSchema(map[string]any{
		"relationships": arraySchema(relationshipItemSchema(true)),
	}, []string{"relationships"})
}

// RelationshipExtractCompactSchema drops evidence to shrink the payload.
func RelationshipExtractCompactSchema() map[string]any {
	return objectSchema(map[string]any{
		"relationships": arraySchema(relationshipItemSchema(false)),
	}, []string{"relationships"})
}

// RelationshipExtractMinimalSchema additionally caps the list.
func RelationshipExtractMinimalSchema() map[string]any {
	items := arraySchema(relationshipItemSchema(false))
	items["maxItems"] = 8
	return objectSchema(map[string]any{
		"relationships": items,
	}, []string{"relationships"})
}
