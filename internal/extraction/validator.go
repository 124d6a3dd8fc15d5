package extraction

import (
	"fmt"
	"sort"
	"strings"

	"github.com/yungbote/papergraph-backend/internal/agents"
	"github.com/yungbote/papergraph-backend/internal/domain"
	"github.com/yungbote/papergraph-backend/internal/platform/logger"
)

// Decision is one entry in an artifact's validation trail.
type Decision struct {
	Rule   string `json:"rule"`
	Action string `json:"action"`
	Detail string `json:"detail,omitempty"`
}

type ValidatedEntity struct {
	agents.ExtractedEntity
	AdjustedConfidence float64    `json:"adjusted_confidence"`
	ReviewStatus       string     `json:"review_status"`
	Decisions          []Decision `json:"decisions,omitempty"`
}

type ValidatedEdge struct {
	agents.ExtractedRelationship
	AdjustedConfidence float64    `json:"adjusted_confidence"`
	ReviewStatus       string     `json:"review_status"`
	Flags              []string   `json:"flags,omitempty"`
	Decisions          []Decision `json:"decisions,omitempty"`
}

type ValidationResult struct {
	Entities []ValidatedEntity
	Edges    []ValidatedEdge
}

// ValidatorConfig tunes the deterministic rules. Zero values take defaults.
type ValidatorConfig struct {
	MaxEntitiesTotal      int
	MaxEntitiesPerSection int
	MaxMetricEntities     int
	MetricFocused         bool
	GenericConcepts       []string
}

const (
	flagDelta           = 0.1
	minEntityConfidence = 0.5
)

// defaultGenericConcepts flags Concept names too broad to be graph nodes.
var defaultGenericConcepts = []string{
	"machine learning", "deep learning", "neural network", "neural networks",
	"artificial intelligence", "model", "models", "method", "methods",
	"approach", "algorithm", "algorithms", "framework", "system", "systems",
	"performance", "accuracy", "results", "data", "dataset", "training",
	"evaluation", "experiment", "experiments", "state of the art",
}

// Validator applies the deterministic entity and edge rules. It never calls
// a model: every decision is reproducible from its inputs.
type Validator struct {
	log             *logger.Logger
	cfg             ValidatorConfig
	genericConcepts map[string]bool
}

func NewValidator(log *logger.Logger, cfg ValidatorConfig) *Validator {
	if cfg.MaxEntitiesTotal <= 0 {
		cfg.MaxEntitiesTotal = 10
	}
	if cfg.MaxEntitiesPerSection <= 0 {
		cfg.MaxEntitiesPerSection = 4
	}
	if cfg.MaxMetricEntities <= 0 {
		cfg.MaxMetricEntities = 2
	}
	generics := cfg.GenericConcepts
	if generics == nil {
		generics = defaultGenericConcepts
	}
	set := make(map[string]bool, len(generics))
	for _, g := range generics {
		set[normalizeName(g)] = true
	}
	if log != nil {
		log = log.With("service", "ExtractionValidator")
	}
	return &Validator{log: log, cfg: cfg, genericConcepts: set}
}

// Validate runs entity rules then edge rules. Sections supply the evidence
// text edges must quote from.
func (v *Validator) Validate(entities []agents.ExtractedEntity, edges []agents.ExtractedRelationship, sections []*domain.Section) ValidationResult {
	validEntities := v.validateEntities(entities)

	entityTypes := make(map[string]string, len(validEntities))
	for _, e := range validEntities {
		if e.ReviewStatus != domain.ReviewRejected {
			entityTypes[normalizeName(e.Name)] = e.Type
		}
	}

	validEdges := v.validateEdges(edges, entityTypes, sections)
	return ValidationResult{Entities: validEntities, Edges: validEdges}
}

func (v *Validator) validateEntities(entities []agents.ExtractedEntity) []ValidatedEntity {
	out := make([]ValidatedEntity, 0, len(entities))

	// Name collisions across types flag Methods and Datasets.
	typesByName := map[string]map[string]bool{}
	for _, e := range entities {
		key := normalizeName(e.Name)
		if typesByName[key] == nil {
			typesByName[key] = map[string]bool{}
		}
		typesByName[key][e.Type] = true
	}

	for _, e := range entities {
		ve := ValidatedEntity{ExtractedEntity: e, AdjustedConfidence: clamp01(e.Confidence), ReviewStatus: domain.ReviewApproved}

		if e.Confidence < minEntityConfidence {
			ve.ReviewStatus = domain.ReviewRejected
			ve.Decisions = append(ve.Decisions, Decision{Rule: "low_confidence", Action: "reject",
				Detail: fmt.Sprintf("confidence %.2f below %.2f", e.Confidence, minEntityConfidence)})
			out = append(out, ve)
			continue
		}

		if e.Type == domain.NodeConcept && v.genericConcepts[normalizeName(e.Name)] {
			ve.ReviewStatus = domain.ReviewFlagged
			ve.AdjustedConfidence = clamp01(ve.AdjustedConfidence - flagDelta)
			ve.Decisions = append(ve.Decisions, Decision{Rule: "generic_concept", Action: "flag"})
		}

		if (e.Type == domain.NodeMethod || e.Type == domain.NodeDataset) && len(typesByName[normalizeName(e.Name)]) > 1 {
			if ve.ReviewStatus == domain.ReviewApproved {
				ve.ReviewStatus = domain.ReviewFlagged
			}
			ve.AdjustedConfidence = clamp01(ve.AdjustedConfidence - flagDelta)
			ve.Decisions = append(ve.Decisions, Decision{Rule: "type_collision", Action: "flag",
				Detail: "name also extracted under another type"})
		}

		out = append(out, ve)
	}

	v.applyEntityCaps(out)
	return out
}

// applyEntityCaps rejects the lowest-confidence overflow beyond the section,
// metric, and total caps.
func (v *Validator) applyEntityCaps(entities []ValidatedEntity) {
	reject := func(i int, rule, detail string) {
		entities[i].ReviewStatus = domain.ReviewRejected
		entities[i].Decisions = append(entities[i].Decisions, Decision{Rule: rule, Action: "reject", Detail: detail})
	}
	live := func() []int {
		idxs := make([]int, 0, len(entities))
		for i := range entities {
			if entities[i].ReviewStatus != domain.ReviewRejected {
				idxs = append(idxs, i)
			}
		}
		sort.SliceStable(idxs, func(a, b int) bool {
			return entities[idxs[a]].AdjustedConfidence > entities[idxs[b]].AdjustedConfidence
		})
		return idxs
	}

	perSection := map[string]int{}
	for _, i := range live() {
		sec := entities[i].SectionType
		perSection[sec]++
		if perSection[sec] > v.cfg.MaxEntitiesPerSection {
			reject(i, "section_cap", fmt.Sprintf("more than %d entities in section %s", v.cfg.MaxEntitiesPerSection, sec))
		}
	}

	if !v.cfg.MetricFocused {
		metrics := 0
		for _, i := range live() {
			if entities[i].Type != domain.NodeMetric {
				continue
			}
			metrics++
			if metrics > v.cfg.MaxMetricEntities {
				reject(i, "metric_cap", fmt.Sprintf("more than %d Metric entities", v.cfg.MaxMetricEntities))
			}
		}
	}

	total := 0
	for _, i := range live() {
		total++
		if total > v.cfg.MaxEntitiesTotal {
			reject(i, "total_cap", fmt.Sprintf("more than %d entities", v.cfg.MaxEntitiesTotal))
		}
	}
}

func (v *Validator) validateEdges(edges []agents.ExtractedRelationship, entityTypes map[string]string, sections []*domain.Section) []ValidatedEdge {
	sectionText := map[string][]string{}
	for _, s := range sections {
		sectionText[s.SectionType] = append(sectionText[s.SectionType], s.Content)
	}

	out := make([]ValidatedEdge, 0, len(edges))
	for _, e := range edges {
		ve := ValidatedEdge{ExtractedRelationship: e, AdjustedConfidence: clamp01(e.Confidence), ReviewStatus: domain.ReviewApproved}

		srcKey, tgtKey := normalizeName(e.Source), normalizeName(e.Target)
		if srcKey == tgtKey {
			ve.ReviewStatus = domain.ReviewRejected
			ve.Decisions = append(ve.Decisions, Decision{Rule: "self_edge", Action: "reject"})
			out = append(out, ve)
			continue
		}

		_, srcOK := entityTypes[srcKey]
		tgtType, tgtOK := entityTypes[tgtKey]
		if !srcOK || !tgtOK {
			ve.ReviewStatus = domain.ReviewRejected
			ve.Decisions = append(ve.Decisions, Decision{Rule: "unknown_endpoint", Action: "reject",
				Detail: fmt.Sprintf("source known=%t target known=%t", srcOK, tgtOK)})
			out = append(out, ve)
			continue
		}

		if !domain.ValidRelationshipType(e.RelationshipType) {
			ve.ReviewStatus = domain.ReviewRejected
			ve.Decisions = append(ve.Decisions, Decision{Rule: "unknown_relationship_type", Action: "reject", Detail: e.RelationshipType})
			out = append(out, ve)
			continue
		}

		if e.RelationshipType == domain.RelImprovesOn && (tgtType == domain.NodeDataset || tgtType == domain.NodeMetric) {
			ve.ReviewStatus = domain.ReviewRejected
			ve.Decisions = append(ve.Decisions, Decision{Rule: "improves_on_target", Action: "reject",
				Detail: "improves_on may not target " + tgtType})
			out = append(out, ve)
			continue
		}

		if len(ve.Evidence) > domain.MaxEvidenceChars {
			ve.Evidence = ve.Evidence[:domain.MaxEvidenceChars]
			ve.Decisions = append(ve.Decisions, Decision{Rule: "evidence_truncated", Action: "truncate"})
		}

		// Evidence that cannot be located verbatim is flagged, not rejected:
		// compact and minimal extraction modes legitimately omit it.
		if ve.Evidence != "" && !evidenceInSections(ve.Evidence, sectionText[ve.SectionType], sections) {
			ve.Flags = append(ve.Flags, "evidence_unverified")
			if ve.ReviewStatus == domain.ReviewApproved {
				ve.ReviewStatus = domain.ReviewFlagged
			}
			ve.AdjustedConfidence = clamp01(ve.AdjustedConfidence - flagDelta)
			ve.Decisions = append(ve.Decisions, Decision{Rule: "evidence_unverified", Action: "flag"})
		}

		out = append(out, ve)
	}

	dedupeEdges(out)
	return out
}

// dedupeEdges keeps the highest-confidence survivor per (source, target,
// type); ties keep the earliest extracted.
func dedupeEdges(edges []ValidatedEdge) {
	best := map[string]int{}
	for i := range edges {
		if edges[i].ReviewStatus == domain.ReviewRejected {
			continue
		}
		key := normalizeName(edges[i].Source) + "|" + normalizeName(edges[i].Target) + "|" + edges[i].RelationshipType
		j, seen := best[key]
		if !seen {
			best[key] = i
			continue
		}
		drop := i
		if edges[i].AdjustedConfidence > edges[j].AdjustedConfidence {
			drop = j
			best[key] = i
		}
		edges[drop].ReviewStatus = domain.ReviewRejected
		edges[drop].Decisions = append(edges[drop].Decisions, Decision{Rule: "duplicate_edge", Action: "reject"})
	}
}

// evidenceInSections checks the section the edge cites first, then every
// section of the paper.
func evidenceInSections(evidence string, cited []string, all []*domain.Section) bool {
	needle := strings.TrimSpace(evidence)
	if needle == "" {
		return true
	}
	for _, content := range cited {
		if strings.Contains(content, needle) {
			return true
		}
	}
	for _, s := range all {
		if strings.Contains(s.Content, needle) {
			return true
		}
	}
	return false
}

func normalizeName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
