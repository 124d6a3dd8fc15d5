package extraction

import (
	"strings"
	"testing"

	"github.com/yungbote/papergraph-backend/internal/agents"
	"github.com/yungbote/papergraph-backend/internal/domain"
	"github.com/yungbote/papergraph-backend/internal/platform/logger"
)

func testValidator(t *testing.T, cfg ValidatorConfig) *Validator {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return NewValidator(log, cfg)
}

func entity(name, typ, sectionType string, conf float64) agents.ExtractedEntity {
	return agents.ExtractedEntity{Name: name, Type: typ, SectionType: sectionType, Confidence: conf}
}

func rel(src, tgt, typ string, conf float64) agents.ExtractedRelationship {
	return agents.ExtractedRelationship{Source: src, Target: tgt, RelationshipType: typ, Confidence: conf}
}

func hasDecision(decisions []Decision, rule string) bool {
	for _, d := range decisions {
		if d.Rule == rule {
			return true
		}
	}
	return false
}

func TestLowConfidenceEntityRejected(t *testing.T) {
	v := testValidator(t, ValidatorConfig{})
	res := v.Validate([]agents.ExtractedEntity{
		entity("3D Gaussian Splatting", domain.NodeMethod, domain.SectionAbstract, 0.49),
		entity("NeRF", domain.NodeMethod, domain.SectionAbstract, 0.5),
	}, nil, nil)

	if res.Entities[0].ReviewStatus != domain.ReviewRejected {
		t.Fatalf("0.49 should reject, got %s", res.Entities[0].ReviewStatus)
	}
	if !hasDecision(res.Entities[0].Decisions, "low_confidence") {
		t.Fatalf("missing low_confidence decision: %+v", res.Entities[0].Decisions)
	}
	if res.Entities[1].ReviewStatus != domain.ReviewApproved {
		t.Fatalf("0.5 should pass, got %s", res.Entities[1].ReviewStatus)
	}
}

func TestGenericConceptFlagged(t *testing.T) {
	v := testValidator(t, ValidatorConfig{})
	res := v.Validate([]agents.ExtractedEntity{
		entity("Deep  Learning", domain.NodeConcept, domain.SectionAbstract, 0.9),
		entity("novel view synthesis", domain.NodeConcept, domain.SectionAbstract, 0.9),
	}, nil, nil)

	generic := res.Entities[0]
	if generic.ReviewStatus != domain.ReviewFlagged {
		t.Fatalf("generic concept should flag, got %s", generic.ReviewStatus)
	}
	if generic.AdjustedConfidence != 0.8 {
		t.Fatalf("flag should subtract 0.1, got %f", generic.AdjustedConfidence)
	}
	if res.Entities[1].ReviewStatus != domain.ReviewApproved {
		t.Fatalf("specific concept should stay approved, got %s", res.Entities[1].ReviewStatus)
	}
}

func TestTypeCollisionFlagsMethodAndDataset(t *testing.T) {
	v := testValidator(t, ValidatorConfig{})
	res := v.Validate([]agents.ExtractedEntity{
		entity("ScanNet", domain.NodeMethod, domain.SectionAbstract, 0.9),
		entity("ScanNet", domain.NodeDataset, domain.SectionMethods, 0.9),
	}, nil, nil)

	for _, e := range res.Entities {
		if e.ReviewStatus != domain.ReviewFlagged {
			t.Fatalf("%s/%s should flag on collision, got %s", e.Name, e.Type, e.ReviewStatus)
		}
		if !hasDecision(e.Decisions, "type_collision") {
			t.Fatalf("missing type_collision decision: %+v", e.Decisions)
		}
	}
}

func TestSectionAndTotalCaps(t *testing.T) {
	v := testValidator(t, ValidatorConfig{MaxEntitiesPerSection: 2, MaxEntitiesTotal: 3})
	res := v.Validate([]agents.ExtractedEntity{
		entity("alpha", domain.NodeMethod, domain.SectionAbstract, 0.9),
		entity("beta", domain.NodeMethod, domain.SectionAbstract, 0.8),
		entity("gamma", domain.NodeMethod, domain.SectionAbstract, 0.7),
		entity("delta", domain.NodeMethod, domain.SectionMethods, 0.95),
		entity("epsilon", domain.NodeMethod, domain.SectionMethods, 0.6),
	}, nil, nil)

	byName := map[string]ValidatedEntity{}
	for _, e := range res.Entities {
		byName[e.Name] = e
	}
	// gamma is the abstract's third-highest and overflows the section cap.
	if byName["gamma"].ReviewStatus != domain.ReviewRejected || !hasDecision(byName["gamma"].Decisions, "section_cap") {
		t.Fatalf("gamma should hit section_cap: %+v", byName["gamma"])
	}
	// epsilon is the fourth survivor overall and overflows the total cap.
	if byName["epsilon"].ReviewStatus != domain.ReviewRejected || !hasDecision(byName["epsilon"].Decisions, "total_cap") {
		t.Fatalf("epsilon should hit total_cap: %+v", byName["epsilon"])
	}
	for _, name := range []string{"alpha", "beta", "delta"} {
		if byName[name].ReviewStatus != domain.ReviewApproved {
			t.Fatalf("%s should survive, got %s", name, byName[name].ReviewStatus)
		}
	}
}

func TestMetricCap(t *testing.T) {
	v := testValidator(t, ValidatorConfig{})
	res := v.Validate([]agents.ExtractedEntity{
		entity("PSNR", domain.NodeMetric, domain.SectionResults, 0.95),
		entity("SSIM", domain.NodeMetric, domain.SectionResults, 0.9),
		entity("LPIPS", domain.NodeMetric, domain.SectionResults, 0.85),
	}, nil, nil)

	rejected := 0
	for _, e := range res.Entities {
		if e.ReviewStatus == domain.ReviewRejected {
			rejected++
			if e.Name != "LPIPS" || !hasDecision(e.Decisions, "metric_cap") {
				t.Fatalf("lowest metric should hit metric_cap: %+v", e)
			}
		}
	}
	if rejected != 1 {
		t.Fatalf("expected 1 metric rejection, got %d", rejected)
	}
}

func TestMetricFocusedDisablesMetricCap(t *testing.T) {
	v := testValidator(t, ValidatorConfig{MetricFocused: true})
	res := v.Validate([]agents.ExtractedEntity{
		entity("PSNR", domain.NodeMetric, domain.SectionResults, 0.95),
		entity("SSIM", domain.NodeMetric, domain.SectionResults, 0.9),
		entity("LPIPS", domain.NodeMetric, domain.SectionResults, 0.85),
	}, nil, nil)

	for _, e := range res.Entities {
		if e.ReviewStatus == domain.ReviewRejected {
			t.Fatalf("metric cap should be off: %+v", e)
		}
	}
}

func TestSelfEdgeRejected(t *testing.T) {
	v := testValidator(t, ValidatorConfig{})
	res := v.Validate(
		[]agents.ExtractedEntity{entity("NeRF", domain.NodeMethod, domain.SectionAbstract, 0.9)},
		[]agents.ExtractedRelationship{rel("NeRF", "nerf", domain.RelExtends, 0.9)},
		nil,
	)
	if res.Edges[0].ReviewStatus != domain.ReviewRejected || !hasDecision(res.Edges[0].Decisions, "self_edge") {
		t.Fatalf("self edge should reject: %+v", res.Edges[0])
	}
}

func TestUnknownEndpointRejected(t *testing.T) {
	v := testValidator(t, ValidatorConfig{})
	res := v.Validate(
		[]agents.ExtractedEntity{entity("NeRF", domain.NodeMethod, domain.SectionAbstract, 0.9)},
		[]agents.ExtractedRelationship{rel("NeRF", "Plenoxels", domain.RelExtends, 0.9)},
		nil,
	)
	if res.Edges[0].ReviewStatus != domain.ReviewRejected || !hasDecision(res.Edges[0].Decisions, "unknown_endpoint") {
		t.Fatalf("unknown target should reject: %+v", res.Edges[0])
	}
}

func TestRejectedEntityIsNotAnEndpoint(t *testing.T) {
	v := testValidator(t, ValidatorConfig{})
	res := v.Validate(
		[]agents.ExtractedEntity{
			entity("NeRF", domain.NodeMethod, domain.SectionAbstract, 0.9),
			entity("Plenoxels", domain.NodeMethod, domain.SectionAbstract, 0.3),
		},
		[]agents.ExtractedRelationship{rel("NeRF", "Plenoxels", domain.RelExtends, 0.9)},
		nil,
	)
	if res.Edges[0].ReviewStatus != domain.ReviewRejected || !hasDecision(res.Edges[0].Decisions, "unknown_endpoint") {
		t.Fatalf("edge to rejected entity should reject: %+v", res.Edges[0])
	}
}

func TestUnknownRelationshipTypeRejected(t *testing.T) {
	v := testValidator(t, ValidatorConfig{})
	res := v.Validate(
		[]agents.ExtractedEntity{
			entity("NeRF", domain.NodeMethod, domain.SectionAbstract, 0.9),
			entity("Plenoxels", domain.NodeMethod, domain.SectionAbstract, 0.9),
		},
		[]agents.ExtractedRelationship{rel("NeRF", "Plenoxels", "inspired_by", 0.9)},
		nil,
	)
	if res.Edges[0].ReviewStatus != domain.ReviewRejected || !hasDecision(res.Edges[0].Decisions, "unknown_relationship_type") {
		t.Fatalf("unknown relationship type should reject: %+v", res.Edges[0])
	}
}

func TestImprovesOnMayNotTargetDatasetOrMetric(t *testing.T) {
	v := testValidator(t, ValidatorConfig{})
	res := v.Validate(
		[]agents.ExtractedEntity{
			entity("NeRF", domain.NodeMethod, domain.SectionAbstract, 0.9),
			entity("ScanNet", domain.NodeDataset, domain.SectionAbstract, 0.9),
			entity("PSNR", domain.NodeMetric, domain.SectionResults, 0.9),
		},
		[]agents.ExtractedRelationship{
			rel("NeRF", "ScanNet", domain.RelImprovesOn, 0.9),
			rel("NeRF", "PSNR", domain.RelImprovesOn, 0.9),
		},
		nil,
	)
	for _, e := range res.Edges {
		if e.ReviewStatus != domain.ReviewRejected || !hasDecision(e.Decisions, "improves_on_target") {
			t.Fatalf("improves_on into %s should reject: %+v", e.Target, e)
		}
	}
}

func TestEvidenceTruncatedAtLimit(t *testing.T) {
	v := testValidator(t, ValidatorConfig{})
	long := strings.Repeat("x", domain.MaxEvidenceChars+50)
	sections := []*domain.Section{{SectionType: domain.SectionMethods, Content: long}}

	edges := []agents.ExtractedRelationship{rel("NeRF", "Plenoxels", domain.RelExtends, 0.9)}
	edges[0].Evidence = long
	edges[0].SectionType = domain.SectionMethods

	res := v.Validate(
		[]agents.ExtractedEntity{
			entity("NeRF", domain.NodeMethod, domain.SectionAbstract, 0.9),
			entity("Plenoxels", domain.NodeMethod, domain.SectionAbstract, 0.9),
		},
		edges, sections,
	)
	e := res.Edges[0]
	if len(e.Evidence) != domain.MaxEvidenceChars {
		t.Fatalf("evidence length = %d, want %d", len(e.Evidence), domain.MaxEvidenceChars)
	}
	if !hasDecision(e.Decisions, "evidence_truncated") {
		t.Fatalf("missing evidence_truncated decision: %+v", e.Decisions)
	}
	if e.ReviewStatus != domain.ReviewApproved {
		t.Fatalf("truncation alone should not flag, got %s", e.ReviewStatus)
	}
}

func TestUnverifiedEvidenceFlagsNotRejects(t *testing.T) {
	v := testValidator(t, ValidatorConfig{})
	sections := []*domain.Section{{SectionType: domain.SectionMethods, Content: "we build on radiance fields"}}

	edges := []agents.ExtractedRelationship{rel("NeRF", "Plenoxels", domain.RelExtends, 0.9)}
	edges[0].Evidence = "this quote appears nowhere"
	edges[0].SectionType = domain.SectionMethods

	res := v.Validate(
		[]agents.ExtractedEntity{
			entity("NeRF", domain.NodeMethod, domain.SectionAbstract, 0.9),
			entity("Plenoxels", domain.NodeMethod, domain.SectionAbstract, 0.9),
		},
		edges, sections,
	)
	e := res.Edges[0]
	if e.ReviewStatus != domain.ReviewFlagged {
		t.Fatalf("unverified evidence should flag, got %s", e.ReviewStatus)
	}
	if e.AdjustedConfidence != 0.8 {
		t.Fatalf("flag should subtract 0.1, got %f", e.AdjustedConfidence)
	}
	if len(e.Flags) != 1 || e.Flags[0] != "evidence_unverified" {
		t.Fatalf("flags = %v", e.Flags)
	}
}

func TestEvidenceFoundInOtherSectionPasses(t *testing.T) {
	v := testValidator(t, ValidatorConfig{})
	sections := []*domain.Section{
		{SectionType: domain.SectionMethods, Content: "unrelated text"},
		{SectionType: domain.SectionResults, Content: "our approach extends prior radiance field work"},
	}

	edges := []agents.ExtractedRelationship{rel("NeRF", "Plenoxels", domain.RelExtends, 0.9)}
	edges[0].Evidence = "extends prior radiance field work"
	edges[0].SectionType = domain.SectionMethods

	res := v.Validate(
		[]agents.ExtractedEntity{
			entity("NeRF", domain.NodeMethod, domain.SectionAbstract, 0.9),
			entity("Plenoxels", domain.NodeMethod, domain.SectionAbstract, 0.9),
		},
		edges, sections,
	)
	if res.Edges[0].ReviewStatus != domain.ReviewApproved {
		t.Fatalf("evidence in another section should pass: %+v", res.Edges[0])
	}
}

func TestDuplicateEdgesKeepHighestConfidence(t *testing.T) {
	v := testValidator(t, ValidatorConfig{})
	res := v.Validate(
		[]agents.ExtractedEntity{
			entity("NeRF", domain.NodeMethod, domain.SectionAbstract, 0.9),
			entity("Plenoxels", domain.NodeMethod, domain.SectionAbstract, 0.9),
		},
		[]agents.ExtractedRelationship{
			rel("NeRF", "Plenoxels", domain.RelExtends, 0.7),
			rel("nerf", "plenoxels", domain.RelExtends, 0.9),
			rel("NeRF", "Plenoxels", domain.RelUses, 0.8),
		},
		nil,
	)
	if res.Edges[0].ReviewStatus != domain.ReviewRejected || !hasDecision(res.Edges[0].Decisions, "duplicate_edge") {
		t.Fatalf("lower-confidence duplicate should reject: %+v", res.Edges[0])
	}
	if res.Edges[1].ReviewStatus != domain.ReviewApproved {
		t.Fatalf("higher-confidence duplicate should survive: %+v", res.Edges[1])
	}
	if res.Edges[2].ReviewStatus != domain.ReviewApproved {
		t.Fatalf("different relationship type is not a duplicate: %+v", res.Edges[2])
	}
}
