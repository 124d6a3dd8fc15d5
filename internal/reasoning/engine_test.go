package reasoning

import (
	"math"
	"testing"

	"github.com/yungbote/papergraph-backend/internal/domain"
)

func graphNode(id int64, typ, name string) *domain.Node {
	return &domain.Node{ID: id, Type: typ, CanonicalName: name, CanonicalKey: name}
}

func edge(id, src, tgt int64, rel string, conf float64, paperID string) *domain.Edge {
	return &domain.Edge{
		ID: id, SourceNodeID: src, TargetNodeID: tgt,
		RelationshipType: rel, Confidence: conf, PaperID: paperID,
	}
}

func nodeMap(nodes ...*domain.Node) map[int64]*domain.Node {
	out := map[int64]*domain.Node{}
	for _, n := range nodes {
		out[n.ID] = n
	}
	return out
}

func TestTransitiveTwoHopConfidence(t *testing.T) {
	nodes := nodeMap(
		graphNode(1, domain.NodeMethod, "a"),
		graphNode(2, domain.NodeMethod, "b"),
		graphNode(3, domain.NodeMethod, "c"),
	)
	edges := []*domain.Edge{
		edge(10, 1, 2, domain.RelImprovesOn, 0.9, "p1"),
		edge(11, 2, 3, domain.RelImprovesOn, 0.7, "p2"),
	}
	out := transitiveRule(edges, nodes)
	if len(out) != 1 {
		t.Fatalf("expected 1 chain, got %d", len(out))
	}
	want := 0.7 * 0.9
	if math.Abs(out[0].confidence-want) > 1e-9 {
		t.Fatalf("confidence = %f, want %f", out[0].confidence, want)
	}
	if len(out[0].subjects) != 3 {
		t.Fatalf("subjects = %v", out[0].subjects)
	}
}

func TestTransitiveSkipsLowConfidenceHops(t *testing.T) {
	nodes := nodeMap(
		graphNode(1, domain.NodeMethod, "a"),
		graphNode(2, domain.NodeMethod, "b"),
		graphNode(3, domain.NodeMethod, "c"),
	)
	edges := []*domain.Edge{
		edge(10, 1, 2, domain.RelImprovesOn, 0.9, "p1"),
		edge(11, 2, 3, domain.RelImprovesOn, 0.5, "p2"), // at/below floor
	}
	if out := transitiveRule(edges, nodes); len(out) != 0 {
		t.Fatalf("expected no chains, got %d", len(out))
	}
}

func TestTransitiveThreeHopFactorAndCycleGuard(t *testing.T) {
	nodes := nodeMap(
		graphNode(1, domain.NodeMethod, "a"),
		graphNode(2, domain.NodeMethod, "b"),
		graphNode(3, domain.NodeMethod, "c"),
		graphNode(4, domain.NodeMethod, "d"),
	)
	edges := []*domain.Edge{
		edge(10, 1, 2, domain.RelExtends, 0.8, "p1"),
		edge(11, 2, 3, domain.RelExtends, 0.9, "p2"),
		edge(12, 3, 4, domain.RelExtends, 0.7, "p3"),
		edge(13, 3, 1, domain.RelExtends, 0.9, "p4"), // would close a cycle
	}
	out := transitiveRule(edges, nodes)
	var threeHop *candidate
	for i := range out {
		c := out[i]
		if len(c.path.EvidenceEdgeIDs) == 3 {
			threeHop = &c
		}
		for _, s := range c.subjects {
			seen := 0
			for _, s2 := range c.subjects {
				if s == s2 {
					seen++
				}
			}
			if seen > 1 {
				t.Fatalf("cycle leaked into subjects: %v", c.subjects)
			}
		}
	}
	if threeHop == nil {
		t.Fatal("expected a 3-hop chain")
	}
	want := 0.7 * 0.8
	if math.Abs(threeHop.confidence-want) > 1e-9 {
		t.Fatalf("3-hop confidence = %f, want %f", threeHop.confidence, want)
	}
}

func TestClusterRuleRequiresThreeSharingPapers(t *testing.T) {
	nodes := nodeMap(
		graphNode(1, domain.NodeConcept, "radiance fields"),
		graphNode(2, domain.NodeConcept, "volume rendering"),
		graphNode(3, domain.NodeMethod, "m"),
	)
	var edges []*domain.Edge
	papers := []string{"p1", "p2", "p3"}
	id := int64(100)
	for _, p := range papers {
		edges = append(edges,
			edge(id, 3, 1, domain.RelUses, 0.8, p),
			edge(id+1, 3, 2, domain.RelUses, 0.8, p),
		)
		id += 2
	}
	out := clusterRule(edges, nodes)
	if len(out) != 1 {
		t.Fatalf("expected 1 cluster, got %d", len(out))
	}
	c := out[0]
	// 3 sharing / 3 total · 0.8 avg = 0.8, small corpus factor 0.8 applies.
	want := 0.8 * smallCorpusFactor
	if math.Abs(c.confidence-want) > 1e-9 {
		t.Fatalf("confidence = %f, want %f", c.confidence, want)
	}
}

func TestClusterRuleBelowThresholdEmitsNothing(t *testing.T) {
	nodes := nodeMap(
		graphNode(1, domain.NodeConcept, "a"),
		graphNode(2, domain.NodeConcept, "b"),
		graphNode(3, domain.NodeMethod, "m"),
	)
	edges := []*domain.Edge{
		edge(100, 3, 1, domain.RelUses, 0.8, "p1"),
		edge(101, 3, 2, domain.RelUses, 0.8, "p1"),
		edge(102, 3, 1, domain.RelUses, 0.8, "p2"),
		edge(103, 3, 2, domain.RelUses, 0.8, "p2"),
	}
	if out := clusterRule(edges, nodes); len(out) != 0 {
		t.Fatalf("2 sharing papers must not cluster, got %d", len(out))
	}
}

func TestAnomalyUnevaluatedImprovement(t *testing.T) {
	nodes := nodeMap(
		graphNode(1, domain.NodeMethod, "new method"),
		graphNode(2, domain.NodeMethod, "old method"),
		graphNode(3, domain.NodeDataset, "kitti"),
		graphNode(4, domain.NodeMethod, "other"),
	)
	edges := []*domain.Edge{
		// p1 improves without evaluating on any dataset.
		edge(10, 1, 2, domain.RelImprovesOn, 0.9, "p1"),
		// p2 and p3 define the norm.
		edge(11, 4, 2, domain.RelImprovesOn, 0.9, "p2"),
		edge(12, 4, 3, domain.RelEvaluates, 0.9, "p2"),
		edge(13, 2, 3, domain.RelEvaluates, 0.9, "p3"),
	}
	out := anomalyRules(edges, nodes)
	found := false
	for _, c := range out {
		if c.path.Rule == "unevaluated_improvement" && c.confidence == 0.7 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected unevaluated_improvement at 0.7, got %+v", out)
	}
}

func TestAnomalyConfidenceClampedToEdge(t *testing.T) {
	nodes := nodeMap(
		graphNode(1, domain.NodeMethod, "a"),
		graphNode(2, domain.NodeMethod, "b"),
		graphNode(3, domain.NodeMethod, "c"),
		graphNode(4, domain.NodeDataset, "d"),
	)
	edges := []*domain.Edge{
		edge(10, 1, 2, domain.RelImprovesOn, 0.65, "p1"),
		edge(11, 3, 2, domain.RelEvaluates, 0.9, "p2"),
		edge(12, 3, 4, domain.RelEvaluates, 0.9, "p3"),
	}
	out := anomalyRules(edges, nodes)
	for _, c := range out {
		if c.path.Rule == "unevaluated_improvement" && c.confidence > 0.65 {
			t.Fatalf("confidence %f exceeds cited edge confidence", c.confidence)
		}
	}
}

func TestIsolatedMethodAnomaly(t *testing.T) {
	nodes := nodeMap(
		graphNode(1, domain.NodeMethod, "dangling method"),
		graphNode(2, domain.NodeConcept, "dangling concept"),
		graphNode(3, domain.NodeMethod, "wired"),
		graphNode(4, domain.NodeMethod, "other"),
	)
	edges := []*domain.Edge{
		edge(10, 3, 4, domain.RelExtends, 0.9, "p1"),
	}
	out := isolatedMethods(edges, nodes)
	if len(out) != 1 {
		t.Fatalf("expected exactly the dangling method, got %d", len(out))
	}
	if out[0].subjects[0] != 1 || out[0].confidence != 0.5 {
		t.Fatalf("unexpected candidate %+v", out[0])
	}
}

func TestDedupeAndCap(t *testing.T) {
	var cands []candidate
	// Same subjects and type twice with different confidence.
	cands = append(cands,
		candidate{insightType: domain.InsightAnomaly, subjects: []int64{1, 2}, confidence: 0.5},
		candidate{insightType: domain.InsightAnomaly, subjects: []int64{2, 1}, confidence: 0.7},
		// Same subjects, different type: both survive.
		candidate{insightType: domain.InsightTransitive, subjects: []int64{1, 2}, confidence: 0.6},
	)
	out := dedupeAndCap(cands)
	if len(out) != 2 {
		t.Fatalf("expected 2 after dedup, got %d", len(out))
	}
	if out[0].confidence != 0.7 {
		t.Fatalf("highest-confidence duplicate should win, got %f", out[0].confidence)
	}

	cands = cands[:0]
	for i := 0; i < 15; i++ {
		cands = append(cands, candidate{
			insightType: domain.InsightAnomaly,
			subjects:    []int64{int64(i)},
			confidence:  float64(i) / 20,
		})
	}
	out = dedupeAndCap(cands)
	if len(out) != maxInsightsPerRun {
		t.Fatalf("cap not applied: %d", len(out))
	}
	if out[0].confidence < out[len(out)-1].confidence {
		t.Fatal("expected descending confidence order")
	}
}
