package reasoning

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/yungbote/papergraph-backend/internal/data/repos"
	"github.com/yungbote/papergraph-backend/internal/domain"
	"github.com/yungbote/papergraph-backend/internal/pkg/dbctx"
	"github.com/yungbote/papergraph-backend/internal/platform/logger"
)

const (
	minEdgeConfidence = 0.6
	twoHopFactor      = 0.9
	threeHopFactor    = 0.8

	clusterMinPapers  = 3
	clusterCap        = 0.85
	smallCorpusFactor = 0.8
	smallCorpusSize   = 10

	anomalyNormMinPapers = 3
	maxInsightsPerRun    = 10
)

// ReasoningPath is the persisted explanation of an insight: the rule that
// fired and the edges it cites.
type ReasoningPath struct {
	Claim           string  `json:"claim"`
	EvidenceEdgeIDs []int64 `json:"evidence_edge_ids,omitempty"`
	Rule            string  `json:"rule"`
}

type candidate struct {
	insightType string
	subjects    []int64
	claim       string
	path        ReasoningPath
	confidence  float64
}

// Engine derives transitive, cluster, and anomaly insights from the induced
// subgraph around recently ingested papers. Rules read the persisted graph
// only; no text and no model calls.
type Engine struct {
	log      *logger.Logger
	graph    repos.GraphRepo
	insights repos.InsightRepo
}

func NewEngine(log *logger.Logger, graph repos.GraphRepo, insights repos.InsightRepo) (*Engine, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if graph == nil || insights == nil {
		return nil, fmt.Errorf("graph and insight repos required")
	}
	return &Engine{
		log:      log.With("service", "ReasoningEngine"),
		graph:    graph,
		insights: insights,
	}, nil
}

// RunBatch induces the depth-2 subgraph around the seed nodes, applies every
// rule, and persists the surviving insights. Returns how many were inserted.
func (e *Engine) RunBatch(dbc dbctx.Context, seedNodeIDs []int64) (int, error) {
	if len(seedNodeIDs) == 0 {
		return 0, nil
	}

	sub, err := e.graph.GetSubgraph(dbc, seedNodeIDs, 2)
	if err != nil {
		return 0, err
	}
	if len(sub.Nodes) == 0 {
		return 0, nil
	}

	nodesByID := make(map[int64]*domain.Node, len(sub.Nodes))
	for _, n := range sub.Nodes {
		nodesByID[n.ID] = n
	}

	var candidates []candidate
	candidates = append(candidates, transitiveRule(sub.Edges, nodesByID)...)
	candidates = append(candidates, clusterRule(sub.Edges, nodesByID)...)
	candidates = append(candidates, anomalyRules(sub.Edges, nodesByID)...)

	selected := dedupeAndCap(candidates)
	if len(selected) == 0 {
		return 0, nil
	}

	rows := make([]*domain.InferredInsight, 0, len(selected))
	for _, c := range selected {
		subjects := append([]int64(nil), c.subjects...)
		sort.Slice(subjects, func(i, j int) bool { return subjects[i] < subjects[j] })
		subjRaw, err := json.Marshal(subjects)
		if err != nil {
			return 0, err
		}
		pathRaw, err := json.Marshal(c.path)
		if err != nil {
			return 0, err
		}
		rows = append(rows, &domain.InferredInsight{
			InsightType:    c.insightType,
			SubjectNodeIDs: subjRaw,
			SubjectKey:     domain.SubjectKeyFor(subjects),
			Claim:          c.claim,
			ReasoningPath:  pathRaw,
			Confidence:     c.confidence,
		})
	}

	inserted, err := e.insights.Insert(dbc, rows)
	if err != nil {
		return 0, err
	}
	e.log.Info("reasoning batch complete",
		"seeds", len(seedNodeIDs),
		"subgraph_nodes", len(sub.Nodes),
		"subgraph_edges", len(sub.Edges),
		"candidates", len(candidates),
		"inserted", inserted,
	)
	return inserted, nil
}

// dedupeAndCap keeps the highest-confidence insight per (type, subject set)
// and caps the run at 10 insights.
func dedupeAndCap(candidates []candidate) []candidate {
	best := map[string]candidate{}
	for _, c := range candidates {
		key := c.insightType + "|" + domain.SubjectKeyFor(c.subjects)
		if prev, ok := best[key]; !ok || c.confidence > prev.confidence {
			best[key] = c
		}
	}
	out := make([]candidate, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].confidence != out[j].confidence {
			return out[i].confidence > out[j].confidence
		}
		return domain.SubjectKeyFor(out[i].subjects) < domain.SubjectKeyFor(out[j].subjects)
	})
	if len(out) > maxInsightsPerRun {
		out = out[:maxInsightsPerRun]
	}
	return out
}

// -------------------- transitive rule --------------------

// transitiveRule finds chains A -> B -> C (and A -> B -> C -> D) over
// improves_on and extends edges where every hop exceeds the confidence
// floor. Chain confidence is the minimum hop confidence scaled by hop count.
func transitiveRule(edges []*domain.Edge, nodes map[int64]*domain.Node) []candidate {
	adj := map[int64][]*domain.Edge{}
	for _, e := range edges {
		if e.RelationshipType != domain.RelImprovesOn && e.RelationshipType != domain.RelExtends {
			continue
		}
		if e.Confidence <= minEdgeConfidence {
			continue
		}
		adj[e.SourceNodeID] = append(adj[e.SourceNodeID], e)
	}

	var out []candidate
	emit := func(chain []*domain.Edge) {
		subjects := []int64{chain[0].SourceNodeID}
		edgeIDs := make([]int64, 0, len(chain))
		minConf := chain[0].Confidence
		for _, e := range chain {
			subjects = append(subjects, e.TargetNodeID)
			edgeIDs = append(edgeIDs, e.ID)
			if e.Confidence < minConf {
				minConf = e.Confidence
			}
		}
		factor := twoHopFactor
		if len(chain) == 3 {
			factor = threeHopFactor
		}
		claim := chainClaim(chain, nodes)
		out = append(out, candidate{
			insightType: domain.InsightTransitive,
			subjects:    subjects,
			claim:       claim,
			path:        ReasoningPath{Claim: claim, EvidenceEdgeIDs: edgeIDs, Rule: "transitive_chain"},
			confidence:  minConf * factor,
		})
	}

	for _, first := range sortedEdges(adj) {
		for _, second := range adj[first.TargetNodeID] {
			if hasCycle(first.SourceNodeID, first.TargetNodeID, second.TargetNodeID) {
				continue
			}
			emit([]*domain.Edge{first, second})
			for _, third := range adj[second.TargetNodeID] {
				if hasCycle(first.SourceNodeID, first.TargetNodeID, second.TargetNodeID, third.TargetNodeID) {
					continue
				}
				emit([]*domain.Edge{first, second, third})
			}
		}
	}
	return out
}

func sortedEdges(adj map[int64][]*domain.Edge) []*domain.Edge {
	var out []*domain.Edge
	for _, es := range adj {
		out = append(out, es...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func hasCycle(ids ...int64) bool {
	seen := map[int64]bool{}
	for _, id := range ids {
		if seen[id] {
			return true
		}
		seen[id] = true
	}
	return false
}

func chainClaim(chain []*domain.Edge, nodes map[int64]*domain.Node) string {
	parts := []string{nodeName(nodes, chain[0].SourceNodeID)}
	for _, e := range chain {
		parts = append(parts, e.RelationshipType, nodeName(nodes, e.TargetNodeID))
	}
	return strings.Join(parts, " ")
}

func nodeName(nodes map[int64]*domain.Node, id int64) string {
	if n, ok := nodes[id]; ok {
		return n.CanonicalName
	}
	return fmt.Sprintf("node %d", id)
}

// -------------------- cluster rule --------------------

// clusterRule finds Concept pairs co-used by enough distinct papers through
// uses and introduces edges.
func clusterRule(edges []*domain.Edge, nodes map[int64]*domain.Node) []candidate {
	// Concepts touched per paper, with the supporting edges.
	paperConcepts := map[string]map[int64]bool{}
	supportEdges := map[int64][]*domain.Edge{}
	totalPapers := map[string]bool{}

	for _, e := range edges {
		if e.PaperID == "" {
			continue
		}
		totalPapers[e.PaperID] = true
		if e.RelationshipType != domain.RelUses && e.RelationshipType != domain.RelIntroduces {
			continue
		}
		for _, id := range []int64{e.SourceNodeID, e.TargetNodeID} {
			n, ok := nodes[id]
			if !ok || n.Type != domain.NodeConcept {
				continue
			}
			if paperConcepts[e.PaperID] == nil {
				paperConcepts[e.PaperID] = map[int64]bool{}
			}
			paperConcepts[e.PaperID][id] = true
			supportEdges[id] = append(supportEdges[id], e)
		}
	}
	if len(totalPapers) == 0 {
		return nil
	}

	type pair struct{ a, b int64 }
	coUse := map[pair]int{}
	for _, concepts := range paperConcepts {
		ids := make([]int64, 0, len(concepts))
		for id := range concepts {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				coUse[pair{ids[i], ids[j]}]++
			}
		}
	}

	pairs := make([]pair, 0, len(coUse))
	for p, n := range coUse {
		if n >= clusterMinPapers {
			pairs = append(pairs, p)
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].a != pairs[j].a {
			return pairs[i].a < pairs[j].a
		}
		return pairs[i].b < pairs[j].b
	})

	var out []candidate
	for _, p := range pairs {
		support := append(append([]*domain.Edge(nil), supportEdges[p.a]...), supportEdges[p.b]...)
		var sum float64
		edgeIDs := make([]int64, 0, len(support))
		seen := map[int64]bool{}
		for _, e := range support {
			if seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			sum += e.Confidence
			edgeIDs = append(edgeIDs, e.ID)
		}
		if len(edgeIDs) < 2 {
			continue
		}
		avgConf := sum / float64(len(edgeIDs))

		conf := float64(coUse[p]) / float64(len(totalPapers)) * avgConf
		if conf > clusterCap {
			conf = clusterCap
		}
		if len(totalPapers) < smallCorpusSize {
			conf *= smallCorpusFactor
		}

		claim := fmt.Sprintf("%s and %s are co-used by %d papers",
			nodeName(nodes, p.a), nodeName(nodes, p.b), coUse[p])
		out = append(out, candidate{
			insightType: domain.InsightCluster,
			subjects:    []int64{p.a, p.b},
			claim:       claim,
			path:        ReasoningPath{Claim: claim, EvidenceEdgeIDs: edgeIDs, Rule: "concept_co_usage"},
			confidence:  conf,
		})
	}
	return out
}

// -------------------- anomaly rules --------------------

// anomalyRules emits statistical outliers. Each rule only fires when at
// least 3 papers define the norm it deviates from.
func anomalyRules(edges []*domain.Edge, nodes map[int64]*domain.Node) []candidate {
	papers := map[string][]*domain.Edge{}
	for _, e := range edges {
		if e.PaperID != "" {
			papers[e.PaperID] = append(papers[e.PaperID], e)
		}
	}

	var out []candidate
	if len(papers) >= anomalyNormMinPapers {
		out = append(out, unevaluatedImprovements(papers, nodes)...)
		out = append(out, unsupportedImprovements(papers, nodes)...)
	}
	out = append(out, isolatedMethods(edges, nodes)...)
	return out
}

// unevaluatedImprovements: a paper claims improves_on but never evaluates
// against any Dataset.
func unevaluatedImprovements(papers map[string][]*domain.Edge, nodes map[int64]*domain.Node) []candidate {
	var out []candidate
	for _, paperID := range sortedPaperIDs(papers) {
		es := papers[paperID]
		var improves []*domain.Edge
		evaluatesDataset := false
		for _, e := range es {
			switch e.RelationshipType {
			case domain.RelImprovesOn:
				improves = append(improves, e)
			case domain.RelEvaluates:
				if t, ok := nodes[e.TargetNodeID]; ok && t.Type == domain.NodeDataset {
					evaluatesDataset = true
				}
			}
		}
		if len(improves) == 0 || evaluatesDataset {
			continue
		}
		for _, e := range improves {
			conf := 0.7
			if e.Confidence < conf {
				conf = e.Confidence
			}
			claim := fmt.Sprintf("paper %s claims %s improves on %s without evaluating on any dataset",
				paperID, nodeName(nodes, e.SourceNodeID), nodeName(nodes, e.TargetNodeID))
			out = append(out, candidate{
				insightType: domain.InsightAnomaly,
				subjects:    []int64{e.SourceNodeID, e.TargetNodeID},
				claim:       claim,
				path:        ReasoningPath{Claim: claim, EvidenceEdgeIDs: []int64{e.ID}, Rule: "unevaluated_improvement"},
				confidence:  conf,
			})
		}
	}
	return out
}

// unsupportedImprovements: a confident improves_on claim without any uses
// edge linking the paper to shared datasets.
func unsupportedImprovements(papers map[string][]*domain.Edge, nodes map[int64]*domain.Node) []candidate {
	// Datasets used by more than one paper are "common".
	datasetPapers := map[int64]map[string]bool{}
	for paperID, es := range papers {
		for _, e := range es {
			if e.RelationshipType != domain.RelUses {
				continue
			}
			if t, ok := nodes[e.TargetNodeID]; ok && t.Type == domain.NodeDataset {
				if datasetPapers[e.TargetNodeID] == nil {
					datasetPapers[e.TargetNodeID] = map[string]bool{}
				}
				datasetPapers[e.TargetNodeID][paperID] = true
			}
		}
	}
	common := map[int64]bool{}
	for id, ps := range datasetPapers {
		if len(ps) > 1 {
			common[id] = true
		}
	}

	var out []candidate
	for _, paperID := range sortedPaperIDs(papers) {
		es := papers[paperID]
		usesCommon := false
		for _, e := range es {
			if e.RelationshipType == domain.RelUses && common[e.TargetNodeID] {
				usesCommon = true
				break
			}
		}
		if usesCommon {
			continue
		}
		for _, e := range es {
			if e.RelationshipType != domain.RelImprovesOn || e.Confidence <= 0.8 {
				continue
			}
			conf := 0.6
			if e.Confidence < conf {
				conf = e.Confidence
			}
			claim := fmt.Sprintf("paper %s confidently claims %s improves on %s without using any common dataset",
				paperID, nodeName(nodes, e.SourceNodeID), nodeName(nodes, e.TargetNodeID))
			out = append(out, candidate{
				insightType: domain.InsightAnomaly,
				subjects:    []int64{e.SourceNodeID, e.TargetNodeID},
				claim:       claim,
				path:        ReasoningPath{Claim: claim, EvidenceEdgeIDs: []int64{e.ID}, Rule: "unsupported_improvement"},
				confidence:  conf,
			})
		}
	}
	return out
}

// isolatedMethods: Method nodes with zero incident edges in the subgraph.
func isolatedMethods(edges []*domain.Edge, nodes map[int64]*domain.Node) []candidate {
	incident := map[int64]bool{}
	for _, e := range edges {
		incident[e.SourceNodeID] = true
		incident[e.TargetNodeID] = true
	}

	ids := make([]int64, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []candidate
	for _, id := range ids {
		n := nodes[id]
		if n.Type != domain.NodeMethod || incident[id] {
			continue
		}
		claim := fmt.Sprintf("method %s has no relationships in the graph", n.CanonicalName)
		out = append(out, candidate{
			insightType: domain.InsightAnomaly,
			subjects:    []int64{id},
			claim:       claim,
			path:        ReasoningPath{Claim: claim, Rule: "isolated_method"},
			confidence:  0.5,
		})
	}
	return out
}

func sortedPaperIDs(papers map[string][]*domain.Edge) []string {
	out := make([]string, 0, len(papers))
	for id := range papers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
