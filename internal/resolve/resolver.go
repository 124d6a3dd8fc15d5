package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gorm.io/datatypes"

	"github.com/yungbote/papergraph-backend/internal/data/repos"
	"github.com/yungbote/papergraph-backend/internal/domain"
	"github.com/yungbote/papergraph-backend/internal/embeddings"
	"github.com/yungbote/papergraph-backend/internal/extraction"
	"github.com/yungbote/papergraph-backend/internal/pkg/dbctx"
	"github.com/yungbote/papergraph-backend/internal/platform/logger"
	"github.com/yungbote/papergraph-backend/internal/platform/pinecone"
)

// Config carries the Tier B thresholds. Dataset and Metric nodes use the
// strict pair: false merges there are costlier than missed ones.
type Config struct {
	TauPropose       float64
	TauProposeStrict float64
	TauAuto          float64
	TauAutoStrict    float64
	CandidateLimit   int
	IndexDim         int
	MinAutoNameLen   int
}

func DefaultConfig() Config {
	return Config{
		TauPropose:       0.90,
		TauProposeStrict: 0.92,
		TauAuto:          0.95,
		TauAutoStrict:    0.97,
		CandidateLimit:   50,
		IndexDim:         768,
		MinAutoNameLen:   5,
	}
}

func (c Config) tauPropose(nodeType string) float64 {
	if nodeType == domain.NodeDataset || nodeType == domain.NodeMetric {
		return c.TauProposeStrict
	}
	return c.TauPropose
}

func (c Config) tauAuto(nodeType string) float64 {
	if nodeType == domain.NodeDataset || nodeType == domain.NodeMetric {
		return c.TauAutoStrict
	}
	return c.TauAuto
}

// Resolution reports how one validated entity landed in the graph.
type Resolution struct {
	NodeID          int64
	CanonicalNodeID int64
	Created         bool
	TierAHit        bool
	LinkStatus      string
	Similarity      float64
}

// Resolver runs two-tier entity resolution: exact canonical-key lookup, then
// embedding similarity with deterministic canonical selection. New entities
// always keep their own node id; equivalences are persisted as alias links.
type Resolver struct {
	log      *logger.Logger
	cfg      Config
	nodes    repos.NodeRepo
	links    repos.LinkRepo
	aliases  repos.AliasRepo
	mentions repos.MentionRepo
	embedder *embeddings.Client
	vectors  pinecone.VectorStore
}

func NewResolver(
	log *logger.Logger,
	cfg Config,
	nodes repos.NodeRepo,
	links repos.LinkRepo,
	aliases repos.AliasRepo,
	mentions repos.MentionRepo,
	embedder *embeddings.Client,
	vectors pinecone.VectorStore,
) (*Resolver, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if nodes == nil || links == nil || aliases == nil || mentions == nil {
		return nil, fmt.Errorf("node, link, alias, and mention repos required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedding client required")
	}
	if cfg.TauPropose <= 0 {
		cfg = DefaultConfig()
	}
	return &Resolver{
		log:      log.With("service", "EntityResolver"),
		cfg:      cfg,
		nodes:    nodes,
		links:    links,
		aliases:  aliases,
		mentions: mentions,
		embedder: embedder,
		vectors:  vectors,
	}, nil
}

// ResolveEntity resolves one validated entity to a node id, creating the
// node and an alias link when Tier B finds a canonical match.
func (r *Resolver) ResolveEntity(ctx context.Context, dbc dbctx.Context, ent extraction.ValidatedEntity) (*Resolution, error) {
	key := Canonicalize(ent.Name)
	if key == "" {
		return nil, fmt.Errorf("entity name %q canonicalizes to empty", ent.Name)
	}

	// Tier A: exact canonical key within the type.
	existing, err := r.nodes.FindByCanonicalKeys(dbc, []string{key}, ent.Type)
	if err != nil {
		return nil, err
	}
	if hit, ok := existing[key]; ok {
		canonical, err := r.rootOf(dbc, hit.ID)
		if err != nil {
			return nil, err
		}
		r.insertAliases(dbc, canonical, append([]string{ent.Name}, ent.Aliases...))
		return &Resolution{NodeID: hit.ID, CanonicalNodeID: canonical, TierAHit: true}, nil
	}

	// Tier B: embed, insert the node, then look for a canonical neighbor.
	fullVec, err := r.embedder.EmbedOne(ctx, embeddingText(ent))
	if err != nil {
		return nil, err
	}
	indexVec := embeddings.Reduce(fullVec, r.cfg.IndexDim)

	nodeID, err := r.insertNode(dbc, ent, key)
	if err != nil {
		return nil, err
	}
	if err := r.nodes.UpsertEmbeddings(dbc, nodeID, fullVec, indexVec); err != nil {
		return nil, err
	}
	r.indexVector(ctx, nodeID, ent.Type, indexVec)

	res := &Resolution{NodeID: nodeID, CanonicalNodeID: nodeID, Created: true}

	candidate, sim, err := r.findCanonical(ctx, dbc, nodeID, ent, fullVec, indexVec)
	if err != nil {
		return nil, err
	}
	if candidate == nil {
		r.insertAliases(dbc, nodeID, append([]string{ent.Name}, ent.Aliases...))
		return res, nil
	}

	canonical, err := r.rootOf(dbc, candidate.ID)
	if err != nil {
		return nil, err
	}
	if canonical == nodeID {
		r.insertAliases(dbc, nodeID, append([]string{ent.Name}, ent.Aliases...))
		return res, nil
	}

	status := domain.LinkProposed
	if r.autoApprove(ent, candidate, sim) {
		status = domain.LinkApproved
	}
	link := &domain.EntityLink{
		NodeID:          nodeID,
		CanonicalNodeID: canonical,
		LinkType:        domain.LinkAliasOf,
		Status:          status,
		Confidence:      sim,
		Evidence:        fmt.Sprintf("cosine similarity %.4f to %q", sim, candidate.CanonicalName),
	}
	if err := r.links.Insert(dbc, link); err != nil {
		return nil, err
	}
	r.insertAliases(dbc, canonical, append([]string{ent.Name}, ent.Aliases...))

	res.CanonicalNodeID = canonical
	res.LinkStatus = status
	res.Similarity = sim
	return res, nil
}

func (r *Resolver) insertNode(dbc dbctx.Context, ent extraction.ValidatedEntity, key string) (int64, error) {
	meta := domain.NodeMetadata{
		Definition: ent.Definition,
		Evidence:   ent.Evidence,
		Aliases:    ent.Aliases,
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return 0, err
	}
	return r.nodes.Insert(dbc, &domain.Node{
		Type:               ent.Type,
		CanonicalName:      ent.Name,
		CanonicalKey:       key,
		Metadata:           datatypes.JSON(raw),
		OriginalConfidence: ent.Confidence,
		AdjustedConfidence: ent.AdjustedConfidence,
		ReviewStatus:       ent.ReviewStatus,
	})
}

// findCanonical returns the deterministic canonical choice among ANN
// candidates, or nil when the entity stands alone. The returned similarity
// is the full-dimension rerank score against that candidate.
func (r *Resolver) findCanonical(ctx context.Context, dbc dbctx.Context, selfID int64, ent extraction.ValidatedEntity, fullVec, indexVec []float32) (*domain.Node, float64, error) {
	tau := r.cfg.tauPropose(ent.Type)

	ids, err := r.annCandidates(ctx, dbc, selfID, ent.Type, indexVec, tau)
	if err != nil {
		return nil, 0, err
	}
	if len(ids) == 0 {
		return nil, 0, nil
	}

	nodes, err := r.nodes.GetByIDs(dbc, ids)
	if err != nil {
		return nil, 0, err
	}

	// Full-dimension rerank.
	fullSims := make(map[int64]float64, len(nodes))
	kept := nodes[:0]
	for _, n := range nodes {
		if n.ID == selfID || n.ReviewStatus == domain.ReviewRejected {
			continue
		}
		var raw []float32
		if len(n.EmbeddingRaw) > 0 {
			if err := json.Unmarshal(n.EmbeddingRaw, &raw); err != nil || len(raw) == 0 {
				continue
			}
		} else {
			continue
		}
		fullSims[n.ID] = embeddings.Cosine(fullVec, raw)
		kept = append(kept, n)
	}
	if len(kept) == 0 {
		return nil, 0, nil
	}

	// Canonical selection over candidate-plus-self: mention count desc,
	// created_at asc, canonical name lex asc.
	candidateIDs := make([]int64, 0, len(kept)+1)
	for _, n := range kept {
		candidateIDs = append(candidateIDs, n.ID)
	}
	candidateIDs = append(candidateIDs, selfID)
	mentionCounts, err := r.mentions.CountByNode(dbc, candidateIDs)
	if err != nil {
		return nil, 0, err
	}

	self, err := r.nodes.GetByIDs(dbc, []int64{selfID})
	if err != nil || len(self) == 0 {
		return nil, 0, fmt.Errorf("self node %d not loadable: %w", selfID, err)
	}
	pool := append(append([]*domain.Node{}, kept...), self[0])

	sort.SliceStable(pool, func(i, j int) bool {
		mi, mj := mentionCounts[pool[i].ID], mentionCounts[pool[j].ID]
		if mi != mj {
			return mi > mj
		}
		if !pool[i].CreatedAt.Equal(pool[j].CreatedAt) {
			return pool[i].CreatedAt.Before(pool[j].CreatedAt)
		}
		return pool[i].CanonicalName < pool[j].CanonicalName
	})

	selected := pool[0]
	if selected.ID == selfID {
		return nil, 0, nil
	}
	return selected, fullSims[selected.ID], nil
}

func (r *Resolver) annCandidates(ctx context.Context, dbc dbctx.Context, selfID int64, nodeType string, indexVec []float32, tau float64) ([]int64, error) {
	if r.vectors != nil {
		matches, err := r.vectors.QueryMatches(ctx, "node:"+nodeType, indexVec, r.cfg.CandidateLimit, nil)
		if err != nil {
			r.log.Warn("vector index query failed, falling back to repository scan", "error", err)
		} else {
			ids := make([]int64, 0, len(matches))
			for _, m := range matches {
				var id int64
				if _, sErr := fmt.Sscanf(m.ID, "%d", &id); sErr != nil {
					continue
				}
				if id != selfID && m.Score >= tau {
					ids = append(ids, id)
				}
			}
			return ids, nil
		}
	}

	sims, err := r.nodes.FindSimilarNodes(dbc, repos.SimilarNodesQuery{
		QueryIndexVec: indexVec,
		Type:          nodeType,
		Threshold:     tau,
		Limit:         r.cfg.CandidateLimit,
	})
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(sims))
	for _, s := range sims {
		if s.NodeID != selfID {
			ids = append(ids, s.NodeID)
		}
	}
	return ids, nil
}

func (r *Resolver) indexVector(ctx context.Context, nodeID int64, nodeType string, indexVec []float32) {
	if r.vectors == nil {
		return
	}
	err := r.vectors.Upsert(ctx, "node:"+nodeType, []pinecone.Vector{{
		ID:     fmt.Sprintf("%d", nodeID),
		Values: indexVec,
	}})
	if err != nil {
		r.log.Warn("vector index upsert failed", "node_id", nodeID, "error", err)
	}
}

// rootOf follows approved alias_of links to the current canonical root, so a
// new link never targets a node that is itself an alias.
func (r *Resolver) rootOf(dbc dbctx.Context, nodeID int64) (int64, error) {
	roots, err := r.links.ApprovedAliasRoots(dbc)
	if err != nil {
		return 0, err
	}
	seen := map[int64]bool{}
	cur := nodeID
	for {
		next, ok := roots[cur]
		if !ok || next == cur || seen[cur] {
			return cur, nil
		}
		seen[cur] = true
		cur = next
	}
}

// autoApprove applies the three-part gate: similarity above the strict
// threshold, a name long enough to rule out acronym merges, and at least one
// shared signal between the two entities.
func (r *Resolver) autoApprove(ent extraction.ValidatedEntity, candidate *domain.Node, sim float64) bool {
	if sim < r.cfg.tauAuto(ent.Type) {
		return false
	}
	if len(strings.TrimSpace(ent.Name)) <= r.cfg.MinAutoNameLen {
		return false
	}

	var meta domain.NodeMetadata
	if len(candidate.Metadata) > 0 {
		_ = json.Unmarshal(candidate.Metadata, &meta)
	}

	if sharedAlias(ent, candidate, meta) {
		return true
	}
	if sharedTrigram(ent.Definition, meta.Definition) {
		return true
	}
	if sharedQuotedSnippet(ent.Evidence, meta.Definition) || sharedQuotedSnippet(meta.Evidence, ent.Definition) {
		return true
	}
	return false
}

func sharedAlias(ent extraction.ValidatedEntity, candidate *domain.Node, meta domain.NodeMetadata) bool {
	mine := map[string]bool{}
	for _, a := range append([]string{ent.Name}, ent.Aliases...) {
		if k := strings.ToLower(strings.TrimSpace(a)); k != "" {
			mine[k] = true
		}
	}
	for _, a := range append([]string{candidate.CanonicalName}, meta.Aliases...) {
		if mine[strings.ToLower(strings.TrimSpace(a))] {
			return true
		}
	}
	return false
}

var signalStopwords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "for": true, "and": true,
	"or": true, "in": true, "on": true, "to": true, "is": true, "are": true,
	"that": true, "this": true, "with": true, "by": true, "as": true,
	"it": true, "its": true, "be": true, "which": true, "used": true,
}

var wordRe = regexp.MustCompile(`[\p{L}\p{N}]+`)

func contentWords(s string) []string {
	words := wordRe.FindAllString(strings.ToLower(s), -1)
	out := words[:0]
	for _, w := range words {
		if !signalStopwords[w] {
			out = append(out, w)
		}
	}
	return out
}

// sharedTrigram reports whether the two definitions share any 3 consecutive
// content words.
func sharedTrigram(a, b string) bool {
	wa, wb := contentWords(a), contentWords(b)
	if len(wa) < 3 || len(wb) < 3 {
		return false
	}
	grams := make(map[string]bool, len(wa))
	for i := 0; i+3 <= len(wa); i++ {
		grams[wa[i]+" "+wa[i+1]+" "+wa[i+2]] = true
	}
	for i := 0; i+3 <= len(wb); i++ {
		if grams[wb[i]+" "+wb[i+1]+" "+wb[i+2]] {
			return true
		}
	}
	return false
}

var quotedRe = regexp.MustCompile(`"([^"]{4,})"`)

// sharedQuotedSnippet reports whether a quoted snippet in the evidence
// appears verbatim in the other entity's definition.
func sharedQuotedSnippet(evidence, definition string) bool {
	if evidence == "" || definition == "" {
		return false
	}
	def := strings.ToLower(definition)
	for _, m := range quotedRe.FindAllStringSubmatch(evidence, -1) {
		if strings.Contains(def, strings.ToLower(strings.TrimSpace(m[1]))) {
			return true
		}
	}
	return false
}

func (r *Resolver) insertAliases(dbc dbctx.Context, canonicalID int64, names []string) {
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		err := r.aliases.Insert(dbc, &domain.EntityAlias{
			CanonicalNodeID: canonicalID,
			Alias:           name,
			NormalizedForm:  Canonicalize(name),
		})
		if err != nil {
			r.log.Warn("alias insert failed", "canonical_node_id", canonicalID, "alias", name, "error", err)
		}
	}
}

func embeddingText(ent extraction.ValidatedEntity) string {
	if ent.Definition == "" {
		return ent.Name
	}
	return ent.Name + ": " + ent.Definition
}
