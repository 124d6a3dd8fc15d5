package dedupe

import (
	"fmt"
	"sort"

	"github.com/yungbote/papergraph-backend/internal/data/repos"
	"github.com/yungbote/papergraph-backend/internal/domain"
	"github.com/yungbote/papergraph-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/papergraph-backend/internal/pkg/errors"
	"github.com/yungbote/papergraph-backend/internal/platform/logger"
)

const (
	deleteBatchSize   = 100
	similarMinNameLen = 5
	guardPrefixLen    = 3
)

type Options struct {
	DryRun bool
}

// Report summarizes one dedupe pass. MergeMap maps each subsumed loser to
// the winner that absorbed it.
type Report struct {
	MergeMap       map[int64]int64 `json:"merge_map"`
	Groups         int             `json:"groups"`
	ExactGroups    int             `json:"exact_groups"`
	SimilarGroups  int             `json:"similar_groups"`
	RewrittenEdges int             `json:"rewritten_edges"`
	DeletedEdges   int             `json:"deleted_edges"`
	DeletedNodes   int             `json:"deleted_nodes"`
	DryRun         bool            `json:"dry_run"`
}

// Deduper is the offline batch merge over the full node set. The caller must
// hold the exclusive writer role while Run executes: no other process may
// mutate nodes or edges concurrently.
type Deduper struct {
	log      *logger.Logger
	graph    repos.GraphRepo
	nodes    repos.NodeRepo
	edges    repos.EdgeRepo
	mentions repos.MentionRepo
	links    repos.LinkRepo
	aliases  repos.AliasRepo
}

func NewDeduper(
	log *logger.Logger,
	graph repos.GraphRepo,
	nodes repos.NodeRepo,
	edges repos.EdgeRepo,
	mentions repos.MentionRepo,
	links repos.LinkRepo,
	aliases repos.AliasRepo,
) (*Deduper, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if graph == nil || nodes == nil || edges == nil || mentions == nil || links == nil || aliases == nil {
		return nil, fmt.Errorf("all graph repos required")
	}
	return &Deduper{
		log:      log.With("service", "NodeDeduper"),
		graph:    graph,
		nodes:    nodes,
		edges:    edges,
		mentions: mentions,
		links:    links,
		aliases:  aliases,
	}, nil
}

// Run executes one dedupe pass. Dry runs compute the merge map without
// mutating anything.
func (d *Deduper) Run(dbc dbctx.Context, opts Options) (*Report, error) {
	data, err := d.graph.GetGraphData(dbc)
	if err != nil {
		return nil, err
	}

	exact := exactGroups(data.Nodes)
	similar := similarGroups(data.Nodes)
	groups := append(exact, similar...)

	report := &Report{
		MergeMap:      map[int64]int64{},
		ExactGroups:   len(exact),
		SimilarGroups: len(similar),
		DryRun:        opts.DryRun,
	}
	if len(groups) == 0 {
		return report, nil
	}

	byID := make(map[int64]*domain.Node, len(data.Nodes))
	for _, n := range data.Nodes {
		byID[n.ID] = n
	}

	// Union all groups, then pick each component's winner by the same rule.
	uf := newUnionFind()
	for _, g := range groups {
		for i := 1; i < len(g); i++ {
			uf.union(g[0], g[i])
		}
	}

	winners := map[int64]bool{}
	for _, members := range uf.components() {
		if len(members) < 2 {
			continue
		}
		winner := pickWinner(members, byID)
		winners[winner] = true
		for _, id := range members {
			if id != winner {
				report.MergeMap[id] = winner
			}
		}
	}
	report.Groups = len(winners)

	// Safety: a winner must never also be scheduled for deletion.
	for loser := range report.MergeMap {
		if winners[loser] {
			return nil, pkgerrors.IntegrityViolation("dedupe.plan",
				fmt.Errorf("node %d selected as both winner and loser", loser))
		}
	}

	if opts.DryRun || len(report.MergeMap) == 0 {
		return report, nil
	}

	if err := d.apply(dbc, data, report); err != nil {
		return nil, err
	}
	return report, nil
}

// apply performs the destructive phase: rewrite, re-dedupe, verify, delete.
func (d *Deduper) apply(dbc dbctx.Context, data *repos.GraphData, report *Report) error {
	mergeMap := report.MergeMap

	// Rewrite edges one at a time; concurrent endpoint updates on the same
	// rows conflict under the store's row locks.
	var dropEdges []int64
	for _, e := range data.Edges {
		newSrc, srcMoved := mergeMap[e.SourceNodeID]
		newTgt, tgtMoved := mergeMap[e.TargetNodeID]
		if !srcMoved && !tgtMoved {
			continue
		}
		src, tgt := e.SourceNodeID, e.TargetNodeID
		if srcMoved {
			src = newSrc
		}
		if tgtMoved {
			tgt = newTgt
		}
		if src == tgt {
			dropEdges = append(dropEdges, e.ID)
			continue
		}
		var srcPtr, tgtPtr *int64
		if srcMoved {
			srcPtr = &src
		}
		if tgtMoved {
			tgtPtr = &tgt
		}
		if err := d.edges.UpdateEndpoints(dbc, e.ID, srcPtr, tgtPtr); err != nil {
			return err
		}
		e.SourceNodeID, e.TargetNodeID = src, tgt
		report.RewrittenEdges++
	}
	if err := d.edges.DeleteByIDs(dbc, dropEdges); err != nil {
		return err
	}
	report.DeletedEdges += len(dropEdges)

	// Fold mentions into winners.
	for loser, winner := range mergeMap {
		if err := d.mentions.UpdateNode(dbc, loser, winner); err != nil {
			return err
		}
	}

	// Re-point aliases, drop links touching losers, then verify and delete.
	if err := d.migrateAliases(dbc, mergeMap); err != nil {
		return err
	}
	losers := make([]int64, 0, len(mergeMap))
	for loser := range mergeMap {
		losers = append(losers, loser)
	}
	sort.Slice(losers, func(i, j int) bool { return losers[i] < losers[j] })
	if err := d.links.DeleteByNodeIDs(dbc, losers); err != nil {
		return err
	}

	deleted, err := d.rededupeEdges(dbc, dropEdges)
	if err != nil {
		return err
	}
	report.DeletedEdges += deleted

	if err := d.verifyNoDanglingRefs(dbc, mergeMap); err != nil {
		return err
	}

	for start := 0; start < len(losers); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(losers) {
			end = len(losers)
		}
		if err := d.nodes.DeleteByIDs(dbc, losers[start:end]); err != nil {
			return err
		}
		report.DeletedNodes += end - start
	}

	d.log.Info("dedupe applied",
		"merged", len(mergeMap),
		"rewritten_edges", report.RewrittenEdges,
		"deleted_edges", report.DeletedEdges,
		"deleted_nodes", report.DeletedNodes,
	)
	return nil
}

// rededupeEdges reloads the edge set after rewrites and removes duplicates
// by (source, target, relationship_type), keeping the highest-confidence,
// lowest-id survivor.
func (d *Deduper) rededupeEdges(dbc dbctx.Context, alreadyDeleted []int64) (int, error) {
	gone := make(map[int64]bool, len(alreadyDeleted))
	for _, id := range alreadyDeleted {
		gone[id] = true
	}

	edges, err := d.edges.GetAll(dbc, nil)
	if err != nil {
		return 0, err
	}

	type key struct {
		src, tgt int64
		rel      string
	}
	best := map[key]*domain.Edge{}
	var dupes []int64
	for _, e := range edges {
		if gone[e.ID] {
			continue
		}
		k := key{e.SourceNodeID, e.TargetNodeID, e.RelationshipType}
		cur, ok := best[k]
		if !ok {
			best[k] = e
			continue
		}
		keep, drop := cur, e
		if e.Confidence > cur.Confidence || (e.Confidence == cur.Confidence && e.ID < cur.ID) {
			keep, drop = e, cur
		}
		best[k] = keep
		dupes = append(dupes, drop.ID)
	}
	if err := d.edges.DeleteByIDs(dbc, dupes); err != nil {
		return 0, err
	}
	return len(dupes), nil
}

// verifyNoDanglingRefs is the post-condition scan: any edge or mention still
// referring to a loser aborts the batch before deletion.
func (d *Deduper) verifyNoDanglingRefs(dbc dbctx.Context, mergeMap map[int64]int64) error {
	edges, err := d.edges.GetAll(dbc, nil)
	if err != nil {
		return err
	}
	for _, e := range edges {
		if _, lost := mergeMap[e.SourceNodeID]; lost {
			return pkgerrors.IntegrityViolation("dedupe.verify",
				fmt.Errorf("edge %d still references loser source %d", e.ID, e.SourceNodeID))
		}
		if _, lost := mergeMap[e.TargetNodeID]; lost {
			return pkgerrors.IntegrityViolation("dedupe.verify",
				fmt.Errorf("edge %d still references loser target %d", e.ID, e.TargetNodeID))
		}
	}

	mentions, err := d.mentions.GetAll(dbc)
	if err != nil {
		return err
	}
	for _, m := range mentions {
		if _, lost := mergeMap[m.NodeID]; lost {
			return pkgerrors.IntegrityViolation("dedupe.verify",
				fmt.Errorf("mention %d still references loser node %d", m.ID, m.NodeID))
		}
	}
	return nil
}

func (d *Deduper) migrateAliases(dbc dbctx.Context, mergeMap map[int64]int64) error {
	losers := make([]int64, 0, len(mergeMap))
	for loser := range mergeMap {
		losers = append(losers, loser)
	}
	rows, err := d.aliases.GetByCanonicalIDs(dbc, losers)
	if err != nil {
		return err
	}
	for _, a := range rows {
		winner := mergeMap[a.CanonicalNodeID]
		if winner == 0 {
			continue
		}
		if err := d.aliases.Insert(dbc, &domain.EntityAlias{
			CanonicalNodeID: winner,
			Alias:           a.Alias,
			NormalizedForm:  a.NormalizedForm,
		}); err != nil {
			return err
		}
	}
	return d.aliases.DeleteByCanonicalIDs(dbc, losers)
}

// -------------------- grouping --------------------

// exactGroups finds ids sharing (canonical_key, type). Paper nodes group here
// only, on their exact id key.
func exactGroups(nodes []*domain.Node) [][]int64 {
	byKey := map[string][]int64{}
	for _, n := range nodes {
		byKey[n.Type+"|"+n.CanonicalKey] = append(byKey[n.Type+"|"+n.CanonicalKey], n.ID)
	}
	keys := make([]string, 0, len(byKey))
	for k, ids := range byKey {
		if len(ids) > 1 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([][]int64, 0, len(keys))
	for _, k := range keys {
		ids := byKey[k]
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		out = append(out, ids)
	}
	return out
}

// similarGroups pairs adjacent canonical keys at Levenshtein distance exactly
// 1, unless the differing character falls in the first 3 positions. Names of
// 5 characters or fewer never fuzzy-merge, and Paper nodes are excluded
// entirely: titles that differ by one character are different papers.
func similarGroups(nodes []*domain.Node) [][]int64 {
	byType := map[string][]*domain.Node{}
	for _, n := range nodes {
		if n.Type == domain.NodePaper {
			continue
		}
		if len([]rune(n.CanonicalKey)) <= similarMinNameLen {
			continue
		}
		byType[n.Type] = append(byType[n.Type], n)
	}

	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Strings(types)

	var out [][]int64
	for _, t := range types {
		group := byType[t]
		sort.Slice(group, func(i, j int) bool {
			if group[i].CanonicalKey != group[j].CanonicalKey {
				return group[i].CanonicalKey < group[j].CanonicalKey
			}
			return group[i].ID < group[j].ID
		})
		for i := 1; i < len(group); i++ {
			a, b := group[i-1], group[i]
			if a.CanonicalKey == b.CanonicalKey {
				continue
			}
			if levenshtein(a.CanonicalKey, b.CanonicalKey) != 1 {
				continue
			}
			if pos := firstDiffPos(a.CanonicalKey, b.CanonicalKey); pos >= 0 && pos < guardPrefixLen {
				continue
			}
			out = append(out, []int64{a.ID, b.ID})
		}
	}
	return out
}

// pickWinner applies the winner rule: highest adjusted confidence, then
// highest original confidence, then lowest id.
func pickWinner(members []int64, byID map[int64]*domain.Node) int64 {
	sorted := append([]int64(nil), members...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := byID[sorted[i]], byID[sorted[j]]
		if a == nil || b == nil {
			return sorted[i] < sorted[j]
		}
		if a.AdjustedConfidence != b.AdjustedConfidence {
			return a.AdjustedConfidence > b.AdjustedConfidence
		}
		if a.OriginalConfidence != b.OriginalConfidence {
			return a.OriginalConfidence > b.OriginalConfidence
		}
		return a.ID < b.ID
	})
	return sorted[0]
}
