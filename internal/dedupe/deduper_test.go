package dedupe

import (
	"testing"

	"github.com/yungbote/papergraph-backend/internal/domain"
)

func TestLevenshtein(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"nerf", "nerf", 0},
		{"nerf", "nerfs", 1},
		{"3dgs", "4dgs", 1},
		{"splatting", "splattng", 1},
		{"kitten", "sitting", 3},
		{"résumé", "resume", 2},
	}
	for _, c := range cases {
		if got := levenshtein(c.a, c.b); got != c.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestFirstDiffPos(t *testing.T) {
	if got := firstDiffPos("3dgs", "4dgs"); got != 0 {
		t.Fatalf("got %d, want 0", got)
	}
	if got := firstDiffPos("nerf", "nerfs"); got != 4 {
		t.Fatalf("prefix case: got %d, want 4", got)
	}
	if got := firstDiffPos("same", "same"); got != -1 {
		t.Fatalf("equal case: got %d, want -1", got)
	}
}

func node(id int64, typ, key string, adjConf, origConf float64) *domain.Node {
	return &domain.Node{
		ID:                 id,
		Type:               typ,
		CanonicalName:      key,
		CanonicalKey:       key,
		AdjustedConfidence: adjConf,
		OriginalConfidence: origConf,
	}
}

func TestExactGroupsByKeyAndType(t *testing.T) {
	nodes := []*domain.Node{
		node(1, domain.NodeMethod, "nerf", 0.9, 0.9),
		node(2, domain.NodeMethod, "nerf", 0.8, 0.8),
		node(3, domain.NodeConcept, "nerf", 0.7, 0.7), // different type, no merge
		node(4, domain.NodeDataset, "kitti", 0.9, 0.9),
	}
	groups := exactGroups(nodes)
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	if groups[0][0] != 1 || groups[0][1] != 2 {
		t.Fatalf("unexpected group %v", groups[0])
	}
}

func TestSimilarGroupsGuardsShortNamesAndPrefix(t *testing.T) {
	nodes := []*domain.Node{
		// Distance 1 in position 0: "3dgs" vs "4dgs" would merge distinct
		// methods, and both are too short anyway.
		node(1, domain.NodeMethod, "3dgs", 0.9, 0.9),
		node(2, domain.NodeMethod, "4dgs", 0.9, 0.9),
		// Distance 1 past the guard prefix: merges.
		node(3, domain.NodeConcept, "gaussian_splatting", 0.9, 0.9),
		node(4, domain.NodeConcept, "gaussian_splattng", 0.9, 0.9),
	}
	groups := similarGroups(nodes)
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d: %v", len(groups), groups)
	}
	got := groups[0]
	if !(got[0] == 4 && got[1] == 3 || got[0] == 3 && got[1] == 4) {
		t.Fatalf("unexpected pair %v", got)
	}
}

func TestSimilarGroupsSkipsPaperNodes(t *testing.T) {
	nodes := []*domain.Node{
		node(1, domain.NodePaper, "paper_title_one", 0.9, 0.9),
		node(2, domain.NodePaper, "paper_title_one_", 0.9, 0.9),
	}
	if groups := similarGroups(nodes); len(groups) != 0 {
		t.Fatalf("paper nodes must not fuzzy-merge, got %v", groups)
	}
}

func TestSimilarGroupsPrefixDiffWithinGuard(t *testing.T) {
	nodes := []*domain.Node{
		node(1, domain.NodeMethod, "abcdef", 0.9, 0.9),
		node(2, domain.NodeMethod, "abxdef", 0.9, 0.9), // diff at pos 2 < 3
	}
	if groups := similarGroups(nodes); len(groups) != 0 {
		t.Fatalf("guard prefix difference must not merge, got %v", groups)
	}
}

func TestPickWinnerOrdering(t *testing.T) {
	byID := map[int64]*domain.Node{
		1: node(1, domain.NodeMethod, "a", 0.7, 0.9),
		2: node(2, domain.NodeMethod, "b", 0.9, 0.5),
		3: node(3, domain.NodeMethod, "c", 0.9, 0.5),
	}
	// Highest adjusted confidence wins; id breaks the remaining tie.
	if got := pickWinner([]int64{1, 2, 3}, byID); got != 2 {
		t.Fatalf("got %d, want 2", got)
	}
	// Adjusted tie falls back to original confidence.
	byID[1].AdjustedConfidence = 0.9
	byID[1].OriginalConfidence = 0.95
	if got := pickWinner([]int64{1, 2, 3}, byID); got != 1 {
		t.Fatalf("got %d, want 1", got)
	}
}

func TestUnionFindComponents(t *testing.T) {
	u := newUnionFind()
	u.union(1, 2)
	u.union(2, 3)
	u.union(10, 11)

	if u.find(1) != u.find(3) {
		t.Fatal("1 and 3 should share a root")
	}
	if u.find(1) == u.find(10) {
		t.Fatal("separate components should have distinct roots")
	}

	comps := u.components()
	sizes := map[int]int{}
	for _, members := range comps {
		sizes[len(members)]++
	}
	if sizes[3] != 1 || sizes[2] != 1 {
		t.Fatalf("unexpected component sizes %v", sizes)
	}
}
