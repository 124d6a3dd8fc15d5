package repos

import (
	"gorm.io/gorm"

	types "github.com/yungbote/papergraph-backend/internal/domain"
	"github.com/yungbote/papergraph-backend/internal/pkg/dbctx"
	"github.com/yungbote/papergraph-backend/internal/platform/logger"
)

// GraphData is the full persisted graph, loaded for the batch deduper.
type GraphData struct {
	Nodes    []*types.Node
	Edges    []*types.Edge
	Mentions []*types.EntityMention
}

// Subgraph is the induced neighborhood the reasoning engine runs over.
type Subgraph struct {
	Nodes []*types.Node
	Edges []*types.Edge
}

type GraphRepo interface {
	GetGraphData(dbc dbctx.Context) (*GraphData, error)
	// GetSubgraph expands seed node ids to the subgraph reachable within
	// depth hops over approved edges, then returns those nodes plus every
	// approved edge between them.
	GetSubgraph(dbc dbctx.Context, seedNodeIDs []int64, depth int) (*Subgraph, error)
}

type graphRepo struct {
	db       *gorm.DB
	log      *logger.Logger
	nodes    NodeRepo
	edges    EdgeRepo
	mentions MentionRepo
}

func NewGraphRepo(db *gorm.DB, baseLog *logger.Logger, nodes NodeRepo, edges EdgeRepo, mentions MentionRepo) GraphRepo {
	return &graphRepo{
		db:       db,
		log:      baseLog.With("repo", "GraphRepo"),
		nodes:    nodes,
		edges:    edges,
		mentions: mentions,
	}
}

func (r *graphRepo) GetGraphData(dbc dbctx.Context) (*GraphData, error) {
	nodes, err := r.nodes.GetAll(dbc, nil)
	if err != nil {
		return nil, err
	}
	edges, err := r.edges.GetAll(dbc, nil)
	if err != nil {
		return nil, err
	}
	mentions, err := r.mentions.GetAll(dbc)
	if err != nil {
		return nil, err
	}
	return &GraphData{Nodes: nodes, Edges: edges, Mentions: mentions}, nil
}

func (r *graphRepo) GetSubgraph(dbc dbctx.Context, seedNodeIDs []int64, depth int) (*Subgraph, error) {
	out := &Subgraph{}
	if len(seedNodeIDs) == 0 {
		return out, nil
	}
	if depth < 1 {
		depth = 1
	}

	approved := []string{types.ReviewApproved}
	visited := map[int64]bool{}
	frontier := make([]int64, 0, len(seedNodeIDs))
	for _, id := range seedNodeIDs {
		if id != 0 && !visited[id] {
			visited[id] = true
			frontier = append(frontier, id)
		}
	}

	edgeSeen := map[int64]bool{}
	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		edges, err := r.edges.GetByNodeIDs(dbc, frontier, approved)
		if err != nil {
			return nil, err
		}
		next := make([]int64, 0)
		for _, e := range edges {
			if e == nil || edgeSeen[e.ID] {
				continue
			}
			edgeSeen[e.ID] = true
			out.Edges = append(out.Edges, e)
			for _, id := range []int64{e.SourceNodeID, e.TargetNodeID} {
				if !visited[id] {
					visited[id] = true
					next = append(next, id)
				}
			}
		}
		frontier = next
	}

	ids := make([]int64, 0, len(visited))
	for id := range visited {
		ids = append(ids, id)
	}
	nodes, err := r.nodes.GetByIDs(dbc, ids)
	if err != nil {
		return nil, err
	}
	out.Nodes = nodes
	return out, nil
}
