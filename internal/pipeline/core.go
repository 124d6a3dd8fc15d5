package pipeline

import (
	"context"
	"fmt"

	"github.com/yungbote/papergraph-backend/internal/data/repos"
	"github.com/yungbote/papergraph-backend/internal/dedupe"
	"github.com/yungbote/papergraph-backend/internal/domain"
	"github.com/yungbote/papergraph-backend/internal/observability"
	"github.com/yungbote/papergraph-backend/internal/pkg/dbctx"
	"github.com/yungbote/papergraph-backend/internal/platform/logger"
	"github.com/yungbote/papergraph-backend/internal/reasoning"
)

// Core is the public surface of the ingestion system: per-paper pipeline
// runs, batch reasoning over affected papers, and graph deduplication.
type Core struct {
	log          *logger.Logger
	repos        *repos.Set
	orchestrator *Orchestrator
	engine       *reasoning.Engine
	deduper      *dedupe.Deduper
	mirror       GraphMirror
	metrics      *observability.Metrics
}

func NewCore(
	log *logger.Logger,
	reposet *repos.Set,
	orchestrator *Orchestrator,
	engine *reasoning.Engine,
	deduper *dedupe.Deduper,
	mirror GraphMirror,
	metrics *observability.Metrics,
) (*Core, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if reposet == nil || orchestrator == nil || engine == nil || deduper == nil {
		return nil, fmt.Errorf("repos, orchestrator, engine, and deduper required")
	}
	return &Core{
		log:          log.With("service", "PipelineCore"),
		repos:        reposet,
		orchestrator: orchestrator,
		engine:       engine,
		deduper:      deduper,
		mirror:       mirror,
		metrics:      metrics,
	}, nil
}

// RunPipeline ingests one paper.
func (c *Core) RunPipeline(ctx context.Context, in PaperInput, opts Options) *Result {
	return c.orchestrator.RunPipeline(ctx, in, opts)
}

// RunReasoningBatch runs the rule engine over the subgraph affected by the
// given papers. Seeds are the papers' own graph nodes plus every node their
// edges touch, so the depth-2 expansion covers what ingestion just wrote.
func (c *Core) RunReasoningBatch(ctx context.Context, affectedPaperIDs []string) (int, error) {
	if len(affectedPaperIDs) == 0 {
		return 0, nil
	}
	dbc := dbctx.Context{Ctx: ctx}

	affected := make(map[string]bool, len(affectedPaperIDs))
	keys := make([]string, 0, len(affectedPaperIDs))
	for _, id := range affectedPaperIDs {
		affected[id] = true
		keys = append(keys, paperNodeKey(id))
	}

	seedSet := map[int64]bool{}
	paperNodes, err := c.repos.Nodes.FindByCanonicalKeys(dbc, keys, domain.NodePaper)
	if err != nil {
		return 0, err
	}
	for _, n := range paperNodes {
		seedSet[n.ID] = true
	}

	edges, err := c.repos.Edges.GetAll(dbc, []string{domain.ReviewApproved, domain.ReviewFlagged})
	if err != nil {
		return 0, err
	}
	for _, e := range edges {
		if affected[e.PaperID] {
			seedSet[e.SourceNodeID] = true
			seedSet[e.TargetNodeID] = true
		}
	}

	seeds := make([]int64, 0, len(seedSet))
	for id := range seedSet {
		seeds = append(seeds, id)
	}
	inserted, err := c.engine.RunBatch(dbc, seeds)
	if err != nil {
		return 0, err
	}
	if c.metrics != nil {
		c.metrics.InsightsEmitted.Add(float64(inserted))
	}
	return inserted, nil
}

// RunDedupe merges duplicate nodes. The deduper holds the only write path
// while running; callers must not ingest concurrently.
func (c *Core) RunDedupe(ctx context.Context, dryRun bool) (*dedupe.Report, error) {
	dbc := dbctx.Context{Ctx: ctx}
	report, err := c.deduper.Run(dbc, dedupe.Options{DryRun: dryRun})
	if err != nil {
		return nil, err
	}
	if !dryRun && c.metrics != nil {
		c.metrics.MergesApplied.Add(float64(len(report.MergeMap)))
	}
	if !dryRun && c.mirror != nil {
		if err := c.mirror.Refresh(ctx); err != nil {
			c.log.Warn("graph mirror refresh failed after dedupe", "error", err)
		}
	}
	return report, nil
}
