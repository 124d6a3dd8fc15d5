package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/papergraph-backend/internal/platform/logger"
)

// Set bundles every repository over one database handle. This is the full
// persistence surface the pipeline, resolver, deduper, and reasoning engine
// depend on.
type Set struct {
	Papers     PaperRepo
	Sections   SectionRepo
	Nodes      NodeRepo
	Edges      EdgeRepo
	Mentions   MentionRepo
	Links      LinkRepo
	Aliases    AliasRepo
	Insights   InsightRepo
	IngestRuns IngestRunRepo
	Graph      GraphRepo

	DB *gorm.DB
}

func NewSet(db *gorm.DB, log *logger.Logger) *Set {
	nodes := NewNodeRepo(db, log)
	edges := NewEdgeRepo(db, log)
	mentions := NewMentionRepo(db, log)
	return &Set{
		Papers:     NewPaperRepo(db, log),
		Sections:   NewSectionRepo(db, log),
		Nodes:      nodes,
		Edges:      edges,
		Mentions:   mentions,
		Links:      NewLinkRepo(db, log),
		Aliases:    NewAliasRepo(db, log),
		Insights:   NewInsightRepo(db, log),
		IngestRuns: NewIngestRunRepo(db, log),
		Graph:      NewGraphRepo(db, log, nodes, edges, mentions),
		DB:         db,
	}
}
