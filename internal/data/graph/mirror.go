package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/yungbote/papergraph-backend/internal/data/repos"
	types "github.com/yungbote/papergraph-backend/internal/domain"
	"github.com/yungbote/papergraph-backend/internal/pkg/dbctx"
	"github.com/yungbote/papergraph-backend/internal/platform/logger"
	"github.com/yungbote/papergraph-backend/internal/platform/neo4jdb"
)

// Mirror projects the approved knowledge graph into Neo4j for traversal
// queries. The relational store stays authoritative; the mirror is rebuilt
// from it and may lag after a failed refresh.
type Mirror struct {
	client *neo4jdb.Client
	log    *logger.Logger
	repos  *repos.Set
}

// NewMirror returns nil when no Neo4j client is configured; callers treat a
// nil mirror as a no-op.
func NewMirror(client *neo4jdb.Client, log *logger.Logger, reposet *repos.Set) (*Mirror, error) {
	if client == nil || client.Driver == nil {
		return nil, nil
	}
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if reposet == nil {
		return nil, fmt.Errorf("repos required")
	}
	return &Mirror{
		client: client,
		log:    log.With("service", "GraphMirror"),
		repos:  reposet,
	}, nil
}

// EnsureSchema creates the uniqueness constraint and type index. Best-effort:
// restricted users may not hold schema privileges.
func (m *Mirror) EnsureSchema(ctx context.Context) {
	if m == nil {
		return
	}
	session := m.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: m.client.Database,
	})
	defer session.Close(ctx)

	for _, stmt := range []string{
		`CREATE CONSTRAINT entity_id_unique IF NOT EXISTS FOR (n:Entity) REQUIRE n.id IS UNIQUE`,
		`CREATE INDEX entity_type_idx IF NOT EXISTS FOR (n:Entity) ON (n.type)`,
	} {
		if res, err := session.Run(ctx, stmt, nil); err != nil {
			m.log.Warn("neo4j schema init failed (continuing)", "error", err)
		} else {
			_, _ = res.Consume(ctx)
		}
	}
}

// Refresh re-projects every approved node and edge and removes mirrored
// nodes the store no longer carries (dedupe losers).
func (m *Mirror) Refresh(ctx context.Context) error {
	if m == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	dbc := dbctx.Context{Ctx: ctx}

	nodes, err := m.repos.Nodes.GetAll(dbc, []string{types.ReviewApproved})
	if err != nil {
		return err
	}
	edges, err := m.repos.Edges.GetAll(dbc, []string{types.ReviewApproved})
	if err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)

	nodeRecs := make([]map[string]any, 0, len(nodes))
	liveIDs := make([]int64, 0, len(nodes))
	for _, n := range nodes {
		if n == nil || n.ID == 0 {
			continue
		}
		liveIDs = append(liveIDs, n.ID)
		nodeRecs = append(nodeRecs, map[string]any{
			"id":                  n.ID,
			"type":                n.Type,
			"canonical_name":      n.CanonicalName,
			"canonical_key":       n.CanonicalKey,
			"adjusted_confidence": n.AdjustedConfidence,
			"synced_at":           now,
		})
	}

	edgeRecs := make([]map[string]any, 0, len(edges))
	for _, e := range edges {
		if e == nil || e.SourceNodeID == 0 || e.TargetNodeID == 0 {
			continue
		}
		edgeRecs = append(edgeRecs, map[string]any{
			"id":                e.ID,
			"source_id":         e.SourceNodeID,
			"target_id":         e.TargetNodeID,
			"relationship_type": e.RelationshipType,
			"confidence":        e.Confidence,
			"paper_id":          e.PaperID,
			"synced_at":         now,
		})
	}

	session := m.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: m.client.Database,
	})
	defer session.Close(ctx)

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if len(nodeRecs) > 0 {
			res, err := tx.Run(ctx, `
UNWIND $nodes AS n
MERGE (e:Entity {id: n.id})
SET e += n
`, map[string]any{"nodes": nodeRecs})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}

		if len(edgeRecs) > 0 {
			res, err := tx.Run(ctx, `
UNWIND $rels AS r
MATCH (a:Entity {id: r.source_id})
MATCH (b:Entity {id: r.target_id})
MERGE (a)-[e:RELATES {relationship_type: r.relationship_type, paper_id: r.paper_id}]->(b)
SET e.id = r.id,
    e.confidence = r.confidence,
    e.synced_at = r.synced_at
`, map[string]any{"rels": edgeRecs})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}

		// Nodes gone from the store were subsumed by dedupe.
		res, err := tx.Run(ctx, `
MATCH (e:Entity)
WHERE NOT e.id IN $ids
DETACH DELETE e
`, map[string]any{"ids": liveIDs})
		if err != nil {
			return nil, err
		}
		if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return err
	}

	m.log.Info("graph mirror refreshed", "nodes", len(nodeRecs), "edges", len(edgeRecs))
	return nil
}
