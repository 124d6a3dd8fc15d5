package db

import (
	"fmt"

	"gorm.io/gorm"

	types "github.com/yungbote/papergraph-backend/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(

		// Papers + structured text
		&types.Paper{},
		&types.Section{},

		// Knowledge graph
		&types.Node{},
		&types.Edge{},
		&types.EntityMention{},
		&types.EntityLink{},
		&types.EntityAlias{},

		// Reasoning products
		&types.InferredInsight{},

		// Run tracking
		&types.IngestRun{},
	)
}

func EnsureGraphIndexes(db *gorm.DB) error {
	// Edge endpoint scans dominate dedupe and reasoning; the per-column
	// indexes come from the model tags, this adds the combined lookups.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_edge_paper_type
		ON edge (paper_id, relationship_type);
	`).Error; err != nil {
		return fmt.Errorf("create idx_edge_paper_type: %w", err)
	}

	// The review surface defaults to approved rows.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_node_type_review
		ON node (type, review_status);
	`).Error; err != nil {
		return fmt.Errorf("create idx_node_type_review: %w", err)
	}

	// Link lifecycle queries filter by status then canonical.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_link_status_canonical
		ON entity_link (status, canonical_node_id);
	`).Error; err != nil {
		return fmt.Errorf("create idx_link_status_canonical: %w", err)
	}

	// Mention rewrites during dedupe address by node id.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_mention_paper
		ON entity_mention (paper_id);
	`).Error; err != nil {
		return fmt.Errorf("create idx_mention_paper: %w", err)
	}

	return nil
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	if err := AutoMigrateAll(s.db); err != nil {
		s.log.Error("Auto migration failed", "error", err)
		return err
	}
	if err := EnsureGraphIndexes(s.db); err != nil {
		s.log.Error("Graph index migration failed", "error", err)
		return err
	}
	return nil
}
