package domain

import (
	"time"

	"gorm.io/datatypes"
)

const (
	NodeConcept = "Concept"
	NodeMethod  = "Method"
	NodeDataset = "Dataset"
	NodeMetric  = "Metric"
	NodePaper   = "Paper"
)

func ValidNodeType(t string) bool {
	switch t {
	case NodeConcept, NodeMethod, NodeDataset, NodeMetric, NodePaper:
		return true
	}
	return false
}

const (
	ReviewApproved = "approved"
	ReviewFlagged  = "flagged"
	ReviewRejected = "rejected"
)

// Node is a typed entity in the knowledge graph. Extraction creates it, the
// validator adjusts confidence and review status, the resolver attaches
// links, and the deduper may subsume it into a winner.
type Node struct {
	ID   int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Type string `gorm:"not null;index:idx_node_canonical,unique,priority:2" json:"type"`
	// CanonicalName is the display form; CanonicalKey is its normalized form
	// and is the Tier A resolution key within a type.
	CanonicalName string `gorm:"not null" json:"canonical_name"`
	CanonicalKey  string `gorm:"not null;index:idx_node_canonical,unique,priority:1" json:"canonical_key"`
	// Metadata holds definition, evidence quote, and aliases.
	Metadata           datatypes.JSON `gorm:"type:jsonb" json:"metadata,omitempty"`
	OriginalConfidence float64        `gorm:"not null;default:0" json:"original_confidence"`
	AdjustedConfidence float64        `gorm:"not null;default:0" json:"adjusted_confidence"`
	ReviewStatus       string         `gorm:"not null;default:'approved';index" json:"review_status"`
	// EmbeddingRaw is the full-dimension vector; EmbeddingIndex is the reduced
	// fast-search vector. Both stored as JSON arrays, absent until Tier B runs.
	EmbeddingRaw   datatypes.JSON `gorm:"column:embedding_raw;type:jsonb" json:"embedding_raw,omitempty"`
	EmbeddingIndex datatypes.JSON `gorm:"column:embedding_index;type:jsonb" json:"embedding_index,omitempty"`
	CreatedAt      time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (Node) TableName() string { return "node" }

// NodeMetadata is the decoded shape of Node.Metadata.
type NodeMetadata struct {
	Definition string   `json:"definition,omitempty"`
	Evidence   string   `json:"evidence,omitempty"`
	Aliases    []string `json:"aliases,omitempty"`
}

// EntityMention links a node to the paper and section it was extracted from.
type EntityMention struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	NodeID       int64     `gorm:"not null;index:idx_mention_node_paper,unique,priority:1" json:"node_id"`
	PaperID      string    `gorm:"not null;index:idx_mention_node_paper,unique,priority:2" json:"paper_id"`
	SectionType  string    `gorm:"not null;index:idx_mention_node_paper,unique,priority:3" json:"section_type"`
	MentionCount int       `gorm:"not null;default:1" json:"mention_count"`
	CreatedAt    time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (EntityMention) TableName() string { return "entity_mention" }
