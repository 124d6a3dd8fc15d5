package domain

import (
	"time"

	"gorm.io/datatypes"
)

const (
	RelIntroduces = "introduces"
	RelUses       = "uses"
	RelEvaluates  = "evaluates"
	RelImprovesOn = "improves_on"
	RelExtends    = "extends"
	RelComparesTo = "compares_to"
)

func ValidRelationshipType(t string) bool {
	switch t {
	case RelIntroduces, RelUses, RelEvaluates, RelImprovesOn, RelExtends, RelComparesTo:
		return true
	}
	return false
}

// MaxEvidenceChars caps verbatim evidence quotes on edges.
const MaxEvidenceChars = 300

// Edge is a directed, typed relationship between two nodes, carrying the
// verbatim evidence quote and its provenance. Invariants: no self-edges;
// improves_on never targets a Dataset or Metric node.
type Edge struct {
	ID               int64   `gorm:"primaryKey;autoIncrement" json:"id"`
	SourceNodeID     int64   `gorm:"not null;index:idx_edge_source" json:"source_node_id"`
	TargetNodeID     int64   `gorm:"not null;index:idx_edge_target" json:"target_node_id"`
	RelationshipType string  `gorm:"not null" json:"relationship_type"`
	Confidence       float64 `gorm:"not null;default:0" json:"confidence"`
	Evidence         string  `gorm:"type:text" json:"evidence,omitempty"`
	// Provenance.
	PaperID     string `gorm:"index" json:"paper_id,omitempty"`
	SectionType string `json:"section_type,omitempty"`
	CharStart   int    `gorm:"not null;default:0" json:"char_start"`
	CharEnd     int    `gorm:"not null;default:0" json:"char_end"`
	// CrossPaper carries optional cross-paper provenance metadata.
	CrossPaper   datatypes.JSON `gorm:"column:cross_paper;type:jsonb" json:"cross_paper,omitempty"`
	ReviewStatus string         `gorm:"not null;default:'approved';index" json:"review_status"`
	CreatedAt    time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (Edge) TableName() string { return "edge" }
