package domain

import "time"

const (
	LinkAliasOf         = "alias_of"
	LinkSameAsCandidate = "same_as_candidate"
)

const (
	LinkProposed = "proposed"
	LinkApproved = "approved"
	LinkRejected = "rejected"
)

// EntityLink records that a node resolves to a canonical node. The node keeps
// its own identity; graph views follow approved alias_of links, which makes
// merges reversible. Acyclicity holds because inserts resolve the target to
// its current root first: an approved canonical never has an outgoing
// approved alias_of link.
type EntityLink struct {
	ID              int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	NodeID          int64     `gorm:"not null;index:idx_link_node_canonical,unique,priority:1" json:"node_id"`
	CanonicalNodeID int64     `gorm:"not null;index:idx_link_node_canonical,unique,priority:2;index:idx_link_canonical" json:"canonical_node_id"`
	LinkType        string    `gorm:"not null;index:idx_link_node_canonical,unique,priority:3" json:"link_type"`
	Status          string    `gorm:"not null;default:'proposed';index" json:"status"`
	Confidence      float64   `gorm:"not null;default:0" json:"confidence"`
	Evidence        string    `gorm:"type:text" json:"evidence,omitempty"`
	CreatedAt       time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt       time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (EntityLink) TableName() string { return "entity_link" }

// EntityAlias is an idempotent (canonical, normalized alias) record used by
// the resolver's shared-signal check and human review.
type EntityAlias struct {
	ID              int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CanonicalNodeID int64     `gorm:"not null;index:idx_alias_canonical_norm,unique,priority:1" json:"canonical_node_id"`
	Alias           string    `gorm:"not null" json:"alias"`
	NormalizedForm  string    `gorm:"not null;index:idx_alias_canonical_norm,unique,priority:2" json:"normalized_form"`
	CreatedAt       time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (EntityAlias) TableName() string { return "entity_alias" }
