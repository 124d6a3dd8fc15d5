package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Paper is the unit of ingestion. The ID is the stable identifier from the
// preferred bibliographic source (else a normalized-title surrogate); rows
// are created on first mention and only ever mutated through upsert.
type Paper struct {
	ID       string `gorm:"primaryKey" json:"id"`
	Title    string `gorm:"not null" json:"title"`
	Abstract string `gorm:"type:text" json:"abstract,omitempty"`
	Year     int    `gorm:"index" json:"year,omitempty"`
	// ExternalIDs maps source name -> source-local id ({"semantic_scholar": "...", "arxiv": "..."}).
	ExternalIDs datatypes.JSON `gorm:"column:external_ids;type:jsonb" json:"external_ids,omitempty"`
	// Embedding caches the seed-gating vector ([]float32 as JSON).
	Embedding datatypes.JSON `gorm:"type:jsonb" json:"embedding,omitempty"`
	// FulltextPath records the archived full-text object, when one was stored.
	FulltextPath string    `gorm:"column:fulltext_path" json:"fulltext_path,omitempty"`
	CreatedAt    time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt    time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Paper) TableName() string { return "paper" }

// Section types form a closed set; anything unrecognized maps to "other".
const (
	SectionAbstract    = "abstract"
	SectionMethods     = "methods"
	SectionResults     = "results"
	SectionRelatedWork = "related_work"
	SectionConclusion  = "conclusion"
	SectionOther       = "other"
)

func ValidSectionType(t string) bool {
	switch t {
	case SectionAbstract, SectionMethods, SectionResults, SectionRelatedWork, SectionConclusion, SectionOther:
		return true
	}
	return false
}

// Section is one ordered part of a paper's structured text. Content is capped
// at 8000 chars per part; longer text splits into consecutive part_index rows.
type Section struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	PaperID     string    `gorm:"not null;index:idx_section_paper" json:"paper_id"`
	SectionType string    `gorm:"not null;index:idx_section_paper" json:"section_type"`
	PartIndex   int       `gorm:"not null;default:0" json:"part_index"`
	Content     string    `gorm:"type:text;not null" json:"content"`
	WordCount   int       `gorm:"not null;default:0" json:"word_count"`
	CreatedAt   time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (Section) TableName() string { return "section" }
