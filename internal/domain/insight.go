package domain

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"gorm.io/datatypes"
)

const (
	InsightTransitive = "transitive_relationship"
	InsightCluster    = "concept_cluster"
	InsightAnomaly    = "anomaly"
)

// InferredInsight is a higher-order finding derived from the persisted graph.
// Deduplicated by (insight_type, sorted subject node set); SubjectKey is the
// canonical string form of that set and backs the uniqueness constraint.
type InferredInsight struct {
	ID          int64 `gorm:"primaryKey;autoIncrement" json:"id"`
	InsightType string `gorm:"not null;index:idx_insight_type_subjects,unique,priority:1" json:"insight_type"`
	// SubjectNodeIDs is the sorted []int64 as JSON.
	SubjectNodeIDs datatypes.JSON `gorm:"column:subject_node_ids;type:jsonb" json:"subject_node_ids"`
	SubjectKey     string         `gorm:"not null;index:idx_insight_type_subjects,unique,priority:2" json:"subject_key"`
	Claim          string         `gorm:"type:text;not null" json:"claim"`
	// ReasoningPath holds {claim, evidence edge ids, rule name}.
	ReasoningPath datatypes.JSON `gorm:"column:reasoning_path;type:jsonb" json:"reasoning_path,omitempty"`
	Confidence    float64        `gorm:"not null;default:0" json:"confidence"`
	CreatedAt     time.Time      `gorm:"not null;default:now()" json:"created_at"`
}

func (InferredInsight) TableName() string { return "inferred_insight" }

// SubjectKeyFor sorts node ids and joins them into the stable dedup key.
func SubjectKeyFor(nodeIDs []int64) string {
	ids := make([]int64, len(nodeIDs))
	copy(ids, nodeIDs)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
