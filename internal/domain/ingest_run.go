package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	IngestRunning   = "running"
	IngestPartial   = "partial"
	IngestSucceeded = "succeeded"
	IngestFailed    = "failed"
	IngestSkipped   = "skipped"
)

// IngestRun tracks one paper's progress through the pipeline within a run.
// The orchestrator writes a row at each stage boundary; a failed paper stays
// "partial" with the stage and error kind recorded, and re-running the same
// stages completes it.
type IngestRun struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	RunID        uuid.UUID      `gorm:"type:uuid;not null;index:idx_ingest_run_paper,unique,priority:1" json:"run_id"`
	PaperID      string         `gorm:"not null;index:idx_ingest_run_paper,unique,priority:2" json:"paper_id"`
	Stage        string         `json:"stage,omitempty"`
	Status       string         `gorm:"not null;default:'running';index" json:"status"`
	ErrorKind    string         `json:"error_kind,omitempty"`
	ErrorMessage string         `gorm:"type:text" json:"error_message,omitempty"`
	Stats        datatypes.JSON `gorm:"type:jsonb" json:"stats,omitempty"`
	CreatedAt    time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (IngestRun) TableName() string { return "ingest_run" }
