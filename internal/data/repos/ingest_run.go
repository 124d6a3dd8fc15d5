package repos

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/papergraph-backend/internal/domain"
	"github.com/yungbote/papergraph-backend/internal/pkg/dbctx"
	"github.com/yungbote/papergraph-backend/internal/platform/logger"
)

type IngestRunRepo interface {
	Upsert(dbc dbctx.Context, row *types.IngestRun) error
	GetByRunID(dbc dbctx.Context, runID uuid.UUID) ([]*types.IngestRun, error)
}

type ingestRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewIngestRunRepo(db *gorm.DB, baseLog *logger.Logger) IngestRunRepo {
	return &ingestRunRepo{db: db, log: baseLog.With("repo", "IngestRunRepo")}
}

func (r *ingestRunRepo) Upsert(dbc dbctx.Context, row *types.IngestRun) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if row == nil || row.RunID == uuid.Nil || row.PaperID == "" {
		return nil
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	row.UpdatedAt = time.Now().UTC()
	return t.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "run_id"}, {Name: "paper_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"stage",
				"status",
				"error_kind",
				"error_message",
				"stats",
				"updated_at",
			}),
		}).
		Create(row).Error
}

func (r *ingestRunRepo) GetByRunID(dbc dbctx.Context, runID uuid.UUID) ([]*types.IngestRun, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var out []*types.IngestRun
	if runID == uuid.Nil {
		return out, nil
	}
	if err := t.WithContext(dbc.Ctx).
		Where("run_id = ?", runID).
		Order("paper_id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
