package repos

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/papergraph-backend/internal/domain"
	"github.com/yungbote/papergraph-backend/internal/pkg/dbctx"
	"github.com/yungbote/papergraph-backend/internal/platform/logger"
)

type InsightRepo interface {
	// Insert skips rows whose (insight_type, subject set) already exists.
	Insert(dbc dbctx.Context, rows []*types.InferredInsight) (int, error)
	GetByTypes(dbc dbctx.Context, insightTypes []string) ([]*types.InferredInsight, error)
}

type insightRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewInsightRepo(db *gorm.DB, baseLog *logger.Logger) InsightRepo {
	return &insightRepo{db: db, log: baseLog.With("repo", "InsightRepo")}
}

func (r *insightRepo) Insert(dbc dbctx.Context, rows []*types.InferredInsight) (int, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if len(rows) == 0 {
		return 0, nil
	}
	res := t.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "insight_type"}, {Name: "subject_key"}},
			DoNothing: true,
		}).
		Create(&rows)
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

func (r *insightRepo) GetByTypes(dbc dbctx.Context, insightTypes []string) ([]*types.InferredInsight, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var out []*types.InferredInsight
	q := t.WithContext(dbc.Ctx).Order("confidence DESC, id ASC")
	if len(insightTypes) > 0 {
		q = q.Where("insight_type IN ?", insightTypes)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
