package repos

import (
	"gorm.io/gorm"

	types "github.com/yungbote/papergraph-backend/internal/domain"
	"github.com/yungbote/papergraph-backend/internal/pkg/dbctx"
	"github.com/yungbote/papergraph-backend/internal/platform/logger"
)

type SectionRepo interface {
	Insert(dbc dbctx.Context, rows []*types.Section) ([]*types.Section, error)
	GetByPaperID(dbc dbctx.Context, paperID string) ([]*types.Section, error)
	DeleteByPaperID(dbc dbctx.Context, paperID string) error
}

type sectionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSectionRepo(db *gorm.DB, baseLog *logger.Logger) SectionRepo {
	return &sectionRepo{db: db, log: baseLog.With("repo", "SectionRepo")}
}

func (r *sectionRepo) Insert(dbc dbctx.Context, rows []*types.Section) ([]*types.Section, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if len(rows) == 0 {
		return []*types.Section{}, nil
	}
	if err := t.WithContext(dbc.Ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *sectionRepo) GetByPaperID(dbc dbctx.Context, paperID string) ([]*types.Section, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var out []*types.Section
	if paperID == "" {
		return out, nil
	}
	if err := t.WithContext(dbc.Ctx).
		Where("paper_id = ?", paperID).
		Order("section_type ASC, part_index ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *sectionRepo) DeleteByPaperID(dbc dbctx.Context, paperID string) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if paperID == "" {
		return nil
	}
	return t.WithContext(dbc.Ctx).
		Where("paper_id = ?", paperID).
		Delete(&types.Section{}).Error
}
