package repos

import (
	"encoding/json"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/papergraph-backend/internal/domain"
	"github.com/yungbote/papergraph-backend/internal/pkg/dbctx"
	"github.com/yungbote/papergraph-backend/internal/platform/logger"
)

type PaperRepo interface {
	Upsert(dbc dbctx.Context, row *types.Paper) error
	GetByIDs(dbc dbctx.Context, ids []string) ([]*types.Paper, error)
	GetExistingIDs(dbc dbctx.Context, ids []string) (map[string]bool, error)
	GetEmbedding(dbc dbctx.Context, id string) ([]float32, error)
	UpsertEmbedding(dbc dbctx.Context, id string, vec []float32) error
	UpdateFields(dbc dbctx.Context, id string, updates map[string]interface{}) error
	GetAll(dbc dbctx.Context) ([]*types.Paper, error)
}

type paperRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPaperRepo(db *gorm.DB, baseLog *logger.Logger) PaperRepo {
	return &paperRepo{db: db, log: baseLog.With("repo", "PaperRepo")}
}

func (r *paperRepo) Upsert(dbc dbctx.Context, row *types.Paper) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if row == nil || strings.TrimSpace(row.ID) == "" {
		return nil
	}
	row.UpdatedAt = time.Now().UTC()
	return t.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"title",
				"abstract",
				"year",
				"external_ids",
				"fulltext_path",
				"updated_at",
			}),
		}).
		Create(row).Error
}

func (r *paperRepo) GetByIDs(dbc dbctx.Context, ids []string) ([]*types.Paper, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var out []*types.Paper
	if len(ids) == 0 {
		return out, nil
	}
	if err := t.WithContext(dbc.Ctx).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *paperRepo) GetExistingIDs(dbc dbctx.Context, ids []string) (map[string]bool, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	out := map[string]bool{}
	if len(ids) == 0 {
		return out, nil
	}
	var found []string
	if err := t.WithContext(dbc.Ctx).
		Model(&types.Paper{}).
		Where("id IN ?", ids).
		Pluck("id", &found).Error; err != nil {
		return nil, err
	}
	for _, id := range found {
		out[id] = true
	}
	return out, nil
}

func (r *paperRepo) GetEmbedding(dbc dbctx.Context, id string) ([]float32, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if strings.TrimSpace(id) == "" {
		return nil, nil
	}
	var row types.Paper
	if err := t.WithContext(dbc.Ctx).
		Select("id", "embedding").
		Where("id = ?", id).
		First(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	if len(row.Embedding) == 0 {
		return nil, nil
	}
	var vec []float32
	if err := json.Unmarshal(row.Embedding, &vec); err != nil {
		return nil, nil
	}
	if len(vec) == 0 {
		return nil, nil
	}
	return vec, nil
}

func (r *paperRepo) UpsertEmbedding(dbc dbctx.Context, id string, vec []float32) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if strings.TrimSpace(id) == "" || len(vec) == 0 {
		return nil
	}
	raw, err := json.Marshal(vec)
	if err != nil {
		return err
	}
	return t.WithContext(dbc.Ctx).
		Model(&types.Paper{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"embedding":  datatypes.JSON(raw),
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *paperRepo) UpdateFields(dbc dbctx.Context, id string, updates map[string]interface{}) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if strings.TrimSpace(id) == "" || len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now().UTC()
	return t.WithContext(dbc.Ctx).
		Model(&types.Paper{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *paperRepo) GetAll(dbc dbctx.Context) ([]*types.Paper, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var out []*types.Paper
	if err := t.WithContext(dbc.Ctx).Order("id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
