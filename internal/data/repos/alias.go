package repos

import (
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/papergraph-backend/internal/domain"
	"github.com/yungbote/papergraph-backend/internal/pkg/dbctx"
	"github.com/yungbote/papergraph-backend/internal/platform/logger"
)

type AliasRepo interface {
	// Insert is idempotent on (canonical_node_id, normalized_form).
	Insert(dbc dbctx.Context, row *types.EntityAlias) error
	GetByCanonicalIDs(dbc dbctx.Context, canonicalIDs []int64) ([]*types.EntityAlias, error)
	DeleteByCanonicalIDs(dbc dbctx.Context, canonicalIDs []int64) error
}

type aliasRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAliasRepo(db *gorm.DB, baseLog *logger.Logger) AliasRepo {
	return &aliasRepo{db: db, log: baseLog.With("repo", "AliasRepo")}
}

func (r *aliasRepo) Insert(dbc dbctx.Context, row *types.EntityAlias) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if row == nil || row.CanonicalNodeID == 0 || strings.TrimSpace(row.NormalizedForm) == "" {
		return nil
	}
	err := t.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "canonical_node_id"}, {Name: "normalized_form"}},
			DoNothing: true,
		}).
		Create(row).Error
	if err != nil && isUniqueViolation(err) {
		return nil
	}
	return err
}

func (r *aliasRepo) GetByCanonicalIDs(dbc dbctx.Context, canonicalIDs []int64) ([]*types.EntityAlias, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var out []*types.EntityAlias
	if len(canonicalIDs) == 0 {
		return out, nil
	}
	if err := t.WithContext(dbc.Ctx).
		Where("canonical_node_id IN ?", canonicalIDs).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *aliasRepo) DeleteByCanonicalIDs(dbc dbctx.Context, canonicalIDs []int64) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if len(canonicalIDs) == 0 {
		return nil
	}
	return t.WithContext(dbc.Ctx).
		Where("canonical_node_id IN ?", canonicalIDs).
		Delete(&types.EntityAlias{}).Error
}
