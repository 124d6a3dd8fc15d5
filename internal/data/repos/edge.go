package repos

import (
	"time"

	"gorm.io/gorm"

	types "github.com/yungbote/papergraph-backend/internal/domain"
	"github.com/yungbote/papergraph-backend/internal/pkg/dbctx"
	"github.com/yungbote/papergraph-backend/internal/platform/logger"
)

type EdgeRepo interface {
	Insert(dbc dbctx.Context, row *types.Edge) (int64, error)
	GetByIDs(dbc dbctx.Context, ids []int64) ([]*types.Edge, error)
	GetByNodeIDs(dbc dbctx.Context, nodeIDs []int64, reviewStatuses []string) ([]*types.Edge, error)
	GetAll(dbc dbctx.Context, reviewStatuses []string) ([]*types.Edge, error)
	UpdateEndpoints(dbc dbctx.Context, id int64, newSource, newTarget *int64) error
	DeleteByIDs(dbc dbctx.Context, ids []int64) error
	// CountByNodeIDs returns how many surviving edges reference each node,
	// used by the dedupe integrity scan.
	CountByNodeIDs(dbc dbctx.Context, nodeIDs []int64) (map[int64]int64, error)
}

type edgeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEdgeRepo(db *gorm.DB, baseLog *logger.Logger) EdgeRepo {
	return &edgeRepo{db: db, log: baseLog.With("repo", "EdgeRepo")}
}

func (r *edgeRepo) Insert(dbc dbctx.Context, row *types.Edge) (int64, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if row == nil {
		return 0, nil
	}
	if err := t.WithContext(dbc.Ctx).Create(row).Error; err != nil {
		return 0, err
	}
	return row.ID, nil
}

func (r *edgeRepo) GetByIDs(dbc dbctx.Context, ids []int64) ([]*types.Edge, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var out []*types.Edge
	if len(ids) == 0 {
		return out, nil
	}
	if err := t.WithContext(dbc.Ctx).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *edgeRepo) GetByNodeIDs(dbc dbctx.Context, nodeIDs []int64, reviewStatuses []string) ([]*types.Edge, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var out []*types.Edge
	if len(nodeIDs) == 0 {
		return out, nil
	}
	q := t.WithContext(dbc.Ctx).
		Where("source_node_id IN ? OR target_node_id IN ?", nodeIDs, nodeIDs)
	if len(reviewStatuses) > 0 {
		q = q.Where("review_status IN ?", reviewStatuses)
	}
	if err := q.Order("id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *edgeRepo) GetAll(dbc dbctx.Context, reviewStatuses []string) ([]*types.Edge, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var out []*types.Edge
	q := t.WithContext(dbc.Ctx).Order("id ASC")
	if len(reviewStatuses) > 0 {
		q = q.Where("review_status IN ?", reviewStatuses)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *edgeRepo) UpdateEndpoints(dbc dbctx.Context, id int64, newSource, newTarget *int64) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if id == 0 || (newSource == nil && newTarget == nil) {
		return nil
	}
	updates := map[string]interface{}{"updated_at": time.Now().UTC()}
	if newSource != nil {
		updates["source_node_id"] = *newSource
	}
	if newTarget != nil {
		updates["target_node_id"] = *newTarget
	}
	return t.WithContext(dbc.Ctx).
		Model(&types.Edge{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *edgeRepo) DeleteByIDs(dbc dbctx.Context, ids []int64) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if len(ids) == 0 {
		return nil
	}
	return t.WithContext(dbc.Ctx).Where("id IN ?", ids).Delete(&types.Edge{}).Error
}

func (r *edgeRepo) CountByNodeIDs(dbc dbctx.Context, nodeIDs []int64) (map[int64]int64, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	out := map[int64]int64{}
	if len(nodeIDs) == 0 {
		return out, nil
	}
	type rowCount struct {
		NodeID int64
		N      int64
	}
	var src []rowCount
	if err := t.WithContext(dbc.Ctx).
		Model(&types.Edge{}).
		Select("source_node_id AS node_id, COUNT(*) AS n").
		Where("source_node_id IN ?", nodeIDs).
		Group("source_node_id").
		Scan(&src).Error; err != nil {
		return nil, err
	}
	var tgt []rowCount
	if err := t.WithContext(dbc.Ctx).
		Model(&types.Edge{}).
		Select("target_node_id AS node_id, COUNT(*) AS n").
		Where("target_node_id IN ?", nodeIDs).
		Group("target_node_id").
		Scan(&tgt).Error; err != nil {
		return nil, err
	}
	for _, rc := range src {
		out[rc.NodeID] += rc.N
	}
	for _, rc := range tgt {
		out[rc.NodeID] += rc.N
	}
	return out, nil
}
