package repos

import (
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/papergraph-backend/internal/domain"
	"github.com/yungbote/papergraph-backend/internal/pkg/dbctx"
	"github.com/yungbote/papergraph-backend/internal/platform/logger"
)

type LinkFilters struct {
	NodeIDs          []int64
	CanonicalNodeIDs []int64
	LinkType         string
	Status           string
}

type LinkRepo interface {
	Insert(dbc dbctx.Context, row *types.EntityLink) error
	Get(dbc dbctx.Context, f LinkFilters) ([]*types.EntityLink, error)
	UpdateStatus(dbc dbctx.Context, id int64, status string) error
	// ApprovedAliasRoots returns node_id -> canonical_node_id over approved
	// alias_of links, the map graph views resolve through.
	ApprovedAliasRoots(dbc dbctx.Context) (map[int64]int64, error)
	DeleteByNodeIDs(dbc dbctx.Context, nodeIDs []int64) error
}

type linkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLinkRepo(db *gorm.DB, baseLog *logger.Logger) LinkRepo {
	return &linkRepo{db: db, log: baseLog.With("repo", "LinkRepo")}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *linkRepo) Insert(dbc dbctx.Context, row *types.EntityLink) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if row == nil || row.NodeID == 0 || row.CanonicalNodeID == 0 {
		return nil
	}
	row.UpdatedAt = time.Now().UTC()
	err := t.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "node_id"}, {Name: "canonical_node_id"}, {Name: "link_type"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status",
				"confidence",
				"evidence",
				"updated_at",
			}),
		}).
		Create(row).Error
	if err != nil && isUniqueViolation(err) {
		// Raced with an identical insert; the surviving row is equivalent.
		return nil
	}
	return err
}

func (r *linkRepo) Get(dbc dbctx.Context, f LinkFilters) ([]*types.EntityLink, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	q := t.WithContext(dbc.Ctx).Model(&types.EntityLink{})
	if len(f.NodeIDs) > 0 {
		q = q.Where("node_id IN ?", f.NodeIDs)
	}
	if len(f.CanonicalNodeIDs) > 0 {
		q = q.Where("canonical_node_id IN ?", f.CanonicalNodeIDs)
	}
	if strings.TrimSpace(f.LinkType) != "" {
		q = q.Where("link_type = ?", f.LinkType)
	}
	if strings.TrimSpace(f.Status) != "" {
		q = q.Where("status = ?", f.Status)
	}
	var out []*types.EntityLink
	if err := q.Order("id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *linkRepo) UpdateStatus(dbc dbctx.Context, id int64, status string) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if id == 0 || strings.TrimSpace(status) == "" {
		return nil
	}
	return t.WithContext(dbc.Ctx).
		Model(&types.EntityLink{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *linkRepo) ApprovedAliasRoots(dbc dbctx.Context) (map[int64]int64, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var rows []*types.EntityLink
	if err := t.WithContext(dbc.Ctx).
		Where("link_type = ? AND status = ?", types.LinkAliasOf, types.LinkApproved).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[int64]int64, len(rows))
	for _, l := range rows {
		if l != nil && l.NodeID != 0 && l.CanonicalNodeID != 0 {
			out[l.NodeID] = l.CanonicalNodeID
		}
	}
	return out, nil
}

func (r *linkRepo) DeleteByNodeIDs(dbc dbctx.Context, nodeIDs []int64) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if len(nodeIDs) == 0 {
		return nil
	}
	return t.WithContext(dbc.Ctx).
		Where("node_id IN ? OR canonical_node_id IN ?", nodeIDs, nodeIDs).
		Delete(&types.EntityLink{}).Error
}
