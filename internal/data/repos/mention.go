package repos

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/papergraph-backend/internal/domain"
	"github.com/yungbote/papergraph-backend/internal/pkg/dbctx"
	"github.com/yungbote/papergraph-backend/internal/platform/logger"
)

type MentionRepo interface {
	Insert(dbc dbctx.Context, rows []*types.EntityMention) error
	UpdateNode(dbc dbctx.Context, loserID, winnerID int64) error
	// CountByNode sums mention counts per node, the primary key of canonical
	// selection.
	CountByNode(dbc dbctx.Context, nodeIDs []int64) (map[int64]int64, error)
	GetByNodeIDs(dbc dbctx.Context, nodeIDs []int64) ([]*types.EntityMention, error)
	GetAll(dbc dbctx.Context) ([]*types.EntityMention, error)
	DeleteByIDs(dbc dbctx.Context, ids []int64) error
}

type mentionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMentionRepo(db *gorm.DB, baseLog *logger.Logger) MentionRepo {
	return &mentionRepo{db: db, log: baseLog.With("repo", "MentionRepo")}
}

func (r *mentionRepo) Insert(dbc dbctx.Context, rows []*types.EntityMention) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if len(rows) == 0 {
		return nil
	}
	// Repeat mentions of the same (node, paper, section) accumulate counts.
	return t.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "node_id"}, {Name: "paper_id"}, {Name: "section_type"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"mention_count": gorm.Expr("entity_mention.mention_count + excluded.mention_count"),
			}),
		}).
		Create(&rows).Error
}

func (r *mentionRepo) UpdateNode(dbc dbctx.Context, loserID, winnerID int64) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if loserID == 0 || winnerID == 0 || loserID == winnerID {
		return nil
	}
	// A direct node_id update can collide with an existing winner mention on
	// the unique (node, paper, section) key, so fold counts row by row.
	var loserRows []*types.EntityMention
	if err := t.WithContext(dbc.Ctx).Where("node_id = ?", loserID).Find(&loserRows).Error; err != nil {
		return err
	}
	for _, m := range loserRows {
		if m == nil {
			continue
		}
		if err := t.WithContext(dbc.Ctx).
			Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "node_id"}, {Name: "paper_id"}, {Name: "section_type"}},
				DoUpdates: clause.Assignments(map[string]interface{}{
					"mention_count": gorm.Expr("entity_mention.mention_count + excluded.mention_count"),
				}),
			}).
			Create(&types.EntityMention{
				NodeID:       winnerID,
				PaperID:      m.PaperID,
				SectionType:  m.SectionType,
				MentionCount: m.MentionCount,
			}).Error; err != nil {
			return err
		}
		if err := t.WithContext(dbc.Ctx).Where("id = ?", m.ID).Delete(&types.EntityMention{}).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *mentionRepo) CountByNode(dbc dbctx.Context, nodeIDs []int64) (map[int64]int64, error) {
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
	var rows []rowCount
	if err := t.WithContext(dbc.Ctx).
		Model(&types.EntityMention{}).
		Select("node_id, SUM(mention_count) AS n").
		Where("node_id IN ?", nodeIDs).
		Group("node_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, rc := range rows {
		out[rc.NodeID] = rc.N
	}
	return out, nil
}

func (r *mentionRepo) GetByNodeIDs(dbc dbctx.Context, nodeIDs []int64) ([]*types.EntityMention, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var out []*types.EntityMention
	if len(nodeIDs) == 0 {
		return out, nil
	}
	if err := t.WithContext(dbc.Ctx).Where("node_id IN ?", nodeIDs).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *mentionRepo) GetAll(dbc dbctx.Context) ([]*types.EntityMention, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var out []*types.EntityMention
	if err := t.WithContext(dbc.Ctx).Order("id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *mentionRepo) DeleteByIDs(dbc dbctx.Context, ids []int64) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if len(ids) == 0 {
		return nil
	}
	return t.WithContext(dbc.Ctx).Where("id IN ?", ids).Delete(&types.EntityMention{}).Error
}
