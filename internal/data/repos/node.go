package repos

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/yungbote/papergraph-backend/internal/domain"
	"github.com/yungbote/papergraph-backend/internal/embeddings"
	"github.com/yungbote/papergraph-backend/internal/pkg/dbctx"
	"github.com/yungbote/papergraph-backend/internal/platform/logger"
)

// SimilarNode is one ANN candidate with its similarity to the query vector.
type SimilarNode struct {
	NodeID     int64
	Similarity float64
}

type SimilarNodesQuery struct {
	QueryIndexVec []float32
	Type          string
	Threshold     float64
	Limit         int
}

type NodeRepo interface {
	Insert(dbc dbctx.Context, row *types.Node) (int64, error)
	GetByIDs(dbc dbctx.Context, ids []int64) ([]*types.Node, error)
	FindByCanonicalKeys(dbc dbctx.Context, keys []string, nodeType string) (map[string]*types.Node, error)
	// FindSimilarNodes is the repository fallback ANN: a linear scan over
	// same-typed nodes' index embeddings. An external vector index replaces
	// this path when configured.
	FindSimilarNodes(dbc dbctx.Context, q SimilarNodesQuery) ([]SimilarNode, error)
	UpsertEmbeddings(dbc dbctx.Context, id int64, raw, index []float32) error
	UpdateFields(dbc dbctx.Context, id int64, updates map[string]interface{}) error
	GetAll(dbc dbctx.Context, reviewStatuses []string) ([]*types.Node, error)
	DeleteByIDs(dbc dbctx.Context, ids []int64) error
}

type nodeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewNodeRepo(db *gorm.DB, baseLog *logger.Logger) NodeRepo {
	return &nodeRepo{db: db, log: baseLog.With("repo", "NodeRepo")}
}

func (r *nodeRepo) Insert(dbc dbctx.Context, row *types.Node) (int64, error) {
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

func (r *nodeRepo) GetByIDs(dbc dbctx.Context, ids []int64) ([]*types.Node, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var out []*types.Node
	if len(ids) == 0 {
		return out, nil
	}
	if err := t.WithContext(dbc.Ctx).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *nodeRepo) FindByCanonicalKeys(dbc dbctx.Context, keys []string, nodeType string) (map[string]*types.Node, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	out := map[string]*types.Node{}
	if len(keys) == 0 {
		return out, nil
	}
	var rows []*types.Node
	q := t.WithContext(dbc.Ctx).Where("canonical_key IN ?", keys)
	if strings.TrimSpace(nodeType) != "" {
		q = q.Where("type = ?", nodeType)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, n := range rows {
		if n == nil {
			continue
		}
		// First-writer wins on duplicates; the deduper cleans the rest.
		if _, ok := out[n.CanonicalKey]; !ok {
			out[n.CanonicalKey] = n
		}
	}
	return out, nil
}

func (r *nodeRepo) FindSimilarNodes(dbc dbctx.Context, q SimilarNodesQuery) ([]SimilarNode, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if len(q.QueryIndexVec) == 0 {
		return nil, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	var rows []*types.Node
	sel := t.WithContext(dbc.Ctx).
		Select("id", "embedding_index").
		Where("embedding_index IS NOT NULL").
		Where("review_status <> ?", types.ReviewRejected)
	if strings.TrimSpace(q.Type) != "" {
		sel = sel.Where("type = ?", q.Type)
	}
	if err := sel.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]SimilarNode, 0, limit)
	for _, n := range rows {
		if n == nil || len(n.EmbeddingIndex) == 0 {
			continue
		}
		var vec []float32
		if err := json.Unmarshal(n.EmbeddingIndex, &vec); err != nil || len(vec) == 0 {
			continue
		}
		sim := embeddings.Cosine(q.QueryIndexVec, vec)
		if sim < q.Threshold {
			continue
		}
		out = append(out, SimilarNode{NodeID: n.ID, Similarity: sim})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].NodeID < out[j].NodeID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *nodeRepo) UpsertEmbeddings(dbc dbctx.Context, id int64, raw, index []float32) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if id == 0 {
		return nil
	}
	updates := map[string]interface{}{"updated_at": time.Now().UTC()}
	if len(raw) > 0 {
		b, err := json.Marshal(raw)
		if err != nil {
			return err
		}
		updates["embedding_raw"] = datatypes.JSON(b)
	}
	if len(index) > 0 {
		b, err := json.Marshal(index)
		if err != nil {
			return err
		}
		updates["embedding_index"] = datatypes.JSON(b)
	}
	return t.WithContext(dbc.Ctx).
		Model(&types.Node{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *nodeRepo) UpdateFields(dbc dbctx.Context, id int64, updates map[string]interface{}) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if id == 0 || len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now().UTC()
	return t.WithContext(dbc.Ctx).
		Model(&types.Node{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *nodeRepo) GetAll(dbc dbctx.Context, reviewStatuses []string) ([]*types.Node, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var out []*types.Node
	q := t.WithContext(dbc.Ctx).Order("id ASC")
	if len(reviewStatuses) > 0 {
		q = q.Where("review_status IN ?", reviewStatuses)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *nodeRepo) DeleteByIDs(dbc dbctx.Context, ids []int64) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if len(ids) == 0 {
		return nil
	}
	return t.WithContext(dbc.Ctx).Where("id IN ?", ids).Delete(&types.Node{}).Error
}
