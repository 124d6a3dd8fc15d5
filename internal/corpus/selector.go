package corpus

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/yungbote/papergraph-backend/internal/data/repos"
	"github.com/yungbote/papergraph-backend/internal/domain"
	"github.com/yungbote/papergraph-backend/internal/embeddings"
	"github.com/yungbote/papergraph-backend/internal/pkg/dbctx"
	"github.com/yungbote/papergraph-backend/internal/pkg/lanes"
	"github.com/yungbote/papergraph-backend/internal/pkg/retry"
	"github.com/yungbote/papergraph-backend/internal/platform/arxiv"
	"github.com/yungbote/papergraph-backend/internal/platform/logger"
	"github.com/yungbote/papergraph-backend/internal/platform/semscholar"
)

// Candidate is one pooled retrieval result, scored during gating.
type Candidate struct {
	ID          string            `json:"id"`
	Source      string            `json:"source"`
	Title       string            `json:"title"`
	Abstract    string            `json:"abstract,omitempty"`
	Year        int               `json:"year,omitempty"`
	ExternalIDs map[string]string `json:"external_ids,omitempty"`
	Similarity  float64           `json:"sim_to_seed"`
	IsSeed      bool              `json:"is_seed,omitempty"`
}

// RetrievalStats counts what each sub-query contributed before dedup.
type RetrievalStats struct {
	SSSeed       int `json:"ssSeed"`
	SSCitations  int `json:"ssCitations"`
	SSReferences int `json:"ssReferences"`
	SSKeyword    int `json:"ssKeyword"`
	Arxiv        int `json:"arxiv"`
}

type GatingStats struct {
	Pooled        int     `json:"pooled"`
	Embedded      int     `json:"embedded"`
	SimMin        float64 `json:"sim_min"`
	SimMax        float64 `json:"sim_max"`
	SimMedian     float64 `json:"sim_median"`
	PassingCount  int     `json:"passing_count"`
	SelectedCount int     `json:"selected_count"`
}

type Selection struct {
	Seed      Candidate      `json:"seed"`
	Selected  []Candidate    `json:"selected"`
	Retrieval RetrievalStats `json:"retrieval_stats"`
	Gating    GatingStats    `json:"gating_stats"`
}

// Selector retrieves candidates from every available source, then applies
// the deterministic semantic gate. Retrieval is best-effort: a failing
// source contributes nothing; gating alone decides the final set.
type Selector struct {
	log      *logger.Logger
	cfg      Config
	ss       semscholar.Client
	ax       arxiv.Client
	embedder *embeddings.Client
	papers   repos.PaperRepo
	limiter  *lanes.Limiter
	policy   retry.Policy
}

func NewSelector(
	log *logger.Logger,
	cfg Config,
	ss semscholar.Client,
	ax arxiv.Client,
	embedder *embeddings.Client,
	papers repos.PaperRepo,
	limiter *lanes.Limiter,
) (*Selector, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedding client required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("lane limiter required")
	}
	return &Selector{
		log:      log.With("service", "CorpusSelector"),
		cfg:      cfg,
		ss:       ss,
		ax:       ax,
		embedder: embedder,
		papers:   papers,
		limiter:  limiter,
		policy:   retry.DefaultPolicy(),
	}, nil
}

// Select resolves the seed, pools candidates from every source, and gates
// them by cosine similarity against the seed embedding.
func (s *Selector) Select(ctx context.Context, seedTitle string, seedAuthors []string) (*Selection, error) {
	seedTitle = strings.TrimSpace(seedTitle)
	if seedTitle == "" {
		return nil, fmt.Errorf("seed title required")
	}

	seed, err := s.resolveSeed(ctx, seedTitle)
	if err != nil {
		return nil, err
	}

	pool, stats := s.retrieve(ctx, seed, seedAuthors)
	s.log.Info("retrieval pooled",
		"pooled", len(pool),
		"ss_seed", stats.SSSeed,
		"ss_citations", stats.SSCitations,
		"ss_references", stats.SSReferences,
		"ss_keyword", stats.SSKeyword,
		"arxiv", stats.Arxiv,
	)

	sel, err := s.gate(ctx, seed, pool)
	if err != nil {
		return nil, err
	}
	sel.Retrieval = stats
	return sel, nil
}

// resolveSeed tries the primary bibliographic source first, then the
// full-text index as fallback. Neither resolving is fatal for retrieval but
// is fatal for gating, so it fails the whole selection.
func (s *Selector) resolveSeed(ctx context.Context, title string) (Candidate, error) {
	if s.ss != nil {
		var match *semscholar.Paper
		err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
			return s.limiter.Limit(ctx, lanes.SourceBibliographic, func(ctx context.Context) error {
				m, qErr := s.ss.MatchPaper(ctx, title)
				if qErr != nil {
					return qErr
				}
				match = m
				return nil
			})
		})
		if err != nil {
			s.log.Warn("seed lookup failed on bibliographic source", "title", title, "error", err)
		} else if match != nil {
			return candidateFromSS(*match), nil
		}
	}

	if s.ax != nil {
		var entry *arxiv.Entry
		err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
			return s.limiter.Limit(ctx, lanes.SourceFulltext, func(ctx context.Context) error {
				e, qErr := s.ax.FindByExactTitle(ctx, title)
				if qErr != nil {
					return qErr
				}
				entry = e
				return nil
			})
		})
		if err != nil {
			s.log.Warn("seed lookup failed on full-text source", "title", title, "error", err)
		} else if entry != nil {
			return candidateFromArxiv(*entry), nil
		}
	}

	return Candidate{}, fmt.Errorf("seed %q could not be resolved from any source", title)
}

// retrieve fans out every sub-query concurrently. Sub-queries retry
// independently and fail independently; the pool is whatever survived.
func (s *Selector) retrieve(ctx context.Context, seed Candidate, seedAuthors []string) ([]Candidate, RetrievalStats) {
	var (
		mu    sync.Mutex
		pool  []Candidate
		stats RetrievalStats
	)
	add := func(cands []Candidate, counter *int) {
		mu.Lock()
		defer mu.Unlock()
		*counter += len(cands)
		pool = append(pool, cands...)
	}

	g, gctx := errgroup.WithContext(ctx)

	if s.ss != nil && seed.Source == sourceSemanticScholar {
		seedID := seed.ID
		g.Go(func() error {
			cands, err := s.ssQuery(gctx, "citations", func(ctx context.Context) ([]semscholar.Paper, error) {
				return s.ss.Citations(ctx, seedID, s.cfg.CitationLimit)
			})
			if err == nil {
				add(cands, &stats.SSCitations)
			}
			return nil
		})
		g.Go(func() error {
			cands, err := s.ssQuery(gctx, "references", func(ctx context.Context) ([]semscholar.Paper, error) {
				return s.ss.References(ctx, seedID, s.cfg.ReferenceLimit)
			})
			if err == nil {
				add(cands, &stats.SSReferences)
			}
			return nil
		})
	}
	if s.ss != nil {
		for _, kw := range s.cfg.KeywordQueries {
			kw := strings.TrimSpace(kw)
			if kw == "" {
				continue
			}
			g.Go(func() error {
				cands, err := s.ssQuery(gctx, "keyword:"+kw, func(ctx context.Context) ([]semscholar.Paper, error) {
					return s.ss.Search(ctx, kw, s.cfg.KeywordLimit)
				})
				if err == nil {
					add(cands, &stats.SSKeyword)
				}
				return nil
			})
		}
	}

	if s.ax != nil {
		seedTitle := seed.Title
		g.Go(func() error {
			cands, err := s.axQuery(gctx, "title", func(ctx context.Context) ([]arxiv.Entry, error) {
				return s.ax.SearchAll(ctx, seedTitle, s.cfg.ArxivLimit)
			})
			if err == nil {
				add(cands, &stats.Arxiv)
			}
			return nil
		})
		for _, author := range seedAuthors {
			author := strings.TrimSpace(author)
			if author == "" {
				continue
			}
			g.Go(func() error {
				cands, err := s.axQuery(gctx, "author:"+author, func(ctx context.Context) ([]arxiv.Entry, error) {
					return s.ax.SearchByAuthor(ctx, author, s.cfg.ArxivLimit)
				})
				if err == nil {
					add(cands, &stats.Arxiv)
				}
				return nil
			})
		}
		for _, cat := range s.cfg.ArxivCategories {
			cat := strings.TrimSpace(cat)
			if cat == "" {
				continue
			}
			g.Go(func() error {
				cands, err := s.axQuery(gctx, "category:"+cat, func(ctx context.Context) ([]arxiv.Entry, error) {
					return s.ax.SearchByCategory(ctx, cat, s.cfg.ArxivLimit)
				})
				if err == nil {
					add(cands, &stats.Arxiv)
				}
				return nil
			})
		}
	}

	_ = g.Wait()
	return dedupe(pool, seed), stats
}

func (s *Selector) ssQuery(ctx context.Context, name string, fn func(context.Context) ([]semscholar.Paper, error)) ([]Candidate, error) {
	var papers []semscholar.Paper
	err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
		return s.limiter.Limit(ctx, lanes.SourceBibliographic, func(ctx context.Context) error {
			got, qErr := fn(ctx)
			if qErr != nil {
				return qErr
			}
			papers = got
			return nil
		})
	})
	if err != nil {
		s.log.Warn("bibliographic sub-query failed", "query", name, "error", err)
		return nil, err
	}
	out := make([]Candidate, 0, len(papers))
	for _, p := range papers {
		out = append(out, candidateFromSS(p))
	}
	return out, nil
}

func (s *Selector) axQuery(ctx context.Context, name string, fn func(context.Context) ([]arxiv.Entry, error)) ([]Candidate, error) {
	var entries []arxiv.Entry
	err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
		return s.limiter.Limit(ctx, lanes.SourceFulltext, func(ctx context.Context) error {
			got, qErr := fn(ctx)
			if qErr != nil {
				return qErr
			}
			entries = got
			return nil
		})
	})
	if err != nil {
		s.log.Warn("full-text sub-query failed", "query", name, "error", err)
		return nil, err
	}
	out := make([]Candidate, 0, len(entries))
	for _, e := range entries {
		out = append(out, candidateFromArxiv(e))
	}
	return out, nil
}

// gate is the authoritative deterministic phase: embed, score, threshold.
func (s *Selector) gate(ctx context.Context, seed Candidate, pool []Candidate) (*Selection, error) {
	seedVec, err := s.seedEmbedding(ctx, seed)
	if err != nil {
		return nil, err
	}

	if len(pool) > s.cfg.MaxCandidatesToEmbed {
		pool = pool[:s.cfg.MaxCandidatesToEmbed]
	}

	vecs, err := s.candidateEmbeddings(ctx, pool)
	if err != nil {
		return nil, err
	}

	sims := make([]float64, 0, len(pool))
	passing := make([]Candidate, 0, len(pool))
	for i := range pool {
		if vecs[i] == nil {
			continue
		}
		sim := embeddings.Cosine(seedVec, vecs[i])
		pool[i].Similarity = sim
		sims = append(sims, sim)
		if sim >= s.cfg.SimilarityThreshold {
			passing = append(passing, pool[i])
		}
	}

	if s.cfg.TemporalRerank.Enabled {
		s.temporalRerank(passing)
	} else {
		sort.Slice(passing, func(i, j int) bool {
			if passing[i].Similarity != passing[j].Similarity {
				return passing[i].Similarity > passing[j].Similarity
			}
			return passing[i].ID < passing[j].ID
		})
	}

	seed.IsSeed = true
	seed.Similarity = 1.0
	selected := []Candidate{seed}
	for _, c := range passing {
		if len(selected) >= s.cfg.MaxSelectedPapers {
			break
		}
		selected = append(selected, c)
	}

	gating := GatingStats{
		Pooled:        len(pool),
		Embedded:      len(sims),
		PassingCount:  len(passing),
		SelectedCount: len(selected),
	}
	if len(sims) > 0 {
		sorted := append([]float64(nil), sims...)
		sort.Float64s(sorted)
		gating.SimMin = sorted[0]
		gating.SimMax = sorted[len(sorted)-1]
		gating.SimMedian = sorted[len(sorted)/2]
	}

	s.log.Info("semantic gating complete",
		"threshold", s.cfg.SimilarityThreshold,
		"embedded", gating.Embedded,
		"passing", gating.PassingCount,
		"selected", gating.SelectedCount,
	)
	return &Selection{Seed: seed, Selected: selected, Gating: gating}, nil
}

// seedEmbedding reuses a persisted embedding when the seed paper is already
// in the store, computing and persisting one otherwise.
func (s *Selector) seedEmbedding(ctx context.Context, seed Candidate) ([]float32, error) {
	dbc := dbctx.Context{Ctx: ctx}

	if s.papers != nil {
		if vec, err := s.papers.GetEmbedding(dbc, seed.ID); err == nil && len(vec) > 0 {
			return vec, nil
		}
	}

	vec, err := s.embedder.EmbedOne(ctx, embeddingText(seed))
	if err != nil {
		return nil, fmt.Errorf("seed embedding failed: %w", err)
	}

	if s.papers != nil {
		paper := &domain.Paper{
			ID:       seed.ID,
			Title:    seed.Title,
			Abstract: seed.Abstract,
			Year:     seed.Year,
		}
		if len(seed.ExternalIDs) > 0 {
			if raw, mErr := json.Marshal(seed.ExternalIDs); mErr == nil {
				paper.ExternalIDs = datatypes.JSON(raw)
			}
		}
		if err := s.papers.Upsert(dbc, paper); err != nil {
			s.log.Warn("seed paper upsert failed", "paper_id", seed.ID, "error", err)
		} else if err := s.papers.UpsertEmbedding(dbc, seed.ID, vec); err != nil {
			s.log.Warn("seed embedding persist failed", "paper_id", seed.ID, "error", err)
		}
	}
	return vec, nil
}

// candidateEmbeddings returns one vector per candidate in order, nil for
// candidates that could not be embedded. Already-ingested papers reuse their
// persisted embedding.
func (s *Selector) candidateEmbeddings(ctx context.Context, pool []Candidate) ([][]float32, error) {
	out := make([][]float32, len(pool))
	dbc := dbctx.Context{Ctx: ctx}

	missIdx := make([]int, 0, len(pool))
	missTexts := make([]string, 0, len(pool))

	var existing map[string]bool
	if s.papers != nil {
		ids := make([]string, 0, len(pool))
		for _, c := range pool {
			ids = append(ids, c.ID)
		}
		var err error
		existing, err = s.papers.GetExistingIDs(dbc, ids)
		if err != nil {
			s.log.Warn("existing paper lookup failed, embedding all candidates", "error", err)
			existing = nil
		}
	}

	for i, c := range pool {
		if existing != nil && existing[c.ID] {
			if vec, err := s.papers.GetEmbedding(dbc, c.ID); err == nil && len(vec) > 0 {
				out[i] = vec
				continue
			}
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, embeddingText(c))
	}

	if len(missTexts) > 0 {
		vecs, err := s.embedder.Embed(ctx, missTexts)
		if err != nil {
			return nil, fmt.Errorf("candidate embedding failed: %w", err)
		}
		for j, i := range missIdx {
			out[i] = vecs[j]
		}
	}
	return out, nil
}

// temporalRerank reorders the passing set by a weighted blend of similarity
// and publication recency. Ties break on higher similarity, then id.
func (s *Selector) temporalRerank(passing []Candidate) {
	tr := s.cfg.TemporalRerank
	now := time.Now().Year()
	score := func(c Candidate) float64 {
		return tr.SimilarityWeight*c.Similarity + tr.YearWeight*yearWeight(c.Year, now, tr.RecencyWindowYrs)
	}
	sort.Slice(passing, func(i, j int) bool {
		si, sj := score(passing[i]), score(passing[j])
		if si != sj {
			return si > sj
		}
		if passing[i].Similarity != passing[j].Similarity {
			return passing[i].Similarity > passing[j].Similarity
		}
		return passing[i].ID < passing[j].ID
	})
}

// yearWeight decays linearly from 1.0 at the current year to 0.5 at the edge
// of the recency window and 0 outside it. Unknown years score 0.
func yearWeight(year, currentYear, windowYears int) float64 {
	if year <= 0 || windowYears <= 0 {
		return 0
	}
	age := currentYear - year
	if age < 0 {
		age = 0
	}
	if age > windowYears {
		return 0
	}
	return 1.0 - 0.5*float64(age)/float64(windowYears)
}

// -------------------- pooling helpers --------------------

const (
	sourceSemanticScholar = "semantic_scholar"
	sourceArxiv           = "arxiv"
)

func candidateFromSS(p semscholar.Paper) Candidate {
	return Candidate{
		ID:          strings.TrimSpace(p.PaperID),
		Source:      sourceSemanticScholar,
		Title:       strings.TrimSpace(p.Title),
		Abstract:    strings.TrimSpace(p.Abstract),
		Year:        p.Year,
		ExternalIDs: p.ExternalIDs,
	}
}

func candidateFromArxiv(e arxiv.Entry) Candidate {
	return Candidate{
		ID:          "arxiv:" + e.ArxivID,
		Source:      sourceArxiv,
		Title:       e.Title,
		Abstract:    e.Abstract,
		Year:        e.Year,
		ExternalIDs: map[string]string{"ArXiv": e.ArxivID},
	}
}

// dedupe pools candidates by stable id, then by normalized title for
// cross-source duplicates, and never re-admits the seed.
func dedupe(pool []Candidate, seed Candidate) []Candidate {
	seenID := map[string]bool{seed.ID: true}
	seenTitle := map[string]bool{}
	if t := normalizeTitle(seed.Title); t != "" {
		seenTitle[t] = true
	}
	if ax := seed.ExternalIDs["ArXiv"]; ax != "" {
		seenID["arxiv:"+ax] = true
	}

	out := make([]Candidate, 0, len(pool))
	for _, c := range pool {
		if c.ID == "" || c.Title == "" {
			continue
		}
		if seenID[c.ID] {
			continue
		}
		if ax := c.ExternalIDs["ArXiv"]; ax != "" && seenID["arxiv:"+ax] {
			continue
		}
		title := normalizeTitle(c.Title)
		if title != "" && seenTitle[title] {
			continue
		}
		seenID[c.ID] = true
		if ax := c.ExternalIDs["ArXiv"]; ax != "" {
			seenID["arxiv:"+ax] = true
		}
		if title != "" {
			seenTitle[title] = true
		}
		out = append(out, c)
	}
	return out
}

func normalizeTitle(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func embeddingText(c Candidate) string {
	if c.Abstract == "" {
		return c.Title
	}
	return c.Title + "\n\n" + c.Abstract
}
