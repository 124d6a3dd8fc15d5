package embeddings

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/yungbote/papergraph-backend/internal/cache"
	"github.com/yungbote/papergraph-backend/internal/content"
	pkgerrors "github.com/yungbote/papergraph-backend/internal/pkg/errors"
	"github.com/yungbote/papergraph-backend/internal/pkg/lanes"
	"github.com/yungbote/papergraph-backend/internal/pkg/retry"
	"github.com/yungbote/papergraph-backend/internal/platform/logger"
	"github.com/yungbote/papergraph-backend/internal/platform/openai"
	"github.com/yungbote/papergraph-backend/internal/utils"
)

const embedAgentName = "text_embed"

// Client batches and caches embedding generation. Input order is preserved,
// identical texts are embedded once, and each unique text is cached under its
// own content address so vectors are shared across callers.
type Client struct {
	log        *logger.Logger
	provider   openai.Client
	agentCache *cache.AgentCache
	limiter    *lanes.Limiter
	policy     retry.Policy
	batchSize  int
}

func NewClient(log *logger.Logger, provider openai.Client, agentCache *cache.AgentCache, limiter *lanes.Limiter) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if provider == nil {
		return nil, fmt.Errorf("embedding provider required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("lane limiter required")
	}
	return &Client{
		log:        log.With("service", "EmbeddingClient"),
		provider:   provider,
		agentCache: agentCache,
		limiter:    limiter,
		policy:     retry.DefaultPolicy(),
		batchSize:  utils.GetEnvAsInt("EMBED_BATCH_SIZE", 32, log),
	}, nil
}

// Embed returns one vector per input text, in input order. Empty input
// returns an empty slice without any I/O.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	// Deduplicate while remembering where each unique text goes back.
	uniq := make([]string, 0, len(texts))
	positions := make(map[string][]int, len(texts))
	for i, t := range texts {
		if _, seen := positions[t]; !seen {
			uniq = append(uniq, t)
		}
		positions[t] = append(positions[t], i)
	}

	vectors := make(map[string][]float32, len(uniq))
	misses := make([]string, 0, len(uniq))
	for _, t := range uniq {
		if vec, ok := c.cachedVector(t); ok {
			vectors[t] = vec
			continue
		}
		misses = append(misses, t)
	}

	for start := 0; start < len(misses); start += c.batchSize {
		end := start + c.batchSize
		if end > len(misses) {
			end = len(misses)
		}
		batch := misses[start:end]

		var got [][]float32
		err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
			return c.limiter.Limit(ctx, lanes.Embed, func(ctx context.Context) error {
				res, embedErr := c.provider.Embed(ctx, batch)
				if embedErr != nil {
					return pkgerrors.Classify("embeddings.batch", embedErr)
				}
				got = res
				return nil
			})
		})
		if err != nil {
			return nil, err
		}
		if len(got) != len(batch) {
			return nil, &pkgerrors.Fault{
				Kind: pkgerrors.KindSchemaInvalid,
				Op:   "embeddings.batch",
				Err:  fmt.Errorf("provider returned %d vectors for %d inputs", len(got), len(batch)),
			}
		}
		for i, t := range batch {
			vectors[t] = got[i]
			c.storeVector(t, got[i])
		}
	}

	out := make([][]float32, len(texts))
	for t, idxs := range positions {
		vec := vectors[t]
		for _, i := range idxs {
			out[i] = vec
		}
	}
	return out, nil
}

// EmbedOne is a convenience wrapper for single-text callers.
func (c *Client) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *Client) Model() string { return c.provider.EmbedModel() }

func (c *Client) textKey(text string) string {
	return cache.AgentKey(c.provider.Provider(), c.provider.EmbedModel(), embedAgentName, "1.0.0", 1, content.HashString(text))
}

func (c *Client) cachedVector(text string) ([]float32, bool) {
	if !c.agentCache.Enabled() {
		return nil, false
	}
	entry, ok := c.agentCache.Get(c.textKey(text))
	if !ok {
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal(entry.Output, &vec); err != nil || len(vec) == 0 {
		return nil, false
	}
	return vec, true
}

func (c *Client) storeVector(text string, vec []float32) {
	if !c.agentCache.Enabled() {
		return
	}
	raw, err := json.Marshal(vec)
	if err != nil {
		return
	}
	entry := &cache.AgentEntry{
		Key:           c.textKey(text),
		Provider:      c.provider.Provider(),
		Model:         c.provider.EmbedModel(),
		Agent:         embedAgentName,
		PromptVersion: "1.0.0",
		SchemaVersion: 1,
		InputHash:     content.HashString(text),
		Output:        raw,
		CreatedAt:     time.Now().UTC(),
	}
	if err := c.agentCache.Put(entry); err != nil {
		c.log.Warn("embedding cache write failed", "error", err)
	}
}
