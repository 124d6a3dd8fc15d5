package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/yungbote/papergraph-backend/internal/agents/prompts"
	"github.com/yungbote/papergraph-backend/internal/cache"
	"github.com/yungbote/papergraph-backend/internal/content"
	"github.com/yungbote/papergraph-backend/internal/observability"
	pkgerrors "github.com/yungbote/papergraph-backend/internal/pkg/errors"
	"github.com/yungbote/papergraph-backend/internal/pkg/lanes"
	"github.com/yungbote/papergraph-backend/internal/pkg/retry"
	"github.com/yungbote/papergraph-backend/internal/platform/logger"
	"github.com/yungbote/papergraph-backend/internal/platform/openai"
)

// DegradationMode tags the relationship extraction variants. All modes share
// the same cache scope; the mode participates in the input hash so each
// variant caches separately.
type DegradationMode string

const (
	ModeNormal  DegradationMode = "normal"
	ModeCompact DegradationMode = "compact"
	ModeMinimal DegradationMode = "minimal"
)

// minimalModeCap bounds the relationship list in the last-resort mode.
const minimalModeCap = 8

// RunMeta reports how an agent call was satisfied.
type RunMeta struct {
	Cached       bool
	Mode         DegradationMode
	FinishReason string
	TokensIn     int
	TokensOut    int
	Duration     time.Duration
}

// Runner is the deterministic LLM invocation wrapper: content-addressed
// cache in front, lane admission and retries around the provider call, JSON
// schema parsing behind.
type Runner struct {
	log        *logger.Logger
	provider   openai.Client
	agentCache *cache.AgentCache
	limiter    *lanes.Limiter
	policy     retry.Policy
	metrics    *observability.Metrics
}

func NewRunner(log *logger.Logger, provider openai.Client, agentCache *cache.AgentCache, limiter *lanes.Limiter, metrics *observability.Metrics) (*Runner, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if provider == nil {
		return nil, fmt.Errorf("llm provider required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("lane limiter required")
	}
	return &Runner{
		log:        log.With("service", "AgentRunner"),
		provider:   provider,
		agentCache: agentCache,
		limiter:    limiter,
		policy:     retry.DefaultPolicy(),
		metrics:    metrics,
	}, nil
}

func (r *Runner) countCache(agent, outcome string) {
	if r.metrics != nil {
		r.metrics.CacheOps.Inc("l1", agent, outcome)
	}
}

// Run executes one named prompt against the provider, parsing the structured
// output into out. A cache hit returns without any provider call.
func (r *Runner) Run(ctx context.Context, name prompts.PromptName, in prompts.Input, out any) (*RunMeta, error) {
	return r.run(ctx, name, "", in, out)
}

func (r *Runner) run(ctx context.Context, name prompts.PromptName, mode DegradationMode, in prompts.Input, out any) (*RunMeta, error) {
	op := "agents." + string(name)

	prompt, err := prompts.Build(name, in)
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.KindSchemaInvalid, op, err)
	}
	promptVersion, schemaVersion, _ := prompts.Version(name)

	inputHash, err := content.StableHash(struct {
		Mode  DegradationMode `json:"mode,omitempty"`
		Input prompts.Input   `json:"input"`
	}{Mode: mode, Input: in})
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.KindSchemaInvalid, op, err)
	}

	key := cache.AgentKey(r.provider.Provider(), r.provider.Model(), string(name), promptVersion, schemaVersion, inputHash)
	if entry, ok := r.agentCache.Get(key); ok {
		if err := json.Unmarshal(entry.Output, out); err == nil {
			r.countCache(string(name), "hit")
			return &RunMeta{Cached: true, Mode: mode, FinishReason: entry.FinishReason}, nil
		}
		r.log.Warn("cached agent output unparseable, re-running", "agent", string(name), "key", key)
	}
	r.countCache(string(name), "miss")

	started := time.Now()
	var res openai.GenerateResult
	err = retry.Do(ctx, r.policy, func(ctx context.Context) error {
		return r.limiter.Limit(ctx, lanes.LLM, func(ctx context.Context) error {
			got, genErr := r.provider.Generate(ctx, openai.GenerateRequest{
				System:     prompt.System,
				User:       prompt.User,
				SchemaName: prompt.SchemaName,
				Schema:     prompt.Schema,
			})
			if genErr != nil {
				return pkgerrors.Classify(op, genErr)
			}
			res = got
			return nil
		})
	})
	if r.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		r.metrics.ProviderRequests.Inc(r.provider.Provider(), string(name), outcome)
		r.metrics.ProviderLatency.Observe(time.Since(started).Seconds(), r.provider.Provider(), string(name))
	}
	if err != nil {
		return nil, err
	}
	if r.metrics != nil {
		r.metrics.ProviderTokens.Add(float64(res.TokensIn), r.provider.Provider(), "in")
		r.metrics.ProviderTokens.Add(float64(res.TokensOut), r.provider.Provider(), "out")
	}

	meta := &RunMeta{
		Mode:         mode,
		FinishReason: res.FinishReason,
		TokensIn:     res.TokensIn,
		TokensOut:    res.TokensOut,
		Duration:     time.Since(started),
	}

	if res.FinishReason != "stop" {
		return meta, pkgerrors.Truncated(op, fmt.Errorf("finish reason %q", res.FinishReason))
	}
	if err := json.Unmarshal([]byte(res.Text), out); err != nil {
		return meta, pkgerrors.SchemaInvalid(op, err)
	}

	if putErr := r.agentCache.Put(&cache.AgentEntry{
		Key:           key,
		Provider:      r.provider.Provider(),
		Model:         r.provider.Model(),
		Agent:         string(name),
		PromptVersion: promptVersion,
		SchemaVersion: schemaVersion,
		InputHash:     inputHash,
		Mode:          string(mode),
		Output:        json.RawMessage(res.Text),
		FinishReason:  res.FinishReason,
		TokensIn:      res.TokensIn,
		TokensOut:     res.TokensOut,
		DurationMS:    meta.Duration.Milliseconds(),
	}); putErr != nil {
		r.log.Warn("agent cache write failed", "agent", string(name), "error", putErr)
	}
	return meta, nil
}

// ExtractSections segments a paper's full text.
func (r *Runner) ExtractSections(ctx context.Context, in prompts.Input) (SectionExtractOutput, *RunMeta, error) {
	var out SectionExtractOutput
	meta, err := r.Run(ctx, prompts.PromptSectionExtract, in, &out)
	return out, meta, err
}

// ExtractEntities extracts typed entities from structured sections.
func (r *Runner) ExtractEntities(ctx context.Context, in prompts.Input) (EntityExtractOutput, *RunMeta, error) {
	var out EntityExtractOutput
	meta, err := r.Run(ctx, prompts.PromptEntityExtract, in, &out)
	return out, meta, err
}

// relationshipModes is the degradation dispatch table, tried in order.
var relationshipModes = []struct {
	mode   DegradationMode
	prompt prompts.PromptName
}{
	{ModeNormal, prompts.PromptRelationshipExtract},
	{ModeCompact, prompts.PromptRelationshipExtractCompact},
	{ModeMinimal, prompts.PromptRelationshipExtractMinimal},
}

// ExtractRelationships runs the relationship extractor with progressive
// degradation: truncation or schema failure in one mode falls through to the
// next more constrained mode. Non-degradable failures surface immediately.
func (r *Runner) ExtractRelationships(ctx context.Context, in prompts.Input) (RelationshipExtractOutput, *RunMeta, error) {
	var lastErr error
	for _, variant := range relationshipModes {
		var out RelationshipExtractOutput
		meta, err := r.run(ctx, variant.prompt, variant.mode, in, &out)
		if err == nil {
			if variant.mode == ModeMinimal && len(out.Relationships) > minimalModeCap {
				sort.SliceStable(out.Relationships, func(i, j int) bool {
					return out.Relationships[i].Confidence > out.Relationships[j].Confidence
				})
				out.Relationships = out.Relationships[:minimalModeCap]
			}
			return out, meta, nil
		}

		switch pkgerrors.KindOf(err) {
		case pkgerrors.KindTruncated, pkgerrors.KindSchemaInvalid:
			r.log.Warn("relationship extraction degrading",
				"mode", string(variant.mode),
				"error", err,
			)
			lastErr = err
			continue
		default:
			return RelationshipExtractOutput{}, meta, err
		}
	}
	return RelationshipExtractOutput{}, nil, lastErr
}
