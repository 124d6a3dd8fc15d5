package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/yungbote/papergraph-backend/internal/agents/prompts"
	"github.com/yungbote/papergraph-backend/internal/cache"
	pkgerrors "github.com/yungbote/papergraph-backend/internal/pkg/errors"
	"github.com/yungbote/papergraph-backend/internal/pkg/lanes"
	"github.com/yungbote/papergraph-backend/internal/platform/logger"
	"github.com/yungbote/papergraph-backend/internal/platform/openai"
)

var registerPrompts sync.Once

// stubProvider scripts Generate responses by schema name and records the
// order of calls.
type stubProvider struct {
	mu      sync.Mutex
	calls   []string
	respond func(schemaName string) (openai.GenerateResult, error)
}

func (s *stubProvider) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	return nil, errors.New("not implemented")
}

func (s *stubProvider) Generate(ctx context.Context, req openai.GenerateRequest) (openai.GenerateResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req.SchemaName)
	s.mu.Unlock()
	return s.respond(req.SchemaName)
}

func (s *stubProvider) Provider() string   { return "stub" }
func (s *stubProvider) Model() string      { return "stub-model" }
func (s *stubProvider) EmbedModel() string { return "stub-embed" }

func newTestRunner(t *testing.T, provider openai.Client, cacheEnabled bool) *Runner {
	t.Helper()
	registerPrompts.Do(prompts.RegisterAll)

	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	agentCache, err := cache.NewAgentCache(t.TempDir(), cacheEnabled, log)
	if err != nil {
		t.Fatalf("agent cache: %v", err)
	}
	limiter := lanes.New(log, map[string]lanes.Config{lanes.LLM: {MaxConcurrent: 2}})
	r, err := NewRunner(log, provider, agentCache, limiter, nil)
	if err != nil {
		t.Fatalf("runner: %v", err)
	}
	return r
}

func relationshipInput() prompts.Input {
	return prompts.Input{
		PaperID:          "p1",
		PaperTitle:       "Test Paper",
		SectionsJSON:     `[{"section_type":"abstract","content":"we extend nerf"}]`,
		KnownNodesJSON:   `[{"name":"NeRF","type":"Method"}]`,
		MaxRelationships: 12,
		MaxEvidenceChars: 300,
	}
}

func stopResult(text string) (openai.GenerateResult, error) {
	return openai.GenerateResult{Text: text, FinishReason: "stop", TokensIn: 10, TokensOut: 5}, nil
}

func relationshipsJSON(n int) string {
	rels := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		rels = append(rels, map[string]any{
			"source":            fmt.Sprintf("method-%d", i),
			"target":            "NeRF",
			"relationship_type": "extends",
			"confidence":        1 - float64(i)*0.05,
			"section_type":      "abstract",
		})
	}
	raw, _ := json.Marshal(map[string]any{"relationships": rels})
	return string(raw)
}

func TestExtractRelationshipsNormalMode(t *testing.T) {
	provider := &stubProvider{respond: func(string) (openai.GenerateResult, error) {
		return stopResult(relationshipsJSON(3))
	}}
	r := newTestRunner(t, provider, false)

	out, meta, err := r.ExtractRelationships(context.Background(), relationshipInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta.Mode != ModeNormal {
		t.Fatalf("mode = %s, want normal", meta.Mode)
	}
	if len(out.Relationships) != 3 {
		t.Fatalf("relationships = %d, want 3", len(out.Relationships))
	}
	if len(provider.calls) != 1 || provider.calls[0] != "relationship_extract" {
		t.Fatalf("calls = %v", provider.calls)
	}
}

func TestExtractRelationshipsDegradesThroughModes(t *testing.T) {
	provider := &stubProvider{respond: func(schemaName string) (openai.GenerateResult, error) {
		switch schemaName {
		case "relationship_extract":
			return openai.GenerateResult{Text: "", FinishReason: "length"}, nil
		case "relationship_extract_compact":
			return stopResult("{not json")
		default:
			return stopResult(relationshipsJSON(12))
		}
	}}
	r := newTestRunner(t, provider, false)

	out, meta, err := r.ExtractRelationships(context.Background(), relationshipInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta.Mode != ModeMinimal {
		t.Fatalf("mode = %s, want minimal", meta.Mode)
	}
	want := []string{"relationship_extract", "relationship_extract_compact", "relationship_extract_minimal"}
	if len(provider.calls) != 3 {
		t.Fatalf("calls = %v", provider.calls)
	}
	for i, name := range want {
		if provider.calls[i] != name {
			t.Fatalf("call %d = %s, want %s", i, provider.calls[i], name)
		}
	}
	if len(out.Relationships) != minimalModeCap {
		t.Fatalf("minimal mode should cap at %d, got %d", minimalModeCap, len(out.Relationships))
	}
	for i := 1; i < len(out.Relationships); i++ {
		if out.Relationships[i].Confidence > out.Relationships[i-1].Confidence {
			t.Fatal("capped relationships should keep the highest confidences first")
		}
	}
}

func TestExtractRelationshipsAllModesExhausted(t *testing.T) {
	provider := &stubProvider{respond: func(string) (openai.GenerateResult, error) {
		return openai.GenerateResult{Text: "", FinishReason: "length"}, nil
	}}
	r := newTestRunner(t, provider, false)

	_, _, err := r.ExtractRelationships(context.Background(), relationshipInput())
	if !pkgerrors.IsKind(err, pkgerrors.KindTruncated) {
		t.Fatalf("expected truncated fault, got %v", err)
	}
	if len(provider.calls) != 3 {
		t.Fatalf("all three modes should be attempted, calls = %v", provider.calls)
	}
}

func TestExtractRelationshipsFatalFailureDoesNotDegrade(t *testing.T) {
	provider := &stubProvider{respond: func(string) (openai.GenerateResult, error) {
		return openai.GenerateResult{}, pkgerrors.ProviderRefused("stub", errors.New("content policy"))
	}}
	r := newTestRunner(t, provider, false)

	_, _, err := r.ExtractRelationships(context.Background(), relationshipInput())
	if !pkgerrors.IsKind(err, pkgerrors.KindProviderRefused) {
		t.Fatalf("expected provider_refused, got %v", err)
	}
	if len(provider.calls) != 1 {
		t.Fatalf("fatal failure must not fall through, calls = %v", provider.calls)
	}
}

func TestRunServesFromCache(t *testing.T) {
	provider := &stubProvider{respond: func(string) (openai.GenerateResult, error) {
		return stopResult(relationshipsJSON(2))
	}}
	r := newTestRunner(t, provider, true)

	in := relationshipInput()
	if _, meta, err := r.ExtractRelationships(context.Background(), in); err != nil || meta.Cached {
		t.Fatalf("first call should miss: meta=%+v err=%v", meta, err)
	}
	out, meta, err := r.ExtractRelationships(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !meta.Cached {
		t.Fatal("second call should hit the cache")
	}
	if len(out.Relationships) != 2 {
		t.Fatalf("cached output lost data: %d", len(out.Relationships))
	}
	if len(provider.calls) != 1 {
		t.Fatalf("cache hit must not call the provider, calls = %v", provider.calls)
	}
}

func TestMissingRequiredInputFails(t *testing.T) {
	provider := &stubProvider{respond: func(string) (openai.GenerateResult, error) {
		t.Fatal("provider must not be called")
		return openai.GenerateResult{}, nil
	}}
	r := newTestRunner(t, provider, false)

	in := relationshipInput()
	in.KnownNodesJSON = ""
	_, _, err := r.ExtractRelationships(context.Background(), in)
	if !pkgerrors.IsKind(err, pkgerrors.KindSchemaInvalid) {
		t.Fatalf("expected schema_invalid, got %v", err)
	}
}
