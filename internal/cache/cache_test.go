package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yungbote/papergraph-backend/internal/content"
)

func TestAgentCacheRoundTrip(t *testing.T) {
	c, err := NewAgentCache(t.TempDir(), true, nil)
	if err != nil {
		t.Fatalf("new agent cache: %v", err)
	}
	output := json.RawMessage(`{"entities":[{"name":"gaussian splatting"}]}`)
	key := AgentKey("openai", "gpt-4o-mini", "entity_extract", "1.2.0", 3, "abc123")
	entry := &AgentEntry{
		Key:           key,
		Provider:      "openai",
		Model:         "gpt-4o-mini",
		Agent:         "entity_extract",
		PromptVersion: "1.2.0",
		SchemaVersion: 3,
		InputHash:     "abc123",
		Output:        output,
		FinishReason:  "stop",
		DurationMS:    42,
	}
	if err := c.Put(entry); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok := c.Get(key)
	if !ok {
		t.Fatal("expected a cache hit after put")
	}
	if string(got.Output) != string(output) {
		t.Fatalf("output mismatch: %s vs %s", got.Output, output)
	}
	if got.OutputHash != content.HashBytes(output) {
		t.Fatalf("output hash mismatch: %s", got.OutputHash)
	}
	hits, misses := c.Stats()
	if hits != 1 || misses != 0 {
		t.Fatalf("expected 1 hit 0 misses, got %d/%d", hits, misses)
	}
}

func TestAgentCacheMissCounts(t *testing.T) {
	c, err := NewAgentCache(t.TempDir(), true, nil)
	if err != nil {
		t.Fatalf("new agent cache: %v", err)
	}
	if _, ok := c.Get("no-such-key"); ok {
		t.Fatal("expected a miss")
	}
	hits, misses := c.Stats()
	if hits != 0 || misses != 1 {
		t.Fatalf("expected 0 hits 1 miss, got %d/%d", hits, misses)
	}
}

func TestAgentCacheDisabledDoesNoIO(t *testing.T) {
	dir := t.TempDir()
	c, err := NewAgentCache(dir, false, nil)
	if err != nil {
		t.Fatalf("new agent cache: %v", err)
	}
	if err := c.Put(&AgentEntry{Key: "k", Output: json.RawMessage(`1`)}); err != nil {
		t.Fatalf("put on disabled cache: %v", err)
	}
	if _, ok := c.Get("k"); ok {
		t.Fatal("disabled cache must miss")
	}
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		sub, _ := os.ReadDir(filepath.Join(dir, e.Name()))
		if len(sub) != 0 {
			t.Fatalf("disabled cache wrote files: %v", sub)
		}
	}
}

func TestAgentKeyChangesWithEverySegment(t *testing.T) {
	base := AgentKey("openai", "m", "agent", "1.0.0", 1, "in")
	variants := []string{
		AgentKey("other", "m", "agent", "1.0.0", 1, "in"),
		AgentKey("openai", "m2", "agent", "1.0.0", 1, "in"),
		AgentKey("openai", "m", "agent2", "1.0.0", 1, "in"),
		AgentKey("openai", "m", "agent", "1.0.1", 1, "in"),
		AgentKey("openai", "m", "agent", "1.0.0", 2, "in"),
		AgentKey("openai", "m", "agent", "1.0.0", 1, "in2"),
	}
	for i, v := range variants {
		if v == base {
			t.Fatalf("variant %d collided with base key", i)
		}
	}
}

func TestWriteAtomicLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "entry.json")
	if err := writeAtomic(path, []byte(`{"a":1}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly the target file, got %d entries", len(entries))
	}
	if strings.HasSuffix(entries[0].Name(), ".tmp") {
		t.Fatalf("temp file left behind: %s", entries[0].Name())
	}
}

func TestDerivedKeyIgnoresSourceOrder(t *testing.T) {
	a := DerivedKey("sections", []string{"h2", "h1", "h1"}, 2, "1.0.0")
	b := DerivedKey("sections", []string{"h1", "h2"}, 2, "1.0.0")
	if a != b {
		t.Fatal("derived key must be order- and dup-insensitive over sources")
	}
	if a == DerivedKey("sections", []string{"h1", "h2"}, 2, "1.0.1") {
		t.Fatal("prompt version must participate in the derived key")
	}
	if a == DerivedKey("candidates", []string{"h1", "h2"}, 2, "1.0.0") {
		t.Fatal("artifact type must participate in the derived key")
	}
}

func TestDerivedCacheRoundTripAndStats(t *testing.T) {
	c, err := NewDerivedCache(t.TempDir(), true, nil)
	if err != nil {
		t.Fatalf("new derived cache: %v", err)
	}
	type artifact struct {
		Names []string `json:"names"`
	}
	key := DerivedKey("candidates", []string{"s1"}, 1, "1.0.0")
	if ok := c.Get("candidates", key, nil); ok {
		t.Fatal("expected a miss before put")
	}
	if err := c.Put("candidates", key, artifact{Names: []string{"a", "b"}}); err != nil {
		t.Fatalf("put: %v", err)
	}
	var got artifact
	if ok := c.Get("candidates", key, &got); !ok {
		t.Fatal("expected a hit after put")
	}
	if len(got.Names) != 2 || got.Names[0] != "a" {
		t.Fatalf("unexpected value: %+v", got)
	}
	stats := c.Stats()["candidates"]
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("expected 1 hit 1 miss, got %+v", stats)
	}
}
