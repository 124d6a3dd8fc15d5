package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/papergraph-backend/internal/content"
	"github.com/yungbote/papergraph-backend/internal/platform/logger"
)

// AgentEntry is the persisted value of one cached provider call: the full
// output plus enough meta to audit it without re-running anything.
type AgentEntry struct {
	Key           string          `json:"key"`
	Provider      string          `json:"provider"`
	Model         string          `json:"model"`
	Agent         string          `json:"agent"`
	PromptVersion string          `json:"prompt_version"`
	SchemaVersion int             `json:"schema_version"`
	InputHash     string          `json:"input_hash"`
	Mode          string          `json:"mode,omitempty"`
	Output        json.RawMessage `json:"output"`
	OutputHash    string          `json:"output_hash"`
	FinishReason  string          `json:"finish_reason,omitempty"`
	TokensIn      int             `json:"tokens_in,omitempty"`
	TokensOut     int             `json:"tokens_out,omitempty"`
	DurationMS    int64           `json:"duration_ms"`
	CreatedAt     time.Time       `json:"created_at"`
}

// AgentKey derives the content address of a provider call. Any change to the
// prompt version, schema version, or canonical input lands in a new segment.
func AgentKey(provider, model, agent, promptVersion string, schemaVersion int, inputHash string) string {
	parts := []string{
		strings.TrimSpace(provider),
		strings.TrimSpace(model),
		strings.TrimSpace(agent),
		strings.TrimSpace(promptVersion),
		strconv.Itoa(schemaVersion),
		strings.TrimSpace(inputHash),
	}
	return content.HashBytes([]byte(strings.Join(parts, "|")))
}

type AgentCache struct {
	dir     string
	enabled bool
	log     *logger.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

func NewAgentCache(root string, enabled bool, log *logger.Logger) (*AgentCache, error) {
	dir := filepath.Join(root, "agent_cache")
	if enabled {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return &AgentCache{dir: dir, enabled: enabled, log: log}, nil
}

func (c *AgentCache) Enabled() bool {
	return c != nil && c.enabled
}

func (c *AgentCache) Get(key string) (*AgentEntry, bool) {
	if !c.Enabled() {
		return nil, false
	}
	raw, err := os.ReadFile(c.path(key))
	if err != nil {
		c.misses.Add(1)
		return nil, false
	}
	var entry AgentEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		if c.log != nil {
			c.log.Warn("agent cache entry unreadable, treating as miss", "key", key, "error", err)
		}
		c.misses.Add(1)
		return nil, false
	}
	if entry.Key != "" && entry.Key != key {
		if c.log != nil {
			c.log.Warn("agent cache entry key mismatch, treating as miss", "key", key, "entry_key", entry.Key)
		}
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return &entry, true
}

func (c *AgentCache) Put(entry *AgentEntry) error {
	if !c.Enabled() || entry == nil {
		return nil
	}
	if strings.TrimSpace(entry.Key) == "" {
		entry.Key = AgentKey(entry.Provider, entry.Model, entry.Agent, entry.PromptVersion, entry.SchemaVersion, entry.InputHash)
	}
	if entry.OutputHash == "" {
		entry.OutputHash = content.HashBytes(entry.Output)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return writeAtomic(c.path(entry.Key), raw)
}

func (c *AgentCache) Stats() (hits, misses int64) {
	if c == nil {
		return 0, 0
	}
	return c.hits.Load(), c.misses.Load()
}

func (c *AgentCache) path(key string) string {
	return filepath.Join(c.dir, key+".json")
}

// writeAtomic publishes a cache file via a sibling temp file and rename, so a
// reader never observes a partial write. Concurrent writers of the same key
// race harmlessly: the content is identical by construction.
func writeAtomic(path string, data []byte) error {
	tmp := path + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
