package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/yungbote/papergraph-backend/internal/content"
	"github.com/yungbote/papergraph-backend/internal/platform/logger"
)

// DerivedKey addresses a computed artifact by what produced it: the artifact
// type, the hashes of its source artifacts (order-insensitive), and the
// schema/prompt versions that shaped it.
func DerivedKey(artifactType string, sourceHashes []string, schemaVersion int, promptVersion string) string {
	seen := map[string]bool{}
	srcs := make([]string, 0, len(sourceHashes))
	for _, h := range sourceHashes {
		h = strings.TrimSpace(h)
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		srcs = append(srcs, h)
	}
	sort.Strings(srcs)
	base := strings.TrimSpace(artifactType) +
		"|sources=" + strings.Join(srcs, ",") +
		"|schema=" + strconv.Itoa(schemaVersion) +
		"|prompt=" + strings.TrimSpace(promptVersion)
	return content.HashBytes([]byte(base))
}

type derivedEnvelope struct {
	Key       string          `json:"key"`
	Type      string          `json:"type"`
	Value     json.RawMessage `json:"value"`
	ValueHash string          `json:"value_hash"`
	CreatedAt time.Time       `json:"created_at"`
}

type CacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// DerivedCache is the second cache layer, for artifacts computed from other
// artifacts rather than from raw provider calls. Hit/miss counts are tracked
// per artifact type.
type DerivedCache struct {
	dir     string
	enabled bool
	log     *logger.Logger

	mu    sync.Mutex
	stats map[string]*CacheStats
}

func NewDerivedCache(root string, enabled bool, log *logger.Logger) (*DerivedCache, error) {
	dir := filepath.Join(root, "derived")
	if enabled {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return &DerivedCache{dir: dir, enabled: enabled, log: log, stats: map[string]*CacheStats{}}, nil
}

func (c *DerivedCache) Enabled() bool {
	return c != nil && c.enabled
}

func (c *DerivedCache) Get(artifactType, key string, out any) bool {
	if !c.Enabled() {
		return false
	}
	raw, err := os.ReadFile(c.path(artifactType, key))
	if err != nil {
		c.count(artifactType, false)
		return false
	}
	var env derivedEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Key != key {
		if c.log != nil {
			c.log.Warn("derived cache entry unreadable, treating as miss", "type", artifactType, "key", key, "error", err)
		}
		c.count(artifactType, false)
		return false
	}
	if out != nil {
		if err := json.Unmarshal(env.Value, out); err != nil {
			if c.log != nil {
				c.log.Warn("derived cache value does not decode, treating as miss", "type", artifactType, "key", key, "error", err)
			}
			c.count(artifactType, false)
			return false
		}
	}
	c.count(artifactType, true)
	return true
}

func (c *DerivedCache) Put(artifactType, key string, v any) error {
	if !c.Enabled() {
		return nil
	}
	value, err := json.Marshal(v)
	if err != nil {
		return err
	}
	env := derivedEnvelope{
		Key:       key,
		Type:      artifactType,
		Value:     value,
		ValueHash: content.HashBytes(value),
		CreatedAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	dir := filepath.Join(c.dir, sanitizeType(artifactType))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return writeAtomic(c.path(artifactType, key), raw)
}

func (c *DerivedCache) Stats() map[string]CacheStats {
	out := map[string]CacheStats{}
	if c == nil {
		return out
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range c.stats {
		out[k] = *v
	}
	return out
}

func (c *DerivedCache) count(artifactType string, hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.stats[artifactType]
	if !ok {
		s = &CacheStats{}
		c.stats[artifactType] = s
	}
	if hit {
		s.Hits++
	} else {
		s.Misses++
	}
}

func (c *DerivedCache) path(artifactType, key string) string {
	return filepath.Join(c.dir, sanitizeType(artifactType), key+".json")
}

func sanitizeType(t string) string {
	t = strings.TrimSpace(strings.ToLower(t))
	t = strings.ReplaceAll(t, string(os.PathSeparator), "_")
	t = strings.ReplaceAll(t, " ", "_")
	if t == "" {
		t = "unknown"
	}
	return t
}
