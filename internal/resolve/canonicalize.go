package resolve

import (
	"regexp"
	"strings"
	"sync"
)

var (
	parenAliasRe = regexp.MustCompile(`^(.*?)\s*\(([^)]+)\)\s*$`)
	nonWordRe    = regexp.MustCompile(`[^\p{L}\p{N}\s_-]+`)
	separatorRe  = regexp.MustCompile(`[\s-]+`)
)

const canonicalMemoCap = 10000

var canonicalMemo = struct {
	sync.Mutex
	m map[string]string
}{m: make(map[string]string)}

// Canonicalize normalizes an entity name into its Tier A resolution key:
// lowercase, trimmed, whitespace collapsed, parenthetical alias resolved
// ("X (Y)" keeps Y), non-word punctuation stripped, spaces and hyphens
// replaced with underscores. Idempotent, memoized.
func Canonicalize(name string) string {
	canonicalMemo.Lock()
	if v, ok := canonicalMemo.m[name]; ok {
		canonicalMemo.Unlock()
		return v
	}
	canonicalMemo.Unlock()

	out := canonicalize(name)

	canonicalMemo.Lock()
	if len(canonicalMemo.m) >= canonicalMemoCap {
		canonicalMemo.m = make(map[string]string)
	}
	canonicalMemo.m[name] = out
	canonicalMemo.Unlock()
	return out
}

func canonicalize(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.Join(strings.Fields(s), " ")

	if m := parenAliasRe.FindStringSubmatch(s); m != nil {
		alias := strings.TrimSpace(m[2])
		if alias != "" {
			s = alias
		}
	}

	s = nonWordRe.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	s = separatorRe.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	return s
}
