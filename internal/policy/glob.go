package policy

import (
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gobwas/glob"
)

// MatchPath reports whether a filesystem path matches a glob pattern using
// the spec's path semantics: `*` matches within one path segment, `**`
// matches across segments, `\` escapes the next character, comparison is
// case-sensitive. doublestar already implements exactly this dialect.
func MatchPath(pattern, path string) bool {
	ok, err := doublestar.Match(pattern, path)
	if err != nil {
		return false
	}
	return ok
}

// urlGlobCache memoizes compiled URL globs. It is a package-global
// singleton (globalURLCache) reached from Engine.evaluate with no
// surrounding lock held — engine handlers run on a concurrent worker pool,
// so the map itself needs its own lock rather than relying on a caller.
type urlGlobCache struct {
	mu       sync.RWMutex
	compiled map[string]glob.Glob
}

func newURLGlobCache() *urlGlobCache {
	return &urlGlobCache{compiled: make(map[string]glob.Glob)}
}

// MatchURL reports whether a URL (or bare host) pattern matches a
// normalised URL string. Matching is case-insensitive; bare-domain
// patterns (no scheme) are auto-prefixed with "https://" (the target is
// only lower-cased, so it must already carry its scheme, as NormalizeURL
// ensures) so "example.com" matches "https://example.com/path" — but not
// "https://example.com.evil.com", since an unwildcarded host is anchored
// at its own boundary rather than left open with a trailing "*".
func (c *urlGlobCache) MatchURL(pattern, target string) bool {
	pattern = normalizeURLPattern(pattern)
	target = strings.ToLower(target)

	c.mu.RLock()
	g, ok := c.compiled[pattern]
	c.mu.RUnlock()
	if ok {
		return g.Match(target)
	}

	// No separator set: `*`/`**` both match any run of characters,
	// including `/`, which is what lets a bare-domain pattern also cover
	// every path underneath it once auto-prefixed below.
	compiled, err := glob.Compile(pattern)
	if err != nil {
		return false
	}

	c.mu.Lock()
	c.compiled[pattern] = compiled
	c.mu.Unlock()
	return compiled.Match(target)
}

func normalizeURLPattern(pattern string) string {
	pattern = strings.ToLower(pattern)
	if !strings.Contains(pattern, "://") {
		pattern = "https://" + pattern
	}
	if !strings.Contains(pattern, "*") {
		// Bare "scheme://host" pattern with no explicit wildcard: match the
		// host exactly, or with an explicit port or path beneath it — a
		// bare "*" here would also match a longer hostname that merely
		// shares this prefix, e.g. "example.com" wrongly matching
		// "example.com.evil.com".
		pattern += "{,:*,/*}"
	}
	return pattern
}

// NormalizeURL lowercases the host portion of a URL while preserving path
// casing, per spec.md §4.2 step 1.
func NormalizeURL(raw string) string {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		scheme, rest = "https", raw
	}
	host, path, hasPath := strings.Cut(rest, "/")
	host = strings.ToLower(host)
	if hasPath {
		return scheme + "://" + host + "/" + path
	}
	return scheme + "://" + host
}
