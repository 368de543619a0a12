package middleware

import (
	"net/http"
	"regexp"
	"strings"
)

// PathNormalizer replaces dynamic path segments (UUIDs, numeric IDs) with
// placeholders to keep the metrics `path` label bounded. Without this, a
// progress-stream poll for every workflow run would mint a fresh label
// value and blow up cardinality.
type PathNormalizer struct {
	uuidPattern      *regexp.Regexp
	numericIDPattern *regexp.Regexp
}

// NewPathNormalizer creates a normalizer with default patterns.
func NewPathNormalizer() *PathNormalizer {
	return &PathNormalizer{
		uuidPattern:      regexp.MustCompile(`/[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`),
		numericIDPattern: regexp.MustCompile(`/\d{1,20}(?:/|$)`),
	}
}

// NormalizePath replaces UUID and numeric-ID segments in path with ":id".
func (n *PathNormalizer) NormalizePath(path string) string {
	if path == "" || path == "/" {
		return path
	}

	normalized := n.uuidPattern.ReplaceAllString(path, "/:id")
	normalized = n.numericIDPattern.ReplaceAllString(normalized, "/:id/")
	normalized = strings.TrimSuffix(normalized, "/")

	if normalized == "" {
		return "/"
	}
	return normalized
}

// Middleware stamps the request with its normalized path for downstream
// metrics middleware to read, without touching r.URL.Path (routing still
// needs the real path).
func (n *PathNormalizer) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Header.Set("X-Normalized-Path", n.NormalizePath(r.URL.Path))
			next.ServeHTTP(w, r)
		})
	}
}

// PathNormalizationMiddleware is a convenience wrapper around
// NewPathNormalizer().Middleware().
func PathNormalizationMiddleware() func(http.Handler) http.Handler {
	return NewPathNormalizer().Middleware()
}
