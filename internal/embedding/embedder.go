// Package embedding provides text embedding contracts, the OpenAI-compatible
// HTTP backend, and caching.
package embedding

import (
	"context"
	"errors"
	"strings"
)

// Embedder produces fixed-dimension vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

var (
	// ErrRateLimited indicates the provider rejected the request for rate limiting
	// and retries were exhausted.
	ErrRateLimited = errors.New("embedding: rate limited")
	// ErrProviderUnavailable indicates the provider could not be reached or
	// returned a server-side failure.
	ErrProviderUnavailable = errors.New("embedding: provider unavailable")
	// ErrMalformedResponse indicates the provider returned a response that could
	// not be decoded into embeddings.
	ErrMalformedResponse = errors.New("embedding: malformed provider response")
)

// NormalizeText replaces newlines with spaces. Embedding providers commonly
// penalize embedded newlines, so inputs are normalized before submission.
func NormalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "\r", " ")
}
