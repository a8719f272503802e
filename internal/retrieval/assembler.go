// Package retrieval turns a query into ranked, attributed context snippets
// for prompt construction.
package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kiokudb/kioku/internal/embedding"
	"github.com/kiokudb/kioku/internal/index"
	"github.com/kiokudb/kioku/internal/models"
	"github.com/kiokudb/kioku/internal/storage"
)

// NoContextSentinel is rendered when retrieval produced no hits, so prompt
// assembly can detect the no-context case unambiguously.
const NoContextSentinel = "No relevant context found in the uploaded documents."

const contextHeader = "Based on the following context from uploaded documents:\n"

// Assembler embeds query text, searches the index, and renders ranked hits
// into an attributed context block.
type Assembler struct {
	embedder embedding.Embedder
	manager  *index.Manager
	docs     storage.DocumentStore // optional; nil skips display-name lookup
	logger   *zap.Logger
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithDocumentStore enables display-name lookup from the document side table.
func WithDocumentStore(s storage.DocumentStore) Option {
	return func(a *Assembler) { a.docs = s }
}

// WithLogger sets a logger for degraded-retrieval warnings.
func WithLogger(l *zap.Logger) Option {
	return func(a *Assembler) { a.logger = l }
}

// NewAssembler creates an assembler over the given embedder and index manager.
func NewAssembler(embedder embedding.Embedder, manager *index.Manager, opts ...Option) *Assembler {
	a := &Assembler{embedder: embedder, manager: manager, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Retrieve embeds queryText, searches the index, and returns ranked hits
// annotated with document display names. An absent index yields an empty hit
// list, not an error.
func (a *Assembler) Retrieve(ctx context.Context, queryText string, topK int) ([]*models.Hit, error) {
	if !a.manager.IndexExists() {
		return nil, nil
	}
	queryVec, err := a.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	searchHits, err := a.manager.Search(queryVec, topK)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	hits := make([]*models.Hit, 0, len(searchHits))
	for i, sh := range searchHits {
		hits = append(hits, &models.Hit{
			Rank:         i + 1,
			Distance:     float64(sh.Distance),
			DocumentHash: sh.Descriptor.DocumentHash,
			DocumentName: a.displayName(ctx, sh.Descriptor),
			ChunkOrdinal: sh.Descriptor.ChunkOrdinal,
			ChunkText:    sh.Descriptor.ChunkText,
		})
	}
	return hits, nil
}

// displayName prefers the side table's current display name and falls back to
// the name recorded in the ledger at ingestion time.
func (a *Assembler) displayName(ctx context.Context, desc models.ChunkDescriptor) string {
	if a.docs != nil {
		if doc, err := a.docs.Get(ctx, desc.DocumentHash); err == nil && doc != nil && doc.OriginalName != "" {
			return doc.OriginalName
		}
	}
	return desc.DocumentName
}

// RenderContext formats hits in rank order into a labeled context block.
// An empty hit list renders NoContextSentinel, never an empty string.
func RenderContext(hits []*models.Hit) string {
	if len(hits) == 0 {
		return NoContextSentinel
	}
	parts := make([]string, 0, len(hits)+1)
	parts = append(parts, contextHeader)
	for i, h := range hits {
		parts = append(parts, fmt.Sprintf("[Context %d] From '%s':\n%s\n", i+1, h.DocumentName, h.ChunkText))
	}
	return strings.Join(parts, "\n")
}

// Query runs retrieval end to end and packages the result for callers.
// Query-time failures must not break the enclosing conversational flow, so
// errors are logged and reported as the no-context result.
func (a *Assembler) Query(ctx context.Context, queryText string, topK int) *models.RetrievalResult {
	start := time.Now()
	hits, err := a.Retrieve(ctx, queryText, topK)
	if err != nil {
		a.logger.Warn("retrieval degraded to no-context", zap.Error(err))
		hits = nil
	}
	return &models.RetrievalResult{
		Query:     queryText,
		Hits:      hits,
		Context:   RenderContext(hits),
		QueryTime: time.Since(start).Milliseconds(),
	}
}
