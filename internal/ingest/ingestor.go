package ingest

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/kiokudb/kioku/internal/chunker"
	"github.com/kiokudb/kioku/internal/embedding"
	"github.com/kiokudb/kioku/internal/extract"
	"github.com/kiokudb/kioku/internal/index"
	"github.com/kiokudb/kioku/internal/models"
	"github.com/kiokudb/kioku/internal/storage"
)

// Ingestor runs the full document pipeline: extract, chunk, embed, index.
// A document's identity is the hash of its raw bytes, so ingesting the same
// content twice is a no-op and ingesting changed content under a known
// filename supersedes the old chunks.
type Ingestor struct {
	extractor *extract.Extractor
	chunker   *chunker.Chunker
	embedder  embedding.Embedder
	manager   *index.Manager
	docs      storage.DocumentStore
	logger    *zap.Logger
}

type Option func(*Ingestor)

func WithLogger(l *zap.Logger) Option {
	return func(i *Ingestor) { i.logger = l }
}

func NewIngestor(ch *chunker.Chunker, embedder embedding.Embedder, manager *index.Manager, docs storage.DocumentStore, opts ...Option) *Ingestor {
	ing := &Ingestor{
		extractor: extract.NewExtractor(),
		chunker:   ch,
		embedder:  embedder,
		manager:   manager,
		docs:      docs,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(ing)
	}
	return ing
}

// ContentHash returns the hex digest identifying a document's raw bytes.
func ContentHash(content []byte) string {
	sum := md5.Sum(content)
	return hex.EncodeToString(sum[:])
}

// IngestFile reads a file from disk and ingests it. The file's base name
// becomes the document's display name and its path is recorded so watch
// mode can later remove it by path.
func (i *Ingestor) IngestFile(ctx context.Context, path string) (*models.IngestResult, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return i.ingest(ctx, content, filepath.Base(path), abs, "")
}

// IngestBytes ingests in-memory content, as from an HTTP upload. storedName
// is the server-side filename the upload was saved under, if any.
func (i *Ingestor) IngestBytes(ctx context.Context, content []byte, originalName, storedName string) (*models.IngestResult, error) {
	return i.ingest(ctx, content, originalName, "", storedName)
}

func (i *Ingestor) ingest(ctx context.Context, content []byte, originalName, sourcePath, storedName string) (*models.IngestResult, error) {
	hash := ContentHash(content)

	if existing, err := i.docs.Get(ctx, hash); err != nil {
		return nil, fmt.Errorf("checking document %s: %w", hash, err)
	} else if existing != nil {
		i.logger.Info("document already ingested",
			zap.String("hash", hash),
			zap.String("filename", originalName))
		return &models.IngestResult{
			Hash:               hash,
			OriginalName:       existing.OriginalName,
			ChunkCount:         existing.ChunkCount,
			EmbeddingDimension: i.manager.Info().Dimension,
			AlreadyIngested:    true,
		}, nil
	}

	// A re-ingested file with changed content supersedes the previous
	// revision at the same path, otherwise stale chunks would accumulate
	// under watch mode.
	if sourcePath != "" {
		if prev, err := i.docs.GetBySourcePath(ctx, sourcePath); err != nil {
			return nil, fmt.Errorf("checking path %s: %w", sourcePath, err)
		} else if prev != nil && prev.Hash != hash {
			if _, err := i.Delete(ctx, prev.Hash); err != nil {
				return nil, fmt.Errorf("superseding %s: %w", sourcePath, err)
			}
			i.logger.Info("superseded previous revision",
				zap.String("path", sourcePath),
				zap.String("old_hash", prev.Hash),
				zap.String("new_hash", hash))
		}
	}

	ext := filepath.Ext(originalName)
	text, err := i.extractor.ExtractBytes(content, ext)
	if err != nil {
		return nil, fmt.Errorf("extracting %s: %w", originalName, err)
	}
	text = chunker.Preprocess(text)
	if text == "" {
		return nil, fmt.Errorf("%s: no extractable text", originalName)
	}

	chunks := i.chunker.Chunk(text)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%s: chunking produced no chunks", originalName)
	}

	start := time.Now()
	vectors, err := i.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("embedding %s: %w", originalName, err)
	}
	i.logger.Info("embedded document",
		zap.String("filename", originalName),
		zap.Int("chunks", len(chunks)),
		zap.Duration("took", time.Since(start)))

	descs := make([]models.ChunkDescriptor, len(chunks))
	for n, chunk := range chunks {
		descs[n] = models.ChunkDescriptor{
			DocumentHash: hash,
			DocumentName: originalName,
			ChunkOrdinal: n,
			ChunkText:    chunk,
		}
	}
	if err := i.manager.AddDocument(vectors, descs); err != nil {
		return nil, fmt.Errorf("indexing %s: %w", originalName, err)
	}

	doc := &models.Document{
		Hash:         hash,
		OriginalName: originalName,
		StoredName:   storedName,
		SourcePath:   sourcePath,
		SizeBytes:    int64(len(content)),
		ChunkCount:   len(chunks),
		UploadedAt:   time.Now().UTC(),
	}
	if err := i.docs.Upsert(ctx, doc); err != nil {
		// The index already holds the chunks; record the inconsistency and
		// surface the error so the caller can retry.
		i.logger.Error("document table update failed after indexing",
			zap.String("hash", hash), zap.Error(err))
		return nil, fmt.Errorf("recording %s: %w", originalName, err)
	}

	dim := 0
	if len(vectors) > 0 {
		dim = len(vectors[0])
	}
	return &models.IngestResult{
		Hash:               hash,
		OriginalName:       originalName,
		ChunkCount:         len(chunks),
		EmbeddingDimension: dim,
	}, nil
}

// Delete removes a document's chunks from the index and its row from the
// document table. It reports whether the document was known.
func (i *Ingestor) Delete(ctx context.Context, hash string) (bool, error) {
	removed, err := i.manager.RemoveDocument(hash)
	if err != nil {
		return false, err
	}
	if err := i.docs.Delete(ctx, hash); err != nil {
		return removed, fmt.Errorf("deleting document row %s: %w", hash, err)
	}
	return removed, nil
}

// DeleteByPath removes the document that was ingested from the given file
// path. Used by watch mode when a file disappears.
func (i *Ingestor) DeleteByPath(ctx context.Context, path string) (bool, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	doc, err := i.docs.GetBySourcePath(ctx, abs)
	if err != nil {
		return false, err
	}
	if doc == nil {
		return false, nil
	}
	return i.Delete(ctx, doc.Hash)
}

// Info reports the index state combined with the document table count.
func (i *Ingestor) Info(ctx context.Context) (*models.IndexInfo, error) {
	info := i.manager.Info()
	count, err := i.docs.Count(ctx)
	if err != nil {
		return nil, err
	}
	info.TotalDocuments = int(count)
	return &info, nil
}
