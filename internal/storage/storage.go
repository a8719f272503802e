// Package storage persists the document side table that the index references
// by content hash.
package storage

import (
	"context"

	"github.com/kiokudb/kioku/internal/models"
)

// DocumentStore defines document side-table operations. The vector index and
// ledger never read this table; it is consulted only for display metadata
// and ingestion idempotency.
type DocumentStore interface {
	Upsert(ctx context.Context, doc *models.Document) error
	Get(ctx context.Context, hash string) (*models.Document, error)
	GetBySourcePath(ctx context.Context, path string) (*models.Document, error)
	Delete(ctx context.Context, hash string) error
	List(ctx context.Context, offset, limit int) ([]*models.Document, error)
	Count(ctx context.Context) (int64, error)
	Close() error
}
