// Package ledger persists the ordered chunk-descriptor sidecar for the vector index.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kiokudb/kioku/internal/models"
)

// ErrLedgerAbsent is returned by Load when no ledger file exists at the given path.
var ErrLedgerAbsent = errors.New("ledger: metadata absent")

// Ledger is the ordered list of chunk descriptors kept in lockstep with the
// vector index's rows: Chunks[i] describes index row i. The summary fields
// are recomputed on every save.
type Ledger struct {
	EmbeddingModel string                   `json:"embedding_model,omitempty"`
	Dimension      int                      `json:"embedding_dimension"`
	TotalChunks    int                      `json:"total_chunks"`
	UpdatedAt      time.Time                `json:"last_updated"`
	Chunks         []models.ChunkDescriptor `json:"chunks"`
}

// New creates an empty ledger for the given embedding model and dimension.
func New(model string, dimension int) *Ledger {
	return &Ledger{EmbeddingModel: model, Dimension: dimension}
}

// Append adds descriptors to the end of the chunk list.
func (l *Ledger) Append(descs ...models.ChunkDescriptor) {
	l.Chunks = append(l.Chunks, descs...)
}

// HasDocument reports whether any chunk belongs to the given document hash.
func (l *Ledger) HasDocument(hash string) bool {
	for _, c := range l.Chunks {
		if c.DocumentHash == hash {
			return true
		}
	}
	return false
}

// DocumentCount returns the number of distinct document hashes in the ledger.
func (l *Ledger) DocumentCount() int {
	seen := make(map[string]struct{})
	for _, c := range l.Chunks {
		seen[c.DocumentHash] = struct{}{}
	}
	return len(seen)
}

// Save persists the ledger as JSON, atomically (write to temp, then rename).
// TotalChunks and UpdatedAt are refreshed before writing.
func (l *Ledger) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	l.TotalChunks = len(l.Chunks)
	l.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write ledger file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit ledger file: %w", err)
	}
	return nil
}

// Load reads a ledger previously written by Save. A missing file returns
// ErrLedgerAbsent.
func Load(path string) (*Ledger, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrLedgerAbsent
		}
		return nil, fmt.Errorf("open ledger file: %w", err)
	}
	var l Ledger
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("parse ledger file: %w", err)
	}
	return &l, nil
}
