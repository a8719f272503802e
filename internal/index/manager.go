// Package index composes the flat vector index with its metadata ledger and
// owns the invariant that ledger position i describes vector row i.
package index

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/kiokudb/kioku/internal/ledger"
	"github.com/kiokudb/kioku/internal/models"
	"github.com/kiokudb/kioku/internal/vector"
)

// SearchHit is a vector search result mapped back to its chunk descriptor.
type SearchHit struct {
	Distance   float32
	Descriptor models.ChunkDescriptor
}

// Manager owns one FlatIndex and one MetadataLedger as a unit, always mutated
// together. Mutating operations are serialized behind a single mutex
// (single-writer discipline); both artifacts are persisted atomically before
// a mutation is considered committed.
type Manager struct {
	indexPath  string
	ledgerPath string
	model      string

	mu     sync.RWMutex
	idx    *vector.FlatIndex // nil while absent
	led    *ledger.Ledger    // nil while absent
	logger *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets a logger for consistency-fault and recovery warnings.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a manager over the artifact pair at indexPath and
// ledgerPath, loading existing state from disk. model is the embedding model
// identifier recorded in the ledger.
func NewManager(indexPath, ledgerPath, model string, opts ...Option) (*Manager, error) {
	m := &Manager{
		indexPath:  indexPath,
		ledgerPath: ledgerPath,
		model:      model,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.idx, m.led = m.loadPair()
	return m, nil
}

// loadPair loads both artifacts. The pair is only trusted when both files
// load; a lone or unreadable artifact is treated as absent (re-ingestion
// required) rather than silently trusted.
func (m *Manager) loadPair() (*vector.FlatIndex, *ledger.Ledger) {
	idx, idxErr := vector.Load(m.indexPath)
	led, ledErr := ledger.Load(m.ledgerPath)

	if errors.Is(idxErr, vector.ErrIndexAbsent) && errors.Is(ledErr, ledger.ErrLedgerAbsent) {
		return nil, nil
	}
	if idxErr != nil || ledErr != nil {
		m.logger.Warn("index artifact pair incomplete, treating as absent",
			zap.String("index_path", m.indexPath),
			zap.String("ledger_path", m.ledgerPath),
			zap.NamedError("index_err", idxErr),
			zap.NamedError("ledger_err", ledErr),
		)
		return nil, nil
	}
	if idx.Count() != len(led.Chunks) {
		// Recoverable: search skips orphaned rows and the next rebuild repairs it.
		m.logger.Warn("index and ledger row counts disagree",
			zap.Int("index_rows", idx.Count()),
			zap.Int("ledger_rows", len(led.Chunks)),
		)
	}
	return idx, led
}

// IndexExists reports whether the artifact pair currently holds any state.
func (m *Manager) IndexExists() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idx != nil
}

// Info returns introspection data for the current index state.
func (m *Manager) Info() models.IndexInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.idx == nil {
		return models.IndexInfo{}
	}
	return models.IndexInfo{
		Exists:         true,
		Dimension:      m.idx.Dimension(),
		TotalVectors:   m.idx.Count(),
		TotalDocuments: m.led.DocumentCount(),
		TotalChunks:    len(m.led.Chunks),
		EmbeddingModel: m.led.EmbeddingModel,
	}
}

// AddDocument appends one document's vectors and descriptors in lockstep and
// persists both artifacts before returning. All descriptors must carry the
// same document hash; re-adding a hash already present supersedes its
// existing chunks (implicit removal first). If no index exists yet, one is
// created with the first vector's dimension.
func (m *Manager) AddDocument(vectors [][]float32, descs []models.ChunkDescriptor) error {
	if len(vectors) == 0 {
		return fmt.Errorf("index: no vectors to add")
	}
	if len(vectors) != len(descs) {
		return fmt.Errorf("index: %d vectors for %d descriptors", len(vectors), len(descs))
	}
	hash := descs[0].DocumentHash
	if hash == "" {
		return fmt.Errorf("index: descriptor missing document hash")
	}
	for _, d := range descs {
		if d.DocumentHash != hash {
			return fmt.Errorf("index: descriptors span multiple documents (%s, %s)", hash, d.DocumentHash)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.led != nil && m.led.HasDocument(hash) {
		m.logger.Info("superseding previously indexed document", zap.String("hash", hash))
		if _, err := m.removeLocked(hash); err != nil {
			return err
		}
	}
	if m.idx == nil {
		idx, err := vector.NewFlatIndex(len(vectors[0]))
		if err != nil {
			return err
		}
		m.idx = idx
		m.led = ledger.New(m.model, idx.Dimension())
	}
	if err := m.idx.Add(vectors); err != nil {
		return err
	}
	m.led.Append(descs...)
	if err := m.persistLocked(); err != nil {
		// Roll back to the last committed state so memory and disk agree.
		m.idx, m.led = m.loadPair()
		return err
	}
	return nil
}

// Search returns the k nearest chunks to query, ascending by squared L2
// distance. Row ids without a ledger entry are consistency faults: logged and
// skipped, never fatal to the query path.
func (m *Manager) Search(query []float32, k int) ([]SearchHit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.idx == nil {
		return nil, nil
	}
	dists, rows, err := m.idx.Search(query, k)
	if err != nil {
		return nil, err
	}
	hits := make([]SearchHit, 0, len(rows))
	for i, row := range rows {
		if row >= len(m.led.Chunks) {
			m.logger.Warn("search hit has no ledger entry, skipping",
				zap.Int("row", row), zap.Int("ledger_rows", len(m.led.Chunks)))
			continue
		}
		hits = append(hits, SearchHit{Distance: dists[i], Descriptor: m.led.Chunks[row]})
	}
	return hits, nil
}

// RemoveDocument removes all chunks belonging to hash. Returns false with no
// mutation when the hash has no chunks. Removing the last document deletes
// both artifacts outright; otherwise the index is rebuilt from the retained
// rows, since the flat structure has no delete-by-row.
func (m *Manager) RemoveDocument(hash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed, err := m.removeLocked(hash)
	if err != nil {
		m.idx, m.led = m.loadPair()
		return false, err
	}
	return removed, nil
}

// removeLocked implements removal under the write lock. Rebuilding copies
// every retained row through Reconstruct in original relative order, and
// writes the filtered ledger in the same pass, so the positional invariant
// holds in the new committed state. Ledger entries beyond the index row count
// (a prior consistency fault) are dropped here, which is the repair path.
func (m *Manager) removeLocked(hash string) (bool, error) {
	if m.led == nil {
		return false, nil
	}
	var keptRows []int
	var keptDescs []models.ChunkDescriptor
	matched := 0
	for i, d := range m.led.Chunks {
		if d.DocumentHash == hash {
			matched++
			continue
		}
		if i >= m.idx.Count() {
			m.logger.Warn("dropping ledger entry with no vector row during rebuild",
				zap.Int("row", i), zap.String("hash", d.DocumentHash))
			continue
		}
		keptRows = append(keptRows, i)
		keptDescs = append(keptDescs, d)
	}
	if matched == 0 {
		return false, nil
	}
	if len(keptDescs) == 0 {
		if err := m.deleteArtifacts(); err != nil {
			return false, err
		}
		m.idx, m.led = nil, nil
		return true, nil
	}

	newIdx, err := vector.NewFlatIndex(m.idx.Dimension())
	if err != nil {
		return false, err
	}
	retained := make([][]float32, 0, len(keptRows))
	for _, row := range keptRows {
		v, err := m.idx.Reconstruct(row)
		if err != nil {
			return false, fmt.Errorf("reconstruct row %d: %w", row, err)
		}
		retained = append(retained, v)
	}
	if err := newIdx.Add(retained); err != nil {
		return false, err
	}
	newLed := ledger.New(m.led.EmbeddingModel, m.led.Dimension)
	newLed.Append(keptDescs...)

	m.idx, m.led = newIdx, newLed
	if err := m.persistLocked(); err != nil {
		return false, err
	}
	return true, nil
}

// persistLocked writes both artifacts sequentially, each atomically
// (temp file + rename), index first so a reader never observes a ledger
// describing rows that do not exist yet.
func (m *Manager) persistLocked() error {
	if err := m.idx.Save(m.indexPath); err != nil {
		return fmt.Errorf("persist index: %w", err)
	}
	if err := m.led.Save(m.ledgerPath); err != nil {
		return fmt.Errorf("persist ledger: %w", err)
	}
	return nil
}

func (m *Manager) deleteArtifacts() error {
	if err := os.Remove(m.indexPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete index file: %w", err)
	}
	if err := os.Remove(m.ledgerPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete ledger file: %w", err)
	}
	return nil
}
