// Package vector provides a flat, append-only vector index with exact
// nearest-neighbor search by squared Euclidean distance.
package vector

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
)

// ErrIndexAbsent is returned by Load when no index file exists at the given
// path. Callers distinguish "never created" from "created and empty".
var ErrIndexAbsent = errors.New("vector: index absent")

// ErrDimensionMismatch is returned when a vector's length disagrees with the
// index's established dimension.
var ErrDimensionMismatch = errors.New("vector: dimension mismatch")

// FlatIndex stores equal-length float32 vectors densely. Rows are append-only
// and a row's position is its id; search is exhaustive. The dimension is fixed
// at creation and immutable.
//
// FlatIndex is not safe for concurrent use; the index manager serializes
// access to it.
type FlatIndex struct {
	dimension int
	data      []float32 // row-major, len == count*dimension
}

// NewFlatIndex creates an empty index with the given dimension.
func NewFlatIndex(dimension int) (*FlatIndex, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("vector: dimension must be positive, got %d", dimension)
	}
	return &FlatIndex{dimension: dimension}, nil
}

// Dimension returns the fixed vector width of the index.
func (ix *FlatIndex) Dimension() int { return ix.dimension }

// Count returns the number of stored vectors.
func (ix *FlatIndex) Count() int { return len(ix.data) / ix.dimension }

// Add appends vectors in order. Every vector's length must equal the index
// dimension; on mismatch nothing is inserted.
func (ix *FlatIndex) Add(vectors [][]float32) error {
	for i, v := range vectors {
		if len(v) != ix.dimension {
			return fmt.Errorf("%w: vector %d has %d values, index expects %d", ErrDimensionMismatch, i, len(v), ix.dimension)
		}
	}
	for _, v := range vectors {
		ix.data = append(ix.data, v...)
	}
	return nil
}

// Reconstruct returns a copy of the vector stored at row.
func (ix *FlatIndex) Reconstruct(row int) ([]float32, error) {
	if row < 0 || row >= ix.Count() {
		return nil, fmt.Errorf("vector: row %d out of range [0, %d)", row, ix.Count())
	}
	out := make([]float32, ix.dimension)
	copy(out, ix.data[row*ix.dimension:(row+1)*ix.dimension])
	return out, nil
}

// Search returns the k rows nearest to query by squared L2 distance,
// ascending, ties broken by lower row id. k larger than the row count is
// clamped.
func (ix *FlatIndex) Search(query []float32, k int) ([]float32, []int, error) {
	if len(query) != ix.dimension {
		return nil, nil, fmt.Errorf("%w: query has %d values, index expects %d", ErrDimensionMismatch, len(query), ix.dimension)
	}
	n := ix.Count()
	if k <= 0 || n == 0 {
		return nil, nil, nil
	}
	if k > n {
		k = n
	}
	dists := make([]float32, n)
	for row := 0; row < n; row++ {
		base := row * ix.dimension
		var sum float32
		for j, q := range query {
			d := ix.data[base+j] - q
			sum += d * d
		}
		dists[row] = sum
	}
	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}
	sort.SliceStable(rows, func(a, b int) bool { return dists[rows[a]] < dists[rows[b]] })

	outDists := make([]float32, k)
	outRows := make([]int, k)
	for i := 0; i < k; i++ {
		outRows[i] = rows[i]
		outDists[i] = dists[rows[i]]
	}
	return outDists, outRows, nil
}

// Save persists the index atomically (write to temp, then rename).
// Format: dimension (uint32), count (uint32), then dense rows of float32,
// all little-endian.
func (ix *FlatIndex) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	count := ix.Count()
	buf := make([]byte, 8+len(ix.data)*4)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(ix.dimension))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(count))
	for i, v := range ix.data {
		binary.LittleEndian.PutUint32(buf[8+i*4:], math.Float32bits(v))
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0644); err != nil {
		return fmt.Errorf("write index file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit index file: %w", err)
	}
	return nil
}

// Load reads an index previously written by Save. A missing file returns
// ErrIndexAbsent rather than an empty index.
func Load(path string) (*FlatIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrIndexAbsent
		}
		return nil, fmt.Errorf("open index file: %w", err)
	}
	if len(data) < 8 {
		return nil, fmt.Errorf("vector: index file truncated: %d bytes", len(data))
	}
	dim := int(binary.LittleEndian.Uint32(data[0:4]))
	count := int(binary.LittleEndian.Uint32(data[4:8]))
	if dim <= 0 {
		return nil, fmt.Errorf("vector: index file has invalid dimension %d", dim)
	}
	want := 8 + count*dim*4
	if len(data) != want {
		return nil, fmt.Errorf("vector: index file has %d bytes, expected %d for %d vectors of dimension %d", len(data), want, count, dim)
	}
	ix := &FlatIndex{dimension: dim, data: make([]float32, count*dim)}
	for i := range ix.data {
		ix.data[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[8+i*4:]))
	}
	return ix, nil
}
