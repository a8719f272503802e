package vector

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestFlatIndex_AddSearch(t *testing.T) {
	ix, err := NewFlatIndex(3)
	if err != nil {
		t.Fatal(err)
	}
	vecs := [][]float32{
		{1, 0, 0},
		{0.9, 0.1, 0},
		{0, 1, 0},
	}
	if err := ix.Add(vecs); err != nil {
		t.Fatal(err)
	}
	if ix.Count() != 3 {
		t.Errorf("Count = %d", ix.Count())
	}

	dists, rows, err := ix.Search([]float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 results, got %d", len(rows))
	}
	if rows[0] != 0 {
		t.Errorf("nearest row = %d, want 0", rows[0])
	}
	if dists[0] != 0 {
		t.Errorf("exact match distance = %f, want 0", dists[0])
	}
	if dists[1] < dists[0] {
		t.Error("distances not ascending")
	}
}

func TestFlatIndex_TiesByRowOrder(t *testing.T) {
	ix, _ := NewFlatIndex(2)
	// Rows 0 and 1 are equidistant from the query.
	_ = ix.Add([][]float32{{1, 0}, {-1, 0}, {0, 5}})
	_, rows, err := ix.Search([]float32{0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if rows[0] != 0 || rows[1] != 1 {
		t.Errorf("tie broken wrong: rows = %v, want [0 1]", rows)
	}
}

func TestFlatIndex_DimensionInvariant(t *testing.T) {
	ix, _ := NewFlatIndex(2)
	_ = ix.Add([][]float32{{1, 0}})
	err := ix.Add([][]float32{{1, 0}, {1, 2, 3}})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("err = %v, want ErrDimensionMismatch", err)
	}
	if ix.Count() != 1 {
		t.Errorf("Count = %d after failed Add, want 1 (no partial insert)", ix.Count())
	}
	if _, _, err := ix.Search([]float32{1}, 1); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("query dimension mismatch not detected: %v", err)
	}
}

func TestFlatIndex_Reconstruct(t *testing.T) {
	ix, _ := NewFlatIndex(2)
	_ = ix.Add([][]float32{{1, 2}, {3, 4}})
	v, err := ix.Reconstruct(1)
	if err != nil {
		t.Fatal(err)
	}
	if v[0] != 3 || v[1] != 4 {
		t.Errorf("Reconstruct(1) = %v", v)
	}
	// Returned slice is a copy; mutating it must not corrupt the index.
	v[0] = 99
	again, _ := ix.Reconstruct(1)
	if again[0] != 3 {
		t.Error("Reconstruct returned a live reference into the index")
	}
	if _, err := ix.Reconstruct(2); err == nil {
		t.Error("out-of-range row should fail")
	}
}

func TestFlatIndex_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx", "kioku.index")
	ix, _ := NewFlatIndex(2)
	_ = ix.Add([][]float32{{1, 0}, {0.5, 0.5}})
	if err := ix.Save(path); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Dimension() != 2 || loaded.Count() != 2 {
		t.Fatalf("loaded dimension=%d count=%d", loaded.Dimension(), loaded.Count())
	}
	v, _ := loaded.Reconstruct(1)
	if v[0] != 0.5 || v[1] != 0.5 {
		t.Errorf("round-trip row = %v", v)
	}
}

func TestLoad_AbsentIsDistinct(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.index"))
	if !errors.Is(err, ErrIndexAbsent) {
		t.Errorf("err = %v, want ErrIndexAbsent", err)
	}
}

func TestFlatIndex_SearchEmptyAndClamp(t *testing.T) {
	ix, _ := NewFlatIndex(2)
	dists, rows, err := ix.Search([]float32{1, 0}, 5)
	if err != nil || dists != nil || rows != nil {
		t.Errorf("empty index search = (%v, %v, %v), want nils", dists, rows, err)
	}
	_ = ix.Add([][]float32{{1, 0}})
	_, rows, _ = ix.Search([]float32{1, 0}, 10)
	if len(rows) != 1 {
		t.Errorf("k clamp: got %d rows, want 1", len(rows))
	}
}
