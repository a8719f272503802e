package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kiokudb/kioku/internal/chunker"
	"github.com/kiokudb/kioku/internal/embedding"
	"github.com/kiokudb/kioku/internal/index"
	"github.com/kiokudb/kioku/internal/storage"
)

func newTestIngestor(t *testing.T) *Ingestor {
	t.Helper()
	dir := t.TempDir()
	ch, err := chunker.New(8, 2)
	if err != nil {
		t.Fatal(err)
	}
	mgr, err := index.NewManager(filepath.Join(dir, "kioku.index"), filepath.Join(dir, "kioku-meta.json"), "mock")
	if err != nil {
		t.Fatal(err)
	}
	store, err := storage.NewSQLiteStore(filepath.Join(dir, "documents.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return NewIngestor(ch, embedding.NewMockEmbedder(16), mgr, store)
}

func TestContentHash(t *testing.T) {
	// md5("hello") is a fixed value.
	if got := ContentHash([]byte("hello")); got != "5d41402abc4b2a76b9719d911017c592" {
		t.Errorf("ContentHash = %s", got)
	}
	if ContentHash([]byte("a")) == ContentHash([]byte("b")) {
		t.Error("distinct content must hash differently")
	}
}

func TestIngestBytes(t *testing.T) {
	ing := newTestIngestor(t)
	ctx := context.Background()

	res, err := ing.IngestBytes(ctx, []byte("the quick brown fox jumps over the lazy dog again and again"), "fox.txt", "")
	if err != nil {
		t.Fatal(err)
	}
	if res.ChunkCount < 2 {
		t.Errorf("ChunkCount = %d, want at least 2 with an 8-word window", res.ChunkCount)
	}
	if res.EmbeddingDimension != 16 {
		t.Errorf("EmbeddingDimension = %d", res.EmbeddingDimension)
	}
	if res.AlreadyIngested {
		t.Error("first ingest must not report already_ingested")
	}

	info, err := ing.Info(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if info.TotalDocuments != 1 || info.TotalChunks != res.ChunkCount {
		t.Errorf("info = %+v", info)
	}
}

func TestIngestBytes_Idempotent(t *testing.T) {
	ing := newTestIngestor(t)
	ctx := context.Background()
	content := []byte("idempotency means the second call changes nothing at all here")

	first, err := ing.IngestBytes(ctx, content, "a.txt", "")
	if err != nil {
		t.Fatal(err)
	}
	second, err := ing.IngestBytes(ctx, content, "renamed.txt", "")
	if err != nil {
		t.Fatal(err)
	}
	if !second.AlreadyIngested {
		t.Error("second ingest of identical bytes must report already_ingested")
	}
	if second.Hash != first.Hash {
		t.Errorf("hash changed: %s vs %s", first.Hash, second.Hash)
	}
	info, _ := ing.Info(ctx)
	if info.TotalChunks != first.ChunkCount {
		t.Errorf("chunks duplicated: %d", info.TotalChunks)
	}
}

func TestIngestBytes_EmptyContent(t *testing.T) {
	ing := newTestIngestor(t)
	if _, err := ing.IngestBytes(context.Background(), []byte("   \n\t "), "blank.txt", ""); err == nil {
		t.Error("whitespace-only content should fail")
	}
}

func TestIngestFile_AndDeleteByPath(t *testing.T) {
	ing := newTestIngestor(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "doc.md")
	if err := os.WriteFile(path, []byte("watched files are ingested by path and removed by path"), 0o644); err != nil {
		t.Fatal(err)
	}
	res, err := ing.IngestFile(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if res.OriginalName != "doc.md" {
		t.Errorf("OriginalName = %s", res.OriginalName)
	}

	removed, err := ing.DeleteByPath(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if !removed {
		t.Error("DeleteByPath should report removal")
	}
	info, _ := ing.Info(ctx)
	if info.TotalDocuments != 0 || info.TotalChunks != 0 {
		t.Errorf("state left behind: %+v", info)
	}
}

func TestDelete_UnknownHash(t *testing.T) {
	ing := newTestIngestor(t)
	removed, err := ing.Delete(context.Background(), "deadbeef")
	if err != nil {
		t.Fatal(err)
	}
	if removed {
		t.Error("unknown hash must not report removal")
	}
}

func TestDeleteByPath_Unknown(t *testing.T) {
	ing := newTestIngestor(t)
	removed, err := ing.DeleteByPath(context.Background(), "/no/such/file.txt")
	if err != nil {
		t.Fatal(err)
	}
	if removed {
		t.Error("unknown path must not report removal")
	}
}
