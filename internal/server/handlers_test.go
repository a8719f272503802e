package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/kiokudb/kioku/internal/chunker"
	"github.com/kiokudb/kioku/internal/config"
	"github.com/kiokudb/kioku/internal/embedding"
	"github.com/kiokudb/kioku/internal/index"
	"github.com/kiokudb/kioku/internal/ingest"
	"github.com/kiokudb/kioku/internal/models"
	"github.com/kiokudb/kioku/internal/retrieval"
	"github.com/kiokudb/kioku/internal/storage"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.IndexPath = filepath.Join(dir, "kioku.index")
	cfg.Storage.LedgerPath = filepath.Join(dir, "kioku-meta.json")
	cfg.Storage.DatabasePath = filepath.Join(dir, "documents.db")
	cfg.Storage.UploadDir = filepath.Join(dir, "uploads")

	mgr, err := index.NewManager(cfg.Storage.IndexPath, cfg.Storage.LedgerPath, "mock")
	if err != nil {
		t.Fatal(err)
	}
	store, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })

	emb := embedding.NewMockEmbedder(16)
	ch, err := chunker.New(64, 8)
	if err != nil {
		t.Fatal(err)
	}
	ing := ingest.NewIngestor(ch, emb, mgr, store)
	asm := retrieval.NewAssembler(emb, mgr, retrieval.WithDocumentStore(store))
	return NewServer(ing, asm, store, cfg, zap.NewNop())
}

func multipartBody(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func upload(t *testing.T, h http.Handler, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, filename, content)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHandleUploadDocument(t *testing.T) {
	srv := newTestServer(t)
	h := srv.routes()

	w := upload(t, h, "notes.txt", "the pump must be serviced every six months without fail")
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var res models.IngestResult
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.Hash == "" || res.ChunkCount == 0 {
		t.Errorf("result = %+v", res)
	}
	if res.OriginalName != "notes.txt" {
		t.Errorf("OriginalName = %s", res.OriginalName)
	}
}

func TestHandleUploadDocument_Duplicate(t *testing.T) {
	srv := newTestServer(t)
	h := srv.routes()

	content := "uploading the same bytes twice is answered idempotently"
	if w := upload(t, h, "a.txt", content); w.Code != http.StatusCreated {
		t.Fatalf("first upload: %d", w.Code)
	}
	w := upload(t, h, "a.txt", content)
	if w.Code != http.StatusOK {
		t.Fatalf("duplicate upload = %d, want 200", w.Code)
	}
	var res models.IngestResult
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if !res.AlreadyIngested {
		t.Error("duplicate must report already_ingested")
	}
}

func TestHandleUploadDocument_MissingFile(t *testing.T) {
	srv := newTestServer(t)
	h := srv.routes()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("other", "value")
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d", w.Code)
	}
}

func TestHandleUploadDocument_FailedIngestLeavesNoCopy(t *testing.T) {
	srv := newTestServer(t)
	h := srv.routes()

	w := upload(t, h, "broken.docx", "these bytes are not a zip archive")
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
	entries, err := os.ReadDir(srv.config.Storage.UploadDir)
	if err != nil && !os.IsNotExist(err) {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("rejected upload left %d files in the upload dir", len(entries))
	}

	if w := upload(t, h, "fine.txt", "a good upload is kept in the upload directory"); w.Code != http.StatusCreated {
		t.Fatalf("upload: %d", w.Code)
	}
	entries, err = os.ReadDir(srv.config.Storage.UploadDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected one stored copy, found %d", len(entries))
	}
}

func TestHandleQuery(t *testing.T) {
	srv := newTestServer(t)
	h := srv.routes()

	if w := upload(t, h, "manual.txt", "release the brake lever before towing the trailer"); w.Code != http.StatusCreated {
		t.Fatalf("upload: %d", w.Code)
	}

	body, _ := json.Marshal(models.QueryRequest{Query: "release the brake lever before towing the trailer", TopK: 3})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/query", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var res models.RetrievalResult
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if len(res.Hits) == 0 {
		t.Fatal("no hits")
	}
	if !strings.Contains(res.Context, "[Context 1] From 'manual.txt':") {
		t.Errorf("context = %q", res.Context)
	}
}

func TestHandleQuery_EmptyIndexReturnsSentinel(t *testing.T) {
	srv := newTestServer(t)
	h := srv.routes()

	body, _ := json.Marshal(models.QueryRequest{Query: "anything"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/query", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var res models.RetrievalResult
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.Context != retrieval.NoContextSentinel {
		t.Errorf("context = %q", res.Context)
	}
}

func TestHandleQuery_EmptyQueryRejected(t *testing.T) {
	srv := newTestServer(t)
	h := srv.routes()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/query", strings.NewReader(`{"query":""}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d", w.Code)
	}
}

func TestHandleDeleteDocument(t *testing.T) {
	srv := newTestServer(t)
	h := srv.routes()

	w := upload(t, h, "doomed.txt", "this document exists only to be deleted shortly after")
	if w.Code != http.StatusCreated {
		t.Fatalf("upload: %d", w.Code)
	}
	var res models.IngestResult
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/documents/"+res.Hash, nil)
	w2 := httptest.NewRecorder()
	h.ServeHTTP(w2, req)
	if w2.Code != http.StatusOK {
		t.Errorf("delete status = %d, body %s", w2.Code, w2.Body.String())
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/documents/"+res.Hash, nil)
	w3 := httptest.NewRecorder()
	h.ServeHTTP(w3, req)
	if w3.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", w3.Code)
	}
}

func TestHandleGetDocument(t *testing.T) {
	srv := newTestServer(t)
	h := srv.routes()

	w := upload(t, h, "single.txt", "one document fetched back by its content hash")
	if w.Code != http.StatusCreated {
		t.Fatalf("upload: %d", w.Code)
	}
	var res models.IngestResult
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+res.Hash, nil)
	w2 := httptest.NewRecorder()
	h.ServeHTTP(w2, req)
	if w2.Code != http.StatusOK {
		t.Fatalf("status = %d", w2.Code)
	}
	var doc models.Document
	if err := json.NewDecoder(w2.Body).Decode(&doc); err != nil {
		t.Fatal(err)
	}
	if doc.Hash != res.Hash || doc.OriginalName != "single.txt" {
		t.Errorf("doc = %+v", doc)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/documents/unknownhash", nil)
	w3 := httptest.NewRecorder()
	h.ServeHTTP(w3, req)
	if w3.Code != http.StatusNotFound {
		t.Errorf("missing doc status = %d", w3.Code)
	}
}

func TestHandleListDocuments(t *testing.T) {
	srv := newTestServer(t)
	h := srv.routes()

	for i := 0; i < 3; i++ {
		w := upload(t, h, fmt.Sprintf("doc%d.txt", i), fmt.Sprintf("unique content number %d for the listing test", i))
		if w.Code != http.StatusCreated {
			t.Fatalf("upload %d: %d", i, w.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents?limit=2", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var out struct {
		Documents []*models.Document `json:"documents"`
		Total     int64              `json:"total"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Total != 3 || len(out.Documents) != 2 {
		t.Errorf("total = %d, page = %d", out.Total, len(out.Documents))
	}
}

func TestHandleIndexInfo(t *testing.T) {
	srv := newTestServer(t)
	h := srv.routes()

	if w := upload(t, h, "info.txt", "the info endpoint reports vector and document counts"); w.Code != http.StatusCreated {
		t.Fatal("upload failed")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/index/info", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var out struct {
		Index models.IndexInfo `json:"index"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if !out.Index.Exists || out.Index.TotalDocuments != 1 || out.Index.TotalVectors == 0 {
		t.Errorf("info = %+v", out.Index)
	}
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t)
	h := srv.routes()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
}
