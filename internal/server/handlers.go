package server

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kiokudb/kioku/internal/models"
	"github.com/kiokudb/kioku/internal/storage"
	"github.com/kiokudb/kioku/pkg/utils"
)

// maxUploadBytes caps multipart uploads at 50 MB.
const maxUploadBytes = 50 << 20

// handleUploadDocument accepts a multipart upload under the "file" field,
// keeps a copy in the upload directory under a collision-free name, and
// runs the ingestion pipeline on the content.
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read upload")
		return
	}
	if len(content) == 0 {
		s.respondError(w, http.StatusBadRequest, "empty file")
		return
	}

	storedName := uuid.NewString() + filepath.Ext(header.Filename)
	s.logger.Debug("upload request",
		zap.String("filename", header.Filename),
		zap.Int("size", len(content)))
	result, err := s.ingestor.IngestBytes(r.Context(), content, header.Filename, storedName)
	if err != nil {
		s.logger.Error("ingestion failed", zap.String("filename", header.Filename), zap.Error(err))
		s.respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if result.AlreadyIngested {
		// The side table already references the copy stored on first upload.
		s.respondJSON(w, http.StatusOK, result)
		return
	}
	// Keep the copy only once ingestion succeeded, so a rejected upload
	// leaves nothing behind in the upload directory.
	if dir := s.config.Storage.UploadDir; dir != "" {
		if err := os.MkdirAll(dir, 0o755); err == nil {
			if err := os.WriteFile(filepath.Join(dir, storedName), content, 0o644); err != nil {
				s.logger.Warn("failed to keep upload copy", zap.String("stored_name", storedName), zap.Error(err))
			}
		}
	}
	s.respondJSON(w, http.StatusCreated, result)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 50)
	if limit > 200 {
		limit = 200
	}
	docs, err := s.docs.List(r.Context(), offset, limit)
	if err != nil {
		s.logger.Error("list documents failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	total, err := s.docs.Count(r.Context())
	if err != nil {
		s.logger.Error("count documents failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if docs == nil {
		docs = []*models.Document{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"documents": docs,
		"total":     total,
	})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	doc, err := s.docs.Get(r.Context(), hash)
	if err != nil {
		s.logger.Error("get document failed", zap.String("hash", hash), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if doc == nil {
		s.respondError(w, http.StatusNotFound, "document not found")
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	s.logger.Debug("delete document request", zap.String("hash", hash))
	removed, err := s.ingestor.Delete(r.Context(), hash)
	if err != nil {
		s.logger.Error("deletion failed", zap.String("hash", hash), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !removed {
		s.respondError(w, http.StatusNotFound, "document not found")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"file_hash": hash, "status": "deleted"})
}

// handleQuery runs retrieval. Provider failures degrade to the no-context
// response rather than an error status, so a conversational caller always
// gets a usable answer body.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.TopK > s.config.Retrieval.MaxTopK {
		req.TopK = s.config.Retrieval.MaxTopK
	}
	s.logger.Debug("query request",
		zap.String("query", utils.Truncate(req.Query, 200)),
		zap.Int("top_k", req.TopK))
	result := s.assembler.Query(r.Context(), req.Query, req.TopK)
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleIndexInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.ingestor.Info(r.Context())
	if err != nil {
		s.logger.Error("index info failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]interface{}{
		"index": info,
	}
	diskBytes, err := storage.DiskUsageBytes(
		s.config.Storage.IndexPath,
		s.config.Storage.LedgerPath,
		s.config.Storage.DatabasePath,
		s.config.Storage.UploadDir,
	)
	if err == nil {
		resp["disk_usage_bytes"] = diskBytes
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
