// Package server provides the HTTP API for Kioku.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kiokudb/kioku/internal/config"
	"github.com/kiokudb/kioku/internal/ingest"
	"github.com/kiokudb/kioku/internal/retrieval"
	"github.com/kiokudb/kioku/internal/storage"
)

// Server is the HTTP server for the Kioku API.
type Server struct {
	ingestor  *ingest.Ingestor
	assembler *retrieval.Assembler
	docs      storage.DocumentStore
	config    *config.Config
	logger    *zap.Logger
	server    *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	ingestor *ingest.Ingestor,
	assembler *retrieval.Assembler,
	docs storage.DocumentStore,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		ingestor:  ingestor,
		assembler: assembler,
		docs:      docs,
		config:    cfg,
		logger:    logger,
	}
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/documents", s.handleUploadDocument)
	r.Get("/api/v1/documents", s.handleListDocuments)
	r.Get("/api/v1/documents/{hash}", s.handleGetDocument)
	r.Delete("/api/v1/documents/{hash}", s.handleDeleteDocument)
	r.Post("/api/v1/query", s.handleQuery)
	r.Get("/api/v1/index/info", s.handleIndexInfo)
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.routes(),
	}
	s.logger.Info("starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
