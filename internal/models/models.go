// Package models defines core data structures for documents, chunks, and retrieval results.
package models

import "time"

// Document is a record in the document side table, keyed by content hash.
// The side table owns display metadata; the vector index and its ledger only
// reference documents by hash.
type Document struct {
	Hash         string    `json:"file_hash" db:"hash"`
	OriginalName string    `json:"original_filename" db:"original_name"`
	StoredName   string    `json:"stored_filename,omitempty" db:"stored_name"`
	SourcePath   string    `json:"source_path,omitempty" db:"source_path"`
	SizeBytes    int64     `json:"file_size" db:"size_bytes"`
	ChunkCount   int       `json:"chunk_count" db:"chunk_count"`
	UploadedAt   time.Time `json:"uploaded_at" db:"uploaded_at"`
}

// ChunkDescriptor describes one indexed chunk. Its position in the ledger's
// chunk list equals the row of its vector in the flat index.
type ChunkDescriptor struct {
	DocumentHash string `json:"file_hash"`
	DocumentName string `json:"original_filename"`
	ChunkOrdinal int    `json:"chunk_index"`
	ChunkText    string `json:"chunk_text"`
}

// Hit is a single ranked retrieval result.
type Hit struct {
	Rank         int     `json:"rank"`
	Distance     float64 `json:"distance"`
	DocumentHash string  `json:"file_hash"`
	DocumentName string  `json:"document_name"`
	ChunkOrdinal int     `json:"chunk_index"`
	ChunkText    string  `json:"chunk_text"`
}

// IngestResult reports the outcome of a document ingestion.
type IngestResult struct {
	Hash               string `json:"file_hash"`
	OriginalName       string `json:"original_filename"`
	ChunkCount         int    `json:"chunk_count"`
	EmbeddingDimension int    `json:"embedding_dimension"`
	AlreadyIngested    bool   `json:"already_ingested,omitempty"`
}

// RetrievalResult is the response for a query request.
type RetrievalResult struct {
	Query     string `json:"query"`
	Hits      []*Hit `json:"hits"`
	Context   string `json:"context"`
	QueryTime int64  `json:"query_time_ms"`
}

// IndexInfo describes the current state of the index artifact pair.
type IndexInfo struct {
	Exists         bool   `json:"exists"`
	Dimension      int    `json:"dimension"`
	TotalVectors   int    `json:"total_vectors"`
	TotalDocuments int    `json:"total_documents"`
	TotalChunks    int    `json:"total_chunks"`
	EmbeddingModel string `json:"embedding_model,omitempty"`
}
