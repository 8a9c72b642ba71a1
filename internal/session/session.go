// Package session defines the lifecycle model for document processing
// sessions: a session tracks one article from ingestion through readiness
// or failure, and carries the metadata query answering needs.
package session

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/riku-miura/wiki-rag/internal/rag"
)

// Status is a session lifecycle state.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
	StatusExpired    Status = "expired"
)

// Valid reports whether s is a known lifecycle state.
func (s Status) Valid() bool {
	switch s {
	case StatusProcessing, StatusReady, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// Error codes recorded on failed sessions.
const (
	CodeInvalidInput        = "invalid_input"
	CodeNotFound            = "not_found"
	CodeUpstreamUnavailable = "upstream_unavailable"
	CodeDimensionMismatch   = "dimension_mismatch"
	CodeInternal            = "internal"
)

// Metadata holds the descriptive fields captured while building a session.
type Metadata struct {
	ArticleTitle     string `json:"article_title,omitempty"`
	Language         string `json:"language,omitempty"`
	ContentSize      int    `json:"content_size,omitempty"`
	ProcessingTimeMS int64  `json:"processing_time_ms,omitempty"`
	ModelVersion     string `json:"model_version,omitempty"`
	ErrorCode        string `json:"error_code,omitempty"`
	ErrorMessage     string `json:"error_message,omitempty"`
}

// Session is one document processing session.
type Session struct {
	ID                 uuid.UUID `json:"session_id"`
	SourceURL          string    `json:"source_url"`
	Status             Status    `json:"status"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
	ChunkCount         int       `json:"chunk_count"`
	EmbeddingDimension int       `json:"embedding_dimension,omitempty"`
	IndexLocation      string    `json:"index_location,omitempty"`
	Metadata           Metadata  `json:"metadata"`
}

// New mints a session in the processing state for the given source URL.
func New(sourceURL string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        uuid.New(),
		SourceURL: sourceURL,
		Status:    StatusProcessing,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  Metadata{Language: "en"},
	}
}

// MarkReady transitions the session to ready.
func (s *Session) MarkReady() {
	s.Status = StatusReady
	s.UpdatedAt = time.Now().UTC()
}

// MarkFailed transitions the session to failed and records the error.
func (s *Session) MarkFailed(err error) {
	s.Status = StatusFailed
	s.UpdatedAt = time.Now().UTC()
	s.Metadata.ErrorCode = CodeForError(err)
	if err != nil {
		s.Metadata.ErrorMessage = err.Error()
	}
}

// Queryable reports whether the session can serve queries.
func (s *Session) Queryable() bool { return s.Status == StatusReady }

// CodeForError maps a pipeline error to its stable error code.
func CodeForError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, rag.ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, rag.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, rag.ErrUpstreamUnavailable):
		return CodeUpstreamUnavailable
	case errors.Is(err, rag.ErrDimensionMismatch):
		return CodeDimensionMismatch
	default:
		return CodeInternal
	}
}
