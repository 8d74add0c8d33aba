package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"ragchat/internal/activities"
	"ragchat/internal/agent"
	"ragchat/internal/extract"
	"ragchat/internal/gateway"
	"ragchat/internal/ingest"
	"ragchat/internal/models"
	"ragchat/internal/storage"
	"ragchat/internal/vector"

	"github.com/go-chi/chi/v5"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"
)

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

type retrievedDoc struct {
	ChunkID    int64   `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Score      float64 `json:"score"`
	Content    string  `json:"content"`
}

type chatMetadata struct {
	ModelUsed       string            `json:"model_used"`
	Degraded        bool              `json:"degraded"`
	Attempts        []gateway.Attempt `json:"attempts"`
	RetrievalError  string            `json:"retrieval_error,omitempty"`
	GenerationError string            `json:"generation_error,omitempty"`
}

type chatResponse struct {
	Response      string         `json:"response"`
	SessionID     string         `json:"session_id"`
	RetrievedDocs []retrievedDoc `json:"retrieved_docs"`
	Metadata      chatMetadata   `json:"metadata"`
}

func newChatResponse(res agent.Result) chatResponse {
	docs := make([]retrievedDoc, 0, len(res.Retrieved))
	for _, r := range res.Retrieved {
		docs = append(docs, retrievedDoc{
			ChunkID:    r.Chunk.ChunkID,
			DocumentID: r.Chunk.DocumentID,
			Score:      r.Score,
			Content:    r.Chunk.Text,
		})
	}
	attempts := res.Attempts
	if attempts == nil {
		attempts = []gateway.Attempt{}
	}
	return chatResponse{
		Response:      res.Response,
		SessionID:     res.SessionID,
		RetrievedDocs: docs,
		Metadata: chatMetadata{
			ModelUsed:       res.ModelUsed,
			Degraded:        res.Degraded,
			Attempts:        attempts,
			RetrievalError:  res.RetrievalError,
			GenerationError: res.GenerationError,
		},
	}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("message is required"))
		return
	}

	res, err := s.chat.Handle(r.Context(), strings.TrimSpace(req.SessionID), req.Message)
	if err != nil {
		switch {
		case errors.Is(err, agent.ErrEmptyQuery):
			writeErr(w, http.StatusBadRequest, err)
		case r.Context().Err() != nil:
			s.logger.Info("chat request ended early", zap.String("session_id", res.SessionID), zap.Error(err))
			writeErr(w, http.StatusServiceUnavailable, err)
		default:
			s.logger.Error("chat failed", zap.String("session_id", res.SessionID), zap.Error(err))
			writeErr(w, http.StatusInternalServerError, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, newChatResponse(res))
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErr(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		writeErr(w, http.StatusBadRequest, fmt.Errorf("parse multipart: %w", err))
		return
	}

	fh, ok := uploadedFile(r.MultipartForm)
	if !ok {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("no file provided"))
		return
	}
	if !extract.Supported(fh.Filename) {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("%w: %s", extract.ErrUnsupportedFormat, fh.Filename))
		return
	}
	data, err := readUpload(fh)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}

	res, err := s.ingester.Ingest(r.Context(), ingest.Upload{Filename: fh.Filename, Data: data})
	if err != nil {
		code := uploadStatus(err)
		s.logger.Error("upload failed", zap.String("filename", fh.Filename), zap.Int("status", code), zap.Error(err))
		writeErr(w, code, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// uploadStatus maps ingest failures, local or reported by a workflow, to an
// HTTP status.
func uploadStatus(err error) int {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		switch appErr.Type() {
		case activities.ErrTypeUnsupportedFormat:
			return http.StatusBadRequest
		case activities.ErrTypeEmbedding, activities.ErrTypeDimensionMismatch:
			return http.StatusBadGateway
		}
	}
	var embErr *gateway.EmbeddingError
	var dimErr *vector.DimensionMismatchError
	switch {
	case errors.Is(err, extract.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.As(err, &embErr), errors.As(err, &dimErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.ListSessions(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if sessions == nil {
		sessions = []models.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	detail, err := s.sessions.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			writeErr(w, http.StatusNotFound, err)
			return
		}
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleNewSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.CreateSession(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sess.SessionID})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.docs.ListDocuments(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if docs == nil {
		docs = []models.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.docs.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, storage.ErrDocumentNotFound) {
			writeErr(w, http.StatusNotFound, err)
			return
		}
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	removed, err := s.remover.Delete(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrDocumentNotFound) {
			writeErr(w, http.StatusNotFound, err)
			return
		}
		s.logger.Error("delete document failed", zap.String("document_id", id), zap.Error(err))
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"document_id":    id,
		"chunks_removed": removed,
		"status":         "deleted",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	embed, primary, fallback := s.models.Models()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "healthy",
		"vector_store_size": s.index.Size(),
		"dimension":         s.index.Dimension(),
		"models": map[string]string{
			"primary":   primary,
			"fallback":  fallback,
			"embedding": embed,
		},
	})
}

// uploadedFile prefers the "file" field and otherwise takes any single file.
func uploadedFile(form *multipart.Form) (*multipart.FileHeader, bool) {
	if form == nil {
		return nil, false
	}
	if files := form.File["file"]; len(files) > 0 {
		return files[0], true
	}
	for _, v := range form.File {
		if len(v) > 0 {
			return v[0], true
		}
	}
	return nil, false
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	src, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	return data, nil
}
