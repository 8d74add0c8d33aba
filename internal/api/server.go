package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"ragchat/internal/agent"
	"ragchat/internal/ingest"
	"ragchat/internal/logging"
	"ragchat/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const maxUploadBytes = 64 << 20

// Chatter runs one conversation turn.
type Chatter interface {
	Handle(ctx context.Context, sessionID, query string) (agent.Result, error)
}

// DocumentRemover deletes a document together with its indexed chunks.
type DocumentRemover interface {
	Delete(ctx context.Context, documentID string) (int, error)
}

type IndexStats interface {
	Size() int
	Dimension() int
}

type ModelInfo interface {
	Models() (embed, primary, fallback string)
}

type Deps struct {
	Chat     Chatter
	Sessions storage.SessionStore
	Docs     storage.DocumentStore
	Ingester ingest.Ingester
	Remover  DocumentRemover
	Index    IndexStats
	Models   ModelInfo
	Logger   *zap.Logger
}

type Server struct {
	chat     Chatter
	sessions storage.SessionStore
	docs     storage.DocumentStore
	ingester ingest.Ingester
	remover  DocumentRemover
	index    IndexStats
	models   ModelInfo
	logger   *zap.Logger
	server   *http.Server
}

func NewServer(d Deps) *Server {
	return &Server{
		chat:     d.Chat,
		sessions: d.Sessions,
		docs:     d.Docs,
		ingester: d.Ingester,
		remover:  d.Remover,
		index:    d.Index,
		models:   d.Models,
		logger:   logging.OrNop(d.Logger),
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(withCORS)

	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", s.handleChat)
		r.Post("/upload", s.handleUpload)
		r.Get("/sessions", s.handleListSessions)
		r.Post("/sessions/new", s.handleNewSession)
		r.Get("/sessions/{id}", s.handleGetSession)
		r.Get("/documents", s.handleListDocuments)
		r.Get("/documents/{id}", s.handleGetDocument)
		r.Delete("/documents/{id}", s.handleDeleteDocument)
		r.Get("/health", s.handleHealth)
	})
	return r
}

// Start serves on addr and blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
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

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	apiErr := toAPIError(code, err)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		},
	})
}

type apiError struct {
	Code    string
	Message string
}

func toAPIError(status int, err error) apiError {
	msg := "Request failed."
	code := "RC-API-4000"
	raw := ""
	if err != nil {
		raw = strings.ToLower(err.Error())
	}

	switch {
	case status >= 500:
		switch {
		case status == http.StatusBadGateway:
			return apiError{
				Code:    "RC-API-5020",
				Message: "Model provider unavailable. Retry shortly.",
			}
		case strings.Contains(raw, "relation") && strings.Contains(raw, "does not exist"):
			return apiError{
				Code:    "RC-DB-5001",
				Message: "Database schema is not initialized. Restart the service and retry.",
			}
		case strings.Contains(raw, "database is locked"), strings.Contains(raw, "sqlite_busy"):
			return apiError{
				Code:    "RC-DB-5003",
				Message: "Database is busy. Retry shortly.",
			}
		case strings.Contains(raw, "connect"), strings.Contains(raw, "dial tcp"), strings.Contains(raw, "connection refused"):
			return apiError{
				Code:    "RC-DB-5002",
				Message: "Database connection is unavailable. Check local services and retry.",
			}
		default:
			return apiError{
				Code:    "RC-API-5000",
				Message: "Internal server error. Please retry or check service logs.",
			}
		}
	case status == http.StatusBadRequest:
		code = "RC-API-4001"
		msg = "Invalid request. Check inputs and retry."
	case status == http.StatusNotFound:
		code = "RC-API-4004"
		msg = "Requested resource was not found."
	case status == http.StatusMethodNotAllowed:
		code = "RC-API-4005"
		msg = "This endpoint does not support the requested method."
	case status == http.StatusRequestEntityTooLarge:
		code = "RC-API-4013"
		msg = "Uploaded file is too large."
	}

	// For 4xx, keep user-safe validation context only.
	if status >= 400 && status < 500 && err != nil {
		switch {
		case strings.Contains(raw, "message is required"), strings.Contains(raw, "query is empty"):
			msg = "A message is required."
		case strings.Contains(raw, "no file provided"):
			msg = "No file was provided."
		case strings.Contains(raw, "unsupported file format"):
			msg = "Unsupported file format. Upload a PDF, TXT or Markdown file."
		case strings.Contains(raw, "invalid json"):
			msg = "Malformed JSON request body."
		case strings.Contains(raw, "session not found"):
			msg = "Session not found."
		case strings.Contains(raw, "document not found"):
			msg = "Document not found."
		}
	}

	return apiError{Code: code, Message: msg}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
