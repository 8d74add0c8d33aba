package storage

import (
	"context"
	"errors"
	"fmt"

	"ragchat/internal/config"
	"ragchat/internal/models"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrDocumentNotFound = errors.New("document not found")
)

// StoreError reports a failure of the durability layer itself. Callers may
// retry the operation; not-found conditions are reported with the sentinels
// above instead.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// SessionStore is the append-only log of messages and state snapshots.
// Records are never updated or deleted once appended; every record gets the
// next per-session sequence number.
type SessionStore interface {
	CreateSession(ctx context.Context) (models.Session, error)
	// EnsureSession returns the session with id, creating it when missing.
	// An empty id creates a new session.
	EnsureSession(ctx context.Context, id string) (models.Session, error)
	AppendMessage(ctx context.Context, sessionID string, role models.Role, content string) (models.Message, error)
	AppendState(ctx context.Context, snap models.AgentStateSnapshot) (models.AgentStateSnapshot, error)
	// RecentMessages returns up to n of the latest messages, oldest first.
	RecentMessages(ctx context.Context, sessionID string, n int) ([]models.Message, error)
	// ListSessions orders by most recently updated first.
	ListSessions(ctx context.Context) ([]models.Session, error)
	GetSession(ctx context.Context, sessionID string) (models.SessionDetail, error)
}

type DocumentStore interface {
	CreateDocument(ctx context.Context, doc models.Document) error
	// ListDocuments orders by upload time.
	ListDocuments(ctx context.Context) ([]models.Document, error)
	GetDocument(ctx context.Context, documentID string) (models.Document, error)
	DeleteDocument(ctx context.Context, documentID string) error
}

type Store interface {
	SessionStore
	DocumentStore
	Close() error
}

// Open builds the store selected by cfg.StoreDriver.
func Open(ctx context.Context, cfg config.Config) (Store, error) {
	switch cfg.StoreDriver {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(cfg.SQLitePath)
	case "postgres":
		db, err := NewDB(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		return NewPostgresStore(ctx, db)
	default:
		return nil, fmt.Errorf("unknown store driver: %s", cfg.StoreDriver)
	}
}

func normalizeSnapshot(s models.AgentStateSnapshot) models.AgentStateSnapshot {
	if s.RetrievedChunkIDs == nil {
		s.RetrievedChunkIDs = []int64{}
	}
	return s
}
