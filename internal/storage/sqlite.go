package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"ragchat/internal/models"
	"ragchat/internal/util"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id    TEXT PRIMARY KEY,
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL,
	message_count INTEGER NOT NULL DEFAULT 0,
	next_seq      INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at DESC);

CREATE TABLE IF NOT EXISTS messages (
	message_id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(session_id),
	seq        INTEGER NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	UNIQUE (session_id, seq)
);

CREATE TABLE IF NOT EXISTS agent_states (
	session_id          TEXT NOT NULL REFERENCES sessions(session_id),
	seq                 INTEGER NOT NULL,
	step                TEXT NOT NULL,
	retrieved_chunk_ids TEXT NOT NULL,
	scores              TEXT,
	model_used          TEXT NOT NULL DEFAULT '',
	attempt_number      INTEGER NOT NULL DEFAULT 0,
	succeeded           INTEGER NOT NULL DEFAULT 0,
	fallback            INTEGER NOT NULL DEFAULT 0,
	error               TEXT NOT NULL DEFAULT '',
	created_at          INTEGER NOT NULL,
	PRIMARY KEY (session_id, seq)
);

CREATE TRIGGER IF NOT EXISTS messages_append_only_update BEFORE UPDATE ON messages
BEGIN SELECT RAISE(ABORT, 'messages are append-only'); END;
CREATE TRIGGER IF NOT EXISTS messages_append_only_delete BEFORE DELETE ON messages
BEGIN SELECT RAISE(ABORT, 'messages are append-only'); END;
CREATE TRIGGER IF NOT EXISTS agent_states_append_only_update BEFORE UPDATE ON agent_states
BEGIN SELECT RAISE(ABORT, 'agent states are append-only'); END;
CREATE TRIGGER IF NOT EXISTS agent_states_append_only_delete BEFORE DELETE ON agent_states
BEGIN SELECT RAISE(ABORT, 'agent states are append-only'); END;

CREATE TABLE IF NOT EXISTS documents (
	document_id TEXT PRIMARY KEY,
	filename    TEXT NOT NULL,
	checksum    TEXT NOT NULL DEFAULT '',
	uploaded_at INTEGER NOT NULL,
	total_chars INTEGER NOT NULL,
	chunk_count INTEGER NOT NULL
);
`

// SQLiteStore persists sessions and documents in a single SQLite file.
type SQLiteStore struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := util.EnsureDir(dir); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers and avoids SQLITE_BUSY between them.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	if err := migrateSQLite(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, path: path, now: func() time.Time { return time.Now().UTC() }}, nil
}

// migrateSQLite adds columns introduced after a database file was created.
func migrateSQLite(db *sql.DB) error {
	for _, col := range []struct{ name, ddl string }{
		{"succeeded", "succeeded INTEGER NOT NULL DEFAULT 0"},
		{"fallback", "fallback INTEGER NOT NULL DEFAULT 0"},
	} {
		var n int
		if err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('agent_states') WHERE name = ?`, col.name).Scan(&n); err != nil {
			return fmt.Errorf("inspect agent_states: %w", err)
		}
		if n > 0 {
			continue
		}
		if _, err := db.Exec(`ALTER TABLE agent_states ADD COLUMN ` + col.ddl); err != nil {
			return fmt.Errorf("add agent_states.%s: %w", col.name, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) CreateSession(ctx context.Context) (models.Session, error) {
	return s.insertSession(ctx, uuid.NewString())
}

func (s *SQLiteStore) insertSession(ctx context.Context, id string) (models.Session, error) {
	now := s.now()
	_, err := s.db.ExecContext(ctx, `INSERT INTO sessions (session_id, created_at, updated_at) VALUES (?, ?, ?) ON CONFLICT (session_id) DO NOTHING`,
		id, now.UnixNano(), now.UnixNano())
	if err != nil {
		return models.Session{}, storeErr("create session", err)
	}
	return s.getSession(ctx, id)
}

func (s *SQLiteStore) EnsureSession(ctx context.Context, id string) (models.Session, error) {
	if id == "" {
		return s.CreateSession(ctx)
	}
	sess, err := s.getSession(ctx, id)
	if errors.Is(err, ErrSessionNotFound) {
		return s.insertSession(ctx, id)
	}
	return sess, err
}

func (s *SQLiteStore) getSession(ctx context.Context, id string) (models.Session, error) {
	var sess models.Session
	var created, updated int64
	err := s.db.QueryRowContext(ctx, `SELECT session_id, created_at, updated_at, message_count FROM sessions WHERE session_id = ?`, id).
		Scan(&sess.SessionID, &created, &updated, &sess.MessageCount)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return models.Session{}, storeErr("get session", err)
	}
	sess.CreatedAt, sess.UpdatedAt = fromNanos(created), fromNanos(updated)
	return sess, nil
}

// nextSeq bumps the session's sequence counter inside tx.
func nextSeq(ctx context.Context, tx *sql.Tx, sessionID string, now time.Time, messageDelta int) (int64, error) {
	var seq int64
	err := tx.QueryRowContext(ctx, `
UPDATE sessions SET next_seq = next_seq + 1, updated_at = ?, message_count = message_count + ?
WHERE session_id = ?
RETURNING next_seq`, now.UnixNano(), messageDelta, sessionID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrSessionNotFound
	}
	return seq, err
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, role models.Role, content string) (models.Message, error) {
	now := s.now()
	msg := models.Message{MessageID: uuid.NewString(), SessionID: sessionID, Role: role, Content: content, CreatedAt: now}
	err := s.inTx(ctx, "append message", func(tx *sql.Tx) error {
		seq, err := nextSeq(ctx, tx, sessionID, now, 1)
		if err != nil {
			return err
		}
		msg.Seq = seq
		_, err = tx.ExecContext(ctx, `INSERT INTO messages (message_id, session_id, seq, role, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			msg.MessageID, sessionID, seq, string(role), content, now.UnixNano())
		return err
	})
	if err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

func (s *SQLiteStore) AppendState(ctx context.Context, snap models.AgentStateSnapshot) (models.AgentStateSnapshot, error) {
	snap = normalizeSnapshot(snap)
	snap.CreatedAt = s.now()
	ids, err := json.Marshal(snap.RetrievedChunkIDs)
	if err != nil {
		return models.AgentStateSnapshot{}, fmt.Errorf("encode chunk ids: %w", err)
	}
	var scores any
	if snap.Scores != nil {
		b, err := json.Marshal(snap.Scores)
		if err != nil {
			return models.AgentStateSnapshot{}, fmt.Errorf("encode scores: %w", err)
		}
		scores = string(b)
	}
	err = s.inTx(ctx, "append state", func(tx *sql.Tx) error {
		seq, err := nextSeq(ctx, tx, snap.SessionID, snap.CreatedAt, 0)
		if err != nil {
			return err
		}
		snap.Seq = seq
		_, err = tx.ExecContext(ctx, `
INSERT INTO agent_states (session_id, seq, step, retrieved_chunk_ids, scores, model_used, attempt_number, succeeded, fallback, error, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			snap.SessionID, seq, string(snap.Step), string(ids), scores, snap.ModelUsed, snap.AttemptNumber, snap.Succeeded, snap.Fallback, snap.Error, snap.CreatedAt.UnixNano())
		return err
	})
	if err != nil {
		return models.AgentStateSnapshot{}, err
	}
	return snap, nil
}

func (s *SQLiteStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		if errors.Is(err, ErrSessionNotFound) {
			return err
		}
		return storeErr(op, err)
	}
	if err := tx.Commit(); err != nil {
		return storeErr(op, err)
	}
	return nil
}

func (s *SQLiteStore) RecentMessages(ctx context.Context, sessionID string, n int) ([]models.Message, error) {
	if _, err := s.getSession(ctx, sessionID); err != nil {
		return nil, err
	}
	if n <= 0 {
		return []models.Message{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT message_id, session_id, seq, role, content, created_at FROM (
	SELECT * FROM messages WHERE session_id = ? ORDER BY seq DESC LIMIT ?
) ORDER BY seq ASC`, sessionID, n)
	if err != nil {
		return nil, storeErr("recent messages", err)
	}
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]models.Message, error) {
	defer rows.Close()
	out := make([]models.Message, 0)
	for rows.Next() {
		var m models.Message
		var role string
		var created int64
		if err := rows.Scan(&m.MessageID, &m.SessionID, &m.Seq, &role, &m.Content, &created); err != nil {
			return nil, storeErr("scan message", err)
		}
		m.Role, m.CreatedAt = models.Role(role), fromNanos(created)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate messages", err)
	}
	return out, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context) ([]models.Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session_id, created_at, updated_at, message_count FROM sessions ORDER BY updated_at DESC, session_id ASC`)
	if err != nil {
		return nil, storeErr("list sessions", err)
	}
	defer rows.Close()

	out := make([]models.Session, 0)
	for rows.Next() {
		var sess models.Session
		var created, updated int64
		if err := rows.Scan(&sess.SessionID, &created, &updated, &sess.MessageCount); err != nil {
			return nil, storeErr("scan session", err)
		}
		sess.CreatedAt, sess.UpdatedAt = fromNanos(created), fromNanos(updated)
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate sessions", err)
	}
	return out, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (models.SessionDetail, error) {
	sess, err := s.getSession(ctx, sessionID)
	if err != nil {
		return models.SessionDetail{}, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT message_id, session_id, seq, role, content, created_at FROM messages WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return models.SessionDetail{}, storeErr("list messages", err)
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return models.SessionDetail{}, err
	}
	states, err := s.listStates(ctx, sessionID)
	if err != nil {
		return models.SessionDetail{}, err
	}
	return models.SessionDetail{Session: sess, Messages: msgs, States: states}, nil
}

func (s *SQLiteStore) listStates(ctx context.Context, sessionID string) ([]models.AgentStateSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT session_id, seq, step, retrieved_chunk_ids, scores, model_used, attempt_number, succeeded, fallback, error, created_at
FROM agent_states WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, storeErr("list states", err)
	}
	defer rows.Close()

	out := make([]models.AgentStateSnapshot, 0)
	for rows.Next() {
		var st models.AgentStateSnapshot
		var step, ids string
		var scores sql.NullString
		var created int64
		if err := rows.Scan(&st.SessionID, &st.Seq, &step, &ids, &scores, &st.ModelUsed, &st.AttemptNumber, &st.Succeeded, &st.Fallback, &st.Error, &created); err != nil {
			return nil, storeErr("scan state", err)
		}
		st.Step, st.CreatedAt = models.Step(step), fromNanos(created)
		if err := json.Unmarshal([]byte(ids), &st.RetrievedChunkIDs); err != nil {
			return nil, fmt.Errorf("decode chunk ids: %w", err)
		}
		if scores.Valid {
			if err := json.Unmarshal([]byte(scores.String), &st.Scores); err != nil {
				return nil, fmt.Errorf("decode scores: %w", err)
			}
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate states", err)
	}
	return out, nil
}

func (s *SQLiteStore) CreateDocument(ctx context.Context, doc models.Document) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO documents (document_id, filename, checksum, uploaded_at, total_chars, chunk_count)
VALUES (?, ?, ?, ?, ?, ?)`,
		doc.DocumentID, doc.Filename, doc.Checksum, doc.UploadedAt.UnixNano(), doc.TotalChars, doc.ChunkCount)
	return storeErr("create document", err)
}

func (s *SQLiteStore) ListDocuments(ctx context.Context) ([]models.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT document_id, filename, checksum, uploaded_at, total_chars, chunk_count
FROM documents ORDER BY uploaded_at ASC, document_id ASC`)
	if err != nil {
		return nil, storeErr("list documents", err)
	}
	defer rows.Close()

	out := make([]models.Document, 0)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate documents", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(r rowScanner) (models.Document, error) {
	var d models.Document
	var uploaded int64
	if err := r.Scan(&d.DocumentID, &d.Filename, &d.Checksum, &uploaded, &d.TotalChars, &d.ChunkCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Document{}, ErrDocumentNotFound
		}
		return models.Document{}, storeErr("scan document", err)
	}
	d.UploadedAt = fromNanos(uploaded)
	return d, nil
}

func (s *SQLiteStore) GetDocument(ctx context.Context, documentID string) (models.Document, error) {
	return scanDocument(s.db.QueryRowContext(ctx, `
SELECT document_id, filename, checksum, uploaded_at, total_chars, chunk_count
FROM documents WHERE document_id = ?`, documentID))
}

func (s *SQLiteStore) DeleteDocument(ctx context.Context, documentID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE document_id = ?`, documentID)
	if err != nil {
		return storeErr("delete document", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("delete document", err)
	}
	if n == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }
