package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ragchat/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id    TEXT PRIMARY KEY,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	message_count INTEGER NOT NULL DEFAULT 0,
	next_seq      BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at DESC);

CREATE TABLE IF NOT EXISTS messages (
	message_id UUID PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(session_id),
	seq        BIGINT NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (session_id, seq)
);

CREATE TABLE IF NOT EXISTS agent_states (
	session_id          TEXT NOT NULL REFERENCES sessions(session_id),
	seq                 BIGINT NOT NULL,
	step                TEXT NOT NULL,
	retrieved_chunk_ids BIGINT[] NOT NULL,
	scores              DOUBLE PRECISION[],
	model_used          TEXT NOT NULL DEFAULT '',
	attempt_number      INTEGER NOT NULL DEFAULT 0,
	succeeded           BOOLEAN NOT NULL DEFAULT FALSE,
	fallback            BOOLEAN NOT NULL DEFAULT FALSE,
	error               TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (session_id, seq)
);
ALTER TABLE agent_states ADD COLUMN IF NOT EXISTS succeeded BOOLEAN NOT NULL DEFAULT FALSE;
ALTER TABLE agent_states ADD COLUMN IF NOT EXISTS fallback BOOLEAN NOT NULL DEFAULT FALSE;

CREATE TABLE IF NOT EXISTS documents (
	document_id TEXT PRIMARY KEY,
	filename    TEXT NOT NULL,
	checksum    TEXT NOT NULL DEFAULT '',
	uploaded_at TIMESTAMPTZ NOT NULL,
	total_chars INTEGER NOT NULL,
	chunk_count INTEGER NOT NULL
);
`

// PostgresStore is the SessionStore and DocumentStore on a pgx pool.
type PostgresStore struct {
	db  *DB
	now func() time.Time
}

func NewPostgresStore(ctx context.Context, db *DB) (*PostgresStore, error) {
	if _, err := db.Pool.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("apply postgres schema: %w", err)
	}
	return &PostgresStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (p *PostgresStore) Close() error {
	p.db.Close()
	return nil
}

func (p *PostgresStore) CreateSession(ctx context.Context) (models.Session, error) {
	return p.insertSession(ctx, uuid.NewString())
}

func (p *PostgresStore) insertSession(ctx context.Context, id string) (models.Session, error) {
	now := p.now()
	_, err := p.db.Pool.Exec(ctx, `INSERT INTO sessions (session_id, created_at, updated_at) VALUES ($1, $2, $2) ON CONFLICT (session_id) DO NOTHING`, id, now)
	if err != nil {
		return models.Session{}, storeErr("create session", err)
	}
	return p.getSession(ctx, id)
}

func (p *PostgresStore) EnsureSession(ctx context.Context, id string) (models.Session, error) {
	if id == "" {
		return p.CreateSession(ctx)
	}
	sess, err := p.getSession(ctx, id)
	if errors.Is(err, ErrSessionNotFound) {
		return p.insertSession(ctx, id)
	}
	return sess, err
}

func (p *PostgresStore) getSession(ctx context.Context, id string) (models.Session, error) {
	var s models.Session
	err := p.db.Pool.QueryRow(ctx, `SELECT session_id, created_at, updated_at, message_count FROM sessions WHERE session_id=$1`, id).
		Scan(&s.SessionID, &s.CreatedAt, &s.UpdatedAt, &s.MessageCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return models.Session{}, storeErr("get session", err)
	}
	return s, nil
}

func (p *PostgresStore) appendTx(ctx context.Context, op, sessionID string, now time.Time, messageDelta int, insert func(tx pgx.Tx, seq int64) error) (int64, error) {
	var seq int64
	err := pgx.BeginFunc(ctx, p.db.Pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
UPDATE sessions SET next_seq = next_seq + 1, updated_at = $2, message_count = message_count + $3
WHERE session_id = $1
RETURNING next_seq`, sessionID, now, messageDelta).Scan(&seq)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		return insert(tx, seq)
	})
	if errors.Is(err, ErrSessionNotFound) {
		return 0, err
	}
	if err != nil {
		return 0, storeErr(op, err)
	}
	return seq, nil
}

func (p *PostgresStore) AppendMessage(ctx context.Context, sessionID string, role models.Role, content string) (models.Message, error) {
	now := p.now()
	msg := models.Message{MessageID: uuid.NewString(), SessionID: sessionID, Role: role, Content: content, CreatedAt: now}
	seq, err := p.appendTx(ctx, "append message", sessionID, now, 1, func(tx pgx.Tx, seq int64) error {
		_, err := tx.Exec(ctx, `INSERT INTO messages (message_id, session_id, seq, role, content, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
			msg.MessageID, sessionID, seq, string(role), content, now)
		return err
	})
	if err != nil {
		return models.Message{}, err
	}
	msg.Seq = seq
	return msg, nil
}

func (p *PostgresStore) AppendState(ctx context.Context, snap models.AgentStateSnapshot) (models.AgentStateSnapshot, error) {
	snap = normalizeSnapshot(snap)
	snap.CreatedAt = p.now()
	seq, err := p.appendTx(ctx, "append state", snap.SessionID, snap.CreatedAt, 0, func(tx pgx.Tx, seq int64) error {
		_, err := tx.Exec(ctx, `
INSERT INTO agent_states (session_id, seq, step, retrieved_chunk_ids, scores, model_used, attempt_number, succeeded, fallback, error, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			snap.SessionID, seq, string(snap.Step), snap.RetrievedChunkIDs, snap.Scores, snap.ModelUsed, snap.AttemptNumber, snap.Succeeded, snap.Fallback, snap.Error, snap.CreatedAt)
		return err
	})
	if err != nil {
		return models.AgentStateSnapshot{}, err
	}
	snap.Seq = seq
	return snap, nil
}

func (p *PostgresStore) RecentMessages(ctx context.Context, sessionID string, n int) ([]models.Message, error) {
	if _, err := p.getSession(ctx, sessionID); err != nil {
		return nil, err
	}
	if n <= 0 {
		return []models.Message{}, nil
	}
	rows, err := p.db.Pool.Query(ctx, `
SELECT message_id::text, session_id, seq, role, content, created_at FROM (
	SELECT * FROM messages WHERE session_id=$1 ORDER BY seq DESC LIMIT $2
) recent ORDER BY seq ASC`, sessionID, n)
	if err != nil {
		return nil, storeErr("recent messages", err)
	}
	return collectMessages(rows)
}

func collectMessages(rows pgx.Rows) ([]models.Message, error) {
	defer rows.Close()
	out := make([]models.Message, 0)
	for rows.Next() {
		var m models.Message
		var role string
		if err := rows.Scan(&m.MessageID, &m.SessionID, &m.Seq, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, storeErr("scan message", err)
		}
		m.Role = models.Role(role)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate messages", err)
	}
	return out, nil
}

func (p *PostgresStore) ListSessions(ctx context.Context) ([]models.Session, error) {
	rows, err := p.db.Pool.Query(ctx, `SELECT session_id, created_at, updated_at, message_count FROM sessions ORDER BY updated_at DESC, session_id ASC`)
	if err != nil {
		return nil, storeErr("list sessions", err)
	}
	defer rows.Close()

	out := make([]models.Session, 0)
	for rows.Next() {
		var s models.Session
		if err := rows.Scan(&s.SessionID, &s.CreatedAt, &s.UpdatedAt, &s.MessageCount); err != nil {
			return nil, storeErr("scan session", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate sessions", err)
	}
	return out, nil
}

func (p *PostgresStore) GetSession(ctx context.Context, sessionID string) (models.SessionDetail, error) {
	sess, err := p.getSession(ctx, sessionID)
	if err != nil {
		return models.SessionDetail{}, err
	}
	rows, err := p.db.Pool.Query(ctx, `SELECT message_id::text, session_id, seq, role, content, created_at FROM messages WHERE session_id=$1 ORDER BY seq ASC`, sessionID)
	if err != nil {
		return models.SessionDetail{}, storeErr("list messages", err)
	}
	msgs, err := collectMessages(rows)
	if err != nil {
		return models.SessionDetail{}, err
	}

	srows, err := p.db.Pool.Query(ctx, `
SELECT session_id, seq, step, retrieved_chunk_ids, scores, model_used, attempt_number, succeeded, fallback, error, created_at
FROM agent_states WHERE session_id=$1 ORDER BY seq ASC`, sessionID)
	if err != nil {
		return models.SessionDetail{}, storeErr("list states", err)
	}
	defer srows.Close()
	states := make([]models.AgentStateSnapshot, 0)
	for srows.Next() {
		var st models.AgentStateSnapshot
		var step string
		if err := srows.Scan(&st.SessionID, &st.Seq, &step, &st.RetrievedChunkIDs, &st.Scores, &st.ModelUsed, &st.AttemptNumber, &st.Succeeded, &st.Fallback, &st.Error, &st.CreatedAt); err != nil {
			return models.SessionDetail{}, storeErr("scan state", err)
		}
		st.Step = models.Step(step)
		states = append(states, st)
	}
	if err := srows.Err(); err != nil {
		return models.SessionDetail{}, storeErr("iterate states", err)
	}
	return models.SessionDetail{Session: sess, Messages: msgs, States: states}, nil
}

func (p *PostgresStore) CreateDocument(ctx context.Context, doc models.Document) error {
	_, err := p.db.Pool.Exec(ctx, `
INSERT INTO documents (document_id, filename, checksum, uploaded_at, total_chars, chunk_count)
VALUES ($1, $2, $3, $4, $5, $6)`,
		doc.DocumentID, doc.Filename, doc.Checksum, doc.UploadedAt, doc.TotalChars, doc.ChunkCount)
	return storeErr("create document", err)
}

func (p *PostgresStore) ListDocuments(ctx context.Context) ([]models.Document, error) {
	rows, err := p.db.Pool.Query(ctx, `
SELECT document_id, filename, checksum, uploaded_at, total_chars, chunk_count
FROM documents ORDER BY uploaded_at ASC, document_id ASC`)
	if err != nil {
		return nil, storeErr("list documents", err)
	}
	defer rows.Close()

	out := make([]models.Document, 0)
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(&d.DocumentID, &d.Filename, &d.Checksum, &d.UploadedAt, &d.TotalChars, &d.ChunkCount); err != nil {
			return nil, storeErr("scan document", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate documents", err)
	}
	return out, nil
}

func (p *PostgresStore) GetDocument(ctx context.Context, documentID string) (models.Document, error) {
	var d models.Document
	err := p.db.Pool.QueryRow(ctx, `
SELECT document_id, filename, checksum, uploaded_at, total_chars, chunk_count
FROM documents WHERE document_id=$1`, documentID).
		Scan(&d.DocumentID, &d.Filename, &d.Checksum, &d.UploadedAt, &d.TotalChars, &d.ChunkCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Document{}, ErrDocumentNotFound
	}
	if err != nil {
		return models.Document{}, storeErr("get document", err)
	}
	return d, nil
}

func (p *PostgresStore) DeleteDocument(ctx context.Context, documentID string) error {
	tag, err := p.db.Pool.Exec(ctx, `DELETE FROM documents WHERE document_id=$1`, documentID)
	if err != nil {
		return storeErr("delete document", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDocumentNotFound
	}
	return nil
}
