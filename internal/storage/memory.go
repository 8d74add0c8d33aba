package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"ragchat/internal/models"

	"github.com/google/uuid"
)

type memSession struct {
	session  models.Session
	nextSeq  int64
	messages []models.Message
	states   []models.AgentStateSnapshot
}

// MemoryStore keeps everything in process. Used for tests and ephemeral runs.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memSession
	docs     map[string]models.Document
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: map[string]*memSession{},
		docs:     map[string]models.Document{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) CreateSession(_ context.Context) (models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(uuid.NewString()), nil
}

func (m *MemoryStore) createLocked(id string) models.Session {
	now := m.now()
	s := &memSession{session: models.Session{SessionID: id, CreatedAt: now, UpdatedAt: now}}
	m.sessions[id] = s
	return s.session
}

func (m *MemoryStore) EnsureSession(ctx context.Context, id string) (models.Session, error) {
	if id == "" {
		return m.CreateSession(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s.session, nil
	}
	return m.createLocked(id), nil
}

func (m *MemoryStore) AppendMessage(_ context.Context, sessionID string, role models.Role, content string) (models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return models.Message{}, ErrSessionNotFound
	}
	now := m.now()
	s.nextSeq++
	msg := models.Message{
		MessageID: uuid.NewString(),
		SessionID: sessionID,
		Seq:       s.nextSeq,
		Role:      role,
		Content:   content,
		CreatedAt: now,
	}
	s.messages = append(s.messages, msg)
	s.session.MessageCount++
	s.session.UpdatedAt = now
	return msg, nil
}

func (m *MemoryStore) AppendState(_ context.Context, snap models.AgentStateSnapshot) (models.AgentStateSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[snap.SessionID]
	if !ok {
		return models.AgentStateSnapshot{}, ErrSessionNotFound
	}
	now := m.now()
	s.nextSeq++
	snap = normalizeSnapshot(snap)
	snap.RetrievedChunkIDs = append([]int64{}, snap.RetrievedChunkIDs...)
	if snap.Scores != nil {
		snap.Scores = append([]float64{}, snap.Scores...)
	}
	snap.Seq = s.nextSeq
	snap.CreatedAt = now
	s.states = append(s.states, snap)
	s.session.UpdatedAt = now
	return snap, nil
}

func (m *MemoryStore) RecentMessages(_ context.Context, sessionID string, n int) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if n <= 0 {
		return []models.Message{}, nil
	}
	from := len(s.messages) - n
	if from < 0 {
		from = 0
	}
	return append([]models.Message{}, s.messages[from:]...), nil
}

func (m *MemoryStore) ListSessions(_ context.Context) ([]models.Session, error) {
	m.mu.RLock()
	out := make([]models.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.session)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out, nil
}

func (m *MemoryStore) GetSession(_ context.Context, sessionID string) (models.SessionDetail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return models.SessionDetail{}, ErrSessionNotFound
	}
	states := make([]models.AgentStateSnapshot, len(s.states))
	for i, st := range s.states {
		st.RetrievedChunkIDs = append([]int64{}, st.RetrievedChunkIDs...)
		if st.Scores != nil {
			st.Scores = append([]float64{}, st.Scores...)
		}
		states[i] = st
	}
	return models.SessionDetail{
		Session:  s.session,
		Messages: append([]models.Message{}, s.messages...),
		States:   states,
	}, nil
}

func (m *MemoryStore) CreateDocument(_ context.Context, doc models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.DocumentID] = doc
	return nil
}

func (m *MemoryStore) ListDocuments(_ context.Context) ([]models.Document, error) {
	m.mu.RLock()
	out := make([]models.Document, 0, len(m.docs))
	for _, d := range m.docs {
		out = append(out, d)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UploadedAt.Equal(out[j].UploadedAt) {
			return out[i].UploadedAt.Before(out[j].UploadedAt)
		}
		return out[i].DocumentID < out[j].DocumentID
	})
	return out, nil
}

func (m *MemoryStore) GetDocument(_ context.Context, documentID string) (models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[documentID]
	if !ok {
		return models.Document{}, ErrDocumentNotFound
	}
	return d, nil
}

func (m *MemoryStore) DeleteDocument(_ context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[documentID]; !ok {
		return ErrDocumentNotFound
	}
	delete(m.docs, documentID)
	return nil
}
