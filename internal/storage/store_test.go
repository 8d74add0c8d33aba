package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"ragchat/internal/models"

	"github.com/stretchr/testify/require"
)

// tickingClock advances one millisecond per reading so ordering by time is
// deterministic in tests.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Millisecond)
		return t
	}
}

type storeFactory func(t *testing.T) Store

func factories() map[string]storeFactory {
	f := map[string]storeFactory{
		"memory": func(t *testing.T) Store {
			s := NewMemoryStore()
			s.now = tickingClock()
			return s
		},
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "ragchat.db"))
			require.NoError(t, err)
			s.now = tickingClock()
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
	if dsn := os.Getenv("RAGCHAT_TEST_POSTGRES_URL"); dsn != "" {
		f["postgres"] = func(t *testing.T) Store {
			db, err := NewDB(context.Background(), dsn)
			require.NoError(t, err)
			s, err := NewPostgresStore(context.Background(), db)
			require.NoError(t, err)
			s.now = tickingClock()
			t.Cleanup(func() { _ = s.Close() })
			return s
		}
	}
	return f
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, f := range factories() {
		t.Run(name, func(t *testing.T) { fn(t, f(t)) })
	}
}

func TestSessionLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		sess, err := s.CreateSession(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, sess.SessionID)
		require.Zero(t, sess.MessageCount)

		m1, err := s.AppendMessage(ctx, sess.SessionID, models.RoleUser, "hello")
		require.NoError(t, err)
		st, err := s.AppendState(ctx, models.AgentStateSnapshot{
			SessionID:         sess.SessionID,
			Step:              models.StepRetrieve,
			RetrievedChunkIDs: []int64{3, 1},
			Scores:            []float64{0.9, 0.5},
		})
		require.NoError(t, err)
		m2, err := s.AppendMessage(ctx, sess.SessionID, models.RoleAssistant, "hi there")
		require.NoError(t, err)
		require.Equal(t, int64(1), m1.Seq)
		require.Equal(t, int64(2), st.Seq)
		require.Equal(t, int64(3), m2.Seq)

		detail, err := s.GetSession(ctx, sess.SessionID)
		require.NoError(t, err)
		require.Equal(t, 2, detail.Session.MessageCount)
		require.Len(t, detail.Messages, 2)
		require.Equal(t, "hello", detail.Messages[0].Content)
		require.Equal(t, models.RoleAssistant, detail.Messages[1].Role)
		require.Len(t, detail.States, 1)
		require.Equal(t, []int64{3, 1}, detail.States[0].RetrievedChunkIDs)
		require.Equal(t, []float64{0.9, 0.5}, detail.States[0].Scores)
		require.Equal(t, models.StepRetrieve, detail.States[0].Step)
		require.True(t, detail.Session.UpdatedAt.After(detail.Session.CreatedAt))
	})
}

func TestAppendStateKeepsFailureDetails(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		sess, err := s.CreateSession(ctx)
		require.NoError(t, err)
		_, err = s.AppendState(ctx, models.AgentStateSnapshot{
			SessionID:     sess.SessionID,
			Step:          models.StepGenerate,
			ModelUsed:     "mock:primary",
			AttemptNumber: 2,
			Error:         "503 unavailable",
		})
		require.NoError(t, err)
		_, err = s.AppendState(ctx, models.AgentStateSnapshot{
			SessionID:     sess.SessionID,
			Step:          models.StepGenerate,
			ModelUsed:     "mock:fallback",
			AttemptNumber: 3,
			Succeeded:     true,
			Fallback:      true,
		})
		require.NoError(t, err)

		detail, err := s.GetSession(ctx, sess.SessionID)
		require.NoError(t, err)
		require.Len(t, detail.States, 2)
		got := detail.States[0]
		require.Equal(t, "mock:primary", got.ModelUsed)
		require.Equal(t, 2, got.AttemptNumber)
		require.Equal(t, "503 unavailable", got.Error)
		require.False(t, got.Succeeded)
		require.False(t, got.Fallback)
		require.Empty(t, got.RetrievedChunkIDs)
		require.NotNil(t, got.RetrievedChunkIDs)
		require.Nil(t, got.Scores)

		ok := detail.States[1]
		require.Equal(t, "mock:fallback", ok.ModelUsed)
		require.True(t, ok.Succeeded)
		require.True(t, ok.Fallback)
	})
}

func TestUnknownSession(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, err := s.GetSession(ctx, "missing")
		require.ErrorIs(t, err, ErrSessionNotFound)
		_, err = s.AppendMessage(ctx, "missing", models.RoleUser, "x")
		require.ErrorIs(t, err, ErrSessionNotFound)
		_, err = s.AppendState(ctx, models.AgentStateSnapshot{SessionID: "missing", Step: models.StepLog})
		require.ErrorIs(t, err, ErrSessionNotFound)
		var storeErr *StoreError
		require.False(t, errors.As(err, &storeErr))
	})
}

func TestEnsureSession(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		a, err := s.EnsureSession(ctx, "client-chosen")
		require.NoError(t, err)
		require.Equal(t, "client-chosen", a.SessionID)
		_, err = s.AppendMessage(ctx, a.SessionID, models.RoleUser, "x")
		require.NoError(t, err)

		again, err := s.EnsureSession(ctx, "client-chosen")
		require.NoError(t, err)
		require.Equal(t, 1, again.MessageCount)

		fresh, err := s.EnsureSession(ctx, "")
		require.NoError(t, err)
		require.NotEqual(t, "client-chosen", fresh.SessionID)
	})
}

func TestRecentMessagesWindow(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		sess, err := s.CreateSession(ctx)
		require.NoError(t, err)
		for i := 0; i < 7; i++ {
			_, err := s.AppendMessage(ctx, sess.SessionID, models.RoleUser, "m"+strconv.Itoa(i))
			require.NoError(t, err)
		}
		recent, err := s.RecentMessages(ctx, sess.SessionID, 3)
		require.NoError(t, err)
		require.Len(t, recent, 3)
		require.Equal(t, "m4", recent[0].Content)
		require.Equal(t, "m6", recent[2].Content)

		all, err := s.RecentMessages(ctx, sess.SessionID, 50)
		require.NoError(t, err)
		require.Len(t, all, 7)

		none, err := s.RecentMessages(ctx, sess.SessionID, 0)
		require.NoError(t, err)
		require.Empty(t, none)
	})
}

func TestListSessionsMostRecentFirst(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		a, err := s.CreateSession(ctx)
		require.NoError(t, err)
		b, err := s.CreateSession(ctx)
		require.NoError(t, err)
		_, err = s.AppendMessage(ctx, a.SessionID, models.RoleUser, "bump")
		require.NoError(t, err)

		list, err := s.ListSessions(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		require.Equal(t, a.SessionID, list[0].SessionID)
		require.Equal(t, 1, list[0].MessageCount)
		require.Equal(t, b.SessionID, list[1].SessionID)
	})
}

func TestConcurrentAppendsGetDistinctSeqs(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		sess, err := s.CreateSession(ctx)
		require.NoError(t, err)

		var wg sync.WaitGroup
		errs := make(chan error, 20)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.AppendMessage(ctx, sess.SessionID, models.RoleUser, strconv.Itoa(i))
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		detail, err := s.GetSession(ctx, sess.SessionID)
		require.NoError(t, err)
		require.Len(t, detail.Messages, 20)
		for i, m := range detail.Messages {
			require.Equal(t, int64(i+1), m.Seq)
		}
	})
}

func TestDocuments(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		base := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
		second := models.Document{DocumentID: "d2", Filename: "b.txt", UploadedAt: base.Add(time.Minute), TotalChars: 10, ChunkCount: 1}
		first := models.Document{DocumentID: "d1", Filename: "a.pdf", Checksum: "abc", UploadedAt: base, TotalChars: 1200, ChunkCount: 2}
		require.NoError(t, s.CreateDocument(ctx, second))
		require.NoError(t, s.CreateDocument(ctx, first))

		list, err := s.ListDocuments(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		require.Equal(t, "d1", list[0].DocumentID)
		require.Equal(t, "d2", list[1].DocumentID)

		got, err := s.GetDocument(ctx, "d1")
		require.NoError(t, err)
		require.Equal(t, "abc", got.Checksum)
		require.Equal(t, 2, got.ChunkCount)
		require.True(t, got.UploadedAt.Equal(base))

		require.NoError(t, s.DeleteDocument(ctx, "d1"))
		_, err = s.GetDocument(ctx, "d1")
		require.ErrorIs(t, err, ErrDocumentNotFound)
		require.ErrorIs(t, s.DeleteDocument(ctx, "d1"), ErrDocumentNotFound)
	})
}

func TestSQLiteRejectsMutationOfHistory(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "ragchat.db"))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()
	sess, err := s.CreateSession(ctx)
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, sess.SessionID, models.RoleUser, "original")
	require.NoError(t, err)

	_, err = s.db.ExecContext(ctx, `UPDATE messages SET content = 'edited'`)
	require.Error(t, err)
	_, err = s.db.ExecContext(ctx, `DELETE FROM messages`)
	require.Error(t, err)
}

func TestSQLiteReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ragchat.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	ctx := context.Background()
	sess, err := s.CreateSession(ctx)
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, sess.SessionID, models.RoleUser, "persisted")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer s2.Close()
	detail, err := s2.GetSession(ctx, sess.SessionID)
	require.NoError(t, err)
	require.Equal(t, "persisted", detail.Messages[0].Content)
	m, err := s2.AppendMessage(ctx, sess.SessionID, models.RoleAssistant, "next")
	require.NoError(t, err)
	require.Equal(t, int64(2), m.Seq)
}

func TestSQLiteAddsOutcomeColumnsToOlderFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ragchat.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE agent_states (
	session_id          TEXT NOT NULL,
	seq                 INTEGER NOT NULL,
	step                TEXT NOT NULL,
	retrieved_chunk_ids TEXT NOT NULL,
	scores              TEXT,
	model_used          TEXT NOT NULL DEFAULT '',
	attempt_number      INTEGER NOT NULL DEFAULT 0,
	error               TEXT NOT NULL DEFAULT '',
	created_at          INTEGER NOT NULL,
	PRIMARY KEY (session_id, seq)
)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()
	sess, err := s.CreateSession(ctx)
	require.NoError(t, err)
	_, err = s.AppendState(ctx, models.AgentStateSnapshot{
		SessionID: sess.SessionID, Step: models.StepGenerate, AttemptNumber: 1, Succeeded: true,
	})
	require.NoError(t, err)

	detail, err := s.GetSession(ctx, sess.SessionID)
	require.NoError(t, err)
	require.True(t, detail.States[0].Succeeded)
	require.False(t, detail.States[0].Fallback)
}

func TestStoreErrorUnwraps(t *testing.T) {
	cause := errors.New("disk full")
	err := storeErr("append message", cause)
	require.ErrorIs(t, err, cause)
	require.EqualError(t, err, "store append message: disk full")
	require.Nil(t, storeErr("noop", nil))
}
