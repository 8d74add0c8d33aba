package activities

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ragchat/internal/config"
	"ragchat/internal/gateway"
	"ragchat/internal/ingest"
	"ragchat/internal/storage"
	"ragchat/internal/vector"

	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
)

type constEmbedder struct {
	vec []float32
	err error
}

func (c constEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if c.err != nil {
		return nil, c.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = c.vec
	}
	return out, nil
}

func newActivities(t *testing.T, emb ingest.Embedder) (*Activities, *ingest.Pipeline, *vector.Index, *storage.MemoryStore) {
	cfg := config.Defaults()
	dir := t.TempDir()
	cfg.UploadDir = filepath.Join(dir, "uploads")
	cfg.IndexPath = ""
	idx := vector.NewIndex(nil)
	docs := storage.NewMemoryStore()
	p, err := ingest.NewPipeline(cfg, emb, idx, docs, nil)
	require.NoError(t, err)
	return New(p), p, idx, docs
}

func TestActivitiesRunFullIngest(t *testing.T) {
	a, p, idx, docs := newActivities(t, constEmbedder{vec: []float32{1, 0}})
	st, err := p.Stage(ingest.Upload{Filename: "doc.txt", Data: []byte(strings.Repeat("x", 1500))})
	require.NoError(t, err)

	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	env.RegisterActivity(a)

	val, err := env.ExecuteActivity(a.ExtractTextActivity, ExtractTextInput{Staged: st})
	require.NoError(t, err)
	var textOut ExtractTextOutput
	require.NoError(t, val.Get(&textOut))
	require.Equal(t, 1500, textOut.TotalChars)
	require.FileExists(t, textOut.TextPath)

	val, err = env.ExecuteActivity(a.ChunkEmbedActivity, ChunkEmbedInput{DocumentID: st.DocumentID, TextPath: textOut.TextPath})
	require.NoError(t, err)
	var chunkOut ChunkEmbedOutput
	require.NoError(t, val.Get(&chunkOut))
	require.Equal(t, 2, chunkOut.ChunkCount)

	val, err = env.ExecuteActivity(a.CommitDocumentActivity, CommitDocumentInput{Staged: st, TotalChars: textOut.TotalChars, ChunksPath: chunkOut.ChunksPath})
	require.NoError(t, err)
	var res ingest.Result
	require.NoError(t, val.Get(&res))
	require.Equal(t, 2, res.ChunksCreated)
	require.Equal(t, 2, idx.Size())
	doc, err := docs.GetDocument(context.Background(), st.DocumentID)
	require.NoError(t, err)
	require.Equal(t, 1500, doc.TotalChars)

	_, err = env.ExecuteActivity(a.CleanupArtifactsActivity, CleanupArtifactsInput{Paths: []string{textOut.TextPath, chunkOut.ChunksPath, "/does/not/exist"}})
	require.NoError(t, err)
	_, statErr := os.Stat(textOut.TextPath)
	require.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestChunkEmbedActivityTagsEmbeddingError(t *testing.T) {
	a, p, _, _ := newActivities(t, constEmbedder{err: &gateway.EmbeddingError{Model: "mock:embed", Attempts: 3, Err: errors.New("timeout")}})
	st, err := p.Stage(ingest.Upload{Filename: "doc.txt", Data: []byte("hello")})
	require.NoError(t, err)
	textPath := st.Path + ".txt"
	require.NoError(t, os.WriteFile(textPath, []byte("hello"), 0o644))

	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	env.RegisterActivity(a)
	_, err = env.ExecuteActivity(a.ChunkEmbedActivity, ChunkEmbedInput{DocumentID: st.DocumentID, TextPath: textPath})
	require.Error(t, err)
	var appErr *temporal.ApplicationError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, ErrTypeEmbedding, appErr.Type())
}

func TestClassify(t *testing.T) {
	var appErr *temporal.ApplicationError

	err := classify(&vector.DimensionMismatchError{Want: 2, Got: 3})
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, ErrTypeDimensionMismatch, appErr.Type())

	plain := errors.New("io error")
	require.Same(t, plain, classify(plain))
}
