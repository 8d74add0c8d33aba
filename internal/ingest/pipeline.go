// Package ingest turns an uploaded file into committed, searchable chunks.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
	"unicode/utf8"

	"ragchat/internal/config"
	"ragchat/internal/extract"
	"ragchat/internal/models"
	"ragchat/internal/storage"
	"ragchat/internal/util"
	"ragchat/internal/vector"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	StatusSuccess = "success"

	defaultEmbedBatch = 64
)

type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type Upload struct {
	Filename string
	Data     []byte
}

// Staged is an upload whose bytes are on disk and whose document id is fixed.
type Staged struct {
	DocumentID string    `json:"document_id"`
	Filename   string    `json:"filename"`
	Path       string    `json:"path"`
	Checksum   string    `json:"checksum"`
	UploadedAt time.Time `json:"uploaded_at"`
}

type Result struct {
	DocumentID    string `json:"document_id"`
	Filename      string `json:"filename"`
	ChunksCreated int    `json:"chunks_created"`
	Status        string `json:"status"`
}

// Ingester runs a whole upload, locally or through a workflow engine.
type Ingester interface {
	Ingest(ctx context.Context, up Upload) (Result, error)
}

type Pipeline struct {
	chunkSize  int
	overlap    int
	embedBatch int
	uploadDir  string
	indexPath  string
	embedder   Embedder
	index      *vector.Index
	docs       storage.DocumentStore
	logger     *zap.Logger
	now        func() time.Time
	// commitMu orders index writes, document records and snapshot saves.
	commitMu sync.Mutex
}

func NewPipeline(cfg config.Config, embedder Embedder, index *vector.Index, docs storage.DocumentStore, logger *zap.Logger) (*Pipeline, error) {
	if err := util.ValidateChunking(cfg.ChunkSize, cfg.ChunkOverlap); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		chunkSize:  cfg.ChunkSize,
		overlap:    cfg.ChunkOverlap,
		embedBatch: defaultEmbedBatch,
		uploadDir:  cfg.UploadDir,
		indexPath:  cfg.IndexPath,
		embedder:   embedder,
		index:      index,
		docs:       docs,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// Stage writes the raw upload under the upload directory and assigns the
// document id.
func (p *Pipeline) Stage(up Upload) (Staged, error) {
	if !extract.Supported(up.Filename) {
		return Staged{}, fmt.Errorf("%w: %s", extract.ErrUnsupportedFormat, up.Filename)
	}
	if err := util.EnsureDir(p.uploadDir); err != nil {
		return Staged{}, err
	}
	id := uuid.NewString()
	name := util.SafeJoin("", up.Filename)
	path := util.SafeJoin(p.uploadDir, id+"_"+name)
	if err := util.WriteFileAtomic(path, up.Data); err != nil {
		return Staged{}, fmt.Errorf("save upload: %w", err)
	}
	return Staged{
		DocumentID: id,
		Filename:   name,
		Path:       path,
		Checksum:   util.SHA256Hex(up.Data),
		UploadedAt: p.now(),
	}, nil
}

func (p *Pipeline) Extract(st Staged) (string, error) {
	data, err := os.ReadFile(st.Path)
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	return extract.Text(st.Filename, data)
}

func (p *Pipeline) Chunk(text string) ([]models.ChunkDraft, error) {
	return util.ChunkText(text, p.chunkSize, p.overlap)
}

// Embed embeds drafts in batches, in order.
func (p *Pipeline) Embed(ctx context.Context, drafts []models.ChunkDraft) ([][]float32, error) {
	out := make([][]float32, 0, len(drafts))
	for start := 0; start < len(drafts); start += p.embedBatch {
		end := start + p.embedBatch
		if end > len(drafts) {
			end = len(drafts)
		}
		texts := make([]string, 0, end-start)
		for _, d := range drafts[start:end] {
			texts = append(texts, d.Text)
		}
		vecs, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// Commit records the document, then adds its chunks to the index as one
// batch. If the index rejects the batch the record is deleted again, so index
// ids are never handed out for a document that then disappears. Commit is
// idempotent per document id and completes a record whose chunks are missing.
func (p *Pipeline) Commit(ctx context.Context, st Staged, totalChars int, drafts []models.ChunkDraft, vectors [][]float32) (Result, error) {
	if len(drafts) != len(vectors) {
		return Result{}, fmt.Errorf("commit %s: %d chunks but %d embeddings", st.DocumentID, len(drafts), len(vectors))
	}
	p.commitMu.Lock()
	defer p.commitMu.Unlock()

	recorded := false
	doc, err := p.docs.GetDocument(ctx, st.DocumentID)
	switch {
	case err == nil:
		if len(p.index.DocumentChunks(st.DocumentID)) == doc.ChunkCount {
			return Result{DocumentID: doc.DocumentID, Filename: doc.Filename, ChunksCreated: doc.ChunkCount, Status: StatusSuccess}, nil
		}
		recorded = true
	case !errors.Is(err, storage.ErrDocumentNotFound):
		return Result{}, err
	}
	// Leftovers from an interrupted attempt.
	p.index.RemoveDocument(st.DocumentID)

	chunks := make([]models.Chunk, len(drafts))
	for i, d := range drafts {
		chunks[i] = models.Chunk{
			DocumentID:    st.DocumentID,
			SequenceIndex: d.SequenceIndex,
			StartOffset:   d.StartOffset,
			EndOffset:     d.EndOffset,
			Embedding:     vectors[i],
			Text:          d.Text,
		}
	}
	if !recorded {
		doc = models.Document{
			DocumentID: st.DocumentID,
			Filename:   st.Filename,
			Checksum:   st.Checksum,
			UploadedAt: st.UploadedAt,
			TotalChars: totalChars,
			ChunkCount: len(chunks),
		}
		if err := p.docs.CreateDocument(ctx, doc); err != nil {
			return Result{}, fmt.Errorf("record document: %w", err)
		}
	}
	if _, err := p.index.Add(chunks); err != nil {
		if !recorded {
			if derr := p.docs.DeleteDocument(ctx, st.DocumentID); derr != nil {
				p.logger.Error("remove document record after index add failed",
					zap.String("document_id", st.DocumentID), zap.Error(derr))
			}
		}
		return Result{}, err
	}
	p.saveSnapshot()
	p.logger.Info("document indexed",
		zap.String("document_id", doc.DocumentID),
		zap.String("filename", doc.Filename),
		zap.Int("chunks", len(chunks)),
		zap.Int("index_size", p.index.Size()))
	return Result{DocumentID: doc.DocumentID, Filename: doc.Filename, ChunksCreated: len(chunks), Status: StatusSuccess}, nil
}

// Delete removes the document record and all of its chunks.
func (p *Pipeline) Delete(ctx context.Context, documentID string) (int, error) {
	p.commitMu.Lock()
	defer p.commitMu.Unlock()
	if err := p.docs.DeleteDocument(ctx, documentID); err != nil {
		return 0, err
	}
	removed := p.index.RemoveDocument(documentID)
	p.saveSnapshot()
	p.logger.Info("document deleted", zap.String("document_id", documentID), zap.Int("chunks", removed))
	return removed, nil
}

// saveSnapshot persists the index when a path is configured. A failed save
// leaves the in-memory index authoritative; the next save catches up.
func (p *Pipeline) saveSnapshot() {
	if p.indexPath == "" {
		return
	}
	if err := p.index.SaveFile(p.indexPath); err != nil {
		p.logger.Error("save index snapshot", zap.String("path", p.indexPath), zap.Error(err))
	}
}

// Run executes every step for an already staged upload.
func (p *Pipeline) Run(ctx context.Context, st Staged) (Result, error) {
	text, err := p.Extract(st)
	if err != nil {
		return Result{}, err
	}
	drafts, err := p.Chunk(text)
	if err != nil {
		return Result{}, err
	}
	vectors, err := p.Embed(ctx, drafts)
	if err != nil {
		return Result{}, err
	}
	return p.Commit(ctx, st, utf8.RuneCountInString(text), drafts, vectors)
}

// LocalIngester runs the pipeline in the calling goroutine.
type LocalIngester struct {
	Pipeline *Pipeline
}

func (l LocalIngester) Ingest(ctx context.Context, up Upload) (Result, error) {
	st, err := l.Pipeline.Stage(up)
	if err != nil {
		return Result{}, err
	}
	return l.Pipeline.Run(ctx, st)
}
