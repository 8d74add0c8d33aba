package activities

import (
	"context"
	"errors"
	"fmt"
	"os"

	"ragchat/internal/extract"
	"ragchat/internal/gateway"
	"ragchat/internal/ingest"
	"ragchat/internal/models"
	"ragchat/internal/util"
	"ragchat/internal/vector"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
)

// Error types reported to the workflow. The workflow does not retry these.
const (
	ErrTypeDimensionMismatch = "DimensionMismatchError"
	ErrTypeEmbedding         = "EmbeddingError"
	ErrTypeConfiguration     = "ConfigurationError"
	ErrTypeUnsupportedFormat = "UnsupportedFormatError"
)

// stagedChunks carries chunk drafts and their vectors between activities on
// disk so large documents stay out of workflow history.
type stagedChunks struct {
	DocumentID string              `json:"document_id"`
	Drafts     []models.ChunkDraft `json:"drafts"`
	Vectors    [][]float32         `json:"vectors"`
}

type Activities struct {
	pipeline *ingest.Pipeline
}

func New(p *ingest.Pipeline) *Activities {
	return &Activities{pipeline: p}
}

func (a *Activities) ExtractTextActivity(ctx context.Context, in ExtractTextInput) (ExtractTextOutput, error) {
	text, err := a.pipeline.Extract(in.Staged)
	if err != nil {
		return ExtractTextOutput{}, classify(err)
	}
	path := in.Staged.Path + ".txt"
	if err := util.WriteFileAtomic(path, []byte(text)); err != nil {
		return ExtractTextOutput{}, err
	}
	activity.GetLogger(ctx).Info("extracted text", "document_id", in.Staged.DocumentID, "chars", len([]rune(text)))
	return ExtractTextOutput{TextPath: path, TotalChars: len([]rune(text))}, nil
}

func (a *Activities) ChunkEmbedActivity(ctx context.Context, in ChunkEmbedInput) (ChunkEmbedOutput, error) {
	raw, err := os.ReadFile(in.TextPath)
	if err != nil {
		return ChunkEmbedOutput{}, fmt.Errorf("read extracted text: %w", err)
	}
	drafts, err := a.pipeline.Chunk(string(raw))
	if err != nil {
		return ChunkEmbedOutput{}, classify(err)
	}
	vectors, err := a.pipeline.Embed(ctx, drafts)
	if err != nil {
		return ChunkEmbedOutput{}, classify(err)
	}
	path := in.TextPath + ".chunks.json"
	if err := util.WriteJSONAtomic(path, stagedChunks{DocumentID: in.DocumentID, Drafts: drafts, Vectors: vectors}); err != nil {
		return ChunkEmbedOutput{}, err
	}
	return ChunkEmbedOutput{ChunksPath: path, ChunkCount: len(drafts)}, nil
}

func (a *Activities) CommitDocumentActivity(ctx context.Context, in CommitDocumentInput) (ingest.Result, error) {
	var staged stagedChunks
	if err := util.ReadJSON(in.ChunksPath, &staged); err != nil {
		return ingest.Result{}, err
	}
	if staged.DocumentID != in.Staged.DocumentID {
		return ingest.Result{}, fmt.Errorf("staged chunks belong to %s, not %s", staged.DocumentID, in.Staged.DocumentID)
	}
	res, err := a.pipeline.Commit(ctx, in.Staged, in.TotalChars, staged.Drafts, staged.Vectors)
	if err != nil {
		return ingest.Result{}, classify(err)
	}
	return res, nil
}

// CleanupArtifactsActivity removes intermediate files. Missing files are fine.
func (a *Activities) CleanupArtifactsActivity(ctx context.Context, in CleanupArtifactsInput) error {
	for _, p := range in.Paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			activity.GetLogger(ctx).Warn("remove artifact failed", "path", p, "error", err)
		}
	}
	return nil
}

// classify tags known permanent failures so the workflow retry policy can
// skip them.
func classify(err error) error {
	var dimErr *vector.DimensionMismatchError
	var embErr *gateway.EmbeddingError
	var cfgErr *util.ConfigurationError
	switch {
	case errors.As(err, &dimErr):
		return temporal.NewApplicationErrorWithCause(err.Error(), ErrTypeDimensionMismatch, err)
	case errors.As(err, &embErr):
		return temporal.NewApplicationErrorWithCause(err.Error(), ErrTypeEmbedding, err)
	case errors.As(err, &cfgErr):
		return temporal.NewApplicationErrorWithCause(err.Error(), ErrTypeConfiguration, err)
	case errors.Is(err, extract.ErrUnsupportedFormat):
		return temporal.NewApplicationErrorWithCause(err.Error(), ErrTypeUnsupportedFormat, err)
	default:
		return err
	}
}
