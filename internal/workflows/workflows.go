package workflows

import (
	"errors"
	"time"

	"ragchat/internal/activities"
	"ragchat/internal/ingest"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	DocumentIngestWorkflowName = "DocumentIngestWorkflow"
	QueryGetIngestStatus       = "GetIngestStatus"
)

// DocumentIngestWorkflow extracts, chunks, embeds and commits one staged
// upload. Permanent failures (bad format, dimension mismatch, exhausted
// embedding retries) fail the workflow without further retries.
func DocumentIngestWorkflow(ctx workflow.Context, input ingest.Staged) (ingest.Result, error) {
	status := IngestStatus{
		DocumentID: input.DocumentID,
		Filename:   input.Filename,
		Status:     "processing",
		Steps:      map[string]string{},
	}
	if err := workflow.SetQueryHandler(ctx, QueryGetIngestStatus, func() (IngestStatus, error) {
		return status, nil
	}); err != nil {
		return ingest.Result{}, err
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    20 * time.Second,
			MaximumAttempts:    3,
			NonRetryableErrorTypes: []string{
				activities.ErrTypeDimensionMismatch,
				activities.ErrTypeEmbedding,
				activities.ErrTypeConfiguration,
				activities.ErrTypeUnsupportedFormat,
			},
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	logger := workflow.GetLogger(ctx)
	var artifacts []string
	fail := func(err error) (ingest.Result, error) {
		status.Status = "failed"
		status.FailReason = failReason(err)
		status.Steps[status.CurrentStep] = "failed"
		cleanup(ctx, artifacts)
		logger.Warn("document ingest failed", "document_id", input.DocumentID, "step", status.CurrentStep, "error", err)
		return ingest.Result{}, err
	}

	status.CurrentStep = "extract_text"
	status.Steps[status.CurrentStep] = "processing"
	var textOut activities.ExtractTextOutput
	if err := workflow.ExecuteActivity(ctx, "ExtractTextActivity", activities.ExtractTextInput{Staged: input}).Get(ctx, &textOut); err != nil {
		return fail(err)
	}
	artifacts = append(artifacts, textOut.TextPath)
	status.Steps[status.CurrentStep] = "done"

	status.CurrentStep = "chunk_embed"
	status.Steps[status.CurrentStep] = "processing"
	var chunkOut activities.ChunkEmbedOutput
	if err := workflow.ExecuteActivity(ctx, "ChunkEmbedActivity", activities.ChunkEmbedInput{DocumentID: input.DocumentID, TextPath: textOut.TextPath}).Get(ctx, &chunkOut); err != nil {
		return fail(err)
	}
	artifacts = append(artifacts, chunkOut.ChunksPath)
	status.ChunkCount = chunkOut.ChunkCount
	status.Steps[status.CurrentStep] = "done"

	status.CurrentStep = "commit"
	status.Steps[status.CurrentStep] = "processing"
	var res ingest.Result
	if err := workflow.ExecuteActivity(ctx, "CommitDocumentActivity", activities.CommitDocumentInput{
		Staged:     input,
		TotalChars: textOut.TotalChars,
		ChunksPath: chunkOut.ChunksPath,
	}).Get(ctx, &res); err != nil {
		return fail(err)
	}
	status.Steps[status.CurrentStep] = "done"

	cleanup(ctx, artifacts)
	status.CurrentStep = "done"
	status.Status = "processed"
	return res, nil
}

func cleanup(ctx workflow.Context, paths []string) {
	if len(paths) == 0 {
		return
	}
	_ = workflow.ExecuteActivity(ctx, "CleanupArtifactsActivity", activities.CleanupArtifactsInput{Paths: paths}).Get(ctx, nil)
}

func failReason(err error) string {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) && appErr.Type() != "" {
		return appErr.Type() + ": " + appErr.Error()
	}
	return err.Error()
}
