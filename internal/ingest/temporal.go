package ingest

import (
	"context"
	"fmt"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"
)

// WorkflowStarter is the part of the Temporal client used to start ingests.
type WorkflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// TemporalIngester stages the upload locally and runs the remaining steps as
// a DocumentIngestWorkflow, waiting for its result.
type TemporalIngester struct {
	Pipeline     *Pipeline
	Client       WorkflowStarter
	TaskQueue    string
	WorkflowName string
	Logger       *zap.Logger
}

func (t TemporalIngester) Ingest(ctx context.Context, up Upload) (Result, error) {
	st, err := t.Pipeline.Stage(up)
	if err != nil {
		return Result{}, err
	}
	run, err := t.Client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                    "document-ingest-" + st.DocumentID,
		TaskQueue:             t.TaskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
	}, t.WorkflowName, st)
	if err != nil {
		return Result{}, fmt.Errorf("start ingest workflow: %w", err)
	}
	if t.Logger != nil {
		t.Logger.Info("ingest workflow started",
			zap.String("document_id", st.DocumentID),
			zap.String("workflow_id", run.GetID()),
			zap.String("run_id", run.GetRunID()))
	}
	var res Result
	if err := run.Get(ctx, &res); err != nil {
		return Result{}, fmt.Errorf("ingest workflow %s: %w", run.GetID(), err)
	}
	return res, nil
}
