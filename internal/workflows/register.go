package workflows

import (
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
)

func Register(w worker.Worker) {
	w.RegisterWorkflowWithOptions(DocumentIngestWorkflow, workflow.RegisterOptions{Name: DocumentIngestWorkflowName})
}
