package activities

import "go.temporal.io/sdk/worker"

func Register(w worker.Worker, a *Activities) {
	w.RegisterActivity(a.ExtractTextActivity)
	w.RegisterActivity(a.ChunkEmbedActivity)
	w.RegisterActivity(a.CommitDocumentActivity)
	w.RegisterActivity(a.CleanupArtifactsActivity)
}
