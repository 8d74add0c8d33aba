package workflows

type IngestStatus struct {
	DocumentID  string            `json:"document_id"`
	Filename    string            `json:"filename"`
	Status      string            `json:"status"`
	CurrentStep string            `json:"current_step"`
	Steps       map[string]string `json:"steps"`
	ChunkCount  int               `json:"chunk_count"`
	FailReason  string            `json:"fail_reason,omitempty"`
}
