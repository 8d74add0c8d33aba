package activities

import "ragchat/internal/ingest"

type ExtractTextInput struct {
	Staged ingest.Staged `json:"staged"`
}

type ExtractTextOutput struct {
	TextPath   string `json:"text_path"`
	TotalChars int    `json:"total_chars"`
}

type ChunkEmbedInput struct {
	DocumentID string `json:"document_id"`
	TextPath   string `json:"text_path"`
}

type ChunkEmbedOutput struct {
	ChunksPath string `json:"chunks_path"`
	ChunkCount int    `json:"chunk_count"`
}

type CommitDocumentInput struct {
	Staged     ingest.Staged `json:"staged"`
	TotalChars int           `json:"total_chars"`
	ChunksPath string        `json:"chunks_path"`
}

type CleanupArtifactsInput struct {
	Paths []string `json:"paths"`
}
