package util

import "ragchat/internal/models"

// ChunkText splits text into overlapping windows of chunkSize runes. Window i
// starts at i*(chunkSize-overlap); the final window may be shorter. Offsets are
// rune offsets into text.
//
// Non-empty text yields ceil((len-overlap)/(chunkSize-overlap)) windows, except
// that text no longer than overlap, where that count is zero, still yields
// one window holding all of it.
func ChunkText(text string, chunkSize, overlap int) ([]models.ChunkDraft, error) {
	if err := ValidateChunking(chunkSize, overlap); err != nil {
		return nil, err
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return nil, nil
	}
	step := chunkSize - overlap
	out := make([]models.ChunkDraft, 0, len(runes)/step+1)
	for i := 0; ; i++ {
		start := i * step
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, models.ChunkDraft{
			SequenceIndex: i,
			StartOffset:   start,
			EndOffset:     end,
			Text:          string(runes[start:end]),
		})
		if end == len(runes) {
			break
		}
	}
	return out, nil
}

// ValidateChunking reports a ConfigurationError unless 0 < overlap < chunkSize.
func ValidateChunking(chunkSize, overlap int) error {
	if chunkSize <= 0 {
		return &ConfigurationError{Field: "chunk_size", Reason: "must be positive"}
	}
	if overlap <= 0 || overlap >= chunkSize {
		return &ConfigurationError{Field: "chunk_overlap", Reason: "must satisfy 0 < overlap < chunk_size"}
	}
	return nil
}
