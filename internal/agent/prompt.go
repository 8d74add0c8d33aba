package agent

import (
	"fmt"

	"ragchat/internal/models"
	"ragchat/internal/providers"
)

const systemPrompt = `You are a helpful AI assistant with access to a document knowledge base.
Use the provided context to answer user questions accurately. If the context doesn't contain
relevant information, acknowledge this and provide the best answer you can based on your knowledge.
Always cite which documents you're referencing when applicable.`

// DegradedResponse is shown to the user when every generation attempt failed.
const DegradedResponse = "I apologize, but I encountered an error generating a response. Please try again."

func formatContext(results []models.ChunkResult) []string {
	out := make([]string, 0, len(results))
	for i, r := range results {
		out = append(out, fmt.Sprintf("Document %d (relevance: %.2f):\n%s", i+1, r.Score, r.Chunk.Text))
	}
	return out
}

// historyWindow keeps the last n messages, oldest first.
func historyWindow(msgs []models.Message, n int) []providers.Turn {
	if n <= 0 {
		return nil
	}
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	out := make([]providers.Turn, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, providers.Turn{Role: string(m.Role), Content: m.Content})
	}
	return out
}

func buildRequest(query string, history []models.Message, results []models.ChunkResult, opts Options) providers.GenerateRequest {
	return providers.GenerateRequest{
		Operation:   "chat",
		System:      systemPrompt,
		History:     historyWindow(history, opts.HistoryWindow),
		Prompt:      query,
		Context:     formatContext(results),
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}
}
