package providers

import (
	"context"
	"strings"
	"time"
)

type ProviderInfo struct {
	Name  string `json:"name"`
	Model string `json:"model"`
}

// Turn is one prior message of the conversation sent along with a request.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type GenerateRequest struct {
	Operation   string   `json:"operation"`
	System      string   `json:"system,omitempty"`
	History     []Turn   `json:"history,omitempty"`
	Prompt      string   `json:"prompt"`
	Context     []string `json:"context,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature float64  `json:"temperature,omitempty"`
}

type GenerateResponse struct {
	Text string `json:"text"`
}

type EmbedRequest struct {
	Operation string   `json:"operation"`
	Inputs    []string `json:"inputs"`
	Dimension int      `json:"dimension"`
}

type LLMProvider interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error)
}

type EmbeddingProvider interface {
	Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error)
}

// Options configures one concrete provider binding.
type Options struct {
	Model   string
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return 60 * time.Second
	}
	return o.Timeout
}

// userPrompt renders the final user turn: retrieved context first, then the
// question.
func userPrompt(req GenerateRequest) string {
	if len(req.Context) == 0 {
		return "User question: " + req.Prompt
	}
	return "Relevant context from documents:\n\n" + strings.Join(req.Context, "\n\n") + "\n\nUser question: " + req.Prompt
}

// chatMessages is the history followed by the final user turn, without the
// system message.
func chatMessages(req GenerateRequest) []map[string]string {
	out := make([]map[string]string, 0, len(req.History)+1)
	for _, t := range req.History {
		out = append(out, map[string]string{"role": t.Role, "content": t.Content})
	}
	return append(out, map[string]string{"role": "user", "content": userPrompt(req)})
}
