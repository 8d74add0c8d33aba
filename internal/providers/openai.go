package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// OpenAIProvider uses the OpenAI REST API for chat completions and embeddings.
// Any OpenAI-compatible endpoint works through BaseURL.
type OpenAIProvider struct {
	name    string
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

func NewOpenAIProvider(opts Options) *OpenAIProvider {
	return newOpenAICompatible("openai", "https://api.openai.com/v1", "gpt-4o-mini", opts)
}

func newOpenAICompatible(name, defaultBase, defaultModel string, opts Options) *OpenAIProvider {
	base := strings.TrimSpace(opts.BaseURL)
	if base == "" {
		base = defaultBase
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}
	return &OpenAIProvider{
		name:    name,
		apiKey:  opts.APIKey,
		baseURL: strings.TrimRight(base, "/"),
		model:   model,
		client:  &http.Client{Timeout: opts.timeout()},
	}
}

func (o *OpenAIProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	info := ProviderInfo{Name: o.name, Model: o.model}
	if o.apiKey == "" {
		return nil, info, fmt.Errorf("%s api key missing", o.name)
	}
	body := map[string]any{"model": o.model, "input": req.Inputs}
	if req.Dimension > 0 {
		body["dimensions"] = req.Dimension
	}
	respBody, err := o.post(ctx, "/embeddings", body, "embedding")
	if err != nil {
		return nil, info, err
	}
	var parsed struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, info, fmt.Errorf("decode %s embedding response: %w", o.name, err)
	}
	if len(parsed.Data) != len(req.Inputs) {
		return nil, info, fmt.Errorf("%s returned %d embeddings for %d inputs", o.name, len(parsed.Data), len(req.Inputs))
	}
	out := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		pos := d.Index
		if pos < 0 || pos >= len(out) {
			pos = i
		}
		out[pos] = d.Embedding
	}
	return out, info, nil
}

func (o *OpenAIProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	info := ProviderInfo{Name: o.name, Model: o.model}
	if o.apiKey == "" {
		return GenerateResponse{}, info, fmt.Errorf("%s api key missing", o.name)
	}
	messages := make([]map[string]string, 0, len(req.History)+2)
	if req.System != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.System})
	}
	messages = append(messages, chatMessages(req)...)
	body := map[string]any{"model": o.model, "messages": messages}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		body["temperature"] = req.Temperature
	}
	respBody, err := o.post(ctx, "/chat/completions", body, "generate")
	if err != nil {
		return GenerateResponse{}, info, err
	}
	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return GenerateResponse{}, info, fmt.Errorf("decode %s generate response: %w", o.name, err)
	}
	if len(parsed.Choices) == 0 {
		return GenerateResponse{}, info, fmt.Errorf("%s returned empty choices", o.name)
	}
	return GenerateResponse{Text: parsed.Choices[0].Message.Content}, info, nil
}

func (o *OpenAIProvider) post(ctx context.Context, path string, body any, op string) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s %s request: %w", o.name, op, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build %s %s request: %w", o.name, op, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s %s request failed: %w", o.name, op, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s %s response: %w", o.name, op, err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s %s error %d: %s", o.name, op, resp.StatusCode, string(respBody))
	}
	return respBody, nil
}
