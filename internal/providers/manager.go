package providers

import (
	"fmt"

	"ragchat/internal/config"
)

type NamedLLMProvider struct {
	Ref      ProviderRef
	Provider LLMProvider
}

type NamedEmbedProvider struct {
	Ref      ProviderRef
	Provider EmbeddingProvider
}

// Manager holds the provider bindings selected by configuration: one
// embedder, one primary generator and an optional fallback generator.
type Manager struct {
	Embedder NamedEmbedProvider
	Primary  NamedLLMProvider
	Fallback *NamedLLMProvider
}

func NewManager(cfg config.Config) (*Manager, error) {
	embedRef, err := ParseProviderRef(cfg.EmbedModel)
	if err != nil {
		return nil, fmt.Errorf("embed model: %w", err)
	}
	p, err := buildProvider(embedRef, cfg)
	if err != nil {
		return nil, err
	}
	embed, ok := p.(EmbeddingProvider)
	if !ok {
		return nil, fmt.Errorf("provider %s does not support embeddings", embedRef.Raw)
	}
	m := &Manager{Embedder: NamedEmbedProvider{Ref: embedRef, Provider: embed}}

	primary, err := buildLLM(cfg.PrimaryModel, cfg)
	if err != nil {
		return nil, fmt.Errorf("primary model: %w", err)
	}
	m.Primary = primary
	if cfg.FallbackModel != "" {
		fallback, err := buildLLM(cfg.FallbackModel, cfg)
		if err != nil {
			return nil, fmt.Errorf("fallback model: %w", err)
		}
		m.Fallback = &fallback
	}
	return m, nil
}

func buildLLM(raw string, cfg config.Config) (NamedLLMProvider, error) {
	ref, err := ParseProviderRef(raw)
	if err != nil {
		return NamedLLMProvider{}, err
	}
	p, err := buildProvider(ref, cfg)
	if err != nil {
		return NamedLLMProvider{}, err
	}
	llm, ok := p.(LLMProvider)
	if !ok {
		return NamedLLMProvider{}, fmt.Errorf("provider %s does not support llm", ref.Raw)
	}
	return NamedLLMProvider{Ref: ref, Provider: llm}, nil
}

func buildProvider(ref ProviderRef, cfg config.Config) (any, error) {
	opts := Options{Model: ref.Model, Timeout: cfg.CallTimeout}
	switch ref.Name {
	case "mock":
		return NewMockProvider(ref.Model, cfg.EmbedDim), nil
	case "openai":
		opts.APIKey = cfg.OpenAIAPIKey
		return NewOpenAIProvider(opts), nil
	case "groq":
		opts.APIKey = cfg.GroqAPIKey
		return NewGroqProvider(opts), nil
	case "anthropic":
		opts.APIKey = cfg.AnthropicAPIKey
		return NewAnthropicProvider(opts), nil
	case "ollama":
		opts.BaseURL = cfg.OllamaBaseURL
		return NewOllamaProvider(opts), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", ref.Name)
	}
}
