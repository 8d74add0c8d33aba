package providers

// NewGroqProvider binds Groq's OpenAI-compatible chat API.
func NewGroqProvider(opts Options) *OpenAIProvider {
	return newOpenAICompatible("groq", "https://api.groq.com/openai/v1", "llama-3.1-8b-instant", opts)
}
