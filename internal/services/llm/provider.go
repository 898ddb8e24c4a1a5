package llm

// Provider names accepted by the factory.
const (
	ProviderClaude = "claude"
	ProviderGemini = "gemini"
)
