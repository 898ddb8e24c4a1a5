package llm

import (
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/peto/internal/common"
	"github.com/ternarybob/peto/internal/interfaces"
)

// NewLLMService creates the configured LLM provider implementation.
func NewLLMService(cfg *common.Config, logger arbor.ILogger) (interfaces.LLMService, error) {
	logger.Info().Str("provider", cfg.LLM.Provider).Msg("Initializing LLM service")

	switch cfg.LLM.Provider {
	case ProviderClaude:
		return NewClaudeService(&cfg.Claude, logger)

	case ProviderGemini:
		return NewGeminiService(&cfg.Gemini, logger)

	default:
		return nil, fmt.Errorf("invalid LLM provider '%s': must be '%s' or '%s'", cfg.LLM.Provider, ProviderClaude, ProviderGemini)
	}
}
