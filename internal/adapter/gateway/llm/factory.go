package llm

import (
	"fmt"
	"net/http"

	"github.com/hayato-mori/issuepilot/internal/app"
	"github.com/hayato-mori/issuepilot/internal/app/config"
)

// NewFromConfig builds the agent gateway for the configured provider.
// "openai" and "openrouter" both speak the chat-completions dialect;
// openrouter additionally sends attribution headers when configured.
func NewFromConfig(cfg config.Config, log app.Logger) (*Client, error) {
	opts := []Option{
		WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout()}),
	}
	switch cfg.LLMProvider {
	case "openai":
	case "openrouter":
		if cfg.LLMReferer != "" {
			opts = append(opts, WithExtraHeader("HTTP-Referer", cfg.LLMReferer))
		}
		if cfg.LLMTitle != "" {
			opts = append(opts, WithExtraHeader("X-Title", cfg.LLMTitle))
		}
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}
	return NewClient(cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMBaseURL, log, opts...), nil
}
