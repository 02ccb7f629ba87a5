// Package llm constructs the configured language model client.
package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Options selects and configures a provider.
type Options struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
}

// New builds a langchaingo model for the configured provider.
func New(ctx context.Context, opts Options) (llms.Model, error) {
	switch opts.Provider {
	case "openai":
		cfg := []openai.Option{openai.WithToken(opts.APIKey)}
		if opts.Model != "" {
			cfg = append(cfg, openai.WithModel(opts.Model))
		}
		if opts.BaseURL != "" {
			cfg = append(cfg, openai.WithBaseURL(opts.BaseURL))
		}
		return openai.New(cfg...)

	case "googleai":
		cfg := []googleai.Option{googleai.WithAPIKey(opts.APIKey)}
		if opts.Model != "" {
			cfg = append(cfg, googleai.WithDefaultModel(opts.Model))
		}
		return googleai.New(ctx, cfg...)

	case "ollama":
		cfg := []ollama.Option{}
		if opts.Model != "" {
			cfg = append(cfg, ollama.WithModel(opts.Model))
		}
		if opts.BaseURL != "" {
			cfg = append(cfg, ollama.WithServerURL(opts.BaseURL))
		}
		return ollama.New(cfg...)
	}
	return nil, fmt.Errorf("unknown llm provider %q", opts.Provider)
}
