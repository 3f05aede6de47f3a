// Package llm wraps chat model backends behind the planflow.Provider
// interface. GLM is the production backend, reached through its
// OpenAI-compatible chat completions API; Ollama serves local development.
package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"nutriplan/src/planflow"
)

const (
	DefaultGLMEndpoint = "https://open.bigmodel.cn/api/paas/v4"
	DefaultGLMModel    = "glm-4"
)

// Config selects and configures the chat backend.
type Config struct {
	Provider    string // "glm" or "ollama"
	GLMAPIKey   string
	GLMEndpoint string
	GLMModel    string
	OllamaURL   string
	OllamaModel string
}

type chatProvider struct {
	name  string
	model llms.Model
}

// NewProvider builds the configured chat backend.
func NewProvider(cfg Config) (planflow.Provider, error) {
	switch cfg.Provider {
	case "", "glm":
		if cfg.GLMAPIKey == "" {
			return nil, fmt.Errorf("glm api key is not configured")
		}
		endpoint := cfg.GLMEndpoint
		if endpoint == "" {
			endpoint = DefaultGLMEndpoint
		}
		model := cfg.GLMModel
		if model == "" {
			model = DefaultGLMModel
		}
		client, err := openai.New(
			openai.WithToken(cfg.GLMAPIKey),
			openai.WithBaseURL(endpoint),
			openai.WithModel(model),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create glm client: %w", err)
		}
		return &chatProvider{name: "glm", model: client}, nil
	case "ollama":
		client, err := ollama.New(
			ollama.WithServerURL(cfg.OllamaURL),
			ollama.WithModel(cfg.OllamaModel),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
		return &chatProvider{name: "ollama", model: client}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}

func (p *chatProvider) Name() string {
	return p.name
}

func (p *chatProvider) Chat(ctx context.Context, messages []planflow.Message) (string, error) {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, msg := range messages {
		var role llms.ChatMessageType
		switch msg.Role {
		case planflow.RoleSystem:
			role = llms.ChatMessageTypeSystem
		case planflow.RoleAssistant:
			role = llms.ChatMessageTypeAI
		default:
			role = llms.ChatMessageTypeHuman
		}
		content = append(content, llms.TextParts(role, msg.Content))
	}

	resp, err := p.model.GenerateContent(ctx, content,
		llms.WithTemperature(0.7),
		llms.WithMaxTokens(8000),
	)
	if err != nil {
		return "", fmt.Errorf("%s generation failed: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from %s", p.name)
	}

	return resp.Choices[0].Content, nil
}
