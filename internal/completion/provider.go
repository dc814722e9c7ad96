// Package completion is a thin multi-provider chat completion client
// used by the complete command to post-process transcripts. It is not
// part of the capture pipeline.
package completion

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// groqBaseURL is Groq's OpenAI-compatible API root
const groqBaseURL = "https://api.groq.com/openai/v1"

// Provider produces a completion for a prompt
type Provider interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Config selects and configures a provider
type Config struct {
	Provider      string // "openai", "groq" or "ollama"
	Model         string
	BaseURL       string
	APIKey        string
	SystemMessage string
}

// New creates the provider named by the config
func New(cfg Config) (Provider, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}

	switch cfg.Provider {
	case "openai":
		return newOpenAICompat(cfg), nil
	case "groq":
		if cfg.BaseURL == "" {
			cfg.BaseURL = groqBaseURL
		}
		return newOpenAICompat(cfg), nil
	case "ollama":
		return newOllama(cfg), nil
	default:
		return nil, fmt.Errorf("unknown provider %q (expected openai, groq or ollama)", cfg.Provider)
	}
}

// openAICompat serves any OpenAI-compatible chat API
type openAICompat struct {
	client        *openai.Client
	model         string
	systemMessage string
}

func newOpenAICompat(cfg Config) *openAICompat {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &openAICompat{
		client:        openai.NewClientWithConfig(clientCfg),
		model:         cfg.Model,
		systemMessage: cfg.SystemMessage,
	}
}

func (p *openAICompat) Complete(ctx context.Context, prompt string) (string, error) {
	messages := []openai.ChatCompletionMessage{}
	if p.systemMessage != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: p.systemMessage,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
