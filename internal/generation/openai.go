// Package generation turns an assembled context package into an answer using
// an OpenAI-compatible chat completion endpoint.
package generation

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"docrag/internal/assembler"
	"docrag/internal/domain"
)

const defaultSystemPrompt = "You answer questions about a single document. " +
	"Use only the numbered context passages below. If they do not contain the answer, say so."

type Config struct {
	BaseURL      string
	APIKeyEnv    string
	Model        string
	SystemPrompt string
	Temperature  float32
	Timeout      time.Duration
}

// Generator calls a chat completion backend.
type Generator struct {
	client *goopenai.Client
	cfg    Config
}

func New(cfg Config) (*Generator, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.Model == "" {
		cfg.Model = goopenai.GPT4oMini
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	oc := goopenai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return &Generator{client: goopenai.NewClientWithConfig(oc), cfg: cfg}, nil
}

// Generate answers question from pkg. Failures wrap domain.ErrGeneration.
func (g *Generator) Generate(ctx context.Context, question string, pkg assembler.Package) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       g.cfg.Model,
		Messages:    Messages(g.cfg.SystemPrompt, question, pkg),
		Temperature: g.cfg.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrGeneration, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", domain.ErrGeneration)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Messages lays out the request: system prompt with numbered context, prior
// turns, then the question.
func Messages(system, question string, pkg assembler.Package) []goopenai.ChatCompletionMessage {
	var b strings.Builder
	b.WriteString(system)
	if len(pkg.ContextTexts) > 0 {
		b.WriteString("\n\nContext:")
		for i, t := range pkg.ContextTexts {
			fmt.Fprintf(&b, "\n[%d] %s", i+1, t)
		}
	}
	msgs := make([]goopenai.ChatCompletionMessage, 0, len(pkg.HistoryMessages)+2)
	msgs = append(msgs, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleSystem, Content: b.String()})
	for _, m := range pkg.HistoryMessages {
		role := goopenai.ChatMessageRoleUser
		if m.Role == domain.RoleAssistant {
			role = goopenai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, goopenai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return append(msgs, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser, Content: question})
}
