package llmservice

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"chat-rag/internal/config"
	"chat-rag/internal/models"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// ChatModel is the part of llms.Model the pipeline needs.
type ChatModel interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

var (
	ErrNoChoices = errors.New("model returned no choices")

	thinkRe = regexp.MustCompile(models.ThinkTag)
)

// NewChatModel creates the chat model named by llmConfig.Provider.
func NewChatModel(llmConfig *config.LLMConfig) (llms.Model, error) {
	switch llmConfig.Provider {
	case "ollama":
		llm, err := ollama.New(
			ollama.WithServerURL(llmConfig.BaseURL),
			ollama.WithModel(llmConfig.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
		return llm, nil
	case "openai":
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
			openai.WithModel(llmConfig.Model),
		}
		if llmConfig.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(llmConfig.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai client: %w", err)
		}
		return llm, nil
	default:
		return nil, fmt.Errorf("unknown chat provider: %s", llmConfig.Provider)
	}
}

// GenerateContent sends messages at temperature 0 and returns the text of the
// first choice with any <think> block removed.
func GenerateContent(ctx context.Context, model ChatModel, messages []llms.MessageContent) (string, error) {
	log.Debug().Int("messages", len(messages)).Msg("Generating content")

	res, err := model.GenerateContent(ctx, messages, llms.WithTemperature(0))
	if err != nil {
		return "", err
	}
	if res == nil || len(res.Choices) == 0 {
		return "", ErrNoChoices
	}
	return CleanResponse(res.Choices[0].Content), nil
}

func CleanResponse(content string) string {
	return strings.TrimSpace(thinkRe.ReplaceAllString(content, ""))
}
