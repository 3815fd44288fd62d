package handlers

import (
	"context"
	"fmt"
	"strings"

	"streamq/errors"
	"streamq/logger"
	"streamq/queue"

	"github.com/sashabaranov/go-openai"
)

const (
	defaultSummaryModel = "gpt-oss-20b"
	summaryMaxTokens    = 512
	summaryTemperature  = 0.3
	summaryPrompt       = "Summarize the following conversation in a few sentences. Reply with the summary only."
)

// ChatClient is the part of the OpenAI client the summarizer needs.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Appender publishes results; *queue.Queue satisfies it.
type Appender interface {
	Add(ctx context.Context, streamKey string, fields map[string]string) (string, error)
}

type SummarizerConfig struct {
	BaseURL      string
	Model        string
	APIKey       string
	ResultStream string
}

var _ queue.Handler = (*SummarizeHandler)(nil)

// SummarizeHandler sends an entry's "text" to an OpenAI-compatible chat
// completion backend and appends the summary, keyed by "chatId", to the
// result stream. Backend failures leave the entry pending for retry.
type SummarizeHandler struct {
	client       ChatClient
	model        string
	results      Appender
	resultStream string
	logger       *logger.Logger
}

func NewSummarizeHandler(cfg SummarizerConfig, results Appender, lg *logger.Logger) (*SummarizeHandler, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("summarizer: base URL is required")
	}
	if cfg.ResultStream == "" {
		return nil, fmt.Errorf("summarizer: result stream is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL

	model := cfg.Model
	if model == "" {
		model = defaultSummaryModel
	}

	return &SummarizeHandler{
		client:       openai.NewClientWithConfig(clientCfg),
		model:        model,
		results:      results,
		resultStream: cfg.ResultStream,
		logger:       lg,
	}, nil
}

func (h *SummarizeHandler) Handle(ctx context.Context, env queue.Envelope) (bool, error) {
	chatID := env.Get("chatId")
	text := strings.TrimSpace(env.Get("text"))
	if chatID == "" || text == "" {
		return false, errors.NewValidationError("summarize requires 'chatId' and 'text' fields", map[string]any{
			"entry_id": env.EntryID,
		})
	}

	resp, err := h.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       h.model,
		Temperature: summaryTemperature,
		MaxTokens:   summaryMaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: summaryPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		return false, fmt.Errorf("summarizer unavailable: %w", err)
	}

	summary, ok := firstContent(resp)
	if !ok {
		return false, fmt.Errorf("summarizer returned no content for entry %s", env.EntryID)
	}

	resultID, err := h.results.Add(ctx, h.resultStream, map[string]string{
		"chatId":    chatID,
		"summary":   summary,
		"source_id": env.EntryID,
	})
	if err != nil {
		return false, fmt.Errorf("failed to publish summary: %w", err)
	}

	h.logger.Message(env.StreamKey, env.EntryID, "summary published", map[string]any{
		"chat_id":       chatID,
		"result_stream": h.resultStream,
		"result_id":     resultID,
	})
	return true, nil
}

func firstContent(resp openai.ChatCompletionResponse) (string, bool) {
	for _, choice := range resp.Choices {
		if trimmed := strings.TrimSpace(choice.Message.Content); trimmed != "" {
			return trimmed, true
		}
	}
	return "", false
}
