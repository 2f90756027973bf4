package external

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"opsight/internal/types"
)

// insightSystemPrompt frames the model as an operations analyst. The
// dashboard renders the response as a single insight card, so the prompt asks
// for a compact answer.
const insightSystemPrompt = `You are an operations analyst for a SaaS monitoring dashboard.
Answer the user's question about their infrastructure metrics concisely and
concretely. Limit your answer to a short paragraph. If the question cannot be
answered from metrics alone, say what additional data would be needed.`

const insightMaxTokens = 512

// openaiAPI is the slice of the OpenAI SDK client the service uses.
type openaiAPI interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIClientConfig holds the configuration for creating an OpenAIClient.
type OpenAIClientConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
	Logger  *slog.Logger
}

// OpenAIClient produces AI insights from natural-language dashboard queries.
type OpenAIClient struct {
	api     openaiAPI
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewOpenAIClient creates an OpenAIClient for the configured model.
func NewOpenAIClient(cfg OpenAIClientConfig) *OpenAIClient {
	return NewOpenAIClientWithAPI(openai.NewClient(cfg.APIKey), cfg)
}

// NewOpenAIClientWithAPI wraps a pre-built API surface, useful in tests.
func NewOpenAIClientWithAPI(api openaiAPI, cfg OpenAIClientConfig) *OpenAIClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIClient{
		api:     api,
		model:   model,
		timeout: timeout,
		logger:  logger,
	}
}

// GenerateInsight sends the user's prompt to the chat completion API and
// returns the model's answer. A non-empty dataContext (the dashboard data
// excerpt the question refers to) is prefixed to the user message. The call
// is bounded by the configured timeout regardless of the caller's context
// deadline.
func (c *OpenAIClient) GenerateInsight(ctx context.Context, prompt, dataContext string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	userContent := prompt
	if dataContext != "" {
		userContent = "Data context:\n" + dataContext + "\n\nQuestion:\n" + prompt
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: insightMaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: insightSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userContent},
		},
	})
	if err != nil {
		return "", mapOpenAIError(err)
	}

	if len(resp.Choices) == 0 {
		return "", types.NewAppError(
			types.ErrCodeUpstreamAI,
			"AI provider returned no completion choices",
			nil,
		)
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// mapOpenAIError translates SDK errors into the upstream error taxonomy.
// Rate limits surface as their own code so the dashboard can tell the user
// to retry rather than showing a generic failure.
func mapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return types.NewAppError(
				types.ErrCodeUpstreamRateLimited,
				"AI provider rate limit exceeded",
				err,
			)
		}
		return types.NewAppError(
			types.ErrCodeUpstreamAI,
			"AI provider request failed: "+apiErr.Message,
			err,
		)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewAppError(
			types.ErrCodeUpstreamAI,
			"AI provider request timed out",
			err,
		)
	}
	return types.NewAppError(
		types.ErrCodeUpstreamAI,
		"AI provider request failed",
		err,
	)
}
