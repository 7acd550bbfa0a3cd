package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JakeRemmich/AutoHotKey/internal/platform/config"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

// ErrEmptyCompletion is returned when the model answers with no text.
var ErrEmptyCompletion = errors.New("llm: empty completion")

// Client sends a single-turn prompt to an OpenAI compatible chat endpoint
// and retries failed attempts with a fixed delay.
type Client struct {
	api        *openai.Client
	model      string
	maxTokens  int
	maxRetries int
	retryDelay time.Duration
	log        zerolog.Logger
}

func NewClient(cfg config.LLMConfig, log zerolog.Logger) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}

	retries := cfg.MaxRetries
	if retries < 1 {
		retries = 1
	}

	return &Client{
		api:        openai.NewClientWithConfig(apiCfg),
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		maxRetries: retries,
		retryDelay: cfg.RetryDelay,
		log:        log,
	}
}

func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		text, err := c.once(ctx, prompt)
		if err == nil {
			return text, nil
		}
		lastErr = err
		c.log.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", c.maxRetries).Msg("LLM request failed")

		if attempt == c.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.retryDelay):
		}
	}
	return "", fmt.Errorf("llm: %d attempts failed: %w", c.maxRetries, lastErr)
}

func (c *Client) once(ctx context.Context, prompt string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", ErrEmptyCompletion
	}
	return resp.Choices[0].Message.Content, nil
}
