package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

// ErrUnavailable marks a transport-level oracle failure: connection
// refused, timeout, or provider 5xx after retries. Callers fall back to
// local heuristics rather than failing the job.
var ErrUnavailable = errors.New("threat oracle unavailable")

// Client is the minimal completion surface the adapter needs.
type Client interface {
	// Complete sends one system+user exchange and returns the raw
	// completion text.
	Complete(ctx context.Context, system, user string) (string, error)
}

// OpenAIClient talks to an OpenAI-compatible endpoint.
type OpenAIClient struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	retries int
}

// OpenAIConfig carries endpoint settings for NewOpenAIClient.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
	Retries int
}

// NewOpenAIClient builds a client for cfg. BaseURL may point at a local
// OpenAI-compatible server; APIKey may be empty for such endpoints.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Retries < 1 {
		cfg.Retries = 3
	}
	return &OpenAIClient{
		client:  openai.NewClientWithConfig(apiCfg),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		retries: cfg.Retries,
	}
}

// Complete issues the chat completion with bounded retries and
// exponential backoff. Exhausted retries surface as ErrUnavailable.
func (c *OpenAIClient) Complete(ctx context.Context, system, user string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0.1,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	}

	var lastErr error
	backoff := 500 * time.Millisecond
	for attempt := 0; attempt < c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		resp, err := c.client.CreateChatCompletion(callCtx, req)
		cancel()
		if err != nil {
			lastErr = err
			log.Warn().Err(err).Int("attempt", attempt+1).Msg("oracle call failed")
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = errors.New("empty completion")
			continue
		}
		return resp.Choices[0].Message.Content, nil
	}
	return "", fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}
