package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pario-ai/steer/pkg/config"
	"github.com/pario-ai/steer/pkg/models"
	"github.com/pario-ai/steer/pkg/resilience"
	"go.uber.org/zap"
)

const (
	// AnthropicVersion is sent with every Anthropic request.
	AnthropicVersion = "2023-06-01"
	// DefaultMaxTokens is used for Anthropic requests that set no limit.
	DefaultMaxTokens = 1024

	maxResponseSize = 8 << 20
)

// ErrEmptyCompletion is returned when a 2xx response carries no content.
var ErrEmptyCompletion = errors.New("provider returned no completion")

// Error is a non-2xx response from an upstream provider.
type Error struct {
	Provider string
	Status   int
	Body     string
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s returned %d: %s", e.Provider, e.Status, e.Body)
}

// StatusCode implements resilience.StatusCoder.
func (e *Error) StatusCode() int { return e.Status }

// Completion is the normalized result of a chat call.
type Completion struct {
	Provider string       `json:"provider"`
	Model    string       `json:"model"`
	Content  string       `json:"content"`
	Usage    models.Usage `json:"usage"`
}

// Client calls OpenAI- and Anthropic-style chat endpoints. Each provider has
// its own circuit breaker in the shared registry.
type Client struct {
	http     *http.Client
	breakers *resilience.Registry
	retry    resilience.RetryOptions
	logger   *zap.Logger
}

// NewClient creates a client that takes breakers from reg.
func NewClient(reg *resilience.Registry, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http:     &http.Client{},
		breakers: reg,
		retry:    resilience.AIServicePolicy(),
		logger:   logger.Named("provider"),
	}
}

// WithRetry overrides the retry policy.
func (c *Client) WithRetry(opts resilience.RetryOptions) *Client {
	c.retry = opts
	return c
}

// BreakerName is the registry key of a provider's breaker.
func BreakerName(provider string) string {
	return "provider:" + provider
}

// Complete sends messages to model on p.
func (c *Client) Complete(ctx context.Context, p config.ProviderConfig, model string, messages []models.ChatMessage, maxTokens *int) (*Completion, error) {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	breaker := c.breakers.GetWith(BreakerName(p.Name), resilience.DependencyFailure)
	return resilience.Retry(ctx, c.retry, func(ctx context.Context) (*Completion, error) {
		var out *Completion
		err := breaker.Execute(func() error {
			var err error
			out, err = c.call(ctx, p, model, messages, maxTokens)
			return err
		})
		if err != nil {
			c.logger.Debug("provider call failed",
				zap.String("provider", p.Name),
				zap.String("model", model),
				zap.Error(err),
			)
		}
		return out, err
	})
}

func (c *Client) call(ctx context.Context, p config.ProviderConfig, model string, messages []models.ChatMessage, maxTokens *int) (*Completion, error) {
	if p.Type == "anthropic" {
		return c.callAnthropic(ctx, p, model, messages, maxTokens)
	}
	return c.callOpenAI(ctx, p, model, messages, maxTokens)
}

func (c *Client) callOpenAI(ctx context.Context, p config.ProviderConfig, model string, messages []models.ChatMessage, maxTokens *int) (*Completion, error) {
	body, err := json.Marshal(models.ChatCompletionRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return nil, err
	}
	headers := map[string]string{}
	if p.APIKey != "" {
		headers["Authorization"] = "Bearer " + p.APIKey
	}
	data, err := c.post(ctx, p, "/v1/chat/completions", headers, body)
	if err != nil {
		return nil, err
	}

	var resp models.ChatCompletionResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", p.Name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyCompletion
	}
	out := &Completion{
		Provider: p.Name,
		Model:    model,
		Content:  resp.Choices[0].Message.Content,
	}
	if resp.Model != "" {
		out.Model = resp.Model
	}
	if resp.Usage != nil {
		out.Usage = *resp.Usage
	}
	return out, nil
}

func (c *Client) callAnthropic(ctx context.Context, p config.ProviderConfig, model string, messages []models.ChatMessage, maxTokens *int) (*Completion, error) {
	req := toAnthropic(model, messages, maxTokens)
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	headers := map[string]string{
		"x-api-key":         p.APIKey,
		"anthropic-version": AnthropicVersion,
	}
	data, err := c.post(ctx, p, "/v1/messages", headers, body)
	if err != nil {
		return nil, err
	}

	var resp models.AnthropicResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", p.Name, err)
	}
	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, ErrEmptyCompletion
	}
	out := &Completion{
		Provider: p.Name,
		Model:    model,
		Content:  text.String(),
	}
	if resp.Model != "" {
		out.Model = resp.Model
	}
	if resp.Usage != nil {
		out.Usage = *resp.Usage.ToUsage()
	}
	return out, nil
}

// toAnthropic moves system messages into the top-level system prompt and
// sends function results as user turns.
func toAnthropic(model string, messages []models.ChatMessage, maxTokens *int) models.AnthropicRequest {
	req := models.AnthropicRequest{Model: model, MaxTokens: DefaultMaxTokens}
	if maxTokens != nil && *maxTokens > 0 {
		req.MaxTokens = *maxTokens
	}
	var system []string
	for _, m := range messages {
		switch m.Role {
		case models.RoleSystem:
			system = append(system, m.Content)
		case models.RoleFunction:
			req.Messages = append(req.Messages, models.ChatMessage{Role: models.RoleUser, Content: m.Content})
		default:
			req.Messages = append(req.Messages, models.ChatMessage{Role: m.Role, Content: m.Content})
		}
	}
	req.System = strings.Join(system, "\n\n")
	return req
}

func (c *Client) post(ctx context.Context, p config.ProviderConfig, path string, headers map[string]string, body []byte) ([]byte, error) {
	target, err := url.Parse(strings.TrimRight(p.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid provider URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String()+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{Provider: p.Name, Status: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}
