package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"mailflow/internal/analysis"
)

const (
	defaultOpenAIURL    = "https://api.openai.com/v1"
	defaultAnthropicURL = "https://api.anthropic.com/v1"
	anthropicVersion    = "2023-06-01"
)

type AIConfig struct {
	OpenAIKey      string
	OpenAIBaseURL  string
	AnthropicKey   string
	AnthropicBase  string
	RequestTimeout time.Duration
}

// AIClient talks to OpenAI chat completions and Anthropic messages. Models
// starting with "claude" go to Anthropic.
type AIClient struct {
	cfg        AIConfig
	httpClient *http.Client
	logger     *zap.Logger
}

func NewAIClient(cfg AIConfig, log *zap.Logger) *AIClient {
	if cfg.OpenAIBaseURL == "" {
		cfg.OpenAIBaseURL = defaultOpenAIURL
	}
	if cfg.AnthropicBase == "" {
		cfg.AnthropicBase = defaultAnthropicURL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AIClient{
		cfg:        cfg,
		httpClient: newHTTPClient(cfg.RequestTimeout),
		logger:     log,
	}
}

func (c *AIClient) Healthy() (bool, string) {
	var providers []string
	if c.cfg.OpenAIKey != "" {
		providers = append(providers, "openai")
	}
	if c.cfg.AnthropicKey != "" {
		providers = append(providers, "anthropic")
	}
	if len(providers) == 0 {
		return false, "no AI provider key configured"
	}
	return true, "providers: " + strings.Join(providers, ", ")
}

func (c *AIClient) Complete(ctx context.Context, req analysis.CompletionRequest) (string, error) {
	if isAnthropicModel(req.Model) {
		return c.completeAnthropic(ctx, req)
	}
	return c.completeOpenAI(ctx, req)
}

func isAnthropicModel(model string) bool {
	return strings.HasPrefix(strings.ToLower(model), "claude")
}

// Reasoning models reject max_tokens and a custom temperature.
func isReasoningModel(model string) bool {
	m := strings.ToLower(model)
	for _, p := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(m, p) {
			return true
		}
	}
	return false
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model               string        `json:"model"`
	Messages            []chatMessage `json:"messages"`
	Temperature         *float64      `json:"temperature,omitempty"`
	MaxTokens           int           `json:"max_tokens,omitempty"`
	MaxCompletionTokens int           `json:"max_completion_tokens,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *AIClient) completeOpenAI(ctx context.Context, req analysis.CompletionRequest) (string, error) {
	if c.cfg.OpenAIKey == "" {
		return "", fmt.Errorf("model %s: openai key not configured: %w", req.Model, analysis.ErrModelUnavailable)
	}

	body := openAIRequest{
		Model: req.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.UserPrompt},
		},
	}
	if isReasoningModel(req.Model) {
		body.MaxCompletionTokens = req.MaxTokens
	} else {
		t := req.Temperature
		body.Temperature = &t
		body.MaxTokens = req.MaxTokens
	}

	httpReq, err := newJSONRequest(ctx, http.MethodPost, c.cfg.OpenAIBaseURL+"/chat/completions", body)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.OpenAIKey)

	var resp openAIResponse
	if err := doJSON(c.httpClient, "openai", httpReq, &resp); err != nil {
		return "", classifyModelError(req.Model, err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

type anthropicRequest struct {
	Model       string        `json:"model"`
	System      string        `json:"system,omitempty"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (c *AIClient) completeAnthropic(ctx context.Context, req analysis.CompletionRequest) (string, error) {
	if c.cfg.AnthropicKey == "" {
		return "", fmt.Errorf("model %s: anthropic key not configured: %w", req.Model, analysis.ErrModelUnavailable)
	}

	body := anthropicRequest{
		Model:       req.Model,
		System:      req.SystemPrompt,
		Messages:    []chatMessage{{Role: "user", Content: req.UserPrompt}},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	httpReq, err := newJSONRequest(ctx, http.MethodPost, c.cfg.AnthropicBase+"/messages", body)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("x-api-key", c.cfg.AnthropicKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	var resp anthropicResponse
	if err := doJSON(c.httpClient, "anthropic", httpReq, &resp); err != nil {
		return "", classifyModelError(req.Model, err)
	}

	var b strings.Builder
	for _, part := range resp.Content {
		if part.Type == "" || part.Type == "text" {
			b.WriteString(part.Text)
		}
	}
	return b.String(), nil
}

// classifyModelError marks 404s and "model not found" bodies as unavailable
// models so the engine moves on to the next candidate.
func classifyModelError(model string, err error) error {
	var se *StatusError
	if errors.As(err, &se) {
		if se.Code == http.StatusNotFound || analysis.IsModelUnavailable(se) {
			return fmt.Errorf("model %s: %v: %w", model, se, analysis.ErrModelUnavailable)
		}
	}
	return fmt.Errorf("model %s: %w", model, err)
}
