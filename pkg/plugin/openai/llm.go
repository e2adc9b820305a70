// Package openai provides the chat completion provider for OpenAI and
// Azure OpenAI endpoints.
//
// Azure deployments disagree across API versions on the name of the token
// limit parameter (max_tokens vs max_completion_tokens). Chat sends the
// configured name first and, when the service rejects it with a 4xx whose
// message names the alternate, retries exactly once with the alternate.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	gopenai "github.com/sashabaranov/go-openai"

	"github.com/chriscow/avatar-agents-go/pkg/ai/llm"
)

// Token limit parameter names accepted by the service, depending on API
// version and model family.
const (
	TokenParamMaxTokens           = "max_tokens"
	TokenParamMaxCompletionTokens = "max_completion_tokens"
)

// Config holds provider configuration.
type Config struct {
	APIKey string

	// Endpoint selects Azure mode when non-empty, e.g.
	// https://myresource.openai.azure.com. Leave empty for api.openai.com.
	Endpoint   string
	Deployment string // Azure deployment name; Model maps to it
	APIVersion string

	// BaseURL overrides the OpenAI-compatible base URL in non-Azure mode.
	BaseURL string

	Model string

	// TokenParam is the token limit parameter to try first. Defaults to
	// max_tokens.
	TokenParam string

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// LLM implements llm.LLM against OpenAI-compatible chat completion
// endpoints.
type LLM struct {
	client     *gopenai.Client
	model      string
	tokenParam string
	logger     *slog.Logger
}

// New creates the provider. The API key is required.
func New(cfg Config) (*LLM, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required (set OPENAI_API_KEY or provide api_key in config)")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	if cfg.TokenParam == "" {
		cfg.TokenParam = TokenParamMaxTokens
	}
	if cfg.TokenParam != TokenParamMaxTokens && cfg.TokenParam != TokenParamMaxCompletionTokens {
		return nil, fmt.Errorf("unknown token parameter %q", cfg.TokenParam)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	cc := clientConfig(cfg)
	if cfg.HTTPClient != nil {
		cc.HTTPClient = cfg.HTTPClient
	}

	return &LLM{
		client:     gopenai.NewClientWithConfig(cc),
		model:      cfg.Model,
		tokenParam: cfg.TokenParam,
		logger:     cfg.Logger.With(slog.String("component", "openai-llm")),
	}, nil
}

func clientConfig(cfg Config) gopenai.ClientConfig {
	if cfg.Endpoint != "" {
		cc := gopenai.DefaultAzureConfig(cfg.APIKey, cfg.Endpoint)
		if cfg.APIVersion != "" {
			cc.APIVersion = cfg.APIVersion
		}
		if cfg.Deployment != "" {
			deployment := cfg.Deployment
			cc.AzureModelMapperFunc = func(string) string { return deployment }
		}
		return cc
	}

	cc := gopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		cc.BaseURL = cfg.BaseURL
	}
	return cc
}

// Chat performs a chat completion. An empty reply content is valid and
// returned as-is. Failures wrap llm.ErrLLM.
func (p *LLM) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	messages := make([]gopenai.ChatCompletionMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = gopenai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, p.completionRequest(messages, req, p.tokenParam))
	if err != nil {
		alt, retry := alternateTokenParam(p.tokenParam, err)
		if !retry {
			return llm.ChatResponse{}, fmt.Errorf("chat completion: %v: %w", err, llm.ErrLLM)
		}

		p.logger.Info("token limit parameter rejected, retrying with alternate",
			slog.String("rejected", p.tokenParam),
			slog.String("alternate", alt))

		resp, err = p.client.CreateChatCompletion(ctx, p.completionRequest(messages, req, alt))
		if err != nil {
			return llm.ChatResponse{}, fmt.Errorf("chat completion after %s fallback: %v: %w", alt, err, llm.ErrLLM)
		}
	}

	if len(resp.Choices) == 0 {
		return llm.ChatResponse{}, fmt.Errorf("no completion choices returned: %w", llm.ErrLLM)
	}

	choice := resp.Choices[0]
	return llm.ChatResponse{
		Message: llm.Message{
			Role:    llm.MessageRole(choice.Message.Role),
			Content: choice.Message.Content,
		},
		TokensUsed:   resp.Usage.TotalTokens,
		FinishReason: string(choice.FinishReason),
	}, nil
}

func (p *LLM) completionRequest(messages []gopenai.ChatCompletionMessage, req llm.ChatRequest, tokenParam string) gopenai.ChatCompletionRequest {
	out := gopenai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    messages,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}
	if req.MaxTokens > 0 {
		switch tokenParam {
		case TokenParamMaxCompletionTokens:
			out.MaxCompletionTokens = req.MaxTokens
		default:
			out.MaxTokens = req.MaxTokens
		}
	}
	return out
}

// alternateTokenParam reports whether err is a 4xx rejection whose message
// names the other token limit parameter, and which name to try instead.
func alternateTokenParam(current string, err error) (string, bool) {
	var apiErr *gopenai.APIError
	if !errors.As(err, &apiErr) {
		return "", false
	}
	if apiErr.HTTPStatusCode < 400 || apiErr.HTTPStatusCode >= 500 {
		return "", false
	}

	alt := TokenParamMaxCompletionTokens
	if current == TokenParamMaxCompletionTokens {
		alt = TokenParamMaxTokens
	}
	if !strings.Contains(apiErr.Message, alt) {
		return "", false
	}
	return alt, true
}

// Capabilities returns the provider's capabilities.
func (p *LLM) Capabilities() llm.LLMCapabilities {
	return llm.LLMCapabilities{
		SupportsStreaming:  false,
		SupportsSystemRole: true,
		MaxTokens:          128000,
		SupportedModels:    []string{"gpt-4o", "gpt-4o-mini", "gpt-4.1", "o1-mini"},
	}
}
