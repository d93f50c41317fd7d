package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/FranksOps/shopsage/internal/product"
	"github.com/FranksOps/shopsage/pkg/httpclient"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIConfig configures the chat completions client. BaseURL may point at any
// OpenAI-compatible endpoint such as OpenRouter.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
}

// OpenAI is a Reasoner backed by the chat completions API.
type OpenAI struct {
	client      openai.Client
	model       string
	temperature float64
	timeout     time.Duration
	logger      *slog.Logger
}

// NewOpenAI creates the client. An API key is required.
func NewOpenAI(cfg OpenAIConfig, logger *slog.Logger) (*OpenAI, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 45 * time.Second
	}

	hc, err := httpclient.New(httpclient.Config{Timeout: cfg.Timeout})
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(hc.Client),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(base, "/")+"/"))
	}

	return &OpenAI{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		logger:      logger,
	}, nil
}

// Complete sends messages and returns the first choice's content. Transport and
// API failures wrap product.ErrReasonerUnavailable.
func (o *OpenAI) Complete(ctx context.Context, messages []Message) (string, error) {
	if len(messages) == 0 {
		return "", errors.New("no chat messages for completion")
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model:    o.model,
		Messages: toParams(messages),
	}
	if o.temperature > 0 {
		params.Temperature = openai.Float(o.temperature)
	}

	start := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%w: chat completion: %w", product.ErrReasonerUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: chat completion returned no choices", product.ErrReasonerUnavailable)
	}

	o.logger.Debug("chat completion",
		"model", o.model,
		"duration", time.Since(start),
		"finish_reason", resp.Choices[0].FinishReason,
	)
	return resp.Choices[0].Message.Content, nil
}

func toParams(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
