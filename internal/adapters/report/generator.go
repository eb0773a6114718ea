// Package report writes the parent-facing summary of an assessment using an
// OpenAI-compatible chat completion API (Groq by default).
package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/okian/cognicare/internal/domain/failure"
	"github.com/okian/cognicare/internal/domain/model"
	"github.com/okian/cognicare/pkg/logger"
	"github.com/okian/cognicare/pkg/metrics"
)

// Defaults for a Generator.
const (
	DefaultBaseURL     = "https://api.groq.com/openai/v1"
	DefaultModel       = "llama-3.1-8b-instant"
	DefaultMaxWords    = 120
	DefaultTemperature = 0.3
	DefaultTimeout     = 30 * time.Second
)

// ChatClient is the chat completion call the generator needs.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Generator produces report text for assessment records.
type Generator struct {
	apiKey      string
	baseURL     string
	model       string
	maxWords    int
	temperature float32
	timeout     time.Duration
	logger      logger.Logger

	mu     sync.Mutex
	client ChatClient
}

// Option configures a Generator.
type Option func(*Generator)

// WithAPIKey sets the API credential.
func WithAPIKey(key string) Option {
	return func(g *Generator) { g.apiKey = strings.TrimSpace(key) }
}

// WithBaseURL points the client at another OpenAI-compatible endpoint.
func WithBaseURL(u string) Option {
	return func(g *Generator) {
		if u != "" {
			g.baseURL = u
		}
	}
}

// WithModel sets the chat model.
func WithModel(m string) Option {
	return func(g *Generator) {
		if m != "" {
			g.model = m
		}
	}
}

// WithMaxWords sets the word budget used to size max_tokens.
func WithMaxWords(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxWords = n
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(g *Generator) {
		if t >= 0 {
			g.temperature = float32(t)
		}
	}
}

// WithTimeout bounds one generation call.
func WithTimeout(d time.Duration) Option {
	return func(g *Generator) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithClient injects a ready client, bypassing credential checks.
func WithClient(c ChatClient) Option {
	return func(g *Generator) { g.client = c }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(g *Generator) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGenerator creates a Generator. A missing API key is reported on the
// first Generate call, not here.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		baseURL:     DefaultBaseURL,
		model:       DefaultModel,
		maxWords:    DefaultMaxWords,
		temperature: DefaultTemperature,
		timeout:     DefaultTimeout,
		logger:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate asks the model for a summary of rec. Notes are appended to the
// prompt verbatim. There is no retry.
func (g *Generator) Generate(ctx context.Context, rec *model.AssessmentRecord, notes string) (string, error) {
	const op = "report.generate"

	if rec == nil {
		return "", failure.WrapKind(op, failure.ErrInvalidInput, ErrNoRecord)
	}
	client, err := g.chatClient()
	if err != nil {
		metrics.RecordReportError(failure.Label(err))
		return "", err
	}

	req := openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(rec, notes)},
		},
		MaxTokens:   maxTokens(g.maxWords),
		Temperature: g.temperature,
	}

	tctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	resp, err := client.CreateChatCompletion(tctx, req)
	metrics.RecordReportLatency(float64(time.Since(start).Milliseconds()))
	if err != nil {
		err = g.classify(ctx, tctx, op, err)
		metrics.RecordReportError(failure.Label(err))
		g.logger.Warn(ctx, "report generation failed", logger.Int64("record_id", rec.ID), logger.Error(err))
		return "", err
	}

	var text string
	if len(resp.Choices) > 0 {
		text = strings.TrimSpace(resp.Choices[0].Message.Content)
	}
	if text == "" {
		err := failure.WrapKind(op, failure.ErrUpstream, ErrEmptyReport)
		metrics.RecordReportError(failure.Label(err))
		return "", err
	}

	g.logger.Debug(ctx, "report generated",
		logger.Int64("record_id", rec.ID),
		logger.Int("chars", len(text)),
		logger.Int("completion_tokens", resp.Usage.CompletionTokens),
	)
	return text, nil
}

func (g *Generator) classify(parent, tctx context.Context, op string, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(tctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return failure.WrapKind(op, failure.ErrTimeout, fmt.Errorf("%w after %s", ErrReportTimeout, g.timeout))
	}
	return failure.WrapKind(op, failure.ErrUpstream, fmt.Errorf("%w: %w", ErrGeneration, err))
}

// chatClient builds the API client on first use.
func (g *Generator) chatClient() (ChatClient, error) {
	const op = "report.client"

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		return g.client, nil
	}
	if g.apiKey == "" {
		return nil, failure.WrapKind(op, failure.ErrUnavailable, ErrMissingCredential)
	}
	cfg := openai.DefaultConfig(g.apiKey)
	cfg.BaseURL = g.baseURL
	g.client = openai.NewClientWithConfig(cfg)
	return g.client, nil
}
