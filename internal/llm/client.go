// Package llm streams chat completions from the configured model provider as a
// lazy sequence of text deltas.
package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleDeveloper Role = "developer"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

// Request is one streamed completion. Effort and Verbosity are optional hints;
// providers that have no equivalent ignore them.
type Request struct {
	Model     string
	Effort    string
	Verbosity string
	Messages  []Message
}

// Client opens a completion stream. An error is returned only when the stream
// cannot be opened; failures after that arrive through the sequence.
type Client interface {
	Stream(ctx context.Context, req Request) (iter.Seq2[string, error], error)
	Name() string
}

// Config controls client construction.
type Config struct {
	Provider     string
	OpenAIURL    string
	OpenAIAPIKey string
	GeminiAPIKey string
	Logger       *slog.Logger
}

func New(ctx context.Context, cfg Config) (Client, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if mode == "" {
		mode = "auto"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	switch mode {
	case "auto":
		return newAutoClient(ctx, cfg)
	case "openai":
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" && strings.TrimSpace(cfg.OpenAIURL) == "" {
			return nil, errors.New("OPENAI_API_KEY or OPENAI_URL is required for openai mode")
		}
		return NewOpenAIClient(cfg.OpenAIURL, cfg.OpenAIAPIKey), nil
	case "gemini":
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return nil, errors.New("GEMINI_API_KEY is required for gemini mode")
		}
		return NewGeminiClient(ctx, cfg.GeminiAPIKey)
	case "mock":
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}

func newAutoClient(ctx context.Context, cfg Config) (Client, error) {
	var gemini Client
	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		g, err := NewGeminiClient(ctx, cfg.GeminiAPIKey)
		if err != nil {
			cfg.Logger.Warn("gemini client unavailable", "error", err)
		} else {
			gemini = g
		}
	}

	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" || strings.TrimSpace(cfg.OpenAIURL) != "" {
		openai := NewOpenAIClient(cfg.OpenAIURL, cfg.OpenAIAPIKey)
		if gemini != nil {
			return NewFallbackClient(openai, gemini, cfg.Logger), nil
		}
		return openai, nil
	}
	if gemini != nil {
		return gemini, nil
	}
	cfg.Logger.Warn("no model provider configured, using mock replies")
	return NewMockClient(), nil
}

// FallbackClient opens the primary stream and switches to the fallback when the
// primary cannot be opened.
type FallbackClient struct {
	primary  Client
	fallback Client
	logger   *slog.Logger
}

func NewFallbackClient(primary, fallback Client, logger *slog.Logger) *FallbackClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackClient{primary: primary, fallback: fallback, logger: logger}
}

func (c *FallbackClient) Name() string {
	return c.primary.Name() + "+" + c.fallback.Name()
}

func (c *FallbackClient) Stream(ctx context.Context, req Request) (iter.Seq2[string, error], error) {
	seq, err := c.primary.Stream(ctx, req)
	if err == nil {
		return seq, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	c.logger.Warn("primary model stream failed, falling back", "primary", c.primary.Name(), "fallback", c.fallback.Name(), "error", err)
	seq, fallbackErr := c.fallback.Stream(ctx, req)
	if fallbackErr != nil {
		return nil, fmt.Errorf("primary model error: %w; fallback model error: %v", err, fallbackErr)
	}
	return seq, nil
}

// TimeFirstDelta wraps seq and calls observe once with the time from start to
// the first non-empty delta.
func TimeFirstDelta(seq iter.Seq2[string, error], start time.Time, observe func(time.Duration)) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		seen := false
		for delta, err := range seq {
			if !seen && err == nil && delta != "" {
				seen = true
				observe(time.Since(start))
			}
			if !yield(delta, err) {
				return
			}
		}
	}
}
