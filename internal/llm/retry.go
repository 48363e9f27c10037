package llm

import (
	"context"
	"errors"
	"iter"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ent0n29/paserver/internal/reliability"
)

// RetryClient retries opening a stream while the upstream answers with a
// transient status. An open stream is never restarted.
type RetryClient struct {
	inner  Client
	policy reliability.Policy
	logger *slog.Logger
}

func NewRetryClient(inner Client, policy reliability.Policy, logger *slog.Logger) *RetryClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryClient{inner: inner, policy: policy, logger: logger}
}

func (c *RetryClient) Name() string { return c.inner.Name() }

func (c *RetryClient) Stream(ctx context.Context, req Request) (iter.Seq2[string, error], error) {
	var seq iter.Seq2[string, error]
	err := reliability.Do(ctx, c.policy, IsTransient, func(attempt int) error {
		if attempt > 0 {
			c.logger.Warn("retrying model stream", "provider", c.inner.Name(), "attempt", attempt+1)
		}
		s, err := c.inner.Stream(ctx, req)
		if err != nil {
			return err
		}
		seq = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return seq, nil
}

// IsTransient reports whether err carries a retryable HTTP status from an
// OpenAI-compatible endpoint.
func IsTransient(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return reliability.IsRetryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reliability.IsRetryableStatus(reqErr.HTTPStatusCode)
	}
	return false
}
