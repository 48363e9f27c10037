package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	client *openai.Client
}

func NewOpenAIClient(baseURL, apiKey string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if u := strings.TrimRight(strings.TrimSpace(baseURL), "/"); u != "" {
		cfg.BaseURL = u
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg)}
}

// NewOpenAIClientFrom wraps an already configured go-openai client.
func NewOpenAIClientFrom(client *openai.Client) *OpenAIClient {
	return &OpenAIClient{client: client}
}

func (c *OpenAIClient) Name() string { return "openai" }

func (c *OpenAIClient) Stream(ctx context.Context, req Request) (iter.Seq2[string, error], error) {
	stream, err := c.client.CreateChatCompletionStream(ctx, chatRequest(req))
	if err != nil {
		return nil, fmt.Errorf("openai stream: %w", err)
	}

	return func(yield func(string, error) bool) {
		defer stream.Close()
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", fmt.Errorf("openai stream recv: %w", err))
				return
			}
			for _, choice := range resp.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				if !yield(choice.Delta.Content, nil) {
					return
				}
			}
		}
	}, nil
}

func chatRequest(req Request) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	if line := verbosityInstruction(req.Verbosity); line != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: string(RoleSystem), Content: line})
	}
	return openai.ChatCompletionRequest{
		Model:           req.Model,
		Messages:        msgs,
		Stream:          true,
		ReasoningEffort: req.Effort,
	}
}

func verbosityInstruction(v string) string {
	switch v {
	case "low":
		return "Keep the reply short: one or two sentences."
	case "high":
		return "Reply in full detail."
	default:
		return ""
	}
}
