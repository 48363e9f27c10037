package llm

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"
)

// MockClient provides deterministic replies when no provider is configured.
// With a script it yields the scripted deltas; otherwise it echoes the last
// user message word by word.
type MockClient struct {
	mu       sync.Mutex
	script   []string
	err      error
	requests []Request
}

func NewMockClient(script ...string) *MockClient {
	return &MockClient{script: script}
}

// FailWith makes the next Stream calls fail to open.
func (c *MockClient) FailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func (c *MockClient) Name() string { return "mock" }

// Requests returns every request seen so far.
func (c *MockClient) Requests() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Request(nil), c.requests...)
}

func (c *MockClient) Stream(ctx context.Context, req Request) (iter.Seq2[string, error], error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	err := c.err
	deltas := c.script
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if len(deltas) == 0 {
		deltas = echoDeltas(req)
	}

	return func(yield func(string, error) bool) {
		for _, d := range deltas {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			if !yield(d, nil) {
				return
			}
		}
	}, nil
}

func echoDeltas(req Request) []string {
	base := "I am listening."
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role != RoleUser {
			continue
		}
		_, body, found := strings.Cut(req.Messages[i].Content, "\n")
		if !found {
			body = req.Messages[i].Content
		}
		if body = strings.TrimSpace(body); body != "" {
			base = body
		}
		break
	}
	words := strings.Fields(fmt.Sprintf("I heard you: %s", base))
	out := make([]string, len(words))
	for i, w := range words {
		if i > 0 {
			w = " " + w
		}
		out[i] = w
	}
	return out
}
