package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Invocation is one planned capability call.
type Invocation struct {
	Name      string
	Arguments json.RawMessage
}

// Planner turns task text into invocations of the given capabilities.
type Planner interface {
	Plan(ctx context.Context, task string, caps []Capability) ([]Invocation, error)
}

const plannerPrompt = "You carry out tasks for a personal assistant by calling the provided tools. " +
	"Use only the information in the task. Call every tool the task needs; if no tool fits, call none."

// ToolPlanner asks an OpenAI-compatible model to pick tools for the task.
type ToolPlanner struct {
	client *openai.Client
	model  string
}

func NewToolPlanner(client *openai.Client, model string) *ToolPlanner {
	return &ToolPlanner{client: client, model: model}
}

func (p *ToolPlanner) Plan(ctx context.Context, task string, caps []Capability) ([]Invocation, error) {
	if len(caps) == 0 {
		return nil, nil
	}
	tools := make([]openai.Tool, 0, len(caps))
	for _, c := range caps {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        c.Name(),
				Description: c.Description(),
				Parameters:  c.Parameters(),
			},
		})
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: plannerPrompt},
			{Role: openai.ChatMessageRoleUser, Content: task},
		},
		Tools:             tools,
		ParallelToolCalls: true,
	})
	if err != nil {
		return nil, fmt.Errorf("plan task: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, nil
	}

	calls := resp.Choices[0].Message.ToolCalls
	out := make([]Invocation, 0, len(calls))
	for _, tc := range calls {
		args := strings.TrimSpace(tc.Function.Arguments)
		if args == "" {
			args = "{}"
		}
		out = append(out, Invocation{Name: tc.Function.Name, Arguments: json.RawMessage(args)})
	}
	return out, nil
}

var invocationLine = regexp.MustCompile(`^([A-Za-z_][\w-]*)\s*(\{.*\})\s*$`)

// LinePlanner reads invocations written one per line as `name {json}`. Lines in
// any other shape are ignored.
type LinePlanner struct{}

func (LinePlanner) Plan(_ context.Context, task string, _ []Capability) ([]Invocation, error) {
	var out []Invocation
	for _, line := range strings.Split(task, "\n") {
		m := invocationLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		if !json.Valid([]byte(m[2])) {
			return nil, fmt.Errorf("invalid arguments for %s", m[1])
		}
		out = append(out, Invocation{Name: m[1], Arguments: json.RawMessage(m[2])})
	}
	return out, nil
}
