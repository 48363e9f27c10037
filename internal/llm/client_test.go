package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func collect(t *testing.T, seq iter.Seq2[string, error]) ([]string, error) {
	t.Helper()
	var out []string
	for d, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, d)
	}
	return out, nil
}

func TestOpenAIClientStreamsDeltas(t *testing.T) {
	var body map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, d := range []string{"Hello", " there", "TASK"} {
			fmt.Fprintf(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", d)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer ts.Close()

	c := NewOpenAIClient(ts.URL+"/v1", "sk-test")
	seq, err := c.Stream(context.Background(), Request{
		Model:     "gpt-4o-mini",
		Effort:    "low",
		Verbosity: "low",
		Messages:  []Message{{Role: RoleSystem, Content: "be nice"}, {Role: RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	got, err := collect(t, seq)
	if err != nil {
		t.Fatalf("stream error = %v", err)
	}
	if strings.Join(got, "|") != "Hello| there|TASK" {
		t.Fatalf("deltas = %q", got)
	}
	if body["reasoning_effort"] != "low" || body["stream"] != true {
		t.Fatalf("request body = %v", body)
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 3 {
		t.Fatalf("messages = %v, want system, user and verbosity line", msgs)
	}
}

func TestOpenAIClientReportsOpenFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	defer ts.Close()

	c := NewOpenAIClient(ts.URL+"/v1", "sk-bad")
	if _, err := c.Stream(context.Background(), Request{Model: "gpt-4o-mini"}); err == nil {
		t.Fatalf("Stream() error = nil, want failure")
	}
}

func TestGeminiRequestMapping(t *testing.T) {
	contents, cfg := geminiRequest(Request{
		Effort:    "high",
		Verbosity: "high",
		Messages: []Message{
			{Role: RoleSystem, Content: "identity"},
			{Role: RoleDeveloper, Content: "note"},
			{Role: RoleAssistant, Content: "reply"},
		},
	})
	if len(contents) != 2 || contents[0].Role != "user" || contents[1].Role != "model" {
		t.Fatalf("contents = %+v", contents)
	}
	if cfg.SystemInstruction == nil || !strings.HasPrefix(cfg.SystemInstruction.Parts[0].Text, "identity") {
		t.Fatalf("system instruction = %+v", cfg.SystemInstruction)
	}
	if cfg.ThinkingConfig == nil || *cfg.ThinkingConfig.ThinkingBudget != 16384 {
		t.Fatalf("thinking config = %+v", cfg.ThinkingConfig)
	}
}

func TestMockClientEchoesLastUserMessage(t *testing.T) {
	c := NewMockClient()
	seq, err := c.Stream(context.Background(), Request{Messages: []Message{
		{Role: RoleUser, Content: "> Sent at now\nfirst"},
		{Role: RoleAssistant, Content: "ok"},
		{Role: RoleUser, Content: "> Sent at now\nsecond one"},
	}})
	if err != nil {
		t.Fatal(err)
	}
	got, _ := collect(t, seq)
	if strings.Join(got, "") != "I heard you: second one" {
		t.Fatalf("reply = %q", strings.Join(got, ""))
	}
	if len(c.Requests()) != 1 {
		t.Fatalf("Requests() = %d, want 1", len(c.Requests()))
	}
}

func TestNewSelectsProvider(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name    string
		cfg     Config
		want    string
		wantErr bool
	}{
		{name: "auto without keys", cfg: Config{}, want: "mock"},
		{name: "auto with openai key", cfg: Config{OpenAIAPIKey: "sk"}, want: "openai"},
		{name: "explicit mock", cfg: Config{Provider: "MOCK"}, want: "mock"},
		{name: "openai without key", cfg: Config{Provider: "openai"}, wantErr: true},
		{name: "gemini without key", cfg: Config{Provider: "gemini"}, wantErr: true},
		{name: "unknown", cfg: Config{Provider: "bard"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := New(ctx, tc.cfg)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("New() error = nil, want failure")
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if c.Name() != tc.want {
				t.Fatalf("Name() = %q, want %q", c.Name(), tc.want)
			}
		})
	}
}

func TestFallbackClient(t *testing.T) {
	primary := NewMockClient("primary")
	primary.FailWith(errors.New("connection refused"))
	fallback := NewMockClient("fallback")
	c := NewFallbackClient(primary, fallback, nil)

	seq, err := c.Stream(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	got, _ := collect(t, seq)
	if len(got) != 1 || got[0] != "fallback" {
		t.Fatalf("deltas = %q, want fallback", got)
	}

	primary.FailWith(context.Canceled)
	if _, err := c.Stream(context.Background(), Request{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Stream() error = %v, want context.Canceled", err)
	}
	if len(fallback.Requests()) != 1 {
		t.Fatalf("fallback used %d times, want 1", len(fallback.Requests()))
	}
}

func TestTimeFirstDelta(t *testing.T) {
	calls := 0
	seq := TimeFirstDelta(NewMockClient("", "a", "b").mustStream(t), time.Now(), func(time.Duration) { calls++ })
	got, _ := collect(t, seq)
	if len(got) != 3 || calls != 1 {
		t.Fatalf("deltas = %q, observe calls = %d", got, calls)
	}
}

func (c *MockClient) mustStream(t *testing.T) iter.Seq2[string, error] {
	t.Helper()
	seq, err := c.Stream(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	return seq
}
