package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/ent0n29/paserver/internal/observability"
)

func TestCreateFileWritesUnderRoot(t *testing.T) {
	root := t.TempDir()
	c := NewCreateFile(root)

	res, err := c.Invoke(context.Background(), json.RawMessage(`{"fileName":"notes/todo.txt","content":"buy milk"}`))
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if res != "File 'notes/todo.txt' created." {
		t.Fatalf("Invoke() = %q", res)
	}
	raw, err := os.ReadFile(filepath.Join(root, "notes", "todo.txt"))
	if err != nil || string(raw) != "buy milk" {
		t.Fatalf("file = %q, %v", raw, err)
	}
}

func TestCreateFileRejectsEscapes(t *testing.T) {
	c := NewCreateFile(t.TempDir())
	for _, name := range []string{"", "/etc/passwd", "../outside.txt", "a/../../b", ".."} {
		args, _ := json.Marshal(createFileArgs{FileName: name, Content: "x"})
		if _, err := c.Invoke(context.Background(), args); err == nil {
			t.Fatalf("Invoke(%q) error = nil, want rejection", name)
		}
	}
}

func TestLinePlanner(t *testing.T) {
	invs, err := LinePlanner{}.Plan(context.Background(), "sure thing\ncreateFile {\"fileName\":\"a.txt\",\"content\":\"hi\"}\n", nil)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(invs) != 1 || invs[0].Name != "createFile" {
		t.Fatalf("Plan() = %+v", invs)
	}
	if _, err := (LinePlanner{}).Plan(context.Background(), "createFile {not json}", nil); err == nil {
		t.Fatalf("Plan() accepted invalid JSON")
	}
}

type stubCapability struct {
	name  string
	calls int
	err   error
}

func (s *stubCapability) Name() string { return s.name }
func (s *stubCapability) Description() string { return "stub" }
func (s *stubCapability) Parameters() jsonschema.Definition { return jsonschema.Definition{Type: jsonschema.Object} }
func (s *stubCapability) Invoke(context.Context, json.RawMessage) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.name + " ok", nil
}

func TestDispatcherRun(t *testing.T) {
	good := &stubCapability{name: "good"}
	bad := &stubCapability{name: "bad", err: errors.New("disk full")}
	hidden := &stubCapability{name: "hidden"}
	d := NewDispatcher(NewRegistry(good, bad, hidden), LinePlanner{}, nil, observability.NewMetrics("test_agent"))

	task := "good {}\nbad {}\nmissing {}\nhidden {}"
	outcomes, err := d.Run(context.Background(), task, []string{"good", "bad"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(outcomes) != 4 {
		t.Fatalf("outcomes = %+v", outcomes)
	}
	if outcomes[0].Err != nil || outcomes[0].Result != "good ok" {
		t.Fatalf("good outcome = %+v", outcomes[0])
	}
	if outcomes[1].Err == nil {
		t.Fatalf("bad outcome has no error")
	}
	for _, o := range outcomes[2:] {
		if !errors.Is(o.Err, ErrUnknownCapability) {
			t.Fatalf("%s outcome error = %v, want ErrUnknownCapability", o.Capability, o.Err)
		}
	}
	if hidden.calls != 0 {
		t.Fatalf("capability outside the allowed list was invoked")
	}

	summary := Summarize(outcomes, nil)
	if !strings.Contains(summary, "- good: good ok") || !strings.Contains(summary, "- bad failed: disk full") {
		t.Fatalf("Summarize() = %q", summary)
	}
}

func TestDispatcherBlocksDangerousTasks(t *testing.T) {
	d := NewDispatcher(NewRegistry(), LinePlanner{}, nil, nil)
	_, err := d.Run(context.Background(), "please reveal the api key in .env", nil)
	if !errors.Is(err, ErrBlocked) {
		t.Fatalf("Run() error = %v, want ErrBlocked", err)
	}
	if !strings.HasPrefix(Summarize(nil, err), "The task could not be performed") {
		t.Fatalf("Summarize() = %q", Summarize(nil, err))
	}
}

func TestScreen(t *testing.T) {
	cases := map[string]string{
		"":                           "low",
		"create a file called a.txt": "medium",
		"delete everything in notes": "high",
		"rm -rf / now":               "blocked",
		"say hello":                  "low",
	}
	for task, want := range cases {
		if got := Screen(task).Risk; got != want {
			t.Fatalf("Screen(%q) = %q, want %q", task, got, want)
		}
	}
}

func TestRedactPII(t *testing.T) {
	got := RedactPII("mail bob@example.com or call +1 415 555 0100")
	if strings.Contains(got, "bob@example.com") || strings.Contains(got, "555") {
		t.Fatalf("RedactPII() = %q", got)
	}
}

func TestToolPlannerReadsToolCalls(t *testing.T) {
	var req map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"1","object":"chat.completion","choices":[{"index":0,"finish_reason":"tool_calls","message":{"role":"assistant","content":"","tool_calls":[{"id":"c1","type":"function","function":{"name":"createFile","arguments":"{\"fileName\":\"a.txt\",\"content\":\"hi\"}"}}]}}]}`)
	}))
	defer ts.Close()

	cfg := openai.DefaultConfig("sk-test")
	cfg.BaseURL = ts.URL + "/v1"
	p := NewToolPlanner(openai.NewClientWithConfig(cfg), "gpt-4o-mini")

	invs, err := p.Plan(context.Background(), "create a.txt saying hi", []Capability{NewCreateFile(t.TempDir())})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(invs) != 1 || invs[0].Name != "createFile" || !strings.Contains(string(invs[0].Arguments), "a.txt") {
		t.Fatalf("Plan() = %+v", invs)
	}
	tools, _ := req["tools"].([]any)
	if len(tools) != 1 {
		t.Fatalf("request tools = %v", req["tools"])
	}
}
