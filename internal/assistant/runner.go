// Package assistant runs one chat turn: it records the user message, streams the
// model reply to the client, stores the transcript and hands any hidden task to
// the sub-agent.
package assistant

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/ent0n29/paserver/internal/agent"
	"github.com/ent0n29/paserver/internal/history"
	"github.com/ent0n29/paserver/internal/llm"
	"github.com/ent0n29/paserver/internal/observability"
	"github.com/ent0n29/paserver/internal/profile"
	"github.com/ent0n29/paserver/internal/protocol"
	"github.com/ent0n29/paserver/internal/stream"
	"github.com/ent0n29/paserver/internal/tts"
)

const (
	// AssistantName authors the stored reply.
	AssistantName = "you"
	// AgentName authors task result notes.
	AgentName = "Agent"
)

type Config struct {
	HistoryLimit   int
	Marker         string
	MarkerPolicy   stream.MarkerPolicy
	MinDeltas      int
	StreamEndDelay time.Duration
}

type Runner struct {
	model      llm.Client
	synth      tts.Synthesizer
	dispatcher *agent.Dispatcher
	cfg        Config
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewRunner wires a runner. synth and dispatcher may be nil: replies are then
// text only and tasks are answered with a note that nothing can run them.
func NewRunner(model llm.Client, synth tts.Synthesizer, dispatcher *agent.Dispatcher, cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Runner {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = history.DefaultViewLimit
	}
	if cfg.Marker == "" {
		cfg.Marker = stream.DefaultMarker
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		model:      model,
		synth:      synth,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger.With("component", "assistant"),
		metrics:    metrics,
	}
}

// Run executes one addChat turn for p. The returned error means the turn could
// not start or its transcript could not be stored; a model stream that breaks
// midway is logged and the partial reply kept.
func (r *Runner) Run(ctx context.Context, p *profile.Profile, out protocol.Emitter, req protocol.AddChatRequest) error {
	logger := r.logger.With("profile", p.Name)
	if err := p.AddChatEntry(ctx, req.Msg); err != nil {
		return fmt.Errorf("store user message: %w", err)
	}

	llmReq := llm.Request{
		Model:     p.Settings.Model,
		Effort:    firstNonEmpty(req.Effort, p.Settings.Effort),
		Verbosity: firstNonEmpty(req.Verbosity, p.Settings.Verbosity),
		Messages:  r.buildContext(p),
	}
	if logger.Enabled(ctx, slog.LevelDebug) {
		logger.Debug("prompt prepared", "messages", len(llmReq.Messages), "approx_tokens", llm.EstimateTokens(llmReq.Messages))
	}

	start := time.Now()
	deltas, err := r.model.Stream(ctx, llmReq)
	if err != nil {
		return fmt.Errorf("open model stream: %w", err)
	}
	deltas = llm.TimeFirstDelta(deltas, start, func(d time.Duration) {
		logger.Info("time to first delta", "model", r.model.Name(), "latency", d)
		if r.metrics != nil {
			r.metrics.ObserveFirstDelta(d)
		}
	})

	proc := stream.NewProcessor(stream.Options{
		Marker:    r.cfg.Marker,
		Policy:    r.cfg.MarkerPolicy,
		MinDeltas: r.cfg.MinDeltas,
		Voice:     r.voice(p),
		Logger:    logger,
	})
	res := r.deliver(ctx, out, proc, deltas)
	logger.Info("reply streamed",
		"deltas", res.Deltas,
		"chunks", res.Chunks,
		"voice", proc.VoiceEnabled(),
		"task", res.TaskDetected,
		"stream_error", res.Err != nil,
	)

	if res.FinalText != "" {
		reply := history.Entry{Role: history.RoleAssistant, Name: AssistantName, Content: res.FinalText}
		if err := p.AddChatEntry(ctx, reply); err != nil {
			return fmt.Errorf("store reply: %w", err)
		}
	}
	if res.TaskDetected {
		if err := r.runTask(ctx, p, res.Task); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) deliver(ctx context.Context, out protocol.Emitter, proc *stream.Processor, deltas iter.Seq2[string, error]) stream.Result {
	if err := out.Emit(ctx, protocol.EventStreamStart, nil); err != nil {
		r.logger.Warn("stream start not delivered", "error", err)
	}
	res := proc.Run(ctx, deltas, func(ctx context.Context, c stream.Chunk) error {
		if err := out.Emit(ctx, protocol.EventStreamDelta, c); err != nil {
			return err
		}
		if r.metrics != nil {
			kind := "text"
			if c.Audio != nil {
				kind = "audio"
			}
			r.metrics.StreamChunks.WithLabelValues(kind).Inc()
		}
		return nil
	})

	// Let the client finish playing the last chunk before the end marker.
	if r.cfg.StreamEndDelay > 0 {
		t := time.NewTimer(r.cfg.StreamEndDelay)
		select {
		case <-ctx.Done():
		case <-t.C:
		}
		t.Stop()
	}
	if err := out.Emit(ctx, protocol.EventStreamEnd, nil); err != nil {
		r.logger.Warn("stream end not delivered", "error", err)
	}
	return res
}

func (r *Runner) runTask(ctx context.Context, p *profile.Profile, task string) error {
	if task == "" {
		r.logger.Info("task marker without a task, nothing to dispatch", "profile", p.Name)
		return nil
	}
	var note string
	if r.dispatcher == nil {
		note = "No agent is available to perform tasks right now."
	} else {
		outcomes, err := r.dispatcher.Run(ctx, task, p.Settings.AllowedTools)
		note = agent.Summarize(outcomes, err)
	}
	entry := history.Entry{Role: history.RoleDeveloper, Name: AgentName, Content: note}
	if err := p.AddChatEntry(ctx, entry); err != nil {
		return fmt.Errorf("store task result: %w", err)
	}
	return nil
}

func (r *Runner) buildContext(p *profile.Profile) []llm.Message {
	view := p.RecentView(r.cfg.HistoryLimit)
	msgs := make([]llm.Message, 0, len(view)+1)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: p.Settings.Identity + taskGuidance(r.cfg.Marker)})
	for _, v := range view {
		msgs = append(msgs, llm.Message{Role: llm.Role(v.Role), Content: v.Content})
	}
	return msgs
}

func (r *Runner) voice(p *profile.Profile) *stream.Voice {
	if r.synth == nil || !p.Settings.TTS.Enabled {
		return nil
	}
	t := p.Settings.TTS
	return &stream.Voice{
		Synth:        r.synth,
		InputLang:    t.InputTextLang,
		RefText:      t.ReferenceText,
		RefLang:      t.ReferenceTextLang,
		RefAudioPath: t.ReferenceAudioPath,
		SpeedFactor:  t.OutputSpeedFactor,
	}
}

func taskGuidance(marker string) string {
	return strings.NewReplacer("{marker}", marker).Replace(`
An agent can perform tasks for you, including creating files. To request one, finish your reply to the user, then write the term "{marker}" followed by everything the agent needs to know, for example the file name and the exact content the file should contain. You may fill in details yourself from the context instead of asking the user. Nothing after "{marker}" is shown to the user. Everything before "{marker}" is spoken to the user, so it must not contain anything that cannot be spoken, such as emoji, code, formatting or lists. Keep your reply to the user in plain sentences. You may react to the time information attached to each message when appropriate.`)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
