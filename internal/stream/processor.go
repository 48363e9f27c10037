// Package stream turns a model's delta stream into client-facing chunks: it hides
// everything after the task marker, groups spoken text into sentence-sized spans and
// attaches synthesized audio to each span.
package stream

import (
	"context"
	"iter"
	"log/slog"
	"strings"

	"github.com/ent0n29/paserver/internal/tts"
)

// Chunk is one unit delivered to the client.
type Chunk struct {
	Text  string `json:"text"`
	Audio []byte `json:"audio"`
}

// Sink receives chunks in generation order. Run waits for each call to return
// before pulling the next delta.
type Sink func(ctx context.Context, c Chunk) error

// Voice holds the synthesis settings of the active profile.
type Voice struct {
	Synth        tts.Synthesizer
	InputLang    string
	RefText      string
	RefLang      string
	RefAudioPath string
	SpeedFactor  float64
}

type Options struct {
	Marker    string
	Policy    MarkerPolicy
	MinDeltas int
	// Voice enables synthesis; nil streams text only.
	Voice  *Voice
	Logger *slog.Logger
}

// Result describes a finished run. FinalText is every delta concatenated, whatever
// was shown to the user, and is the transcript to persist.
type Result struct {
	FinalText    string
	Task         string
	TaskDetected bool
	Deltas       int
	Chunks       int
	Err          error
	SinkErr      error
}

type Processor struct {
	marker    string
	policy    MarkerPolicy
	minDeltas int
	voice     *Voice
	logger    *slog.Logger
}

func NewProcessor(opts Options) *Processor {
	if opts.Marker == "" {
		opts.Marker = DefaultMarker
	}
	if opts.Policy == "" {
		opts.Policy = MarkerExact
	}
	if opts.MinDeltas <= 0 {
		opts.MinDeltas = DefaultMinDeltas
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Voice != nil && opts.Voice.Synth == nil {
		opts.Voice = nil
	}
	return &Processor{
		marker:    opts.Marker,
		policy:    opts.Policy,
		minDeltas: opts.MinDeltas,
		voice:     opts.Voice,
		logger:    opts.Logger,
	}
}

// VoiceEnabled reports whether chunks are synthesized.
func (p *Processor) VoiceEnabled() bool { return p.voice != nil }

// Run consumes deltas until the sequence ends or yields an error. Upstream errors
// are logged and truncate the stream; they are reported in Result.Err, never
// returned, so the partial transcript can still be stored.
func (p *Processor) Run(ctx context.Context, deltas iter.Seq2[string, error], sink Sink) Result {
	var (
		res      Result
		final    strings.Builder
		task     strings.Builder
		detected bool
		buf      = NewChunkBuffer(p.minDeltas)
		split    = newSplitter(p.policy, p.marker)
	)

	emit := func(c Chunk) {
		if res.SinkErr != nil {
			return
		}
		if err := sink(ctx, c); err != nil {
			res.SinkErr = err
			p.logger.Warn("stream sink failed, continuing without delivery", "error", err)
			return
		}
		res.Chunks++
	}

	speak := func(text string, deltaCount int) {
		c := Chunk{Text: text}
		if tts.Normalize(text) != "" {
			if audio, ok := p.voice.Synth.Synthesize(ctx, p.voice.request(text, deltaCount)); ok {
				c.Audio = audio
			}
		}
		emit(c)
	}

	forward := func(text string) {
		if p.voice == nil {
			emit(Chunk{Text: text})
			return
		}
		count := buf.Count()
		if ready, ok := buf.Feed(text); ok {
			speak(ready, count)
		}
	}

	// flushSpoken voices what is left in the buffer; whitespace-only leftovers are dropped.
	flushSpoken := func() {
		if p.voice == nil {
			return
		}
		count := buf.Count()
		rest, ok := buf.Flush()
		if !ok || tts.Normalize(rest) == "" {
			return
		}
		speak(rest, count)
	}

	for delta, err := range deltas {
		if err != nil {
			p.logger.Error("model stream failed", "error", err)
			res.Err = err
			break
		}
		res.Deltas++
		final.WriteString(delta)

		if detected {
			task.WriteString(delta)
			continue
		}

		public, ok, hidden, found := split.split(delta)
		if ok {
			forward(public)
		}
		if found {
			detected = true
			task.WriteString(hidden)
			p.logger.Info("task marker detected")
			// Text produced in the same burst as the marker is still voiced once.
			flushSpoken()
		}
	}

	if !detected {
		if held := split.drain(); held != "" {
			forward(held)
		}
	}
	// Text received before an upstream failure was already shown, so it is
	// voiced as well.
	flushSpoken()

	res.FinalText = final.String()
	res.Task = strings.TrimSpace(task.String())
	res.TaskDetected = detected
	return res
}

func (v *Voice) request(text string, deltaCount int) tts.Request {
	return tts.Request{
		Text:         text,
		InputLang:    v.InputLang,
		RefText:      v.RefText,
		RefLang:      v.RefLang,
		RefAudioPath: v.RefAudioPath,
		SpeedFactor:  v.SpeedFactor,
		ApproxTokens: deltaCount,
	}
}
