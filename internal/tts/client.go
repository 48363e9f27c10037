package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/paserver/internal/audio"
	"github.com/ent0n29/paserver/internal/observability"
)

const (
	DefaultURL            = "http://127.0.0.1:9880/tts"
	DefaultConnectTimeout = 10 * time.Second
	DefaultReadTimeout    = 120 * time.Second
	DefaultWriteTimeout   = 30 * time.Second
)

// Request carries one chunk of text plus the voice reference it should be spoken with.
type Request struct {
	Text         string
	InputLang    string
	RefText      string
	RefLang      string
	RefAudioPath string
	SpeedFactor  float64
	// ApproxTokens is the number of deltas that made up Text; only used for logging.
	ApproxTokens int
}

// Synthesizer turns text into audio. A false return means no audio is available;
// it is never an error the caller has to handle.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) ([]byte, bool)
}

type Config struct {
	URL            string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// Client talks to a GPT-SoVITS style /tts endpoint.
type Client struct {
	url     string
	http    *http.Client
	logger  *slog.Logger
	metrics *observability.Metrics
}

func NewClient(cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Client {
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = DefaultURL
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			return &deadlineConn{Conn: conn, read: cfg.ReadTimeout, write: cfg.WriteTimeout}, nil
		},
		MaxIdleConns:    4,
		IdleConnTimeout: 90 * time.Second,
	}

	return &Client{
		url:     cfg.URL,
		http:    &http.Client{Transport: transport},
		logger:  logger.With("component", "tts"),
		metrics: metrics,
	}
}

type synthesisPayload struct {
	Text             string   `json:"text"`
	TextLang         string   `json:"text_lang"`
	RefAudioPath     string   `json:"ref_audio_path"`
	AuxRefAudioPaths []string `json:"aux_ref_audio_paths"`
	PromptText       string   `json:"prompt_text"`
	PromptLang       string   `json:"prompt_lang"`
	TopK             int      `json:"top_k"`
	TopP             float64  `json:"top_p"`
	Temperature      float64  `json:"temperature"`
	TextSplitMethod  string   `json:"text_split_method"`
	SpeedFactor      float64  `json:"speed_factor"`
	StreamingMode    bool     `json:"streaming_mode"`
	ParallelInfer    bool     `json:"parallel_infer"`
}

func (c *Client) Synthesize(ctx context.Context, req Request) ([]byte, bool) {
	text := Normalize(req.Text)
	if text == "" {
		return nil, false
	}
	speed := req.SpeedFactor
	if speed <= 0 {
		speed = 1.0
	}

	body, err := json.Marshal(synthesisPayload{
		Text:             text,
		TextLang:         req.InputLang,
		RefAudioPath:     req.RefAudioPath,
		AuxRefAudioPaths: []string{},
		PromptText:       req.RefText,
		PromptLang:       req.RefLang,
		TopK:             15,
		TopP:             1,
		Temperature:      1,
		TextSplitMethod:  "cut4",
		SpeedFactor:      speed,
		StreamingMode:    false,
		ParallelInfer:    true,
	})
	if err != nil {
		c.logger.Error("tts payload encode failed", "error", err)
		c.observe("encode_error", 0)
		return nil, false
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		c.logger.Error("tts request build failed", "error", err)
		c.observe("request_error", 0)
		return nil, false
	}
	httpReq.Header.Set("Content-Type", "application/json")

	c.logger.Info("fetching tts audio", "tokens", req.ApproxTokens)
	start := time.Now()
	res, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.Error("tts request failed", "error", err)
		c.observe("transport_error", time.Since(start))
		return nil, false
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		c.logger.Error("tts fetch failed", "status", res.StatusCode, "body", string(detail))
		c.observe("status_error", time.Since(start))
		return nil, false
	}

	clip, err := io.ReadAll(res.Body)
	if err != nil {
		c.logger.Error("tts read failed", "error", err)
		c.observe("read_error", time.Since(start))
		return nil, false
	}
	c.observe("ok", time.Since(start))
	if info, err := audio.Parse(clip); err == nil {
		c.logger.Debug("tts audio received", "bytes", len(clip), "duration", info.Duration())
	} else {
		c.logger.Warn("tts response is not a wav clip", "bytes", len(clip), "error", err)
	}
	return clip, true
}

func (c *Client) observe(result string, d time.Duration) {
	if c.metrics == nil {
		return
	}
	c.metrics.ObserveTTS(result, d)
}

// deadlineConn refreshes the read/write deadline before every operation, which gives
// per-operation timeouts that http.Client does not expose on its own.
type deadlineConn struct {
	net.Conn
	read  time.Duration
	write time.Duration
}

func (c *deadlineConn) Read(p []byte) (int, error) {
	if c.read > 0 {
		_ = c.Conn.SetReadDeadline(time.Now().Add(c.read))
	}
	return c.Conn.Read(p)
}

func (c *deadlineConn) Write(p []byte) (int, error) {
	if c.write > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.write))
	}
	return c.Conn.Write(p)
}
