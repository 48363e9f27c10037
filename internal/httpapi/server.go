package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/paserver/internal/config"
	"github.com/ent0n29/paserver/internal/logging"
	"github.com/ent0n29/paserver/internal/observability"
	"github.com/ent0n29/paserver/internal/profile"
	"github.com/ent0n29/paserver/internal/protocol"
	"github.com/ent0n29/paserver/internal/session"
)

// Sessions is the conversation state machine behind the socket.
type Sessions interface {
	Connected(ctx context.Context, conn session.Conn)
	Dispatch(ctx context.Context, conn session.Conn, raw []byte) error
	Disconnect(ctx context.Context, connID string)
	Status() session.Status
}

type Server struct {
	cfg      config.Config
	sessions Sessions
	profiles *profile.Registry
	metrics  *observability.Metrics
	logger   *slog.Logger
	upgrader websocket.Upgrader
	limiter  *connectLimiter
}

func New(cfg config.Config, sessions Sessions, profiles *profile.Registry, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NewMetrics(cfg.MetricsNamespace)
	}
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		profiles: profiles,
		metrics:  metrics,
		logger:   logger.With("component", "httpapi"),
		limiter:  newConnectLimiter(cfg.WSConnectRate, cfg.WSConnectBurst),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logging.Middleware(s.logger))

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"data": "Hello World"})
	})
	r.Post("/", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"data": "post test"})
	})
	r.Get("/healthz", s.handleHealth)
	r.Get("/profiles", s.handleProfiles)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Handler().ServeHTTP(w, r)
	})
	r.Get("/socket", s.handleSocket)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"profiles": s.profiles.Len(),
		"session":  s.sessions.Status(),
	})
}

func (s *Server) handleProfiles(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.profiles.Names())
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.allow(remoteHost(r)) {
		respondError(w, http.StatusTooManyRequests, "rate_limited", "too many connection attempts")
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	conn := newWSConn(ws, s.metrics, s.logger)
	go conn.writeLoop()
	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	s.sessions.Connected(ctx, conn)

	ws.SetReadLimit(maxFrameBytes)
	_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("websocket read ended", "conn", conn.ID(), "error", err)
			}
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		// Frames are admitted in read order. Chat turns continue in the
		// background, so the reader is never held up by a running turn.
		s.dispatch(ctx, conn, data)
	}

	conn.Close()
	s.sessions.Disconnect(ctx, conn.ID())
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

func (s *Server) dispatch(ctx context.Context, conn *wsConn, data []byte) {
	// A panic here would otherwise take down the reader loop with it.
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("panic while handling client frame", "conn", conn.ID(), "panic", rec, "stack", string(debug.Stack()))
			s.metrics.WSMessages.WithLabelValues("inbound", "panic").Inc()
		}
	}()
	err := s.sessions.Dispatch(ctx, conn, data)
	event := "unknown"
	var env protocol.Envelope
	if json.Unmarshal(data, &env) == nil && env.Event != "" {
		event = string(env.Event)
	}
	switch {
	case err == nil:
	case errors.Is(err, protocol.ErrUnsupportedEvent):
		event = "unsupported"
		s.logger.Warn("ignoring client frame", "conn", conn.ID(), "error", err)
	case errors.Is(err, session.ErrNotBound):
		s.logger.Info("ignoring frame from unbound connection", "conn", conn.ID(), "error", err)
	default:
		s.logger.Warn("client frame rejected", "conn", conn.ID(), "error", err)
	}
	s.metrics.WSMessages.WithLabelValues("inbound", event).Inc()
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
