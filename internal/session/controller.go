// Package session owns the server-side conversation state: the single bound
// client, the active profile and the gate that keeps one task in flight.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ent0n29/paserver/internal/observability"
	"github.com/ent0n29/paserver/internal/profile"
	"github.com/ent0n29/paserver/internal/protocol"
)

var ErrNotBound = errors.New("connection is not the bound client")

// Client-facing failure reasons.
const (
	reasonBusy            = "Processing other task"
	reasonUnknownData     = "Unknown data"
	reasonProfileNotFound = "Profile not found"
	reasonNoActiveProfile = "No active profile"
	reasonNoVRM           = "Profile has no vrm"
)

// Conn is one client connection.
type Conn interface {
	protocol.Emitter
	ID() string
	Close() error
}

// Assistant runs one chat turn against the active profile.
type Assistant interface {
	Run(ctx context.Context, p *profile.Profile, out protocol.Emitter, req protocol.AddChatRequest) error
}

type Client struct {
	Platform protocol.Platform
	Conn     Conn
	BoundAt  time.Time
}

// Status is a point-in-time view of the controller.
type Status struct {
	Bound         bool              `json:"bound"`
	ClientID      string            `json:"client_id,omitempty"`
	Platform      protocol.Platform `json:"platform,omitempty"`
	ActiveProfile string            `json:"active_profile,omitempty"`
	Busy          bool              `json:"busy"`
}

type Controller struct {
	profiles  *profile.Registry
	assistant Assistant
	gate      Gate
	logger    *slog.Logger
	metrics   *observability.Metrics

	mu     sync.Mutex
	client *Client
	active *profile.Profile

	// turns tracks chat turns running past their Dispatch call.
	turns sync.WaitGroup
}

func NewController(profiles *profile.Registry, assistant Assistant, logger *slog.Logger, metrics *observability.Metrics) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		profiles:  profiles,
		assistant: assistant,
		logger:    logger.With("component", "session"),
		metrics:   metrics,
	}
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{Busy: c.gate.Busy()}
	if c.client != nil {
		st.Bound = true
		st.ClientID = c.client.Conn.ID()
		st.Platform = c.client.Platform
	}
	if c.active != nil {
		st.ActiveProfile = c.active.Name
	}
	return st
}

// Connected greets a new connection.
func (c *Controller) Connected(ctx context.Context, conn Conn) {
	c.logger.Info("client connected", "conn", conn.ID())
	c.emit(ctx, conn, protocol.EventMessage, protocol.Hello())
}

// Dispatch decodes one client frame and routes it. Frames from a connection
// other than the bound client are dropped with ErrNotBound, except init.
//
// Callers dispatch a connection's frames one at a time in read order. Every
// event is admitted before Dispatch returns; a chat turn then keeps the gate
// and runs on its own goroutine, so the next frame is never held up by it.
func (c *Controller) Dispatch(ctx context.Context, conn Conn, raw []byte) error {
	ev, perr := protocol.ParseClientEvent(raw)
	if perr != nil && !errors.Is(perr, protocol.ErrInvalidData) {
		return perr
	}
	if ev.Event != protocol.EventInit && !c.isBound(conn) {
		return fmt.Errorf("%w: %s", ErrNotBound, ev.Event)
	}
	if c.metrics != nil {
		c.metrics.SessionEvents.WithLabelValues(string(ev.Event)).Inc()
	}

	switch ev.Event {
	case protocol.EventInit:
		if perr != nil {
			c.fail(ctx, conn, reasonUnknownData)
			return perr
		}
		c.Init(ctx, conn, ev.Payload.(protocol.InitRequest))
	case protocol.EventLoadProfile:
		c.gated(ctx, conn, ev.Event, perr, func(ctx context.Context) error {
			return c.loadProfile(ctx, conn, ev.Payload.(protocol.LoadProfileRequest).Profile)
		})
	case protocol.EventAddChat:
		c.startChat(ctx, conn, perr, ev.Payload.(protocol.AddChatRequest))
	case protocol.EventAddHistory:
		c.gated(ctx, conn, ev.Event, perr, func(ctx context.Context) error {
			return c.addHistory(ctx, conn, ev.Payload.(protocol.AddHistoryRequest))
		})
	case protocol.EventUnload:
		c.gated(ctx, conn, ev.Event, nil, func(ctx context.Context) error {
			return c.unload(ctx, conn)
		})
	case protocol.EventListProfiles:
		c.ListProfiles(ctx, conn)
	case protocol.EventGetVRM:
		if perr != nil {
			c.fail(ctx, conn, reasonUnknownData)
			return perr
		}
		c.GetVRM(ctx, conn, ev.Payload.(protocol.GetVRMRequest).Profile)
	}
	return perr
}

// Init binds conn as the client. When another client is bound, conn is asked
// to confirm first; a confirmed init replaces the old client. The new client
// is bound in the same critical section that observed the old one, so no other
// init can slip in between.
func (c *Controller) Init(ctx context.Context, conn Conn, req protocol.InitRequest) {
	c.mu.Lock()
	old := c.client
	replacing := old != nil && old.Conn.ID() != conn.ID()
	if replacing && !req.Confirm {
		c.mu.Unlock()
		c.emit(ctx, conn, protocol.EventReplaceClientConfirm, nil)
		return
	}
	if replacing && !c.gate.TryStart() {
		c.mu.Unlock()
		c.fail(ctx, conn, reasonBusy)
		c.observe(protocol.EventInit, "busy")
		return
	}
	// Once rebound, the old connection's disconnect is a no-op.
	c.client = &Client{Platform: req.Platform, Conn: conn, BoundAt: time.Now().UTC()}
	active := c.active
	c.mu.Unlock()

	if !replacing {
		c.bound(ctx, conn, req.Platform, active, false)
		return
	}
	defer c.gate.Finish()
	ctx = context.WithoutCancel(ctx)

	c.logger.Info("replacing client", "old", old.Conn.ID(), "new", conn.ID())
	c.emit(ctx, old.Conn, protocol.EventConnectionReplaced, nil)
	if err := old.Conn.Close(); err != nil {
		c.logger.Debug("close replaced connection", "conn", old.Conn.ID(), "error", err)
	}

	if old.Platform != req.Platform && active != nil && active.Settings.PlatformAware {
		c.logger.Info("informing profile of platform change", "profile", active.Name, "platform", req.Platform)
		if err := active.AddSystemNote(ctx, fmt.Sprintf("The user has changed the platform to %s", req.Platform)); err != nil {
			c.logger.Error("store platform change note", "profile", active.Name, "error", err)
		}
	}

	c.bound(ctx, conn, req.Platform, active, true)
	c.observe(protocol.EventInit, "ok")
}

func (c *Controller) bound(ctx context.Context, conn Conn, platform protocol.Platform, active *profile.Profile, replaced bool) {
	c.logger.Info("client established", "conn", conn.ID(), "platform", platform, "replace", replaced)
	if c.metrics != nil {
		c.metrics.ActiveClients.Set(1)
	}
	var data any
	if active != nil {
		data = protocol.InitResult{ContinueChat: active.Name}
	}
	c.emit(ctx, conn, protocol.EventSuccess, data)
}

// gated runs fn while holding the gate. perr is the payload validation error,
// reported only once the gate is held. An admitted task runs to completion
// even if the connection goes away, so ctx is detached from cancellation.
func (c *Controller) gated(ctx context.Context, conn Conn, event protocol.Event, perr error, fn func(ctx context.Context) error) {
	if !c.gate.TryStart() {
		c.fail(ctx, conn, reasonBusy)
		c.observe(event, "busy")
		return
	}
	defer c.gate.Finish()
	ctx = context.WithoutCancel(ctx)
	c.logger.Debug("task start", "event", event)

	if perr != nil {
		c.fail(ctx, conn, reasonUnknownData)
		c.observe(event, "invalid")
		return
	}
	if err := fn(ctx); err != nil {
		c.observe(event, "error")
		return
	}
	c.observe(event, "ok")
}

func (c *Controller) loadProfile(ctx context.Context, conn Conn, name string) error {
	target, err := c.profiles.Get(name)
	if err != nil {
		c.fail(ctx, conn, reasonProfileNotFound)
		return err
	}

	c.mu.Lock()
	prev := c.active
	c.active = target
	c.mu.Unlock()

	continueChat := prev == target
	if prev != nil && !continueChat {
		if err := prev.Disconnect(ctx); err != nil {
			c.logger.Error("deactivate profile", "profile", prev.Name, "error", err)
		}
	}
	c.logger.Info("activating profile", "profile", target.Name, "continue_chat", continueChat)
	if err := target.Connect(ctx, continueChat); err != nil {
		c.logger.Error("activate profile", "profile", target.Name, "error", err)
		c.fail(ctx, conn, err.Error())
		return err
	}
	c.emit(ctx, conn, protocol.EventSuccess, nil)
	return nil
}

// startChat admits an addChat event and starts its turn. The gate stays held
// until the turn finishes on its own goroutine.
func (c *Controller) startChat(ctx context.Context, conn Conn, perr error, req protocol.AddChatRequest) {
	event := protocol.EventAddChat
	if !c.gate.TryStart() {
		c.fail(ctx, conn, reasonBusy)
		c.observe(event, "busy")
		return
	}
	if perr != nil {
		c.gate.Finish()
		c.fail(ctx, conn, reasonUnknownData)
		c.observe(event, "invalid")
		return
	}
	active := c.activeProfile()
	if active == nil {
		c.gate.Finish()
		c.fail(ctx, conn, reasonNoActiveProfile)
		c.observe(event, "error")
		return
	}

	c.turns.Add(1)
	go func() {
		defer c.turns.Done()
		defer c.gate.Finish()
		// The turn outlives the connection so the transcript is complete even
		// when the client leaves midway.
		ctx := context.WithoutCancel(ctx)
		defer func() {
			if rec := recover(); rec != nil {
				c.logger.Error("chat turn panicked", "profile", active.Name, "panic", rec, "stack", string(debug.Stack()))
				c.fail(ctx, conn, "internal error")
				c.observe(event, "panic")
			}
		}()

		c.logger.Info("addChat requested", "profile", active.Name)
		if err := c.assistant.Run(ctx, active, conn, req); err != nil {
			c.logger.Error("chat turn failed", "profile", active.Name, "error", err)
			c.fail(ctx, conn, err.Error())
			c.observe(event, "error")
			return
		}
		c.emit(ctx, conn, protocol.EventSuccess, nil)
		c.observe(event, "ok")
	}()
}

// Wait blocks until every started chat turn has finished.
func (c *Controller) Wait() { c.turns.Wait() }

func (c *Controller) addHistory(ctx context.Context, conn Conn, req protocol.AddHistoryRequest) error {
	active := c.activeProfile()
	if active == nil {
		c.fail(ctx, conn, reasonNoActiveProfile)
		return errors.New(reasonNoActiveProfile)
	}
	if err := active.AddChatEntry(ctx, req.Msg); err != nil {
		c.logger.Error("store history entry", "profile", active.Name, "error", err)
		c.fail(ctx, conn, err.Error())
		return err
	}
	c.emit(ctx, conn, protocol.EventSuccess, nil)
	return nil
}

func (c *Controller) unload(ctx context.Context, conn Conn) error {
	c.mu.Lock()
	active := c.active
	c.active = nil
	c.mu.Unlock()
	if active == nil {
		c.fail(ctx, conn, reasonNoActiveProfile)
		return errors.New(reasonNoActiveProfile)
	}
	c.logger.Info("unloading profile", "profile", active.Name, "reason", "exited chat")
	if err := active.Disconnect(ctx); err != nil {
		c.logger.Error("deactivate profile", "profile", active.Name, "error", err)
	}
	c.emit(ctx, conn, protocol.EventSuccess, nil)
	return nil
}

func (c *Controller) ListProfiles(ctx context.Context, conn Conn) {
	c.emit(ctx, conn, protocol.EventProfilesData, c.profiles.Summaries())
}

func (c *Controller) GetVRM(ctx context.Context, conn Conn, name string) {
	p, err := c.profiles.Get(name)
	if err != nil {
		c.fail(ctx, conn, reasonProfileNotFound)
		return
	}
	raw, err := p.VRM()
	if errors.Is(err, profile.ErrNoAvatar) {
		c.fail(ctx, conn, reasonNoVRM)
		return
	}
	if err != nil {
		c.logger.Error("read vrm", "profile", name, "error", err)
		c.fail(ctx, conn, err.Error())
		return
	}
	c.logger.Info("returning profile vrm", "profile", name, "bytes", len(raw))
	c.emit(ctx, conn, protocol.EventProfileVRM, raw)
}

// Disconnect handles a closed connection. Only the bound client's disconnect
// has an effect: the client is unbound and the active profile deactivated.
func (c *Controller) Disconnect(ctx context.Context, connID string) {
	c.mu.Lock()
	if c.client == nil || c.client.Conn.ID() != connID {
		c.mu.Unlock()
		c.logger.Debug("temporary client disconnected", "conn", connID)
		return
	}
	c.client = nil
	active := c.active
	c.active = nil
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.ActiveClients.Set(0)
	}
	c.logger.Info("client disconnected", "conn", connID)
	if active != nil {
		c.logger.Info("unloading profile", "profile", active.Name, "reason", "no client")
		if err := active.Disconnect(ctx); err != nil {
			c.logger.Error("deactivate profile", "profile", active.Name, "error", err)
		}
	}
}

func (c *Controller) isBound(conn Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil && c.client.Conn.ID() == conn.ID()
}

func (c *Controller) activeProfile() *profile.Profile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Controller) emit(ctx context.Context, conn Conn, event protocol.Event, data any) {
	if err := conn.Emit(ctx, event, data); err != nil {
		c.logger.Warn("emit failed", "conn", conn.ID(), "event", event, "error", err)
	}
}

func (c *Controller) fail(ctx context.Context, conn Conn, reason string) {
	c.emit(ctx, conn, protocol.EventErr, "Error: "+reason)
}

func (c *Controller) observe(event protocol.Event, result string) {
	if c.metrics != nil {
		c.metrics.TaskOutcomes.WithLabelValues(string(event), result).Inc()
	}
}
