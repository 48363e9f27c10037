package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/paserver/internal/history"
)

// Event names a websocket message in either direction.
type Event string

// Client to server.
const (
	EventInit         Event = "init"
	EventLoadProfile  Event = "loadProfile"
	EventAddChat      Event = "addChat"
	EventAddHistory   Event = "addHistory"
	EventUnload       Event = "unload"
	EventListProfiles Event = "listProfiles"
	EventGetVRM       Event = "getVRM"
)

// Server to client.
const (
	EventMessage              Event = "message"
	EventSuccess              Event = "success"
	EventErr                  Event = "err"
	EventReplaceClientConfirm Event = "replaceClientConfirm"
	EventConnectionReplaced   Event = "connectionReplaced"
	EventProfilesData         Event = "profilesData"
	EventProfileVRM           Event = "profileVRM"
	EventStreamStart          Event = "streamStart"
	EventStreamDelta          Event = "streamDelta"
	EventStreamEnd            Event = "streamEnd"
)

var (
	ErrUnsupportedEvent = errors.New("unsupported event")
	ErrInvalidData      = errors.New("invalid event data")
)

// Envelope is the frame format in both directions.
type Envelope struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Outbound is an envelope whose data is still to be encoded.
type Outbound struct {
	Event Event `json:"event"`
	Data  any   `json:"data"`
}

type Platform string

const (
	PlatformPC       Platform = "PC"
	PlatformTerminal Platform = "terminal"
	PlatformPhone    Platform = "phone"
)

type InitRequest struct {
	Platform Platform `json:"platform"`
	Confirm  bool     `json:"confirm"`
}

type LoadProfileRequest struct {
	Profile string `json:"profile"`
}

type AddChatRequest struct {
	Msg       history.Entry `json:"msg"`
	Effort    string        `json:"effort,omitempty"`
	Verbosity string        `json:"verbosity,omitempty"`
}

type AddHistoryRequest struct {
	Msg history.Entry `json:"msg"`
}

type GetVRMRequest struct {
	Profile string `json:"profile"`
}

// TextResponse is the hello sent on connect.
type TextResponse struct {
	Type string `json:"type"`
	Msg  string `json:"msg"`
}

func Hello() TextResponse { return TextResponse{Type: "textRes", Msg: "OK"} }

// InitResult tells a newly bound client which profile is still active.
type InitResult struct {
	ContinueChat string `json:"continueChat"`
}

// ClientEvent is a decoded client frame. Payload is nil for events without data.
type ClientEvent struct {
	Event   Event
	Payload any
}

// ParseClientEvent decodes and validates a client frame. For a known event with
// bad data the event is still returned alongside an ErrInvalidData error.
func ParseClientEvent(raw []byte) (ClientEvent, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ClientEvent{}, fmt.Errorf("invalid envelope: %w", err)
	}
	ev := ClientEvent{Event: env.Event}

	var err error
	switch env.Event {
	case EventInit:
		var msg InitRequest
		if err = decode(env.Data, &msg); err == nil {
			err = validatePlatform(msg.Platform)
		}
		ev.Payload = msg
	case EventLoadProfile:
		var msg LoadProfileRequest
		if err = decode(env.Data, &msg); err == nil && strings.TrimSpace(msg.Profile) == "" {
			err = errors.New("profile is required")
		}
		ev.Payload = msg
	case EventAddChat:
		var msg AddChatRequest
		if err = decode(env.Data, &msg); err == nil {
			err = validateChat(msg)
		}
		ev.Payload = msg
	case EventAddHistory:
		var msg AddHistoryRequest
		if err = decode(env.Data, &msg); err == nil {
			err = validateEntry(msg.Msg)
		}
		ev.Payload = msg
	case EventGetVRM:
		var msg GetVRMRequest
		err = decodeProfileName(env.Data, &msg)
		ev.Payload = msg
	case EventUnload, EventListProfiles:
	default:
		return ClientEvent{}, fmt.Errorf("%w: %q", ErrUnsupportedEvent, env.Event)
	}
	if err != nil {
		return ev, fmt.Errorf("%w: %s: %v", ErrInvalidData, env.Event, err)
	}
	return ev, nil
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return errors.New("data is required")
	}
	return json.Unmarshal(data, v)
}

// decodeProfileName accepts either a bare string or {"profile": name}.
func decodeProfileName(data json.RawMessage, msg *GetVRMRequest) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		msg.Profile = name
	} else if err := decode(data, msg); err != nil {
		return err
	}
	if strings.TrimSpace(msg.Profile) == "" {
		return errors.New("profile is required")
	}
	return nil
}

func validatePlatform(p Platform) error {
	switch p {
	case PlatformPC, PlatformTerminal, PlatformPhone:
		return nil
	default:
		return fmt.Errorf("invalid platform %q", p)
	}
}

func validateEntry(e history.Entry) error {
	if strings.TrimSpace(e.Name) == "" {
		return errors.New("msg.name is required")
	}
	return e.Validate()
}

func validateChat(msg AddChatRequest) error {
	if err := validateEntry(msg.Msg); err != nil {
		return err
	}
	if strings.TrimSpace(msg.Msg.Content) == "" {
		return errors.New("msg.content is required")
	}
	switch msg.Effort {
	case "", "minimal", "low", "medium", "high":
	default:
		return fmt.Errorf("invalid effort %q", msg.Effort)
	}
	switch msg.Verbosity {
	case "", "low", "medium", "high":
	default:
		return fmt.Errorf("invalid verbosity %q", msg.Verbosity)
	}
	return nil
}

// Emitter sends one event to a client. Implementations deliver events in call
// order.
type Emitter interface {
	Emit(ctx context.Context, event Event, data any) error
}
