// Package profile loads assistant personas from YAML files and tracks each
// persona's conversation history.
package profile

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ent0n29/paserver/internal/history"
)

var (
	ErrNotFound  = errors.New("profile not found")
	ErrNoAvatar  = errors.New("profile has no vrm")
	ErrDuplicate = errors.New("duplicate profile name")
)

// SystemName is the author of connection notes.
const SystemName = "System"

type TTS struct {
	Enabled            bool
	ReferenceText      string
	ReferenceTextLang  string
	ReferenceAudioPath string
	InputTextLang      string
	OutputSpeedFactor  float64
}

type Settings struct {
	Identity            string
	Model               string
	Effort              string
	Verbosity           string
	AllowedTools        []string
	PlatformAware       bool
	ConnectedMessage    string
	DisconnectedMessage string
	TTS                 TTS
}

type Profile struct {
	Name     string
	Settings Settings
	VRMPath  string

	history *history.History
}

func New(name string, settings Settings, vrmPath string, hist *history.History) *Profile {
	return &Profile{Name: name, Settings: settings, VRMPath: vrmPath, history: hist}
}

func (p *Profile) History() *history.History { return p.history }

// Connect purges empty entries and, unless the chat is being continued, records
// the connected note.
func (p *Profile) Connect(ctx context.Context, continueChat bool) error {
	p.history.PurgeEmpty()
	if !continueChat && p.Settings.ConnectedMessage != "" {
		p.history.Append(p.note(p.Settings.ConnectedMessage))
	}
	return p.history.Save(ctx)
}

func (p *Profile) Disconnect(ctx context.Context) error {
	p.history.PurgeEmpty()
	if p.Settings.DisconnectedMessage != "" {
		p.history.Append(p.note(p.Settings.DisconnectedMessage))
	}
	return p.history.Save(ctx)
}

// AddSystemNote appends a developer note from the system and persists it.
func (p *Profile) AddSystemNote(ctx context.Context, content string) error {
	return p.history.AppendAndPersist(ctx, p.note(content))
}

func (p *Profile) AddChatEntry(ctx context.Context, e history.Entry) error {
	return p.history.AppendAndPersist(ctx, e)
}

func (p *Profile) RecentView(limit int) []history.ViewEntry {
	return p.history.RecentView(limit)
}

func (p *Profile) HasVRM() bool { return p.VRMPath != "" }

func (p *Profile) VRM() ([]byte, error) {
	if p.VRMPath == "" {
		return nil, ErrNoAvatar
	}
	raw, err := os.ReadFile(p.VRMPath)
	if err != nil {
		return nil, fmt.Errorf("read vrm for %s: %w", p.Name, err)
	}
	return raw, nil
}

func (p *Profile) note(content string) history.Entry {
	return history.Entry{Role: history.RoleDeveloper, Name: SystemName, Content: content}
}

// Summary is the list entry sent to clients.
type Summary struct {
	Name string `json:"name"`
	VRM  bool   `json:"vrm"`
}

// Registry holds profiles in load order.
type Registry struct {
	profiles []*Profile
	byName   map[string]*Profile
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Profile)}
}

func (r *Registry) Add(p *Profile) error {
	if _, ok := r.byName[p.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, p.Name)
	}
	r.profiles = append(r.profiles, p)
	r.byName[p.Name] = p
	return nil
}

func (r *Registry) Get(name string) (*Profile, error) {
	p, ok := r.byName[name]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (r *Registry) Len() int { return len(r.profiles) }

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p.Name)
	}
	return out
}

func (r *Registry) Summaries() []Summary {
	out := make([]Summary, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, Summary{Name: p.Name, VRM: p.HasVRM()})
	}
	return out
}
