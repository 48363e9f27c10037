// Package agent carries out the task text an assistant hides after its marker:
// a planner turns the text into capability invocations and the dispatcher runs them.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/sashabaranov/go-openai/jsonschema"
)

var ErrUnknownCapability = errors.New("unknown capability")

// Capability is one action the sub-agent can take.
type Capability interface {
	Name() string
	Description() string
	Parameters() jsonschema.Definition
	Invoke(ctx context.Context, args json.RawMessage) (string, error)
}

type Registry struct {
	mu   sync.RWMutex
	caps map[string]Capability
}

func NewRegistry(caps ...Capability) *Registry {
	r := &Registry{caps: make(map[string]Capability)}
	for _, c := range caps {
		r.Register(c)
	}
	return r
}

// Register adds c, replacing any capability with the same name.
func (r *Registry) Register(c Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caps[c.Name()] = c
}

func (r *Registry) Get(name string) (Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCapability, name)
	}
	return c, nil
}

// List returns capabilities sorted by name. A non-nil allowed list restricts
// the result to those names.
func (r *Registry) List(allowed []string) []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Capability, 0, len(r.caps))
	for name, c := range r.caps {
		if allowed != nil && !slices.Contains(allowed, name) {
			continue
		}
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b Capability) int {
		switch {
		case a.Name() < b.Name():
			return -1
		case a.Name() > b.Name():
			return 1
		}
		return 0
	})
	return out
}
