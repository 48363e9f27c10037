package history

import (
	"fmt"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleDeveloper Role = "developer"
)

// DeepDive marks the boundaries of a region that must stay in the model context.
type DeepDive string

const (
	DeepDiveNone  DeepDive = ""
	DeepDiveStart DeepDive = "start"
	DeepDiveEnd   DeepDive = "end"
)

// TimeLayout is the format of Entry.Time.
const TimeLayout = "2006-01-02 15:04:05 MST-0700"

// Entry is one message in a profile's conversation history.
type Entry struct {
	DeepDive DeepDive `json:"deepDive,omitempty"`
	Name     string   `json:"name"`
	Time     string   `json:"time"`
	Role     Role     `json:"role"`
	Content  string   `json:"content"`
}

func (e Entry) Validate() error {
	switch e.Role {
	case RoleUser, RoleAssistant, RoleSystem, RoleDeveloper:
	default:
		return fmt.Errorf("invalid role %q", e.Role)
	}
	switch e.DeepDive {
	case DeepDiveNone, DeepDiveStart, DeepDiveEnd:
	default:
		return fmt.Errorf("invalid deepDive %q", e.DeepDive)
	}
	return nil
}

// ViewEntry is an entry rendered for the model context.
type ViewEntry struct {
	Role    Role
	Content string
}

// Stamp formats t in loc the way Entry.Time is stored.
func Stamp(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(TimeLayout)
}
