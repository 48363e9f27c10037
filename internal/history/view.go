package history

import (
	"slices"
	"strings"
)

// DefaultViewLimit is the number of recent entries sent to the model.
const DefaultViewLimit = 50

// RecentView renders the tail of entries for the model context.
//
// The walk runs newest to oldest. A deep-dive region is open at the tail when more
// regions were started than ended; walking backwards an "end" marker opens a region
// and a "start" marker closes it. Entries are taken while fewer than limit have been
// taken or while inside a region, so a region that reaches into the window is kept
// whole. Empty entries are skipped.
func RecentView(entries []Entry, limit int) []ViewEntry {
	if limit <= 0 {
		limit = DefaultViewLimit
	}

	valid := make([]Entry, 0, len(entries))
	starts, ends := 0, 0
	for _, e := range entries {
		if e.Content == "" {
			continue
		}
		valid = append(valid, e)
		switch e.DeepDive {
		case DeepDiveStart:
			starts++
		case DeepDiveEnd:
			ends++
		}
	}

	inRegion := starts > ends
	out := make([]ViewEntry, 0, min(len(valid), limit))
	for i := len(valid) - 1; i >= 0; i-- {
		if len(out) >= limit && !inRegion {
			break
		}
		e := valid[i]
		switch e.DeepDive {
		case DeepDiveStart:
			inRegion = false
		case DeepDiveEnd:
			inRegion = true
		}
		out = append(out, render(e))
	}
	slices.Reverse(out)
	return out
}

func render(e Entry) ViewEntry {
	if e.Role == RoleAssistant {
		return ViewEntry{Role: e.Role, Content: e.Content}
	}
	var b strings.Builder
	b.WriteString("> ")
	switch e.DeepDive {
	case DeepDiveStart:
		b.WriteString("[START OF DEEP CONVERSATION] ")
	case DeepDiveEnd:
		b.WriteString("[END OF DEEP CONVERSATION] ")
	}
	b.WriteString("Sent at ")
	b.WriteString(e.Time)
	if e.Role == RoleDeveloper {
		b.WriteString(` From "`)
		b.WriteString(e.Name)
		b.WriteString(`"`)
	}
	b.WriteString("\n")
	b.WriteString(e.Content)
	return ViewEntry{Role: e.Role, Content: b.String()}
}
