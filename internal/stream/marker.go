package stream

import (
	"fmt"
	"strings"
)

// DefaultMarker separates the spoken reply from the hidden task request.
const DefaultMarker = "TASK"

// MarkerPolicy selects how the marker is recognised in the delta stream.
type MarkerPolicy string

const (
	// MarkerExact matches only a delta that is exactly the marker token.
	MarkerExact MarkerPolicy = "exact"
	// MarkerSubstring scans the running public text, so a marker split across
	// deltas (or glued to other text) is still found.
	MarkerSubstring MarkerPolicy = "substring"
)

func ParseMarkerPolicy(raw string) (MarkerPolicy, error) {
	switch MarkerPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", MarkerExact:
		return MarkerExact, nil
	case MarkerSubstring:
		return MarkerSubstring, nil
	default:
		return "", fmt.Errorf("unsupported marker policy %q (expected exact|substring)", raw)
	}
}

type splitter interface {
	// split returns the public part of delta, whether it should be forwarded at all,
	// the hidden text that follows a marker and whether the marker was found.
	split(delta string) (public string, forward bool, hidden string, found bool)
	// drain returns public text still held back when the stream ends.
	drain() string
}

func newSplitter(policy MarkerPolicy, marker string) splitter {
	if policy == MarkerSubstring {
		return &substringSplitter{marker: marker}
	}
	return exactSplitter{marker: marker}
}

type exactSplitter struct {
	marker string
}

func (s exactSplitter) split(delta string) (string, bool, string, bool) {
	if delta == s.marker {
		return "", false, "", true
	}
	return delta, true, "", false
}

func (exactSplitter) drain() string { return "" }

type substringSplitter struct {
	marker string
	held   string
}

func (s *substringSplitter) split(delta string) (string, bool, string, bool) {
	text := s.held + delta
	s.held = ""
	if idx := strings.Index(text, s.marker); idx >= 0 {
		public := text[:idx]
		return public, public != "", text[idx+len(s.marker):], true
	}
	// Hold back a tail that could still grow into the marker.
	for n := min(len(s.marker)-1, len(text)); n > 0; n-- {
		if strings.HasPrefix(s.marker, text[len(text)-n:]) {
			s.held = text[len(text)-n:]
			text = text[:len(text)-n]
			break
		}
	}
	return text, text != "", "", false
}

func (s *substringSplitter) drain() string {
	held := s.held
	s.held = ""
	return held
}
