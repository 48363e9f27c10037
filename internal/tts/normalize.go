package tts

import (
	"regexp"
	"strings"
)

var (
	asidePattern      = regexp.MustCompile(`\([^)]*\)`)
	whitespacePattern = regexp.MustCompile(`\s+`)

	speechReplacer = strings.NewReplacer(
		"-", " ",
		"—", ", ",
		"’", "'",
		"‘", "'",
		"“", `"`,
		"”", `"`,
	)
)

// Normalize prepares model text for the synthesis engine. The result is what gets
// spoken; an empty result means there is nothing worth synthesizing.
func Normalize(raw string) string {
	text := strings.ToLower(speechReplacer.Replace(raw))
	text = asidePattern.ReplaceAllString(text, "")
	text = whitespacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
