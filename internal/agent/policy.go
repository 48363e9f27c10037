package agent

import (
	"regexp"
	"strings"
)

// Screening is the risk assessment of a task before it is planned.
type Screening struct {
	Risk    string
	Blocked bool
	Reason  string
}

var (
	blockedTaskPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\brm\s+-rf\s+/(?:\s|$)`),
		regexp.MustCompile(`(?i)\b(sudo\s+)?cat\s+.*(?:id_rsa|id_ed25519|\.env|auth\.json)`),
		regexp.MustCompile(`(?i)\b(exfiltrate|steal|dump credentials|leak secrets?)\b`),
		regexp.MustCompile(`(?i)\b(print|show|reveal)\b.*\b(api[_ -]?key|token|password|secret)\b`),
	}
	highRiskKeywords   = []string{"delete", "remove", "overwrite", "wipe", "destroy", "chmod", "sudo"}
	mediumRiskKeywords = []string{"create", "write", "save", "update", "edit", "generate"}

	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
)

// Screen classifies task text. Blocked tasks are never planned.
func Screen(task string) Screening {
	in := strings.ToLower(strings.TrimSpace(task))
	if in == "" {
		return Screening{Risk: "low"}
	}
	for _, re := range blockedTaskPatterns {
		if re.MatchString(in) {
			return Screening{
				Risk:    "blocked",
				Blocked: true,
				Reason:  "task appears to include destructive or secret-exfiltration behavior",
			}
		}
	}
	for _, kw := range highRiskKeywords {
		if strings.Contains(in, kw) {
			return Screening{Risk: "high"}
		}
	}
	for _, kw := range mediumRiskKeywords {
		if strings.Contains(in, kw) {
			return Screening{Risk: "medium"}
		}
	}
	return Screening{Risk: "low"}
}

// RedactPII masks e-mail addresses, card numbers and phone numbers for logging.
func RedactPII(input string) string {
	out := emailPattern.ReplaceAllString(input, "[REDACTED_EMAIL]")
	// Cards before phones so long digit runs are not classified as phone numbers.
	out = cardPattern.ReplaceAllString(out, "[REDACTED_CARD]")
	return phonePattern.ReplaceAllString(out, "[REDACTED_PHONE]")
}
