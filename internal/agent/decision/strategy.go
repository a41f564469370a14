package decision

import (
	"regexp"
	"strings"
)

var strategyHeaderRe = regexp.MustCompile(`(?i)##\s*strategy\s+for\s+next\s+execution`)

// ExtractStrategy pulls the "## Strategy for Next Execution" fragment out of
// the agent narrative, header included, stopping before the next markdown
// header. Returns "" when the section is missing; the caller logs a warning.
func ExtractStrategy(narrative string) string {
	loc := strategyHeaderRe.FindStringIndex(narrative)
	if loc == nil {
		return ""
	}

	tail := narrative[loc[1]:]
	if idx := strings.Index(tail, "\n##"); idx >= 0 {
		return strings.TrimSpace(narrative[loc[0] : loc[1]+idx])
	}
	return strings.TrimSpace(narrative[loc[0]:])
}
