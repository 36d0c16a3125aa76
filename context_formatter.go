package ragchat

import (
	"strings"
)

// NoHistorySentinel is rendered in place of an empty history so prompt
// templates always receive a non-empty placeholder.
const NoHistorySentinel = "no prior conversation"

// FormatHistory renders turns as "<Role>: <content>" lines in chronological order.
func FormatHistory(turns []Turn) string {
	if len(turns) == 0 {
		return NoHistorySentinel
	}

	lines := make([]string, 0, len(turns)*2)
	for _, turn := range turns {
		for _, msg := range turn.Messages() {
			lines = append(lines, roleLabel(msg.Role)+": "+msg.Content)
		}
	}

	return strings.Join(lines, "\n")
}

// CombinePassages joins passage contents into a single context block,
// keeping the retrieval order.
func CombinePassages(passages []Passage) string {
	contents := make([]string, 0, len(passages))
	for _, p := range passages {
		contents = append(contents, p.Content)
	}
	return strings.Join(contents, "\n\n")
}

func roleLabel(role Role) string {
	if role == "" {
		return ""
	}
	r := string(role)
	return strings.ToUpper(r[:1]) + r[1:]
}
