package transcript

import (
	"strings"
)

// Per-turn and total rune limits.
const (
	edgeAssistantRunes = 1000
	midAssistantRunes  = 200
	userRunes          = 2000
	maxCondensedRunes  = 16000
)

// Condense renders turns in order as "[USER] ..." / "[ASSISTANT] ..."
// paragraphs. User turns are kept nearly whole; the first and last assistant
// turns keep more than the ones in between. The result is capped, dropping
// the oldest turns first.
func Condense(turns []Turn) string {
	if len(turns) == 0 {
		return ""
	}

	first, last := -1, -1
	for i, t := range turns {
		if t.Role == RoleAssistant {
			if first < 0 {
				first = i
			}
			last = i
		}
	}

	paras := make([]string, 0, len(turns))
	for i, t := range turns {
		switch {
		case t.Role == RoleUser:
			paras = append(paras, "[USER] "+clip(t.Text, userRunes))
		case i == first || i == last:
			paras = append(paras, "[ASSISTANT] "+clip(t.Text, edgeAssistantRunes))
		default:
			paras = append(paras, "[ASSISTANT] "+clip(t.Text, midAssistantRunes))
		}
	}

	total := 0
	start := len(paras)
	for start > 0 {
		n := len([]rune(paras[start-1])) + 2
		if total+n > maxCondensedRunes && start < len(paras) {
			break
		}
		total += n
		start--
	}
	return strings.TrimSpace(strings.Join(paras[start:], "\n\n"))
}

// clip cuts s to at most n runes, marking the cut with "...".
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
