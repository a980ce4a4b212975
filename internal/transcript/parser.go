// Package transcript reads agent session transcripts (JSONL, one message per
// line) and condenses them into the text handed to session-end extraction.
package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/lazypower/mnemos/internal/llm"
)

// Role of a transcript turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one spoken turn with its plain text.
type Turn struct {
	Role Role
	Text string
}

type line struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message"`
}

type message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type block struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

const (
	maxLineBytes = 4 << 20
	minTurnChars = 5
)

var reminderRe = regexp.MustCompile(`(?s)<system-reminder>.*?</system-reminder>`)

// ParseFile reads the transcript at path.
func ParseFile(path string) ([]Turn, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads JSONL turns from r. Malformed lines, tool traffic, injected
// reminders and near-empty turns are dropped.
func Parse(r io.Reader) ([]Turn, error) {
	var turns []Turn
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		raw := sc.Bytes()
		if len(strings.TrimSpace(string(raw))) == 0 {
			continue
		}
		if t, ok := parseLine(raw); ok {
			turns = append(turns, t)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan transcript: %w", err)
	}
	return turns, nil
}

func parseLine(raw []byte) (Turn, bool) {
	var l line
	if err := json.Unmarshal(raw, &l); err != nil || len(l.Message) == 0 {
		return Turn{}, false
	}
	role := Role(l.Type)
	if role != RoleUser && role != RoleAssistant {
		return Turn{}, false
	}
	var m message
	if err := json.Unmarshal(l.Message, &m); err != nil {
		return Turn{}, false
	}

	text := strings.TrimSpace(reminderRe.ReplaceAllString(contentText(m.Content), ""))
	// Tool payloads echoed as user turns start with a brace
	if len(text) < minTurnChars || strings.HasPrefix(text, "{") {
		return Turn{}, false
	}
	return Turn{Role: role, Text: text}, true
}

// contentText flattens content that is either a string or a list of blocks,
// keeping only text blocks.
func contentText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []block
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// CountUserMessages returns the number of user turns.
func CountUserMessages(turns []Turn) int {
	n := 0
	for _, t := range turns {
		if t.Role == RoleUser {
			n++
		}
	}
	return n
}

// Internal reports whether the session was started by mnemos itself, i.e.
// its first user turn carries the LLM sentinel.
func Internal(turns []Turn) bool {
	for _, t := range turns {
		if t.Role == RoleUser {
			return strings.HasPrefix(t.Text, llm.InternalSentinel)
		}
	}
	return false
}
