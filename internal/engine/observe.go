package engine

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/lazypower/mnemos/internal/classify"
	"github.com/lazypower/mnemos/internal/llm"
	"github.com/lazypower/mnemos/internal/store"
)

// Tool output limits for compression.
const (
	maxToolInputChars    = 500
	maxToolOutputChars   = 15000
	fallbackSummaryChars = 1000
	fallbackSummaryLines = 20
)

// ObserveRequest is one tool call reported by a session hook.
type ObserveRequest struct {
	SessionID    string `json:"session_id"`
	ToolName     string `json:"tool_name"`
	ToolInput    string `json:"tool_input"`
	ToolResponse string `json:"tool_response"`
}

// Observe compresses a large tool output into an observation journal entry.
// Small outputs and skipped tools record nothing and return nil. Without an
// LLM, or when compression fails, the output is trimmed instead.
func (e *Engine) Observe(ctx context.Context, owner string, req ObserveRequest) (*store.JournalEntry, error) {
	if owner == "" || req.ToolName == "" {
		return nil, fmt.Errorf("%w: observation needs owner and tool name", store.ErrInvalid)
	}
	if e.skipTool(req.ToolName) || len(req.ToolResponse) < e.Opts.FlowThreshold {
		return nil, nil
	}

	summary := ""
	if e.LLM != nil {
		output := truncateClean(req.ToolResponse, maxToolOutputChars)
		if omitted := len(req.ToolResponse) - len(output); omitted > 0 {
			output += fmt.Sprintf("\n... (%d chars truncated)", omitted)
		}
		text, err := e.summarize(ctx, llm.CompressionPrompt(req.ToolName, truncateClean(req.ToolInput, maxToolInputChars), output))
		if err != nil {
			log.Printf("observe: compress %s: %v", req.ToolName, err)
		} else {
			summary = text
		}
	}
	if summary == "" {
		summary = trimToolOutput(req.ToolResponse)
	}
	summary = classify.Redact(summary, classify.ScanSecrets(summary))

	return e.Store.DB.AddObservation(ctx, owner, req.SessionID, req.ToolName, summary)
}

func (e *Engine) skipTool(name string) bool {
	for _, t := range e.Opts.FlowSkipTools {
		if t == name {
			return true
		}
	}
	return false
}

// trimToolOutput keeps the first non-blank lines of an output, clipped.
func trimToolOutput(out string) string {
	var kept []string
	total := 0
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		total++
		if len(kept) < fallbackSummaryLines {
			kept = append(kept, line)
		}
	}
	s := truncateClean(strings.Join(kept, "\n"), fallbackSummaryChars)
	if total > len(kept) {
		s += fmt.Sprintf("\n... (%d more lines)", total-len(kept))
	}
	return s
}

// Observations lists an owner's tool observations, newest first.
func (e *Engine) Observations(ctx context.Context, owner, sessionID string, limit int) ([]store.JournalEntry, error) {
	return e.Store.DB.ListObservations(ctx, owner, sessionID, limit)
}
