package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/lazypower/mnemos/internal/llm"
	"github.com/lazypower/mnemos/internal/store"
)

// Extraction guards.
const (
	minCondensedChars   = 100
	maxCandidates       = 3
	maxCheckpointChars  = 4000
	duplicateSimilarity = 0.92
)

// memoryCandidate is the JSON structure returned by the extraction LLM.
type memoryCandidate struct {
	Content string `json:"content"`
	Gate    string `json:"gate"`
	Person  string `json:"person"`
	Project string `json:"project"`
}

// SessionReport is the outcome of EndSession.
type SessionReport struct {
	Checkpoint *store.JournalEntry `json:"checkpoint,omitempty"`
	Remembered []string            `json:"remembered,omitempty"`
	Skipped    int                 `json:"skipped"`
}

// EndSession records a checkpoint for a finished session and, when an LLM is
// configured, remembers up to three durable facts extracted from it.
// Candidates that near-duplicate an existing memory are skipped.
func (e *Engine) EndSession(ctx context.Context, scope store.Scope, sessionID, condensed string) (*SessionReport, error) {
	condensed = strings.TrimSpace(condensed)
	rep := &SessionReport{}
	if condensed == "" {
		return rep, nil
	}

	cp, err := e.Checkpoint(ctx, scope.OwnerID, sessionID, "session ended\n"+truncateClean(condensed, maxCheckpointChars))
	if err != nil {
		return nil, fmt.Errorf("checkpoint session: %w", err)
	}
	rep.Checkpoint = cp

	if e.LLM == nil {
		return rep, nil
	}
	if len(condensed) < minCondensedChars {
		log.Printf("extraction: skipping %s, condensed too short (%d chars)", sessionID, len(condensed))
		return rep, nil
	}

	text, err := e.summarize(ctx, llm.ExtractionPrompt(condensed))
	if err != nil {
		log.Printf("extraction: %s: %v", sessionID, err)
		return rep, nil
	}
	candidates, err := parseExtractionResponse(text)
	if err != nil {
		log.Printf("extraction: %s: %v", sessionID, err)
		return rep, nil
	}
	if len(candidates) > maxCandidates {
		log.Printf("extraction: capping %d candidates to %d for %s", len(candidates), maxCandidates, sessionID)
		candidates = candidates[:maxCandidates]
	}

	for _, c := range candidates {
		content := strings.TrimSpace(c.Content)
		if content == "" {
			rep.Skipped++
			continue
		}
		if e.isDuplicate(ctx, scope, content) {
			log.Printf("extraction: skipping near-duplicate %q", truncateClean(content, 60))
			rep.Skipped++
			continue
		}
		gate := store.Gate(strings.ToLower(strings.TrimSpace(c.Gate)))
		if !gate.Valid() {
			gate = ""
		}
		got, err := e.Remember(ctx, scope, RememberRequest{
			Content:   content,
			SessionID: sessionID,
			Gate:      gate,
			Person:    c.Person,
			Project:   c.Project,
		})
		if err != nil {
			log.Printf("extraction: remember: %v", err)
			rep.Skipped++
			continue
		}
		rep.Remembered = append(rep.Remembered, got.Memory.ID)
	}
	return rep, nil
}

// isDuplicate reports whether a visible memory is nearly identical to content.
func (e *Engine) isDuplicate(ctx context.Context, scope store.Scope, content string) bool {
	hits, err := e.Store.SimilarTo(ctx, scope, content, "", 1)
	if err != nil {
		log.Printf("extraction: similarity check failed: %v", err)
		return false
	}
	return len(hits) > 0 && hits[0].Score >= duplicateSimilarity
}

// parseExtractionResponse extracts a JSON array from the LLM response,
// repairing the usual damage (fences, trailing commas, single quotes).
func parseExtractionResponse(content string) ([]memoryCandidate, error) {
	content = strings.TrimSpace(content)
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array found in response")
	}

	raw := content[start : end+1]
	var candidates []memoryCandidate
	if err := json.Unmarshal([]byte(raw), &candidates); err != nil {
		fixed, rerr := jsonrepair.JSONRepair(raw)
		if rerr != nil {
			return nil, fmt.Errorf("unmarshal candidates: %w", err)
		}
		if err := json.Unmarshal([]byte(fixed), &candidates); err != nil {
			return nil, fmt.Errorf("unmarshal candidates: %w", err)
		}
	}
	return candidates, nil
}
