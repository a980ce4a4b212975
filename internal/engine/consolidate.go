package engine

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/lazypower/mnemos/internal/llm"
	"github.com/lazypower/mnemos/internal/store"
)

const maxDigestEntries = 200

// summarize runs one LLM call under summarizeTimeout and returns the trimmed text.
func (e *Engine) summarize(ctx context.Context, prompt string) (string, error) {
	if e.LLM == nil {
		return "", fmt.Errorf("no llm configured")
	}
	ctx, cancel := context.WithTimeout(ctx, summarizeTimeout)
	defer cancel()
	resp, err := e.LLM.Complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", fmt.Errorf("empty completion")
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", fmt.Errorf("empty completion")
	}
	return text, nil
}

// Consolidate folds an owner's journal entries older than the consolidation
// age into one digest per calendar week. A week that already has a digest
// absorbs its stragglers without another LLM call. Weeks whose summary
// fails are left for the next pass. It returns the number of digests created.
func (e *Engine) Consolidate(ctx context.Context, owner string) (int, error) {
	cutoff := e.now().Add(-e.Opts.ConsolidateAfter)
	stale, err := e.Store.DB.StaleJournal(ctx, owner, cutoff)
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	var weeks []string
	groups := make(map[string][]store.JournalEntry)
	for _, j := range stale {
		wk := store.WeekKey(j.CreatedAt)
		if _, ok := groups[wk]; !ok {
			weeks = append(weeks, wk)
		}
		groups[wk] = append(groups[wk], j)
	}

	created := 0
	for _, wk := range weeks {
		entries := groups[wk]
		ids := make([]string, len(entries))
		for i, j := range entries {
			ids[i] = j.ID
		}

		existing, err := e.Store.DB.DigestFor(ctx, owner, wk)
		if err != nil {
			return created, err
		}
		if existing != nil {
			n, err := e.Store.DB.FoldIntoDigest(ctx, existing.ID, ids)
			if err != nil {
				return created, err
			}
			log.Printf("consolidate: %s %s folded %d late entries", owner, wk, n)
			continue
		}

		texts := make([]string, 0, len(entries))
		for _, j := range entries {
			if len(texts) == maxDigestEntries {
				break
			}
			texts = append(texts, j.Content)
		}
		summary, err := e.summarize(ctx, llm.ConsolidationPrompt(wk, texts))
		if err != nil {
			log.Printf("consolidate: %s %s skipped: %v", owner, wk, err)
			continue
		}

		_, isNew, err := e.Store.DB.CreateDigest(ctx, owner, wk, summary, ids)
		if err != nil {
			return created, err
		}
		if isNew {
			created++
			log.Printf("consolidate: %s %s digested %d entries", owner, wk, len(entries))
		}
	}
	return created, nil
}
