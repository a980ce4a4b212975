package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/lazypower/mnemos/internal/embed"
)

// Hit is one ranked id returned by an index.
type Hit struct {
	ID    string
	Score float64
}

// BM25 parameters for the sparse index.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

func writeTermsTx(ctx context.Context, tx *sql.Tx, memoryID string, terms map[string]int) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM sparse_terms WHERE memory_id = ?`, memoryID); err != nil {
		return fmt.Errorf("clear sparse terms: %w", err)
	}
	for term, tf := range terms {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sparse_terms (memory_id, term, tf) VALUES (?, ?, ?)`, memoryID, term, tf); err != nil {
			return fmt.Errorf("insert sparse term: %w", err)
		}
	}
	return nil
}

func termCount(terms map[string]int) int {
	n := 0
	for _, tf := range terms {
		n += tf
	}
	return n
}

// sparseSearch scores live, visible memories against query terms with BM25.
// Collection statistics are computed over the caller's visible set only.
func (db *DB) sparseSearch(ctx context.Context, scope Scope, query string, limit int) ([]Hit, error) {
	qterms := embed.Terms(query)
	if len(qterms) == 0 || limit <= 0 {
		return nil, nil
	}
	terms := make([]string, 0, len(qterms))
	for t := range qterms {
		terms = append(terms, t)
	}

	clause, scopeArgs := scopeClause(scope)

	var total int
	var avgLen float64
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(AVG(m.term_count), 0) FROM memories m
		WHERE m.archived_at IS NULL AND `+clause, scopeArgs...).Scan(&total, &avgLen)
	if err != nil {
		return nil, fmt.Errorf("sparse stats: %w", err)
	}
	if total == 0 {
		return nil, nil
	}
	if avgLen == 0 {
		avgLen = 1
	}

	marks, termArgs := placeholders(terms)
	args := append(termArgs, scopeArgs...)
	rows, err := db.QueryContext(ctx, `
		SELECT t.memory_id, t.term, t.tf, m.term_count
		FROM sparse_terms t JOIN memories m ON m.id = t.memory_id
		WHERE t.term IN (`+marks+`) AND m.archived_at IS NULL AND `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("sparse postings: %w", err)
	}

	type posting struct {
		id     string
		term   string
		tf     int
		docLen int
	}
	var postings []posting
	df := make(map[string]int)
	for rows.Next() {
		var p posting
		if err := rows.Scan(&p.id, &p.term, &p.tf, &p.docLen); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan posting: %w", err)
		}
		postings = append(postings, p)
		df[p.term]++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sparse postings: %w", err)
	}

	scores := make(map[string]float64)
	for _, p := range postings {
		n := float64(df[p.term])
		idf := math.Log(1 + (float64(total)-n+0.5)/(n+0.5))
		tf := float64(p.tf)
		norm := tf + bm25K1*(1-bm25B+bm25B*float64(p.docLen)/avgLen)
		scores[p.id] += idf * tf * (bm25K1 + 1) / norm * float64(qterms[p.term])
	}

	hits := make([]Hit, 0, len(scores))
	for id, s := range scores {
		hits = append(hits, Hit{ID: id, Score: s})
	}
	sortHits(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// ftsQuery turns free text into an FTS5 OR-query of quoted terms.
func ftsQuery(text string) string {
	tokens := embed.Tokenize(text)
	if len(tokens) == 0 {
		return ""
	}
	seen := make(map[string]bool, len(tokens))
	parts := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		parts = append(parts, `"`+strings.ReplaceAll(tok, `"`, `""`)+`"`)
	}
	return strings.Join(parts, " OR ")
}

// textSearch runs a keyword query against the FTS5 index.
func (db *DB) textSearch(ctx context.Context, scope Scope, query string, limit int) ([]Hit, error) {
	match := ftsQuery(query)
	if match == "" || limit <= 0 {
		return nil, nil
	}
	clause, scopeArgs := scopeClause(scope)
	args := append([]any{match}, scopeArgs...)
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, `
		SELECT m.id, bm25(memories_fts) AS rank
		FROM memories_fts JOIN memories m ON m.seq = memories_fts.rowid
		WHERE memories_fts MATCH ? AND m.archived_at IS NULL AND `+clause+`
		ORDER BY rank, m.id
		LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("full-text search: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var rank float64
		if err := rows.Scan(&h.ID, &rank); err != nil {
			return nil, fmt.Errorf("scan full-text hit: %w", err)
		}
		// bm25() is lower-is-better.
		h.Score = -rank
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
}
