// Package classify labels incoming facts with a gate, sensitivity tier and
// entity tags. An LLM does the labeling when it answers in time; otherwise a
// deterministic keyword and regex rule set takes over.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"github.com/lazypower/mnemos/internal/llm"
	"github.com/lazypower/mnemos/internal/store"
)

// Result source labels.
const (
	SourceLLM       = "llm"
	SourceHeuristic = "heuristic"
)

// Result is a classification verdict.
type Result struct {
	Gate        store.Gate        `json:"gate"`
	Confidence  float64           `json:"confidence"`
	Sensitivity store.Sensitivity `json:"sensitivity"`
	Person      string            `json:"person,omitempty"`
	Project     string            `json:"project,omitempty"`
	Source      string            `json:"source"`
	Secrets     []Finding         `json:"secrets,omitempty"`
}

// Classifier wraps an unreliable LLM with a timeout and a heuristic fallback.
type Classifier struct {
	LLM           llm.Client // nil means heuristics only
	Timeout       time.Duration
	ConfidenceCap float64 // ceiling for heuristic confidence
}

// New returns a classifier. Zero timeout or cap take defaults.
func New(client llm.Client, timeout time.Duration, confidenceCap float64) *Classifier {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if confidenceCap <= 0 || confidenceCap > 1 {
		confidenceCap = 0.5
	}
	return &Classifier{LLM: client, Timeout: timeout, ConfidenceCap: confidenceCap}
}

// Classify labels text; convo is optional surrounding conversation.
// It never fails and never blocks past Timeout. The secret scan runs
// on every path and forces critical sensitivity when it finds anything.
func (c *Classifier) Classify(ctx context.Context, text, convo string) Result {
	var res Result
	if c.LLM != nil {
		r, err := c.classifyLLM(ctx, text, convo)
		if err != nil {
			log.Printf("classify: falling back to heuristics: %v", err)
			res = Heuristic(text, c.ConfidenceCap)
		} else {
			res = r
		}
	} else {
		res = Heuristic(text, c.ConfidenceCap)
	}

	if found := ScanSecrets(text); len(found) > 0 {
		res.Secrets = found
		res.Sensitivity = store.SensitivityCritical
	}
	return res
}

type llmVerdict struct {
	Gate        string  `json:"gate"`
	Confidence  float64 `json:"confidence"`
	Sensitivity string  `json:"sensitivity"`
	Person      string  `json:"person"`
	Project     string  `json:"project"`
}

func (c *Classifier) classifyLLM(ctx context.Context, text, convo string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	type reply struct {
		resp *llm.Response
		err  error
	}
	// The client may ignore ctx; never wait on it past the deadline.
	ch := make(chan reply, 1)
	go func() {
		resp, err := c.LLM.Complete(ctx, llm.ClassificationPrompt(text, convo))
		ch <- reply{resp, err}
	}()

	var r reply
	select {
	case r = <-ch:
	case <-ctx.Done():
		return Result{}, fmt.Errorf("classification timed out: %w", ctx.Err())
	}
	if r.err != nil {
		return Result{}, fmt.Errorf("classification call: %w", r.err)
	}
	if r.resp == nil {
		return Result{}, fmt.Errorf("classification call: empty response")
	}
	return parseVerdict(r.resp.Content)
}

// parseVerdict extracts and validates the JSON object in an LLM reply,
// repairing common formatting damage first.
func parseVerdict(content string) (Result, error) {
	raw := content
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		} else {
			raw = raw[start:]
		}
	}
	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return Result{}, fmt.Errorf("repair verdict json: %w", err)
	}
	var v llmVerdict
	if err := json.Unmarshal([]byte(repaired), &v); err != nil {
		return Result{}, fmt.Errorf("decode verdict: %w", err)
	}

	gate := store.Gate(strings.ToLower(strings.TrimSpace(v.Gate)))
	if !gate.Valid() {
		return Result{}, fmt.Errorf("verdict gate %q not recognized", v.Gate)
	}
	sens := store.Sensitivity(strings.ToLower(strings.TrimSpace(v.Sensitivity)))
	if !sens.Valid() {
		return Result{}, fmt.Errorf("verdict sensitivity %q not recognized", v.Sensitivity)
	}
	conf := v.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}

	return Result{
		Gate:        gate,
		Confidence:  conf,
		Sensitivity: sens,
		Person:      strings.ToLower(strings.TrimSpace(v.Person)),
		Project:     strings.ToLower(strings.TrimSpace(v.Project)),
		Source:      SourceLLM,
	}, nil
}
