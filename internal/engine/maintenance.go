package engine

import (
	"context"
	"errors"
	"log"
	"time"
)

const summarizeTimeout = 2 * time.Minute

// MaintenanceReport summarizes one RunMaintenance pass.
type MaintenanceReport struct {
	Owner    string `json:"owner"`
	Decayed  int    `json:"decayed"`
	Archived int    `json:"archived"`
	Digests  int    `json:"digests"`
	Identity bool   `json:"identity"`
}

// RunMaintenance decays and archives, consolidates the journal and
// refreshes the owner's global identity card. Summarization failures are
// logged and leave the affected data for the next pass.
func (e *Engine) RunMaintenance(ctx context.Context, owner string) (*MaintenanceReport, error) {
	rep := &MaintenanceReport{Owner: owner}

	var err error
	rep.Decayed, rep.Archived, err = e.ApplyDecay(ctx, owner)
	if err != nil {
		return rep, err
	}

	if e.LLM == nil {
		return rep, nil
	}

	rep.Digests, err = e.Consolidate(ctx, owner)
	if err != nil {
		return rep, err
	}

	if _, err := e.Synthesize(ctx, owner, "", ""); err != nil {
		if !errors.Is(err, ErrNoEvidence) {
			log.Printf("maintenance: %s identity: %v", owner, err)
		}
	} else {
		rep.Identity = true
	}
	return rep, nil
}
