package tenant

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lazypower/mnemos/internal/store"
)

// Coordinator runs claims. At most one claim per source owner runs at a time.
type Coordinator struct {
	ledger   Ledger
	movers   map[store.EntityClass]Mover
	manifest []store.EntityClass
	Now      func() time.Time

	mu       sync.Mutex
	inflight map[string]bool
}

// NewCoordinator binds every manifest class to exactly one mover. It fails
// when a class has no mover or more than one.
func NewCoordinator(ledger Ledger, movers ...Mover) (*Coordinator, error) {
	return newCoordinator(store.Manifest, ledger, movers...)
}

func newCoordinator(manifest []store.EntityClass, ledger Ledger, movers ...Mover) (*Coordinator, error) {
	bound := make(map[store.EntityClass]Mover, len(manifest))
	for _, m := range movers {
		for _, class := range m.Classes() {
			if _, dup := bound[class]; dup {
				return nil, fmt.Errorf("class %q has two movers", class)
			}
			bound[class] = m
		}
	}
	for _, class := range manifest {
		if bound[class] == nil {
			return nil, fmt.Errorf("class %q has no mover", class)
		}
	}
	if len(bound) != len(manifest) {
		return nil, fmt.Errorf("movers cover %d classes, manifest lists %d", len(bound), len(manifest))
	}
	return &Coordinator{
		ledger:   ledger,
		movers:   bound,
		manifest: append([]store.EntityClass(nil), manifest...),
		Now:      time.Now,
		inflight: make(map[string]bool),
	}, nil
}

func (c *Coordinator) acquire(from string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight[from] {
		return false
	}
	c.inflight[from] = true
	return true
}

func (c *Coordinator) release(from string) {
	c.mu.Lock()
	delete(c.inflight, from)
	c.mu.Unlock()
}

// Claim moves every manifest class owned by from to to. An interrupted claim
// resumes at its first incomplete class. When a step fails the record is left
// partial and returned together with the error. Claiming again after a
// complete claim with nothing left to move returns the complete record.
func (c *Coordinator) Claim(ctx context.Context, from, to string) (*store.ClaimRecord, error) {
	if from == "" || to == "" {
		return nil, fmt.Errorf("%w: claim needs both owners", store.ErrInvalid)
	}
	if from == to {
		return nil, fmt.Errorf("%w: cannot claim into the same owner", store.ErrInvalid)
	}
	if !c.acquire(from) {
		return nil, ErrClaimInFlight
	}
	defer c.release(from)

	rec, err := c.ledger.LatestClaim(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if rec != nil && rec.Status == store.ClaimComplete {
		left, err := c.LocalData(ctx, from)
		if err != nil {
			return nil, err
		}
		if total(left) == 0 {
			return rec, nil
		}
		log.Printf("claim: %s has new data since claim %s, starting over", from, rec.ID)
		rec = nil
	}
	if rec == nil {
		now := c.Now()
		rec = &store.ClaimRecord{
			ID:        "claim_" + uuid.NewString(),
			From:      from,
			To:        to,
			Manifest:  append([]store.EntityClass(nil), c.manifest...),
			Completed: []store.EntityClass{},
			Moved:     make(map[store.EntityClass]int64, len(c.manifest)),
			Status:    store.ClaimPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := c.ledger.SaveClaim(ctx, rec); err != nil {
			return nil, err
		}
	} else {
		log.Printf("claim: resuming %s at %v", rec.ID, rec.Remaining())
	}
	if rec.Moved == nil {
		rec.Moved = make(map[store.EntityClass]int64)
	}

	for _, class := range rec.Remaining() {
		mover := c.movers[class]
		if mover == nil {
			return c.fail(ctx, rec, class, fmt.Errorf("no mover for class %q", class))
		}
		n, err := mover.ReassignOwner(ctx, class, from, to)
		if err != nil {
			return c.fail(ctx, rec, class, err)
		}
		rec.Moved[class] += n
		rec.Completed = append(rec.Completed, class)
		rec.Status = store.ClaimPartial
		rec.UpdatedAt = c.Now()
		if err := c.ledger.SaveClaim(ctx, rec); err != nil {
			return rec, fmt.Errorf("record claim step %s: %w", class, err)
		}
	}

	rec.Status = store.ClaimComplete
	rec.Error = ""
	rec.UpdatedAt = c.Now()
	if err := c.ledger.SaveClaim(ctx, rec); err != nil {
		return rec, err
	}
	log.Printf("claim: %s moved %s -> %s: %v", rec.ID, from, to, rec.Moved)
	return rec, nil
}

func (c *Coordinator) fail(ctx context.Context, rec *store.ClaimRecord, class store.EntityClass, stepErr error) (*store.ClaimRecord, error) {
	log.Printf("claim: step %s failed: %v", class, stepErr)
	rec.Status = store.ClaimPartial
	rec.Error = fmt.Sprintf("%s: %v", class, stepErr)
	rec.UpdatedAt = c.Now()
	if err := c.ledger.SaveClaim(ctx, rec); err != nil {
		log.Printf("claim: recording failure of %s: %v", rec.ID, err)
	}
	return rec, fmt.Errorf("claim step %s: %w", class, stepErr)
}

// Status returns the latest claim from one owner to another.
func (c *Coordinator) Status(ctx context.Context, from, to string) (*store.ClaimRecord, error) {
	rec, err := c.ledger.LatestClaim(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: no claim from %s to %s", store.ErrNotFound, from, to)
	}
	return rec, nil
}

// LocalData counts the rows of every manifest class still held by owner.
func (c *Coordinator) LocalData(ctx context.Context, owner string) (map[store.EntityClass]int64, error) {
	counts := make(map[store.EntityClass]int64, len(c.manifest))
	for _, class := range c.manifest {
		n, err := c.movers[class].CountOwned(ctx, class, owner)
		if err != nil {
			return nil, err
		}
		counts[class] = n
	}
	return counts, nil
}

func total(counts map[store.EntityClass]int64) int64 {
	var n int64
	for _, v := range counts {
		n += v
	}
	return n
}
