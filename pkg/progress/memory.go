package progress

import (
	"context"
	"sync"

	"github.com/devsec-arena/arena/pkg/arena"
)

// MemoryTracker is the fail-open fallback ledger. It honors the same
// idempotency rules as the SQLite tracker but loses everything at exit.
type MemoryTracker struct {
	mu      sync.Mutex
	domains map[string]map[string]arena.ChallengeProgress
}

// NewMemoryTracker creates an empty in-memory ledger.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{domains: make(map[string]map[string]arena.ChallengeProgress)}
}

func (t *MemoryTracker) domain(domainID string) map[string]arena.ChallengeProgress {
	d, ok := t.domains[domainID]
	if !ok {
		d = make(map[string]arena.ChallengeProgress)
		t.domains[domainID] = d
	}
	return d
}

// RecordCompletion marks a challenge complete, awarding XP at most once.
func (t *MemoryTracker) RecordCompletion(ctx context.Context, domainID, challengeID string, xp int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	d := t.domain(domainID)
	p := d[challengeID]
	if !p.Completed {
		p.Completed = true
		p.XPEarned = xp
	}
	d[challengeID] = p
	return nil
}

// RecordHint increments the hint counter.
func (t *MemoryTracker) RecordHint(ctx context.Context, domainID, challengeID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	d := t.domain(domainID)
	p := d[challengeID]
	p.HintsUsed++
	d[challengeID] = p
	return nil
}

// Progress returns a copy of the ledger slice for one domain.
func (t *MemoryTracker) Progress(ctx context.Context, domainID string) (map[string]arena.ChallengeProgress, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]arena.ChallengeProgress, len(t.domains[domainID]))
	for id, p := range t.domains[domainID] {
		out[id] = p
	}
	return out, nil
}

// TotalXP returns the XP earned in one domain.
func (t *MemoryTracker) TotalXP(ctx context.Context, domainID string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var total int
	for _, p := range t.domains[domainID] {
		total += p.XPEarned
	}
	return total, nil
}

// Reset clears all progress for one domain.
func (t *MemoryTracker) Reset(ctx context.Context, domainID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.domains, domainID)
	return nil
}

// Close is a no-op.
func (t *MemoryTracker) Close() error { return nil }

var (
	_ arena.Tracker = (*MemoryTracker)(nil)
	_ arena.Tracker = (*SQLiteTracker)(nil)
)
