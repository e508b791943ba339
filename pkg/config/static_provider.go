package config

import (
	"sync"

	"github.com/google/uuid"

	"github.com/polisai/polis-mam/pkg/domain"
)

// StaticProvider is an in-memory domain.SnapshotService. Hosts that receive
// policy from their own management channel publish snapshots into it.
type StaticProvider struct {
	// publishMu serialises Publish so subscribers see generations in order.
	publishMu sync.Mutex

	mu          sync.RWMutex
	generation  int64
	snapshot    *domain.Snapshot
	subscribers []chan *domain.Snapshot
}

// NewStaticProvider creates a provider. A nil initial snapshot leaves the
// provider empty, which the facade treats as the unmanaged default.
func NewStaticProvider(initial *domain.Snapshot) *StaticProvider {
	p := &StaticProvider{}
	if initial != nil {
		p.Publish(initial)
	}
	return p
}

// Publish makes a copy of snapshot current, stamped with the next generation.
// The caller's value is never modified, so republishing a snapshot that is
// already live is safe. The copy is shallow: rule maps and slices must not
// be modified after publishing.
func (p *StaticProvider) Publish(snapshot *domain.Snapshot) {
	if snapshot == nil {
		return
	}

	p.publishMu.Lock()
	defer p.publishMu.Unlock()

	next := *snapshot
	if next.ID == "" {
		next.ID = uuid.NewString()
	}
	if next.Source == "" {
		next.Source = "static"
	}

	p.mu.Lock()
	p.generation++
	next.Generation = p.generation
	p.snapshot = &next
	subscribers := make([]chan *domain.Snapshot, len(p.subscribers))
	copy(subscribers, p.subscribers)
	p.mu.Unlock()

	for _, ch := range subscribers {
		publish(ch, &next)
	}
}

// CurrentSnapshot returns the active snapshot or nil.
func (p *StaticProvider) CurrentSnapshot() *domain.Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshot
}

// Subscribe returns a channel receiving each published snapshot.
func (p *StaticProvider) Subscribe() <-chan *domain.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan *domain.Snapshot, 1)
	p.subscribers = append(p.subscribers, ch)
	if p.snapshot != nil {
		ch <- p.snapshot
	}
	return ch
}

var (
	_ domain.SnapshotService = (*StaticProvider)(nil)
	_ domain.SnapshotService = (*FileProvider)(nil)
)
