// Package progress publishes pipeline progress to live subscribers and
// persists authoritative snapshots onto the run row. Event delivery is
// best-effort; consumers reconcile via the status interface.
package progress

import (
	"context"
	"sync"

	"github.com/clauselens/clauselens/internal/model"
)

// Broker fans ProgressEvents out to per-analysis subscribers.
type Broker interface {
	Publish(ctx context.Context, ev model.ProgressEvent) error
	// Subscribe returns a channel of events for one analysis and a cancel
	// func that must be called to release the subscription.
	Subscribe(analysisID string) (<-chan model.ProgressEvent, func())
	Close() error
}

// subscriberBuffer is sized so a briefly slow consumer doesn't drop events,
// while a stalled one never blocks the pipeline.
const subscriberBuffer = 16

// MemoryBroker is the in-process Broker used when all subscribers live in
// the same process as the orchestrator.
type MemoryBroker struct {
	mu     sync.Mutex
	subs   map[string]map[int]chan model.ProgressEvent
	nextID int
	closed bool
}

// NewMemoryBroker creates an in-process broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[int]chan model.ProgressEvent)}
}

// Publish delivers the event to every subscriber of the analysis. A full
// subscriber channel drops the event rather than blocking: droppable delivery
// never reorders relative to persisted state because persistence happens
// before publish.
func (b *MemoryBroker) Publish(_ context.Context, ev model.ProgressEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	for _, ch := range b.subs[ev.AnalysisID] {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(analysisID string) (<-chan model.ProgressEvent, func()) {
	ch := make(chan model.ProgressEvent, subscriberBuffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	if b.subs[analysisID] == nil {
		b.subs[analysisID] = make(map[int]chan model.ProgressEvent)
	}
	id := b.nextID
	b.nextID++
	b.subs[analysisID][id] = ch
	b.mu.Unlock()

	// Whoever removes the entry from the map owns closing the channel:
	// either this cancel func, or Close draining every subscriber.
	cancel := func() {
		b.mu.Lock()
		subs, ok := b.subs[analysisID]
		if ok {
			_, ok = subs[id]
			delete(subs, id)
			if len(subs) == 0 {
				delete(b.subs, analysisID)
			}
		}
		b.mu.Unlock()
		if ok {
			close(ch)
		}
	}
	return ch, cancel
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, ch := range subs {
			close(ch)
		}
	}
	b.subs = make(map[string]map[int]chan model.ProgressEvent)
	return nil
}
