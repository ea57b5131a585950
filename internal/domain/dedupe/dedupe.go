// Package dedupe remembers recently completed matches so repeated game-over
// reports can be answered without touching the store.
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"
)

// Deduper records completed match IDs together with their result.
type Deduper interface {
	// Lookup returns the recorded result for id.
	Lookup(ctx context.Context, id string) (string, bool)

	// SeenAndRecord atomically checks if id was seen and records result if not.
	// Returns the previously recorded result and true if id was already seen.
	SeenAndRecord(ctx context.Context, id, result string) (string, bool)

	// Unrecord removes an ID, e.g. when the completion it tracked rolled back.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// inMemoryDeduper keeps IDs in a ring buffer and evicts the oldest first.
// With maxSize <= 0 it is unbounded and never evicts.
type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    map[string]string
	ring    []string // insertion order, bounded mode only
	next    int      // ring slot of the next insert
	maxSize int
	size    atomic.Int64
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: 10000,
	}
	for _, opt := range opts {
		opt(d)
	}

	d.seen = make(map[string]string)
	if d.maxSize > 0 {
		d.ring = make([]string, 0, d.maxSize)
	}
	return d
}

func (d *inMemoryDeduper) Lookup(_ context.Context, id string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.seen[id]
	return r, ok
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, id, result string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if prev, ok := d.seen[id]; ok {
		return prev, true
	}

	if d.maxSize > 0 {
		if len(d.ring) < d.maxSize {
			d.ring = append(d.ring, id)
		} else {
			// Slots emptied by Unrecord hold "" and evict nothing.
			if old := d.ring[d.next]; old != "" {
				delete(d.seen, old)
				d.size.Add(-1)
			}
			d.ring[d.next] = id
		}
		d.next = (d.next + 1) % d.maxSize
	}

	d.seen[id] = result
	d.size.Add(1)
	return "", false
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[id]; !ok {
		return
	}
	delete(d.seen, id)
	d.size.Add(-1)

	for i, v := range d.ring {
		if v == id {
			d.ring[i] = ""
			break
		}
	}
}

// Size returns the current number of entries in the deduper.
func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}
