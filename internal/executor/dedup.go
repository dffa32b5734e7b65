package executor

import (
	"sync"
	"time"
)

// Dedup remembers request IDs so a request replayed from the stream or
// resubmitted by a client runs at most once. An ID is held until the later
// of its request's expiry and the TTL; after that the signature check
// rejects a replay anyway. Safe for concurrent use.
type Dedup struct {
	mu    sync.Mutex
	until map[string]time.Time
	ttl   time.Duration
	now   func() time.Time
}

// NewDedup creates a Dedup holding IDs for at least ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		until: make(map[string]time.Time),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Seen reports whether id is already held. An ID not held is recorded
// until max(expiresAt, now+ttl) and false is returned.
func (d *Dedup) Seen(id string, expiresAt time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if end, ok := d.until[id]; ok && now.Before(end) {
		return true
	}
	end := now.Add(d.ttl)
	if expiresAt.After(end) {
		end = expiresAt
	}
	d.until[id] = end
	return false
}

// Cleanup drops IDs whose hold has ended.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for id, end := range d.until {
		if !now.Before(end) {
			delete(d.until, id)
		}
	}
}

// Len returns the number of held IDs.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.until)
}
