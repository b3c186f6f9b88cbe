package executor

import (
	"sync"
	"time"

	"github.com/alanyoungcy/sniperbot/internal/domain"
)

type journalEntry struct {
	fill domain.Fill
	at   time.Time
}

// Journal remembers fills that executed but whose report has not yet been
// acknowledged, so a retried report does not swap twice. Entries expire
// after ttl. It is safe for concurrent use.
type Journal struct {
	mu      sync.Mutex
	entries map[string]journalEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewJournal creates a Journal.
func NewJournal(ttl time.Duration) *Journal {
	return &Journal{
		entries: make(map[string]journalEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Lookup returns an unexpired fill recorded under key.
func (j *Journal) Lookup(key string) (domain.Fill, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, ok := j.entries[key]
	if !ok || j.now().Sub(e.at) >= j.ttl {
		return domain.Fill{}, false
	}
	return e.fill, true
}

// Record stores fill under key.
func (j *Journal) Record(key string, fill domain.Fill) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries[key] = journalEntry{fill: fill, at: j.now()}
}

// Forget drops key once its report was accepted.
func (j *Journal) Forget(key string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.entries, key)
}

// Cleanup removes expired entries.
func (j *Journal) Cleanup() {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := j.now()
	for k, e := range j.entries {
		if now.Sub(e.at) >= j.ttl {
			delete(j.entries, k)
		}
	}
}

// Len returns the number of entries, expired or not.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}
