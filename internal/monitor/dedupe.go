package monitor

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"guardianpath/internal/model"
)

const dedupeCompactAt = 10000

// DedupeCache remembers keys for a TTL.
type DedupeCache struct {
	mu    sync.Mutex
	items map[string]time.Time
}

func NewDedupeCache() *DedupeCache {
	return &DedupeCache{items: make(map[string]time.Time)}
}

// Seen reports whether key was recorded within ttl of now, recording it when
// it was not.
func (d *DedupeCache) Seen(key string, now time.Time, ttl time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ts, ok := d.items[key]; ok {
		if now.Sub(ts) <= ttl {
			return true
		}
	}
	d.items[key] = now
	if len(d.items) > dedupeCompactAt {
		d.compact(now, ttl)
	}
	return false
}

func (d *DedupeCache) Reset() {
	d.mu.Lock()
	d.items = make(map[string]time.Time)
	d.mu.Unlock()
}

func (d *DedupeCache) compact(now time.Time, ttl time.Duration) {
	for k, ts := range d.items {
		if now.Sub(ts) > ttl {
			delete(d.items, k)
		}
	}
}

// hashEvent keys an access event by what it records, not by its id, so a
// replayed log line with a fresh id is still a duplicate.
func hashEvent(ev model.AccessEvent) string {
	parts := []string{
		ev.IdentityID,
		ev.LocationID,
		ev.DeviceID,
		ev.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	h := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h[:])
}

// EmittedSet remembers which records already raised an alert. Keys live as
// long as their record is still derivable from the history; Retain drops the
// rest after each recompute.
type EmittedSet struct {
	mu    sync.Mutex
	items map[string]struct{}
}

func NewEmittedSet() *EmittedSet {
	return &EmittedSet{items: make(map[string]struct{})}
}

// Mark records key and reports whether it was new.
func (s *EmittedSet) Mark(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[key]; ok {
		return false
	}
	s.items[key] = struct{}{}
	return true
}

func (s *EmittedSet) Retain(live map[string]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.items {
		if _, ok := live[k]; !ok {
			delete(s.items, k)
		}
	}
}

func (s *EmittedSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *EmittedSet) Reset() {
	s.mu.Lock()
	s.items = make(map[string]struct{})
	s.mu.Unlock()
}
