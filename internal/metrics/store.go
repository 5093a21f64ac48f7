package metrics

import (
	"sort"
	"sync"
	"time"

	"guardianpath/internal/model"
)

// Store keeps the latest per-identity risk roll-up between recomputes.
type Store struct {
	mu         sync.RWMutex
	byIdentity map[string]model.IdentityMetrics
	limit      int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 5000
	}
	return &Store{
		byIdentity: make(map[string]model.IdentityMetrics),
		limit:      limit,
	}
}

func (s *Store) Update(m model.IdentityMetrics) {
	if m.IdentityID == "" {
		return
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byIdentity[m.IdentityID] = m
	if len(s.byIdentity) > s.limit {
		s.evictOldest()
	}
}

// Replace swaps in the full result of one recompute.
func (s *Store) Replace(list []model.IdentityMetrics) {
	now := time.Now().UTC()
	next := make(map[string]model.IdentityMetrics, len(list))
	for _, m := range list {
		if m.IdentityID == "" {
			continue
		}
		if m.UpdatedAt.IsZero() {
			m.UpdatedAt = now
		}
		next[m.IdentityID] = m
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byIdentity = next
	for len(s.byIdentity) > s.limit {
		s.evictOldest()
	}
}

func (s *Store) Get(identityID string) (model.IdentityMetrics, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byIdentity[identityID]
	return m, ok
}

// GetAll returns every entry ordered by descending max risk, then id.
func (s *Store) GetAll() []model.IdentityMetrics {
	s.mu.RLock()
	out := make([]model.IdentityMetrics, 0, len(s.byIdentity))
	for _, m := range s.byIdentity {
		out = append(out, m)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].MaxRiskScore != out[j].MaxRiskScore {
			return out[i].MaxRiskScore > out[j].MaxRiskScore
		}
		return out[i].IdentityID < out[j].IdentityID
	})
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byIdentity)
}

func (s *Store) evictOldest() {
	var oldestID string
	var oldest time.Time
	for id, m := range s.byIdentity {
		if oldestID == "" || m.UpdatedAt.Before(oldest) {
			oldestID = id
			oldest = m.UpdatedAt
		}
	}
	if oldestID != "" {
		delete(s.byIdentity, oldestID)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byIdentity = make(map[string]model.IdentityMetrics)
}
