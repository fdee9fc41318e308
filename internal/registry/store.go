package registry

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Source is a client instance that has uploaded records.
type Source struct {
	InstanceID   string `json:"instance_id"`
	IP           string `json:"ip"`
	UserAgent    string `json:"user_agent,omitempty"`
	FirstSeenAt  int64  `json:"first_seen_at"`
	LastSeenAt   int64  `json:"last_seen_at"`
	Uploads      int64  `json:"uploads"`
	LogRecords   int64  `json:"log_records"`
	HitmapHits   int64  `json:"hitmap_records"`
	LastCategory string `json:"last_category"`
}

// Store keeps the set of recently seen sources in memory.
type Store struct {
	mu      sync.RWMutex
	sources map[string]*Source
	now     func() time.Time
}

// NewStore creates an empty registry.
func NewStore() *Store {
	return &Store{
		sources: make(map[string]*Source),
		now:     time.Now,
	}
}

// Upload describes one successful upload from a source.
type Upload struct {
	InstanceID string
	IP         string
	UserAgent  string
	Category   string
	Saved      int
}

// Observe registers the source of an upload or refreshes it.
func (s *Store) Observe(u Upload) {
	if u.InstanceID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().Unix()
	src, ok := s.sources[u.InstanceID]
	if !ok {
		src = &Source{InstanceID: u.InstanceID, FirstSeenAt: now}
		s.sources[u.InstanceID] = src
	}

	src.IP = u.IP
	if u.UserAgent != "" {
		src.UserAgent = u.UserAgent
	}
	src.LastSeenAt = now
	src.Uploads++
	src.LastCategory = u.Category
	switch u.Category {
	case "hitmap":
		src.HitmapHits += int64(u.Saved)
	default:
		src.LogRecords += int64(u.Saved)
	}
}

// GetSource returns a copy of one source.
func (s *Store) GetSource(instanceID string) (Source, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.sources[instanceID]
	if !ok {
		return Source{}, false
	}
	return *src, true
}

// ListSources returns all sources, most recently seen first.
func (s *Store) ListSources() []Source {
	s.mu.RLock()
	list := make([]Source, 0, len(s.sources))
	for _, src := range s.sources {
		list = append(list, *src)
	}
	s.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].LastSeenAt != list[j].LastSeenAt {
			return list[i].LastSeenAt > list[j].LastSeenAt
		}
		return list[i].InstanceID < list[j].InstanceID
	})
	return list
}

// PruneStale removes sources not seen within timeout and returns how many were removed.
func (s *Store) PruneStale(timeout time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-timeout).Unix()
	count := 0
	for id, src := range s.sources {
		if src.LastSeenAt < cutoff {
			delete(s.sources, id)
			count++
		}
	}
	return count
}

// StartCleanupLoop prunes stale sources every interval until ctx is done.
func (s *Store) StartCleanupLoop(ctx context.Context, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.PruneStale(timeout)
			case <-ctx.Done():
				return
			}
		}
	}()
}
