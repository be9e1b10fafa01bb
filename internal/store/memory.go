package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/hicpool/pool-engine/internal/model"
)

// MemoryStore implements Store with in-memory slices. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	events    []model.Event
	seqs      map[uint64]struct{}
	snapshots []model.Snapshot
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		seqs: make(map[uint64]struct{}),
	}
}

func (s *MemoryStore) AppendEvents(_ context.Context, events []model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ev := range events {
		if _, dup := s.seqs[ev.Seq]; dup {
			return fmt.Errorf("event seq %d already stored", ev.Seq)
		}
	}
	for _, ev := range events {
		// Store a copy to avoid external mutation.
		if ev.Bank != nil {
			b := *ev.Bank
			ev.Bank = &b
		}
		s.events = append(s.events, ev)
		s.seqs[ev.Seq] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) ListEvents(_ context.Context, f model.EventFilter) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Event
	for _, ev := range s.events {
		if !f.Match(ev) {
			continue
		}
		if ev.Bank != nil {
			b := *ev.Bank
			ev.Bank = &b
		}
		result = append(result, ev)
		if f.Limit > 0 && len(result) == f.Limit {
			break
		}
	}
	return result, nil
}

func (s *MemoryStore) TruncateEvents(_ context.Context, afterSeq uint64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	for _, ev := range s.events {
		if ev.Seq <= afterSeq {
			kept = append(kept, ev)
			continue
		}
		delete(s.seqs, ev.Seq)
	}
	removed := int64(len(s.events) - len(kept))
	clear(s.events[len(kept):])
	s.events = kept
	return removed, nil
}

func (s *MemoryStore) SaveSnapshot(_ context.Context, snap model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap.State = append([]byte(nil), snap.State...)
	s.snapshots = append(s.snapshots, snap)
	return nil
}

func (s *MemoryStore) LatestSnapshot(_ context.Context) (*model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *model.Snapshot
	for i := range s.snapshots {
		if latest == nil || s.snapshots[i].LastSeq >= latest.LastSeq {
			latest = &s.snapshots[i]
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	out := *latest
	out.State = append([]byte(nil), latest.State...)
	return &out, nil
}
