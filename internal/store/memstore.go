package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kavehfayyazi/tremolo/pkg/types"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls further behind loses its oldest pending update, never the newest.
const subscriberBuffer = 16

var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store].
type MemStore struct {
	now func() time.Time

	mu      sync.Mutex
	records map[string]*entry
}

type entry struct {
	rec  Record
	subs map[chan Record]struct{}
}

// NewMemStore returns an empty [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{
		now:     time.Now,
		records: make(map[string]*entry),
	}
}

// Create implements [Store.Create].
func (s *MemStore) Create(_ context.Context, filename string) (Record, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return Record{}, fmt.Errorf("store: generate id for %q: %w", filename, err)
	}
	now := s.now()
	rec := Record{
		ID:        id.String(),
		State:     types.JobQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = &entry{rec: rec, subs: make(map[chan Record]struct{})}
	return rec, nil
}

// Get implements [Store.Get].
func (s *MemStore) Get(_ context.Context, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.records[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return e.rec, nil
}

// List implements [Store.List].
func (s *MemStore) List(_ context.Context) ([]Record, error) {
	s.mu.Lock()
	out := make([]Record, 0, len(s.records))
	for _, e := range s.records {
		out = append(out, e.rec)
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b Record) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

// Update implements [Store.Update].
func (s *MemStore) Update(_ context.Context, id string, fn func(*Record)) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.records[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if e.rec.State.IsTerminal() {
		return e.rec, fmt.Errorf("%w: %q", ErrTerminal, id)
	}

	rec := e.rec
	fn(&rec)
	rec.ID = e.rec.ID
	rec.CreatedAt = e.rec.CreatedAt
	rec.UpdatedAt = s.now()
	e.rec = rec

	for ch := range e.subs {
		deliver(ch, rec)
		if rec.State.IsTerminal() {
			close(ch)
			delete(e.subs, ch)
		}
	}
	return rec, nil
}

// Subscribe implements [Store.Subscribe].
func (s *MemStore) Subscribe(_ context.Context, id string) (<-chan Record, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.records[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}

	ch := make(chan Record, subscriberBuffer)
	ch <- e.rec
	if e.rec.State.IsTerminal() {
		close(ch)
		return ch, func() {}, nil
	}
	e.subs[ch] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := e.subs[ch]; ok {
				delete(e.subs, ch)
				close(ch)
			}
		})
	}
	return ch, cancel, nil
}

// Prune removes terminal records last updated more than retention ago and
// returns how many were removed. Records still in progress are kept.
func (s *MemStore) Prune(_ context.Context, retention time.Duration) int {
	cutoff := s.now().Add(-retention)

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.records {
		if e.rec.State.IsTerminal() && e.rec.UpdatedAt.Before(cutoff) {
			delete(s.records, id)
			n++
		}
	}
	return n
}

// Len returns the number of stored records.
func (s *MemStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// deliver sends rec without blocking, evicting the oldest queued update when
// the channel is full. Callers hold the store lock, so no other goroutine
// sends on ch concurrently.
func deliver(ch chan Record, rec Record) {
	for {
		select {
		case ch <- rec:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
