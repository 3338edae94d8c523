package archive

import (
	"context"
	"sync"

	"github.com/austindbirch/thought_relay/internal/delivery"
)

// memoryStore keeps the newest records in process. It is the default driver:
// good enough for single-node operation and tests, gone on restart.
type memoryStore struct {
	mu      sync.Mutex
	cap     int
	results []Record
	letters []delivery.DeadLetter
}

func newMemoryStore(cap int) *memoryStore {
	if cap <= 0 {
		cap = DefaultMemoryCap
	}
	return &memoryStore{cap: cap}
}

func (s *memoryStore) SaveResult(_ context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
	if len(s.results) > s.cap {
		s.results = s.results[len(s.results)-s.cap:]
	}
	return nil
}

func (s *memoryStore) SaveDeadLetter(_ context.Context, dl delivery.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.letters = append(s.letters, dl)
	if len(s.letters) > s.cap {
		s.letters = s.letters[len(s.letters)-s.cap:]
	}
	return nil
}

func (s *memoryStore) Ping(context.Context) error { return nil }

func (s *memoryStore) Close() error { return nil }

// recent returns the retained results, oldest first.
func (s *memoryStore) recent() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.results...)
}

func (s *memoryStore) deadLetters() []delivery.DeadLetter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]delivery.DeadLetter(nil), s.letters...)
}
