package checkpoint

import (
	"fmt"
	"sync"

	"dw2rc/internal/results"
)

// JSONStore keeps the results map in memory and rewrites results.json
// after every change
type JSONStore struct {
	path    string
	mu      sync.Mutex
	records map[string]Record
	closed  bool
}

// NewJSONStore loads an existing results file, if any
func NewJSONStore(path string) (*JSONStore, error) {
	records := make(map[string]Record)
	if _, err := results.ReadJSON(path, &records); err != nil {
		return nil, fmt.Errorf("failed to load results map: %w", err)
	}
	return &JSONStore{path: path, records: records}, nil
}

// Get returns a copy of one record, or nil
func (s *JSONStore) Get(key string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	return clone(r), nil
}

// Put stores a record and flushes the whole map
func (s *JSONStore) Put(key string, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("results store is closed")
	}
	s.records[key] = clone(record)
	return results.WriteJSON(s.path, s.records)
}

// All returns a copy of every record
func (s *JSONStore) All() (map[string]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]Record, len(s.records))
	for k, v := range s.records {
		out[k] = clone(v)
	}
	return out, nil
}

// Close marks the store closed
func (s *JSONStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func clone(r Record) Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
