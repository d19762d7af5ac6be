package checkpoint

import (
	"fmt"
)

// Record is one entry of the batch-wide results map, either a flattened
// conversion result or an {name, error} entry for a skipped repository.
type Record map[string]any

// Records for skipped repositories carry SkipKey with one of these reasons
const (
	SkipKey                 = "skip"
	SkipInvalidName         = "invalid_name"
	SkipUnsupportedLanguage = "unsupported_language"
)

// Store defines the interface for the batch results map. Every Put is
// flushed before it returns so an interrupted run loses at most the
// in-flight item.
type Store interface {
	Get(key string) (Record, error)
	Put(key string, record Record) error
	All() (map[string]Record, error)

	// Cleanup
	Close() error
}

const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Open creates the store for the configured backend
func Open(backend, path string) (Store, error) {
	switch backend {
	case "", BackendJSON:
		return NewJSONStore(path)
	case BackendSQLite:
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", backend)
	}
}
