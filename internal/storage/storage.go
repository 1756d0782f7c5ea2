package storage

import (
	"fmt"
	"time"

	"github.com/pitabwire/frame/datastore/pool"

	"github.com/dialogforge/dialogforge/pkg/memory"
)

// Supported values for the STORAGE_BACKEND setting.
const (
	BackendMemory   = "memory"
	BackendDatabase = "database"
)

// New selects the conversation state backend by name. The database
// backend needs the service datastore pool; the memory backend ignores it.
func New(backend string, ttl time.Duration, dbPool pool.Pool) (memory.Store, error) {
	switch backend {
	case "", BackendMemory:
		return NewMemStore(ttl), nil
	case BackendDatabase:
		if dbPool == nil {
			return nil, fmt.Errorf("storage backend %q requires a datastore", backend)
		}
		return NewGormStore(dbPool), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
