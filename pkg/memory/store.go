package memory

import "context"

// Store is the persistent key-value mechanism backing entity memory and
// the input queue. Implementations provide per-key last-write-wins
// semantics; they are not required to serialize read-modify-write cycles
// across processes.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
