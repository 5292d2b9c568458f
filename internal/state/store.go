package state

import "context"

// Store is the durable key/value surface shared by components that need
// to survive restarts, currently the per-symbol leverage cache.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}
