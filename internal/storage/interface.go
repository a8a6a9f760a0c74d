package storage

import "context"

// Storage is the durable key/value store shared by every extension context.
// Writes are last-writer-wins; there are no transactions.
type Storage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error

	Init() error
	Close() error
	Backup() error
}
