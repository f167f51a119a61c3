package kvstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"unicode"
	"unicode/utf8"

	"github.com/contentsquare/counterd/clients"
	"github.com/contentsquare/counterd/config"
)

// Store keeps string values identified by key
type Store interface {
	io.Closer

	// Name returns the backend name
	Name() string

	// Get returns ErrMissing if there is no value for key
	Get(ctx context.Context, key string) (string, error)

	// Put creates or replaces the value for key
	Put(ctx context.Context, key, value string) error

	// Delete returns ErrMissing if there is no value for key
	Delete(ctx context.Context, key string) error

	// Keys returns all stored keys in ascending order
	Keys(ctx context.Context) ([]string, error)
}

// MaxKeyLength is the maximum key length in bytes
const MaxKeyLength = 250

var (
	// ErrMissing is returned when the entry isn't found in the store.
	ErrMissing = errors.New("missing kv entry")

	// ErrInvalidKey is returned for keys not passing ValidateKey.
	ErrInvalidKey = errors.New("invalid key")
)

// ValidateKey checks that key is non-empty, at most MaxKeyLength bytes long
// and contains neither `/` nor whitespace or control characters.
func ValidateKey(key string) error {
	if len(key) == 0 {
		return fmt.Errorf("%w: key must not be empty", ErrInvalidKey)
	}
	if len(key) > MaxKeyLength {
		return fmt.Errorf("%w: key must be at most %d bytes long", ErrInvalidKey, MaxKeyLength)
	}
	if !utf8.ValidString(key) {
		return fmt.Errorf("%w: key must be valid utf-8", ErrInvalidKey)
	}
	for i, r := range key {
		if r == '/' || unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("%w: forbidden character %q at position %d", ErrInvalidKey, r, i)
		}
	}
	return nil
}

// New creates the store for the configured backend
func New(cfg config.KVStore) (Store, error) {
	switch cfg.Backend {
	case config.BackendInMemory:
		return newInMemoryStore(), nil
	case config.BackendRedis:
		client, err := clients.NewRedisClient(cfg.Redis)
		if err != nil {
			return nil, err
		}
		return newRedisStore(client, cfg.Redis), nil
	case config.BackendSQLite:
		return newSQLiteStore(cfg.SQLite.Path)
	default:
		panic(fmt.Sprintf("BUG: unexpected kv_store backend %q", cfg.Backend))
	}
}
