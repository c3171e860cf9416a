// Package kvstore provides the key-value blob stores that back a journal.
//
// A Store holds independently keyed records. Values are opaque bytes; the
// journal layer decides their encoding. Three backends are provided:
//
//   - MemoryStore: process-local map, used by tests and --backend memory
//   - FileStore: one file per key inside a directory (0600 files, 0700 dir)
//   - SQLiteStore: a single kv table inside journal.db
//
// The on-disk backends hold an exclusive advisory lock on the directory for
// as long as they are open, so at most one process writes a journal.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Constants
const (
	FileMode     = 0600 // Owner read/write only
	DirMode      = 0700 // Owner read/write/execute only
	LockFileName = "journal.lock"
	DBFileName   = "journal.db"

	MaxKeyLength = 128
)

// Errors
var (
	ErrNotFound   = errors.New("kvstore: key not found")
	ErrInUse      = errors.New("kvstore: store is in use by another process")
	ErrClosed     = errors.New("kvstore: store is closed")
	ErrKeyInvalid = errors.New("kvstore: invalid key")
)

// Store is the minimal blob store contract the journal persists through.
// Get returns ErrNotFound for an absent key. Remove of an absent key is not
// an error.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Open opens the named backend rooted at dir.
func Open(backend, dir string) (Store, error) {
	switch backend {
	case BackendMemory:
		return NewMemoryStore(), nil
	case "", BackendFile:
		return OpenFileStore(dir)
	case BackendSQLite:
		return OpenSQLiteStore(dir)
	default:
		return nil, fmt.Errorf("kvstore: unknown backend %q (use file, sqlite or memory)", backend)
	}
}

// validateKey keeps keys usable as file names on every backend.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty", ErrKeyInvalid)
	}
	if len(key) > MaxKeyLength {
		return fmt.Errorf("%w: longer than %d characters", ErrKeyInvalid, MaxKeyLength)
	}
	for _, r := range key {
		if !isValidKeyChar(r) {
			return fmt.Errorf("%w: '%c' is not allowed", ErrKeyInvalid, r)
		}
	}
	if key[0] == '.' || strings.Contains(key, "..") {
		return fmt.Errorf("%w: cannot start with '.' or contain '..'", ErrKeyInvalid)
	}
	if key == LockFileName || strings.HasPrefix(key, DBFileName) {
		return fmt.Errorf("%w: %q is reserved", ErrKeyInvalid, key)
	}
	return nil
}

func isValidKeyChar(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') ||
		r == '-' || r == '_' || r == '.'
}
