// Package store is the persistence port for per-user quest state. Documents
// are opaque JSON blobs addressed by namespaced keys.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// ErrNotFound is returned by Load when the key has never been saved.
var ErrNotFound = errors.New("store: key not found")

// Store loads and saves JSON documents by key.
type Store interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, keys ...string) error
}

// Logical document names kept per user.
const (
	ListQuests  = "quests"
	ListXP      = "xp"
	ListRival   = "rival"
	ListProfile = "profile"
)

// Key namespaces a logical list name under a user id: "user:<uid>:<list>".
func Key(userID int64, list string) string {
	return "user:" + strconv.FormatInt(userID, 10) + ":" + list
}

// UserKeys returns every key owned by a user.
func UserKeys(userID int64) []string {
	return []string{
		Key(userID, ListQuests),
		Key(userID, ListXP),
		Key(userID, ListRival),
		Key(userID, ListProfile),
	}
}

// Backend names accepted by New.
const (
	BackendDB    = "db"
	BackendCache = "cache"
)

// UnknownBackendError reports an unsupported storage.backend value.
type UnknownBackendError struct{ Backend string }

func (e *UnknownBackendError) Error() string {
	return fmt.Sprintf("store: unknown backend %q", e.Backend)
}
