package store

import (
	"github.com/pixelprogress/server/cache"
	"gorm.io/gorm"
)

// New selects a Store implementation by backend name.
func New(backend string, db *gorm.DB, c cache.Cache) (Store, error) {
	switch backend {
	case BackendDB, "":
		return NewDB(db), nil
	case BackendCache:
		return NewCache(c), nil
	default:
		return nil, &UnknownBackendError{Backend: backend}
	}
}
