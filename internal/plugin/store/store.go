// Package store persists the user's explicit enable/disable choices.
//
// The map holds only ids the user has toggled; plugins without an entry
// fall back to their manifest default.
package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrCorrupt is returned by Load when persisted state cannot be decoded.
// The store is still usable and starts from an empty map.
var ErrCorrupt = errors.New("enabled state is corrupt")

// Store persists id → enabled choices. Writes are synchronous.
type Store interface {
	// Load returns every persisted choice.
	Load(ctx context.Context) (map[string]bool, error)
	// Set records a choice for id.
	Set(ctx context.Context, id string, enabled bool) error
	// Delete forgets the choice for id.
	Delete(ctx context.Context, id string) error
	// Close releases resources.
	Close() error
}

// Kind selects a Store implementation.
type Kind string

// Store kinds.
const (
	KindJSON   Kind = "json"
	KindSQLite Kind = "sqlite"
)

// File names inside the plugin root.
const (
	JSONFileName   = ".plugin-state.json"
	SQLiteFileName = ".plugin-state.db"
)

// ParseKind validates a configured store kind. Empty means JSON.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case "", KindJSON:
		return KindJSON, nil
	case KindSQLite:
		return KindSQLite, nil
	default:
		return "", fmt.Errorf("unknown state store %q", s)
	}
}
