package store

import (
	"context"
	"path/filepath"

	"github.com/spf13/afero"
)

// Open returns the store of the given kind rooted at the plugin root.
// SQLite databases always live on the OS filesystem.
func Open(ctx context.Context, kind Kind, fsys afero.Fs, root string) (Store, error) {
	switch kind {
	case KindSQLite:
		return OpenSQLite(ctx, filepath.Join(root, SQLiteFileName))
	default:
		return NewJSONFile(fsys, filepath.Join(root, JSONFileName)), nil
	}
}
