package store

import (
	"fmt"
	"path/filepath"
)

// Open creates a Store based on the backend configuration.
func Open(backend, dataDir string) (Store, error) {
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSqliteStore(filepath.Join(dataDir, "submissions.db"))
	case "badger":
		return OpenBadgerStore(filepath.Join(dataDir, "submissions.badger"))
	default:
		return nil, fmt.Errorf("unknown queue store backend: %s", backend)
	}
}
