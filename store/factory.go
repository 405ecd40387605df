package store

import (
	"fmt"

	"github.com/spf13/afero"
)

// New creates a Store based on the backend name.
//
// Supported backends:
//
//	"json"   - JSON files under root on the local disk (default); root must exist
//	"memory" - JSON files on an in-memory filesystem (ephemeral, for testing)
func New(backend, root string, opts ...Option) (*Store, error) {
	switch backend {
	case "json", "":
		return Open(root, opts...)
	case "memory":
		fs := afero.NewMemMapFs()
		if err := fs.MkdirAll(root, 0o755); err != nil {
			return nil, err
		}
		return Open(root, append(opts, WithFs(fs))...)
	default:
		return nil, fmt.Errorf("unknown store backend: %q (supported: json, memory)", backend)
	}
}

