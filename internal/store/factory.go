// SPDX-License-Identifier: MIT

package store

import (
	"path/filepath"

	"github.com/ManuGH/lowroll/internal/apperr"
)

// Options selects and parameterizes a backend.
type Options struct {
	Backend string // "file" or "document"
	DataDir string
	Prefix  string
}

// New constructs the configured backend.
func New(opts Options) (Store, error) {
	switch opts.Backend {
	case "file", "":
		return NewFileStore(filepath.Join(opts.DataDir, "store"), opts.Prefix)
	case "document":
		return OpenBadgerStore(filepath.Join(opts.DataDir, "badger"), opts.Prefix)
	default:
		return nil, apperr.Ef(apperr.KindBadRequest, "unknown store backend %q", opts.Backend)
	}
}
