package builder

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/qobs-build/qbuild/internal/msg"
	"github.com/rotisserie/eris"
)

// Clean deletes everything inside dir but keeps dir itself. A missing directory is already clean.
func Clean(dir string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return eris.Wrapf(err, "could not read %s", dir)
	}

	for _, entry := range entries {
		item := filepath.Join(dir, entry.Name())
		msg.Logger().Debug().Str("path", item).Msg("removing")
		if err := os.RemoveAll(item); err != nil {
			return eris.Wrapf(err, "could not delete %s", item)
		}
	}
	return nil
}
