package mirror

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

// DirSync calls fsync(2) on the directory to save changes in the directory.
//
// This should be called after os.Create, os.Rename and so on.
func DirSync(d string) error {
	if !filepath.IsAbs(d) {
		return errors.New("DirSync: not an absolute path: " + d)
	}

	f, err := os.Open(filepath.Clean(d)) // #nosec G304 - directory inside the mirror root
	if err != nil {
		return err
	}
	err = f.Sync()
	if err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
