package mirror

import (
	"os"
	"syscall"

	"github.com/cockroachdb/errors"
)

// Flock is an advisory exclusive lock on an open file.
type Flock struct {
	File *os.File
}

// Lock acquires the lock without blocking. It fails if another open
// file description holds the lock.
func (f Flock) Lock() error {
	for {
		err := syscall.Flock(int(f.File.Fd()), syscall.LOCK_EX|syscall.LOCK_NB) // #nosec G115 - fd fits in int
		if err == syscall.EINTR {
			continue
		}
		if err != nil {
			return errors.Wrap(err, "flock "+f.File.Name())
		}
		return nil
	}
}

// Unlock releases the lock.
func (f Flock) Unlock() error {
	return syscall.Flock(int(f.File.Fd()), syscall.LOCK_UN) // #nosec G115 - fd fits in int
}
