package mirror

import (
	"github.com/mirrorctl/topomirror/internal/artifact"
)

// IsCurrent returns true if a regular file of exactly expected bytes
// exists at p. Any other state, including a stat error, means the file
// must be downloaded again.
func IsCurrent(p string, expected int64) bool {
	fi, err := artifact.Stat(p)
	if err != nil {
		return false
	}
	return fi.SizeEquals(expected)
}
