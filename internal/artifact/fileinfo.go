package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/cockroachdb/errors"
)

// FileInfo is a set of meta data of a mirrored file.
type FileInfo struct {
	path   string
	size   uint64
	sha256 []byte // nil means the checksum was not computed
}

// Path returns the local path of the file.
func (fi *FileInfo) Path() string {
	return fi.path
}

// Size returns the number of bytes of the file body.
func (fi *FileInfo) Size() uint64 {
	return fi.size
}

// SHA256 returns the hex encoded SHA-256 checksum, or an empty string.
func (fi *FileInfo) SHA256() string {
	if fi.sha256 == nil {
		return ""
	}
	return hex.EncodeToString(fi.sha256)
}

// SizeEquals reports whether the file body is exactly n bytes long.
func (fi *FileInfo) SizeEquals(n int64) bool {
	if n < 0 {
		return false
	}
	return fi.size == uint64(n) // #nosec G115 - n checked non-negative
}

// CopyWithFileInfo copies from src to dst until either EOF is reached
// on src or an error occurs, and returns FileInfo calculated while copying.
func CopyWithFileInfo(dst io.Writer, src io.Reader, p string) (*FileInfo, error) {
	sha256hash := sha256.New()

	w := io.MultiWriter(sha256hash, dst)
	n, err := io.Copy(w, src)
	if err != nil {
		return nil, err
	}

	return &FileInfo{
		path:   p,
		size:   uint64(n), // #nosec G115 - io.Copy returns int64, conversion is safe as n >= 0
		sha256: sha256hash.Sum(nil),
	}, nil
}

// Stat builds a FileInfo without checksum from the file at p.
//
// Only regular files are accepted.
func Stat(p string) (*FileInfo, error) {
	st, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	if !st.Mode().IsRegular() {
		return nil, errors.New("not a regular file: " + p)
	}
	if st.Size() < 0 {
		return nil, errors.Newf("invalid file size %d for %s", st.Size(), p)
	}
	return MakeFileInfoNoChecksum(p, uint64(st.Size())), nil // #nosec G115 - checked above
}

// MakeFileInfoNoChecksum constructs a FileInfo without calculating checksums.
func MakeFileInfoNoChecksum(path string, size uint64) *FileInfo {
	return &FileInfo{
		path: path,
		size: size,
	}
}
