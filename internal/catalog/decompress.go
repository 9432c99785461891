package catalog

import (
	"compress/bzip2"
	"compress/gzip"
	"io"
	"path"
	"strings"

	"github.com/ulikunitz/xz"
)

// decompress wraps r according to the compression suffix of name.
//
// The returned ReadCloser does not close r.
func decompress(name string, r io.Reader) (io.ReadCloser, error) {
	switch strings.ToLower(path.Ext(name)) {
	case ".gz":
		return gzip.NewReader(r)
	case ".bz2":
		return io.NopCloser(bzip2.NewReader(r)), nil
	case ".xz":
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(xr), nil
	}
	return io.NopCloser(r), nil
}
