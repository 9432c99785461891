package mirror

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/mirrorctl/topomirror/internal/artifact"
)

const (
	stagingDirName = ".staging"
	stagingSuffix  = ".zip"
)

// Storage manages the staging directory that holds downloaded archives
// until they are extracted.
type Storage struct {
	dir string
}

// NewStorage constructs Storage, creating dir if needed.
//
// dir must be an absolute path.
func NewStorage(dir string) (*Storage, error) {
	if !filepath.IsAbs(dir) {
		return nil, errors.New("none absolute: " + dir)
	}

	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, err
	}
	st, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !st.Mode().IsDir() {
		return nil, errors.New("not a directory: " + dir)
	}

	return &Storage{dir: dir}, nil
}

// Dir returns the directory of the Storage.
func (s *Storage) Dir() string {
	return s.dir
}

// TempFile creates a new, uniquely named staging file opened for
// reading and writing.
func (s *Storage) TempFile() (*os.File, error) {
	p := filepath.Join(s.dir, uuid.NewString()+stagingSuffix)
	return os.OpenFile(p, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600) // #nosec G304 - name is generated
}

// Purge removes staging files left behind by an interrupted run.
//
// It must only be called while the run lock is held.
func (s *Storage) Purge() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != stagingSuffix {
			continue
		}
		p := filepath.Join(s.dir, e.Name())
		slog.Info("removing stale staging file", "path", p)
		if err := os.Remove(p); err != nil {
			return errors.Wrap(err, "Storage.Purge")
		}
	}
	return nil
}

// StagingArtifact is a downloaded archive owned by exactly one entry's
// processing. Release must be called on every exit path.
type StagingArtifact struct {
	url  string
	name string
	file *os.File
	fi   *artifact.FileInfo
}

func newStagingArtifact(url string, f *os.File) *StagingArtifact {
	return &StagingArtifact{url: url, name: f.Name(), file: f}
}

// Path returns the location of the staging file.
func (a *StagingArtifact) Path() string {
	return a.name
}

// URL returns the URL the artifact was fetched from.
func (a *StagingArtifact) URL() string {
	return a.url
}

// Size returns the number of bytes downloaded.
func (a *StagingArtifact) Size() int64 {
	if a.fi == nil {
		return 0
	}
	return int64(a.fi.Size()) // #nosec G115 - size came from io.Copy
}

// Info returns size and checksum of the downloaded archive.
func (a *StagingArtifact) Info() *artifact.FileInfo {
	return a.fi
}

// Release closes and removes the staging file. It is safe to call
// Release more than once.
func (a *StagingArtifact) Release() error {
	if a.file == nil {
		return nil
	}
	f := a.file
	a.file = nil

	closeErr := f.Close()
	if err := os.Remove(a.name); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove staging file")
	}
	if closeErr != nil {
		return errors.Wrap(closeErr, "close staging file")
	}
	return nil
}
