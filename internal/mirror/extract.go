package mirror

import (
	"archive/zip"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mirrorctl/topomirror/internal/artifact"
)

// members returns the file entries of an archive. Directory entries are
// not members.
func members(zr *zip.Reader) []*zip.File {
	var files []*zip.File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			continue
		}
		files = append(files, f)
	}
	return files
}

// writeTracker remembers the first error returned by the destination so
// read failures and write failures can be told apart after io.Copy.
type writeTracker struct {
	w   io.Writer
	err error
}

func (t *writeTracker) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if err != nil && t.err == nil {
		t.err = err
	}
	return n, err
}

// ExtractSingle extracts the only member of the staged zip archive to
// target, creating missing parent directories.
//
// The archive shape is checked before anything is written. The member is
// written next to target and renamed into place, so target is either
// replaced completely or left untouched.
func ExtractSingle(staged *StagingArtifact, target string) (*artifact.FileInfo, error) {
	archiveErr := func(reason ArchiveReason, n int, err error) error {
		return &ArchiveError{Reason: reason, Archive: staged.URL(), Members: n, Err: err}
	}

	if staged.file == nil {
		return nil, archiveErr(ArchiveUnreadable, 0, os.ErrClosed)
	}
	zr, err := zip.NewReader(staged.file, staged.Size())
	if err != nil {
		return nil, archiveErr(ArchiveUnreadable, 0, err)
	}

	files := members(zr)
	switch len(files) {
	case 0:
		return nil, archiveErr(ArchiveEmpty, 0, nil)
	case 1:
	default:
		return nil, archiveErr(ArchiveAmbiguous, len(files), nil)
	}
	member := files[0]

	src, err := member.Open()
	if err != nil {
		return nil, archiveErr(ArchiveUnreadable, 1, err)
	}
	defer func() {
		if err := src.Close(); err != nil {
			slog.Warn("failed to close archive member", "member", member.Name, "error", err)
		}
	}()

	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, archiveErr(ArchiveWriteFailed, 1, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".part-*")
	if err != nil {
		return nil, archiveErr(ArchiveWriteFailed, 1, err)
	}
	tmpName := tmp.Name()
	renamed := false
	defer func() {
		if renamed {
			return
		}
		_ = tmp.Close()
		if err := os.Remove(tmpName); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove partial file", "path", tmpName, "error", err)
		}
	}()

	dst := &writeTracker{w: tmp}
	fi, err := artifact.CopyWithFileInfo(dst, src, target)
	if err != nil {
		if dst.err != nil {
			return nil, archiveErr(ArchiveWriteFailed, 1, err)
		}
		return nil, archiveErr(ArchiveUnreadable, 1, err)
	}
	if err := tmp.Chmod(0644); err != nil {
		return nil, archiveErr(ArchiveWriteFailed, 1, err)
	}
	if err := tmp.Sync(); err != nil {
		return nil, archiveErr(ArchiveWriteFailed, 1, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, archiveErr(ArchiveWriteFailed, 1, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return nil, archiveErr(ArchiveWriteFailed, 1, err)
	}
	renamed = true

	if err := DirSync(dir); err != nil {
		slog.Warn("failed to sync directory", "dir", dir, "error", err)
	}

	slog.Debug("extracted archive member", "member", member.Name, "path", target, "bytes", fi.Size(), "sha256", fi.SHA256())
	return fi, nil
}
