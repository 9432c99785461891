package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/cockroachdb/errors"

	"github.com/mirrorctl/topomirror/internal/artifact"
	"github.com/mirrorctl/topomirror/internal/catalog"
)

// Outcome is the result of synchronizing one entry.
type Outcome int

// Entry outcomes. Pending is only produced by Plan.
const (
	Pending Outcome = iota
	AlreadyCurrent
	Updated
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Pending:
		return "pending"
	case AlreadyCurrent:
		return "current"
	case Updated:
		return "updated"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Result describes what happened to one entry.
type Result struct {
	Entry   *catalog.Entry
	Path    string
	Outcome Outcome

	// Bytes is the size of the downloaded archive, if any.
	Bytes int64

	// Err is set when Outcome is Failed.
	Err error
}

// Synchronizer makes manifest entries present in the mirror, one at a time.
type Synchronizer struct {
	root   string
	client *HTTPClient
}

// NewSynchronizer constructs a Synchronizer writing below root.
func NewSynchronizer(root string, client *HTTPClient) *Synchronizer {
	return &Synchronizer{
		root:   root,
		client: client,
	}
}

// Sync ensures the artifact of entry exists locally with the declared size.
//
// A current artifact is left alone and no request is made. Otherwise the
// archive is downloaded, its single member extracted and the result
// verified. The staging file is removed on every path.
func (s *Synchronizer) Sync(ctx context.Context, entry *catalog.Entry) Result {
	p := ResolvePath(entry.Region, entry.MapName, s.root)
	r := Result{Entry: entry, Path: p}

	if IsCurrent(p, entry.ByteCount) {
		r.Outcome = AlreadyCurrent
		return r
	}

	n, err := s.update(ctx, entry, p)
	r.Bytes = n
	if err != nil {
		r.Outcome = Failed
		r.Err = err
		return r
	}
	r.Outcome = Updated
	return r
}

// Plan reports whether entry would be downloaded, without any network access.
func (s *Synchronizer) Plan(entry *catalog.Entry) Result {
	p := ResolvePath(entry.Region, entry.MapName, s.root)
	r := Result{Entry: entry, Path: p, Outcome: Pending}
	if IsCurrent(p, entry.ByteCount) {
		r.Outcome = AlreadyCurrent
	}
	return r
}

func (s *Synchronizer) update(ctx context.Context, entry *catalog.Entry, p string) (int64, error) {
	staged, err := s.client.Fetch(ctx, entry.URL)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := staged.Release(); err != nil {
			slog.Warn("cleanup warning", "cell_id", entry.CellID, "path", staged.Path(), "error", err)
		}
	}()
	slog.Debug("archive staged", "cell_id", entry.CellID, "bytes", staged.Info().Size(), "sha256", staged.Info().SHA256())

	fi, err := ExtractSingle(staged, p)
	if err != nil {
		return staged.Size(), err
	}
	slog.Debug("artifact extracted", "cell_id", entry.CellID, "path", fi.Path(), "sha256", fi.SHA256())

	if err := verifySize(p, entry.ByteCount); err != nil {
		if rmErr := os.Remove(p); rmErr != nil && !os.IsNotExist(rmErr) {
			slog.Warn("failed to remove corrupt artifact", "path", p, "error", rmErr)
		}
		return staged.Size(), err
	}
	return staged.Size(), nil
}

// verifySize checks the extracted artifact against the declared size.
func verifySize(p string, expected int64) error {
	fi, err := artifact.Stat(p)
	if err != nil {
		return errors.Wrap(err, "verify "+p)
	}
	if !fi.SizeEquals(expected) {
		return &SizeMismatchError{
			Path:     p,
			Expected: expected,
			Actual:   int64(fi.Size()), // #nosec G115 - came from os.Stat
		}
	}
	return nil
}
