package mirror

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/mirrorctl/topomirror/internal/catalog"
)

const (
	lockFilename = ".lock"
)

// RunOptions are per-invocation switches that are not part of Config.
type RunOptions struct {
	// DryRun reports stale entries without downloading anything.
	DryRun bool
}

// validateLockFilePath checks that lockFile lies inside baseDir.
func validateLockFilePath(lockFile, baseDir string) error {
	if strings.Contains(lockFile, "..") {
		return errors.New("unsafe lock file path (contains directory traversal): " + lockFile)
	}

	rel, err := filepath.Rel(filepath.Clean(baseDir), filepath.Clean(lockFile))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return errors.New("lock file path outside of base directory: " + lockFile)
	}
	return nil
}

// acquireLock takes the run lock in dir. The returned function releases it.
func acquireLock(dir string) (func(), error) {
	lockFile := filepath.Join(dir, lockFilename)
	if err := validateLockFilePath(lockFile, dir); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(lockFile, os.O_RDWR|os.O_CREATE, 0644) // #nosec G304,G302 - lockFile path validated, 0644 standard for lock files
	if err != nil {
		return nil, err
	}

	fileLock := Flock{file}
	if err := fileLock.Lock(); err != nil {
		_ = file.Close()
		return nil, errors.Wrap(err, "another run holds the lock")
	}

	return func() {
		if err := fileLock.Unlock(); err != nil {
			slog.Warn("failed to unlock file", "error", err)
		}
		if err := file.Close(); err != nil {
			slog.Warn("failed to close lock file", "error", err)
		}
	}, nil
}

// Run synchronizes every relevant manifest entry into config.Dir.
//
// The first thing to do is to acquire flock on the lock file.
//
// Entries are processed one at a time in manifest order. With the
// "continue" policy a failed entry is logged and the run proceeds; the
// returned error then wraps ErrEntriesFailed. With "abort" the first
// failure ends the run. The summary is returned in both cases.
func Run(ctx context.Context, config *Config, opts RunOptions) (*Summary, error) {
	if err := config.Check(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, err
	}

	release, err := acquireLock(config.Dir)
	if err != nil {
		return nil, errors.Wrap(err, "Run")
	}
	defer release()

	return syncAll(ctx, config, opts)
}

// syncAll reads the manifest in one goroutine and feeds entries to the
// synchronizer in another. The channel is unbuffered, so the reader stays
// at most one row ahead and downloads stay sequential.
func syncAll(ctx context.Context, config *Config, opts RunOptions) (*Summary, error) {
	staging, err := NewStorage(filepath.Join(config.Dir, stagingDirName))
	if err != nil {
		return nil, errors.Wrap(err, "staging")
	}
	if err := staging.Purge(); err != nil {
		return nil, err
	}
	slog.Debug("staging directory ready", "dir", staging.Dir())

	if config.Signature != nil {
		if err := catalog.VerifySignature(config.Manifest, config.Signature.Path, config.Signature.PGPKeyPath); err != nil {
			return nil, err
		}
	}

	reader, err := catalog.Open(config.Manifest)
	if err != nil {
		return nil, errors.Wrap(err, "open manifest")
	}
	defer func() {
		if err := reader.Close(); err != nil {
			slog.Warn("failed to close manifest", "error", err)
		}
	}()

	syncer := NewSynchronizer(config.Dir, NewHTTPClient(config.HTTPConfig(), staging))
	summary := &Summary{DryRun: opts.DryRun}
	start := time.Now()

	if opts.DryRun {
		slog.Info("dry-run mode: checking local files without downloading")
	} else {
		slog.Info("sync starts", "manifest", config.Manifest, "dir", config.Dir, "on_failure", config.OnFailure)
	}

	entries := make(chan *catalog.Entry)
	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		defer close(entries)
		for {
			entry, err := reader.Next()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return errors.Wrap(err, "read manifest")
			}
			select {
			case entries <- entry:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	// An entry in flight finishes under ctx, not gctx: a manifest error
	// further down must not cut short a download already under way.
	group.Go(func() error {
		for entry := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}

			var r Result
			if opts.DryRun {
				r = syncer.Plan(entry)
			} else {
				r = syncer.Sync(ctx, entry)
			}
			summary.Add(r)
			logResult(r)

			if r.Outcome == Failed && config.OnFailure == OnFailureAbort {
				summary.Aborted = true
				return errors.Wrapf(r.Err, "%s", r.Entry)
			}
		}
		return ctx.Err()
	})

	err = group.Wait()

	summary.Skipped = reader.Skipped()
	summary.Elapsed = time.Since(start)
	summary.Log()

	if err != nil {
		return summary, err
	}
	if summary.Failed > 0 {
		return summary, errors.Wrapf(ErrEntriesFailed, "%d of %d entries failed", summary.Failed, summary.Total())
	}
	return summary, nil
}

// logResult reports one entry outcome to the verbosity sink.
func logResult(r Result) {
	attrs := []any{"cell_id", r.Entry.CellID, "name", r.Entry.MapName, "path", r.Path}
	switch r.Outcome {
	case AlreadyCurrent:
		slog.Debug("already current", attrs...)
	case Pending:
		slog.Info("would download", append(attrs, "size", r.Entry.ByteCount, "url", r.Entry.URL)...)
	case Updated:
		slog.Info("updated", append(attrs, "size", r.Entry.ByteCount, "downloaded", r.Bytes)...)
	case Failed:
		attrs = append(attrs, "line", r.Entry.Line, "kind", errorKind(r.Err))
		attrs = append(attrs, errorAttrs(r.Err)...)
		slog.Error("entry failed", append(attrs, "error", r.Err)...)
	}
}

// Collision is a local path that more than one manifest entry resolves to.
type Collision struct {
	Path    string
	Entries []string
}

// CatalogReport describes a manifest as the mirror would see it.
type CatalogReport struct {
	Accepted      int
	Skipped       int
	DeclaredBytes int64
	Current       int
	Collisions    []Collision
}

// Inspect reads the manifest without network access and reports accepted
// entries, local state and local path collisions.
func Inspect(config *Config) (*CatalogReport, error) {
	reader, err := catalog.Open(config.Manifest)
	if err != nil {
		return nil, errors.Wrap(err, "open manifest")
	}
	defer func() {
		if err := reader.Close(); err != nil {
			slog.Warn("failed to close manifest", "error", err)
		}
	}()

	report := &CatalogReport{}
	byPath := make(map[string][]string)
	var order []string
	for {
		entry, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "read manifest")
		}

		report.DeclaredBytes += entry.ByteCount
		p := ResolvePath(entry.Region, entry.MapName, config.Dir)
		if IsCurrent(p, entry.ByteCount) {
			report.Current++
		}
		if _, ok := byPath[p]; !ok {
			order = append(order, p)
		}
		byPath[p] = append(byPath[p], entry.String())
	}
	report.Accepted = reader.Accepted()
	report.Skipped = reader.Skipped()

	for _, p := range order {
		if len(byPath[p]) > 1 {
			report.Collisions = append(report.Collisions, Collision{Path: p, Entries: byPath[p]})
		}
	}
	sort.Slice(report.Collisions, func(i, j int) bool {
		return report.Collisions[i].Path < report.Collisions[j].Path
	})
	return report, nil
}
