package mirror

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/mirrorctl/topomirror/internal/catalog"
)

func testConfig(t *testing.T, manifest string) *Config {
	t.Helper()

	c := NewConfig()
	c.Manifest = manifest
	c.Dir = filepath.Join(t.TempDir(), "mirror")
	return c
}

// threeMaps serves two good archives around a missing one.
func threeMaps(t *testing.T, srv *archiveServer) []manifestRow {
	t.Helper()

	return []manifestRow{
		{"25910", "Grand Canyon East", "AZ", 500, srv.serve("/gce.zip", makeZip(t, zipMember{"gce.pdf", pdf(500)}))},
		{"31001", "Flagstaff North", "AZ", 1000, srv.fail("/flagstaff.zip", 404)},
		{"40001", "Yosemite Valley", "CA", 700, srv.serve("/yv.zip", makeZip(t, zipMember{"yv.pdf", pdf(700)}))},
	}
}

func TestRunContinue(t *testing.T) {
	t.Parallel()

	srv := newArchiveServer(t)
	config := testConfig(t, writeManifest(t, t.TempDir(), threeMaps(t, srv)...))

	summary, err := Run(context.Background(), config, RunOptions{})
	if !errors.Is(err, ErrEntriesFailed) {
		t.Fatalf("err = %v, want ErrEntriesFailed", err)
	}
	if summary == nil {
		t.Fatal("summary is nil")
	}
	if summary.Updated != 2 || summary.Failed != 1 || summary.Current != 0 {
		t.Errorf("updated/failed/current = %d/%d/%d, want 2/1/0", summary.Updated, summary.Failed, summary.Current)
	}
	if summary.Aborted {
		t.Error("continue policy must not abort")
	}
	if len(summary.Failures) != 1 || summary.Failures[0].Entry.CellID != "31001" {
		t.Errorf("Failures = %v, want cell 31001", summary.Failures)
	}

	if !IsCurrent(filepath.Join(config.Dir, "CA", "Yosemite Valley.pdf"), 700) {
		t.Error("entry after the failure was not processed")
	}
	if files := stagingFiles(t, config.Dir); len(files) != 0 {
		t.Errorf("staging files left behind: %v", files)
	}
}

func TestRunAbort(t *testing.T) {
	t.Parallel()

	srv := newArchiveServer(t)
	config := testConfig(t, writeManifest(t, t.TempDir(), threeMaps(t, srv)...))
	config.OnFailure = OnFailureAbort

	summary, err := Run(context.Background(), config, RunOptions{})
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("err = %v, want *NetworkError", err)
	}
	if !strings.Contains(err.Error(), "Flagstaff North") {
		t.Errorf("error does not name the entry: %v", err)
	}
	if !summary.Aborted {
		t.Error("summary is not marked aborted")
	}
	if summary.Updated != 1 || summary.Failed != 1 {
		t.Errorf("updated/failed = %d/%d, want 1/1", summary.Updated, summary.Failed)
	}
	if srv.requests.Load() != 2 {
		t.Errorf("made %d requests, want 2", srv.requests.Load())
	}
	if _, err := os.Stat(filepath.Join(config.Dir, "CA")); !os.IsNotExist(err) {
		t.Errorf("entry after the failure was processed: %v", err)
	}
}

func TestRunIdempotent(t *testing.T) {
	t.Parallel()

	srv := newArchiveServer(t)
	rows := []manifestRow{
		{"25910", "Grand Canyon East", "AZ", 500, srv.serve("/gce.zip", makeZip(t, zipMember{"gce.pdf", pdf(500)}))},
		{"40001", "Yosemite Valley", "CA", 700, srv.serve("/yv.zip", makeZip(t, zipMember{"yv.pdf", pdf(700)}))},
	}
	config := testConfig(t, writeManifest(t, t.TempDir(), rows...))

	summary, err := Run(context.Background(), config, RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Updated != 2 {
		t.Errorf("first run Updated = %d, want 2", summary.Updated)
	}

	before := srv.requests.Load()
	summary, err = Run(context.Background(), config, RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Current != 2 || summary.Updated != 0 {
		t.Errorf("second run current/updated = %d/%d, want 2/0", summary.Current, summary.Updated)
	}
	if n := srv.requests.Load() - before; n != 0 {
		t.Errorf("second run made %d requests, want 0", n)
	}
}

func TestRunDryRun(t *testing.T) {
	t.Parallel()

	srv := newArchiveServer(t)
	config := testConfig(t, writeManifest(t, t.TempDir(), threeMaps(t, srv)...))

	summary, err := Run(context.Background(), config, RunOptions{DryRun: true})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Pending != 3 || summary.PendingBytes != 2200 {
		t.Errorf("pending = %d (%d bytes), want 3 (2200 bytes)", summary.Pending, summary.PendingBytes)
	}
	if srv.requests.Load() != 0 {
		t.Errorf("dry run made %d requests", srv.requests.Load())
	}
	if _, err := os.Stat(filepath.Join(config.Dir, "AZ")); !os.IsNotExist(err) {
		t.Errorf("dry run wrote files: %v", err)
	}

	var out bytes.Buffer
	summary.Print(&out)
	if !strings.Contains(out.String(), "Dry Run") || !strings.Contains(out.String(), "To download:    3") {
		t.Errorf("unexpected dry run summary:\n%s", out.String())
	}
}

func TestRunPurgesStaging(t *testing.T) {
	t.Parallel()

	config := testConfig(t, writeManifest(t, t.TempDir()))
	staging := filepath.Join(config.Dir, stagingDirName)
	if err := os.MkdirAll(staging, 0750); err != nil {
		t.Fatal(err)
	}
	stale := filepath.Join(staging, "0b7c7d1e-5b5e-4a5e-9d8f-2f4a3c1b0e9d.zip")
	if err := os.WriteFile(stale, []byte("partial"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := Run(context.Background(), config, RunOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Errorf("stale staging file survived the run: %v", err)
	}
}

func TestRunMalformedManifest(t *testing.T) {
	t.Parallel()

	srv := newArchiveServer(t)
	dir := t.TempDir()
	manifest := filepath.Join(dir, "bad.csv")
	content := manifestHeader +
		"US Topo,Current,1,Good,Good,AZ,500," + srv.serve("/good.zip", makeZip(t, zipMember{"g.pdf", pdf(500)})) + "\n" +
		"US Topo,Current,2,Bad,Bad,AZ,lots,https://example.com/bad.zip\n"
	if err := os.WriteFile(manifest, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	config := testConfig(t, manifest)

	summary, err := Run(context.Background(), config, RunOptions{})
	var parseErr *catalog.ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("err = %v, want *catalog.ParseError", err)
	}
	if parseErr.Line != 3 {
		t.Errorf("Line = %d, want 3", parseErr.Line)
	}
	if summary == nil || summary.Updated != 1 {
		t.Errorf("rows before the malformed one should have been processed: %+v", summary)
	}
}

func TestRunMissingManifest(t *testing.T) {
	t.Parallel()

	config := testConfig(t, filepath.Join(t.TempDir(), "nope.csv"))
	if _, err := Run(context.Background(), config, RunOptions{}); err == nil {
		t.Error("Run must fail without a manifest")
	}
}

func TestRunInvalidConfig(t *testing.T) {
	t.Parallel()

	config := NewConfig()
	config.Manifest = "manifest.csv"
	config.Dir = "relative"
	if _, err := Run(context.Background(), config, RunOptions{}); err == nil {
		t.Error("Run must reject a relative dir")
	}
}

func TestRunCanceled(t *testing.T) {
	t.Parallel()

	srv := newArchiveServer(t)
	config := testConfig(t, writeManifest(t, t.TempDir(), threeMaps(t, srv)...))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, config, RunOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if srv.requests.Load() != 0 {
		t.Errorf("canceled run made %d requests", srv.requests.Load())
	}
}

func TestRunCanceledMidway(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var requests atomic.Int64
	archive := makeZip(t, zipMember{"m.pdf", pdf(100)})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		cancel()
		_, _ = w.Write(archive)
	}))
	t.Cleanup(srv.Close)

	config := testConfig(t, writeManifest(t, t.TempDir(),
		manifestRow{"1", "First", "AZ", 100, srv.URL + "/1.zip"},
		manifestRow{"2", "Second", "AZ", 100, srv.URL + "/2.zip"},
		manifestRow{"3", "Third", "AZ", 100, srv.URL + "/3.zip"},
	))

	summary, err := Run(ctx, config, RunOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if summary == nil {
		t.Fatal("summary is nil")
	}
	if summary.Total() != 1 {
		t.Errorf("Total() = %d, want 1", summary.Total())
	}
	if requests.Load() != 1 {
		t.Errorf("made %d requests after cancel, want 1", requests.Load())
	}
	if files := stagingFiles(t, config.Dir); len(files) != 0 {
		t.Errorf("staging files left behind: %v", files)
	}
}

func TestRunAbortCountsSkipped(t *testing.T) {
	t.Parallel()

	srv := newArchiveServer(t)
	dir := t.TempDir()
	manifest := filepath.Join(dir, "ustopo.csv")
	content := manifestHeader +
		"US Topo,Historical,9,Old,Old,AZ,10,https://example.com/old.zip\n" +
		"US Topo,Current,1,Broken,Broken,AZ,10," + srv.fail("/broken.zip", 500) + "\n" +
		"US Topo,Current,2,Good,Good,AZ,10," + srv.serve("/good.zip", makeZip(t, zipMember{"g.pdf", pdf(10)})) + "\n"
	if err := os.WriteFile(manifest, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	config := testConfig(t, manifest)
	config.OnFailure = OnFailureAbort

	summary, err := Run(context.Background(), config, RunOptions{})
	if err == nil {
		t.Fatal("aborted run returned no error")
	}
	if !summary.Aborted {
		t.Error("summary is not marked aborted")
	}
	if summary.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", summary.Skipped)
	}
	if summary.Elapsed <= 0 {
		t.Errorf("Elapsed = %v, want > 0", summary.Elapsed)
	}
}

func TestRunDotRegion(t *testing.T) {
	t.Parallel()

	srv := newArchiveServer(t)
	config := testConfig(t, writeManifest(t, t.TempDir(),
		manifestRow{"1", "Lock", ".lock", 100, srv.serve("/l.zip", makeZip(t, zipMember{"l.pdf", pdf(100)}))},
		manifestRow{"2", "Staging", ".staging", 200, srv.serve("/s.zip", makeZip(t, zipMember{"s.pdf", pdf(200)}))},
	))

	summary, err := Run(context.Background(), config, RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Updated != 2 {
		t.Errorf("Updated = %d, want 2", summary.Updated)
	}
	if !IsCurrent(filepath.Join(config.Dir, "_lock", "Lock.pdf"), 100) {
		t.Error("map of region .lock is missing")
	}
	if !IsCurrent(filepath.Join(config.Dir, "_staging", "Staging.pdf"), 200) {
		t.Error("map of region .staging is missing")
	}
	if fi, err := os.Stat(filepath.Join(config.Dir, lockFilename)); err != nil || !fi.Mode().IsRegular() {
		t.Errorf("lock file was replaced: %v", err)
	}
}

func TestRunLockContention(t *testing.T) {
	t.Parallel()

	config := testConfig(t, writeManifest(t, t.TempDir()))
	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		t.Fatal(err)
	}

	lockFile, err := os.Create(filepath.Join(config.Dir, lockFilename))
	if err != nil {
		t.Fatal(err)
	}
	defer lockFile.Close()

	fl := Flock{lockFile}
	if err := fl.Lock(); err != nil {
		t.Fatalf("failed to acquire lock: %v", err)
	}

	if _, err := Run(context.Background(), config, RunOptions{}); err == nil {
		t.Error("Run should fail when lock is already held")
	}

	if err := fl.Unlock(); err != nil {
		t.Fatal(err)
	}
	if _, err := Run(context.Background(), config, RunOptions{}); err != nil {
		t.Errorf("Run should succeed once the lock is released: %v", err)
	}
}

func TestInspect(t *testing.T) {
	t.Parallel()

	rows := []manifestRow{
		{"1", "Flagstaff/North", "AZ", 100, "https://example.com/a.zip"},
		{"2", "Flagstaff_North", "AZ", 200, "https://example.com/b.zip"},
		{"3", "Grand Canyon East", "AZ", 500, "https://example.com/c.zip"},
		{"4", "Flagstaff North", "AZ", 300, "https://example.com/d.zip"},
	}
	config := testConfig(t, writeManifest(t, t.TempDir(), rows...))

	p := ResolvePath("AZ", "Grand Canyon East", config.Dir)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, pdf(500), 0644); err != nil {
		t.Fatal(err)
	}

	report, err := Inspect(config)
	if err != nil {
		t.Fatal(err)
	}
	if report.Accepted != 4 {
		t.Errorf("Accepted = %d, want 4", report.Accepted)
	}
	if report.DeclaredBytes != 1100 {
		t.Errorf("DeclaredBytes = %d, want 1100", report.DeclaredBytes)
	}
	if report.Current != 1 {
		t.Errorf("Current = %d, want 1", report.Current)
	}
	if len(report.Collisions) != 1 {
		t.Fatalf("len(Collisions) = %d, want 1", len(report.Collisions))
	}
	c := report.Collisions[0]
	if c.Path != ResolvePath("AZ", "Flagstaff_North", config.Dir) {
		t.Errorf("collision path = %q", c.Path)
	}
	if len(c.Entries) != 2 {
		t.Errorf("collision entries = %v, want 2", c.Entries)
	}

	var out bytes.Buffer
	report.Print(&out)
	if !strings.Contains(out.String(), "Path collisions:   1") {
		t.Errorf("unexpected report:\n%s", out.String())
	}
}
