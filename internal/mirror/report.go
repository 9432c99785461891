package mirror

import (
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Summary aggregates the outcomes of a run.
type Summary struct {
	Current int
	Updated int
	Failed  int
	Pending int
	Skipped int

	// Downloaded is the number of archive bytes fetched.
	Downloaded int64

	// PendingBytes is the declared size of entries a dry run would fetch.
	PendingBytes int64

	Failures []Result
	Elapsed  time.Duration
	Aborted  bool
	DryRun   bool
}

// Add records one entry result.
func (s *Summary) Add(r Result) {
	s.Downloaded += r.Bytes
	switch r.Outcome {
	case AlreadyCurrent:
		s.Current++
	case Updated:
		s.Updated++
	case Pending:
		s.Pending++
		s.PendingBytes += r.Entry.ByteCount
	case Failed:
		s.Failed++
		s.Failures = append(s.Failures, r)
	}
}

// Total returns the number of entries processed.
func (s *Summary) Total() int {
	return s.Current + s.Updated + s.Pending + s.Failed
}

// Log writes the summary as one structured log line.
func (s *Summary) Log() {
	slog.Info("sync ends",
		"total", s.Total(),
		"current", s.Current,
		"updated", s.Updated,
		"pending", s.Pending,
		"failed", s.Failed,
		"skipped_rows", s.Skipped,
		"aborted", s.Aborted,
		"downloaded", formatBytes(uint64(max(s.Downloaded, 0))), // #nosec G115 - clamped
		"elapsed", s.Elapsed.Round(time.Millisecond))
}

// Print writes a human-readable summary to w.
func (s *Summary) Print(w io.Writer) {
	fmt.Fprintln(w)
	if s.DryRun {
		fmt.Fprintln(w, "=== Sync Summary (Dry Run) ===")
	} else {
		fmt.Fprintln(w, "=== Sync Summary ===")
	}
	fmt.Fprintf(w, "  Entries:        %d\n", s.Total())
	fmt.Fprintf(w, "  Current:        %d\n", s.Current)
	if s.DryRun {
		fmt.Fprintf(w, "  To download:    %d (%s)\n", s.Pending, formatBytes(uint64(max(s.PendingBytes, 0)))) // #nosec G115 - clamped
	} else {
		fmt.Fprintf(w, "  Updated:        %d (%s downloaded)\n", s.Updated, formatBytes(uint64(max(s.Downloaded, 0)))) // #nosec G115 - clamped
	}
	fmt.Fprintf(w, "  Failed:         %d\n", s.Failed)
	for _, r := range s.Failures {
		fmt.Fprintf(w, "    - %s: %v\n", r.Entry, r.Err)
	}
	if s.Aborted {
		fmt.Fprintln(w, "  Run aborted after the first failure.")
	}
	fmt.Fprintf(w, "  Elapsed:        %s\n", s.Elapsed.Round(time.Second))
	fmt.Fprintln(w)
}

// Print writes a human-readable manifest report to w.
func (r *CatalogReport) Print(w io.Writer) {
	fmt.Fprintf(w, "Manifest entries:  %d (%d rows skipped)\n", r.Accepted, r.Skipped)
	fmt.Fprintf(w, "Declared size:     %s\n", formatBytes(uint64(max(r.DeclaredBytes, 0)))) // #nosec G115 - clamped
	fmt.Fprintf(w, "Already current:   %d\n", r.Current)
	fmt.Fprintf(w, "Path collisions:   %d\n", len(r.Collisions))
	for _, c := range r.Collisions {
		fmt.Fprintf(w, "  %s\n", c.Path)
		for _, e := range c.Entries {
			fmt.Fprintf(w, "    <- %s\n", e)
		}
	}
}

// formatBytes formats a byte count as a human-readable string
func formatBytes(bytes uint64) string {
	if bytes == 0 {
		return "0 B"
	}

	units := []string{"B", "KiB", "MiB", "GiB", "TiB"}
	size := float64(bytes)
	unitIndex := 0

	for size >= 1024 && unitIndex < len(units)-1 {
		size /= 1024
		unitIndex++
	}

	if unitIndex == 0 {
		return fmt.Sprintf("%.0f %s", size, units[unitIndex])
	}
	return fmt.Sprintf("%.2f %s", size, units[unitIndex])
}

// formatRate formats a transfer rate.
func formatRate(bytes uint64, elapsed time.Duration) string {
	if elapsed <= 0 {
		return "n/a"
	}
	perSecond := float64(bytes) / elapsed.Seconds()
	return formatBytes(uint64(perSecond)) + "/s"
}
