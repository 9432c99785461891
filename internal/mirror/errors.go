package mirror

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/mirrorctl/topomirror/internal/catalog"
)

var (
	// ErrEmptyPayload is wrapped in a NetworkError when a successful
	// response carries no body.
	ErrEmptyPayload = errors.New("empty response body")

	// ErrEntriesFailed is returned by Run when at least one entry failed
	// under the continue policy.
	ErrEntriesFailed = errors.New("one or more entries failed")
)

// NetworkError reports a failed fetch. StatusCode is zero when no
// response was received.
type NetworkError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("GET %s: HTTP status %d: %v", e.URL, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("GET %s: HTTP status %d", e.URL, e.StatusCode)
	default:
		return fmt.Sprintf("GET %s: %v", e.URL, e.Err)
	}
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ArchiveReason classifies an ArchiveError.
type ArchiveReason int

// Archive failure reasons.
const (
	ArchiveUnreadable ArchiveReason = iota + 1
	ArchiveEmpty
	ArchiveAmbiguous
	ArchiveWriteFailed
)

func (r ArchiveReason) String() string {
	switch r {
	case ArchiveUnreadable:
		return "unreadable"
	case ArchiveEmpty:
		return "empty"
	case ArchiveAmbiguous:
		return "ambiguous"
	case ArchiveWriteFailed:
		return "write failed"
	}
	return fmt.Sprintf("ArchiveReason(%d)", int(r))
}

// ArchiveError reports a staged archive that could not be extracted.
type ArchiveError struct {
	Reason  ArchiveReason
	Archive string
	Members int
	Err     error
}

func (e *ArchiveError) Error() string {
	msg := fmt.Sprintf("archive %s: %s", e.Archive, e.Reason)
	if e.Reason == ArchiveAmbiguous {
		msg += fmt.Sprintf(" (%d members, want 1)", e.Members)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ArchiveError) Unwrap() error {
	return e.Err
}

// SizeMismatchError reports an extracted artifact whose size differs from
// the size declared by the manifest.
type SizeMismatchError struct {
	Path     string
	Expected int64
	Actual   int64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("size mismatch for %s: expected %d bytes, got %d", e.Path, e.Expected, e.Actual)
}

// errorKind names the kind of err for log output.
func errorKind(err error) string {
	var (
		netErr   *NetworkError
		arcErr   *ArchiveError
		sizeErr  *SizeMismatchError
		parseErr *catalog.ParseError
	)
	switch {
	case errors.As(err, &netErr):
		return "network"
	case errors.As(err, &arcErr):
		return "archive"
	case errors.As(err, &sizeErr):
		return "size_mismatch"
	case errors.As(err, &parseErr):
		return "manifest_parse"
	}
	return "other"
}

// errorAttrs returns the concrete numbers carried by err as slog attributes.
func errorAttrs(err error) []any {
	var (
		netErr  *NetworkError
		arcErr  *ArchiveError
		sizeErr *SizeMismatchError
	)
	switch {
	case errors.As(err, &netErr):
		attrs := []any{"url", netErr.URL}
		if netErr.StatusCode != 0 {
			attrs = append(attrs, "status", netErr.StatusCode)
		}
		return attrs
	case errors.As(err, &arcErr):
		return []any{"reason", arcErr.Reason.String(), "members", arcErr.Members}
	case errors.As(err, &sizeErr):
		return []any{"expected", sizeErr.Expected, "actual", sizeErr.Actual}
	}
	return nil
}
