package catalog

import (
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

const utf8BOM = "\ufeff"

// Errors wrapped into ParseError.
var (
	ErrMissingColumn = errors.New("missing required column")
	ErrMissingField  = errors.New("missing required field")
	ErrInvalidSize   = errors.New("invalid byte count")
)

// Reader returns relevant manifest rows one at a time.
//
// A Reader is single pass. Open the manifest again to restart.
type Reader struct {
	csv    *csv.Reader
	closer io.Closer
	index  map[string]int

	accepted int
	skipped  int
}

// Open opens the manifest file at p and reads its header row.
func Open(p string) (*Reader, error) {
	f, err := os.Open(p) // #nosec G304 - manifest path is operator supplied
	if err != nil {
		return nil, err
	}

	rc, err := decompress(p, f)
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, "catalog.Open: "+p)
	}

	r, err := NewReader(rc)
	if err != nil {
		_ = rc.Close()
		_ = f.Close()
		return nil, errors.Wrap(err, "catalog.Open: "+p)
	}
	r.closer = multiCloser{rc, f}
	return r, nil
}

// NewReader creates a Reader over an uncompressed CSV stream and reads
// its header row.
func NewReader(src io.Reader) (*Reader, error) {
	cr := csv.NewReader(src)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, &ParseError{Line: 1, Err: errors.New("empty manifest")}
	}
	if err != nil {
		return nil, &ParseError{Line: 1, Err: err}
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, utf8BOM))
		if _, ok := index[name]; !ok {
			index[name] = i
		}
	}
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			return nil, &ParseError{Line: 1, Column: col, Err: ErrMissingColumn}
		}
	}

	return &Reader{
		csv:   cr,
		index: index,
	}, nil
}

// Next returns the next relevant entry, or io.EOF when the manifest is
// exhausted. A *ParseError is returned for a malformed relevant row.
func (r *Reader) Next() (*Entry, error) {
	for {
		record, err := r.csv.Read()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				return nil, &ParseError{Line: perr.Line, Err: perr.Err}
			}
			return nil, err
		}
		line, _ := r.csv.FieldPos(0)

		if !r.relevant(record) {
			r.skipped++
			slog.Debug("skipping manifest row", "line", line,
				"series", r.field(record, ColumnSeries), "version", r.field(record, ColumnVersion))
			continue
		}

		entry, err := r.entry(record, line)
		if err != nil {
			return nil, err
		}
		r.accepted++
		return entry, nil
	}
}

// Accepted returns the number of entries returned so far.
func (r *Reader) Accepted() int {
	return r.accepted
}

// Skipped returns the number of rows dropped by the series/version filter.
func (r *Reader) Skipped() int {
	return r.skipped
}

// Close releases the underlying manifest file, if any.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// Relevant reports whether a row with the given series and version
// belongs in the mirror.
func Relevant(series, version string) bool {
	return series == SeriesUSTopo && version == VersionCurrent
}

func (r *Reader) relevant(record []string) bool {
	return Relevant(r.field(record, ColumnSeries), r.field(record, ColumnVersion))
}

func (r *Reader) field(record []string, column string) string {
	i := r.index[column]
	if i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func (r *Reader) entry(record []string, line int) (*Entry, error) {
	for _, col := range []string{ColumnMapName, ColumnCellID, ColumnState, ColumnByteCount, ColumnURL} {
		if r.field(record, col) == "" {
			return nil, &ParseError{Line: line, Column: col, Err: ErrMissingField}
		}
	}

	raw := r.field(record, ColumnByteCount)
	size, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || size < 0 {
		return nil, &ParseError{Line: line, Column: ColumnByteCount, Err: errors.Wrapf(ErrInvalidSize, "%q", raw)}
	}

	e := &Entry{
		MapName:   r.field(record, ColumnMapName),
		CellID:    r.field(record, ColumnCellID),
		Region:    r.field(record, ColumnState),
		URL:       r.field(record, ColumnURL),
		ByteCount: size,
		Line:      line,
	}
	if _, ok := r.index[ColumnCellName]; ok {
		e.CellName = r.field(record, ColumnCellName)
	}
	return e, nil
}

type multiCloser []io.Closer

func (mc multiCloser) Close() error {
	var firstErr error
	for _, c := range mc {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
