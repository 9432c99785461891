package catalog

import (
	"fmt"
)

// Manifest column names.
const (
	ColumnSeries    = "Series"
	ColumnVersion   = "Version"
	ColumnMapName   = "Map Name"
	ColumnCellID    = "Cell ID"
	ColumnCellName  = "Cell Name"
	ColumnState     = "Primary State"
	ColumnByteCount = "Byte Count"
	ColumnURL       = "Download GeoPDF"
)

// Values selecting the rows this mirror consumes.
const (
	SeriesUSTopo   = "US Topo"
	VersionCurrent = "Current"
)

// requiredColumns must be present in the header row.
var requiredColumns = []string{
	ColumnSeries,
	ColumnVersion,
	ColumnMapName,
	ColumnCellID,
	ColumnState,
	ColumnByteCount,
	ColumnURL,
}

// Entry is one relevant manifest row.
type Entry struct {
	MapName   string
	CellID    string
	CellName  string
	Region    string
	URL       string
	ByteCount int64

	// Line is the manifest line the row started on.
	Line int
}

// String identifies the entry in log and error messages.
func (e *Entry) String() string {
	return fmt.Sprintf("%s (%s, cell %s)", e.MapName, e.Region, e.CellID)
}

// ParseError reports a malformed manifest header or row.
type ParseError struct {
	Line   int
	Column string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("manifest line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("manifest line %d, column %q: %v", e.Line, e.Column, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
