// Package sheetstore reads and writes the row-oriented report table.
//
// The backing stores have no keys, indexes or transactions. Every read is a full
// scan and callers group rows themselves (see BuildSnapshot). Errors from the
// backend are returned as-is; retrying is left to the caller.
package sheetstore

import (
	"context"
	"errors"
)

var ErrRowOutOfRange = errors.New("row reference out of range")

// FirstDataRow is the sheet row number of the first row below the header.
const FirstDataRow = 2

// Row is one stored row. Ref is the 1-based sheet row number (the header is row 1).
type Row struct {
	Ref    int
	Values []string
}

// Value returns the cell at col, or "" when the row is shorter than col.
func (r Row) Value(col int) string {
	if col < 0 || col >= len(r.Values) {
		return ""
	}
	return r.Values[col]
}

type Store interface {
	// Append adds rows below the last used row.
	Append(ctx context.Context, rows [][]string) error
	// ScanAll returns every data row, header excluded, in sheet order.
	ScanAll(ctx context.Context) ([]Row, error)
	// UpdateCells writes values (keyed by column index) into each referenced row.
	UpdateCells(ctx context.Context, refs []int, values map[int]string) error
}
