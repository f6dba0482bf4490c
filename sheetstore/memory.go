package sheetstore

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store used for local runs and tests.
type MemoryStore struct {
	mu    sync.Mutex
	width int
	rows  [][]string
	scans int
}

func NewMemoryStore(width int) *MemoryStore {
	return &MemoryStore{width: width}
}

func (m *MemoryStore) Append(ctx context.Context, rows [][]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range rows {
		m.rows = append(m.rows, m.pad(row))
	}
	return nil
}

func (m *MemoryStore) ScanAll(ctx context.Context) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scans++
	out := make([]Row, 0, len(m.rows))
	for i, row := range m.rows {
		values := make([]string, len(row))
		copy(values, row)
		out = append(out, Row{Ref: FirstDataRow + i, Values: values})
	}
	return out, nil
}

func (m *MemoryStore) UpdateCells(ctx context.Context, refs []int, values map[int]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ref := range refs {
		if ref < FirstDataRow || ref-FirstDataRow >= len(m.rows) {
			return ErrRowOutOfRange
		}
	}
	for col := range values {
		if col < 0 || col >= m.width {
			return fmt.Errorf("column %d outside table width %d", col, m.width)
		}
	}
	for _, ref := range refs {
		row := m.rows[ref-FirstDataRow]
		for col, v := range values {
			row[col] = v
		}
	}
	return nil
}

// ScanCount returns how many times ScanAll has been called.
func (m *MemoryStore) ScanCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scans
}

func (m *MemoryStore) pad(row []string) []string {
	n := m.width
	if len(row) > n {
		n = len(row)
	}
	out := make([]string, n)
	copy(out, row)
	return out
}
