package sheetstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/xuri/excelize/v2"
)

// ExcelStore keeps one sheet of a local .xlsx workbook. The workbook is opened
// and saved on every call, so several ExcelStore values may share one file as
// long as they run in the same process (they share fileLocks).
type ExcelStore struct {
	path  string
	sheet string
	width int
}

var fileLocks sync.Map

func NewExcelStore(path, sheet string, header []string) (*ExcelStore, error) {
	if path == "" || sheet == "" {
		return nil, errors.New("workbook path and sheet are required")
	}
	s := &ExcelStore{path: path, sheet: sheet, width: len(header)}
	mu := s.lock()
	mu.Lock()
	defer mu.Unlock()

	f, err := s.openOrCreate()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	idx, err := f.GetSheetIndex(sheet)
	if err != nil {
		return nil, err
	}
	if idx == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
	}
	first, err := f.GetCellValue(sheet, "A1")
	if err != nil {
		return nil, err
	}
	if first == "" {
		cells := toCells(header)
		if err := f.SetSheetRow(sheet, "A1", &cells); err != nil {
			return nil, err
		}
	}
	if err := f.SaveAs(path); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ExcelStore) Append(ctx context.Context, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	mu := s.lock()
	mu.Lock()
	defer mu.Unlock()

	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return err
	}
	defer f.Close()

	existing, err := f.GetRows(s.sheet)
	if err != nil {
		return err
	}
	next := len(existing) + 1
	if next < FirstDataRow {
		next = FirstDataRow
	}
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		cell, err := excelize.CoordinatesToCellName(1, next+i)
		if err != nil {
			return err
		}
		cells := toCells(row)
		if err := f.SetSheetRow(s.sheet, cell, &cells); err != nil {
			return err
		}
	}
	return f.Save()
}

func (s *ExcelStore) ScanAll(ctx context.Context) ([]Row, error) {
	mu := s.lock()
	mu.Lock()
	defer mu.Unlock()

	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	all, err := f.GetRows(s.sheet)
	if err != nil {
		return nil, err
	}
	if len(all) < FirstDataRow {
		return []Row{}, nil
	}
	rows := make([]Row, 0, len(all)-1)
	for i, values := range all[FirstDataRow-1:] {
		rows = append(rows, Row{Ref: FirstDataRow + i, Values: values})
	}
	return rows, nil
}

func (s *ExcelStore) UpdateCells(ctx context.Context, refs []int, values map[int]string) error {
	if len(refs) == 0 || len(values) == 0 {
		return nil
	}
	mu := s.lock()
	mu.Lock()
	defer mu.Unlock()

	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return err
	}
	defer f.Close()

	all, err := f.GetRows(s.sheet)
	if err != nil {
		return err
	}
	cols := sortedColumns(values)
	for _, ref := range refs {
		if ref < FirstDataRow || ref > len(all) {
			return ErrRowOutOfRange
		}
		for _, col := range cols {
			if col < 0 || col >= s.width {
				return fmt.Errorf("column %d outside table width %d", col, s.width)
			}
			cell, err := excelize.CoordinatesToCellName(col+1, ref)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(s.sheet, cell, values[col]); err != nil {
				return err
			}
		}
	}
	return f.Save()
}

func (s *ExcelStore) openOrCreate() (*excelize.File, error) {
	if _, err := os.Stat(s.path); err == nil {
		return excelize.OpenFile(s.path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", s.sheet); err != nil {
		_ = f.Close()
		return nil, err
	}
	return f, nil
}

func (s *ExcelStore) lock() *sync.Mutex {
	mu, _ := fileLocks.LoadOrStore(s.path, &sync.Mutex{})
	return mu.(*sync.Mutex)
}
