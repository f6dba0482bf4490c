package sheetstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// NewSheetsService builds a Sheets API client. It uses Application Default
// Credentials unless credJSON is provided.
func NewSheetsService(ctx context.Context, credJSON string) (*sheets.Service, error) {
	opts := []option.ClientOption{option.WithScopes(sheets.SpreadsheetsScope)}
	if strings.TrimSpace(credJSON) != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credJSON)))
	}
	return sheets.NewService(ctx, opts...)
}

// SheetsStore is one tab of a Google spreadsheet.
type SheetsStore struct {
	svc           *sheets.Service
	spreadsheetID string
	tab           string
	width         int
}

func NewSheetsStore(svc *sheets.Service, spreadsheetID, tab string, width int) (*SheetsStore, error) {
	if svc == nil {
		return nil, errors.New("sheets service is nil")
	}
	if spreadsheetID == "" {
		return nil, errors.New("SHEETS_SPREADSHEET_ID is required")
	}
	if tab == "" || width <= 0 {
		return nil, errors.New("tab and width are required")
	}
	return &SheetsStore{svc: svc, spreadsheetID: spreadsheetID, tab: tab, width: width}, nil
}

// EnsureHeader writes header into row 1 when the row is empty.
func (s *SheetsStore) EnsureHeader(ctx context.Context, header []string) error {
	rng := fmt.Sprintf("%s!A1:%s1", quoteTab(s.tab), ColumnLetter(s.width))
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return err
	}
	if len(resp.Values) > 0 && len(resp.Values[0]) > 0 {
		return nil
	}
	_, err = s.svc.Spreadsheets.Values.Update(s.spreadsheetID, rng, &sheets.ValueRange{
		Values: [][]interface{}{toCells(header)},
	}).ValueInputOption("RAW").Context(ctx).Do()
	return err
}

func (s *SheetsStore) Append(ctx context.Context, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	values := make([][]interface{}, 0, len(rows))
	for _, row := range rows {
		values = append(values, toCells(row))
	}
	_, err := s.svc.Spreadsheets.Values.
		Append(s.spreadsheetID, quoteTab(s.tab)+"!A1", &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	return err
}

func (s *SheetsStore) ScanAll(ctx context.Context) ([]Row, error) {
	rng := fmt.Sprintf("%s!A%d:%s", quoteTab(s.tab), FirstDataRow, ColumnLetter(s.width))
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(resp.Values))
	for i, raw := range resp.Values {
		values := make([]string, len(raw))
		for j, cell := range raw {
			values[j] = fmt.Sprint(cell)
		}
		rows = append(rows, Row{Ref: FirstDataRow + i, Values: values})
	}
	return rows, nil
}

func (s *SheetsStore) UpdateCells(ctx context.Context, refs []int, values map[int]string) error {
	if len(refs) == 0 || len(values) == 0 {
		return nil
	}
	cols := sortedColumns(values)
	data := make([]*sheets.ValueRange, 0, len(refs)*len(cols))
	for _, ref := range refs {
		if ref < FirstDataRow {
			return ErrRowOutOfRange
		}
		for _, col := range cols {
			if col < 0 || col >= s.width {
				return fmt.Errorf("column %d outside table width %d", col, s.width)
			}
			data = append(data, &sheets.ValueRange{
				Range:  fmt.Sprintf("%s!%s%d", quoteTab(s.tab), ColumnLetter(col+1), ref),
				Values: [][]interface{}{{values[col]}},
			})
		}
	}
	_, err := s.svc.Spreadsheets.Values.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateValuesRequest{
		ValueInputOption: "RAW",
		Data:             data,
	}).Context(ctx).Do()
	return err
}

// ColumnLetter converts a 1-based column number to A1 notation (1 -> A, 27 -> AA).
func ColumnLetter(n int) string {
	if n <= 0 {
		return ""
	}
	var b []byte
	for n > 0 {
		n--
		b = append([]byte{byte('A' + n%26)}, b...)
		n /= 26
	}
	return string(b)
}

func quoteTab(tab string) string {
	return "'" + strings.ReplaceAll(tab, "'", "''") + "'"
}

func toCells(row []string) []interface{} {
	cells := make([]interface{}, len(row))
	for i, v := range row {
		cells[i] = v
	}
	return cells
}

func sortedColumns(values map[int]string) []int {
	cols := make([]int, 0, len(values))
	for col := range values {
		cols = append(cols, col)
	}
	sort.Ints(cols)
	return cols
}
