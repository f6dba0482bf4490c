package sheetstore

import (
	"context"
	"fmt"

	"github.com/mmdatafocus/fieldreport_backend/config"
)

// Tables are the two tables this service reads: reports (read/write) and the
// employee roster (read-only).
type Tables struct {
	Reports Store
	Roster  Store
}

// OpenTables builds both tables for the configured provider. Report headers are
// written when missing; the roster is never written.
func OpenTables(ctx context.Context, s config.StoreSettings) (Tables, error) {
	switch s.Provider {
	case config.StoreProviderMemory:
		return Tables{
			Reports: NewMemoryStore(ReportColumnCount),
			Roster:  NewMemoryStore(RosterColumnCount),
		}, nil

	case config.StoreProviderExcel:
		reports, err := NewExcelStore(s.WorkbookPath, s.ReportTab, ReportHeader)
		if err != nil {
			return Tables{}, fmt.Errorf("open report sheet: %w", err)
		}
		roster, err := NewExcelStore(s.WorkbookPath, s.RosterTab, RosterHeader)
		if err != nil {
			return Tables{}, fmt.Errorf("open roster sheet: %w", err)
		}
		return Tables{Reports: reports, Roster: roster}, nil

	case config.StoreProviderSheets, "":
		svc, err := NewSheetsService(ctx, s.CredentialsJSON)
		if err != nil {
			return Tables{}, fmt.Errorf("sheets client: %w", err)
		}
		reports, err := NewSheetsStore(svc, s.SpreadsheetID, s.ReportTab, ReportColumnCount)
		if err != nil {
			return Tables{}, err
		}
		if err := reports.EnsureHeader(ctx, ReportHeader); err != nil {
			return Tables{}, fmt.Errorf("report header: %w", err)
		}
		roster, err := NewSheetsStore(svc, s.SpreadsheetID, s.RosterTab, RosterColumnCount)
		if err != nil {
			return Tables{}, err
		}
		return Tables{Reports: reports, Roster: roster}, nil

	default:
		return Tables{}, fmt.Errorf("unknown STORE_PROVIDER %q", s.Provider)
	}
}
