package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mmdatafocus/fieldreport_backend/models"
	"github.com/mmdatafocus/fieldreport_backend/sheetstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRoster struct {
	entries []models.RosterEntry
	err     error
}

func (f fakeRoster) Entries(context.Context) ([]models.RosterEntry, error) {
	return f.entries, f.err
}

func ptr(v float64) *float64 { return &v }

func newTestService(store sheetstore.Store, r RosterLookup) *Service {
	svc := NewService(store, r, 0, nil)
	svc.now = func() time.Time { return time.Date(2026, 3, 2, 17, 4, 5, 0, time.UTC) }
	svc.newID = func() (string, error) { return "rep-1", nil }
	return svc
}

func TestIngest_WritesOneRowPerEmployee(t *testing.T) {
	store := sheetstore.NewMemoryStore(sheetstore.ReportColumnCount)
	svc := newTestService(store, fakeRoster{entries: []models.RosterEntry{
		{ID: "e1", Name: "Alice Smith", Active: true},
		{ID: "e2", Name: "Robert Jones", Active: true},
	}})

	res, err := svc.Ingest(context.Background(), SubmitRequest{
		JobSite: " Riverside Tower ",
		Employees: []EmployeeInput{
			{Name: "alise smith", RegularHours: ptr(8), OvertimeHours: ptr(1.5)},
			{Name: "Robert Jones", RegularHours: ptr(7.25)},
		},
		Deliveries: json.RawMessage(`[{"item":"rebar"}]`),
		Notes:      "windy",
	})
	require.NoError(t, err)
	assert.Equal(t, "rep-1", res.ReportId)
	assert.Empty(t, res.Warnings)

	rows, err := store.ScanAll(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)

	first := rows[0]
	assert.Equal(t, "2026-03-02T17:04:05Z", first.Value(sheetstore.ColTimestamp))
	assert.Equal(t, "Riverside Tower", first.Value(sheetstore.ColJobSite))
	assert.Equal(t, "Alice Smith", first.Value(sheetstore.ColEmployee))
	assert.Equal(t, "e1", first.Value(sheetstore.ColEmployeeId))
	assert.Equal(t, "8", first.Value(sheetstore.ColRegularHours))
	assert.Equal(t, "1.5", first.Value(sheetstore.ColOvertimeHours))
	assert.Equal(t, "9.5", first.Value(sheetstore.ColTotalHours))
	assert.Equal(t, `[{"item":"rebar"}]`, first.Value(sheetstore.ColDeliveries))
	assert.Equal(t, "rep-1", first.Value(sheetstore.ColReportId))
	assert.Empty(t, first.Value(sheetstore.ColAudioLink))
	assert.Empty(t, first.Value(sheetstore.ColCallId))

	second := rows[1]
	assert.Equal(t, "0", second.Value(sheetstore.ColOvertimeHours))
	assert.Equal(t, "7.25", second.Value(sheetstore.ColTotalHours))
	assert.Equal(t, "windy", second.Value(sheetstore.ColNotes))
	assert.Equal(t, "rep-1", second.Value(sheetstore.ColReportId))
}

func TestIngest_UnmatchedNameKeepsSpellingAndWarns(t *testing.T) {
	store := sheetstore.NewMemoryStore(sheetstore.ReportColumnCount)
	svc := newTestService(store, fakeRoster{entries: []models.RosterEntry{{ID: "e1", Name: "Alice Smith", Active: true}}})

	res, err := svc.Ingest(context.Background(), SubmitRequest{
		Employees: []EmployeeInput{{Name: "Bob", RegularHours: ptr(4)}},
	})
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "Bob", res.Report.EmployeeHours[0].NormalizedName)
	assert.Empty(t, res.Report.EmployeeHours[0].EmployeeId)
}

func TestIngest_RosterFailureStillAccepts(t *testing.T) {
	store := sheetstore.NewMemoryStore(sheetstore.ReportColumnCount)
	svc := newTestService(store, fakeRoster{err: errors.New("sheet unavailable")})

	res, err := svc.Ingest(context.Background(), SubmitRequest{
		Employees: []EmployeeInput{{Name: "Alice", OvertimeHours: ptr(2)}},
	})
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)

	rows, _ := store.ScanAll(context.Background())
	require.Len(t, rows, 1)
	assert.Equal(t, "Alice", rows[0].Value(sheetstore.ColEmployee))
}

func TestIngest_RoundsHoursToTwoPlaces(t *testing.T) {
	store := sheetstore.NewMemoryStore(sheetstore.ReportColumnCount)
	svc := newTestService(store, nil)

	res, err := svc.Ingest(context.Background(), SubmitRequest{
		Employees: []EmployeeInput{{Name: "Alice", RegularHours: ptr(0.1), OvertimeHours: ptr(0.2)}},
	})
	require.NoError(t, err)
	assert.Equal(t, "0.3", res.Report.EmployeeHours[0].TotalHours.String())
}

func TestIngest_ValidationFailureWritesNothing(t *testing.T) {
	store := sheetstore.NewMemoryStore(sheetstore.ReportColumnCount)
	svc := newTestService(store, nil)

	_, err := svc.Ingest(context.Background(), SubmitRequest{
		Employees: []EmployeeInput{{Name: "  "}, {Name: "Bob", RegularHours: ptr(-1)}},
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.GreaterOrEqual(t, len(verr.Problems), 3)

	rows, _ := store.ScanAll(context.Background())
	assert.Empty(t, rows)
}

func TestValidate_EmptyEmployees(t *testing.T) {
	err := Validate(SubmitRequest{Employees: []EmployeeInput{}})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "employees", verr.Problems[0].Field)
}

func TestIngest_StoreFailureIsReturned(t *testing.T) {
	store := sheetstore.NewMemoryStore(sheetstore.ReportColumnCount)
	svc := newTestService(store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Ingest(ctx, SubmitRequest{Employees: []EmployeeInput{{Name: "Alice", RegularHours: ptr(8)}}})
	require.Error(t, err)
	var verr *ValidationError
	assert.False(t, errors.As(err, &verr))
}

type failingStore struct{}

func (failingStore) Append(context.Context, [][]string) error {
	return errors.New("append rejected")
}

func (failingStore) ScanAll(context.Context) ([]sheetstore.Row, error) {
	return nil, errors.New("scan rejected")
}

func (failingStore) UpdateCells(context.Context, []int, map[int]string) error {
	return errors.New("update rejected")
}
