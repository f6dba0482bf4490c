package sheetstore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mmdatafocus/fieldreport_backend/models"
	"github.com/shopspring/decimal"
)

func testReport(id string, at time.Time, names ...string) models.Report {
	r := models.Report{
		ID:          id,
		SubmittedAt: at,
		JobSite:     "North Yard",
		Ancillary: models.Ancillary{
			Deliveries: json.RawMessage(`[{"item":"rebar"}]`),
			Notes:      "windy",
		},
	}
	for i, n := range names {
		r.EmployeeHours = append(r.EmployeeHours, models.NewEmployeeHours(n, n, "", decimal.NewFromInt(8), decimal.NewFromInt(int64(i*2))))
	}
	return r
}

func TestEncodeReport_OneRowPerEmployee(t *testing.T) {
	at := time.Date(2024, 5, 1, 14, 32, 0, 0, time.UTC)
	rows := EncodeReport(testReport("r1", at, "Alice", "Bob"))
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	for _, row := range rows {
		if len(row) != ReportColumnCount {
			t.Fatalf("expected %d columns, got %d", ReportColumnCount, len(row))
		}
		if row[ColReportId] != "r1" {
			t.Fatalf("report id not carried on every row: %q", row[ColReportId])
		}
		if row[ColTimestamp] != "2024-05-01T14:32:00Z" {
			t.Fatalf("unexpected timestamp %q", row[ColTimestamp])
		}
	}
	if rows[1][ColTotalHours] != "10" {
		t.Fatalf("expected Bob total 10, got %q", rows[1][ColTotalHours])
	}
	if rows[0][ColDeliveries] != `[{"item":"rebar"}]` {
		t.Fatalf("ancillary field not passed through: %q", rows[0][ColDeliveries])
	}
	if len(ReportHeader) != ReportColumnCount {
		t.Fatalf("header has %d columns, layout has %d", len(ReportHeader), ReportColumnCount)
	}
}

func TestBuildSnapshot_GroupsRowsByReportId(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(ReportColumnCount)
	t0 := time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)
	if err := store.Append(ctx, EncodeReport(testReport("r1", t0, "Alice", "Bob"))); err != nil {
		t.Fatal(err)
	}
	if err := store.Append(ctx, EncodeReport(testReport("r2", t0.Add(time.Hour), "Carol"))); err != nil {
		t.Fatal(err)
	}
	// A stray row without a report id is ignored.
	if err := store.Append(ctx, [][]string{{"garbage"}}); err != nil {
		t.Fatal(err)
	}

	rows, err := store.ScanAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	snap := BuildSnapshot(rows)
	if got := len(snap.Reports()); got != 2 {
		t.Fatalf("expected 2 reports, got %d", got)
	}
	if snap.Skipped != 1 {
		t.Fatalf("expected 1 skipped row, got %d", snap.Skipped)
	}
	r1, ok := snap.Report("r1")
	if !ok {
		t.Fatal("r1 missing")
	}
	if len(r1.EmployeeHours) != 2 {
		t.Fatalf("expected 2 employees on r1, got %d", len(r1.EmployeeHours))
	}
	for _, eh := range r1.EmployeeHours {
		if !eh.TotalHours.Equal(eh.RegularHours.Add(eh.OvertimeHours)) {
			t.Fatalf("total mismatch for %s", eh.Name)
		}
	}
	if !r1.SubmittedAt.Equal(t0) {
		t.Fatalf("submittedAt round trip: got %v", r1.SubmittedAt)
	}
	if refs := snap.Refs("r1"); len(refs) != 2 || refs[0] != 2 || refs[1] != 3 {
		t.Fatalf("unexpected refs %v", refs)
	}
	if got := len(snap.Unlinked()); got != 2 {
		t.Fatalf("expected 2 unlinked reports, got %d", got)
	}
}

func TestBuildSnapshot_LinkOnAnyRowMarksReport(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(ReportColumnCount)
	t0 := time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)
	_ = store.Append(ctx, EncodeReport(testReport("r1", t0, "Alice", "Bob")))

	links := models.ArtifactLinks{TranscriptURL: "https://example.com/t.txt"}
	if err := store.UpdateCells(ctx, []int{3}, LinkValues(links, "call-1")); err != nil {
		t.Fatal(err)
	}
	rows, _ := store.ScanAll(ctx)
	snap := BuildSnapshot(rows)
	r1, _ := snap.Report("r1")
	if !r1.Linked() {
		t.Fatal("expected r1 linked")
	}
	if r1.Links.AudioURL != "" {
		t.Fatalf("audio link should stay empty, got %q", r1.Links.AudioURL)
	}
	if len(snap.Unlinked()) != 0 {
		t.Fatal("linked report returned as unlinked")
	}
	if id, ok := snap.CallConsumed("call-1"); !ok || id != "r1" {
		t.Fatalf("call-1 should be consumed by r1, got %q %v", id, ok)
	}
}

func TestLinkValues_SkipsAbsentLinks(t *testing.T) {
	v := LinkValues(models.ArtifactLinks{AudioURL: "a"}, "c")
	if _, ok := v[ColTranscriptLink]; ok {
		t.Fatal("transcript column should not be written")
	}
	if v[ColAudioLink] != "a" || v[ColCallId] != "c" {
		t.Fatalf("unexpected values %v", v)
	}
}

func TestColumnLetter(t *testing.T) {
	cases := map[int]string{1: "A", 19: "S", 26: "Z", 27: "AA", 52: "AZ", 53: "BA"}
	for n, want := range cases {
		if got := ColumnLetter(n); got != want {
			t.Fatalf("ColumnLetter(%d) = %q, want %q", n, got, want)
		}
	}
}
