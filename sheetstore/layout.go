package sheetstore

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/mmdatafocus/fieldreport_backend/models"
	"github.com/shopspring/decimal"
)

// Report table columns. Downstream consumers read by position: append new
// columns at the end, never reorder.
const (
	ColTimestamp = iota
	ColJobSite
	ColEmployee
	ColEmployeeId
	ColRegularHours
	ColOvertimeHours
	ColTotalHours
	ColDeliveries
	ColEquipment
	ColSubcontractors
	ColSafety
	ColDelays
	ColWorkPerformed
	ColShortages
	ColNotes
	ColAudioLink
	ColTranscriptLink
	ColReportId
	ColCallId
	ReportColumnCount
)

var ReportHeader = []string{
	"Timestamp",
	"Job Site",
	"Employee",
	"Employee ID",
	"Regular Hours",
	"Overtime Hours",
	"Total Hours",
	"Deliveries",
	"Equipment",
	"Subcontractors",
	"Safety",
	"Delays",
	"Work Performed",
	"Shortages",
	"Notes",
	"Audio Link",
	"Transcript Link",
	"Report ID",
	"Call ID",
}

// Roster table columns.
const (
	RosterColId = iota
	RosterColName
	RosterColActive
	RosterColumnCount
)

var RosterHeader = []string{"ID", "Name", "Active"}

const TimestampLayout = time.RFC3339

// EncodeReport renders one row per employee. Every row carries the report id,
// the submission time and the report-level fields.
func EncodeReport(r models.Report) [][]string {
	rows := make([][]string, 0, len(r.EmployeeHours))
	for _, eh := range r.EmployeeHours {
		row := make([]string, ReportColumnCount)
		row[ColTimestamp] = r.SubmittedAt.UTC().Format(TimestampLayout)
		row[ColJobSite] = r.JobSite
		row[ColEmployee] = eh.NormalizedName
		row[ColEmployeeId] = eh.EmployeeId
		row[ColRegularHours] = eh.RegularHours.String()
		row[ColOvertimeHours] = eh.OvertimeHours.String()
		row[ColTotalHours] = eh.TotalHours.String()
		row[ColDeliveries] = rawString(r.Ancillary.Deliveries)
		row[ColEquipment] = rawString(r.Ancillary.Equipment)
		row[ColSubcontractors] = rawString(r.Ancillary.Subcontractors)
		row[ColSafety] = rawString(r.Ancillary.Safety)
		row[ColDelays] = rawString(r.Ancillary.Delays)
		row[ColWorkPerformed] = rawString(r.Ancillary.WorkPerformed)
		row[ColShortages] = r.Ancillary.Shortages
		row[ColNotes] = r.Ancillary.Notes
		row[ColAudioLink] = r.Links.AudioURL
		row[ColTranscriptLink] = r.Links.TranscriptURL
		row[ColReportId] = r.ID
		row[ColCallId] = r.CallId
		rows = append(rows, row)
	}
	return rows
}

// LinkValues is the cell update that attaches artifacts to a report.
// Absent links are left untouched.
func LinkValues(links models.ArtifactLinks, callId string) map[int]string {
	values := map[int]string{ColCallId: callId}
	if links.AudioURL != "" {
		values[ColAudioLink] = links.AudioURL
	}
	if links.TranscriptURL != "" {
		values[ColTranscriptLink] = links.TranscriptURL
	}
	return values
}

// Snapshot groups one ScanAll result into reports. It is rebuilt on every
// operation and never cached.
type Snapshot struct {
	reports  []models.Report
	index    map[string]int
	refs     map[string][]int
	consumed map[string]string
	// Skipped counts rows without a report id or with an unreadable timestamp.
	Skipped int
}

func BuildSnapshot(rows []Row) *Snapshot {
	s := &Snapshot{
		index:    map[string]int{},
		refs:     map[string][]int{},
		consumed: map[string]string{},
	}
	for _, row := range rows {
		id := strings.TrimSpace(row.Value(ColReportId))
		if id == "" {
			s.Skipped++
			continue
		}
		pos, seen := s.index[id]
		if !seen {
			submittedAt, err := time.Parse(TimestampLayout, strings.TrimSpace(row.Value(ColTimestamp)))
			if err != nil {
				s.Skipped++
				continue
			}
			s.reports = append(s.reports, models.Report{
				ID:          id,
				SubmittedAt: submittedAt,
				JobSite:     row.Value(ColJobSite),
				Ancillary: models.Ancillary{
					Deliveries:     rawMessage(row.Value(ColDeliveries)),
					Equipment:      rawMessage(row.Value(ColEquipment)),
					Subcontractors: rawMessage(row.Value(ColSubcontractors)),
					Safety:         rawMessage(row.Value(ColSafety)),
					Delays:         rawMessage(row.Value(ColDelays)),
					WorkPerformed:  rawMessage(row.Value(ColWorkPerformed)),
					Shortages:      row.Value(ColShortages),
					Notes:          row.Value(ColNotes),
				},
			})
			pos = len(s.reports) - 1
			s.index[id] = pos
		}

		r := &s.reports[pos]
		name := row.Value(ColEmployee)
		r.EmployeeHours = append(r.EmployeeHours, models.NewEmployeeHours(
			name,
			name,
			row.Value(ColEmployeeId),
			parseDecimal(row.Value(ColRegularHours)),
			parseDecimal(row.Value(ColOvertimeHours)),
		))
		// Links are report-scoped; any row carrying one marks the whole report.
		if v := row.Value(ColAudioLink); v != "" && r.Links.AudioURL == "" {
			r.Links.AudioURL = v
		}
		if v := row.Value(ColTranscriptLink); v != "" && r.Links.TranscriptURL == "" {
			r.Links.TranscriptURL = v
		}
		if v := strings.TrimSpace(row.Value(ColCallId)); v != "" {
			if r.CallId == "" {
				r.CallId = v
			}
			s.consumed[v] = id
		}
		s.refs[id] = append(s.refs[id], row.Ref)
	}
	return s
}

// Reports returns every report in order of first appearance.
func (s *Snapshot) Reports() []models.Report {
	out := make([]models.Report, len(s.reports))
	copy(out, s.reports)
	return out
}

func (s *Snapshot) Report(id string) (models.Report, bool) {
	pos, ok := s.index[id]
	if !ok {
		return models.Report{}, false
	}
	return s.reports[pos], true
}

// Refs returns the row references of every row belonging to report id.
func (s *Snapshot) Refs(id string) []int {
	refs := s.refs[id]
	out := make([]int, len(refs))
	copy(out, refs)
	return out
}

// Unlinked returns reports that carry no artifact link and no call id.
func (s *Snapshot) Unlinked() []models.Report {
	var out []models.Report
	for _, r := range s.reports {
		if r.Linked() || r.CallId != "" {
			continue
		}
		out = append(out, r)
	}
	return out
}

// CallConsumed reports whether callId is already attached to a report.
func (s *Snapshot) CallConsumed(callId string) (string, bool) {
	id, ok := s.consumed[callId]
	return id, ok
}

func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	return string(raw)
}

func rawMessage(v string) json.RawMessage {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	if json.Valid([]byte(v)) {
		return json.RawMessage(v)
	}
	// Hand-edited cells may hold plain text.
	b, _ := json.Marshal(v)
	return json.RawMessage(b)
}

func parseDecimal(v string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		return decimal.Zero
	}
	return d
}
