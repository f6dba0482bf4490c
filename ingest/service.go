// Package ingest accepts structured daily reports from the live conversation
// and appends them to the report table.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/fieldreport_backend/config"
	"github.com/mmdatafocus/fieldreport_backend/models"
	"github.com/mmdatafocus/fieldreport_backend/roster"
	"github.com/mmdatafocus/fieldreport_backend/sheetstore"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type RosterLookup interface {
	Entries(ctx context.Context) ([]models.RosterEntry, error)
}

type Result struct {
	ReportId string
	Report   models.Report
	Warnings []string
}

type Service struct {
	store     sheetstore.Store
	roster    RosterLookup
	threshold float64
	logger    *logrus.Logger

	now   func() time.Time
	newID func() (string, error)
}

func NewService(store sheetstore.Store, rosterLookup RosterLookup, threshold float64, logger *logrus.Logger) *Service {
	if threshold <= 0 {
		threshold = roster.DefaultThreshold
	}
	return &Service{
		store:     store,
		roster:    rosterLookup,
		threshold: threshold,
		logger:    logger,
		now:       time.Now,
		newID:     newReportID,
	}
}

// newReportID returns a UUIDv7: its leading bits are the wall-clock millisecond
// and ids generated in one process are strictly increasing.
func newReportID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Ingest validates req, resolves employee names, and appends one row per
// employee. It returns as soon as the rows are written; artifacts are attached
// later by the correlator.
func (s *Service) Ingest(ctx context.Context, req SubmitRequest) (Result, error) {
	if err := Validate(req); err != nil {
		return Result{}, err
	}

	var warnings []string
	var entries []models.RosterEntry
	if s.roster != nil {
		var err error
		entries, err = s.roster.Entries(ctx)
		if err != nil {
			// Names are kept as spoken; the report itself is still accepted.
			config.LogError(s.logger, "ingest", "Ingest", "roster.Entries", nil, err)
			warnings = append(warnings, "The employee roster is unavailable, so names were saved as spoken.")
			entries = nil
		}
	}

	id, err := s.newID()
	if err != nil {
		return Result{}, fmt.Errorf("generate report id: %w", err)
	}

	report := models.Report{
		ID:          id,
		SubmittedAt: s.now().UTC().Truncate(time.Second),
		JobSite:     strings.TrimSpace(req.JobSite),
		Ancillary: models.Ancillary{
			Deliveries:     req.Deliveries,
			Equipment:      req.Equipment,
			Subcontractors: req.Subcontractors,
			Safety:         req.Safety,
			Delays:         req.Delays,
			WorkPerformed:  req.WorkPerformed,
			Shortages:      req.Shortages,
			Notes:          req.Notes,
		},
	}

	for _, e := range req.Employees {
		spoken := strings.TrimSpace(e.Name)
		res := roster.Result{Name: spoken}
		if len(entries) > 0 {
			res = roster.Resolve(spoken, entries, s.threshold)
			if !res.Matched {
				warnings = append(warnings, fmt.Sprintf("%q did not match anyone on the roster and was saved as spoken.", spoken))
				if s.logger != nil {
					s.logger.WithFields(logrus.Fields{
						"field":     "ingest",
						"report_id": id,
						"spoken":    spoken,
						"score":     res.Score,
					}).Warn("low-confidence roster match")
				}
			}
		}
		report.EmployeeHours = append(report.EmployeeHours, models.NewEmployeeHours(
			spoken,
			res.Name,
			res.EmployeeId,
			hours(e.RegularHours),
			hours(e.OvertimeHours),
		))
	}

	if err := s.store.Append(ctx, sheetstore.EncodeReport(report)); err != nil {
		return Result{}, err
	}

	if s.logger != nil {
		s.logger.WithFields(logrus.Fields{
			"field":     "ingest",
			"report_id": id,
			"employees": len(report.EmployeeHours),
		}).Info("report ingested")
	}
	return Result{ReportId: id, Report: report, Warnings: warnings}, nil
}

func hours(v *float64) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromFloat(*v).Round(2)
}
