package correlator

import (
	"sort"
	"time"

	"github.com/mmdatafocus/fieldreport_backend/models"
)

const (
	// StrategyWindow pairs greedily by nearest timestamp inside the window.
	StrategyWindow = "window"
	// StrategyLatest pairs the newest events with the newest reports and
	// ignores the window.
	StrategyLatest = "latest"
)

const (
	DefaultWindowBefore = 60 * time.Second
	DefaultWindowAfter  = 300 * time.Second
)

// Options bounds are taken literally: a zero Before admits no report
// submitted ahead of the call's end.
type Options struct {
	Strategy string
	// Before is how long a report may be submitted ahead of the call's end.
	Before time.Duration
	// After is how long a report may be submitted after the call's end.
	After time.Duration
}

// DefaultOptions is the 60s-before / 300s-after window.
func DefaultOptions(strategy string) Options {
	return Options{Strategy: strategy, Before: DefaultWindowBefore, After: DefaultWindowAfter}.withDefaults()
}

func (o Options) withDefaults() Options {
	if o.Strategy == "" {
		o.Strategy = StrategyWindow
	}
	if o.Before < 0 {
		o.Before = 0
	}
	if o.After < 0 {
		o.After = 0
	}
	return o
}

// Pair is one proposed link. Offset is submittedAt minus the call's end time.
type Pair struct {
	Event  models.CallEvent
	Report models.Report
	Offset time.Duration
}

// InWindow reports whether -Before <= S-E <= After.
func (o Options) InWindow(e models.CallEvent, r models.Report) bool {
	o = o.withDefaults()
	d := r.SubmittedAt.Sub(e.EndTime())
	return d >= -o.Before && d <= o.After
}

// Match assigns events to reports. Each event and each report appears in at
// most one pair. Callers pass only unlinked reports and unconsumed events.
//
// The window strategy is greedy, not a minimum-cost assignment: the globally
// closest eligible pair is taken first, then the next closest among what is
// left. Overlapping calls can therefore be misassigned.
func Match(events []models.CallEvent, reports []models.Report, opt Options) []Pair {
	opt = opt.withDefaults()
	if len(events) == 0 || len(reports) == 0 {
		return nil
	}
	if opt.Strategy == StrategyLatest {
		return matchLatest(events, reports)
	}
	return matchWindow(events, reports, opt)
}

func matchWindow(events []models.CallEvent, reports []models.Report, opt Options) []Pair {
	var candidates []Pair
	for _, e := range events {
		for _, r := range reports {
			if !opt.InWindow(e, r) {
				continue
			}
			candidates = append(candidates, Pair{Event: e, Report: r, Offset: r.SubmittedAt.Sub(e.EndTime())})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if da, db := abs(a.Offset), abs(b.Offset); da != db {
			return da < db
		}
		if !a.Report.SubmittedAt.Equal(b.Report.SubmittedAt) {
			return a.Report.SubmittedAt.Before(b.Report.SubmittedAt)
		}
		if a.Report.ID != b.Report.ID {
			return a.Report.ID < b.Report.ID
		}
		return a.Event.CallId < b.Event.CallId
	})

	usedEvents := map[string]bool{}
	usedReports := map[string]bool{}
	var out []Pair
	for _, p := range candidates {
		if usedEvents[p.Event.CallId] || usedReports[p.Report.ID] {
			continue
		}
		usedEvents[p.Event.CallId] = true
		usedReports[p.Report.ID] = true
		out = append(out, p)
	}
	return out
}

func matchLatest(events []models.CallEvent, reports []models.Report) []Pair {
	es := append([]models.CallEvent(nil), events...)
	rs := append([]models.Report(nil), reports...)
	sort.SliceStable(es, func(i, j int) bool {
		if ei, ej := es[i].EndTime(), es[j].EndTime(); !ei.Equal(ej) {
			return ei.After(ej)
		}
		return es[i].CallId > es[j].CallId
	})
	sort.SliceStable(rs, func(i, j int) bool {
		if !rs[i].SubmittedAt.Equal(rs[j].SubmittedAt) {
			return rs[i].SubmittedAt.After(rs[j].SubmittedAt)
		}
		// Report ids are time ordered, so the larger id is the newer report.
		return rs[i].ID > rs[j].ID
	})

	n := min(len(es), len(rs))
	out := make([]Pair, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Pair{Event: es[i], Report: rs[i], Offset: rs[i].SubmittedAt.Sub(es[i].EndTime())})
	}
	return out
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
