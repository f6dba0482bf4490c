// Package correlator attaches call recordings and transcripts to the reports
// produced by those calls. Reports and calls share no key, so pairs are chosen
// by time: a report is submitted close to the end of the call that produced it.
package correlator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mmdatafocus/fieldreport_backend/appctx"
	"github.com/mmdatafocus/fieldreport_backend/config"
	"github.com/mmdatafocus/fieldreport_backend/models"
	"github.com/mmdatafocus/fieldreport_backend/sheetstore"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var ErrAlreadyConsumed = errors.New("report already linked or call already consumed")

const DefaultSweepLimit = 50

type Deps struct {
	Store    sheetstore.Store
	Calls    CallSource
	Uploader Uploader
	// Guard defaults to an in-process LocalGuard.
	Guard Guard
	// Runs defaults to an in-process MemoryRunRecorder.
	Runs RunRecorder
	// DeadLetter may be nil.
	DeadLetter DeadLetterPublisher
	Logger     *logrus.Logger
}

type Config struct {
	PerCallStrategy string
	// WindowBefore and WindowAfter use the 60s / 300s defaults when nil.
	// A zero value is a zero-skew bound.
	WindowBefore *time.Duration
	WindowAfter  *time.Duration
	SweepLimit   int
	ClaimTTL     time.Duration
}

func (cfg Config) window(strategy string) Options {
	opt := DefaultOptions(strategy)
	if cfg.WindowBefore != nil {
		opt.Before = *cfg.WindowBefore
	}
	if cfg.WindowAfter != nil {
		opt.After = *cfg.WindowAfter
	}
	return opt.withDefaults()
}

type Correlator struct {
	store      sheetstore.Store
	calls      CallSource
	uploader   Uploader
	guard      Guard
	runs       RunRecorder
	deadLetter DeadLetterPublisher
	logger     *logrus.Logger
	tracer     trace.Tracer

	perCall    Options
	batch      Options
	sweepLimit int

	now func() time.Time
}

func New(d Deps, cfg Config) (*Correlator, error) {
	if d.Store == nil {
		return nil, errors.New("correlator: store is required")
	}
	if d.Calls == nil {
		return nil, errors.New("correlator: call source is required")
	}
	if d.Uploader == nil {
		return nil, errors.New("correlator: uploader is required")
	}
	if d.Guard == nil {
		d.Guard = NewLocalGuard(cfg.ClaimTTL)
	}
	if d.Runs == nil {
		d.Runs = NewMemoryRunRecorder(0)
	}
	if d.Logger == nil {
		d.Logger = config.GetLogger()
	}

	strategy := strings.ToLower(strings.TrimSpace(cfg.PerCallStrategy))
	switch strategy {
	case "":
		strategy = StrategyLatest
	case StrategyLatest, StrategyWindow:
	default:
		return nil, fmt.Errorf("correlator: unknown per-call strategy %q", cfg.PerCallStrategy)
	}
	limit := cfg.SweepLimit
	if limit <= 0 {
		limit = DefaultSweepLimit
	}

	return &Correlator{
		store:      d.Store,
		calls:      d.Calls,
		uploader:   d.Uploader,
		guard:      d.Guard,
		runs:       d.Runs,
		deadLetter: d.DeadLetter,
		logger:     d.Logger,
		tracer:     otel.Tracer("fieldreport/correlator"),
		perCall:    cfg.window(strategy),
		batch:      cfg.window(StrategyWindow),
		sweepLimit: limit,
		now:        time.Now,
	}, nil
}

func (c *Correlator) Runs() RunRecorder { return c.runs }

type LinkResult struct {
	CallId        string               `json:"callId"`
	ReportId      string               `json:"reportId"`
	Links         models.ArtifactLinks `json:"artifactLinks"`
	OffsetSeconds float64              `json:"offsetSeconds"`
	Warnings      []string             `json:"warnings,omitempty"`

	artifactErrs []error
}

type FailureResult struct {
	CallId    string `json:"callId"`
	ReportId  string `json:"reportId,omitempty"`
	Stage     string `json:"stage"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Summary describes one correlation run.
type Summary struct {
	RunId       uint            `json:"runId,omitempty"`
	Mode        string          `json:"mode"`
	TriggeredBy string          `json:"triggeredBy"`
	Status      string          `json:"status"`
	EventsSeen  int             `json:"eventsSeen"`
	Candidates  int             `json:"candidates"`
	Skipped     int             `json:"skipped"`
	Linked      []LinkResult    `json:"linked"`
	Failed      []FailureResult `json:"failed"`
}

// HandleCall is per-call mode: one finished call against a fresh scan of the
// store. Non-done calls and calls already attached to a report are no-ops.
// The returned error is the linking failure, if any; the summary is always
// filled in.
func (c *Correlator) HandleCall(ctx context.Context, ev models.CallEvent, trigger string) (Summary, error) {
	if strings.TrimSpace(ev.CallId) == "" {
		return Summary{}, errors.New("call id is required")
	}
	ctx = appctx.Set(ctx, appctx.ContextKeyCallId, ev.CallId)
	ctx = appctx.Set(ctx, appctx.ContextKeyTrigger, trigger)
	ctx, span := c.tracer.Start(ctx, "correlator.HandleCall", trace.WithAttributes(
		attribute.String("call_id", ev.CallId),
		attribute.String("trigger", trigger),
		attribute.String("strategy", c.perCall.Strategy),
	))
	defer span.End()

	run := c.startRun(ctx, models.CorrelationModePerCall, trigger)
	sum := Summary{RunId: run.ID, Mode: run.Mode, TriggeredBy: trigger}

	if !ev.Done() {
		c.log(ctx).WithField("status", ev.Status).Info("call not done; nothing to correlate")
		c.finishRun(ctx, run, &sum)
		return sum, nil
	}
	sum.EventsSeen = 1
	ev = c.completeEvent(ctx, ev)

	rows, err := c.store.ScanAll(ctx)
	if err != nil {
		serr := &StageError{Stage: models.CorrelationStageScan, Err: err, Retryable: true}
		c.recordFailure(ctx, run, &sum, ev, "", serr)
		c.publishDeadLetter(ctx, ev, "", serr, trigger)
		c.finishRun(ctx, run, &sum)
		failSpan(span, serr)
		return sum, serr
	}
	snap := sheetstore.BuildSnapshot(rows)
	if reportId, ok := snap.CallConsumed(ev.CallId); ok {
		c.log(ctx).WithField("report_id", reportId).Info("call already linked; ignoring redelivery")
		sum.Skipped++
		c.finishRun(ctx, run, &sum)
		return sum, nil
	}

	candidates := snap.Unlinked()
	sum.Candidates = len(candidates)
	pairs := Match([]models.CallEvent{ev}, candidates, c.perCall)
	if len(pairs) == 0 {
		c.log(ctx).WithField("candidates", len(candidates)).Info("no report to correlate")
		c.finishRun(ctx, run, &sum)
		return sum, nil
	}

	p := pairs[0]
	res, err := c.linkPair(ctx, p)
	c.recordOutcome(ctx, run, &sum, p, res, err)
	if err != nil && !skippable(err) {
		c.publishDeadLetter(ctx, ev, p.Report.ID, err, trigger)
		failSpan(span, err)
	}
	c.finishRun(ctx, run, &sum)
	if skippable(err) {
		return sum, nil
	}
	return sum, err
}

// Replay retries a dead-lettered attempt. When the failed attempt had already
// chosen a report, that exact pair is retried: the report must still be in the
// store and unlinked, the call unconsumed, and under the window strategy the
// pair must still be inside the window. Otherwise the pair is skipped. Only a
// message without a report (a failed scan) is matched again. Replays are never
// re-published.
func (c *Correlator) Replay(ctx context.Context, msg DeadLetterMessage) (Summary, error) {
	if strings.TrimSpace(msg.ReportId) == "" {
		return c.HandleCall(ctx, msg.Event(), models.CorrelationTriggeredReplay)
	}
	trigger := models.CorrelationTriggeredReplay
	ev := msg.Event()
	if strings.TrimSpace(ev.CallId) == "" {
		return Summary{}, errors.New("call id is required")
	}
	ctx = appctx.Set(ctx, appctx.ContextKeyCallId, ev.CallId)
	ctx = appctx.Set(ctx, appctx.ContextKeyTrigger, trigger)
	ctx = appctx.Set(ctx, appctx.ContextKeyReportId, msg.ReportId)
	ctx, span := c.tracer.Start(ctx, "correlator.Replay", trace.WithAttributes(
		attribute.String("call_id", ev.CallId),
		attribute.String("report_id", msg.ReportId),
	))
	defer span.End()

	run := c.startRun(ctx, models.CorrelationModePerCall, trigger)
	sum := Summary{RunId: run.ID, Mode: run.Mode, TriggeredBy: trigger}

	if !ev.Done() {
		c.finishRun(ctx, run, &sum)
		return sum, nil
	}
	sum.EventsSeen = 1
	ev = c.completeEvent(ctx, ev)

	rows, err := c.store.ScanAll(ctx)
	if err != nil {
		serr := &StageError{Stage: models.CorrelationStageScan, Err: err, Retryable: true}
		c.recordFailure(ctx, run, &sum, ev, msg.ReportId, serr)
		c.finishRun(ctx, run, &sum)
		failSpan(span, serr)
		return sum, serr
	}
	snap := sheetstore.BuildSnapshot(rows)
	if reportId, ok := snap.CallConsumed(ev.CallId); ok {
		c.log(ctx).WithField("linked_report_id", reportId).Info("call already linked; dropping replay")
		sum.Skipped++
		c.finishRun(ctx, run, &sum)
		return sum, nil
	}
	report, ok := snap.Report(msg.ReportId)
	switch {
	case !ok:
		c.log(ctx).Warn("replayed report is no longer in the store; dropping replay")
	case report.Linked() || report.CallId != "":
		c.log(ctx).WithField("linked_call_id", report.CallId).Warn("replayed report was linked meanwhile; dropping replay")
	case c.perCall.Strategy == StrategyWindow && !c.perCall.InWindow(ev, report):
		c.log(ctx).Warn("replayed pair is outside the window; dropping replay")
	default:
		sum.Candidates = 1
		p := Pair{Event: ev, Report: report, Offset: report.SubmittedAt.Sub(ev.EndTime())}
		res, err := c.linkPair(ctx, p)
		c.recordOutcome(ctx, run, &sum, p, res, err)
		c.finishRun(ctx, run, &sum)
		if err != nil && !skippable(err) {
			failSpan(span, err)
			return sum, err
		}
		return sum, nil
	}
	sum.Skipped++
	c.finishRun(ctx, run, &sum)
	return sum, nil
}

// Sweep is batch mode: a bounded list of recent calls, one scan of the store,
// strict window matching, and a sequential pass over the chosen pairs.
func (c *Correlator) Sweep(ctx context.Context, trigger string) (Summary, error) {
	ctx = appctx.Set(ctx, appctx.ContextKeyTrigger, trigger)
	ctx, span := c.tracer.Start(ctx, "correlator.Sweep", trace.WithAttributes(
		attribute.String("trigger", trigger),
		attribute.Int("limit", c.sweepLimit),
	))
	defer span.End()

	run := c.startRun(ctx, models.CorrelationModeBatch, trigger)
	sum := Summary{RunId: run.ID, Mode: run.Mode, TriggeredBy: trigger}

	listed, err := c.calls.ListCalls(ctx, c.sweepLimit)
	if err != nil {
		serr := &StageError{Stage: models.CorrelationStageFetch, Err: fmt.Errorf("list calls: %w", err), Retryable: true}
		c.recordFailure(ctx, run, &sum, models.CallEvent{}, "", serr)
		c.finishRun(ctx, run, &sum)
		failSpan(span, serr)
		return sum, serr
	}

	seen := map[string]bool{}
	var events []models.CallEvent
	for _, ev := range listed {
		if ev.CallId == "" || !ev.Done() || ev.StartTime.IsZero() || seen[ev.CallId] {
			continue
		}
		seen[ev.CallId] = true
		events = append(events, ev)
	}
	sum.EventsSeen = len(events)
	if len(events) == 0 {
		c.finishRun(ctx, run, &sum)
		return sum, nil
	}

	rows, err := c.store.ScanAll(ctx)
	if err != nil {
		serr := &StageError{Stage: models.CorrelationStageScan, Err: err, Retryable: true}
		c.recordFailure(ctx, run, &sum, models.CallEvent{}, "", serr)
		c.finishRun(ctx, run, &sum)
		failSpan(span, serr)
		return sum, serr
	}
	snap := sheetstore.BuildSnapshot(rows)

	fresh := events[:0]
	for _, ev := range events {
		if _, ok := snap.CallConsumed(ev.CallId); ok {
			sum.Skipped++
			continue
		}
		fresh = append(fresh, ev)
	}
	candidates := snap.Unlinked()
	sum.Candidates = len(candidates)

	for _, p := range Match(fresh, candidates, c.batch) {
		if ctx.Err() != nil {
			break
		}
		res, err := c.linkPair(ctx, p)
		c.recordOutcome(ctx, run, &sum, p, res, err)
	}

	c.finishRun(ctx, run, &sum)
	c.log(ctx).WithFields(logrus.Fields{
		"mode":       run.Mode,
		"events":     sum.EventsSeen,
		"candidates": sum.Candidates,
		"linked":     len(sum.Linked),
		"failed":     len(sum.Failed),
	}).Info("sweep finished")
	return sum, ctx.Err()
}

// linkPair claims the pair, uploads what it can, and writes the links to every
// row of the report. The claim is released unless the store write happened.
func (c *Correlator) linkPair(ctx context.Context, p Pair) (LinkResult, error) {
	ctx = appctx.Set(ctx, appctx.ContextKeyReportId, p.Report.ID)
	ctx, span := c.tracer.Start(ctx, "correlator.linkPair", trace.WithAttributes(
		attribute.String("call_id", p.Event.CallId),
		attribute.String("report_id", p.Report.ID),
	))
	defer span.End()

	res := LinkResult{CallId: p.Event.CallId, ReportId: p.Report.ID, OffsetSeconds: p.Offset.Seconds()}

	release, err := c.guard.Claim(ctx, p.Report.ID, p.Event.CallId)
	if err != nil {
		if errors.Is(err, ErrAlreadyClaimed) {
			return res, err
		}
		return res, &StageError{Stage: models.CorrelationStageClaim, Err: err, Retryable: true}
	}
	written := false
	defer func() {
		if !written {
			release(context.WithoutCancel(ctx))
		}
	}()

	links, artifactErrs := c.collectArtifacts(ctx, p.Event, p.Report.ID)
	res.artifactErrs = artifactErrs
	for _, e := range artifactErrs {
		res.Warnings = append(res.Warnings, e.Error())
		c.log(ctx).WithField("stage", stageOf(e)).Warn("artifact not attached: " + e.Error())
	}
	if !links.Linked() {
		stage := models.CorrelationStageUpload
		if len(artifactErrs) > 0 {
			stage = stageOf(artifactErrs[0])
		}
		serr := &StageError{Stage: stage, Err: errors.Join(append([]error{ErrNoArtifacts}, artifactErrs...)...)}
		for _, e := range artifactErrs {
			serr.Retryable = serr.Retryable || retryable(e)
		}
		failSpan(span, serr)
		return res, serr
	}

	unlock, err := c.guard.Lock(ctx, p.Report.ID)
	if err != nil {
		return res, &StageError{Stage: models.CorrelationStageUpdate, Err: err, Retryable: true}
	}
	defer unlock(context.WithoutCancel(ctx))

	// Re-read under the lock: the first scan may be minutes old by now.
	rows, err := c.store.ScanAll(ctx)
	if err != nil {
		return res, &StageError{Stage: models.CorrelationStageScan, Err: err, Retryable: true}
	}
	snap := sheetstore.BuildSnapshot(rows)
	current, ok := snap.Report(p.Report.ID)
	if !ok {
		return res, &StageError{Stage: models.CorrelationStageUpdate, Err: fmt.Errorf("report %s is no longer in the store", p.Report.ID)}
	}
	if current.Linked() || current.CallId != "" {
		return res, ErrAlreadyConsumed
	}
	if _, consumed := snap.CallConsumed(p.Event.CallId); consumed {
		return res, ErrAlreadyConsumed
	}

	if err := c.store.UpdateCells(ctx, snap.Refs(p.Report.ID), sheetstore.LinkValues(links, p.Event.CallId)); err != nil {
		serr := &StageError{Stage: models.CorrelationStageUpdate, Err: err, Retryable: !errors.Is(err, sheetstore.ErrRowOutOfRange)}
		failSpan(span, serr)
		return res, serr
	}
	written = true
	res.Links = links

	c.log(ctx).WithFields(logrus.Fields{
		"offset_seconds": res.OffsetSeconds,
		"audio":          links.AudioURL != "",
		"transcript":     links.TranscriptURL != "",
	}).Info("report linked")
	return res, nil
}

// completeEvent fills in the call's start time when the notification did not
// carry it. Without provider metadata the call is assumed to have just ended.
func (c *Correlator) completeEvent(ctx context.Context, ev models.CallEvent) models.CallEvent {
	if !ev.StartTime.IsZero() {
		return ev
	}
	detail, err := c.calls.GetCall(ctx, ev.CallId)
	if err == nil && !detail.StartTime.IsZero() {
		ev.StartTime = detail.StartTime
		if ev.DurationSeconds == 0 {
			ev.DurationSeconds = detail.DurationSeconds
		}
		if len(ev.Transcript) == 0 {
			ev.Transcript = detail.Transcript
		}
		return ev
	}
	if err != nil {
		c.log(ctx).Warn("call metadata unavailable; using arrival time as call end: " + err.Error())
	}
	ev.StartTime = c.now().UTC().Add(-time.Duration(ev.DurationSeconds) * time.Second)
	return ev
}

func skippable(err error) bool {
	return errors.Is(err, ErrAlreadyClaimed) || errors.Is(err, ErrAlreadyConsumed)
}

func (c *Correlator) recordOutcome(ctx context.Context, run *models.CorrelationRun, sum *Summary, p Pair, res LinkResult, err error) {
	switch {
	case err == nil:
		sum.Linked = append(sum.Linked, res)
		// A missing sibling artifact is logged in the ledger but does not fail the link.
		for _, e := range res.artifactErrs {
			c.writeFailure(ctx, run, p.Event, p.Report.ID, stageOf(e), e.Error(), false)
		}
	case skippable(err):
		sum.Skipped++
		c.log(ctx).WithField("report_id", p.Report.ID).Info("pair skipped: " + err.Error())
	default:
		c.recordFailure(ctx, run, sum, p.Event, p.Report.ID, err)
	}
}

func (c *Correlator) recordFailure(ctx context.Context, run *models.CorrelationRun, sum *Summary, ev models.CallEvent, reportId string, err error) {
	f := FailureResult{
		CallId:    ev.CallId,
		ReportId:  reportId,
		Stage:     stageOf(err),
		Message:   err.Error(),
		Retryable: retryable(err),
	}
	sum.Failed = append(sum.Failed, f)
	config.LogError(c.logger, "correlator", "recordFailure", f.Stage, map[string]string{"call_id": f.CallId, "report_id": f.ReportId}, err)
	c.writeFailure(ctx, run, ev, reportId, f.Stage, f.Message, f.Retryable)
}

func (c *Correlator) writeFailure(ctx context.Context, run *models.CorrelationRun, ev models.CallEvent, reportId, stage, msg string, retry bool) {
	payload, _ := json.Marshal(newDeadLetterMessage(ev, reportId, stage, msg, c.now().UTC()))
	err := c.runs.RecordFailure(ctx, &models.CorrelationFailure{
		RunId:       run.ID,
		CallId:      ev.CallId,
		ReportId:    reportId,
		Stage:       stage,
		Message:     msg,
		PayloadJSON: payload,
		Retryable:   retry,
	})
	config.LogError(c.logger, "correlator", "writeFailure", "runs.RecordFailure", nil, err)
}

// publishDeadLetter hands a retryable per-call failure to the replay queue.
// Replayed attempts are not re-published; the subscription's own retry policy
// applies to them.
func (c *Correlator) publishDeadLetter(ctx context.Context, ev models.CallEvent, reportId string, err error, trigger string) {
	if c.deadLetter == nil || trigger == models.CorrelationTriggeredReplay || !retryable(err) {
		return
	}
	msg := newDeadLetterMessage(ev, reportId, stageOf(err), err.Error(), c.now().UTC())
	if perr := c.deadLetter.Publish(context.WithoutCancel(ctx), msg); perr != nil {
		config.LogError(c.logger, "correlator", "publishDeadLetter", "deadLetter.Publish", msg.CallId, perr)
	}
}

func (c *Correlator) startRun(ctx context.Context, mode, trigger string) *models.CorrelationRun {
	now := c.now().UTC()
	run := &models.CorrelationRun{
		Mode:        mode,
		TriggeredBy: trigger,
		Status:      models.CorrelationRunStatusRunning,
		StartedAt:   &now,
	}
	// The ledger is best effort; correlation proceeds without it.
	if err := c.runs.Start(ctx, run); err != nil {
		config.LogError(c.logger, "correlator", "startRun", "runs.Start", mode, err)
	}
	return run
}

func (c *Correlator) finishRun(ctx context.Context, run *models.CorrelationRun, sum *Summary) {
	now := c.now().UTC()
	run.EventsSeen = sum.EventsSeen
	run.CandidateCount = sum.Candidates
	run.LinkedCount = len(sum.Linked)
	run.FailedCount = len(sum.Failed)
	run.FinishedAt = &now
	if run.StartedAt != nil {
		run.DurationMs = now.Sub(*run.StartedAt).Milliseconds()
	}
	switch {
	case run.LinkedCount > 0 && run.FailedCount == 0:
		run.Status = models.CorrelationRunStatusSuccess
	case run.LinkedCount > 0:
		run.Status = models.CorrelationRunStatusPartial
	case run.FailedCount > 0:
		run.Status = models.CorrelationRunStatusFailed
	default:
		run.Status = models.CorrelationRunStatusNoop
	}
	sum.Status = run.Status
	if run.ID == 0 {
		return
	}
	if err := c.runs.Finish(context.WithoutCancel(ctx), run); err != nil {
		config.LogError(c.logger, "correlator", "finishRun", "runs.Finish", run.ID, err)
	}
}

func (c *Correlator) log(ctx context.Context) *logrus.Entry {
	fields := logrus.Fields{"field": "correlator"}
	if v, ok := appctx.GetString(ctx, appctx.ContextKeyCallId); ok {
		fields["call_id"] = v
	}
	if v, ok := appctx.GetString(ctx, appctx.ContextKeyReportId); ok {
		fields["report_id"] = v
	}
	if v, ok := appctx.GetString(ctx, appctx.ContextKeyTrigger); ok {
		fields["trigger"] = v
	}
	if v, ok := appctx.GetString(ctx, appctx.ContextKeyCorrelationId); ok {
		fields["correlation_id"] = v
	}
	return c.logger.WithFields(fields)
}

func failSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
