package correlator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/fieldreport_backend/models"
	"github.com/mmdatafocus/fieldreport_backend/sheetstore"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

type fakeCalls struct {
	mu        sync.Mutex
	listed    []models.CallEvent
	details   map[string]models.CallEvent
	audio     map[string][]byte
	audioErr  error
	getErr    error
	listErr   error
	audioHits int
	getHits   int
}

func newFakeCalls() *fakeCalls {
	return &fakeCalls{details: map[string]models.CallEvent{}, audio: map[string][]byte{}}
}

func (f *fakeCalls) ListCalls(_ context.Context, limit int) ([]models.CallEvent, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	if len(f.listed) > limit {
		return f.listed[:limit], nil
	}
	return f.listed, nil
}

func (f *fakeCalls) GetCall(_ context.Context, callId string) (models.CallEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getHits++
	if f.getErr != nil {
		return models.CallEvent{}, f.getErr
	}
	d, ok := f.details[callId]
	if !ok {
		return models.CallEvent{}, ErrNotFound
	}
	return d, nil
}

func (f *fakeCalls) FetchAudio(_ context.Context, callId, _ string) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audioHits++
	if f.audioErr != nil {
		return nil, "", f.audioErr
	}
	data, ok := f.audio[callId]
	if !ok {
		return nil, "", ErrNotFound
	}
	return data, "audio/mpeg", nil
}

type fakeUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
	uploads int
	fail    error
	// noURL makes Upload succeed without returning a link.
	noURL bool
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{objects: map[string][]byte{}}
}

func (u *fakeUploader) Upload(_ context.Context, name string, data []byte, _ string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.fail != nil {
		return "", u.fail
	}
	u.uploads++
	u.objects[name] = data
	if u.noURL {
		return "", nil
	}
	return "https://storage.example.com/bucket/" + name, nil
}

type fakeDeadLetter struct {
	mu   sync.Mutex
	msgs []DeadLetterMessage
}

func (d *fakeDeadLetter) Publish(_ context.Context, msg DeadLetterMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.msgs = append(d.msgs, msg)
	return nil
}

type failingScanStore struct {
	sheetstore.Store
}

func (failingScanStore) ScanAll(context.Context) ([]sheetstore.Row, error) {
	return nil, errors.New("quota exceeded")
}

func clock(h, m, s int) time.Time {
	return time.Date(2026, 3, 2, h, m, s, 0, time.UTC)
}

func testReport(id string, submittedAt time.Time, employees ...string) models.Report {
	r := models.Report{ID: id, SubmittedAt: submittedAt, JobSite: "Site " + id}
	for i, name := range employees {
		r.EmployeeHours = append(r.EmployeeHours, models.NewEmployeeHours(name, name, "", decimal.NewFromInt(8), decimal.NewFromInt(int64(i*2))))
	}
	return r
}

// callEnding builds a done call that ends at end.
func callEnding(id string, end time.Time, durationSecs int) models.CallEvent {
	return models.CallEvent{
		CallId:          id,
		StartTime:       end.Add(-time.Duration(durationSecs) * time.Second),
		DurationSeconds: durationSecs,
		Status:          models.CallStatusDone,
		Transcript: []models.TranscriptEntry{
			{Role: "agent", Message: "How many hours today?"},
			{Role: "user", Message: "Eight."},
		},
	}
}

func seedStore(t *testing.T, reports ...models.Report) *sheetstore.MemoryStore {
	t.Helper()
	store := sheetstore.NewMemoryStore(sheetstore.ReportColumnCount)
	for _, r := range reports {
		if err := store.Append(context.Background(), sheetstore.EncodeReport(r)); err != nil {
			t.Fatal(err)
		}
	}
	return store
}

type harness struct {
	store      *sheetstore.MemoryStore
	calls      *fakeCalls
	uploader   *fakeUploader
	deadLetter *fakeDeadLetter
	runs       *MemoryRunRecorder
	c          *Correlator
}

func newHarness(t *testing.T, cfg Config, reports ...models.Report) *harness {
	t.Helper()
	logger, _ := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	h := &harness{
		store:      seedStore(t, reports...),
		calls:      newFakeCalls(),
		uploader:   newFakeUploader(),
		deadLetter: &fakeDeadLetter{},
		runs:       NewMemoryRunRecorder(0),
	}
	c, err := New(Deps{
		Store:      h.store,
		Calls:      h.calls,
		Uploader:   h.uploader,
		Runs:       h.runs,
		DeadLetter: h.deadLetter,
		Logger:     logger,
	}, cfg)
	if err != nil {
		t.Fatal(err)
	}
	h.c = c
	return h
}

func (h *harness) snapshot(t *testing.T) *sheetstore.Snapshot {
	t.Helper()
	rows, err := h.store.ScanAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return sheetstore.BuildSnapshot(rows)
}
