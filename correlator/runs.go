package correlator

import (
	"context"
	"sync"
	"time"

	"github.com/mmdatafocus/fieldreport_backend/models"
	"gorm.io/gorm"
)

// RunRecorder is the run and failure ledger.
type RunRecorder interface {
	Start(ctx context.Context, run *models.CorrelationRun) error
	Finish(ctx context.Context, run *models.CorrelationRun) error
	RecordFailure(ctx context.Context, f *models.CorrelationFailure) error
	ListRuns(ctx context.Context, limit int) ([]models.CorrelationRun, error)
	ListFailures(ctx context.Context, limit int, retryableOnly bool) ([]models.CorrelationFailure, error)
}

type GormRunRecorder struct {
	db *gorm.DB
}

func NewGormRunRecorder(db *gorm.DB) *GormRunRecorder {
	return &GormRunRecorder{db: db}
}

func (r *GormRunRecorder) Start(ctx context.Context, run *models.CorrelationRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *GormRunRecorder) Finish(ctx context.Context, run *models.CorrelationRun) error {
	return r.db.WithContext(ctx).Model(&models.CorrelationRun{}).
		Where("id = ?", run.ID).
		Updates(map[string]interface{}{
			"status":          run.Status,
			"events_seen":     run.EventsSeen,
			"candidate_count": run.CandidateCount,
			"linked_count":    run.LinkedCount,
			"failed_count":    run.FailedCount,
			"finished_at":     run.FinishedAt,
			"duration_ms":     run.DurationMs,
		}).Error
}

func (r *GormRunRecorder) RecordFailure(ctx context.Context, f *models.CorrelationFailure) error {
	return r.db.WithContext(ctx).Create(f).Error
}

func (r *GormRunRecorder) ListRuns(ctx context.Context, limit int) ([]models.CorrelationRun, error) {
	var runs []models.CorrelationRun
	err := r.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&runs).Error
	return runs, err
}

func (r *GormRunRecorder) ListFailures(ctx context.Context, limit int, retryableOnly bool) ([]models.CorrelationFailure, error) {
	q := r.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if retryableOnly {
		q = q.Where("retryable = ?", true)
	}
	var failures []models.CorrelationFailure
	err := q.Find(&failures).Error
	return failures, err
}

// MemoryRunRecorder keeps the most recent runs and failures in process. It
// backs the operator routes when no database is configured.
type MemoryRunRecorder struct {
	mu       sync.Mutex
	capacity int
	nextId   uint
	nextFail uint
	runs     []models.CorrelationRun
	failures []models.CorrelationFailure
}

func NewMemoryRunRecorder(capacity int) *MemoryRunRecorder {
	if capacity <= 0 {
		capacity = 200
	}
	return &MemoryRunRecorder{capacity: capacity}
}

func (m *MemoryRunRecorder) Start(_ context.Context, run *models.CorrelationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextId++
	run.ID = m.nextId
	run.CreatedAt = time.Now()
	run.UpdatedAt = run.CreatedAt
	m.runs = append(m.runs, *run)
	if len(m.runs) > m.capacity {
		m.runs = m.runs[len(m.runs)-m.capacity:]
	}
	return nil
}

func (m *MemoryRunRecorder) Finish(_ context.Context, run *models.CorrelationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.runs {
		if m.runs[i].ID == run.ID {
			run.UpdatedAt = time.Now()
			m.runs[i] = *run
			return nil
		}
	}
	return nil
}

func (m *MemoryRunRecorder) RecordFailure(_ context.Context, f *models.CorrelationFailure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextFail++
	f.ID = m.nextFail
	f.CreatedAt = time.Now()
	m.failures = append(m.failures, *f)
	if len(m.failures) > m.capacity {
		m.failures = m.failures[len(m.failures)-m.capacity:]
	}
	return nil
}

func (m *MemoryRunRecorder) ListRuns(_ context.Context, limit int) ([]models.CorrelationRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.CorrelationRun
	for i := len(m.runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.runs[i])
	}
	return out, nil
}

func (m *MemoryRunRecorder) ListFailures(_ context.Context, limit int, retryableOnly bool) ([]models.CorrelationFailure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.CorrelationFailure
	for i := len(m.failures) - 1; i >= 0 && len(out) < limit; i-- {
		if retryableOnly && !m.failures[i].Retryable {
			continue
		}
		out = append(out, m.failures[i])
	}
	return out, nil
}
