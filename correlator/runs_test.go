package correlator

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/mmdatafocus/fieldreport_backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockRecorder(t *testing.T) (*GormRunRecorder, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return NewGormRunRecorder(db), mock
}

func TestGormRunRecorder_StartAndFinish(t *testing.T) {
	rec, mock := newMockRecorder(t)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `correlation_runs`")).
		WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `correlation_runs` SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	started := time.Now().UTC()
	run := &models.CorrelationRun{Mode: models.CorrelationModeBatch, TriggeredBy: models.CorrelationTriggeredSchedule, Status: models.CorrelationRunStatusRunning, StartedAt: &started}
	require.NoError(t, rec.Start(ctx, run))
	assert.Equal(t, uint(7), run.ID)

	run.Status = models.CorrelationRunStatusSuccess
	run.LinkedCount = 2
	require.NoError(t, rec.Finish(ctx, run))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormRunRecorder_ListFailuresRetryable(t *testing.T) {
	rec, mock := newMockRecorder(t)

	rows := sqlmock.NewRows([]string{"id", "run_id", "call_id", "report_id", "stage", "message", "retryable"}).
		AddRow(3, 7, "c1", "r1", models.CorrelationStageUpload, "bucket unavailable", true)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `correlation_failures` WHERE retryable = ? ORDER BY id DESC LIMIT")).
		WillReturnRows(rows)

	failures, err := rec.ListFailures(context.Background(), 20, true)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "c1", failures[0].CallId)
	assert.True(t, failures[0].Retryable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormRunRecorder_ListRuns(t *testing.T) {
	rec, mock := newMockRecorder(t)

	rows := sqlmock.NewRows([]string{"id", "mode", "triggered_by", "status", "linked_count"}).
		AddRow(2, models.CorrelationModePerCall, models.CorrelationTriggeredWebhook, models.CorrelationRunStatusNoop, 0).
		AddRow(1, models.CorrelationModeBatch, models.CorrelationTriggeredManual, models.CorrelationRunStatusSuccess, 3)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `correlation_runs` ORDER BY id DESC LIMIT")).
		WillReturnRows(rows)

	runs, err := rec.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, 3, runs[1].LinkedCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryRunRecorder_KeepsMostRecent(t *testing.T) {
	rec := NewMemoryRunRecorder(2)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		run := &models.CorrelationRun{Mode: models.CorrelationModeBatch}
		require.NoError(t, rec.Start(ctx, run))
		run.Status = models.CorrelationRunStatusNoop
		require.NoError(t, rec.Finish(ctx, run))
	}
	runs, _ := rec.ListRuns(ctx, 10)
	require.Len(t, runs, 2)
	assert.Equal(t, uint(3), runs[0].ID)
	assert.Equal(t, uint(2), runs[1].ID)
	assert.Equal(t, models.CorrelationRunStatusNoop, runs[0].Status)
}
