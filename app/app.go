// Package app builds the process dependencies from Settings. Both the HTTP
// server and the command-line sweep start from here.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/bsm/redislock"
	"github.com/mmdatafocus/fieldreport_backend/config"
	"github.com/mmdatafocus/fieldreport_backend/correlator"
	"github.com/mmdatafocus/fieldreport_backend/ingest"
	"github.com/mmdatafocus/fieldreport_backend/models"
	"github.com/mmdatafocus/fieldreport_backend/roster"
	"github.com/mmdatafocus/fieldreport_backend/sheetstore"
	"github.com/mmdatafocus/fieldreport_backend/utils"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const connectAttempts = 5

type App struct {
	Settings   config.Settings
	Logger     *logrus.Logger
	Tables     sheetstore.Tables
	Ingest     *ingest.Service
	Correlator *correlator.Correlator

	Redis  *redis.Client
	Locker *redislock.Client
	DB     *gorm.DB

	pubsub     *pubsub.Client
	deadLetter *correlator.PubSubDeadLetter
	closers    []func() error
}

// Build connects every configured dependency. Redis, MySQL and Pub/Sub are
// optional: when their settings are empty the in-process fallbacks are used.
func Build(ctx context.Context, s config.Settings, logger *logrus.Logger) (*App, error) {
	a := &App{Settings: s, Logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	tables, err := sheetstore.OpenTables(ctx, s.Store)
	if err != nil {
		return nil, err
	}
	a.Tables = tables

	var guard correlator.Guard
	if s.Redis.Address != "" {
		rdb, locker, err := config.ConnectRedisWithRetry(ctx, s.Redis.Address, connectAttempts)
		if err != nil {
			return nil, err
		}
		a.Redis, a.Locker = rdb, locker
		a.closers = append(a.closers, rdb.Close)
		guard = correlator.NewRedisGuard(rdb, locker, s.Redis.ClaimTTL)
	} else {
		logger.WithFields(logrus.Fields{"field": "redis"}).Warn("REDIS_ADDRESS not set; claims are held in process only")
		guard = correlator.NewLocalGuard(s.Redis.ClaimTTL)
	}

	var runs correlator.RunRecorder
	if s.DB.Host != "" {
		db, err := config.ConnectDatabaseWithRetry(ctx, s.DB, connectAttempts)
		if err != nil {
			return nil, err
		}
		a.DB = db
		if sqlDB, err := db.DB(); err == nil {
			a.closers = append(a.closers, sqlDB.Close)
		}
		if !s.DB.SkipMigrations {
			if err := models.MigrateTable(db); err != nil {
				return nil, err
			}
		} else {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
		}
		runs = correlator.NewGormRunRecorder(db)
	} else {
		runs = correlator.NewMemoryRunRecorder(0)
	}

	var deadLetter correlator.DeadLetterPublisher
	if s.PubSub.DeadLetterTopic != "" {
		client, err := config.NewPubSubClient(ctx, s.PubSub.ProjectID, s.PubSub.CredentialsJSON, connectAttempts)
		if err != nil {
			return nil, err
		}
		a.pubsub = client
		a.closers = append(a.closers, client.Close)
		dl, err := correlator.NewPubSubDeadLetter(ctx, client, s.PubSub.DeadLetterTopic, !s.IsProduction())
		if err != nil {
			return nil, err
		}
		a.deadLetter = dl
		deadLetter = dl
	}

	gcs, err := utils.NewGCSClient(ctx, s.Storage.CredentialsJSON)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, gcs.Close)
	uploader, err := utils.NewGCSUploader(gcs, s.Storage.Bucket, utils.ObjectURLBuilder{
		AccessBaseURL: s.Storage.AccessBaseURL,
		Host:          s.Storage.PublicHost,
		Bucket:        s.Storage.Bucket,
	})
	if err != nil {
		return nil, err
	}
	if err := uploader.CheckBucket(ctx); err != nil {
		logger.WithFields(logrus.Fields{"field": "gcs"}).Warn(err.Error())
	}

	voice, err := correlator.NewVoiceClient(s.Voice, &http.Client{Timeout: 60 * time.Second})
	if err != nil {
		return nil, err
	}

	rosterSource := roster.NewSource(tables.Roster, a.Redis, s.Roster.CacheTTL, logger)
	a.Ingest = ingest.NewService(tables.Reports, rosterSource, s.Roster.MatchThreshold, logger)

	a.Correlator, err = correlator.New(correlator.Deps{
		Store:      tables.Reports,
		Calls:      voice,
		Uploader:   uploader,
		Guard:      guard,
		Runs:       runs,
		DeadLetter: deadLetter,
		Logger:     logger,
	}, correlator.Config{
		PerCallStrategy: s.Correlation.PerCallStrategy,
		WindowBefore:    &s.Correlation.WindowBefore,
		WindowAfter:     &s.Correlation.WindowAfter,
		SweepLimit:      s.Correlation.SweepLimit,
		ClaimTTL:        s.Redis.ClaimTTL,
	})
	if err != nil {
		return nil, err
	}

	ok = true
	return a, nil
}

// Close flushes the dead-letter topic and closes clients in reverse order.
func (a *App) Close() error {
	if a.deadLetter != nil {
		a.deadLetter.Stop()
		a.deadLetter = nil
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
