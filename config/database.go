package config

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// ConnectDatabaseWithRetry opens the run ledger database.
// maxAttempts <= 0 retries until ctx is done.
func ConnectDatabaseWithRetry(ctx context.Context, s DBSettings, maxAttempts int) (*gorm.DB, error) {
	if s.Host == "" || s.Name == "" {
		return nil, errors.New("DB_HOST and DB_NAME are required")
	}

	network := "tcp"
	address := fmt.Sprintf("%s:%s", s.Host, s.Port)

	// Cloud Run + Cloud SQL: when DB_HOST is "/cloudsql/<CONNECTION_NAME>",
	// connect using a Unix domain socket provided by Cloud SQL Auth Proxy.
	if strings.HasPrefix(s.Host, "/cloudsql/") {
		network = "unix"
		address = s.Host
	}

	dsn := fmt.Sprintf("%s:%s@%s(%s)/%s?parseTime=true",
		s.User,
		s.Password,
		network,
		address,
		s.Name,
	)

	var attempt int
	for {
		attempt++
		db, err := gorm.Open(mysql.Open(dsn), initConfig())
		if err == nil {
			if sqlDB, derr := db.DB(); derr == nil && sqlDB != nil {
				sqlDB.SetMaxOpenConns(envInt("DB_MAX_OPEN_CONNS", 10))
				sqlDB.SetMaxIdleConns(envInt("DB_MAX_IDLE_CONNS", 5))
				sqlDB.SetConnMaxLifetime(time.Duration(envInt("DB_CONN_MAX_LIFETIME_SECONDS", 300)) * time.Second)
			}
			if pluginErr := db.Use(otelgorm.NewPlugin()); pluginErr != nil {
				log.Printf("db connected but failed to install otelgorm plugin: %v", pluginErr)
			}
			log.Printf("connected to database (attempt=%d)", attempt)
			return db, nil
		}

		if maxAttempts > 0 && attempt >= maxAttempts {
			return nil, err
		}
		sleep := backoff(attempt)
		log.Printf("failed to connect database (attempt=%d): %v; retrying in %s", attempt, err, sleep)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}
}

func initConfig() *gorm.Config {
	return &gorm.Config{
		Logger: logger.New(
			log.New(os.Stdout, "\r\n", log.LstdFlags),
			logger.Config{
				Colorful:      false,
				LogLevel:      logger.Error,
				SlowThreshold: time.Second,
			},
		),
		NamingStrategy: &schema.NamingStrategy{
			SingularTable: false,
		},
	}
}
