package roster

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/mmdatafocus/fieldreport_backend/models"
	"github.com/mmdatafocus/fieldreport_backend/sheetstore"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const cacheKey = "roster:entries"

// Source loads roster entries from the roster table, optionally through a
// Redis cache. The roster is read-only here.
type Source struct {
	store  sheetstore.Store
	rdb    *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

// NewSource returns a Source. rdb may be nil, which disables caching.
func NewSource(store sheetstore.Store, rdb *redis.Client, ttl time.Duration, logger *logrus.Logger) *Source {
	return &Source{store: store, rdb: rdb, ttl: ttl, logger: logger}
}

func (s *Source) Entries(ctx context.Context) ([]models.RosterEntry, error) {
	if s.rdb != nil && s.ttl > 0 {
		val, err := s.rdb.Get(ctx, cacheKey).Result()
		if err == nil {
			var entries []models.RosterEntry
			if jerr := json.Unmarshal([]byte(val), &entries); jerr == nil {
				return entries, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			s.warn("roster cache read failed; reading store: " + err.Error())
		}
	}

	rows, err := s.store.ScanAll(ctx)
	if err != nil {
		return nil, err
	}
	entries := DecodeEntries(rows)

	if s.rdb != nil && s.ttl > 0 {
		if b, err := json.Marshal(entries); err == nil {
			if err := s.rdb.Set(ctx, cacheKey, b, s.ttl).Err(); err != nil {
				s.warn("roster cache write failed: " + err.Error())
			}
		}
	}
	return entries, nil
}

// DecodeEntries turns roster rows into entries, skipping rows without a name.
// An empty Active cell counts as active.
func DecodeEntries(rows []sheetstore.Row) []models.RosterEntry {
	entries := make([]models.RosterEntry, 0, len(rows))
	for _, row := range rows {
		name := strings.TrimSpace(row.Value(sheetstore.RosterColName))
		if name == "" {
			continue
		}
		entries = append(entries, models.RosterEntry{
			ID:     strings.TrimSpace(row.Value(sheetstore.RosterColId)),
			Name:   name,
			Active: parseActive(row.Value(sheetstore.RosterColActive)),
		})
	}
	return entries
}

func parseActive(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "false", "0", "no", "n", "inactive", "off":
		return false
	default:
		return true
	}
}

func (s *Source) warn(msg string) {
	if s.logger == nil {
		return
	}
	s.logger.WithFields(logrus.Fields{"field": "roster"}).Warn(msg)
}
