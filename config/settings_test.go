package config

import (
	"testing"
	"time"
)

func TestLoadSettings_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "STORE_PROVIDER", "CORRELATION_PER_CALL_STRATEGY", "CLAIM_TTL_SECONDS", "GCS_URL", "RATE_LIMIT_ENABLED", "CORRELATION_WINDOW_BEFORE_SECONDS", "CORRELATION_WINDOW_AFTER_SECONDS"} {
		t.Setenv(k, "")
	}
	s := LoadSettings()

	if s.Port != "8080" {
		t.Fatalf("port = %q", s.Port)
	}
	if s.Store.Provider != StoreProviderSheets {
		t.Fatalf("store provider = %q", s.Store.Provider)
	}
	if s.Correlation.PerCallStrategy != PerCallStrategyLatest {
		t.Fatalf("per-call strategy = %q", s.Correlation.PerCallStrategy)
	}
	if s.Correlation.WindowBefore != time.Minute || s.Correlation.WindowAfter != 5*time.Minute {
		t.Fatalf("window = %v / %v", s.Correlation.WindowBefore, s.Correlation.WindowAfter)
	}
	if s.Redis.ClaimTTL != 10*time.Minute {
		t.Fatalf("claim ttl = %v", s.Redis.ClaimTTL)
	}
	if s.Storage.PublicHost != "storage.googleapis.com" {
		t.Fatalf("public host = %q", s.Storage.PublicHost)
	}
	if s.RateLimit.Enabled {
		t.Fatal("rate limiting should be off by default")
	}
}

func TestLoadSettings_Overrides(t *testing.T) {
	t.Setenv("STORE_PROVIDER", "Excel")
	t.Setenv("CORRELATION_PER_CALL_STRATEGY", "WINDOW")
	t.Setenv("CORRELATION_WINDOW_AFTER_SECONDS", "120")
	t.Setenv("CORRELATION_WINDOW_BEFORE_SECONDS", "0")
	t.Setenv("ROSTER_MATCH_THRESHOLD", "0.8")
	t.Setenv("SKIP_MIGRATIONS", "yes")
	t.Setenv("CORRELATION_SWEEP_LIMIT", "not-a-number")
	t.Setenv("GO_ENV", "Production")

	s := LoadSettings()
	if s.Store.Provider != StoreProviderExcel {
		t.Fatalf("store provider = %q", s.Store.Provider)
	}
	if s.Correlation.PerCallStrategy != PerCallStrategyWindow {
		t.Fatalf("per-call strategy = %q", s.Correlation.PerCallStrategy)
	}
	if s.Correlation.WindowAfter != 2*time.Minute {
		t.Fatalf("window after = %v", s.Correlation.WindowAfter)
	}
	if s.Correlation.WindowBefore != 0 {
		t.Fatalf("zero window before = %v, want 0", s.Correlation.WindowBefore)
	}
	if s.Roster.MatchThreshold != 0.8 {
		t.Fatalf("threshold = %v", s.Roster.MatchThreshold)
	}
	if !s.DB.SkipMigrations {
		t.Fatal("SKIP_MIGRATIONS=yes not honoured")
	}
	if s.Correlation.SweepLimit != 50 {
		t.Fatalf("bad int should fall back to default, got %d", s.Correlation.SweepLimit)
	}
	if !s.IsProduction() {
		t.Fatal("GO_ENV=Production should count as production")
	}
}

func TestLogError_NilErrIsNoop(t *testing.T) {
	LogError(GetLogger(), "config", "TestLogError", "noop", nil, nil)
	LogError(nil, "config", "TestLogError", "noop", nil, errTest{})
}

type errTest struct{}

func (errTest) Error() string { return "test" }
