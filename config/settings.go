package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreProviderSheets = "sheets"
	StoreProviderExcel  = "excel"
	StoreProviderMemory = "memory"
)

const (
	PerCallStrategyLatest = "latest"
	PerCallStrategyWindow = "window"
)

// Settings is built once in main and handed to every constructor.
type Settings struct {
	Port               string
	Env                string
	LogLevel           string
	CORSAllowedOrigins string

	Store       StoreSettings
	Roster      RosterSettings
	Voice       VoiceSettings
	Storage     StorageSettings
	Redis       RedisSettings
	PubSub      PubSubSettings
	DB          DBSettings
	Correlation CorrelationSettings
	RateLimit   RateLimitSettings

	WebhookSecret string
	APISecret     string
}

type StoreSettings struct {
	Provider        string
	SpreadsheetID   string
	ReportTab       string
	RosterTab       string
	CredentialsJSON string
	WorkbookPath    string
}

type RosterSettings struct {
	MatchThreshold float64
	CacheTTL       time.Duration
}

type VoiceSettings struct {
	BaseURL         string
	APIKey          string
	APIKeyHeader    string
	AgentID         string
	RateLimitPerMin int
}

type StorageSettings struct {
	Bucket          string
	CredentialsJSON string
	// PublicHost is the GCS host used in object URLs, e.g. storage.googleapis.com.
	PublicHost      string
	AccessBaseURL   string
}

type RedisSettings struct {
	Address  string
	ClaimTTL time.Duration
}

type PubSubSettings struct {
	ProjectID          string
	CredentialsJSON    string
	DeadLetterTopic    string
	// PushAudience and PushServiceAccount verify the OIDC token the replay
	// push subscription sends.
	PushAudience       string
	PushServiceAccount string
}

type DBSettings struct {
	User           string
	Password       string
	Host           string
	Port           string
	Name           string
	SkipMigrations bool
}

type CorrelationSettings struct {
	WindowBefore    time.Duration
	WindowAfter     time.Duration
	PerCallStrategy string
	SweepLimit      int
	SweepInterval   time.Duration
}

type RateLimitSettings struct {
	Enabled     bool
	MaxRequests int64
	Window      time.Duration
}

func init() {
	// Load env from .env
	godotenv.Load()
}

// LoadSettings reads the process environment. Missing keys fall back to defaults.
func LoadSettings() Settings {
	return Settings{
		Port:               envString("PORT", "8080"),
		Env:                envString("GO_ENV", ""),
		LogLevel:           envString("LOG_LEVEL", "info"),
		CORSAllowedOrigins: envString("CORS_ALLOWED_ORIGINS", ""),
		Store: StoreSettings{
			Provider:        strings.ToLower(envString("STORE_PROVIDER", StoreProviderSheets)),
			SpreadsheetID:   envString("SHEETS_SPREADSHEET_ID", ""),
			ReportTab:       envString("SHEETS_REPORT_TAB", "Reports"),
			RosterTab:       envString("SHEETS_ROSTER_TAB", "Roster"),
			CredentialsJSON: envString("SHEETS_CREDENTIALS_JSON", ""),
			WorkbookPath:    envString("EXCEL_WORKBOOK_PATH", "reports.xlsx"),
		},
		Roster: RosterSettings{
			MatchThreshold: envFloat("ROSTER_MATCH_THRESHOLD", 0.6),
			CacheTTL:       time.Duration(envInt("ROSTER_CACHE_TTL_SECONDS", 300)) * time.Second,
		},
		Voice: VoiceSettings{
			BaseURL:         envString("VOICE_API_BASE_URL", "https://api.elevenlabs.io"),
			APIKey:          envString("VOICE_API_KEY", ""),
			APIKeyHeader:    envString("VOICE_API_KEY_HEADER", "xi-api-key"),
			AgentID:         envString("VOICE_AGENT_ID", ""),
			RateLimitPerMin: envInt("VOICE_RATE_LIMIT_PER_MIN", 60),
		},
		Storage: StorageSettings{
			Bucket:          envString("GCS_BUCKET", ""),
			CredentialsJSON: envString("GCS_CREDENTIALS_JSON", ""),
			PublicHost:      envString("GCS_URL", "storage.googleapis.com"),
			AccessBaseURL:   envString("STORAGE_ACCESS_BASE_URL", ""),
		},
		Redis: RedisSettings{
			Address:  envString("REDIS_ADDRESS", ""),
			ClaimTTL: time.Duration(envInt("CLAIM_TTL_SECONDS", 600)) * time.Second,
		},
		PubSub: PubSubSettings{
			ProjectID:          pubSubProjectID(),
			CredentialsJSON:    envString("PUBSUB_CREDENTIALS_JSON", ""),
			DeadLetterTopic:    envString("CORRELATION_DEAD_LETTER_TOPIC", ""),
			PushAudience:       envString("PUBSUB_PUSH_AUDIENCE", ""),
			PushServiceAccount: envString("PUBSUB_PUSH_SERVICE_ACCOUNT", ""),
		},
		DB: DBSettings{
			User:           envString("DB_USER", ""),
			Password:       envString("DB_PASSWORD", ""),
			Host:           envString("DB_HOST", ""),
			Port:           envString("DB_PORT", "3306"),
			Name:           envString("DB_NAME", ""),
			SkipMigrations: envBool("SKIP_MIGRATIONS", false),
		},
		Correlation: CorrelationSettings{
			WindowBefore:    envSeconds("CORRELATION_WINDOW_BEFORE_SECONDS", 60),
			WindowAfter:     envSeconds("CORRELATION_WINDOW_AFTER_SECONDS", 300),
			PerCallStrategy: strings.ToLower(envString("CORRELATION_PER_CALL_STRATEGY", PerCallStrategyLatest)),
			SweepLimit:      envInt("CORRELATION_SWEEP_LIMIT", 50),
			SweepInterval:   time.Duration(envInt("CORRELATION_SWEEP_INTERVAL_SECONDS", 0)) * time.Second,
		},
		RateLimit: RateLimitSettings{
			Enabled:     envBool("RATE_LIMIT_ENABLED", false),
			MaxRequests: int64(envInt("RATE_LIMIT_MAX_REQUESTS", 600)),
			Window:      time.Duration(envInt("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second,
		},
		WebhookSecret: envString("WEBHOOK_SECRET", ""),
		APISecret:     envString("API_SECRET", ""),
	}
}

func (s Settings) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(s.Env), "production")
}

func pubSubProjectID() string {
	// Prefer explicit override.
	if v := envString("PUBSUB_PROJECT_ID", ""); v != "" {
		return v
	}
	// Cloud Run/Cloud Functions often set this.
	if v := envString("GOOGLE_CLOUD_PROJECT", ""); v != "" {
		return v
	}
	return envString("GCP_PROJECT", "")
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// envSeconds accepts zero; a negative value falls back to def.
func envSeconds(key string, def int) time.Duration {
	n := envInt(key, def)
	if n < 0 {
		n = def
	}
	return time.Duration(n) * time.Second
}

func envFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envBool(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}
