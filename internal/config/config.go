package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Config holds the engine's full runtime configuration, loaded once at
// startup the same way the teacher's services load theirs: godotenv first,
// then env vars, then fail-fast validation.
type Config struct {
	AppEnv string
	Port   int

	// Postgres (pgxpool DSN) backing the outbox/subscription/conflict store.
	DBDSN string

	// ProfileID identifies whose subscriptions/outbox this engine instance
	// owns; ClientID identifies this device among the profile's others.
	// cmd/syncengine runs one engine per process for one profile, the same
	// way one Engine struct only ever owns one profile's state (see
	// engine.ResetScopeAll) — a multi-profile host loops over processes or
	// Engine instances itself, not over this config.
	ProfileID string
	ClientID  string

	// SyncServerURL is the base URL of the remote sync server cmd/syncengine
	// talks to over plain HTTP; it never speaks the realtime channel, so the
	// engine always runs in polling mode.
	SyncServerURL string

	// Optional bearer-token guard in front of the diagnostics HTTP surface.
	DiagnosticsJWTSecret string
	DiagnosticsJWTIssuer string

	// Sync cadence.
	PollInterval           time.Duration
	FallbackPollInterval   time.Duration
	ReconnectCatchupDelay  time.Duration
	IdleDebounce           time.Duration

	// Retry/backoff.
	MaxRetries      int
	BackoffBaseMS   int
	BackoffCapMS    int
	StaleClaimAfter time.Duration

	// Batch sizing.
	LimitCommits      int
	LimitSnapshotRows int
	MaxSnapshotPages  int
	MaxPushCommits    int
	MaxPullRounds     int

	// Inspector ring buffer capacity.
	InspectorCapacity int

	// Logging.
	LogLevel  string
	LogFormat string
}

// Load reads configuration from .env (if present) and the environment,
// applying the engine's defaults and then validating required fields.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	cfg.AppEnv = getEnv("APP_ENV", "dev")
	cfg.Port = getInt("DIAGNOSTICS_PORT", 8090)

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL != "" {
		cfg.DBDSN = dbURL
	} else {
		addr := getEnv("POSTGRES_ADDR", "")
		user := getEnv("POSTGRES_USER", "")
		pass := getEnv("POSTGRES_PASSWORD", "")
		db := getEnv("POSTGRES_DB", "")
		sslmode := getEnv("POSTGRES_SSLMODE", "disable")
		cfg.DBDSN = buildPostgresURL(addr, user, pass, db, sslmode)
	}

	cfg.ProfileID = getEnv("SYNC_PROFILE_ID", "")
	cfg.ClientID = getEnv("SYNC_CLIENT_ID", "")
	cfg.SyncServerURL = strings.TrimRight(getEnv("SYNC_SERVER_URL", ""), "/")

	cfg.DiagnosticsJWTSecret = getEnv("DIAGNOSTICS_JWT_SECRET", "")
	cfg.DiagnosticsJWTIssuer = getEnv("DIAGNOSTICS_JWT_ISSUER", "")

	cfg.PollInterval = getDuration("SYNC_POLL_INTERVAL", 10*time.Second)
	cfg.FallbackPollInterval = getDuration("SYNC_FALLBACK_POLL_INTERVAL", 30*time.Second)
	cfg.ReconnectCatchupDelay = getDuration("SYNC_RECONNECT_CATCHUP_DELAY", 500*time.Millisecond)
	cfg.IdleDebounce = getDuration("SYNC_IDLE_DEBOUNCE", 10*time.Millisecond)

	cfg.MaxRetries = getInt("SYNC_MAX_RETRIES", 5)
	cfg.BackoffBaseMS = getInt("SYNC_BACKOFF_BASE_MS", 1000)
	cfg.BackoffCapMS = getInt("SYNC_BACKOFF_CAP_MS", 60000)
	cfg.StaleClaimAfter = getDuration("OUTBOX_STALE_CLAIM_AFTER", 30*time.Second)

	cfg.LimitCommits = getInt("SYNC_LIMIT_COMMITS", 50)
	cfg.LimitSnapshotRows = getInt("SYNC_LIMIT_SNAPSHOT_ROWS", 1000)
	cfg.MaxSnapshotPages = getInt("SYNC_MAX_SNAPSHOT_PAGES", 4)
	cfg.MaxPushCommits = getInt("SYNC_MAX_PUSH_COMMITS", 20)
	cfg.MaxPullRounds = getInt("SYNC_MAX_PULL_ROUNDS", 20)

	cfg.InspectorCapacity = getInt("INSPECTOR_CAPACITY", 500)

	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.LogFormat = getEnv("LOG_FORMAT", "json")

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("missing database config: provide DATABASE_URL or POSTGRES_ADDR/POSTGRES_USER/POSTGRES_PASSWORD/POSTGRES_DB")
	}
	if cfg.ProfileID == "" {
		return nil, fmt.Errorf("missing SYNC_PROFILE_ID")
	}
	if cfg.SyncServerURL == "" {
		return nil, fmt.Errorf("missing SYNC_SERVER_URL")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = uuid.NewString()
	}

	return cfg, nil
}

// buildPostgresURL builds a safe postgres URL DSN (handles special characters).
func buildPostgresURL(addr, user, pass, db, sslmode string) string {
	if strings.TrimSpace(addr) == "" || strings.TrimSpace(user) == "" || strings.TrimSpace(db) == "" {
		return ""
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   strings.TrimSpace(addr),
		Path:   "/" + strings.TrimPrefix(strings.TrimSpace(db), "/"),
	}
	if pass != "" {
		u.User = url.UserPassword(user, pass)
	} else {
		u.User = url.User(user)
	}

	q := url.Values{}
	if strings.TrimSpace(sslmode) != "" {
		q.Set("sslmode", strings.TrimSpace(sslmode))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func getEnv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getInt(k string, def int) int {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getBool(k string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		panic(fmt.Errorf("invalid boolean env %s=%q", k, v))
	}
}

func getDuration(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
