package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type ProviderEnv struct {
	BaseURL string
	Keys    []string
}

type Config struct {
	AppEnv   string
	HTTPAddr string

	PostgresDSN string
	RedisAddr   string

	QueueKey         string
	ProcessingKey    string
	ProcessingMapKey string

	Workers          int
	JobMaxRetries    int
	RetryBackoffBase time.Duration
	ProviderTimeout  time.Duration

	WebhookSecret            string
	WebhookFallbackScanLimit int

	PollInterval      time.Duration
	PollStaleAfter    time.Duration
	PendingStaleAfter time.Duration
	// ReaperClaimTTL falls back to PollStaleAfter. The worker raises it to
	// the attempt budget of JobMaxRetries when lower.
	ReaperClaimTTL time.Duration

	PublicBaseURL string
	CatalogPath   string

	KIE       ProviderEnv
	GeminiGen ProviderEnv
}

// Load reads .env files when present and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load(".env", ".env.local")
	return fromEnv(os.Getenv)
}

func fromEnv(getenv func(string) string) (*Config, error) {
	e := env{get: getenv}

	baseProcessingKey := e.str("REDIS_PROCESSING_KEY", "jobs:processing")
	c := &Config{
		AppEnv:   e.str("APP_ENV", "production"),
		HTTPAddr: e.str("HTTP_ADDR", ":8080"),

		PostgresDSN: e.required("POSTGRES_DSN"),
		RedisAddr:   e.required("REDIS_ADDR"),

		QueueKey:         e.str("REDIS_QUEUE_KEY", "jobs:queue"),
		ProcessingKey:    baseProcessingKey,
		ProcessingMapKey: e.str("REDIS_PROCESSING_MAP_KEY", baseProcessingKey+":map"),

		Workers:          e.integer("WORKERS", 4),
		JobMaxRetries:    e.integer("JOB_MAX_RETRIES", 3),
		RetryBackoffBase: e.duration("RETRY_BACKOFF_BASE", time.Second),
		ProviderTimeout:  e.duration("PROVIDER_TIMEOUT", 60*time.Second),

		WebhookSecret:            e.str("WEBHOOK_SECRET", ""),
		WebhookFallbackScanLimit: e.integer("WEBHOOK_FALLBACK_SCAN_LIMIT", 500),

		PollInterval:      e.duration("POLL_INTERVAL", 30*time.Second),
		PollStaleAfter:    e.duration("POLL_STALE_AFTER", 5*time.Minute),
		PendingStaleAfter: e.duration("PENDING_STALE_AFTER", 2*time.Minute),
		ReaperClaimTTL:    e.duration("REAPER_CLAIM_TTL", 0),

		PublicBaseURL: strings.TrimRight(e.str("PUBLIC_BASE_URL", ""), "/"),
		CatalogPath:   e.str("CATALOG_PATH", ""),

		KIE: ProviderEnv{
			BaseURL: e.str("KIE_API_BASE_URL", ""),
			Keys:    e.list("KIE_API_KEYS"),
		},
		GeminiGen: ProviderEnv{
			BaseURL: e.str("GEMINIGEN_API_BASE_URL", ""),
			Keys:    e.list("GEMINIGEN_API_KEYS"),
		},
	}

	if err := e.err(); err != nil {
		return nil, err
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.JobMaxRetries <= 0 {
		c.JobMaxRetries = 3
	}
	if c.ReaperClaimTTL <= 0 {
		c.ReaperClaimTTL = c.PollStaleAfter
	}
	return c, nil
}

// WebhookURL is the callback address handed to providers, empty when the
// gateway has no public address configured.
func (c *Config) WebhookURL(provider string) string {
	if c.PublicBaseURL == "" {
		return ""
	}
	return c.PublicBaseURL + "/api/v1/webhooks/" + provider
}

type env struct {
	get     func(string) string
	missing []string
	invalid []string
}

func (e *env) str(key, def string) string {
	if v := strings.TrimSpace(e.get(key)); v != "" {
		return v
	}
	return def
}

func (e *env) required(key string) string {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		e.missing = append(e.missing, key)
	}
	return v
}

func (e *env) integer(key string, def int) int {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.invalid = append(e.invalid, key)
		return def
	}
	return i
}

// duration accepts Go durations ("1500ms") and bare milliseconds ("1500").
func (e *env) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return def
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.invalid = append(e.invalid, key)
		return def
	}
	return d
}

func (e *env) list(key string) []string {
	var out []string
	for _, part := range strings.Split(e.get(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (e *env) err() error {
	var errs []error
	if len(e.missing) > 0 {
		errs = append(errs, fmt.Errorf("missing env: %s", strings.Join(e.missing, ", ")))
	}
	if len(e.invalid) > 0 {
		errs = append(errs, fmt.Errorf("invalid env: %s", strings.Join(e.invalid, ", ")))
	}
	return errors.Join(errs...)
}

var dsnPassword = regexp.MustCompile(`://([^:/?#]+):([^@/]+)@`)

// RedactDSN masks the password of a URL-style DSN for logging.
func RedactDSN(dsn string) string {
	return dsnPassword.ReplaceAllString(dsn, `://$1:****@`)
}
