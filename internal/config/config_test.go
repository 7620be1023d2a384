package config

import (
	"strings"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnv_Defaults(t *testing.T) {
	c, err := fromEnv(envMap(map[string]string{
		"POSTGRES_DSN": "postgres://u:p@localhost:5432/db",
		"REDIS_ADDR":   "localhost:6379",
	}))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if c.Workers != 4 || c.JobMaxRetries != 3 {
		t.Fatalf("expected defaults workers=4 retries=3, got %d/%d", c.Workers, c.JobMaxRetries)
	}
	if c.RetryBackoffBase != time.Second {
		t.Fatalf("expected 1s backoff base, got %s", c.RetryBackoffBase)
	}
	if c.ProcessingMapKey != "jobs:processing:map" {
		t.Fatalf("expected derived processing map key, got %s", c.ProcessingMapKey)
	}
	if c.WebhookURL("kie") != "" {
		t.Fatalf("expected no webhook url without PUBLIC_BASE_URL")
	}
	if c.ReaperClaimTTL != c.PollStaleAfter {
		t.Fatalf("expected claim ttl to follow POLL_STALE_AFTER, got %s", c.ReaperClaimTTL)
	}
}

func TestFromEnv_MissingRequired(t *testing.T) {
	_, err := fromEnv(envMap(map[string]string{}))
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "POSTGRES_DSN") || !strings.Contains(err.Error(), "REDIS_ADDR") {
		t.Fatalf("expected both missing keys named, got %v", err)
	}
}

func TestFromEnv_ParsesListsAndDurations(t *testing.T) {
	c, err := fromEnv(envMap(map[string]string{
		"POSTGRES_DSN":       "x",
		"REDIS_ADDR":         "y",
		"KIE_API_KEYS":       " k1, ,k2 ",
		"RETRY_BACKOFF_BASE": "250",
		"POLL_INTERVAL":      "1m",
		"REAPER_CLAIM_TTL":   "20m",
		"PUBLIC_BASE_URL":    "https://gw.example/",
	}))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(c.KIE.Keys) != 2 || c.KIE.Keys[0] != "k1" || c.KIE.Keys[1] != "k2" {
		t.Fatalf("expected trimmed key list, got %#v", c.KIE.Keys)
	}
	if c.RetryBackoffBase != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %s", c.RetryBackoffBase)
	}
	if c.PollInterval != time.Minute {
		t.Fatalf("expected 1m, got %s", c.PollInterval)
	}
	if c.ReaperClaimTTL != 20*time.Minute {
		t.Fatalf("expected 20m claim ttl, got %s", c.ReaperClaimTTL)
	}
	if got := c.WebhookURL("kie"); got != "https://gw.example/api/v1/webhooks/kie" {
		t.Fatalf("unexpected webhook url %s", got)
	}
}

func TestFromEnv_InvalidNumber(t *testing.T) {
	_, err := fromEnv(envMap(map[string]string{"POSTGRES_DSN": "x", "REDIS_ADDR": "y", "WORKERS": "many"}))
	if err == nil || !strings.Contains(err.Error(), "WORKERS") {
		t.Fatalf("expected invalid WORKERS error, got %v", err)
	}
}

func TestRedactDSN(t *testing.T) {
	got := RedactDSN("postgres://app:s3cret@db:5432/gw?sslmode=disable")
	if got != "postgres://app:****@db:5432/gw?sslmode=disable" {
		t.Fatalf("unexpected redaction %s", got)
	}
	if RedactDSN("postgres://db/gw") != "postgres://db/gw" {
		t.Fatalf("expected dsn without password untouched")
	}
}
