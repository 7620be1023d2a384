package entity

import (
	"time"

	"github.com/google/uuid"
)

type KeyStatus string

const (
	KeyActive      KeyStatus = "ACTIVE"
	KeyRateLimited KeyStatus = "RATE_LIMITED"
	KeyError       KeyStatus = "ERROR"
)

const (
	// MaxKeyErrors consecutive failures move a key to ERROR.
	MaxKeyErrors = 3
	// DefaultRateLimitCooldown applies when the provider gives no reset time.
	DefaultRateLimitCooldown = time.Hour
)

// APIKey is one pooled provider credential. Key is the secret and is never
// serialized.
type APIKey struct {
	ID               uuid.UUID  `json:"id"`
	ProviderID       uuid.UUID  `json:"provider_id"`
	Key              string     `json:"-"`
	Priority         int        `json:"priority"`
	Status           KeyStatus  `json:"status"`
	ErrorCount       int        `json:"error_count"`
	LastError        *string    `json:"last_error,omitempty"`
	LastUsedAt       *time.Time `json:"last_used_at,omitempty"`
	RateLimitResetAt *time.Time `json:"rate_limit_reset_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Eligible mirrors the selection predicate of the key pool claim: ACTIVE with
// no pending reset, or RATE_LIMITED whose reset time has passed.
func (k APIKey) Eligible(now time.Time) bool {
	resetPassed := k.RateLimitResetAt == nil || !k.RateLimitResetAt.After(now)
	switch k.Status {
	case KeyActive:
		return resetPassed
	case KeyRateLimited:
		return k.RateLimitResetAt != nil && resetPassed
	}
	return false
}

// Masked returns the secret with everything but the last four characters hidden.
func (k APIKey) Masked() string {
	if len(k.Key) <= 4 {
		return "****"
	}
	return "****" + k.Key[len(k.Key)-4:]
}
