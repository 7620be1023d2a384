package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"generation-gateway/internal/entity"
)

var (
	ErrUnsupportedCategory = errors.New("unsupported category")
	ErrUnknownProvider     = errors.New("unknown provider")
)

func UnsupportedCategory(slug string, c entity.Category) error {
	return fmt.Errorf("%s: %w: %s", slug, ErrUnsupportedCategory, c)
}

// CallError is a failed outbound provider call: a non-2xx status, an error
// envelope, a timeout or a transport failure (StatusCode 0).
type CallError struct {
	Provider   string
	StatusCode int
	Body       string
	RetryAfter *time.Time
	Err        error
}

func (e *CallError) Error() string {
	switch {
	case e.Err != nil && e.StatusCode == 0:
		return fmt.Sprintf("%s: provider call failed: %v", e.Provider, e.Err)
	case e.Body != "":
		return fmt.Sprintf("%s: provider returned status %d: %s", e.Provider, e.StatusCode, truncate(e.Body, 512))
	}
	return fmt.Sprintf("%s: provider returned status %d", e.Provider, e.StatusCode)
}

func (e *CallError) Unwrap() error { return e.Err }

// GenerationError is a provider that accepted the call but reported the
// generation itself as failed.
type GenerationError struct {
	Provider string
	Message  string
	Code     string
}

func (e *GenerationError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "generation failed"
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Provider, msg, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Provider, msg)
}

// IsRateLimited reports whether err is a rate-limit signal: HTTP 429 or a
// message mentioning a rate limit.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var ce *CallError
	if errors.As(err, &ce) && ce.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "rate limit")
}

// RetryAfter returns the reset time a provider advertised, if any.
func RetryAfter(err error) *time.Time {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.RetryAfter
	}
	return nil
}

// ErrorCode renders a short machine code for a failed attempt.
func ErrorCode(err error) string {
	var (
		ce *CallError
		ge *GenerationError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ge) && ge.Code != "":
		return ge.Code
	case errors.As(err, &ce) && ce.StatusCode != 0:
		return strconv.Itoa(ce.StatusCode)
	case errors.As(err, &ce):
		return "TRANSPORT_ERROR"
	case errors.Is(err, ErrUnsupportedCategory):
		return "UNSUPPORTED_CATEGORY"
	case errors.Is(err, ErrUnknownProvider):
		return "UNKNOWN_PROVIDER"
	}
	return ""
}

func parseRetryAfter(v string, now time.Time) *time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		t := now.Add(time.Duration(secs) * time.Second)
		return &t
	}
	if t, err := http.ParseTime(v); err == nil {
		return &t
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
