// Package retry implements exponential-backoff retry with jitter and
// server-advised retry_after override, for Telegram Bot API calls.
package retry

import (
	"encoding/json"
	"math"
	"math/rand"
	"strings"
	"time"
)

// Policy controls retry attempt count and delay bounds.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Default returns the standard policy: 3 retries, 500ms base, 30s cap.
func Default() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   30 * time.Second,
	}
}

// IsRecoverable reports whether an HTTP status/body pair indicates a
// transient failure worth retrying: 429, any 5xx, or a body containing
// one of a few well-known transient-network substrings.
func IsRecoverable(status int, body string) bool {
	if status == 429 {
		return true
	}
	if status >= 500 && status < 600 {
		return true
	}
	lower := strings.ToLower(body)
	return strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "timed out") ||
		strings.Contains(lower, "dns error")
}

// ParseRetryAfter extracts parameters.retry_after (seconds) from a
// Telegram Bot API error body. Returns (0, false) on any parse failure
// or missing field.
func ParseRetryAfter(body string) (time.Duration, bool) {
	var payload struct {
		Parameters struct {
			RetryAfter *int64 `json:"retry_after"`
		} `json:"parameters"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return 0, false
	}
	if payload.Parameters.RetryAfter == nil {
		return 0, false
	}
	return time.Duration(*payload.Parameters.RetryAfter) * time.Second, true
}

// DelayForAttempt computes the delay before the next retry attempt.
// When retryAfter is present it is used directly (capped at MaxDelay),
// ignoring BaseDelay/attempt entirely. Otherwise the delay follows
// exponential backoff with 0-25% jitter: min(base*2^attempt + jitter, MaxDelay).
func DelayForAttempt(p Policy, attempt int, retryAfter time.Duration, hasRetryAfter bool) time.Duration {
	if hasRetryAfter {
		if retryAfter > p.MaxDelay {
			return p.MaxDelay
		}
		return retryAfter
	}

	base := time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(attempt)))
	if base > p.MaxDelay {
		base = p.MaxDelay
	}

	jitterFraction := rand.Float64() * 0.25
	jitter := time.Duration(float64(base) * jitterFraction)

	delay := base + jitter
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}
