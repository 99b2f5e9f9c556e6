package apiclient

import (
	"net/http"
	"strconv"
	"time"
)

// RetryConfig configures retry behavior for API calls.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	// Zero disables retries.
	MaxRetries int

	// InitialBackoff is the wait before the first retry.
	// Default: 1 second
	InitialBackoff time.Duration

	// MaxBackoff caps every wait, including server supplied Retry-After.
	// Default: 30 seconds
	MaxBackoff time.Duration

	// BackoffMultiplier grows the wait between retries.
	// Default: 2
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// ApplyDefaults sets default values for unset backoff fields. MaxRetries is
// left alone since zero is meaningful.
func (c *RetryConfig) ApplyDefaults() {
	defaults := DefaultRetryConfig()

	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = defaults.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaults.MaxBackoff
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = defaults.BackoffMultiplier
	}
}

// backoff returns the wait before retry number attempt (1-based).
func (c RetryConfig) backoff(attempt int) time.Duration {
	d := float64(c.InitialBackoff)
	for i := 1; i < attempt; i++ {
		d *= c.BackoffMultiplier
		if d >= float64(c.MaxBackoff) {
			return c.MaxBackoff
		}
	}
	return min(time.Duration(d), c.MaxBackoff)
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP
// date. It returns false when the header is absent or unparseable.
func retryAfter(h http.Header, now time.Time) (time.Duration, bool) {
	v := h.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}
