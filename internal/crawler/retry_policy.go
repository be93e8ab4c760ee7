package crawler

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"net/http"
	"slices"
	"time"
)

// RetryPolicy bounds the network-retry loop. MaxAttempts counts retries after
// the initial request.
type RetryPolicy struct {
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	Jitter            bool
	RetryableStatuses []int
}

// DefaultRetryPolicy mirrors the command-line defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       4,
		BaseDelay:         2 * time.Second,
		MaxDelay:          30 * time.Second,
		Jitter:            true,
		RetryableStatuses: []int{http.StatusForbidden, http.StatusTooManyRequests},
	}
}

// Validate rejects nonsensical bounds.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 0 {
		return fmt.Errorf("retry max attempts must be >= 0")
	}
	if p.BaseDelay < 0 || p.MaxDelay < 0 {
		return fmt.Errorf("retry delays must be >= 0")
	}
	if p.MaxDelay > 0 && p.BaseDelay > p.MaxDelay {
		return fmt.Errorf("retry base delay %s exceeds max delay %s", p.BaseDelay, p.MaxDelay)
	}
	return nil
}

// Delay returns the un-jittered wait before retry n (1-indexed):
// min(base * 2^(n-1), max).
func (p RetryPolicy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(2, float64(n-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// Backoff returns the wait before retry n, drawn uniformly from [0, Delay(n)]
// when jitter is enabled.
func (p RetryPolicy) Backoff(n int) time.Duration {
	delay := p.Delay(n)
	if !p.Jitter {
		return delay
	}
	return randomJitter(delay)
}

// RetryableStatus reports whether a response status is worth another attempt.
func (p RetryPolicy) RetryableStatus(code int) bool {
	return code >= 500 || slices.Contains(p.RetryableStatuses, code)
}

// ShouldRetry decides whether a classified failure is transient.
func (p RetryPolicy) ShouldRetry(err error) bool {
	var fe *FetchError
	if !errors.As(err, &fe) {
		return false
	}
	switch fe.Kind {
	case KindTimeout, KindNetwork:
		return true
	case KindServerError, KindClientError:
		return p.RetryableStatus(fe.StatusCode)
	}
	return false
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit) + 1)
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
