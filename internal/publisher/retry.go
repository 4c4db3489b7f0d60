package publisher

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Jarvis2021/gantry-sub000/internal/logging"
	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
)

// RetryConfig bounds how hard the publisher retries GitHub calls.
// Zero fields take the values of DefaultRetryConfig.
type RetryConfig struct {
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// DefaultRetryConfig allows three retries, backing off from one second up
// to thirty.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

func (c *RetryConfig) withDefaults() RetryConfig {
	d := DefaultRetryConfig()
	if c == nil {
		return *d
	}
	out := *c
	if out.MaxRetries == 0 {
		out.MaxRetries = d.MaxRetries
	}
	if out.InitialBackoff == 0 {
		out.InitialBackoff = d.InitialBackoff
	}
	if out.MaxBackoff == 0 {
		out.MaxBackoff = d.MaxBackoff
	}
	if out.BackoffMultiplier == 0 {
		out.BackoffMultiplier = d.BackoffMultiplier
	}
	return out
}

// callGitHub runs call until it succeeds, fails permanently, or the retry
// budget is spent. op names the call in logs and errors. The last response
// is always returned so callers can inspect the status code.
func callGitHub(ctx context.Context, rc *RetryConfig, log *logging.Logger, op string, call func() (*github.Response, error)) (*github.Response, error) {
	cfg := rc.withDefaults()
	if log == nil {
		log = logging.NewNop()
	}

	wait := cfg.InitialBackoff
	for attempt := 0; ; attempt++ {
		resp, err := call()
		if err == nil {
			if attempt > 0 {
				log.Info(ctx, "github call recovered", zap.String("op", op), zap.Int("retries", attempt))
			}
			return resp, nil
		}
		if !retryable(err, resp) {
			return resp, err
		}
		if attempt == cfg.MaxRetries {
			log.Warn(ctx, "github call gave up",
				zap.String("op", op),
				zap.Int("status_code", statusOf(resp)),
				zap.Error(err))
			return resp, fmt.Errorf("github %s failed after %d retries: %w", op, cfg.MaxRetries, err)
		}

		if rateLimited(resp) {
			wait = rateLimitWait(resp, cfg.MaxBackoff)
		}
		log.Info(ctx, "retrying github call",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Int("status_code", statusOf(resp)),
			zap.Duration("backoff", wait))

		select {
		case <-ctx.Done():
			return resp, fmt.Errorf("github %s canceled: %w", op, ctx.Err())
		case <-time.After(wait):
		}
		wait = min(time.Duration(float64(wait)*cfg.BackoffMultiplier), cfg.MaxBackoff)
	}
}

// retryable reports whether a failed call may succeed later. Calls that
// never got a response (network errors) are retried.
func retryable(err error, resp *github.Response) bool {
	if err == nil {
		return false
	}
	code := statusOf(resp)
	switch {
	case code == 0:
		return true
	case code == http.StatusTooManyRequests:
		return true
	case code == http.StatusForbidden:
		// Secondary rate limits arrive as 403 with rate headers set.
		return resp.Rate.Limit > 0
	case code >= 500:
		return true
	}
	return false
}

func rateLimited(resp *github.Response) bool {
	switch statusOf(resp) {
	case http.StatusTooManyRequests:
		return true
	case http.StatusForbidden:
		return resp.Rate.Limit > 0
	}
	return false
}

// rateLimitWait waits one second past the advertised reset, never more than
// ceiling. Without rate headers it waits ceiling, at most a minute.
func rateLimitWait(resp *github.Response, ceiling time.Duration) time.Duration {
	if resp == nil || (resp.Rate.Limit == 0 && resp.Rate.Remaining == 0) {
		return min(ceiling, time.Minute)
	}
	wait := time.Until(resp.Rate.Reset.Time) + time.Second
	if wait < time.Second {
		wait = time.Second
	}
	return min(wait, ceiling)
}

func statusOf(resp *github.Response) int {
	if resp == nil || resp.Response == nil {
		return 0
	}
	return resp.Response.StatusCode
}
