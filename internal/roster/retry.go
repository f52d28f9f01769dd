package roster

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"time"

	"github.com/your-org/fd-attendance/internal/apperr"
)

// HTTPStatusError lets a Repository implementation report an upstream
// HTTP-like status (e.g. from a sidecar REST store) so the retry
// decorator can classify it per spec §9 without depending on any
// particular transport.
type HTTPStatusError struct {
	Status     int
	RetryAfter time.Duration
	Err        error
}

func (e *HTTPStatusError) Error() string { return e.Err.Error() }
func (e *HTTPStatusError) Unwrap() error { return e.Err }

// retryable reports whether err should be retried per spec §9's
// classification: "retry iff (no status / network error) or status ==
// 429 or 500 <= status <= 599".
func retryable(err error) (bool, time.Duration) {
	if err == nil {
		return false, 0
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		if statusErr.Status == 429 || (statusErr.Status >= 500 && statusErr.Status <= 599) {
			return true, statusErr.RetryAfter
		}
		return false, 0
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true, 0
	}

	if ae, ok := apperr.As(err); ok {
		return ae.Kind == apperr.Transient, 0
	}

	// Unclassified error with no status attached: treat as a network
	// error per "no status / network error" in the spec's retry rule.
	return true, 0
}

// backoff computes min(5s, 0.4*2^attempt) + U(0, 0.2)s, per spec §9.
func backoff(attempt int) time.Duration {
	base := 0.4 * math.Pow(2, float64(attempt))
	if base > 5.0 {
		base = 5.0
	}
	jitter := rand.Float64() * 0.2
	return time.Duration((base + jitter) * float64(time.Second))
}

// withRetry runs op up to maxAttempts times (default 3), honoring the
// classification and backoff above and any Retry-After hint.
func withRetry(ctx context.Context, maxAttempts int, op func() error) error {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}

		retry, retryAfter := retryable(lastErr)
		if !retry || attempt == maxAttempts-1 {
			return lastErr
		}

		wait := backoff(attempt)
		if retryAfter > 0 {
			wait = retryAfter
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return lastErr
}

// retryRepository is the middleware/decorator spec §9 calls for:
// "model as a middleware/decorator around the repository interface,
// not as a method-level concern". It wraps any Repository and retries
// every call per the policy above.
type retryRepository struct {
	inner       Repository
	maxAttempts int
}

// WithRetry wraps inner so every call retries transient failures per
// spec §4.3's default of 3 attempts.
func WithRetry(inner Repository) Repository {
	return &retryRepository{inner: inner, maxAttempts: 3}
}

func (r *retryRepository) ListIdentities(ctx context.Context, org string) ([]Identity, error) {
	var out []Identity
	err := withRetry(ctx, r.maxAttempts, func() error {
		var e error
		out, e = r.inner.ListIdentities(ctx, org)
		return e
	})
	return out, err
}

func (r *retryRepository) ReplaceIdentities(ctx context.Context, org string, identities []Identity) error {
	return withRetry(ctx, r.maxAttempts, func() error {
		return r.inner.ReplaceIdentities(ctx, org, identities)
	})
}

func (r *retryRepository) UpsertPerson(ctx context.Context, org, personID, label, photoPath string) error {
	return withRetry(ctx, r.maxAttempts, func() error {
		return r.inner.UpsertPerson(ctx, org, personID, label, photoPath)
	})
}

func (r *retryRepository) ListEvents(ctx context.Context, org string, filter EventFilter, page Page, order Order) ([]Event, int, error) {
	var out []Event
	var total int
	err := withRetry(ctx, r.maxAttempts, func() error {
		var e error
		out, total, e = r.inner.ListEvents(ctx, org, filter, page, order)
		return e
	})
	return out, total, err
}

func (r *retryRepository) InsertEvent(ctx context.Context, org, label string, score float64, ts *time.Time, personID *string) (Event, error) {
	var out Event
	err := withRetry(ctx, r.maxAttempts, func() error {
		var e error
		out, e = r.inner.InsertEvent(ctx, org, label, score, ts, personID)
		return e
	})
	return out, err
}

func (r *retryRepository) EditEvent(ctx context.Context, org string, id int, patch EventPatch) error {
	return withRetry(ctx, r.maxAttempts, func() error {
		return r.inner.EditEvent(ctx, org, id, patch)
	})
}

func (r *retryRepository) BulkDeleteEvents(ctx context.Context, org string, ids []int) (int, error) {
	var removed int
	err := withRetry(ctx, r.maxAttempts, func() error {
		var e error
		removed, e = r.inner.BulkDeleteEvents(ctx, org, ids)
		return e
	})
	return removed, err
}

func (r *retryRepository) GetScheduleRules(ctx context.Context, org string) ([]ScheduleRule, error) {
	var out []ScheduleRule
	err := withRetry(ctx, r.maxAttempts, func() error {
		var e error
		out, e = r.inner.GetScheduleRules(ctx, org)
		return e
	})
	return out, err
}

func (r *retryRepository) SetScheduleRules(ctx context.Context, org string, rules []ScheduleRule) error {
	return withRetry(ctx, r.maxAttempts, func() error {
		return r.inner.SetScheduleRules(ctx, org, rules)
	})
}

func (r *retryRepository) ListScheduleOverrides(ctx context.Context, org string) ([]ScheduleOverride, error) {
	var out []ScheduleOverride
	err := withRetry(ctx, r.maxAttempts, func() error {
		var e error
		out, e = r.inner.ListScheduleOverrides(ctx, org)
		return e
	})
	return out, err
}

func (r *retryRepository) UpsertScheduleOverride(ctx context.Context, org string, o ScheduleOverride) (int, error) {
	var id int
	err := withRetry(ctx, r.maxAttempts, func() error {
		var e error
		id, e = r.inner.UpsertScheduleOverride(ctx, org, o)
		return e
	})
	return id, err
}

func (r *retryRepository) DeleteScheduleOverride(ctx context.Context, org string, id int) error {
	return withRetry(ctx, r.maxAttempts, func() error {
		return r.inner.DeleteScheduleOverride(ctx, org, id)
	})
}

func (r *retryRepository) GroupMembers(ctx context.Context, org, groupRef string) ([]string, error) {
	var out []string
	err := withRetry(ctx, r.maxAttempts, func() error {
		var e error
		out, e = r.inner.GroupMembers(ctx, org, groupRef)
		return e
	})
	return out, err
}
