package roster_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/your-org/fd-attendance/internal/roster"
)

// stubRepo implements roster.Repository, failing ListIdentities a
// configured number of times before succeeding — enough surface to
// exercise the retry decorator without a real database.
type stubRepo struct {
	roster.Repository
	failures int
	calls    int
	err      error
}

func (s *stubRepo) ListIdentities(ctx context.Context, org string) ([]roster.Identity, error) {
	s.calls++
	if s.calls <= s.failures {
		return nil, s.err
	}
	return []roster.Identity{{ID: 1, Label: "Alice"}}, nil
}

func TestWithRetry_RetriesTransientThenSucceeds(t *testing.T) {
	stub := &stubRepo{failures: 2, err: &roster.HTTPStatusError{Status: 503, Err: errors.New("unavailable")}}
	repo := roster.WithRetry(stub)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ids, err := repo.ListIdentities(ctx, "org1")
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if len(ids) != 1 || ids[0].Label != "Alice" {
		t.Fatalf("unexpected result: %+v", ids)
	}
	if stub.calls != 3 {
		t.Fatalf("expected 3 calls (2 failures + 1 success), got %d", stub.calls)
	}
}

func TestWithRetry_NonTransientFailsImmediately(t *testing.T) {
	stub := &stubRepo{failures: 10, err: &roster.HTTPStatusError{Status: 400, Err: errors.New("bad request")}}
	repo := roster.WithRetry(stub)

	_, err := repo.ListIdentities(context.Background(), "org1")
	if err == nil {
		t.Fatalf("expected failure")
	}
	if stub.calls != 1 {
		t.Fatalf("expected no retries for a 400, got %d calls", stub.calls)
	}
}

func TestWithRetry_ExhaustsAttempts(t *testing.T) {
	stub := &stubRepo{failures: 100, err: &roster.HTTPStatusError{Status: 500, Err: errors.New("boom")}}
	repo := roster.WithRetry(stub)

	_, err := repo.ListIdentities(context.Background(), "org1")
	if err == nil {
		t.Fatalf("expected failure after exhausting attempts")
	}
	if stub.calls != 3 {
		t.Fatalf("expected default 3 attempts, got %d", stub.calls)
	}
}
