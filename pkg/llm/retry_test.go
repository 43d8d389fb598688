package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voxwire/voxwire/pkg/resilience"
)

type flakyAdapter struct {
	calls    int
	failures int
	err      error
}

func (f *flakyAdapter) Name() string { return "flaky" }

func (f *flakyAdapter) Generate(ctx context.Context, input Context) (Response, error) {
	f.calls++
	if f.calls <= f.failures {
		err := f.err
		if err == nil {
			err = errors.New("transient")
		}
		return Response{}, err
	}
	return Response{Text: "ok"}, nil
}

func TestRetryAdapterRecoversFromTransientFailure(t *testing.T) {
	inner := &flakyAdapter{failures: 2}
	a := NewRetryAdapter(inner, RetryConfig{
		MaxAttempts: 3,
		Sleep:       func(time.Duration) {},
	})
	resp, err := a.Generate(context.Background(), Context{Utterance: "hi"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Text != "ok" {
		t.Fatalf("text: %q", resp.Text)
	}
	if inner.calls != 3 {
		t.Fatalf("calls: %d", inner.calls)
	}
}

func TestRetryAdapterGivesUp(t *testing.T) {
	inner := &flakyAdapter{failures: 10}
	a := NewRetryAdapter(inner, RetryConfig{
		MaxAttempts: 2,
		Sleep:       func(time.Duration) {},
	})
	if _, err := a.Generate(context.Background(), Context{}); err == nil {
		t.Fatalf("exhausted retries must fail")
	}
	if inner.calls != 2 {
		t.Fatalf("calls: %d", inner.calls)
	}
}

func TestRetryStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	inner := &flakyAdapter{failures: 10}
	a := NewRetryAdapter(inner, RetryConfig{MaxAttempts: 3, Sleep: func(time.Duration) {}})
	if _, err := a.Generate(ctx, Context{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if inner.calls != 0 {
		t.Fatalf("canceled context must not call the provider, calls=%d", inner.calls)
	}
}

func TestCircuitBreakerOpensOnRateLimits(t *testing.T) {
	rateLimited := &flakyAdapter{
		failures: 100,
		err:      resilience.RateLimitError{Provider: "flaky"},
	}
	a := NewCircuitBreakerAdapter(rateLimited, resilience.NewCircuitBreaker(2, time.Minute))

	for i := 0; i < 2; i++ {
		if _, err := a.Generate(context.Background(), Context{}); err == nil {
			t.Fatalf("rate limited call %d must fail", i)
		}
	}
	callsBefore := rateLimited.calls

	_, err := a.Generate(context.Background(), Context{})
	if !resilience.IsRateLimit(err) {
		t.Fatalf("open breaker must deny with a rate limit error, got %v", err)
	}
	if rateLimited.calls != callsBefore {
		t.Fatalf("open breaker must not reach the provider")
	}
}

func TestCircuitBreakerIgnoresOtherErrors(t *testing.T) {
	broken := &flakyAdapter{failures: 100}
	a := NewCircuitBreakerAdapter(broken, resilience.NewCircuitBreaker(2, time.Minute))

	for i := 0; i < 5; i++ {
		_, _ = a.Generate(context.Background(), Context{})
	}
	if broken.calls != 5 {
		t.Fatalf("non rate-limit failures must not trip the breaker, calls=%d", broken.calls)
	}
}
