package ratecontrol

import (
	"context"
	"testing"
	"time"
)

func TestDelayForLimitCoversBothDimensions(t *testing.T) {
	limit := RateLimit{RPM: 30, TPM: 60000}
	d := delayForLimit(limit, 1000)
	if d.Milliseconds() <= 0 {
		t.Fatalf("expected positive delay, got %v", d)
	}

	// 1000 tokens at 60000 TPM is one second; the RPM floor is two seconds,
	// so the request dimension should dominate here.
	if d < 2*time.Second {
		t.Fatalf("expected RPM floor of 2s to dominate, got %v", d)
	}
}

func TestDelayForLimitUnlimited(t *testing.T) {
	if d := delayForLimit(RateLimit{}, 5000); d != 0 {
		t.Fatalf("expected zero delay without limits, got %v", d)
	}
	if d := delayForLimit(RateLimit{RPM: 30}, -1); d != 0 {
		t.Fatalf("expected zero delay for negative token estimate, got %v", d)
	}
}

func TestCombineLimitsPicksTighter(t *testing.T) {
	a := RateLimit{RPM: 30, TPM: 50000}
	b := RateLimit{RPM: 20, TPM: 100000}
	combined := CombineLimits(a, b)
	if combined.RPM != 20 {
		t.Fatalf("expected RPM 20, got %d", combined.RPM)
	}
	if combined.TPM != 50000 {
		t.Fatalf("expected TPM 50000, got %d", combined.TPM)
	}
}

func TestCombineLimitsZeroMeansUnset(t *testing.T) {
	combined := CombineLimits(RateLimit{RPM: 0, TPM: 40000}, RateLimit{RPM: 15, TPM: 0})
	if combined.RPM != 15 || combined.TPM != 40000 {
		t.Fatalf("expected {15 40000}, got %+v", combined)
	}
}

func TestTokenDelayIgnoresRequestDimension(t *testing.T) {
	limit := RateLimit{RPM: 1, TPM: 60000}
	d := tokenDelay(limit, 500)
	if d != 500*time.Millisecond {
		t.Fatalf("expected 500ms token pacing, got %v", d)
	}
	if tokenDelay(RateLimit{RPM: 1}, 500) != 0 {
		t.Fatal("expected zero delay without a TPM limit")
	}
}

func TestWaitForRequestNoLimitsReturnsImmediately(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	if err := WaitForRequest(ctx, "no-such-provider", "no-such-tier", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("expected immediate return when no limits apply")
	}
}

func TestLimitForProviderBuiltins(t *testing.T) {
	limit := LimitForProvider("OpenAI")
	if limit.RPM != 30 || limit.TPM != 60000 {
		t.Fatalf("unexpected builtin limit for openai: %+v", limit)
	}
	if got := LimitForProvider("never-heard-of-it"); got != (RateLimit{}) {
		t.Fatalf("expected empty limit for unlisted provider, got %+v", got)
	}
}
