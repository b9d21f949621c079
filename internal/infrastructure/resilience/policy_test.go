package resilience

import (
	"testing"
	"time"
)

func TestDefaultRetryBudgetFitsPollInterval(t *testing.T) {
	budget := DefaultConfig().RetryBudget()
	if budget != 450*time.Millisecond {
		t.Fatalf("RetryBudget() = %s, want 450ms", budget)
	}
	if budget >= StatusPollInterval {
		t.Fatalf("retry budget %s must stay below poll interval %s", budget, StatusPollInterval)
	}
}

func TestRetryBudgetCapsBackoff(t *testing.T) {
	cfg := Config{
		RetryMaxAttempts:    4,
		RetryInitialBackoff: 100 * time.Millisecond,
		RetryMaxBackoff:     250 * time.Millisecond,
		RetryMultiplier:     2,
	}
	if got := cfg.RetryBudget(); got != 550*time.Millisecond {
		t.Fatalf("RetryBudget() = %s, want 550ms", got)
	}
}

func TestDefaultBreakerOpensForFivePollTicks(t *testing.T) {
	if got := DefaultConfig().BreakerOpenTimeout; got != 15*time.Second {
		t.Fatalf("BreakerOpenTimeout = %s, want 15s", got)
	}
}
