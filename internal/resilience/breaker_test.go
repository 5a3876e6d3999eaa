package resilience

import (
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreaker(BreakerConfig{Threshold: 2, ResetTimeout: time.Minute})

	for i := 0; i < 2; i++ {
		if err := b.Execute(func() error { return errBoom }); err != errBoom {
			t.Fatalf("attempt %d: err = %v, want errBoom", i, err)
		}
	}
	if b.State() != Open {
		t.Fatalf("state = %v, want open", b.State())
	}

	// Open breaker fails fast without calling fn.
	called := false
	err := b.Execute(func() error { called = true; return nil })
	if err != ErrOpen {
		t.Errorf("err = %v, want ErrOpen", err)
	}
	if called {
		t.Error("fn should not run while breaker is open")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(BreakerConfig{Threshold: 2, ResetTimeout: time.Minute})

	_ = b.Execute(func() error { return errBoom })
	_ = b.Execute(func() error { return nil })
	_ = b.Execute(func() error { return errBoom })

	if b.State() != Closed {
		t.Errorf("state = %v, want closed (success reset the count)", b.State())
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b := NewBreaker(BreakerConfig{Threshold: 1, ResetTimeout: time.Millisecond, HalfOpenSuccesses: 1})

	_ = b.Execute(func() error { return errBoom })
	if b.State() != Open {
		t.Fatalf("state = %v, want open", b.State())
	}

	time.Sleep(5 * time.Millisecond)

	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("half-open probe error: %v", err)
	}
	if b.State() != Closed {
		t.Errorf("state = %v, want closed after successful probe", b.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(BreakerConfig{Threshold: 1, ResetTimeout: time.Millisecond})

	_ = b.Execute(func() error { return errBoom })
	time.Sleep(5 * time.Millisecond)

	_ = b.Execute(func() error { return errBoom })
	if b.State() != Open {
		t.Errorf("state = %v, want open after failed probe", b.State())
	}
}
