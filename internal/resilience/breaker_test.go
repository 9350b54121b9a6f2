package resilience

import (
	"errors"
	"testing"
	"time"
)

var errSend = errors.New("send failed")

func TestBreaker_ClosedForwardsCalls(t *testing.T) {
	b := NewBreaker("uplink", 3, time.Hour)
	called := false
	if err := b.Do(func() error { called = true; return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("fn was not called")
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker("uplink", 3, time.Hour)
	for range 3 {
		_ = b.Do(func() error { return errSend })
	}
	if b.State() != Open {
		t.Fatalf("state = %v, want open after 3 failures", b.State())
	}
	err := b.Do(func() error {
		t.Fatal("fn must not run while open")
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("err = %v, want ErrOpen", err)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker("uplink", 3, time.Hour)
	_ = b.Do(func() error { return errSend })
	_ = b.Do(func() error { return errSend })
	_ = b.Do(func() error { return nil })
	if b.State() != Closed {
		t.Fatalf("state = %v, want closed after a success", b.State())
	}
}

func TestBreaker_HalfOpenProbeClosesOnSuccess(t *testing.T) {
	b := NewBreaker("uplink", 1, time.Millisecond)
	_ = b.Do(func() error { return errSend })
	if b.State() != Open {
		t.Fatalf("state = %v, want open", b.State())
	}
	time.Sleep(5 * time.Millisecond)
	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("probe error: %v", err)
	}
	if b.State() != Closed {
		t.Fatalf("state = %v, want closed after successful probe", b.State())
	}
}

func TestBreaker_HalfOpenProbeReopensOnFailure(t *testing.T) {
	b := NewBreaker("uplink", 1, time.Millisecond)
	_ = b.Do(func() error { return errSend })
	time.Sleep(5 * time.Millisecond)
	_ = b.Do(func() error { return errSend })
	if b.State() != Open {
		t.Fatalf("state = %v, want re-opened", b.State())
	}
}
