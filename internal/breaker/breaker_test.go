package breaker

import (
	"errors"
	"testing"
	"time"
)

func TestAttemptSucceedCycle(t *testing.T) {
	b := New(3, time.Minute)

	if err := b.Attempt(); err != nil {
		t.Fatal(err)
	}
	if b.State() != InFlight {
		t.Errorf("state = %s, want IN_FLIGHT", b.State())
	}
	b.Succeed()
	if b.State() != Idle {
		t.Errorf("state = %s, want IDLE", b.State())
	}
}

func TestRejectsConcurrentAttempt(t *testing.T) {
	b := New(3, time.Minute)

	if err := b.Attempt(); err != nil {
		t.Fatal(err)
	}
	if err := b.Attempt(); !errors.Is(err, ErrInFlight) {
		t.Errorf("second attempt error = %v, want ErrInFlight", err)
	}
}

func TestCoolsDownAfterMaxFailures(t *testing.T) {
	b := New(2, time.Minute)

	for i := 0; i < 2; i++ {
		if err := b.Attempt(); err != nil {
			t.Fatal(err)
		}
		b.Fail()
	}

	if err := b.Attempt(); !errors.Is(err, ErrCoolingDown) {
		t.Errorf("attempt error = %v, want ErrCoolingDown", err)
	}
}

func TestCooldownExpires(t *testing.T) {
	b := New(1, time.Minute)
	current := time.Unix(1000, 0)
	b.now = func() time.Time { return current }

	if err := b.Attempt(); err != nil {
		t.Fatal(err)
	}
	b.Fail()
	if err := b.Attempt(); !errors.Is(err, ErrCoolingDown) {
		t.Fatalf("attempt error = %v, want ErrCoolingDown", err)
	}

	current = current.Add(2 * time.Minute)
	if err := b.Attempt(); err != nil {
		t.Errorf("attempt after cooldown = %v, want nil", err)
	}
}

func TestResetReopens(t *testing.T) {
	b := New(1, time.Hour)

	if err := b.Attempt(); err != nil {
		t.Fatal(err)
	}
	b.Fail()
	b.Reset()

	if err := b.Attempt(); err != nil {
		t.Errorf("attempt after reset = %v, want nil", err)
	}
}

func TestSuccessClearsFailureCount(t *testing.T) {
	b := New(2, time.Hour)

	if err := b.Attempt(); err != nil {
		t.Fatal(err)
	}
	b.Fail()
	if err := b.Attempt(); err != nil {
		t.Fatal(err)
	}
	b.Succeed()

	// One more failure should not trip the breaker; the count restarted.
	if err := b.Attempt(); err != nil {
		t.Fatal(err)
	}
	b.Fail()
	if err := b.Attempt(); err != nil {
		t.Errorf("attempt = %v, want nil", err)
	}
}
