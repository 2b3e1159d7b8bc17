package channel

import (
	"testing"
	"time"
)

func TestBackoffSchedule(t *testing.T) {
	b := &backoff{base: time.Second, cap: 30 * time.Second, maxAttempts: 10}

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second, // capped
		30 * time.Second,
		30 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for k, w := range want {
		d, ok := b.next()
		if !ok {
			t.Fatalf("attempt %d: schedule exhausted early", k+1)
		}
		if d != w {
			t.Fatalf("attempt %d: delay = %v, want %v", k+1, d, w)
		}
	}

	// Attempt budget spent.
	if _, ok := b.next(); ok {
		t.Fatal("schedule not exhausted after max attempts")
	}
}

func TestBackoffResetAfterSuccess(t *testing.T) {
	b := &backoff{base: time.Second, cap: 30 * time.Second, maxAttempts: 10}

	for i := 0; i < 4; i++ {
		b.next()
	}
	b.reset()

	d, ok := b.next()
	if !ok || d != time.Second {
		t.Fatalf("delay after reset = %v ok=%v, want 1s", d, ok)
	}
}
