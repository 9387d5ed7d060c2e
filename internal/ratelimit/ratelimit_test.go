package ratelimit

import (
	"testing"
	"time"
)

func TestAllowWithinBurst(t *testing.T) {
	l := New(Config{RequestsPerMinute: 60, BurstSize: 5, CleanupInterval: time.Minute})
	defer l.Stop()

	for i := 0; i < 5; i++ {
		if !l.Allow("client-a") {
			t.Fatalf("request %d should be allowed within burst", i)
		}
	}
	if l.Allow("client-a") {
		t.Fatal("request over burst should be rejected")
	}
}

func TestAllowIndependentKeys(t *testing.T) {
	l := New(Config{RequestsPerMinute: 60, BurstSize: 1, CleanupInterval: time.Minute})
	defer l.Stop()

	if !l.Allow("a") {
		t.Fatal("first request for a should pass")
	}
	if !l.Allow("b") {
		t.Fatal("first request for b should pass regardless of a")
	}
}

func TestTokensRefill(t *testing.T) {
	l := New(Config{RequestsPerMinute: 6000, BurstSize: 1, CleanupInterval: time.Minute})
	defer l.Stop()

	if !l.Allow("a") {
		t.Fatal("first request should pass")
	}
	if l.Allow("a") {
		t.Fatal("bucket should be empty immediately after")
	}

	time.Sleep(50 * time.Millisecond) // 100 tokens/sec refill
	if !l.Allow("a") {
		t.Fatal("bucket should have refilled")
	}
}
