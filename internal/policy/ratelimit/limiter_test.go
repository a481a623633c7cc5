package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_Wait(t *testing.T) {
	l := New(Config{
		DefaultRPS:   10,
		DefaultBurst: 1,
	})

	ctx := context.Background()
	url := "https://upack.kz/c/cups"

	// First call should be immediate
	start := time.Now()
	if err := l.Wait(ctx, url); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) > 10*time.Millisecond {
		t.Logf("warning: first wait took %v", time.Since(start))
	}

	// 10 RPS with burst 1: the second call on the same host waits ~100ms.
	l2 := New(Config{
		DefaultRPS:   10, // 10 requests per second = 100ms interval
		DefaultBurst: 1,
	})

	// Consume initial token
	if err := l2.Wait(ctx, "https://bestpack.kz"); err != nil {
		t.Fatal(err)
	}

	// Next one should wait ~100ms
	start = time.Now()
	if err := l2.Wait(ctx, "https://bestpack.kz"); err != nil {
		t.Fatal(err)
	}
	dur := time.Since(start)
	if dur < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms, got %v", dur)
	}
}

func TestLimiter_DifferentDomains(t *testing.T) {
	l := New(Config{
		DefaultRPS:   1,
		DefaultBurst: 1,
	})

	ctx := context.Background()

	// Domain A
	if err := l.Wait(ctx, "https://pulser.kz/1"); err != nil {
		t.Fatal(err)
	}

	// Domain B should not be blocked by A
	start := time.Now()
	if err := l.Wait(ctx, "https://upack.kz/1"); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 10*time.Millisecond {
		t.Errorf("domain B blocked unexpectedly")
	}
}

func TestLimiter_CanceledContext(t *testing.T) {
	l := New(Config{DefaultRPS: 0.01, DefaultBurst: 1})
	ctx, cancel := context.WithCancel(context.Background())
	if err := l.Wait(ctx, "https://bestpack.kz/a"); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := l.Wait(ctx, "https://bestpack.kz/b"); err == nil {
		t.Fatal("expected canceled wait to fail")
	}
}
