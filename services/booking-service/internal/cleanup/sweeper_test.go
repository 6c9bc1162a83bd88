package cleanup

import (
	"context"
	"testing"
	"time"
)

func TestSleepCtxReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	sleepCtx(ctx, time.Minute)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("sleepCtx ignored cancellation, slept %v", elapsed)
	}
}

func TestSleepCtxWaitsOutDuration(t *testing.T) {
	start := time.Now()
	sleepCtx(context.Background(), 10*time.Millisecond)
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Fatalf("sleepCtx returned after %v, expected the full wait", elapsed)
	}
}
