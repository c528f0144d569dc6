package cache

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestInMemoryCache_SetAndGet(t *testing.T) {
	c := NewInMemoryCache(time.Second)
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "plan:abc", "steps"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := c.Get(ctx, "plan:abc")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != "steps" {
		t.Errorf("expected steps, got %v", got)
	}
}

func TestInMemoryCache_MissingKey(t *testing.T) {
	c := NewInMemoryCache(time.Second)
	defer c.Close()

	_, err := c.Get(context.Background(), "nope")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected not found error, got %v", err)
	}
}

func TestInMemoryCache_Expiration(t *testing.T) {
	c := NewInMemoryCache(20 * time.Millisecond)
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	time.Sleep(40 * time.Millisecond)
	if _, err := c.Get(ctx, "k"); err == nil {
		t.Error("expected error for expired item")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry should be dropped on read, len=%d", c.Len())
	}
}

func TestInMemoryCache_MaxEntriesEvicts(t *testing.T) {
	c := NewInMemoryCache(time.Minute, WithMaxEntries(2))
	defer c.Close()
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		if err := c.Set(ctx, k, k); err != nil {
			t.Fatalf("Set %s: %v", k, err)
		}
		time.Sleep(time.Millisecond)
	}
	if c.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", c.Len())
	}
	if _, err := c.Get(ctx, "a"); err == nil {
		t.Error("oldest entry should have been evicted")
	}
}

func TestInMemoryCache_CancelledContext(t *testing.T) {
	c := NewInMemoryCache(time.Second)
	defer c.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.Set(ctx, "k", "v"); err == nil {
		t.Error("expected Set to fail on a cancelled context")
	}
}

func TestInMemoryCache_Concurrency(t *testing.T) {
	c := NewInMemoryCache(time.Second, WithSweepInterval(5*time.Millisecond))
	defer c.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = c.Set(ctx, "shared", "v")
		}()
		go func() {
			defer wg.Done()
			if _, err := c.Get(ctx, "shared"); err != nil && !strings.Contains(err.Error(), "not found") {
				t.Errorf("unexpected Get error: %v", err)
			}
		}()
	}
	wg.Wait()
}

func TestInMemoryCache_SweepPurgesUnreadEntries(t *testing.T) {
	c := NewInMemoryCache(10*time.Millisecond, WithSweepInterval(5*time.Millisecond))
	defer c.Close()

	if err := c.Set(context.Background(), "k", "v"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for c.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("expired entry was never swept")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestInMemoryCache_SweepDisabled(t *testing.T) {
	c := NewInMemoryCache(time.Millisecond, WithSweepInterval(0))
	defer c.Close()

	if c.sweepEvery != 0 {
		t.Fatalf("sweep interval = %v, want disabled", c.sweepEvery)
	}
	if err := c.Set(context.Background(), "k", "v"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if c.Len() != 1 {
		t.Errorf("entry dropped without a read or sweep, len=%d", c.Len())
	}
	if d := NewInMemoryCache(time.Second); d.sweepEvery != DefaultSweepInterval {
		t.Errorf("default sweep interval = %v", d.sweepEvery)
	} else {
		d.Close()
	}
}
