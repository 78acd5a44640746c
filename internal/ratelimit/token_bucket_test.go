package ratelimit

import (
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func TestTokenBucket_StartsFull(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewTokenBucket(clk, 3, 1)

	for i := 0; i < 3; i++ {
		if !b.Allow(1) {
			t.Fatalf("token %d should be available", i)
		}
	}
	if b.Allow(1) {
		t.Fatal("bucket should be empty")
	}
}

func TestTokenBucket_RefillsOverTime(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewTokenBucket(clk, 2, 2)

	if !b.Allow(2) {
		t.Fatal("initial burst should succeed")
	}
	if b.Allow(1) {
		t.Fatal("bucket should be drained")
	}

	clk.Advance(500 * time.Millisecond)
	if !b.Allow(1) {
		t.Fatal("half a second at 2 tokens/sec should yield one token")
	}
	if b.Allow(1) {
		t.Fatal("no second token yet")
	}

	clk.Advance(10 * time.Second)
	if !b.Allow(2) {
		t.Fatal("bucket should refill to capacity, not beyond")
	}
	if b.Allow(1) {
		t.Fatal("capacity must cap the refill")
	}
}

func TestTokenBucket_TimeGoingBackwards(t *testing.T) {
	clk := &fakeClock{now: time.Unix(100, 0)}
	b := NewTokenBucket(clk, 1, 1)

	if !b.Allow(1) {
		t.Fatal("initial token missing")
	}
	clk.now = time.Unix(50, 0)
	if b.Allow(1) {
		t.Fatal("backwards time must not refill")
	}
}

func TestTokenBucket_ZeroCostAlwaysAllowed(t *testing.T) {
	b := NewTokenBucket(&fakeClock{now: time.Unix(0, 0)}, 0, 0)
	if !b.Allow(0) {
		t.Fatal("zero cost should always pass")
	}
	if b.Allow(1) {
		t.Fatal("zero capacity bucket should reject")
	}
}
