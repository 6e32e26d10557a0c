package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTTLExpiry(t *testing.T) {
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	c := NewTTL[[]string](5 * time.Minute).WithClock(func() time.Time { return now })
	ctx := context.Background()

	if _, err := c.Get(ctx, "substitutes-all"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected miss on empty cache, got %v", err)
	}

	_ = c.Set(ctx, "substitutes-all", []string{"Ana", "Bruno"})

	tests := []struct {
		name    string
		advance time.Duration
		hit     bool
	}{
		{name: "fresh", advance: 0, hit: true},
		{name: "just before expiry", advance: 5*time.Minute - time.Second, hit: true},
		{name: "at expiry", advance: 5 * time.Minute, hit: false},
	}
	base := now
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			now = base.Add(tc.advance)
			got, err := c.Get(ctx, "substitutes-all")
			if tc.hit {
				if err != nil || len(got) != 2 {
					t.Fatalf("expected hit with 2 names, got %v (%v)", got, err)
				}
				return
			}
			if !errors.Is(err, ErrMiss) {
				t.Fatalf("expected miss, got %v", got)
			}
		})
	}
}

func TestTTLDeleteAndClear(t *testing.T) {
	c := NewTTL[int](time.Minute)
	ctx := context.Background()
	_ = c.Set(ctx, "a", 1)
	_ = c.Set(ctx, "b", 2)

	_ = c.Delete(ctx, "a")
	if _, err := c.Get(ctx, "a"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected a to be deleted")
	}
	if v, err := c.Get(ctx, "b"); err != nil || v != 2 {
		t.Fatalf("expected b=2, got %d (%v)", v, err)
	}

	_ = c.Clear(ctx)
	if c.Len() != 0 {
		t.Fatalf("expected empty cache after clear, got %d entries", c.Len())
	}
}
