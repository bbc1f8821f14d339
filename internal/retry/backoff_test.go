package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicy_Backoff(t *testing.T) {
	p := NewSeeded(DefaultBase, DefaultCap, 7)

	tests := []struct {
		name     string
		attempts int
		min      time.Duration
		max      time.Duration
	}{
		{name: "zero attempts returns base", attempts: 0, min: 60 * time.Second, max: 60 * time.Second},
		{name: "negative attempts returns base", attempts: -3, min: 60 * time.Second, max: 60 * time.Second},
		{name: "first attempt", attempts: 1, min: 60 * time.Second, max: 90 * time.Second},
		{name: "second attempt", attempts: 2, min: 120 * time.Second, max: 150 * time.Second},
		{name: "fourth attempt", attempts: 4, min: 480 * time.Second, max: 510 * time.Second},
		{name: "capped", attempts: 10, min: time.Hour, max: time.Hour + 30*time.Second},
		{name: "very large attempts do not overflow", attempts: 500, min: time.Hour, max: time.Hour + 30*time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 50; i++ {
				got := p.Backoff(tt.attempts)
				assert.GreaterOrEqual(t, got, tt.min)
				assert.LessOrEqual(t, got, tt.max)
			}
		})
	}
}

func TestPolicy_BackoffBounds(t *testing.T) {
	tests := []struct {
		name string
		base time.Duration
		cap  time.Duration
	}{
		{name: "defaults", base: DefaultBase, cap: DefaultCap},
		{name: "one second base and cap", base: time.Second, cap: time.Second},
		{name: "sub-second base", base: 200 * time.Millisecond, cap: 400 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewSeeded(tt.base, tt.cap, 99)
			for attempts := 0; attempts < 40; attempts++ {
				for i := 0; i < 20; i++ {
					got := p.Backoff(attempts)
					assert.GreaterOrEqual(t, got, p.Base)
					assert.LessOrEqual(t, got, p.Cap+p.Cap/2)
				}
			}
		})
	}
}

func TestPolicy_MonotonicInExpectation(t *testing.T) {
	p := NewSeeded(DefaultBase, DefaultCap, 1)

	mean := func(attempts int) time.Duration {
		var total time.Duration
		const samples = 200
		for i := 0; i < samples; i++ {
			total += p.Backoff(attempts)
		}
		return total / samples
	}

	prev := mean(0)
	for attempts := 1; attempts <= 12; attempts++ {
		cur := mean(attempts)
		// jitter spread is 30s, allow for sampling noise once the cap is hit
		assert.GreaterOrEqual(t, cur+5*time.Second, prev, "attempts=%d", attempts)
		prev = cur
	}
}

func TestPolicy_SeedIsReproducible(t *testing.T) {
	a := NewSeeded(DefaultBase, DefaultCap, 42)
	b := NewSeeded(DefaultBase, DefaultCap, 42)

	for attempts := 1; attempts < 10; attempts++ {
		assert.Equal(t, a.Backoff(attempts), b.Backoff(attempts))
	}
}

func TestPolicy_BackoffCapped(t *testing.T) {
	p := NewSeeded(DefaultBase, DefaultCap, 3)

	got := p.BackoffCapped(8, 15*time.Minute)
	assert.GreaterOrEqual(t, got, 15*time.Minute)
	assert.LessOrEqual(t, got, 15*time.Minute+30*time.Second)

	assert.Equal(t, p.Base, p.BackoffCapped(0, time.Minute))
}

func TestNewPolicy_Defaults(t *testing.T) {
	p := NewPolicy(0, 0, nil)
	assert.Equal(t, DefaultBase, p.Base)
	assert.Equal(t, DefaultCap, p.Cap)
}
