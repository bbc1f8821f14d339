// Package retry computes job-level retry delays.
package retry

import (
	"math/rand/v2"
	"sync"
	"time"
)

const (
	DefaultBase = 60 * time.Second
	DefaultCap  = time.Hour
)

// Policy is exponential backoff with additive jitter:
//
//	delay = min(Cap, Base * 2^(attempts-1)) + uniform[0, Base/2]
type Policy struct {
	Base time.Duration
	Cap  time.Duration

	mu   sync.Mutex
	rand *rand.Rand
}

// NewPolicy creates a policy. A nil rng uses a randomly seeded source.
func NewPolicy(base, ceiling time.Duration, rng *rand.Rand) *Policy {
	if base <= 0 {
		base = DefaultBase
	}
	if ceiling <= 0 {
		ceiling = DefaultCap
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Policy{Base: base, Cap: ceiling, rand: rng}
}

// NewSeeded creates a policy whose jitter sequence is reproducible
func NewSeeded(base, ceiling time.Duration, seed uint64) *Policy {
	return NewPolicy(base, ceiling, rand.New(rand.NewPCG(seed, seed)))
}

// Default returns the 60s/1h policy
func Default() *Policy {
	return NewPolicy(DefaultBase, DefaultCap, nil)
}

// Backoff returns the delay before attempt number `attempts` is retried.
func (p *Policy) Backoff(attempts int) time.Duration {
	if attempts <= 0 {
		return p.Base
	}
	return p.exponential(attempts) + p.jitter()
}

// BackoffCapped is Backoff with the exponential part bounded by limit
// instead of Cap. Jitter is still added on top.
func (p *Policy) BackoffCapped(attempts int, limit time.Duration) time.Duration {
	if attempts <= 0 {
		return p.Base
	}
	delay := p.exponential(attempts)
	if limit > 0 && delay > limit {
		delay = limit
	}
	return delay + p.jitter()
}

// exponential returns min(Cap, Base*2^(attempts-1)) without overflowing.
func (p *Policy) exponential(attempts int) time.Duration {
	delay := p.Base
	for i := 1; i < attempts; i++ {
		if delay >= p.Cap {
			return p.Cap
		}
		delay *= 2
	}
	if delay > p.Cap {
		return p.Cap
	}
	return delay
}

func (p *Policy) jitter() time.Duration {
	spread := int64(p.Base / 2)
	if spread <= 0 {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Duration(p.rand.Int64N(spread + 1))
}
