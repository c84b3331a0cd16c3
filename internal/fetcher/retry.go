package fetcher

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds how often and how patiently a request is retried.
type RetryPolicy struct {
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
	Jitter     time.Duration `mapstructure:"jitter"`
}

// Delay returns min(base*2^attempt, max) plus a jitter in [0, Jitter).
func (p RetryPolicy) Delay(attempt int, random func() float64) time.Duration {
	exp := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if p.MaxDelay > 0 && exp > float64(p.MaxDelay) {
		exp = float64(p.MaxDelay)
	}
	delay := time.Duration(exp)
	if p.Jitter > 0 && random != nil {
		delay += time.Duration(math.Floor(random() * float64(p.Jitter)))
	}
	return delay
}

// NewBackOff adapts the policy to backoff.BackOff, stopping after MaxRetries.
func (p RetryPolicy) NewBackOff(random func() float64) backoff.BackOff {
	if random == nil {
		random = rand.Float64
	}
	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithMaxRetries(&policyBackOff{policy: p, random: random}, uint64(retries))
}

type policyBackOff struct {
	policy  RetryPolicy
	random  func() float64
	attempt int
}

func (b *policyBackOff) NextBackOff() time.Duration {
	d := b.policy.Delay(b.attempt, b.random)
	b.attempt++
	return d
}

func (b *policyBackOff) Reset() {
	b.attempt = 0
}

var _ backoff.BackOff = (*policyBackOff)(nil)
