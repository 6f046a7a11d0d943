package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDecorrelatedJitterBackOff(t *testing.T) {
	t.Parallel()

	b := &DecorrelatedJitterBackOff{Base: 10 * time.Millisecond, Cap: 100 * time.Millisecond}
	for range 50 {
		d := b.NextBackOff()
		assert.GreaterOrEqual(t, d, b.Base)
		assert.LessOrEqual(t, d, b.Cap)
	}

	b.Reset()
	assert.LessOrEqual(t, b.NextBackOff(), 30*time.Millisecond, "after reset the ceiling is base*3")
}

func TestApplyJitter(t *testing.T) {
	t.Parallel()

	assert.Equal(t, time.Second, applyJitter(time.Second, 0))
	for range 20 {
		d := applyJitter(time.Second, 0.5)
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.LessOrEqual(t, d, 1500*time.Millisecond)
	}
}

func TestConstantBackOffWithJitter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		b      *ConstantBackOffWithJitter
		lo, hi time.Duration
	}{
		{
			name: "given no jitter, then constant",
			b:    &ConstantBackOffWithJitter{Interval: 100 * time.Millisecond},
			lo:   100 * time.Millisecond,
			hi:   100 * time.Millisecond,
		},
		{
			name: "given 20 percent jitter, then within the band",
			b:    &ConstantBackOffWithJitter{Interval: 100 * time.Millisecond, JitterFactor: 0.2},
			lo:   80 * time.Millisecond,
			hi:   120 * time.Millisecond,
		},
		{
			name: "given jitter above one, then clamped",
			b:    &ConstantBackOffWithJitter{Interval: 100 * time.Millisecond, JitterFactor: 5},
			lo:   0,
			hi:   200 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			for range 20 {
				d := tt.b.NextBackOff()
				assert.GreaterOrEqual(t, d, tt.lo)
				assert.LessOrEqual(t, d, tt.hi)
			}
		})
	}
}

func TestExponentialBackOff_AlwaysJitters(t *testing.T) {
	t.Parallel()

	cfg := DefaultRetryConfig()
	cfg.JitterFactor = 0

	b := exponentialBackOff(cfg)
	assert.InDelta(t, DefaultJitterFactor, b.RandomizationFactor, 1e-9)
	assert.Equal(t, cfg.InitialInterval, b.InitialInterval)
	assert.Equal(t, cfg.MaxInterval, b.MaxInterval)
}
