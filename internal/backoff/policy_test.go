package backoff

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextDelayExponentialWithoutJitter(t *testing.T) {
	p := New(2*time.Second, 30*time.Second, 0)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second}, // capped
		{9, 30 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, p.NextDelay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestNextDelayClampsAttempt(t *testing.T) {
	p := New(time.Second, 10*time.Second, 0)
	assert.Equal(t, time.Second, p.NextDelay(0))
	assert.Equal(t, time.Second, p.NextDelay(-3))
}

func TestNextDelayJitterStaysInBounds(t *testing.T) {
	p := NewWithSource(2*time.Second, 30*time.Second, 0.2, rand.NewSource(42))

	lo := time.Duration(float64(4*time.Second) * 0.8)
	hi := time.Duration(float64(4*time.Second) * 1.2)
	for i := 0; i < 1000; i++ {
		d := p.NextDelay(2)
		assert.GreaterOrEqual(t, d, lo)
		assert.LessOrEqual(t, d, hi)
	}
}

func TestNextDelayJitterVaries(t *testing.T) {
	p := NewWithSource(2*time.Second, 30*time.Second, 0.5, rand.NewSource(1))

	seen := map[time.Duration]bool{}
	for i := 0; i < 50; i++ {
		seen[p.NextDelay(3)] = true
	}
	assert.Greater(t, len(seen), 1, "jittered delays should not all be equal")
}

func TestMaxAttempts(t *testing.T) {
	p := New(time.Second, time.Minute, 0.1)

	assert.Equal(t, 3, p.MaxAttempts("navigate"))
	assert.Equal(t, 2, p.MaxAttempts("extract_content"))
	assert.Equal(t, 1, p.MaxAttempts("build_report"))
	assert.Equal(t, 1, p.MaxAttempts("unknown_stage"))
}
