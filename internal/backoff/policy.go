// Package backoff computes retry delays and retry budgets for pipeline stages.
package backoff

import (
	"math/rand"
	"sync"
	"time"
)

// Default per-stage retry budgets. Network-bound stages tolerate more
// attempts than analysis calls.
var defaultAttempts = map[string]int{
	"navigate":          3,
	"extract_content":   2,
	"analyze_sentiment": 2,
	"analyze_themes":    2,
	"build_report":      1,
	"persist_report":    2,
}

// Policy computes exponential backoff delays with jitter and holds the
// per-stage attempt budgets. Safe for concurrent use.
type Policy struct {
	Base     time.Duration
	Max      time.Duration
	Jitter   float64 // fraction of the delay perturbed in each direction
	Attempts map[string]int

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a policy with the given base delay, cap and jitter fraction,
// using the default per-stage budgets.
func New(base, max time.Duration, jitter float64) *Policy {
	return &Policy{
		Base:     base,
		Max:      max,
		Jitter:   jitter,
		Attempts: defaultAttempts,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewWithSource creates a policy with a deterministic randomness source.
func NewWithSource(base, max time.Duration, jitter float64, src rand.Source) *Policy {
	p := New(base, max, jitter)
	p.rng = rand.New(src)
	return p
}

// NextDelay returns the delay to wait before attempt+1, for attempt >= 1:
// min(Max, Base * 2^(attempt-1)), perturbed by ±Jitter of that value.
// The jitter is drawn independently per call so retries across items do
// not synchronize into storms.
func (p *Policy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := p.Base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.Max {
			delay = p.Max
			break
		}
	}
	if delay > p.Max {
		delay = p.Max
	}

	if p.Jitter <= 0 {
		return delay
	}

	p.mu.Lock()
	// uniform in [-Jitter, +Jitter]
	f := (p.rng.Float64()*2 - 1) * p.Jitter
	p.mu.Unlock()

	perturbed := time.Duration(float64(delay) * (1 + f))
	if perturbed < 0 {
		return 0
	}
	return perturbed
}

// MaxAttempts returns the retry budget for a stage kind. Unknown kinds get
// a single attempt.
func (p *Policy) MaxAttempts(stageKind string) int {
	if n, ok := p.Attempts[stageKind]; ok && n > 0 {
		return n
	}
	return 1
}
