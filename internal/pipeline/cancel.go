package pipeline

import (
	"errors"
	"sync"
)

// ErrCancelled is returned from suspension points once cancellation has
// been requested.
var ErrCancelled = errors.New("job cancelled")

// CancelFlag is the cooperative cancellation signal for one job. It is
// checked at stage boundaries and at the start of the inter-item delay;
// an in-flight external call is allowed to finish.
type CancelFlag struct {
	once sync.Once
	ch   chan struct{}
}

func NewCancelFlag() *CancelFlag {
	return &CancelFlag{ch: make(chan struct{})}
}

// Signal requests cancellation. Safe to call more than once.
func (f *CancelFlag) Signal() {
	f.once.Do(func() { close(f.ch) })
}

// Cancelled reports whether cancellation has been requested.
func (f *CancelFlag) Cancelled() bool {
	select {
	case <-f.ch:
		return true
	default:
		return false
	}
}

// Done exposes the signal for select loops.
func (f *CancelFlag) Done() <-chan struct{} { return f.ch }
