package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider counts establishments and can be scripted to fail.
type fakeProvider struct {
	establishErr error
	delay        time.Duration

	establishCalls atomic.Int32
	teardownCalls  atomic.Int32
}

func (f *fakeProvider) Establish(ctx context.Context) (*Session, error) {
	f.establishCalls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.establishErr != nil {
		return nil, f.establishErr
	}
	return &Session{ID: "sess_test", Authenticated: true, EstablishedAt: time.Now()}, nil
}

func (f *fakeProvider) Teardown(ctx context.Context, s *Session) error {
	f.teardownCalls.Add(1)
	return nil
}

func TestAcquireEstablishesLazily(t *testing.T) {
	fp := &fakeProvider{}
	m := NewManager(fp, time.Second)

	assert.Equal(t, Unestablished, m.Health())

	s, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sess_test", s.ID)
	assert.Equal(t, Healthy, m.Health())
	assert.Equal(t, int32(1), fp.establishCalls.Load())

	// Second acquire reuses the handle.
	s2, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, s, s2)
	assert.Equal(t, int32(1), fp.establishCalls.Load())
}

func TestConcurrentAcquireSharesOneEstablishment(t *testing.T) {
	fp := &fakeProvider{delay: 50 * time.Millisecond}
	m := NewManager(fp, time.Second)

	const n = 16
	var wg sync.WaitGroup
	results := make([]*Session, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.Acquire(context.Background())
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), fp.establishCalls.Load(), "only one establishment may run")
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i], "all callers must see the same session")
	}
}

func TestConcurrentAcquireSharesOneFailure(t *testing.T) {
	fp := &fakeProvider{
		delay:        20 * time.Millisecond,
		establishErr: &AuthError{Reason: "bad credentials"},
	}
	m := NewManager(fp, time.Second)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Acquire(context.Background())
		}(i)
	}
	wg.Wait()

	// Auth errors are not retried, so a single call reached the provider.
	assert.Equal(t, int32(1), fp.establishCalls.Load())
	for i := 0; i < n; i++ {
		assert.ErrorIs(t, errs[i], ErrUnavailable)
	}

	// The failure is sticky.
	_, err := m.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(1), fp.establishCalls.Load())
}

func TestInvalidateForcesReestablishment(t *testing.T) {
	fp := &fakeProvider{}
	m := NewManager(fp, time.Second)

	first, err := m.Acquire(context.Background())
	require.NoError(t, err)

	m.Invalidate("auth block detected")
	assert.Equal(t, Invalid, m.Health())

	second, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, Healthy, m.Health())
	assert.Equal(t, int32(2), fp.establishCalls.Load())
}

func TestAcquireHonorsContextWhileWaiting(t *testing.T) {
	fp := &fakeProvider{delay: 500 * time.Millisecond}
	m := NewManager(fp, time.Second)

	// Kick off the establishment.
	go m.Acquire(context.Background())
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := m.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReleaseTearsDown(t *testing.T) {
	fp := &fakeProvider{}
	m := NewManager(fp, time.Second)

	_, err := m.Acquire(context.Background())
	require.NoError(t, err)

	m.Release(context.Background())
	assert.Equal(t, int32(1), fp.teardownCalls.Load())
	assert.Equal(t, Unestablished, m.Health())

	// Idempotent.
	m.Release(context.Background())
	assert.Equal(t, int32(1), fp.teardownCalls.Load())
}

func TestTransientEstablishmentFailureIsRetried(t *testing.T) {
	fp := &flakyProvider{failures: 2}
	m := NewManager(fp, 5*time.Second)
	m.initInterval = 5 * time.Millisecond

	s, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, s)
	assert.Equal(t, int32(3), fp.calls.Load())
}

// flakyProvider fails transiently a fixed number of times, then succeeds.
type flakyProvider struct {
	failures int
	calls    atomic.Int32
}

func (f *flakyProvider) Establish(ctx context.Context) (*Session, error) {
	n := f.calls.Add(1)
	if int(n) <= f.failures {
		return nil, errors.New("connection reset")
	}
	return &Session{ID: "sess_flaky", EstablishedAt: time.Now()}, nil
}

func (f *flakyProvider) Teardown(ctx context.Context, s *Session) error { return nil }
