package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Manager serializes access to the one session slot a job owns. At most
// one establishment is in flight at any time: concurrent Acquire calls
// wait for it and then all observe the same outcome. An establishment
// failure is sticky, because a job with no session cannot proceed.
type Manager struct {
	provider     Provider
	maxElapsed   time.Duration
	initInterval time.Duration

	mu       sync.Mutex
	sess     *Session
	health   Health
	inflight chan struct{}
	estErr   error
}

// NewManager creates a manager around the given provider. maxElapsed
// bounds the provider-internal retry budget for one establishment.
func NewManager(provider Provider, maxElapsed time.Duration) *Manager {
	return &Manager{
		provider:     provider,
		maxElapsed:   maxElapsed,
		initInterval: 2 * time.Second,
		health:       Unestablished,
	}
}

// Health returns the current slot state.
func (m *Manager) Health() Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.health
}

// Acquire returns the shared session, establishing it lazily. Callers
// block while another establishment is in flight and then share its
// outcome. Once establishment has failed, every subsequent Acquire fails
// with the same ErrUnavailable.
func (m *Manager) Acquire(ctx context.Context) (*Session, error) {
	for {
		m.mu.Lock()

		if m.health == Healthy {
			s := m.sess
			m.mu.Unlock()
			return s, nil
		}

		if m.estErr != nil {
			err := m.estErr
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		if ch := m.inflight; ch != nil {
			m.mu.Unlock()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-ch:
			}
			continue // re-read the shared outcome
		}

		// This caller performs the establishment.
		ch := make(chan struct{})
		m.inflight = ch
		m.mu.Unlock()

		s, err := m.establish(ctx)

		m.mu.Lock()
		m.inflight = nil
		if err != nil {
			m.estErr = err
			m.health = Unestablished
			close(ch)
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		m.sess = s
		m.health = Healthy
		close(ch)
		m.mu.Unlock()
		return s, nil
	}
}

// establish calls the provider with exponential backoff until it succeeds,
// the budget runs out, or the failure is an auth error (retrying a bad
// credential never helps).
func (m *Manager) establish(ctx context.Context) (*Session, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.initInterval
	bo.MaxElapsedTime = m.maxElapsed

	var s *Session
	operation := func() error {
		var err error
		s, err = m.provider.Establish(ctx)
		if err == nil {
			return nil
		}
		slog.Warn("session establishment attempt failed", "error", err)
		if IsAuthError(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return s, nil
}

// Invalidate marks the current session unusable. The next Acquire forces a
// fresh establishment instead of reusing the stale handle.
func (m *Manager) Invalidate(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess == nil {
		return
	}
	slog.Info("session invalidated", "session_id", m.sess.ID, "reason", reason)

	stale := m.sess
	m.sess = nil
	m.health = Invalid
	m.estErr = nil

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.provider.Teardown(ctx, stale); err != nil {
			slog.Warn("stale session teardown failed", "session_id", stale.ID, "error", err)
		}
	}()
}

// Release tears the session down when the job finishes, in any terminal
// state. Safe to call more than once.
func (m *Manager) Release(ctx context.Context) {
	m.mu.Lock()
	s := m.sess
	m.sess = nil
	m.health = Unestablished
	m.mu.Unlock()

	if s == nil {
		return
	}
	if err := m.provider.Teardown(ctx, s); err != nil {
		slog.Warn("session teardown failed", "session_id", s.ID, "error", err)
	}
}
