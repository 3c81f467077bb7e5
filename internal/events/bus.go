package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Bus fans out job events to live subscribers and replays a bounded
// backlog to subscribers connecting after publication started. Slow
// subscribers never block a publisher: their oldest buffered events are
// dropped first.
type Bus struct {
	mu         sync.RWMutex
	backlogCap int
	streams    map[string]*stream
}

type stream struct {
	mu      sync.Mutex
	seq     uint64
	backlog []Event
	subs    map[string]*subscriber
	closed  bool
}

type subscriber struct {
	ch   chan Event
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

// NewBus creates a bus whose per-job backlog and per-subscriber buffer
// hold at most backlogCap events.
func NewBus(backlogCap int) *Bus {
	if backlogCap <= 0 {
		backlogCap = 256
	}
	return &Bus{
		backlogCap: backlogCap,
		streams:    make(map[string]*stream),
	}
}

func (b *Bus) stream(jobID string, create bool) *stream {
	b.mu.RLock()
	st := b.streams[jobID]
	b.mu.RUnlock()
	if st != nil || !create {
		return st
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if st = b.streams[jobID]; st == nil {
		st = &stream{subs: make(map[string]*subscriber)}
		b.streams[jobID] = st
	}
	return st
}

// Publish appends an event to the job's stream, assigning its sequence
// number, and delivers it to every live subscriber. Publishing to a
// closed stream is a no-op and returns 0.
func (b *Bus) Publish(jobID string, ev Event) uint64 {
	st := b.stream(jobID, true)

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed {
		return 0
	}

	st.seq++
	ev.JobID = jobID
	ev.Seq = st.seq
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	st.backlog = append(st.backlog, ev)
	if len(st.backlog) > b.backlogCap {
		st.backlog = st.backlog[len(st.backlog)-b.backlogCap:]
	}

	for _, sub := range st.subs {
		deliver(sub.ch, ev)
	}

	return ev.Seq
}

// deliver sends without ever blocking: when the subscriber buffer is full
// the oldest buffered event is discarded to make room.
func deliver(ch chan Event, ev Event) {
	for {
		select {
		case ch <- ev:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Subscribe attaches to a job's stream. The returned channel first yields
// the buffered backlog, then live events in publication order; it is
// closed when the stream closes. The cancel function detaches the
// subscriber. Subscribing to an already closed stream yields the backlog
// and an immediately closed channel.
func (b *Bus) Subscribe(jobID string) (<-chan Event, func()) {
	st := b.stream(jobID, true)

	st.mu.Lock()
	sub := &subscriber{ch: make(chan Event, b.backlogCap)}
	for _, ev := range st.backlog {
		sub.ch <- ev
	}

	if st.closed {
		st.mu.Unlock()
		sub.close()
		return sub.ch, func() {}
	}

	id := uuid.NewString()
	st.subs[id] = sub
	st.mu.Unlock()

	cancel := func() {
		st.mu.Lock()
		delete(st.subs, id)
		st.mu.Unlock()
		sub.close()
	}
	return sub.ch, cancel
}

// CloseStream marks a job's stream terminal: live subscriber channels are
// closed after any buffered events drain. The backlog stays available for
// late subscribers until Release.
func (b *Bus) CloseStream(jobID string) {
	st := b.stream(jobID, false)
	if st == nil {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return
	}
	st.closed = true
	for id, sub := range st.subs {
		delete(st.subs, id)
		sub.close()
	}
}

// Release drops a job's stream entirely, including its backlog. Any
// remaining subscribers are closed.
func (b *Bus) Release(jobID string) {
	b.mu.Lock()
	st := b.streams[jobID]
	delete(b.streams, jobID)
	b.mu.Unlock()

	if st == nil {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.closed = true
	for id, sub := range st.subs {
		delete(st.subs, id)
		sub.close()
	}
}
