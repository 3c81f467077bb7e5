package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(ch <-chan Event, n int, t *testing.T) []Event {
	t.Helper()
	var got []Event
	timeout := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case ev, ok := <-ch:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("timed out collecting events, got %d of %d", len(got), n)
		}
	}
	return got
}

func TestPublishAssignsGaplessSequence(t *testing.T) {
	bus := NewBus(16)

	ch, cancel := bus.Subscribe("job_1")
	defer cancel()

	for i := 0; i < 5; i++ {
		bus.Publish("job_1", Event{Stage: "navigate", Kind: KindStarted})
	}

	got := collect(ch, 5, t)
	for i, ev := range got {
		assert.Equal(t, uint64(i+1), ev.Seq)
		assert.Equal(t, "job_1", ev.JobID)
		assert.False(t, ev.Timestamp.IsZero())
	}
}

func TestLateSubscriberGetsBacklog(t *testing.T) {
	bus := NewBus(16)

	bus.Publish("job_1", Event{Stage: "navigate", Kind: KindStarted})
	bus.Publish("job_1", Event{Stage: "navigate", Kind: KindSucceeded})

	ch, cancel := bus.Subscribe("job_1")
	defer cancel()

	got := collect(ch, 2, t)
	require.Len(t, got, 2)
	assert.Equal(t, KindStarted, got[0].Kind)
	assert.Equal(t, KindSucceeded, got[1].Kind)

	// Live events continue after replay with increasing sequence.
	bus.Publish("job_1", Event{Stage: "extract_content", Kind: KindStarted})
	live := collect(ch, 1, t)
	assert.Equal(t, uint64(3), live[0].Seq)
}

func TestBacklogBounded(t *testing.T) {
	bus := NewBus(4)

	for i := 0; i < 10; i++ {
		bus.Publish("job_1", Event{Stage: "navigate", Kind: KindRetrying})
	}

	ch, cancel := bus.Subscribe("job_1")
	defer cancel()

	got := collect(ch, 4, t)
	require.Len(t, got, 4)
	// Oldest entries were dropped; sequence numbers are still the originals.
	assert.Equal(t, uint64(7), got[0].Seq)
	assert.Equal(t, uint64(10), got[3].Seq)
}

func TestSlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	bus := NewBus(2)

	ch, cancel := bus.Subscribe("job_1")
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish("job_1", Event{Stage: "navigate", Kind: KindRetrying})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on slow subscriber")
	}

	// Subscriber still sees the most recent events.
	var last Event
	for _, ev := range drain(ch) {
		last = ev
	}
	assert.Equal(t, uint64(100), last.Seq)
}

func drain(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestCloseStreamEndsSubscribers(t *testing.T) {
	bus := NewBus(8)

	ch, cancel := bus.Subscribe("job_1")
	defer cancel()

	bus.Publish("job_1", Event{Stage: "done", Kind: KindSucceeded})
	bus.CloseStream("job_1")

	got := collect(ch, 1, t)
	require.Len(t, got, 1)

	_, open := <-ch
	assert.False(t, open, "channel should be closed after stream close")

	// Publishing after close is dropped.
	assert.Equal(t, uint64(0), bus.Publish("job_1", Event{Stage: "x", Kind: KindStarted}))
}

func TestSubscribeAfterCloseReplaysThenEnds(t *testing.T) {
	bus := NewBus(8)

	bus.Publish("job_1", Event{Stage: "navigate", Kind: KindStarted})
	bus.Publish("job_1", Event{Stage: "navigate", Kind: KindFailed})
	bus.CloseStream("job_1")

	ch, cancel := bus.Subscribe("job_1")
	defer cancel()

	got := collect(ch, 2, t)
	require.Len(t, got, 2)
	_, open := <-ch
	assert.False(t, open)
}

func TestReleaseDropsBacklog(t *testing.T) {
	bus := NewBus(8)

	bus.Publish("job_1", Event{Stage: "navigate", Kind: KindStarted})
	bus.Release("job_1")

	ch, cancel := bus.Subscribe("job_1")
	defer cancel()

	select {
	case ev, ok := <-ch:
		if ok {
			// A fresh stream restarts sequencing, so nothing old may appear.
			t.Fatalf("unexpected replayed event after release: %+v", ev)
		}
	default:
	}
}

func TestStreamsAreIndependentAcrossJobs(t *testing.T) {
	bus := NewBus(8)

	a, cancelA := bus.Subscribe("job_a")
	defer cancelA()
	b, cancelB := bus.Subscribe("job_b")
	defer cancelB()

	bus.Publish("job_a", Event{Stage: "navigate", Kind: KindStarted})
	bus.Publish("job_b", Event{Stage: "navigate", Kind: KindStarted})

	evA := collect(a, 1, t)[0]
	evB := collect(b, 1, t)[0]
	assert.Equal(t, uint64(1), evA.Seq)
	assert.Equal(t, uint64(1), evB.Seq)
	assert.Equal(t, "job_a", evA.JobID)
	assert.Equal(t, "job_b", evB.JobID)
}
