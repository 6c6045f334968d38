package outbox

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

type fakeRecorder struct {
	mu       sync.Mutex
	statuses map[string]string
}

func (recorder *fakeRecorder) RecordDelivery(_ context.Context, callID string, status string) error {
	recorder.mu.Lock()
	defer recorder.mu.Unlock()

	if recorder.statuses == nil {
		recorder.statuses = make(map[string]string)
	}

	recorder.statuses[callID] = status

	return nil
}

func (recorder *fakeRecorder) status(callID string) string {
	recorder.mu.Lock()
	defer recorder.mu.Unlock()

	return recorder.statuses[callID]
}

type fakeDeadLetters struct {
	mu     sync.Mutex
	events []Event
}

func (publisher *fakeDeadLetters) PublishDeadLetter(_ context.Context, event Event, _ string) error {
	publisher.mu.Lock()
	defer publisher.mu.Unlock()

	publisher.events = append(publisher.events, event)

	return nil
}

func newTestDispatcher(queue *Queue) (*Dispatcher, *fakeRecorder, *fakeDeadLetters) {
	recorder := &fakeRecorder{}
	deadLetters := &fakeDeadLetters{}

	dispatcher := NewDispatcher(
		queue, nil, &http.Client{Timeout: 5 * time.Second}, recorder, deadLetters,
		DispatcherConfig{
			Interval:   time.Second,
			LeaseTTL:   time.Minute,
			BatchSize:  10,
			MaxRetries: 3,
			BaseDelay:  time.Minute,
			MaxDelay:   time.Hour,
		},
	)

	return dispatcher, recorder, deadLetters
}

func leaseOne(t *testing.T, queue *Queue) Event {
	t.Helper()

	events, err := queue.Lease(context.Background(), time.Minute, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)

	return events[0]
}

func TestDeliverSuccess(t *testing.T) {
	var received struct {
		sync.Mutex
		eventID string
		body    map[string]any
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Lock()
		defer received.Unlock()

		received.eventID = r.Header.Get("X-Event-ID")
		_ = json.NewDecoder(r.Body).Decode(&received.body)

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	queue, _ := newTestQueue()
	dispatcher, recorder, _ := newTestDispatcher(queue)
	ctx := context.Background()

	eventID, err := queue.Enqueue(
		ctx, "c1", EventTypeProfileCompleted, server.URL, json.RawMessage(`{"call_id":"c1"}`),
	)
	require.NoError(t, err)

	dispatcher.deliver(ctx, leaseOne(t, queue))

	received.Lock()
	require.Equal(t, eventID, received.eventID)
	require.Equal(t, "c1", received.body["call_id"])
	received.Unlock()

	require.Equal(t, "delivered", recorder.status("c1"))

	events, err := queue.Lease(ctx, time.Minute, 10)
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestDeliverServerErrorRequeues(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	queue, now := newTestQueue()
	dispatcher, recorder, deadLetters := newTestDispatcher(queue)
	ctx := context.Background()

	_, err := queue.Enqueue(ctx, "c1", EventTypeProfileCompleted, server.URL, nil)
	require.NoError(t, err)

	start := *now

	dispatcher.deliver(ctx, leaseOne(t, queue))

	require.Empty(t, recorder.statuses)
	require.Empty(t, deadLetters.events)

	// Requeued with a future retry time; due again once the clock passes it.
	*now = now.Add(2 * time.Hour)

	event := leaseOne(t, queue)
	require.Equal(t, 1, event.AttemptCount)
	require.Contains(t, event.LastError, "503")

	// First retry backs off by base shifted by the new attempt count of 1,
	// plus less than one base of jitter.
	wait := event.NextRetryAt.Sub(start)
	require.GreaterOrEqual(t, wait, 2*time.Minute)
	require.Less(t, wait, 3*time.Minute)
}

func TestDeliverExhaustionDeadLetters(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	queue, now := newTestQueue()
	dispatcher, recorder, deadLetters := newTestDispatcher(queue)
	ctx := context.Background()

	_, err := queue.Enqueue(ctx, "c1", EventTypeProfileCompleted, server.URL, nil)
	require.NoError(t, err)

	for attempt := 0; attempt < 3; attempt++ {
		dispatcher.deliver(ctx, leaseOne(t, queue))
		*now = now.Add(3 * time.Hour)
	}

	require.Len(t, deadLetters.events, 1)
	require.Equal(t, "failed", recorder.status("c1"))

	events, err := queue.Lease(ctx, time.Minute, 10)
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestDeliverRejectionDeadLettersImmediately(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	queue, _ := newTestQueue()
	dispatcher, recorder, deadLetters := newTestDispatcher(queue)
	ctx := context.Background()

	_, err := queue.Enqueue(ctx, "c1", EventTypeProfileCompleted, server.URL, nil)
	require.NoError(t, err)

	dispatcher.deliver(ctx, leaseOne(t, queue))

	require.Len(t, deadLetters.events, 1)
	require.Equal(t, "failed", recorder.status("c1"))
}

func TestNextRetryDelayBounds(t *testing.T) {
	base := 2 * time.Second
	max := time.Hour

	// Attempt counts are post-increment: the first retry is attempt 1.
	for attempt := 1; attempt <= 5; attempt++ {
		floor := base << attempt

		for i := 0; i < 20; i++ {
			delay := NextRetryDelay(attempt, base, max)
			require.GreaterOrEqual(t, delay, floor)
			require.Less(t, delay, floor+base)
		}
	}
}

func TestNextRetryDelayCapped(t *testing.T) {
	require.Equal(t, time.Hour, NextRetryDelay(30, 2*time.Second, time.Hour))
	require.Equal(t, time.Hour, NextRetryDelay(62, 2*time.Second, time.Hour))
}
