package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/canvass-hq/canvass/internal/store"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

func newTestQueue() (*Queue, *time.Time) {
	now := time.Now()
	memoryStore := store.NewMemory()
	memoryStore.Now = func() time.Time { return now }

	queue := NewQueue(memoryStore, 7*24*time.Hour)
	queue.Now = memoryStore.Now

	return queue, &now
}

func TestEnqueueIdempotent(t *testing.T) {
	queue, _ := newTestQueue()
	ctx := context.Background()

	payload := json.RawMessage(`{"call_id":"c1"}`)

	first, err := queue.Enqueue(ctx, "c1", EventTypeProfileCompleted, "http://example.test/hook", payload)
	require.NoError(t, err)

	second, err := queue.Enqueue(ctx, "c1", EventTypeProfileCompleted, "http://example.test/hook", payload)
	require.NoError(t, err)
	require.Equal(t, first, second)

	events, err := queue.Lease(ctx, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "c1", events[0].CallID)
}

func TestEventIDDeterministic(t *testing.T) {
	require.Equal(t,
		EventID("c1", EventTypeProfileCompleted),
		EventID("c1", EventTypeProfileCompleted),
	)
	require.NotEqual(t,
		EventID("c1", EventTypeProfileCompleted),
		EventID("c2", EventTypeProfileCompleted),
	)
}

func TestLeaseClaimsAndHolds(t *testing.T) {
	queue, _ := newTestQueue()
	ctx := context.Background()

	_, err := queue.Enqueue(ctx, "c1", EventTypeProfileCompleted, "http://example.test", nil)
	require.NoError(t, err)

	events, err := queue.Lease(ctx, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, StatusInFlight, events[0].Status)

	// Still leased: a second pass claims nothing.
	events, err = queue.Lease(ctx, time.Minute, 10)
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestLeaseReclaimsExpiredLease(t *testing.T) {
	queue, now := newTestQueue()
	ctx := context.Background()

	_, err := queue.Enqueue(ctx, "c1", EventTypeProfileCompleted, "http://example.test", nil)
	require.NoError(t, err)

	events, err := queue.Lease(ctx, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)

	*now = now.Add(2 * time.Minute)

	events, err = queue.Lease(ctx, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, int64(2), events[0].Version)
}

func TestMarkDeliveredStopsLeasing(t *testing.T) {
	queue, _ := newTestQueue()
	ctx := context.Background()

	_, err := queue.Enqueue(ctx, "c1", EventTypeProfileCompleted, "http://example.test", nil)
	require.NoError(t, err)

	events, err := queue.Lease(ctx, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)

	err = queue.MarkDelivered(ctx, events[0])
	require.NoError(t, err)

	events, err = queue.Lease(ctx, time.Minute, 10)
	require.NoError(t, err)
	require.Empty(t, events)

	depth, err := queue.Depth(ctx)
	require.NoError(t, err)
	require.Zero(t, depth)
}

func TestRequeueSchedulesRetry(t *testing.T) {
	queue, now := newTestQueue()
	ctx := context.Background()

	_, err := queue.Enqueue(ctx, "c1", EventTypeProfileCompleted, "http://example.test", nil)
	require.NoError(t, err)

	events, err := queue.Lease(ctx, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)

	err = queue.Requeue(ctx, events[0], now.Add(time.Hour), "status 503")
	require.NoError(t, err)

	// Not due yet.
	events, err = queue.Lease(ctx, time.Minute, 10)
	require.NoError(t, err)
	require.Empty(t, events)

	*now = now.Add(2 * time.Hour)

	events, err = queue.Lease(ctx, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, 1, events[0].AttemptCount)
	require.Equal(t, "status 503", events[0].LastError)
}

func TestMarkFailedIsTerminal(t *testing.T) {
	queue, _ := newTestQueue()
	ctx := context.Background()

	_, err := queue.Enqueue(ctx, "c1", EventTypeProfileCompleted, "http://example.test", nil)
	require.NoError(t, err)

	events, err := queue.Lease(ctx, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)

	err = queue.MarkFailed(ctx, events[0], "status 404")
	require.NoError(t, err)

	events, err = queue.Lease(ctx, time.Minute, 10)
	require.NoError(t, err)
	require.Empty(t, events)

	depth, err := queue.Depth(ctx)
	require.NoError(t, err)
	require.Zero(t, depth)
}

func TestDepthCountsOutstanding(t *testing.T) {
	queue, _ := newTestQueue()
	ctx := context.Background()

	_, err := queue.Enqueue(ctx, "c1", EventTypeProfileCompleted, "http://example.test", nil)
	require.NoError(t, err)
	_, err = queue.Enqueue(ctx, "c2", EventTypeProfileCompleted, "http://example.test", nil)
	require.NoError(t, err)

	depth, err := queue.Depth(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, depth)
}
