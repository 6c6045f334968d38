package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/canvass-hq/canvass/internal/logging"
	"github.com/canvass-hq/canvass/internal/store"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// Queue is the durable set of webhook events awaiting delivery, kept in the
// shared state store so any node can enqueue and any dispatcher can drain.
type Queue struct {
	Store store.Store
	TTL   time.Duration

	Now func() time.Time
}

func NewQueue(stateStore store.Store, ttl time.Duration) *Queue {
	return &Queue{
		Store: stateStore,
		TTL:   ttl,
		Now:   time.Now,
	}
}

// Enqueue records a delivery for the (call, event type) pair. The event ID
// is derived from that pair, so calling this twice is a no-op and at most
// one delivery is ever made.
func (queue *Queue) Enqueue(
	ctx context.Context,
	callID, eventType, targetURL string,
	payload json.RawMessage,
) (string, error) {
	eventID := EventID(callID, eventType)
	now := queue.Now()

	event := Event{
		EventID:     eventID,
		CallID:      callID,
		EventType:   eventType,
		Payload:     payload,
		TargetURL:   targetURL,
		NextRetryAt: now,
		Status:      StatusPending,
		CreatedAt:   now,
	}

	stored, err := queue.Store.PutIfAbsent(ctx, store.OutboxKey(eventID), event, queue.TTL)
	if err != nil {
		return "", err
	}

	if !stored {
		logging.Logger.Debug("outbox event already enqueued",
			zap.String("event_id", eventID),
			zap.String("call_id", callID),
		)
	}

	return eventID, nil
}

// Lease claims up to limit events that are due for delivery. An event is
// due when it is pending, or when a previous holder's lease has expired,
// and its retry time has passed. Claiming is a CAS write, so two
// dispatchers never hold the same event.
func (queue *Queue) Lease(ctx context.Context, leaseTTL time.Duration, limit int) ([]Event, error) {
	keys, err := queue.Store.Keys(ctx, store.OutboxKeyPattern)
	if err != nil {
		return nil, err
	}

	now := queue.Now()
	leased := make([]Event, 0, limit)

	for _, key := range keys {
		if len(leased) >= limit {
			break
		}

		var event Event

		err := queue.Store.Get(ctx, key, &event)
		if errors.Is(err, store.ErrKeyNotFound) {
			continue
		}

		if err != nil {
			return leased, err
		}

		if !queue.due(event, now) {
			continue
		}

		claimed := event
		claimed.Status = StatusInFlight
		claimed.LeaseExpiresAt = now.Add(leaseTTL)
		claimed.Version = event.Version + 1

		err = queue.writeBack(ctx, key, event, claimed)
		if errors.Is(err, store.ErrVersionConflict) || errors.Is(err, store.ErrKeyNotFound) {
			// Another dispatcher got there first.
			continue
		}

		if err != nil {
			return leased, err
		}

		leased = append(leased, claimed)
	}

	return leased, nil
}

func (queue *Queue) due(event Event, now time.Time) bool {
	switch event.Status {
	case StatusPending:
		return !event.NextRetryAt.After(now)
	case StatusInFlight:
		return event.LeaseExpiresAt.Before(now) && !event.NextRetryAt.After(now)
	default:
		return false
	}
}

// MarkDelivered finalizes a successfully delivered event. The record is
// kept until its TTL runs out so a late duplicate enqueue stays a no-op.
func (queue *Queue) MarkDelivered(ctx context.Context, event Event) error {
	done := event
	done.Status = StatusDelivered
	done.LeaseExpiresAt = time.Time{}
	done.Version = event.Version + 1

	return queue.writeBack(ctx, store.OutboxKey(event.EventID), event, done)
}

// MarkFailed dead-letters the event; no further delivery will be attempted.
func (queue *Queue) MarkFailed(ctx context.Context, event Event, reason string) error {
	failed := event
	failed.Status = StatusFailedPermanent
	failed.LastError = reason
	failed.LeaseExpiresAt = time.Time{}
	failed.Version = event.Version + 1

	return queue.writeBack(ctx, store.OutboxKey(event.EventID), event, failed)
}

// Requeue releases a leased event for a later attempt.
func (queue *Queue) Requeue(ctx context.Context, event Event, nextRetryAt time.Time, lastError string) error {
	requeued := event
	requeued.Status = StatusPending
	requeued.AttemptCount = event.AttemptCount + 1
	requeued.NextRetryAt = nextRetryAt
	requeued.LastError = lastError
	requeued.LeaseExpiresAt = time.Time{}
	requeued.Version = event.Version + 1

	return queue.writeBack(ctx, store.OutboxKey(event.EventID), event, requeued)
}

// Depth counts events still awaiting a delivery outcome.
func (queue *Queue) Depth(ctx context.Context) (int, error) {
	keys, err := queue.Store.Keys(ctx, store.OutboxKeyPattern)
	if err != nil {
		return 0, err
	}

	depth := 0

	for _, key := range keys {
		var event Event

		err := queue.Store.Get(ctx, key, &event)
		if errors.Is(err, store.ErrKeyNotFound) {
			continue
		}

		if err != nil {
			return depth, err
		}

		if event.Status == StatusPending || event.Status == StatusInFlight {
			depth++
		}
	}

	return depth, nil
}

// writeBack persists a new revision of the event without extending its
// lifetime: the TTL written is whatever remains of the original window.
func (queue *Queue) writeBack(ctx context.Context, key string, prev, next Event) error {
	remaining := queue.TTL - queue.Now().Sub(prev.CreatedAt)
	if remaining <= 0 {
		// Contract window already over; let the stored copy lapse.
		return store.ErrKeyNotFound
	}

	return queue.Store.CompareAndPut(ctx, key, prev.Version, next, remaining)
}
