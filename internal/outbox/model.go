package outbox

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

type Status string

const (
	StatusPending         Status = "pending"
	StatusInFlight        Status = "in_flight"
	StatusDelivered       Status = "delivered"
	StatusFailedPermanent Status = "failed_permanent"
)

const EventTypeProfileCompleted = "worker_profile_completed"

// eventIDNamespace is fixed so the same (call, event type) pair always maps
// to the same event ID, which is what makes enqueue idempotent.
var eventIDNamespace = uuid.MustParse("9ee2a4a6-76b3-44a4-a1c6-d74f0a0f6a6e")

func EventID(callID, eventType string) string {
	return uuid.NewSHA1(eventIDNamespace, []byte(callID+"\x00"+eventType)).String()
}

type Event struct {
	EventID        string          `json:"event_id"`
	CallID         string          `json:"call_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	TargetURL      string          `json:"target_url"`
	AttemptCount   int             `json:"attempt_count"`
	NextRetryAt    time.Time       `json:"next_retry_at"`
	LeaseExpiresAt time.Time       `json:"lease_expires_at"`
	Status         Status          `json:"status"`
	LastError      string          `json:"last_error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	Version        int64           `json:"version"`
}
