package session

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/canvass-hq/canvass/internal/profile"
)

type Status string

const (
	StatusInitiated  Status = "INITIATED"
	StatusRinging    Status = "RINGING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Abandonment is not a stored transition: a session that never reaches a
// terminal state simply expires with its key.
var transitions = map[Status][]Status{
	StatusInitiated:  {StatusRinging, StatusInProgress, StatusFailed},
	StatusRinging:    {StatusInProgress, StatusFailed},
	StatusInProgress: {StatusCompleted, StatusFailed},
}

func (status Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[status] {
		if allowed == next {
			return true
		}
	}

	return false
}

func (status Status) Terminal() bool {
	return status == StatusCompleted || status == StatusFailed
}

const (
	WebhookStatusNone      = ""
	WebhookStatusDelivered = "delivered"
	WebhookStatusFailed    = "failed"
)

type CallSession struct {
	CallID           string                   `json:"call_id"`
	PhoneHash        string                   `json:"phone_hash"`
	Status           Status                   `json:"status"`
	Metadata         map[string]string        `json:"metadata,omitempty"`
	TargetURL        string                   `json:"target_url,omitempty"`
	Transcript       []profile.TranscriptTurn `json:"transcript"`
	LastSeq          int                      `json:"last_seq"`
	PartialProfile   *profile.WorkerProfile   `json:"partial_profile,omitempty"`
	AdversarialScore float64                  `json:"adversarial_score"`
	ConfidenceScore  float64                  `json:"confidence_score"`
	WebhookStatus    string                   `json:"webhook_status,omitempty"`
	CreatedAt        time.Time                `json:"created_at"`
	UpdatedAt        time.Time                `json:"updated_at"`
	Version          int64                    `json:"version"`
}

// HashPhone derives the stable pseudonymous identifier used everywhere a
// phone number would otherwise appear. Raw numbers are never stored.
func HashPhone(phoneNumber string) string {
	sum := sha256.Sum256([]byte(phoneNumber))

	return hex.EncodeToString(sum[:])[:16]
}
