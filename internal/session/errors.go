package session

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrSessionNotFound        = errors.New("session: not found")
	ErrConcurrentModification = errors.New("session: concurrent modification")
	ErrInvalidTransition      = errors.New("session: invalid status transition")

	// ErrStaleChunk reports a transcript chunk older than one already
	// applied; ErrChunkGap reports a chunk arriving ahead of its turn.
	ErrStaleChunk = errors.New("session: stale transcript chunk")
	ErrChunkGap   = errors.New("session: transcript chunk sequence gap")
)

// RateLimitExceededError is returned by Create when the phone hash has used
// up its call budget for the current window.
type RateLimitExceededError struct {
	RetryAfter time.Duration
}

func (rateLimitError *RateLimitExceededError) Error() string {
	return fmt.Sprintf("session: rate limit exceeded, retry after %s", rateLimitError.RetryAfter)
}

func invalidTransition(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
