package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/canvass-hq/canvass/internal/logging"
	canvassPrometheus "github.com/canvass-hq/canvass/internal/prometheus"
	"github.com/canvass-hq/canvass/internal/store"
	"go.uber.org/zap"
)

const casRetryAttempts = 5

var ErrTooManyConflicts = errors.New("ratelimit: too many concurrent updates")

// Record is the per-phone counter document. The window is anchored at the
// first allowed call; the key TTL matches the window so idle records vanish
// on their own.
type Record struct {
	Count       int       `json:"count"`
	WindowStart time.Time `json:"window_start"`
	Version     int64     `json:"version"`
}

type Decision struct {
	Allowed    bool
	Count      int
	RetryAfter time.Duration
}

type Limiter struct {
	Store    store.Store
	Window   time.Duration
	MaxCalls int

	Now func() time.Time
}

func New(stateStore store.Store, window time.Duration, maxCalls int) *Limiter {
	return &Limiter{
		Store:    stateStore,
		Window:   window,
		MaxCalls: maxCalls,
		Now:      time.Now,
	}
}

// Allow records one call attempt for phoneHash and reports whether it is
// within the window budget. Denied attempts do not mutate the record, so a
// burst of rejected calls cannot extend the window.
func (limiter *Limiter) Allow(ctx context.Context, phoneHash string) (Decision, error) {
	key := store.RateLimitKey(phoneHash)

	for attempt := 0; attempt < casRetryAttempts; attempt++ {
		var record Record

		err := limiter.Store.Get(ctx, key, &record)
		if errors.Is(err, store.ErrKeyNotFound) {
			stored, err := limiter.Store.PutIfAbsent(ctx, key, Record{
				Count:       1,
				WindowStart: limiter.Now(),
			}, limiter.Window)
			if err != nil {
				return Decision{}, err
			}

			if !stored {
				// Lost the race to another caller; re-read and count normally.
				continue
			}

			return Decision{Allowed: true, Count: 1}, nil
		}

		if err != nil {
			return Decision{}, err
		}

		now := limiter.Now()
		windowEnd := record.WindowStart.Add(limiter.Window)

		if !now.Before(windowEnd) {
			err = limiter.Store.CompareAndPut(ctx, key, record.Version, Record{
				Count:       1,
				WindowStart: now,
				Version:     record.Version + 1,
			}, limiter.Window)
			if err != nil {
				if isConflict(err) {
					continue
				}

				return Decision{}, err
			}

			return Decision{Allowed: true, Count: 1}, nil
		}

		if record.Count >= limiter.MaxCalls {
			canvassPrometheus.RateLimitDenials.Inc()
			logging.Logger.Info("rate limit exceeded",
				zap.String("phone_hash", phoneHash),
				zap.Int("count", record.Count),
			)

			return Decision{
				Allowed:    false,
				Count:      record.Count,
				RetryAfter: windowEnd.Sub(now),
			}, nil
		}

		err = limiter.Store.CompareAndPut(ctx, key, record.Version, Record{
			Count:       record.Count + 1,
			WindowStart: record.WindowStart,
			Version:     record.Version + 1,
		}, windowEnd.Sub(now))
		if err != nil {
			if isConflict(err) {
				continue
			}

			return Decision{}, err
		}

		return Decision{Allowed: true, Count: record.Count + 1}, nil
	}

	return Decision{}, ErrTooManyConflicts
}

func isConflict(err error) bool {
	return errors.Is(err, store.ErrVersionConflict) || errors.Is(err, store.ErrKeyNotFound)
}
