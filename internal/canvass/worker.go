package canvass

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/canvass-hq/canvass/internal/config"
	"github.com/canvass-hq/canvass/internal/logging"
	"github.com/canvass-hq/canvass/internal/profile"
	"github.com/canvass-hq/canvass/internal/session"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

const (
	callEventInitiated = "initiated"
	callEventRinging   = "ringing"
	callEventAnswered  = "answered"
	callEventCompleted = "completed"
	callEventFailed    = "failed"
)

type CallEventMessage struct {
	CallID     string            `json:"call_id"    validate:"required"`
	PhoneHash  string            `json:"phone_hash"`
	Phone      string            `json:"phone"`
	Event      string            `json:"event"      validate:"required"`
	TargetURL  string            `json:"target_url"`
	Metadata   map[string]string `json:"metadata"`
	OccurredAt string            `json:"occurred_at"`
}

type TranscriptMessage struct {
	CallID    string                   `json:"call_id" validate:"required"`
	Seq       int                      `json:"seq"     validate:"gte=1"`
	Speaker   string                   `json:"speaker" validate:"required"`
	Text      string                   `json:"text"`
	LatencyMS int                      `json:"latency_ms"`
	Fields    *profile.ExtractedFields `json:"fields"`
}

// CallEventHandler handles call lifecycle messages. The work runs on the
// worker pool but the handler waits for it, so the consumer marks the
// offset only after the session mutation and any outbox enqueue finished.
// Marking earlier would let a crash strand a completed session with no
// pending delivery and no redelivery path.
func (app *Canvass) CallEventHandler(ctx context.Context, msg *sarama.ConsumerMessage) {
	app.runOnPool(func() {
		app.processCallEvent(ctx, msg)
	})
}

// runOnPool executes task on the worker pool and blocks until it finishes.
// A rejected submission falls back to running inline; dropping the task
// would still commit the offset for work that never happened.
func (app *Canvass) runOnPool(task func()) {
	var done sync.WaitGroup

	done.Add(1)

	err := app.WorkerPool.Submit(func() {
		defer done.Done()

		task()
	})
	if err != nil {
		done.Done()
		logging.Logger.Warn("worker pool rejected job, running inline", zap.String("error", err.Error()))
		task()

		return
	}

	done.Wait()
}

func (app *Canvass) processCallEvent(ctx context.Context, msg *sarama.ConsumerMessage) {
	defer app.handlePanic("CallEvents")

	var message CallEventMessage

	err := json.Unmarshal(msg.Value, &message)
	if err == nil {
		err = app.Validator.Struct(&message)
	}

	if err != nil {
		logging.Logger.Error("discarding malformed call event message",
			zap.String("error", err.Error()),
			zap.ByteString("msg_value", msg.Value),
		)

		return
	}

	switch message.Event {
	case callEventInitiated:
		app.handleCallInitiated(ctx, message)
	case callEventRinging:
		app.transitionWithRetry(ctx, message.CallID, session.StatusRinging)
	case callEventAnswered:
		app.transitionWithRetry(ctx, message.CallID, session.StatusInProgress)
	case callEventCompleted:
		app.handleCallCompleted(ctx, message.CallID)
	case callEventFailed:
		app.transitionWithRetry(ctx, message.CallID, session.StatusFailed)
	default:
		logging.Logger.Warn("unknown call event",
			zap.String("call_id", message.CallID),
			zap.String("event", message.Event),
		)
	}
}

func (app *Canvass) handleCallInitiated(ctx context.Context, message CallEventMessage) {
	phoneHash := message.PhoneHash
	if phoneHash == "" {
		phoneHash = session.HashPhone(message.Phone)
	}

	_, err := app.SessionManager.Create(ctx, message.CallID, phoneHash, message.Metadata, message.TargetURL)
	if err != nil {
		var rateLimitError *session.RateLimitExceededError

		if errors.As(err, &rateLimitError) {
			logging.Logger.Warn("call rejected by rate limiter",
				zap.String("call_id", message.CallID),
				zap.String("phone_hash", phoneHash),
				zap.Duration("retry_after", rateLimitError.RetryAfter),
			)

			return
		}

		logging.Logger.Error("failed to create call session",
			zap.String("call_id", message.CallID),
			zap.String("error", err.Error()),
		)
	}
}

func (app *Canvass) handleCallCompleted(ctx context.Context, callID string) {
	for attempt := 0; attempt < config.Conf.TransitionRetryMax; attempt++ {
		_, err := app.SessionManager.Complete(ctx, callID, session.VersionAny)
		if errors.Is(err, session.ErrConcurrentModification) {
			continue
		}

		if err != nil {
			logging.Logger.Error("failed to complete call session",
				zap.String("call_id", callID),
				zap.String("error", err.Error()),
			)
		}

		return
	}

	logging.Logger.Error("gave up completing call session after repeated conflicts",
		zap.String("call_id", callID),
	)
}

func (app *Canvass) transitionWithRetry(ctx context.Context, callID string, next session.Status) {
	for attempt := 0; attempt < config.Conf.TransitionRetryMax; attempt++ {
		_, err := app.SessionManager.Transition(ctx, callID, next, session.VersionAny)
		if errors.Is(err, session.ErrConcurrentModification) {
			continue
		}

		if errors.Is(err, session.ErrInvalidTransition) {
			// Out-of-order or duplicate lifecycle event; the session has
			// already moved on.
			logging.Logger.Debug("skipping invalid transition",
				zap.String("call_id", callID),
				zap.String("to", string(next)),
				zap.String("error", err.Error()),
			)

			return
		}

		if err != nil {
			logging.Logger.Error("failed to transition call session",
				zap.String("call_id", callID),
				zap.String("to", string(next)),
				zap.String("error", err.Error()),
			)
		}

		return
	}

	logging.Logger.Error("gave up transitioning call session after repeated conflicts",
		zap.String("call_id", callID),
		zap.String("to", string(next)),
	)
}

// TranscriptHandler handles transcript chunk messages
func (app *Canvass) TranscriptHandler(ctx context.Context, msg *sarama.ConsumerMessage) {
	app.runOnPool(func() {
		app.processTranscript(ctx, msg)
	})
}

func (app *Canvass) processTranscript(ctx context.Context, msg *sarama.ConsumerMessage) {
	defer app.handlePanic("Transcript")

	var message TranscriptMessage

	err := json.Unmarshal(msg.Value, &message)
	if err == nil {
		err = app.Validator.Struct(&message)
	}

	if err != nil {
		logging.Logger.Error("discarding malformed transcript message",
			zap.String("error", err.Error()),
			zap.ByteString("msg_value", msg.Value),
		)

		return
	}

	turn := profile.TranscriptTurn{
		Seq:        message.Seq,
		Speaker:    message.Speaker,
		Text:       message.Text,
		LatencyMS:  message.LatencyMS,
		ReceivedAt: time.Now(),
		Fields:     message.Fields,
	}

	for attempt := 0; attempt < config.Conf.TransitionRetryMax; attempt++ {
		_, err := app.SessionManager.AppendTranscriptChunk(ctx, message.CallID, turn)

		switch {
		case errors.Is(err, session.ErrConcurrentModification):
			continue
		case errors.Is(err, session.ErrStaleChunk):
			logging.Logger.Debug("skipping stale transcript chunk",
				zap.String("call_id", message.CallID),
				zap.Int("seq", message.Seq),
			)

			return
		case errors.Is(err, session.ErrChunkGap):
			logging.Logger.Warn("transcript chunk arrived ahead of sequence",
				zap.String("call_id", message.CallID),
				zap.Int("seq", message.Seq),
			)

			return
		case err != nil:
			logging.Logger.Error("failed to append transcript chunk",
				zap.String("call_id", message.CallID),
				zap.Int("seq", message.Seq),
				zap.String("error", err.Error()),
			)

			return
		default:
			return
		}
	}

	logging.Logger.Error("gave up appending transcript chunk after repeated conflicts",
		zap.String("call_id", message.CallID),
		zap.Int("seq", message.Seq),
	)
}

func (app *Canvass) handlePanic(consumer string) {
	if r := recover(); r != nil {
		logging.Logger.Error("panic in message worker",
			zap.String("consumer", consumer),
			zap.Any("recover", r),
		)
	}
}
