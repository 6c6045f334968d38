package outbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/canvass-hq/canvass/internal/logging"
	canvassPrometheus "github.com/canvass-hq/canvass/internal/prometheus"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	deadLetterReasonExhausted = "exhausted"
	deadLetterReasonRejected  = "rejected"

	userAgent = "canvass-webhook/1.0"
)

// DeliveryRecorder is notified of the terminal delivery outcome so the
// owning call session can record it.
type DeliveryRecorder interface {
	RecordDelivery(ctx context.Context, callID string, status string) error
}

// DeadLetterPublisher receives events that will never be delivered.
type DeadLetterPublisher interface {
	PublishDeadLetter(ctx context.Context, event Event, reason string) error
}

type DispatcherConfig struct {
	Interval   time.Duration
	LeaseTTL   time.Duration
	BatchSize  int
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Dispatcher drains the queue on an interval and delivers each leased
// event over HTTP on the worker pool.
type Dispatcher struct {
	Queue       *Queue
	Pool        *ants.Pool
	HTTPClient  *http.Client
	Recorder    DeliveryRecorder
	DeadLetters DeadLetterPublisher
	Config      DispatcherConfig
}

func NewDispatcher(
	queue *Queue,
	pool *ants.Pool,
	httpClient *http.Client,
	recorder DeliveryRecorder,
	deadLetters DeadLetterPublisher,
	cfg DispatcherConfig,
) *Dispatcher {
	return &Dispatcher{
		Queue:       queue,
		Pool:        pool,
		HTTPClient:  httpClient,
		Recorder:    recorder,
		DeadLetters: deadLetters,
		Config:      cfg,
	}
}

func (dispatcher *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(dispatcher.Config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dispatcher.drain(ctx)
		}
	}
}

func (dispatcher *Dispatcher) drain(ctx context.Context) {
	events, err := dispatcher.Queue.Lease(ctx, dispatcher.Config.LeaseTTL, dispatcher.Config.BatchSize)
	if err != nil {
		logging.Logger.Error("failed to lease outbox events",
			zap.String("error", err.Error()),
		)

		return
	}

	for _, event := range events {
		err := dispatcher.Pool.Submit(func() {
			dispatcher.deliver(ctx, event)
		})
		if err != nil {
			logging.Logger.Error("failed to submit delivery to worker pool",
				zap.String("event_id", event.EventID),
				zap.String("error", err.Error()),
			)
		}
	}
}

func (dispatcher *Dispatcher) deliver(ctx context.Context, event Event) {
	canvassPrometheus.DeliveryAttempts.Inc()
	timer := prometheus.NewTimer(canvassPrometheus.DeliveryDuration)

	statusCode, err := dispatcher.post(ctx, event)

	timer.ObserveDuration()

	if err == nil && statusCode >= 200 && statusCode < 300 {
		dispatcher.succeed(ctx, event)
		return
	}

	reason := fmt.Sprintf("status %d", statusCode)
	if err != nil {
		reason = err.Error()
	}

	if err != nil || retryableStatus(statusCode) {
		dispatcher.retryOrExhaust(ctx, event, reason)
		return
	}

	// Remaining 4xx responses mean the receiver rejected the event outright.
	dispatcher.deadLetter(ctx, event, reason, deadLetterReasonRejected)
}

func (dispatcher *Dispatcher) post(ctx context.Context, event Event) (int, error) {
	request, err := http.NewRequestWithContext(
		ctx, http.MethodPost, event.TargetURL, bytes.NewReader(event.Payload),
	)
	if err != nil {
		return 0, err
	}

	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("User-Agent", userAgent)
	request.Header.Set("X-Event-ID", event.EventID)
	request.Header.Set("X-Event-Type", event.EventType)

	response, err := dispatcher.HTTPClient.Do(request)
	if err != nil {
		return 0, err
	}

	defer response.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, 4096))

	return response.StatusCode, nil
}

func (dispatcher *Dispatcher) succeed(ctx context.Context, event Event) {
	err := dispatcher.Queue.MarkDelivered(ctx, event)
	if err != nil {
		logging.Logger.Error("failed to mark event delivered",
			zap.String("event_id", event.EventID),
			zap.String("error", err.Error()),
		)

		return
	}

	canvassPrometheus.DeliverySuccesses.Inc()
	logging.Logger.Info("webhook delivered",
		zap.String("event_id", event.EventID),
		zap.String("call_id", event.CallID),
		zap.Int("attempts", event.AttemptCount+1),
	)

	dispatcher.record(ctx, event.CallID, "delivered")
}

func (dispatcher *Dispatcher) retryOrExhaust(ctx context.Context, event Event, reason string) {
	if event.AttemptCount+1 >= dispatcher.Config.MaxRetries {
		dispatcher.deadLetter(ctx, event, reason, deadLetterReasonExhausted)
		return
	}

	// Requeue stores the incremented attempt count; the backoff is indexed
	// by that same post-increment value.
	delay := NextRetryDelay(event.AttemptCount+1, dispatcher.Config.BaseDelay, dispatcher.Config.MaxDelay)

	err := dispatcher.Queue.Requeue(ctx, event, dispatcher.Queue.Now().Add(delay), reason)
	if err != nil {
		logging.Logger.Error("failed to requeue event",
			zap.String("event_id", event.EventID),
			zap.String("error", err.Error()),
		)

		return
	}

	logging.Logger.Warn("webhook delivery failed, will retry",
		zap.String("event_id", event.EventID),
		zap.String("reason", reason),
		zap.Int("attempt", event.AttemptCount+1),
		zap.Duration("next_retry_in", delay),
	)
}

func (dispatcher *Dispatcher) deadLetter(ctx context.Context, event Event, reason, kind string) {
	err := dispatcher.Queue.MarkFailed(ctx, event, reason)
	if err != nil {
		logging.Logger.Error("failed to mark event as dead letter",
			zap.String("event_id", event.EventID),
			zap.String("error", err.Error()),
		)

		return
	}

	canvassPrometheus.DeadLetters.WithLabelValues(kind).Inc()
	logging.Logger.Error("webhook dead-lettered",
		zap.String("event_id", event.EventID),
		zap.String("call_id", event.CallID),
		zap.String("reason", reason),
		zap.String("kind", kind),
	)

	if dispatcher.DeadLetters != nil {
		err = dispatcher.DeadLetters.PublishDeadLetter(ctx, event, reason)
		if err != nil {
			logging.Logger.Error("failed to publish dead letter event",
				zap.String("event_id", event.EventID),
				zap.String("error", err.Error()),
			)
		}
	}

	dispatcher.record(ctx, event.CallID, "failed")
}

func (dispatcher *Dispatcher) record(ctx context.Context, callID, status string) {
	if dispatcher.Recorder == nil {
		return
	}

	err := dispatcher.Recorder.RecordDelivery(ctx, callID, status)
	if err != nil {
		logging.Logger.Warn("failed to record delivery outcome on session",
			zap.String("call_id", callID),
			zap.String("error", err.Error()),
		)
	}
}

func retryableStatus(statusCode int) bool {
	return statusCode >= 500 ||
		statusCode == http.StatusRequestTimeout ||
		statusCode == http.StatusTooManyRequests
}

// NextRetryDelay returns the wait for an event whose attempt count was just
// incremented to attempt: base shifted by the attempt number, plus up to one
// base delay of jitter, capped at max.
func NextRetryDelay(attempt int, base, max time.Duration) time.Duration {
	delay := base << attempt
	if delay > max || delay <= 0 {
		return max
	}

	delay += time.Duration(rand.Int64N(int64(base)))
	if delay > max {
		return max
	}

	return delay
}
