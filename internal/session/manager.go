package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/canvass-hq/canvass/internal/logging"
	"github.com/canvass-hq/canvass/internal/outbox"
	"github.com/canvass-hq/canvass/internal/profile"
	canvassPrometheus "github.com/canvass-hq/canvass/internal/prometheus"
	"github.com/canvass-hq/canvass/internal/ratelimit"
	"github.com/canvass-hq/canvass/internal/store"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const casRetryAttempts = 5

// VersionAny skips the caller's version assertion on Transition and
// Complete; the write still does its own compare-and-put internally.
const VersionAny int64 = -1

// Persister stores final call artifacts durably.
type Persister interface {
	PersistProfile(ctx context.Context, callID string, data []byte) error
	PersistTranscript(ctx context.Context, callID string, data []byte) error
}

// Enqueuer hands the completed-profile event to the webhook outbox.
type Enqueuer interface {
	Enqueue(ctx context.Context, callID, eventType, targetURL string, payload json.RawMessage) (string, error)
}

type ManagerConfig struct {
	SessionTTL           time.Duration
	EnqueueRetryAttempts uint
	DefaultTargetURL     string

	Now func() time.Time
}

// Manager owns the call session lifecycle. All state lives in the shared
// store; every mutation is a compare-and-put against the version read, so
// concurrent writers from different nodes cannot clobber each other.
type Manager struct {
	Store    store.Store
	Limiter  *ratelimit.Limiter
	Analyzer *profile.Analyzer
	Storage  Persister
	Outbox   Enqueuer
	Config   ManagerConfig
}

func NewManager(
	stateStore store.Store,
	limiter *ratelimit.Limiter,
	analyzer *profile.Analyzer,
	storage Persister,
	outboxQueue Enqueuer,
	cfg ManagerConfig,
) *Manager {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Manager{
		Store:    stateStore,
		Limiter:  limiter,
		Analyzer: analyzer,
		Storage:  storage,
		Outbox:   outboxQueue,
		Config:   cfg,
	}
}

// Create opens a session for a call, charging one call against the phone
// hash's rate limit budget first. Creating the same call ID again returns
// the existing session without touching the budget twice; the limiter is
// only consulted for calls the store has never seen.
func (manager *Manager) Create(
	ctx context.Context,
	callID, phoneHash string,
	metadata map[string]string,
	targetURL string,
) (*CallSession, error) {
	key := store.SessionKey(callID)

	var existing CallSession

	err := manager.Store.Get(ctx, key, &existing)
	if err == nil {
		return &existing, nil
	}

	if !errors.Is(err, store.ErrKeyNotFound) {
		return nil, err
	}

	decision, err := manager.Limiter.Allow(ctx, phoneHash)
	if err != nil {
		return nil, err
	}

	if !decision.Allowed {
		return nil, &RateLimitExceededError{RetryAfter: decision.RetryAfter}
	}

	now := manager.Config.Now()
	callSession := CallSession{
		CallID:     callID,
		PhoneHash:  phoneHash,
		Status:     StatusInitiated,
		Metadata:   metadata,
		TargetURL:  targetURL,
		Transcript: make([]profile.TranscriptTurn, 0),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	stored, err := manager.Store.PutIfAbsent(ctx, key, callSession, manager.Config.SessionTTL)
	if err != nil {
		return nil, err
	}

	if !stored {
		// Raced with another creator for the same call; their session wins.
		err = manager.Store.Get(ctx, key, &existing)
		if err != nil {
			return nil, err
		}

		return &existing, nil
	}

	canvassPrometheus.CallsStarted.Inc()
	logging.Logger.Info("call session created",
		zap.String("call_id", callID),
		zap.String("phone_hash", phoneHash),
	)

	return &callSession, nil
}

func (manager *Manager) Get(ctx context.Context, callID string) (*CallSession, error) {
	var callSession CallSession

	err := manager.Store.Get(ctx, store.SessionKey(callID), &callSession)
	if errors.Is(err, store.ErrKeyNotFound) {
		return nil, ErrSessionNotFound
	}

	if err != nil {
		return nil, err
	}

	return &callSession, nil
}

// Transition moves the session to the next status if the state machine
// allows it. Repeating the current status is a no-op so redelivered call
// events stay harmless. Callers holding a previously read version can pass
// it as expectedVersion to fail fast on concurrent writes; VersionAny
// defers entirely to the write-time version check.
func (manager *Manager) Transition(
	ctx context.Context,
	callID string,
	next Status,
	expectedVersion int64,
) (*CallSession, error) {
	callSession, err := manager.Get(ctx, callID)
	if err != nil {
		return nil, err
	}

	if expectedVersion != VersionAny && callSession.Version != expectedVersion {
		return nil, ErrConcurrentModification
	}

	if callSession.Status == next {
		return callSession, nil
	}

	if !callSession.Status.CanTransitionTo(next) {
		return nil, invalidTransition(callSession.Status, next)
	}

	updated := *callSession
	updated.Status = next
	updated.UpdatedAt = manager.Config.Now()
	updated.Version = callSession.Version + 1

	err = manager.writeBack(ctx, callSession, &updated)
	if err != nil {
		return nil, err
	}

	if next == StatusFailed {
		canvassPrometheus.CallsCompleted.WithLabelValues(strings.ToLower(string(next))).Inc()
	}

	logging.Logger.Info("call session transitioned",
		zap.String("call_id", callID),
		zap.String("from", string(callSession.Status)),
		zap.String("to", string(next)),
	)

	return &updated, nil
}

// AppendTranscriptChunk applies one transcript turn and refreshes the
// running analysis. Chunks must arrive in order: a repeat of the last
// sequence is a no-op, anything older is stale, anything beyond the next
// sequence is a gap for the caller to retry later.
func (manager *Manager) AppendTranscriptChunk(
	ctx context.Context,
	callID string,
	turn profile.TranscriptTurn,
) (*CallSession, error) {
	callSession, err := manager.Get(ctx, callID)
	if err != nil {
		return nil, err
	}

	switch {
	case turn.Seq == callSession.LastSeq:
		return callSession, nil
	case turn.Seq < callSession.LastSeq:
		return nil, ErrStaleChunk
	case turn.Seq > callSession.LastSeq+1:
		return nil, ErrChunkGap
	}

	updated := *callSession
	updated.Transcript = append(append([]profile.TranscriptTurn{}, callSession.Transcript...), turn)
	updated.LastSeq = turn.Seq
	updated.UpdatedAt = manager.Config.Now()
	updated.Version = callSession.Version + 1

	// Late chunks after a terminal status are kept for audit but no longer
	// move the analysis.
	if !callSession.Status.Terminal() {
		workerProfile := manager.Analyzer.Analyze(
			callSession.PhoneHash, updated.Transcript, callSession.PartialProfile,
		)
		updated.PartialProfile = workerProfile
		updated.AdversarialScore = workerProfile.AdversarialScore
		updated.ConfidenceScore = workerProfile.ConfidenceScore
	}

	err = manager.writeBack(ctx, callSession, &updated)
	if err != nil {
		return nil, err
	}

	return &updated, nil
}

// Complete finalizes the call: the profile is rebuilt from the full
// transcript, persisted alongside the transcript, and exactly one webhook
// event is enqueued. Completing an already completed call re-runs the
// persist and enqueue steps, both of which are idempotent.
func (manager *Manager) Complete(
	ctx context.Context,
	callID string,
	expectedVersion int64,
) (*CallSession, error) {
	callSession, err := manager.Get(ctx, callID)
	if err != nil {
		return nil, err
	}

	if expectedVersion != VersionAny && callSession.Version != expectedVersion {
		return nil, ErrConcurrentModification
	}

	if callSession.Status != StatusCompleted {
		if !callSession.Status.CanTransitionTo(StatusCompleted) {
			return nil, invalidTransition(callSession.Status, StatusCompleted)
		}

		workerProfile := manager.Analyzer.Analyze(
			callSession.PhoneHash, callSession.Transcript, callSession.PartialProfile,
		)

		updated := *callSession
		updated.Status = StatusCompleted
		updated.PartialProfile = workerProfile
		updated.AdversarialScore = workerProfile.AdversarialScore
		updated.ConfidenceScore = workerProfile.ConfidenceScore
		updated.UpdatedAt = manager.Config.Now()
		updated.Version = callSession.Version + 1

		err = manager.writeBack(ctx, callSession, &updated)
		if err != nil {
			return nil, err
		}

		canvassPrometheus.CallsCompleted.WithLabelValues("completed").Inc()

		callSession = &updated
	}

	err = manager.persistArtifacts(ctx, callSession)
	if err != nil {
		return nil, err
	}

	err = manager.enqueueWebhook(ctx, callSession)
	if err != nil {
		return nil, err
	}

	logging.Logger.Info("call session completed",
		zap.String("call_id", callID),
		zap.Float64("confidence_score", callSession.ConfidenceScore),
		zap.Float64("adversarial_score", callSession.AdversarialScore),
	)

	return callSession, nil
}

// RecordDelivery stamps the webhook outcome on the session. A session that
// already expired is not an error; the outcome simply has nowhere to live.
func (manager *Manager) RecordDelivery(ctx context.Context, callID string, status string) error {
	for attempt := 0; attempt < casRetryAttempts; attempt++ {
		callSession, err := manager.Get(ctx, callID)
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}

		if err != nil {
			return err
		}

		updated := *callSession
		updated.WebhookStatus = status
		updated.UpdatedAt = manager.Config.Now()
		updated.Version = callSession.Version + 1

		err = manager.writeBack(ctx, callSession, &updated)
		if errors.Is(err, ErrConcurrentModification) {
			continue
		}

		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}

		return err
	}

	return ErrConcurrentModification
}

func (manager *Manager) persistArtifacts(ctx context.Context, callSession *CallSession) error {
	profileData, err := json.Marshal(callSession.PartialProfile)
	if err != nil {
		return err
	}

	transcriptData, err := json.Marshal(callSession.Transcript)
	if err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return manager.Storage.PersistProfile(groupCtx, callSession.CallID, profileData)
	})
	group.Go(func() error {
		return manager.Storage.PersistTranscript(groupCtx, callSession.CallID, transcriptData)
	})

	return group.Wait()
}

func (manager *Manager) enqueueWebhook(ctx context.Context, callSession *CallSession) error {
	payload, err := json.Marshal(buildWebhookPayload(callSession, manager.Config.Now()))
	if err != nil {
		return err
	}

	targetURL := callSession.TargetURL
	if targetURL == "" {
		targetURL = manager.Config.DefaultTargetURL
	}

	return retry.Do(
		func() error {
			_, err := manager.Outbox.Enqueue(
				ctx, callSession.CallID, outbox.EventTypeProfileCompleted, targetURL, payload,
			)

			return err
		},
		retry.Attempts(manager.Config.EnqueueRetryAttempts),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
}

type webhookProfile struct {
	PhoneHash        string                    `json:"phone_hash"`
	Name             string                    `json:"name,omitempty"`
	CurrentJob       *profile.CurrentJob       `json:"current_job,omitempty"`
	History          []profile.EmploymentEntry `json:"employment_history"`
	Gaps             []profile.EmploymentGap   `json:"employment_gaps"`
	Skills           []string                  `json:"skills,omitempty"`
	AdversarialScore float64                   `json:"adversarial_score"`
	ConfidenceScore  float64                   `json:"confidence_score"`
	ConsentGiven     bool                      `json:"consent_given"`
}

type webhookPayload struct {
	EventType string         `json:"event_type"`
	EventID   string         `json:"event_id"`
	Timestamp time.Time      `json:"timestamp"`
	CallID    string         `json:"call_id"`
	Profile   webhookProfile `json:"profile"`
}

// buildWebhookPayload shapes the outbound envelope. The event ID rides in
// the body, not just the headers, so receivers can dedup redeliveries.
// Without consent the profile carries only non-identifying fields: no name,
// no skills, no current job.
func buildWebhookPayload(callSession *CallSession, now time.Time) webhookPayload {
	workerProfile := callSession.PartialProfile
	if workerProfile == nil {
		workerProfile = &profile.WorkerProfile{PhoneHash: callSession.PhoneHash}
	}

	payload := webhookPayload{
		EventType: outbox.EventTypeProfileCompleted,
		EventID:   outbox.EventID(callSession.CallID, outbox.EventTypeProfileCompleted),
		Timestamp: now,
		CallID:    callSession.CallID,
		Profile: webhookProfile{
			PhoneHash:        callSession.PhoneHash,
			History:          workerProfile.EmploymentHistory,
			Gaps:             workerProfile.EmploymentGaps,
			AdversarialScore: workerProfile.AdversarialScore,
			ConfidenceScore:  workerProfile.ConfidenceScore,
			ConsentGiven:     workerProfile.ConsentGiven,
		},
	}

	if workerProfile.ConsentGiven {
		payload.Profile.Name = workerProfile.Name
		payload.Profile.Skills = workerProfile.Skills
		payload.Profile.CurrentJob = workerProfile.CurrentJob
	}

	return payload
}

// writeBack persists the new revision without extending the session's
// lifetime past its original TTL window.
func (manager *Manager) writeBack(ctx context.Context, prev, next *CallSession) error {
	remaining := manager.Config.SessionTTL - manager.Config.Now().Sub(prev.CreatedAt)
	if remaining <= 0 {
		return ErrSessionNotFound
	}

	err := manager.Store.CompareAndPut(
		ctx, store.SessionKey(prev.CallID), prev.Version, next, remaining,
	)
	if errors.Is(err, store.ErrVersionConflict) {
		return ErrConcurrentModification
	}

	if errors.Is(err, store.ErrKeyNotFound) {
		return ErrSessionNotFound
	}

	return err
}
