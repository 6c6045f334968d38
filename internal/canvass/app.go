package canvass

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/canvass-hq/canvass/internal/circuitbreak"
	"github.com/canvass-hq/canvass/internal/config"
	"github.com/canvass-hq/canvass/internal/healthchecker"
	"github.com/canvass-hq/canvass/internal/kafka"
	"github.com/canvass-hq/canvass/internal/logging"
	"github.com/canvass-hq/canvass/internal/outbox"
	"github.com/canvass-hq/canvass/internal/profile"
	canvassPrometheus "github.com/canvass-hq/canvass/internal/prometheus"
	"github.com/canvass-hq/canvass/internal/ratelimit"
	"github.com/canvass-hq/canvass/internal/session"
	"github.com/canvass-hq/canvass/internal/storage"
	"github.com/canvass-hq/canvass/internal/store"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ErrUnknownStoreBackend = errors.New("unknown store backend")

type Canvass struct {
	StateStore           store.Store
	StorageClient        *storage.Client
	CallEventsConsumer   *kafka.CallEventsConsumer
	TranscriptConsumer   *kafka.TranscriptConsumer
	KafkaProducer        *kafka.Producer
	WorkerPool           *ants.Pool
	DispatcherPool       *ants.Pool
	SessionManager       *session.Manager
	OutboxQueue          *outbox.Queue
	Dispatcher           *outbox.Dispatcher
	HealthCheckerService *healthchecker.Healthchecker
	Validator            *validator.Validate
}

func NewApp(ctxCancelFun context.CancelFunc) (*Canvass, error) {
	logging.Logger.Info("[NewApp] Initializing Canvass application...")

	healthcheckerService := healthchecker.NewService(ctxCancelFun)

	logging.Logger.Info("[NewApp] Health checker service created")

	stateStore, err := newStateStore()
	if err != nil {
		logging.Logger.Error("[NewApp] Failed to initialize state store", zap.Error(err))
		return nil, err
	}

	logging.Logger.Info("[NewApp] State store connected",
		zap.String("backend", config.Conf.StoreBackend),
	)

	storageClient, err := storage.NewClient()
	if err != nil {
		logging.Logger.Error("[NewApp] Failed to initialize object storage client", zap.Error(err))
		return nil, err
	}

	logging.Logger.Info("[NewApp] Object storage client created")

	callEventsConsumer, transcriptConsumer, err := initializeKafkaConsumers()
	if err != nil {
		return nil, err
	}

	kafkaProducer, workerPool, dispatcherPool, err := initializeKafkaProducerAndPools()
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.New(
		stateStore,
		time.Duration(config.Conf.RateLimitWindowHours)*time.Hour,
		config.Conf.RateLimitMaxCalls,
	)

	analyzer, err := newAnalyzer()
	if err != nil {
		logging.Logger.Error("[NewApp] Failed to build profile analyzer", zap.Error(err))
		return nil, err
	}

	outboxQueue := outbox.NewQueue(
		stateStore,
		time.Duration(config.Conf.OutboxTTLHours)*time.Hour,
	)

	sessionManager := session.NewManager(
		stateStore, limiter, analyzer, storageClient, outboxQueue,
		session.ManagerConfig{
			SessionTTL:           time.Duration(config.Conf.SessionTTLHours) * time.Hour,
			EnqueueRetryAttempts: config.Conf.EnqueueRetryMaxAttempts,
			DefaultTargetURL:     config.Conf.WebhookTargetURL,
		},
	)

	logging.Logger.Info("[NewApp] Session manager created")

	dispatcher := outbox.NewDispatcher(
		outboxQueue,
		dispatcherPool,
		&http.Client{Timeout: time.Duration(config.Conf.WebhookTimeout) * time.Second},
		sessionManager,
		&deadLetterPublisher{Producer: kafkaProducer},
		outbox.DispatcherConfig{
			Interval:   time.Duration(config.Conf.DispatcherInterval) * time.Second,
			LeaseTTL:   time.Duration(config.Conf.WebhookLeaseTimeout) * time.Second,
			BatchSize:  config.Conf.DispatcherBatchSize,
			MaxRetries: config.Conf.WebhookMaxRetries,
			BaseDelay:  time.Duration(config.Conf.WebhookBaseDelay) * time.Second,
			MaxDelay:   time.Duration(config.Conf.WebhookMaxDelay) * time.Second,
		},
	)

	logging.Logger.Info("[NewApp] Webhook dispatcher created")

	logging.Logger.Info("[NewApp] Initializing circuit breakers...")
	circuitbreak.Init()
	logging.Logger.Info("[NewApp] Circuit breakers initialized")

	return &Canvass{
		StateStore:           stateStore,
		StorageClient:        storageClient,
		CallEventsConsumer:   callEventsConsumer,
		TranscriptConsumer:   transcriptConsumer,
		KafkaProducer:        kafkaProducer,
		WorkerPool:           workerPool,
		DispatcherPool:       dispatcherPool,
		SessionManager:       sessionManager,
		OutboxQueue:          outboxQueue,
		Dispatcher:           dispatcher,
		HealthCheckerService: healthcheckerService,
		Validator:            validator.New(),
	}, nil
}

func newStateStore() (store.Store, error) {
	switch config.Conf.StoreBackend {
	case "memory":
		return store.NewMemory(), nil
	case "redis":
		ctx, cancel := context.WithTimeout(
			context.Background(), time.Duration(config.Conf.RedisTimeout)*time.Second,
		)
		defer cancel()

		return store.NewRedis(ctx, store.RedisOptions{
			Addr:               config.Conf.RedisAddr,
			Password:           config.Conf.RedisPassword,
			DB:                 config.Conf.RedisDB,
			Timeout:            time.Duration(config.Conf.RedisTimeout) * time.Second,
			RetryAttempts:      config.Conf.RedisRetryMaxAttempts,
			RetryBackoffMin:    time.Duration(config.Conf.RedisRetryBackoffMin) * time.Second,
			RetryBackoffMax:    time.Duration(config.Conf.RedisRetryBackoffMax) * time.Second,
			BreakerInterval:    time.Duration(config.Conf.RedisIntervalCB) * time.Second,
			BreakerMaxFailures: config.Conf.RedisConsecutiveFailsCB,
		})
	default:
		return nil, ErrUnknownStoreBackend
	}
}

func newAnalyzer() (*profile.Analyzer, error) {
	cfg := profile.DefaultConfig()
	cfg.GapThresholdMonths = config.Conf.GapThresholdMonths
	cfg.LookbackYears = config.Conf.GapLookbackYears
	cfg.Adversarial = profile.AdversarialConfig{
		ShortWordMax:        config.Conf.AdversarialShortWordMax,
		ShortRatioWeight:    config.Conf.AdversarialShortRatioWeight,
		RefusalWeight:       config.Conf.AdversarialRefusalWeight,
		HostileWeight:       config.Conf.AdversarialHostileWeight,
		ContradictionWeight: config.Conf.AdversarialContradictionWeight,
		LatencyWeight:       config.Conf.AdversarialLatencyWeight,
		LatencyThresholdMS:  config.Conf.AdversarialLatencyThresholdMS,
	}
	cfg.Confidence.NameWeight = config.Conf.ConfidenceNameWeight
	cfg.Confidence.EmployerWeight = config.Conf.ConfidenceEmployerWeight
	cfg.Confidence.SkillWeight = config.Conf.ConfidenceSkillWeight
	cfg.Confidence.ConsentWeight = config.Conf.ConfidenceConsentWeight

	if config.Conf.GapIndustryMapJSON != "" {
		industries, err := parseIndustryMap(config.Conf.GapIndustryMapJSON)
		if err != nil {
			return nil, err
		}

		cfg.IndustriesByDecade = industries
	}

	return profile.NewAnalyzer(cfg), nil
}

// parseIndustryMap turns a {"1980": ["manufacturing"], ...} document into
// the decade-keyed map the analyzer wants.
func parseIndustryMap(raw string) (map[int][]string, error) {
	byDecadeString := make(map[string][]string)

	err := json.Unmarshal([]byte(raw), &byDecadeString)
	if err != nil {
		return nil, err
	}

	byDecade := make(map[int][]string, len(byDecadeString))

	for decadeString, industries := range byDecadeString {
		decade, err := strconv.Atoi(decadeString)
		if err != nil {
			return nil, err
		}

		byDecade[decade] = industries
	}

	return byDecade, nil
}

func initializeKafkaConsumers() (*kafka.CallEventsConsumer, *kafka.TranscriptConsumer, error) {
	logging.Logger.Info("[NewApp] Creating call events Kafka consumer...")

	callEventsConsumer, err := kafka.NewCallEventsConsumer()
	if err != nil {
		logging.Logger.Error("[NewApp] Failed to create call events Kafka consumer", zap.Error(err))
		return nil, nil, err
	}

	logging.Logger.Info("[NewApp] Call events Kafka consumer created")

	logging.Logger.Info("[NewApp] Creating transcript Kafka consumer...")

	transcriptConsumer, err := kafka.NewTranscriptConsumer()
	if err != nil {
		logging.Logger.Error("[NewApp] Failed to create transcript Kafka consumer", zap.Error(err))
		return nil, nil, err
	}

	logging.Logger.Info("[NewApp] Transcript Kafka consumer created")

	return callEventsConsumer, transcriptConsumer, nil
}

func initializeKafkaProducerAndPools() (*kafka.Producer, *ants.Pool, *ants.Pool, error) {
	logging.Logger.Info("[NewApp] Creating Kafka producer...")

	kafkaProducer, err := kafka.NewProducer()
	if err != nil {
		logging.Logger.Error("[NewApp] Failed to create Kafka producer", zap.Error(err))
		return nil, nil, nil, err
	}

	logging.Logger.Info("[NewApp] Kafka producer created")

	logging.Logger.Info("[NewApp] Creating worker pools",
		zap.Int("pool_size", config.Conf.PoolSize),
		zap.Int("dispatcher_pool_size", config.Conf.DispatcherPoolSize),
	)

	workerPool, err := ants.NewPool(config.Conf.PoolSize, ants.WithPreAlloc(true))
	if err != nil {
		logging.Logger.Error("[NewApp] Failed to create worker pool", zap.Error(err))
		return nil, nil, nil, err
	}

	dispatcherPool, err := ants.NewPool(config.Conf.DispatcherPoolSize, ants.WithPreAlloc(true))
	if err != nil {
		logging.Logger.Error("[NewApp] Failed to create dispatcher pool", zap.Error(err))
		return nil, nil, nil, err
	}

	logging.Logger.Info("[NewApp] Worker pools created successfully")

	return kafkaProducer, workerPool, dispatcherPool, nil
}

func (app *Canvass) Run(ctx context.Context) error {
	logging.Logger.Info("[Run] Starting app goroutines...")

	logging.Logger.Info("[Run] Starting health checker monitor goroutine")

	go app.HealthCheckerService.Monitor()

	logging.Logger.Info("[Run] Starting webhook dispatcher goroutine")

	go app.Dispatcher.Run(ctx)

	logging.Logger.Info("[Run] Starting stats sampler goroutine")

	go app.runStatsSampler(ctx)

	err := app.runKafkaConsumers(ctx)
	if err != nil {
		return err
	}

	app.shutdown()

	return nil
}

func (app *Canvass) runKafkaConsumers(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logging.Logger.Info("[Run] Starting call events Kafka consumer (BLOCKING)",
			zap.String("topic", config.Conf.KafkaCallEventsTopic),
			zap.Int("worker_pool_size", config.Conf.PoolSize),
		)

		return app.CallEventsConsumer.Consume(
			groupCtx, config.Conf.KafkaCallEventsTopic, app.CallEventHandler,
		)
	})

	group.Go(func() error {
		logging.Logger.Info("[Run] Starting transcript Kafka consumer (BLOCKING)",
			zap.String("topic", config.Conf.KafkaTranscriptTopic),
		)

		return app.TranscriptConsumer.Consume(
			groupCtx, config.Conf.KafkaTranscriptTopic, app.TranscriptHandler,
		)
	})

	err := group.Wait()
	if err != nil {
		logging.Logger.Error("[Run] Kafka consumer returned error", zap.Error(err))
		return err
	}

	logging.Logger.Warn("[Run] Kafka consumers returned (context canceled or error), beginning shutdown...")
	app.closeConsumers()

	return nil
}

// runStatsSampler keeps the depth gauges fresh by scanning the store on an
// interval; precise counters are maintained inline at their call sites.
func (app *Canvass) runStatsSampler(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(config.Conf.StatsSampleInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			app.sampleStats(ctx)
		}
	}
}

func (app *Canvass) sampleStats(ctx context.Context) {
	depth, err := app.OutboxQueue.Depth(ctx)
	if err != nil {
		logging.Logger.Warn("failed to sample outbox depth", zap.String("error", err.Error()))
	} else {
		canvassPrometheus.OutboxDepth.Set(float64(depth))
	}

	keys, err := app.StateStore.Keys(ctx, store.SessionKeyPattern)
	if err != nil {
		logging.Logger.Warn("failed to sample active sessions", zap.String("error", err.Error()))

		return
	}

	active := 0

	for _, key := range keys {
		var callSession session.CallSession

		err := app.StateStore.Get(ctx, key, &callSession)
		if err != nil {
			continue
		}

		if !callSession.Status.Terminal() {
			active++
		}
	}

	canvassPrometheus.ActiveSessions.Set(float64(active))
}

func (app *Canvass) closeConsumers() {
	logging.Logger.Info("[Run] Closing Kafka consumers...")

	err := app.CallEventsConsumer.Close()
	if err != nil {
		logging.Logger.Error("[Run] Failed to close call events consumer", zap.String("error", err.Error()))
	}

	err = app.TranscriptConsumer.Close()
	if err != nil {
		logging.Logger.Error("[Run] Failed to close transcript consumer", zap.String("error", err.Error()))
	}
}

func (app *Canvass) shutdown() {
	logging.Logger.Info("[Run] Releasing worker pools...",
		zap.Int("running_workers", app.WorkerPool.Running()),
		zap.Int("free_workers", app.WorkerPool.Free()),
	)
	app.WorkerPool.Release()
	app.DispatcherPool.Release()
	logging.Logger.Info("[Run] Worker pools released")

	logging.Logger.Info("[Run] Closing Kafka producer...")

	err := app.KafkaProducer.Close()
	if err != nil {
		logging.Logger.Error("[Run] Failed to close producer", zap.String("error", err.Error()))
	} else {
		logging.Logger.Info("[Run] Kafka producer closed successfully")
	}

	logging.Logger.Info("[Run] Closing state store...")

	err = app.StateStore.Close()
	if err != nil {
		logging.Logger.Error("[Run] Failed to close state store", zap.String("error", err.Error()))
	}

	logging.Logger.Info("[Run] ===== App shutdown complete =====")
}

// deadLetterPublisher forwards terminally failed webhook events to the
// dead letter topic for offline inspection.
type deadLetterPublisher struct {
	Producer *kafka.Producer
}

type deadLetterMessage struct {
	EventID   string    `json:"event_id"`
	CallID    string    `json:"call_id"`
	EventType string    `json:"event_type"`
	Reason    string    `json:"reason"`
	FailedAt  time.Time `json:"failed_at"`
}

func (publisher *deadLetterPublisher) PublishDeadLetter(
	ctx context.Context,
	event outbox.Event,
	reason string,
) error {
	message, err := json.Marshal(deadLetterMessage{
		EventID:   event.EventID,
		CallID:    event.CallID,
		EventType: event.EventType,
		Reason:    reason,
		FailedAt:  time.Now(),
	})
	if err != nil {
		return err
	}

	_, _, err = publisher.Producer.SendMessage(
		config.Conf.KafkaDeadLetterTopic,
		[]byte(event.CallID),
		message,
	)

	return err
}
