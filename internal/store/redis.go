package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/canvass-hq/canvass/internal/circuitbreak"
	"github.com/canvass-hq/canvass/internal/logging"
	canvassPrometheus "github.com/canvass-hq/canvass/internal/prometheus"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

var ErrInvalidScriptReply = errors.New("store: unexpected script reply type")

// compareAndPutScript decodes the stored JSON document and replaces it only
// when its version field matches ARGV[1]. TTL is ARGV[3] in milliseconds.
const compareAndPutScript = `
local cur = redis.call("GET", KEYS[1])
if not cur then
  return "missing"
end
local doc = cjson.decode(cur)
if tonumber(doc.version) ~= tonumber(ARGV[1]) then
  return "conflict"
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return "ok"
`

type RedisOptions struct {
	Addr               string
	Password           string
	DB                 int
	Timeout            time.Duration
	RetryAttempts      uint
	RetryBackoffMin    time.Duration
	RetryBackoffMax    time.Duration
	BreakerInterval    time.Duration
	BreakerMaxFailures uint32
}

type RedisStore struct {
	Client         *redis.Client
	CircuitBreaker *gobreaker.CircuitBreaker[any]
	Opts           RedisOptions
	casScript      *redis.Script
}

// NewRedis connects to the shared store. All mutations run as single
// server-side commands or scripts, so no client-side locking is needed.
func NewRedis(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.Timeout,
		ReadTimeout:  opts.Timeout,
		WriteTimeout: opts.Timeout,
	})

	err := client.Ping(ctx).Err()
	if err != nil {
		logging.Logger.Error("Failed to connect to Redis",
			zap.String("addr", opts.Addr),
			zap.String("error", err.Error()),
		)

		return nil, err
	}

	logging.Logger.Info("Successfully connected to Redis", zap.String("addr", opts.Addr))

	return &RedisStore{
		Client:         client,
		CircuitBreaker: newRedisCircuitBreaker(opts),
		Opts:           opts,
		casScript:      redis.NewScript(compareAndPutScript),
	}, nil
}

func newRedisCircuitBreaker(opts RedisOptions) *gobreaker.CircuitBreaker[any] {
	settings := gobreaker.Settings{
		Name:     "store",
		Interval: opts.BreakerInterval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerMaxFailures
		},
		OnStateChange: func(name string, fromState, toState gobreaker.State) {
			logging.Logger.Warn("Circuit state changed",
				zap.String("service", name),
				zap.String("from", fromState.String()),
				zap.String("to", toState.String()),
			)

			if toState == gobreaker.StateOpen {
				circuitbreak.TriggerError(circuitbreak.StoreService)
			}
		},
		IsSuccessful: func(err error) bool {
			// Sentinel results are domain answers, not store failures.
			return err == nil ||
				errors.Is(err, ErrKeyNotFound) ||
				errors.Is(err, ErrVersionConflict)
		},
	}

	return gobreaker.NewCircuitBreaker[any](settings)
}

func (redisStore *RedisStore) Get(ctx context.Context, key string, dest any) error {
	result, err := redisStore.execute(ctx, "get", func(ctx context.Context) (any, error) {
		data, err := redisStore.Client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, ErrKeyNotFound
		}

		return data, err
	})
	if err != nil {
		return err
	}

	data, ok := result.([]byte)
	if !ok {
		return ErrInvalidScriptReply
	}

	return json.Unmarshal(data, dest)
}

func (redisStore *RedisStore) Put(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	_, err = redisStore.execute(ctx, "put", func(ctx context.Context) (any, error) {
		return nil, redisStore.Client.Set(ctx, key, data, ttl).Err()
	})

	return err
}

func (redisStore *RedisStore) PutIfAbsent(
	ctx context.Context,
	key string,
	value any,
	ttl time.Duration,
) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, err
	}

	result, err := redisStore.execute(ctx, "put_if_absent", func(ctx context.Context) (any, error) {
		return redisStore.Client.SetNX(ctx, key, data, ttl).Result()
	})
	if err != nil {
		return false, err
	}

	stored, ok := result.(bool)
	if !ok {
		return false, ErrInvalidScriptReply
	}

	return stored, nil
}

func (redisStore *RedisStore) CompareAndPut(
	ctx context.Context,
	key string,
	expectedVersion int64,
	value any,
	ttl time.Duration,
) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	_, err = redisStore.execute(ctx, "compare_and_put", func(ctx context.Context) (any, error) {
		reply, err := redisStore.casScript.Run(
			ctx,
			redisStore.Client,
			[]string{key},
			expectedVersion,
			data,
			ttl.Milliseconds(),
		).Result()
		if err != nil {
			return nil, err
		}

		switch reply {
		case "ok":
			return nil, nil
		case "conflict":
			return nil, ErrVersionConflict
		case "missing":
			return nil, ErrKeyNotFound
		default:
			return nil, fmt.Errorf("%w: %v", ErrInvalidScriptReply, reply)
		}
	})

	return err
}

func (redisStore *RedisStore) Delete(ctx context.Context, key string) error {
	_, err := redisStore.execute(ctx, "delete", func(ctx context.Context) (any, error) {
		return nil, redisStore.Client.Del(ctx, key).Err()
	})

	return err
}

func (redisStore *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	result, err := redisStore.execute(ctx, "keys", func(ctx context.Context) (any, error) {
		var keys []string

		iter := redisStore.Client.Scan(ctx, 0, pattern, 0).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}

		return keys, iter.Err()
	})
	if err != nil {
		return nil, err
	}

	keys, ok := result.([]string)
	if !ok {
		return nil, ErrInvalidScriptReply
	}

	return keys, nil
}

func (redisStore *RedisStore) Ping(ctx context.Context) error {
	return redisStore.Client.Ping(ctx).Err()
}

func (redisStore *RedisStore) Close() error {
	return redisStore.Client.Close()
}

// execute wraps a store operation with the circuit breaker and bounded retry.
// Sentinel results (not-found, conflict) pass through untouched; anything
// still failing after the retry budget is reported as ErrTransientState.
func (redisStore *RedisStore) execute(
	ctx context.Context,
	operation string,
	fn func(ctx context.Context) (any, error),
) (any, error) {
	timer := prometheus.NewTimer(canvassPrometheus.StoreOperationDuration.WithLabelValues(operation))
	defer timer.ObserveDuration()

	result, err := redisStore.CircuitBreaker.Execute(func() (any, error) {
		var (
			value    any
			sentinel error
		)

		retryErr := retry.Do(
			func() error {
				if ctx.Err() != nil {
					return retry.Unrecoverable(ctx.Err())
				}

				var err error

				value, err = fn(ctx)
				if errors.Is(err, ErrKeyNotFound) || errors.Is(err, ErrVersionConflict) {
					// Domain answers, not store failures: stop retrying.
					sentinel = err
					return nil
				}

				return err
			},
			retry.Attempts(redisStore.Opts.RetryAttempts),
			retry.DelayType(retry.BackOffDelay),
			retry.Delay(redisStore.Opts.RetryBackoffMin),
			retry.MaxDelay(redisStore.Opts.RetryBackoffMax),
			retry.LastErrorOnly(true),
		)
		if retryErr != nil {
			return nil, retryErr
		}

		if sentinel != nil {
			return nil, sentinel
		}

		return value, nil
	})
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) || errors.Is(err, ErrVersionConflict) {
			return nil, err
		}

		logging.Logger.Error("store operation failed after all retry attempts",
			zap.String("operation", operation),
			zap.String("error", err.Error()),
		)

		return nil, fmt.Errorf("%w: %s: %s", ErrTransientState, operation, err.Error())
	}

	return result, nil
}
