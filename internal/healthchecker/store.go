package healthchecker

import (
	"context"
	"time"

	"github.com/canvass-hq/canvass/internal/config"
	"github.com/canvass-hq/canvass/internal/logging"
	"github.com/canvass-hq/canvass/internal/store"
	"go.uber.org/zap"
)

func CheckStore() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	redisStore, err := store.NewRedis(ctx, store.RedisOptions{
		Addr:               config.Conf.RedisAddr,
		Password:           config.Conf.RedisPassword,
		DB:                 config.Conf.RedisDB,
		Timeout:            time.Duration(config.Conf.RedisTimeout) * time.Second,
		RetryAttempts:      1,
		RetryBackoffMin:    time.Second,
		RetryBackoffMax:    time.Second,
		BreakerInterval:    time.Duration(config.Conf.RedisIntervalCB) * time.Second,
		BreakerMaxFailures: config.Conf.RedisConsecutiveFailsCB,
	})
	if err != nil {
		logging.Logger.Info("state store still unavailable", zap.String("error", err.Error()))
		return false
	}

	defer func() {
		cerr := redisStore.Close()
		if cerr != nil {
			logging.Logger.Warn("failed to close healthcheck store client", zap.String("error", cerr.Error()))
		}
	}()

	err = redisStore.Ping(ctx)

	return err == nil
}
