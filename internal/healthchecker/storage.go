package healthchecker

import (
	"context"
	"time"

	"github.com/canvass-hq/canvass/internal/logging"
	"github.com/canvass-hq/canvass/internal/storage"
	"go.uber.org/zap"
)

var storageProbeKey = "healthcheck/probe.json"

var storageProbeBody = []byte(`{"probe":true}`)

func CheckStorage() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	storageClient, err := storage.NewClient()
	if err != nil {
		logging.Logger.Info("object storage still unavailable", zap.String("error", err.Error()))
		return false
	}

	err = storageClient.Upload(ctx, storageProbeKey, storageProbeBody)
	if err != nil {
		return false
	}

	_, err = storageClient.Download(ctx, storageProbeKey)

	return err == nil
}
