package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/avast/retry-go"
	"github.com/canvass-hq/canvass/internal/circuitbreak"
	"github.com/canvass-hq/canvass/internal/config"
	"github.com/canvass-hq/canvass/internal/logging"
	canvassPrometheus "github.com/canvass-hq/canvass/internal/prometheus"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

var ErrConvertToBuffer = errors.New("failed to convert result to pointer to bytes.Buffer")

const (
	kindProfiles    = "profiles"
	kindTranscripts = "transcripts"

	profileObjectName    = "worker_profile.json"
	transcriptObjectName = "transcript.json"
)

// Client persists call artifacts to object storage for audit and replay.
// Object keys are calls/{kind}/{date}/{call_id}/{file}.
type Client struct {
	Client         *minio.Client
	CircuitBreaker *gobreaker.CircuitBreaker[any]
	BucketName     string
	PathPrefix     string
}

func NewClient() (*Client, error) {
	client, err := minio.New(config.Conf.MinioEndpointURL, &minio.Options{
		Creds:  credentials.NewStaticV4(config.Conf.MinioAccessKey, config.Conf.MinioSecretKey, ""),
		Secure: config.Conf.MinioUseSSL,
	})
	if err != nil {
		logging.Logger.Error("Failed to initialize MinIO client",
			zap.String("error", err.Error()),
		)

		return nil, err
	}

	logging.Logger.Info("Successfully connected to MinIO",
		zap.String("endpoint", config.Conf.MinioEndpointURL),
		zap.String("bucket", config.Conf.MinioBucketName),
	)

	return &Client{
		Client:         client,
		CircuitBreaker: newCircuitBreaker(),
		BucketName:     config.Conf.MinioBucketName,
		PathPrefix:     config.Conf.MinioPathPrefix,
	}, nil
}

func newCircuitBreaker() *gobreaker.CircuitBreaker[any] {
	settings := gobreaker.Settings{
		Name:     "minio",
		Interval: time.Duration(config.Conf.MinioIntervalCB) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.Conf.MinioConsecutiveFailuresCB
		},
		OnStateChange: func(name string, fromState, toState gobreaker.State) {
			logging.Logger.Warn("Circuit state changed",
				zap.String("service", name),
				zap.String("from", fromState.String()),
				zap.String("to", toState.String()),
			)

			if toState == gobreaker.StateOpen {
				circuitbreak.TriggerError(circuitbreak.StorageService)
			}
		},
	}

	return gobreaker.NewCircuitBreaker[any](settings)
}

// PersistProfile stores the final worker profile document for a call.
func (client *Client) PersistProfile(ctx context.Context, callID string, data []byte) error {
	return client.Upload(ctx, objectKey(kindProfiles, callID, profileObjectName), data)
}

// PersistTranscript stores the full accumulated transcript for a call.
func (client *Client) PersistTranscript(ctx context.Context, callID string, data []byte) error {
	return client.Upload(ctx, objectKey(kindTranscripts, callID, transcriptObjectName), data)
}

func objectKey(kind, callID, file string) string {
	return path.Join("calls", kind, time.Now().UTC().Format("2006-01-02"), callID, file)
}

func (client *Client) Upload(ctx context.Context, objectKey string, data []byte) error {
	_, err := client.CircuitBreaker.Execute(func() (any, error) {
		return nil, client.doUpload(ctx, objectKey, data)
	})

	return err
}

func (client *Client) Download(ctx context.Context, objectKey string) (*bytes.Buffer, error) {
	result, err := client.CircuitBreaker.Execute(func() (any, error) {
		return client.doDownload(ctx, objectKey)
	})
	if err != nil {
		return nil, err
	}

	buf, ok := result.(*bytes.Buffer)
	if !ok {
		return nil, ErrConvertToBuffer
	}

	return buf, nil
}

func (client *Client) doUpload(ctx context.Context, objectKey string, data []byte) error {
	timer := prometheus.NewTimer(canvassPrometheus.StorageOperationDuration.WithLabelValues("upload"))
	defer timer.ObserveDuration()

	ctxWithTimeout, cancel := context.WithTimeout(
		ctx, time.Duration(config.Conf.MinioTimeout)*time.Second,
	)
	defer cancel()

	err := retry.Do(
		func() error {
			_, err := client.Client.PutObject(
				ctxWithTimeout,
				client.BucketName,
				client.getKey(objectKey),
				bytes.NewReader(data),
				int64(len(data)),
				minio.PutObjectOptions{ContentType: "application/json"},
			)
			if err != nil {
				logging.Logger.Error("MinIO upload failed",
					zap.String("object_key", objectKey),
					zap.String("error", err.Error()),
				)

				return err
			}

			return nil
		},
		retry.Attempts(uint(config.Conf.MinioMaxRetryAttempts)),
		retry.DelayType(retry.BackOffDelay),
		retry.Delay(time.Duration(config.Conf.MinioRetryBackoffMinSeconds)*time.Second),
		retry.MaxDelay(time.Duration(config.Conf.MinioRetryBackoffMaxSeconds)*time.Second),
	)
	if err != nil {
		logging.Logger.Error("MinIO upload failed after all retry attempts",
			zap.String("object_key", objectKey),
			zap.String("error", err.Error()),
		)

		return err
	}

	logging.Logger.Info("MinIO upload completed successfully",
		zap.String("object_key", objectKey),
		zap.Int("size", len(data)),
	)

	return nil
}

func (client *Client) doDownload(ctx context.Context, objectKey string) (*bytes.Buffer, error) {
	timer := prometheus.NewTimer(canvassPrometheus.StorageOperationDuration.WithLabelValues("download"))
	defer timer.ObserveDuration()

	var buf *bytes.Buffer

	ctxWithTimeout, cancel := context.WithTimeout(
		ctx, time.Duration(config.Conf.MinioTimeout)*time.Second,
	)
	defer cancel()

	err := retry.Do(
		func() error {
			object, err := client.Client.GetObject(
				ctxWithTimeout,
				client.BucketName,
				client.getKey(objectKey),
				minio.GetObjectOptions{},
			)
			if err != nil {
				logging.Logger.Error("MinIO download failed",
					zap.String("object_key", objectKey),
					zap.String("error", err.Error()),
				)

				return err
			}

			defer func() {
				cerr := object.Close()
				if cerr != nil {
					logging.Logger.Error("Failed to close MinIO object reader",
						zap.String("object_key", objectKey),
						zap.String("error", cerr.Error()),
					)
				}
			}()

			buf = new(bytes.Buffer)

			_, err = io.Copy(buf, object)
			if err != nil {
				return fmt.Errorf("failed to read object %s: %w", objectKey, err)
			}

			return nil
		},
		retry.Attempts(uint(config.Conf.MinioMaxRetryAttempts)),
		retry.DelayType(retry.BackOffDelay),
		retry.Delay(time.Duration(config.Conf.MinioRetryBackoffMinSeconds)*time.Second),
		retry.MaxDelay(time.Duration(config.Conf.MinioRetryBackoffMaxSeconds)*time.Second),
	)
	if err != nil {
		logging.Logger.Error("MinIO download failed after all retry attempts",
			zap.String("object_key", objectKey),
			zap.String("error", err.Error()),
		)

		return nil, err
	}

	return buf, nil
}

func (client *Client) getKey(objectKey string) string {
	return path.Join(client.PathPrefix, objectKey)
}
