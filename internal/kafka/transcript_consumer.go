package kafka

import (
	"context"

	"github.com/IBM/sarama"
	"github.com/canvass-hq/canvass/internal/config"
	"github.com/canvass-hq/canvass/internal/logging"
	"go.uber.org/zap"
)

// TranscriptConsumer receives ordered transcript chunks from the speech
// pipeline while a call is in progress.
type TranscriptConsumer struct {
	Client sarama.ConsumerGroup
}

func NewTranscriptConsumer() (*TranscriptConsumer, error) {
	client, err := createConsumerGroup(config.Conf.KafkaTranscriptGroupID, "Transcript")
	if err != nil {
		return nil, err
	}

	return &TranscriptConsumer{
		Client: client,
	}, nil
}

// Consume starts consuming messages from the transcript topic.
func (c *TranscriptConsumer) Consume(
	ctx context.Context,
	topic string,
	messageHandler func(context.Context, *sarama.ConsumerMessage),
) error {
	handler := &consumerGroupHandler{
		messageHandler: messageHandler,
	}

	runConsumerLoop(ctx, c.Client, topic, handler, "Transcript")

	return nil
}

func (c *TranscriptConsumer) Close() error {
	err := c.Client.Close()
	if err != nil {
		logging.Logger.Error("Failed to close transcript Kafka consumer", zap.String("error", err.Error()))
		return err
	}

	logging.Logger.Info("Transcript Kafka consumer closed successfully")

	return nil
}
