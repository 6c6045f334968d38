package kafka

import (
	"context"

	"github.com/IBM/sarama"
	"github.com/canvass-hq/canvass/internal/config"
	"github.com/canvass-hq/canvass/internal/logging"
	"go.uber.org/zap"
)

// CallEventsConsumer receives call lifecycle events from the telephony
// platform (initiated, ringing, answered, completed, failed).
type CallEventsConsumer struct {
	Client sarama.ConsumerGroup
}

func NewCallEventsConsumer() (*CallEventsConsumer, error) {
	client, err := createConsumerGroup(config.Conf.KafkaCallEventsGroupID, "CallEvents")
	if err != nil {
		return nil, err
	}

	return &CallEventsConsumer{
		Client: client,
	}, nil
}

// Consume starts consuming messages from the call events topic.
func (c *CallEventsConsumer) Consume(
	ctx context.Context,
	topic string,
	messageHandler func(context.Context, *sarama.ConsumerMessage),
) error {
	handler := &consumerGroupHandler{
		messageHandler: messageHandler,
	}

	runConsumerLoop(ctx, c.Client, topic, handler, "CallEvents")

	return nil
}

func (c *CallEventsConsumer) Close() error {
	err := c.Client.Close()
	if err != nil {
		logging.Logger.Error("Failed to close call events Kafka consumer", zap.String("error", err.Error()))
		return err
	}

	logging.Logger.Info("Call events Kafka consumer closed successfully")

	return nil
}

type consumerGroupHandler struct {
	messageHandler func(context.Context, *sarama.ConsumerMessage)
}

func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *consumerGroupHandler) ConsumeClaim(
	session sarama.ConsumerGroupSession,
	claim sarama.ConsumerGroupClaim,
) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}

			h.messageHandler(session.Context(), message)

			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}
