package healthchecker

import (
	"github.com/canvass-hq/canvass/internal/config"
	"github.com/canvass-hq/canvass/internal/kafka"
	"github.com/canvass-hq/canvass/internal/logging"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var healthcheckerMsg = "healthchecker msg"

func CheckKafkaProducer() bool {
	kafkaProducer, err := kafka.NewProducer()
	if err != nil {
		logging.Logger.Error("failed to create new kafka producer client", zap.String("error", err.Error()))
		return false
	}

	defer func() {
		cerr := kafkaProducer.Close()
		if cerr != nil {
			logging.Logger.Warn("failed to close healthcheck kafka producer", zap.String("error", cerr.Error()))
		}
	}()

	_, _, err = kafkaProducer.SendMessage(
		config.Conf.KafkaDeadLetterTopic,
		[]byte(uuid.New().String()),
		[]byte(healthcheckerMsg),
	)

	return err == nil
}
