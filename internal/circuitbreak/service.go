package circuitbreak

import "github.com/canvass-hq/canvass/internal/logging"

var CircuitBreakChan chan string

const (
	StoreService         = "store"
	StorageService       = "storage"
	KafkaProducerService = "kafka_producer"
)

func Init() {
	CircuitBreakChan = make(chan string)
}

func TriggerError(service string) {
	if CircuitBreakChan == nil {
		logging.Logger.Fatal("canvass app is not created")
	}

	CircuitBreakChan <- service
}
