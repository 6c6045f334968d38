package healthchecker

import (
	"context"
	"time"

	"github.com/canvass-hq/canvass/internal/circuitbreak"
	"github.com/canvass-hq/canvass/internal/config"
	"github.com/canvass-hq/canvass/internal/logging"
	"go.uber.org/zap"
)

type Healthchecker struct {
	CtxCancelFunc context.CancelFunc
	ErrorService  string
}

func NewService(ctxCancelFunc context.CancelFunc) *Healthchecker {
	return &Healthchecker{
		CtxCancelFunc: ctxCancelFunc,
	}
}

// Monitor blocks until a circuit opens somewhere, then cancels the app
// context so the process can drain and restart against the failed service.
func (h *Healthchecker) Monitor() {
	logging.Logger.Info("health checker monitor start successfully")

	serviceName := <-circuitbreak.CircuitBreakChan

	logging.Logger.Info("circuit break happened", zap.String("service", serviceName))
	h.ErrorService = serviceName
	h.CtxCancelFunc()
}

// Check polls the failed service until it answers again.
func (h *Healthchecker) Check() {
	if h.ErrorService == "" {
		logging.Logger.Error("healthchecker error service is empty")
	}

	ticker := time.NewTicker(time.Duration(config.Conf.HealthCheckerMonitorInterval) * time.Second)
	defer ticker.Stop()

	for {
		<-ticker.C

		ok := h.checkErrorService()
		if ok {
			return
		}
	}
}

func (h *Healthchecker) checkErrorService() bool {
	type checkFunc func() bool

	checks := map[string]checkFunc{
		circuitbreak.StoreService:         CheckStore,
		circuitbreak.StorageService:       CheckStorage,
		circuitbreak.KafkaProducerService: CheckKafkaProducer,
	}

	check, ok := checks[h.ErrorService]
	if !ok {
		logging.Logger.Warn("Unknown service in checkErrorService", zap.String("service", h.ErrorService))
		return false
	}

	isHealthy := check()
	if isHealthy {
		logging.Logger.Info(h.ErrorService + " service back healthy")
	}

	return isHealthy
}
