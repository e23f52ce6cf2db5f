package bus

import (
	"github.com/paseohq/paseod/internal/config"
	logger "github.com/paseohq/paseod/internal/logging"
)

// Provide selects an EventBus backend based on configuration: NATS when
// cfg.URL is set, otherwise the in-memory bus.
func Provide(cfg config.NATSConfig, log *logger.Logger) (EventBus, error) {
	if cfg.URL == "" {
		log.Info("using in-memory event bus")
		return NewMemoryEventBus(log), nil
	}

	natsBus, err := NewNATSEventBus(cfg, log)
	if err != nil {
		return nil, err
	}
	return natsBus, nil
}
