package bus

import (
	"fmt"

	"github.com/opensource-finance/notas/internal/domain"
)

// New creates a new event bus based on configuration.
// "channel" returns an in-process ChannelBus; "nats" returns a NATSBus
// shared between nodes.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}
