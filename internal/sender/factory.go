package sender

import (
	"fmt"
	"strings"

	"bundleactivator/internal/config"
	"bundleactivator/internal/logger"
)

// NewSender creates a Sender based on the configuration.
func NewSender(cfg *config.Config) (Sender, error) {
	log := logger.WithComponent("sender-factory")

	senderType := strings.ToLower(cfg.SenderType)
	if senderType == "" {
		senderType = "none"
	}

	log.Info().
		Str("sender_type", senderType).
		Msg("Creating sender")

	switch senderType {
	case "none":
		return NopSender{}, nil
	case "file":
		return NewFileSender(cfg.File)
	case "kafka":
		return NewKafkaSender(cfg.Kafka, cfg.SOCKSProxy)
	case "redis":
		return NewRedisSender(cfg.Redis, cfg.SOCKSProxy)
	default:
		return nil, fmt.Errorf("unknown sender type: %s (supported: none, file, kafka, redis)", senderType)
	}
}
