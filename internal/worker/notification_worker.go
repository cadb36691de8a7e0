package worker

import (
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/service"
)

// StartNotificationWorker subscribes the notification handlers to the event
// dispatcher and returns the delivery channels that will fire.
func StartNotificationWorker(notifications *service.NotificationService, logger *zap.Logger) []string {
	if notifications == nil {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	notifications.RegisterHandlers()
	channels := notifications.Channels()
	if len(channels) == 0 {
		logger.Info("notification handlers registered, no delivery channel configured")
	} else {
		logger.Info("notification handlers registered", zap.Strings("channels", channels))
	}
	return channels
}
