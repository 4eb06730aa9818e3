package worker

import (
	"go.uber.org/zap"

	"github.com/spec-kit/crm-identity/internal/service"
)

// StartNotificationWorker attaches the notification handlers to the event
// dispatcher. Without it provisioning still succeeds but no setup link is
// ever handed to the delivery side.
func StartNotificationWorker(notifications *service.NotificationService, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifications == nil {
		logger.Warn("notifications disabled, setup links will not be delivered")
		return
	}

	registered := notifications.RegisterHandlers()
	names := make([]string, 0, len(registered))
	for _, t := range registered {
		names = append(names, string(t))
	}
	logger.Info("notification handlers registered", zap.Strings("event_types", names))
}
