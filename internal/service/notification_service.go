package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/crm-identity/internal/config"
	"github.com/spec-kit/crm-identity/internal/events"
)

// NotificationService handles emitting notifications for domain events.
// Delivery is external; handlers only log what would be sent.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	cfg        config.NotificationConfig
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger,
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes to events and returns the types now handled.
func (n *NotificationService) RegisterHandlers() []events.EventType {
	if n.dispatcher == nil {
		return nil
	}
	handlers := []struct {
		eventType events.EventType
		handle    events.EventHandler
	}{
		{events.EventAccountProvisioned, n.handleAccountProvisioned},
		{events.EventAccountActivated, n.handleAccountActivated},
		{events.EventRolePermissionsChanged, n.handleAudit},
		{events.EventRoleDeleted, n.handleAudit},
	}
	registered := make([]events.EventType, 0, len(handlers))
	for _, h := range handlers {
		n.dispatcher.Subscribe(h.eventType, h.handle)
		registered = append(registered, h.eventType)
	}
	return registered
}

func (n *NotificationService) handleAccountProvisioned(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.AccountProvisionedPayload)
	if !ok {
		return nil
	}
	n.logger.Info("AccountProvisioned",
		zap.String("user_id", event.SubjectID),
		zap.Bool("reissued", payload.Reissued),
		zap.Time("expires_at", payload.ExpiresAt))
	n.sendEmailNotificationStub(ctx, event, payload.Email, strings.TrimRight(n.cfg.PortalURL, "/")+payload.SetupURL)
	return nil
}

func (n *NotificationService) handleAccountActivated(ctx context.Context, event events.Event) error {
	n.logger.Info("AccountActivated", zap.String("user_id", event.SubjectID))
	if payload, ok := event.Payload.(events.AccountActivatedPayload); ok {
		n.sendEmailNotificationStub(ctx, event, payload.Email, "")
	}
	return nil
}

func (n *NotificationService) handleAudit(_ context.Context, event events.Event) error {
	actor := ""
	if event.Actor.UserID != nil {
		actor = *event.Actor.UserID
	}
	n.logger.Info("RoleAudit",
		zap.String("event_type", string(event.Type)),
		zap.String("role_id", event.SubjectID),
		zap.String("actor", actor),
		zap.Any("payload", event.Payload))
	return nil
}

func (n *NotificationService) sendEmailNotificationStub(_ context.Context, event events.Event, to, link string) {
	if strings.TrimSpace(n.cfg.EmailFrom) == "" {
		return
	}
	fields := []zap.Field{
		zap.String("from", n.cfg.EmailFrom),
		zap.String("to", to),
		zap.String("user_id", event.SubjectID),
		zap.String("event_type", string(event.Type)),
	}
	if link != "" {
		fields = append(fields, zap.String("link", link))
	}
	n.logger.Debug("sendEmailNotificationStub", fields...)
}
