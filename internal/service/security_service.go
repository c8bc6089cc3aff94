package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/quiz-service/internal/events"
)

// SecurityService turns token lifecycle events into audit log entries. Reuse
// detection surfaces here and nowhere else; the HTTP response stays an
// ordinary TOKEN_REVOKED.
type SecurityService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// NewSecurityService creates the service.
func NewSecurityService(dispatcher events.Dispatcher, logger *zap.Logger) *SecurityService {
	return &SecurityService{dispatcher: dispatcher, logger: logger}
}

// RegisterHandlers subscribes to security events.
func (s *SecurityService) RegisterHandlers() {
	if s.dispatcher == nil {
		return
	}
	s.dispatcher.Subscribe(events.EventTokenReuseDetected, s.handleTokenReuse)
	s.dispatcher.Subscribe(events.EventSessionsRevoked, s.handleSessionsRevoked)
	s.dispatcher.Subscribe(events.EventTokenRotated, s.handleTokenRotated)
}

func (s *SecurityService) handleTokenReuse(ctx context.Context, event events.Event) error {
	s.logger.Warn("audit: refresh token reuse",
		zap.String("user_id", event.UserID),
		zap.Any("payload", event.Payload))
	return nil
}

func (s *SecurityService) handleSessionsRevoked(ctx context.Context, event events.Event) error {
	s.logger.Info("audit: sessions revoked",
		zap.String("user_id", event.UserID),
		zap.Any("payload", event.Payload))
	return nil
}

func (s *SecurityService) handleTokenRotated(ctx context.Context, event events.Event) error {
	s.logger.Debug("audit: token rotated",
		zap.String("user_id", event.UserID),
		zap.Any("payload", event.Payload))
	return nil
}
