package notification

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"mail-sender/internal/config"
	"mail-sender/internal/logging"
	"mail-sender/internal/models"
	"mail-sender/internal/providers"
)

type providerFunc func(context.Context, models.EmailMessage, config.Config) error

// Service dispatches a single email through the configured relay.
type Service struct {
	logger *logging.Logger
	config config.Config
	send   providerFunc
}

// New constructs a notification Service.
func New(logger *logging.Logger, cfg config.Config) *Service {
	return &Service{
		logger: logger,
		config: cfg,
		send:   providers.SendEmail,
	}
}

// Dispatch makes one delivery attempt and returns the provider error, if any.
// Every call is an independent attempt with its own request id.
func (s *Service) Dispatch(ctx context.Context, msg models.EmailMessage) error {
	requestID := uuid.NewString()
	entry := s.logger.WithRequest(requestID).WithFields(logrus.Fields{
		"to":        msg.To,
		"smtp_host": s.config.Mail.SMTPHost,
	})
	entry.Debugf("Dispatching email via %s:%d", s.config.Mail.SMTPHost, s.config.Mail.SMTPPort)

	if err := s.send(ctx, msg, s.config); err != nil {
		entry.Warnf("Email dispatch failed: %v", err)
		return err
	}

	entry.Info("Email dispatched")
	return nil
}
