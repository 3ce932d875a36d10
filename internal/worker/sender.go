package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/backoffice/internal/db"
	"github.com/lalithlochan/backoffice/internal/nps"
)

// Sender delivers a rendered NPS message on one or more channels.
// Implementations: SES (email), SNS (sms), WhatsApp gateway, LogSender.
type Sender interface {
	Send(ctx context.Context, msg *nps.Message) error
	SupportsChannel(channel string) bool
}

// MultiSender routes a message to the first sender supporting its channel.
type MultiSender struct {
	senders []Sender
	logger  *zap.Logger
}

func NewMultiSender(logger *zap.Logger, senders ...Sender) *MultiSender {
	return &MultiSender{
		senders: senders,
		logger:  logger,
	}
}

func (m *MultiSender) Send(ctx context.Context, msg *nps.Message) error {
	for _, sender := range m.senders {
		if sender.SupportsChannel(msg.Channel) {
			m.logger.Debug("routing nps message",
				zap.String("channel", msg.Channel),
				zap.String("envelope_id", msg.EnvelopeID.String()),
			)
			return sender.Send(ctx, msg)
		}
	}
	return fmt.Errorf("no sender for channel: %s", msg.Channel)
}

func (m *MultiSender) SupportsChannel(channel string) bool {
	for _, sender := range m.senders {
		if sender.SupportsChannel(channel) {
			return true
		}
	}
	return false
}

// LogSender only logs messages. Used in development when no channel is configured.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg *nps.Message) error {
	s.logger.Info("nps message (development mode)",
		zap.String("envelope_id", msg.EnvelopeID.String()),
		zap.String("channel", msg.Channel),
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
	)
	return nil
}

func (s *LogSender) SupportsChannel(channel string) bool {
	return channel == db.ChannelEmail || channel == db.ChannelSMS || channel == db.ChannelWhatsApp
}
