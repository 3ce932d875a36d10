package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/backoffice/internal/nps"
)

// Sender matches worker.Sender; declared here so worker can import this package.
type Sender interface {
	Send(ctx context.Context, msg *nps.Message) error
	SupportsChannel(channel string) bool
}

// ProtectedSender puts a CircuitBreaker in front of a channel sender.
type ProtectedSender struct {
	sender  Sender
	breaker *CircuitBreaker
	logger  *zap.Logger
}

func NewProtectedSender(sender Sender, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedSender {
	return &ProtectedSender{
		sender:  sender,
		breaker: breaker,
		logger:  logger,
	}
}

// Send fails with ErrCircuitOpen without calling the channel while the breaker is open.
func (p *ProtectedSender) Send(ctx context.Context, msg *nps.Message) error {
	if !p.breaker.Allow() {
		p.logger.Warn("sender breaker rejected message",
			zap.String("sender", p.breaker.Name()),
			zap.String("envelope_id", msg.EnvelopeID.String()),
			zap.String("channel", msg.Channel),
		)
		return fmt.Errorf("%w: %s sender unavailable", ErrCircuitOpen, p.breaker.Name())
	}

	if err := p.sender.Send(ctx, msg); err != nil {
		p.breaker.RecordFailure()
		return err
	}

	p.breaker.RecordSuccess()
	return nil
}

func (p *ProtectedSender) SupportsChannel(channel string) bool {
	return p.sender.SupportsChannel(channel)
}

// Breaker exposes the breaker for health reporting.
func (p *ProtectedSender) Breaker() *CircuitBreaker {
	return p.breaker
}
