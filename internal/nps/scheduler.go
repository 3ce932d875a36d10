// Package nps schedules NPS survey envelopes.
//
// Envelope status transitions:
//
//	pendente -> enviado   (attempt succeeded)
//	pendente -> erro      (attempt failed)
//	erro     -> pendente  (explicit requeue with a new eligibility time)
//
// Nothing here sends messages; the dispatcher in package worker lists
// dispatchable envelopes, hands them to a sender and records each attempt.
package nps

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/backoffice/internal/apperr"
	"github.com/lalithlochan/backoffice/internal/db"
)

// Store persists envelopes and reads campaigns. RecordEnvelopeAttempt and
// RequeueEnvelope are conditional updates returning nil when the envelope is
// not in the expected status.
type Store interface {
	CreateEnvelope(ctx context.Context, env *db.Envelope) error
	GetEnvelope(ctx context.Context, id uuid.UUID) (*db.Envelope, error)
	GetEnvelopeByOrder(ctx context.Context, orderID int64, campaignID uuid.UUID) (*db.Envelope, error)
	ListDispatchableEnvelopes(ctx context.Context, now time.Time, limit int) ([]*db.Envelope, error)
	ListErroredEnvelopes(ctx context.Context, maxAttempts, limit int) ([]*db.Envelope, error)
	RecordEnvelopeAttempt(ctx context.Context, id uuid.UUID, status string, errorMsg *string, now time.Time) (*db.Envelope, error)
	RequeueEnvelope(ctx context.Context, id uuid.UUID, eligibleAt time.Time) (*db.Envelope, error)
	GetCampaign(ctx context.Context, id uuid.UUID) (*db.Campaign, error)
}

// Config tunes the scheduler.
type Config struct {
	BatchSize   int
	MaxAttempts int
}

// Scheduler owns the envelope state machine.
type Scheduler struct {
	store  Store
	config Config
	logger *zap.Logger
	now    func() time.Time
}

func NewScheduler(store Store, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Scheduler{
		store:  store,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

// ParseResult accepts the stored status names and their English forms.
func ParseResult(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case db.EnvelopeSent, "sent":
		return db.EnvelopeSent, nil
	case db.EnvelopeErrored, "errored", "error":
		return db.EnvelopeErrored, nil
	}
	return "", apperr.Validation(fmt.Sprintf("result must be %q or %q", db.EnvelopeSent, db.EnvelopeErrored))
}

// ListDispatchable returns pending envelopes whose eligibility time is at or
// before now, earliest first. It has no side effects.
func (s *Scheduler) ListDispatchable(ctx context.Context, now time.Time) ([]*db.Envelope, error) {
	if now.IsZero() {
		return nil, apperr.Validation("now is required")
	}

	envelopes, err := s.store.ListDispatchableEnvelopes(ctx, now, s.config.BatchSize)
	if err != nil {
		return nil, err
	}
	if envelopes == nil {
		envelopes = []*db.Envelope{}
	}
	return envelopes, nil
}

// RecordAttempt stores the result of one delivery attempt. Only pending
// envelopes accept an attempt.
func (s *Scheduler) RecordAttempt(ctx context.Context, id uuid.UUID, result string, errorText *string) (*db.Envelope, error) {
	if result != db.EnvelopeSent && result != db.EnvelopeErrored {
		return nil, apperr.Validation(fmt.Sprintf("result must be %q or %q", db.EnvelopeSent, db.EnvelopeErrored))
	}
	if result == db.EnvelopeSent {
		errorText = nil
	} else if errorText == nil || strings.TrimSpace(*errorText) == "" {
		unknown := "unknown delivery error"
		errorText = &unknown
	}

	env, err := s.store.RecordEnvelopeAttempt(ctx, id, result, errorText, s.now())
	if err != nil {
		return nil, err
	}
	if env == nil {
		current, err := s.store.GetEnvelope(ctx, id)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, fmt.Errorf("%w: envelope %s", apperr.ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: envelope %s is %s, not %s",
			apperr.ErrInvalidTransition, id, current.Status, db.EnvelopePending)
	}

	s.logger.Info("nps attempt recorded",
		zap.String("envelope_id", id.String()),
		zap.String("status", env.Status),
		zap.Int("attempts", env.Attempts),
	)
	return env, nil
}

// Lookup returns the envelope or nil when it does not exist.
func (s *Scheduler) Lookup(ctx context.Context, id uuid.UUID) (*db.Envelope, error) {
	return s.store.GetEnvelope(ctx, id)
}

// LookupByOrder returns the envelope of a sale within a campaign, or nil.
func (s *Scheduler) LookupByOrder(ctx context.Context, orderID int64, campaignID uuid.UUID) (*db.Envelope, error) {
	if orderID <= 0 {
		return nil, apperr.Validation("order id must be positive")
	}
	return s.store.GetEnvelopeByOrder(ctx, orderID, campaignID)
}

// Campaign returns the campaign or ErrNotFound.
func (s *Scheduler) Campaign(ctx context.Context, id uuid.UUID) (*db.Campaign, error) {
	c, err := s.store.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("%w: campaign %s", apperr.ErrNotFound, id)
	}
	return c, nil
}

// Requeue puts an errored envelope back to pending, eligible at eligibleAt.
func (s *Scheduler) Requeue(ctx context.Context, id uuid.UUID, eligibleAt time.Time) (*db.Envelope, error) {
	if eligibleAt.IsZero() {
		eligibleAt = s.now()
	}

	env, err := s.store.RequeueEnvelope(ctx, id, eligibleAt)
	if err != nil {
		return nil, err
	}
	if env == nil {
		current, err := s.store.GetEnvelope(ctx, id)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, fmt.Errorf("%w: envelope %s", apperr.ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: envelope %s is %s, not %s",
			apperr.ErrInvalidTransition, id, current.Status, db.EnvelopeErrored)
	}

	s.logger.Info("nps envelope requeued",
		zap.String("envelope_id", id.String()),
		zap.Time("eligible_at", eligibleAt),
	)
	return env, nil
}

// RequeueErrored requeues errored envelopes that still have attempts left,
// each delayed by RetryDelay(attempts). It returns how many were requeued.
func (s *Scheduler) RequeueErrored(ctx context.Context) (int, error) {
	envelopes, err := s.store.ListErroredEnvelopes(ctx, s.config.MaxAttempts, s.config.BatchSize)
	if err != nil {
		return 0, err
	}

	now := s.now()
	requeued := 0
	for _, env := range envelopes {
		eligibleAt := now.Add(RetryDelay(env.Attempts))
		updated, err := s.store.RequeueEnvelope(ctx, env.ID, eligibleAt)
		if err != nil {
			return requeued, err
		}
		if updated == nil {
			// Changed by someone else since the listing.
			continue
		}
		requeued++
	}

	if requeued > 0 {
		s.logger.Info("errored nps envelopes requeued", zap.Int("count", requeued))
	}
	return requeued, nil
}

var retryDelays = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
}

// RetryDelay is how long an envelope with the given attempt count waits
// before its next attempt.
func RetryDelay(attempts int) time.Duration {
	idx := attempts - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(retryDelays) {
		idx = len(retryDelays) - 1
	}
	return retryDelays[idx]
}
