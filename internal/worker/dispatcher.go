// Package worker runs NPS dispatch cycles: list dispatchable envelopes,
// render them, hand them to a channel sender and record every attempt.
//
// There is no ticker here. A cycle runs when something calls RunOnce (the
// dispatch endpoint or `opsctl nps dispatch` from cron); a Redis lock keeps
// overlapping invocations from sending the same envelope twice.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/backoffice/internal/apperr"
	"github.com/lalithlochan/backoffice/internal/db"
	"github.com/lalithlochan/backoffice/internal/metrics"
	"github.com/lalithlochan/backoffice/internal/nps"
)

// DispatchLockKey is the lock held for the duration of a cycle.
const DispatchLockKey = "nps:dispatch"

const (
	// lockGrace keeps the lock past the cycle deadline while the last
	// attempt is still being recorded.
	lockGrace = 30 * time.Second

	// recordTimeout bounds recording one attempt after its send.
	recordTimeout = 5 * time.Second
)

// ErrCycleInProgress means another dispatcher holds the lock.
var ErrCycleInProgress = fmt.Errorf("%w: nps dispatch cycle already running", apperr.ErrConflict)

// Scheduler is the part of nps.Scheduler a dispatch cycle uses.
type Scheduler interface {
	ListDispatchable(ctx context.Context, now time.Time) ([]*db.Envelope, error)
	RecordAttempt(ctx context.Context, id uuid.UUID, result string, errorText *string) (*db.Envelope, error)
	Campaign(ctx context.Context, id uuid.UUID) (*db.Campaign, error)
}

// Locker is a best-effort distributed mutex.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Unlock(ctx context.Context, key, token string) error
}

type Config struct {
	// CycleTimeout bounds one cycle. The lock lives lockGrace longer.
	CycleTimeout time.Duration
	// SendTimeout bounds one send. No send starts with less than this left
	// before the cycle deadline.
	SendTimeout time.Duration
}

// Summary reports one cycle.
type Summary struct {
	Listed   int           `json:"listed"`
	Sent     int           `json:"sent"`
	Errored  int           `json:"errored"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration_ns"`
}

type Dispatcher struct {
	scheduler Scheduler
	renderer  *nps.Renderer
	sender    Sender
	locker    Locker
	config    Config
	logger    *zap.Logger
}

// NewDispatcher creates a dispatcher. locker may be nil for single-instance use.
func NewDispatcher(scheduler Scheduler, renderer *nps.Renderer, sender Sender, locker Locker, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = 2 * time.Minute
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.SendTimeout > cfg.CycleTimeout {
		cfg.SendTimeout = cfg.CycleTimeout
	}
	return &Dispatcher{
		scheduler: scheduler,
		renderer:  renderer,
		sender:    sender,
		locker:    locker,
		config:    cfg,
		logger:    logger,
	}
}

// RunOnce runs a single dispatch cycle for envelopes eligible at now.
func (d *Dispatcher) RunOnce(ctx context.Context, now time.Time) (*Summary, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, d.config.CycleTimeout)
	defer cancel()

	if d.locker != nil {
		token, ok, err := d.locker.TryLock(ctx, DispatchLockKey, d.config.CycleTimeout+lockGrace)
		if err != nil {
			return nil, fmt.Errorf("acquire dispatch lock: %w", err)
		}
		if !ok {
			return nil, ErrCycleInProgress
		}
		defer func() {
			// The cycle context may be spent; release on a fresh one.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := d.locker.Unlock(unlockCtx, DispatchLockKey, token); err != nil {
				d.logger.Warn("failed to release dispatch lock", zap.Error(err))
			}
		}()
	}

	envelopes, err := d.scheduler.ListDispatchable(ctx, now)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Listed: len(envelopes)}
	campaigns := make(map[uuid.UUID]*db.Campaign)

	for _, env := range envelopes {
		if !d.hasSendBudget(ctx) {
			d.logger.Warn("dispatch cycle cut short",
				zap.Int("remaining", summary.Listed-summary.Sent-summary.Errored-summary.Skipped),
			)
			break
		}

		result, err := d.dispatch(ctx, env, campaigns)
		if err != nil {
			return summary, err
		}
		switch result {
		case db.EnvelopeSent:
			summary.Sent++
		case db.EnvelopeErrored:
			summary.Errored++
		default:
			summary.Skipped++
		}
	}

	summary.Duration = time.Since(start)
	metrics.RecordDispatchCycle(summary.Duration)
	d.logger.Info("nps dispatch cycle finished",
		zap.Int("listed", summary.Listed),
		zap.Int("sent", summary.Sent),
		zap.Int("errored", summary.Errored),
		zap.Int("skipped", summary.Skipped),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

// hasSendBudget reports whether a full send still fits before ctx's deadline.
func (d *Dispatcher) hasSendBudget(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	deadline, ok := ctx.Deadline()
	return !ok || time.Until(deadline) >= d.config.SendTimeout
}

// dispatch sends one envelope and records the attempt. It returns the
// recorded status, or "" when the envelope was recorded by someone else.
// Only storage failures are returned as errors.
func (d *Dispatcher) dispatch(ctx context.Context, env *db.Envelope, campaigns map[uuid.UUID]*db.Campaign) (string, error) {
	sendCtx, cancel := context.WithTimeout(ctx, d.config.SendTimeout)
	sendErr := d.send(sendCtx, env, campaigns)
	cancel()

	result := db.EnvelopeSent
	var errorText *string
	if sendErr != nil {
		if errors.Is(sendErr, apperr.ErrStorage) {
			return "", sendErr
		}
		result = db.EnvelopeErrored
		text := sendErr.Error()
		errorText = &text
		d.logger.Warn("nps delivery failed",
			zap.Error(sendErr),
			zap.String("envelope_id", env.ID.String()),
			zap.String("channel", env.Channel),
			zap.Int("attempt", env.Attempts+1),
		)
	}

	// Once a message is handed to a channel its attempt must be recorded,
	// even if the cycle deadline passed during the send.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	_, err := d.scheduler.RecordAttempt(recordCtx, env.ID, result, errorText)
	if errors.Is(err, apperr.ErrInvalidTransition) || errors.Is(err, apperr.ErrNotFound) {
		d.logger.Warn("nps attempt already recorded elsewhere",
			zap.String("envelope_id", env.ID.String()),
			zap.Error(err),
		)
		return "", nil
	}
	if err != nil {
		return "", err
	}

	metrics.RecordNPSAttempt(result, env.Channel)
	return result, nil
}

func (d *Dispatcher) send(ctx context.Context, env *db.Envelope, campaigns map[uuid.UUID]*db.Campaign) error {
	campaign, ok := campaigns[env.CampaignID]
	if !ok {
		c, err := d.scheduler.Campaign(ctx, env.CampaignID)
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		campaign = c
		campaigns[env.CampaignID] = c
	}
	if campaign == nil {
		return fmt.Errorf("campaign %s not found", env.CampaignID)
	}
	if !campaign.Active {
		return fmt.Errorf("campaign %s is inactive", env.CampaignID)
	}

	msg, err := d.renderer.Render(campaign, env)
	if err != nil {
		return err
	}
	return d.sender.Send(ctx, msg)
}
