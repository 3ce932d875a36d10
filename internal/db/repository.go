package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/lalithlochan/backoffice/internal/apperr"
)

// Repository handles database operations for jobs, devices, sellers and NPS envelopes.
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new repository over the shared pool.
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

const envelopeColumns = `
	id, campaign_id, order_id, customer_name, contact, channel,
	eligible_at, status, attempts, last_error, sent_at,
	created_at, updated_at`

func scanEnvelope(row rowScanner) (*Envelope, error) {
	var env Envelope
	err := row.Scan(
		&env.ID,
		&env.CampaignID,
		&env.OrderID,
		&env.CustomerName,
		&env.Contact,
		&env.Channel,
		&env.EligibleAt,
		&env.Status,
		&env.Attempts,
		&env.LastError,
		&env.SentAt,
		&env.CreatedAt,
		&env.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &env, nil
}

func collectEnvelopes(rows pgx.Rows) ([]*Envelope, error) {
	defer rows.Close()

	var envelopes []*Envelope
	for rows.Next() {
		env, err := scanEnvelope(rows)
		if err != nil {
			return nil, fmt.Errorf("scan envelope: %w", err)
		}
		envelopes = append(envelopes, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return envelopes, nil
}

// CreateEnvelope inserts a pending envelope. A second envelope for the same
// order and campaign is a conflict.
func (r *Repository) CreateEnvelope(ctx context.Context, env *Envelope) error {
	query := `
		INSERT INTO nps_envelopes (
			id, campaign_id, order_id, customer_name, contact,
			channel, eligible_at, status, attempts
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		env.ID,
		env.CampaignID,
		env.OrderID,
		env.CustomerName,
		env.Contact,
		env.Channel,
		env.EligibleAt,
		env.Status,
		env.Attempts,
	).Scan(&env.CreatedAt, &env.UpdatedAt)

	if isUniqueViolation(err) {
		return fmt.Errorf("%w: envelope for order %d and campaign %s already exists",
			apperr.ErrConflict, env.OrderID, env.CampaignID)
	}
	if err != nil {
		r.logger.Error("failed to create envelope",
			zap.Error(err),
			zap.String("envelope_id", env.ID.String()),
		)
		return apperr.Storage("insert envelope", err)
	}

	r.logger.Info("envelope created",
		zap.String("envelope_id", env.ID.String()),
		zap.String("campaign_id", env.CampaignID.String()),
		zap.Int64("order_id", env.OrderID),
	)

	return nil
}

// GetEnvelope returns the envelope or nil when it does not exist.
func (r *Repository) GetEnvelope(ctx context.Context, id uuid.UUID) (*Envelope, error) {
	query := `SELECT ` + envelopeColumns + ` FROM nps_envelopes WHERE id = $1`

	env, err := scanEnvelope(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storage("query envelope", err)
	}
	return env, nil
}

// GetEnvelopeByOrder returns the envelope sent for a sale within a campaign, or nil.
func (r *Repository) GetEnvelopeByOrder(ctx context.Context, orderID int64, campaignID uuid.UUID) (*Envelope, error) {
	query := `SELECT ` + envelopeColumns + `
		FROM nps_envelopes
		WHERE order_id = $1 AND campaign_id = $2`

	env, err := scanEnvelope(r.db.Pool().QueryRow(ctx, query, orderID, campaignID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storage("query envelope by order", err)
	}
	return env, nil
}

// ListDispatchableEnvelopes returns pending envelopes eligible at now, earliest first.
func (r *Repository) ListDispatchableEnvelopes(ctx context.Context, now time.Time, limit int) ([]*Envelope, error) {
	query := `SELECT ` + envelopeColumns + `
		FROM nps_envelopes
		WHERE status = $1 AND eligible_at <= $2
		ORDER BY eligible_at ASC, created_at ASC, id ASC
		LIMIT $3`

	rows, err := r.db.Pool().Query(ctx, query, EnvelopePending, now, limit)
	if err != nil {
		return nil, apperr.Storage("query dispatchable envelopes", err)
	}
	envelopes, err := collectEnvelopes(rows)
	if err != nil {
		return nil, apperr.Storage("list dispatchable envelopes", err)
	}
	return envelopes, nil
}

// ListErroredEnvelopes returns errored envelopes that have not used up maxAttempts.
func (r *Repository) ListErroredEnvelopes(ctx context.Context, maxAttempts, limit int) ([]*Envelope, error) {
	query := `SELECT ` + envelopeColumns + `
		FROM nps_envelopes
		WHERE status = $1 AND attempts < $2
		ORDER BY updated_at ASC
		LIMIT $3`

	rows, err := r.db.Pool().Query(ctx, query, EnvelopeErrored, maxAttempts, limit)
	if err != nil {
		return nil, apperr.Storage("query errored envelopes", err)
	}
	envelopes, err := collectEnvelopes(rows)
	if err != nil {
		return nil, apperr.Storage("list errored envelopes", err)
	}
	return envelopes, nil
}

// RecordEnvelopeAttempt moves a pending envelope to status and bumps the attempt
// counter in one conditional update. It returns nil when the envelope is not pending.
func (r *Repository) RecordEnvelopeAttempt(
	ctx context.Context,
	id uuid.UUID,
	status string,
	errorMsg *string,
	now time.Time,
) (*Envelope, error) {
	query := `
		UPDATE nps_envelopes
		SET status = $2::text,
		    attempts = attempts + 1,
		    last_error = CASE WHEN $2::text = 'erro' THEN $3 ELSE last_error END,
		    sent_at = CASE WHEN $2::text = 'enviado' THEN $4 ELSE sent_at END,
		    updated_at = $4
		WHERE id = $1 AND status = 'pendente'
		RETURNING ` + envelopeColumns

	env, err := scanEnvelope(r.db.Pool().QueryRow(ctx, query, id, status, errorMsg, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("failed to record envelope attempt",
			zap.Error(err),
			zap.String("envelope_id", id.String()),
			zap.String("status", status),
		)
		return nil, apperr.Storage("record envelope attempt", err)
	}
	return env, nil
}

// RequeueEnvelope puts an errored envelope back to pending with a new
// eligibility time. It returns nil when the envelope is not errored.
func (r *Repository) RequeueEnvelope(ctx context.Context, id uuid.UUID, eligibleAt time.Time) (*Envelope, error) {
	query := `
		UPDATE nps_envelopes
		SET status = 'pendente', eligible_at = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'erro'
		RETURNING ` + envelopeColumns

	env, err := scanEnvelope(r.db.Pool().QueryRow(ctx, query, id, eligibleAt))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storage("requeue envelope", err)
	}
	return env, nil
}

// GetCampaign returns the campaign or nil when it does not exist.
func (r *Repository) GetCampaign(ctx context.Context, id uuid.UUID) (*Campaign, error) {
	query := `
		SELECT id, name, subject, message_template, active, created_at
		FROM nps_campaigns
		WHERE id = $1
	`

	var c Campaign
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&c.ID,
		&c.Name,
		&c.Subject,
		&c.MessageTemplate,
		&c.Active,
		&c.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storage("query campaign", err)
	}
	return &c, nil
}
