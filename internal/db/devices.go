package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lalithlochan/backoffice/internal/apperr"
)

const deviceColumns = `
	fingerprint, authorized, seller_id, active, last_seen_at, created_at, updated_at`

func scanDevice(row rowScanner) (*Device, error) {
	var d Device
	err := row.Scan(
		&d.Fingerprint,
		&d.Authorized,
		&d.SellerID,
		&d.Active,
		&d.LastSeenAt,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// GetDevice returns the device or nil when the fingerprint is unknown.
func (r *Repository) GetDevice(ctx context.Context, fingerprint string) (*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE fingerprint = $1`

	d, err := scanDevice(r.db.Pool().QueryRow(ctx, query, fingerprint))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storage("query device", err)
	}
	return d, nil
}

// RegisterDevice records the first contact of a device. Existing rows are untouched.
func (r *Repository) RegisterDevice(ctx context.Context, fingerprint string, now time.Time) error {
	query := `
		INSERT INTO devices (fingerprint, authorized, active, last_seen_at)
		VALUES ($1, FALSE, TRUE, $2)
		ON CONFLICT (fingerprint) DO NOTHING
	`

	if _, err := r.db.Pool().Exec(ctx, query, fingerprint, now); err != nil {
		return apperr.Storage("register device", err)
	}
	return nil
}

// AuthorizeDevice creates or updates the device as authorized and active. A
// nil seller keeps the current owner.
func (r *Repository) AuthorizeDevice(ctx context.Context, fingerprint string, sellerID *int64) (*Device, error) {
	query := `
		INSERT INTO devices (fingerprint, authorized, seller_id, active)
		VALUES ($1, TRUE, $2, TRUE)
		ON CONFLICT (fingerprint) DO UPDATE
		SET authorized = TRUE,
		    active = TRUE,
		    seller_id = COALESCE(EXCLUDED.seller_id, devices.seller_id),
		    updated_at = NOW()
		RETURNING ` + deviceColumns

	d, err := scanDevice(r.db.Pool().QueryRow(ctx, query, fingerprint, sellerID))
	if err != nil {
		return nil, apperr.Storage("authorize device", err)
	}
	return d, nil
}

// SetDeviceAuthorized flips the authorization flag and reports whether the device exists.
func (r *Repository) SetDeviceAuthorized(ctx context.Context, fingerprint string, authorized bool) (bool, error) {
	query := `
		UPDATE devices
		SET authorized = $2, updated_at = NOW()
		WHERE fingerprint = $1
	`

	result, err := r.db.Pool().Exec(ctx, query, fingerprint, authorized)
	if err != nil {
		return false, apperr.Storage("update device authorization", err)
	}
	return result.RowsAffected() > 0, nil
}

// SetDeviceActive flips the active flag and reports whether the device exists.
func (r *Repository) SetDeviceActive(ctx context.Context, fingerprint string, active bool) (bool, error) {
	query := `
		UPDATE devices
		SET active = $2, updated_at = NOW()
		WHERE fingerprint = $1
	`

	result, err := r.db.Pool().Exec(ctx, query, fingerprint, active)
	if err != nil {
		return false, apperr.Storage("update device active flag", err)
	}
	return result.RowsAffected() > 0, nil
}
