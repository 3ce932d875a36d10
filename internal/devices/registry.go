// Package devices decides which point-of-sale terminals may pull work. A
// terminal is identified by its fingerprint; only active, authorized
// fingerprints pass.
package devices

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/backoffice/internal/apperr"
	"github.com/lalithlochan/backoffice/internal/db"
)

// Store persists devices.
type Store interface {
	GetDevice(ctx context.Context, fingerprint string) (*db.Device, error)
	RegisterDevice(ctx context.Context, fingerprint string, now time.Time) error
	AuthorizeDevice(ctx context.Context, fingerprint string, sellerID *int64) (*db.Device, error)
	SetDeviceAuthorized(ctx context.Context, fingerprint string, authorized bool) (bool, error)
	SetDeviceActive(ctx context.Context, fingerprint string, active bool) (bool, error)
}

// Cache keeps recent IsAuthorized answers. Implementations may fail; the
// registry then falls back to the store.
type Cache interface {
	GetAuthorized(ctx context.Context, fingerprint string) (authorized, found bool, err error)
	SetAuthorized(ctx context.Context, fingerprint string, authorized bool, ttl time.Duration) error
	Invalidate(ctx context.Context, fingerprint string) error
}

var fingerprintPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{8,128}$`)

// ValidateFingerprint rejects empty or oddly shaped fingerprints.
func ValidateFingerprint(fingerprint string) error {
	if !fingerprintPattern.MatchString(fingerprint) {
		return apperr.Validation("device fingerprint must be 8-128 characters of [A-Za-z0-9._:-]")
	}
	return nil
}

// Registry answers authorization questions and applies admin changes.
type Registry struct {
	store    Store
	cache    Cache
	cacheTTL time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewRegistry creates a registry. cache may be nil.
func NewRegistry(store Store, cache Cache, cacheTTL time.Duration, logger *zap.Logger) *Registry {
	return &Registry{
		store:    store,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   logger,
		now:      time.Now,
	}
}

// IsAuthorized reports whether the device exists, is active and is authorized.
// An unknown fingerprint is not authorized and is not an error.
func (r *Registry) IsAuthorized(ctx context.Context, fingerprint string) (bool, error) {
	if r.cache != nil && r.cacheTTL > 0 {
		authorized, found, err := r.cache.GetAuthorized(ctx, fingerprint)
		if err != nil {
			r.logger.Warn("device cache read failed", zap.Error(err), zap.String("fingerprint", fingerprint))
		} else if found {
			return authorized, nil
		}
	}

	device, err := r.store.GetDevice(ctx, fingerprint)
	if err != nil {
		return false, err
	}
	authorized := device != nil && device.Active && device.Authorized

	if r.cache != nil && r.cacheTTL > 0 {
		if err := r.cache.SetAuthorized(ctx, fingerprint, authorized, r.cacheTTL); err != nil {
			r.logger.Warn("device cache write failed", zap.Error(err), zap.String("fingerprint", fingerprint))
		}
	}
	return authorized, nil
}

// Admit is the poll-time check: it records the first contact of an unknown
// device and returns whether the device may proceed.
func (r *Registry) Admit(ctx context.Context, fingerprint string) (bool, error) {
	authorized, err := r.IsAuthorized(ctx, fingerprint)
	if err != nil || authorized {
		return authorized, err
	}
	if err := r.store.RegisterDevice(ctx, fingerprint, r.now()); err != nil {
		return false, err
	}
	return false, nil
}

// Register records a device as seen without authorizing it. Known devices are untouched.
func (r *Registry) Register(ctx context.Context, fingerprint string) error {
	if err := ValidateFingerprint(fingerprint); err != nil {
		return err
	}
	return r.store.RegisterDevice(ctx, fingerprint, r.now())
}

// Get returns the device or ErrNotFound.
func (r *Registry) Get(ctx context.Context, fingerprint string) (*db.Device, error) {
	device, err := r.store.GetDevice(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	if device == nil {
		return nil, fmt.Errorf("%w: device %s", apperr.ErrNotFound, fingerprint)
	}
	return device, nil
}

// Authorize marks the device authorized and active, creating it when needed.
// ownerSellerID nil keeps the current owner. Repeating it is harmless.
func (r *Registry) Authorize(ctx context.Context, fingerprint string, ownerSellerID *int64) (*db.Device, error) {
	if err := ValidateFingerprint(fingerprint); err != nil {
		return nil, err
	}
	if ownerSellerID != nil && *ownerSellerID <= 0 {
		return nil, apperr.Validation("seller id must be positive")
	}

	device, err := r.store.AuthorizeDevice(ctx, fingerprint, ownerSellerID)
	if err != nil {
		return nil, err
	}
	r.invalidate(ctx, fingerprint)

	r.logger.Info("device authorized", zap.String("fingerprint", fingerprint))
	return device, nil
}

// Revoke clears the authorization flag. Revoking an already revoked device is
// a no-op; an unknown fingerprint is ErrNotFound.
func (r *Registry) Revoke(ctx context.Context, fingerprint string) error {
	exists, err := r.store.SetDeviceAuthorized(ctx, fingerprint, false)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: device %s", apperr.ErrNotFound, fingerprint)
	}
	r.invalidate(ctx, fingerprint)

	r.logger.Info("device revoked", zap.String("fingerprint", fingerprint))
	return nil
}

// Deactivate retires a device. Devices are never deleted.
func (r *Registry) Deactivate(ctx context.Context, fingerprint string) error {
	exists, err := r.store.SetDeviceActive(ctx, fingerprint, false)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: device %s", apperr.ErrNotFound, fingerprint)
	}
	r.invalidate(ctx, fingerprint)

	r.logger.Info("device deactivated", zap.String("fingerprint", fingerprint))
	return nil
}

func (r *Registry) invalidate(ctx context.Context, fingerprint string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Invalidate(ctx, fingerprint); err != nil {
		// Entry expires after cacheTTL anyway.
		r.logger.Warn("device cache invalidation failed", zap.Error(err), zap.String("fingerprint", fingerprint))
	}
}
