package devices

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lalithlochan/backoffice/internal/apperr"
	"github.com/lalithlochan/backoffice/internal/db"
)

type memStore struct {
	mu      sync.Mutex
	devices map[string]*db.Device
	reads   int
	err     error
}

func newMemStore() *memStore {
	return &memStore{devices: make(map[string]*db.Device)}
}

func (m *memStore) GetDevice(ctx context.Context, fp string) (*db.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.err != nil {
		return nil, m.err
	}
	d, ok := m.devices[fp]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (m *memStore) RegisterDevice(ctx context.Context, fp string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.devices[fp]; !ok {
		m.devices[fp] = &db.Device{Fingerprint: fp, Active: true, LastSeenAt: &now, CreatedAt: now, UpdatedAt: now}
	}
	return nil
}

func (m *memStore) AuthorizeDevice(ctx context.Context, fp string, sellerID *int64) (*db.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	d, ok := m.devices[fp]
	if !ok {
		d = &db.Device{Fingerprint: fp}
		m.devices[fp] = d
	}
	d.Authorized = true
	d.Active = true
	if sellerID != nil {
		d.SellerID = sellerID
	}
	cp := *d
	return &cp, nil
}

func (m *memStore) SetDeviceAuthorized(ctx context.Context, fp string, authorized bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	d, ok := m.devices[fp]
	if !ok {
		return false, nil
	}
	d.Authorized = authorized
	return true, nil
}

func (m *memStore) SetDeviceActive(ctx context.Context, fp string, active bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	d, ok := m.devices[fp]
	if !ok {
		return false, nil
	}
	d.Active = active
	return true, nil
}

type memCache struct {
	entries map[string]bool
	fail    bool
}

func (c *memCache) GetAuthorized(ctx context.Context, fp string) (bool, bool, error) {
	if c.fail {
		return false, false, errors.New("cache down")
	}
	v, ok := c.entries[fp]
	return v, ok, nil
}

func (c *memCache) SetAuthorized(ctx context.Context, fp string, authorized bool, ttl time.Duration) error {
	if c.fail {
		return errors.New("cache down")
	}
	c.entries[fp] = authorized
	return nil
}

func (c *memCache) Invalidate(ctx context.Context, fp string) error {
	if c.fail {
		return errors.New("cache down")
	}
	delete(c.entries, fp)
	return nil
}

const unknownFingerprint = "ad7af09b55235f4a"

func TestIsAuthorized_UnknownDevice(t *testing.T) {
	reg := NewRegistry(newMemStore(), nil, 0, zap.NewNop())

	ok, err := reg.IsAuthorized(context.Background(), unknownFingerprint)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsAuthorized_Lifecycle(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(newMemStore(), nil, 0, zap.NewNop())
	fp := "till-0007-03"

	require.NoError(t, reg.Register(ctx, fp))
	ok, err := reg.IsAuthorized(ctx, fp)
	require.NoError(t, err)
	assert.False(t, ok, "registered but not authorized")

	seller := int64(12)
	d, err := reg.Authorize(ctx, fp, &seller)
	require.NoError(t, err)
	assert.Equal(t, &seller, d.SellerID)

	ok, err = reg.IsAuthorized(ctx, fp)
	require.NoError(t, err)
	assert.True(t, ok)

	// Idempotent.
	_, err = reg.Authorize(ctx, fp, nil)
	require.NoError(t, err)
	d, err = reg.Get(ctx, fp)
	require.NoError(t, err)
	assert.Equal(t, int64(12), *d.SellerID, "nil owner keeps the current one")

	require.NoError(t, reg.Revoke(ctx, fp))
	ok, err = reg.IsAuthorized(ctx, fp)
	require.NoError(t, err)
	assert.False(t, ok, "revoked")

	require.NoError(t, reg.Revoke(ctx, fp), "second revoke is a no-op")
}

func TestIsAuthorized_InactiveDevice(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(newMemStore(), nil, 0, zap.NewNop())
	fp := "till-0001-01"

	_, err := reg.Authorize(ctx, fp, nil)
	require.NoError(t, err)
	require.NoError(t, reg.Deactivate(ctx, fp))

	ok, err := reg.IsAuthorized(ctx, fp)
	require.NoError(t, err)
	assert.False(t, ok)

	// Authorizing again reactivates.
	_, err = reg.Authorize(ctx, fp, nil)
	require.NoError(t, err)
	ok, err = reg.IsAuthorized(ctx, fp)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRevokeAndDeactivateUnknown(t *testing.T) {
	reg := NewRegistry(newMemStore(), nil, 0, zap.NewNop())

	assert.ErrorIs(t, reg.Revoke(context.Background(), unknownFingerprint), apperr.ErrNotFound)
	assert.ErrorIs(t, reg.Deactivate(context.Background(), unknownFingerprint), apperr.ErrNotFound)
	_, err := reg.Get(context.Background(), unknownFingerprint)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestAuthorizeValidation(t *testing.T) {
	reg := NewRegistry(newMemStore(), nil, 0, zap.NewNop())

	_, err := reg.Authorize(context.Background(), "short", nil)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	bad := int64(0)
	_, err = reg.Authorize(context.Background(), unknownFingerprint, &bad)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestStorageErrorPropagates(t *testing.T) {
	store := newMemStore()
	store.err = apperr.Storage("query device", errors.New("connection reset"))
	reg := NewRegistry(store, nil, 0, zap.NewNop())

	_, err := reg.IsAuthorized(context.Background(), unknownFingerprint)
	assert.ErrorIs(t, err, apperr.ErrStorage)
}

func TestCache_ReadThroughAndInvalidation(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	cache := &memCache{entries: make(map[string]bool)}
	reg := NewRegistry(store, cache, time.Minute, zap.NewNop())
	fp := "till-0002-01"

	_, err := reg.Authorize(ctx, fp, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		ok, err := reg.IsAuthorized(ctx, fp)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, 1, store.reads, "later answers come from the cache")

	require.NoError(t, reg.Revoke(ctx, fp))
	ok, err := reg.IsAuthorized(ctx, fp)
	require.NoError(t, err)
	assert.False(t, ok, "revocation is visible immediately")
}

func TestCache_FailureFallsBackToStore(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	reg := NewRegistry(store, &memCache{entries: map[string]bool{}, fail: true}, time.Minute, zap.NewNop())
	fp := "till-0003-01"

	_, err := reg.Authorize(ctx, fp, nil)
	require.NoError(t, err)

	ok, err := reg.IsAuthorized(ctx, fp)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMiddleware(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	reg := NewRegistry(store, nil, 0, zap.NewNop())
	_, err := reg.Authorize(ctx, "till-0007-03", nil)
	require.NoError(t, err)

	tests := []struct {
		name        string
		fingerprint string
		wantStatus  int
	}{
		{"authorized", "till-0007-03", http.StatusOK},
		{"unknown device", unknownFingerprint, http.StatusForbidden},
		{"missing header", "", http.StatusBadRequest},
		{"malformed", "a b", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen, _ = FingerprintFrom(r.Context())
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/v1/jobs?branch=7&register=3", nil)
			if tt.fingerprint != "" {
				req.Header.Set(FingerprintHeader, tt.fingerprint)
			}
			rec := httptest.NewRecorder()
			Middleware(reg, zap.NewNop())(next).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.fingerprint, seen)
			}
		})
	}

	// First contact was recorded, unauthorized.
	d, err := reg.Get(ctx, unknownFingerprint)
	require.NoError(t, err)
	assert.False(t, d.Authorized)
	assert.True(t, d.Active)
}
