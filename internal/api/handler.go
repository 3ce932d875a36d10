// Package api is the HTTP surface of the back-office gateway.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/backoffice/internal/apperr"
	"github.com/lalithlochan/backoffice/internal/db"
	"github.com/lalithlochan/backoffice/internal/nps"
	"github.com/lalithlochan/backoffice/internal/worker"
)

// Authenticator logs a seller in.
type Authenticator interface {
	Login(ctx context.Context, code, password string) (string, *db.Seller, error)
}

// JobQueue is the sync job queue.
type JobQueue interface {
	Enqueue(ctx context.Context, branchID, registerID int64, payloadDate time.Time, initial bool) (*db.SyncJob, error)
	ListPending(ctx context.Context, branchID, registerID int64) ([]*db.SyncJob, error)
	Claim(ctx context.Context, jobID int64, fingerprint string) (*db.SyncJob, error)
	Resolve(ctx context.Context, jobID int64, outcome db.JobState, errorDetail *string) (*db.SyncJob, error)
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// DeviceRegistry is the admin side of the device registry.
type DeviceRegistry interface {
	Get(ctx context.Context, fingerprint string) (*db.Device, error)
	Authorize(ctx context.Context, fingerprint string, ownerSellerID *int64) (*db.Device, error)
	Revoke(ctx context.Context, fingerprint string) error
	Deactivate(ctx context.Context, fingerprint string) error
}

// NPSScheduler is the notification envelope scheduler.
type NPSScheduler interface {
	ListDispatchable(ctx context.Context, now time.Time) ([]*db.Envelope, error)
	Schedule(ctx context.Context, req nps.ScheduleRequest) (*db.Envelope, error)
	Lookup(ctx context.Context, id uuid.UUID) (*db.Envelope, error)
	LookupByOrder(ctx context.Context, orderID int64, campaignID uuid.UUID) (*db.Envelope, error)
	RecordAttempt(ctx context.Context, id uuid.UUID, result string, errorText *string) (*db.Envelope, error)
	Requeue(ctx context.Context, id uuid.UUID, eligibleAt time.Time) (*db.Envelope, error)
}

// Dispatcher runs one NPS dispatch cycle.
type Dispatcher interface {
	RunOnce(ctx context.Context, now time.Time) (*worker.Summary, error)
}

// Handler holds dependencies for API handlers.
type Handler struct {
	logger       *zap.Logger
	auth         Authenticator
	jobs         JobQueue
	devices      DeviceRegistry
	scheduler    NPSScheduler
	dispatcher   Dispatcher
	claimTimeout time.Duration
	now          func() time.Time
}

type Deps struct {
	Auth       Authenticator
	Jobs       JobQueue
	Devices    DeviceRegistry
	Scheduler  NPSScheduler
	Dispatcher Dispatcher
	// ClaimTimeout is the default reclaim threshold.
	ClaimTimeout time.Duration
}

func NewHandler(logger *zap.Logger, deps Deps) *Handler {
	if deps.ClaimTimeout <= 0 {
		deps.ClaimTimeout = 15 * time.Minute
	}
	return &Handler{
		logger:       logger,
		auth:         deps.Auth,
		jobs:         deps.Jobs,
		devices:      deps.Devices,
		scheduler:    deps.Scheduler,
		dispatcher:   deps.Dispatcher,
		claimTimeout: deps.ClaimTimeout,
		now:          time.Now,
	}
}

// listResponse wraps collection results.
type listResponse[T any] struct {
	Data  []T `json:"data"`
	Count int `json:"count"`
}

func newList[T any](items []T) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Data: items, Count: len(items)}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError logs server-side failures and writes err as problem+json.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if apperr.Status(err) >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.Error(err),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
		)
	}
	apperr.Write(w, err)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return apperr.Validation(fmt.Sprintf("malformed JSON body: %v", err))
	}
	return nil
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be empty.
func decodeOptionalJSON(r *http.Request, v any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Validation(fmt.Sprintf("malformed JSON body: %v", err))
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation(fmt.Sprintf("%s must be a positive integer", name))
	}
	return id, nil
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, apperr.Validation(fmt.Sprintf("%s must be a valid UUID", name))
	}
	return id, nil
}

func queryInt64(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, apperr.Validation(name + " is required")
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperr.Validation(name + " must be an integer")
	}
	return n, nil
}

// localLayout is accepted for timestamps sent without a zone; they are UTC.
const localLayout = "2006-01-02T15:04:05"

func parseTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(localLayout, raw)
	if err != nil {
		return time.Time{}, apperr.Validation(fmt.Sprintf("invalid timestamp %q", raw))
	}
	return t.UTC(), nil
}
