// Package jobs is the synchronization work queue polled by point-of-sale
// terminals. Jobs are partitioned by (branch, register); a terminal lists the
// pending jobs of its partition, claims one at a time and reports the outcome.
//
// Listing never claims. Several terminals may see the same job; the claim is
// a single conditional write, so at most one of them wins.
package jobs

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/backoffice/internal/apperr"
	"github.com/lalithlochan/backoffice/internal/db"
	"github.com/lalithlochan/backoffice/internal/metrics"
)

// Store persists jobs. ClaimJob and ResolveJob must be atomic
// check-and-set operations that return nil when the precondition fails.
type Store interface {
	CreateJob(ctx context.Context, job *db.SyncJob) error
	GetJob(ctx context.Context, id int64) (*db.SyncJob, error)
	ListPendingJobs(ctx context.Context, branchID, registerID int64) ([]*db.SyncJob, error)
	ClaimJob(ctx context.Context, id int64, fingerprint string, now time.Time) (*db.SyncJob, error)
	ResolveJob(ctx context.Context, id int64, to db.JobState, errorDetail *string, now time.Time) (*db.SyncJob, error)
	ReclaimStaleJobs(ctx context.Context, cutoff time.Time) (int64, error)
}

// OutcomePublisher announces resolved jobs to downstream consumers.
type OutcomePublisher interface {
	PublishOutcome(ctx context.Context, job *db.SyncJob) error
}

// Queue implements the claim/resolve protocol on top of a Store.
type Queue struct {
	store     Store
	publisher OutcomePublisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewQueue creates a queue. publisher may be nil.
func NewQueue(store Store, publisher OutcomePublisher, logger *zap.Logger) *Queue {
	return &Queue{
		store:     store,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// Enqueue adds a pending job for a (branch, register) pair.
func (q *Queue) Enqueue(ctx context.Context, branchID, registerID int64, payloadDate time.Time, initial bool) (*db.SyncJob, error) {
	if err := validatePartition(branchID, registerID); err != nil {
		return nil, err
	}
	if payloadDate.IsZero() {
		return nil, apperr.Validation("payload_date is required")
	}

	job := &db.SyncJob{
		BranchID:    branchID,
		RegisterID:  registerID,
		PayloadDate: payloadDate,
		Initial:     initial,
	}
	if err := q.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	metrics.RecordJobEnqueued()
	q.logger.Info("sync job enqueued",
		zap.Int64("job_id", job.ID),
		zap.Int64("branch_id", branchID),
		zap.Int64("register_id", registerID),
		zap.Bool("initial", initial),
	)
	return job, nil
}

// ListPending returns every pending job of one partition, oldest first. An
// empty result is a normal answer.
func (q *Queue) ListPending(ctx context.Context, branchID, registerID int64) ([]*db.SyncJob, error) {
	if err := validatePartition(branchID, registerID); err != nil {
		return nil, err
	}

	jobs, err := q.store.ListPendingJobs(ctx, branchID, registerID)
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []*db.SyncJob{}
	}
	return jobs, nil
}

// Claim moves a pending job to claimed on behalf of fingerprint. A job that
// is no longer pending is ErrConflict; an unknown job is ErrNotFound.
func (q *Queue) Claim(ctx context.Context, jobID int64, fingerprint string) (*db.SyncJob, error) {
	if jobID <= 0 {
		return nil, apperr.Validation("job id must be positive")
	}
	if fingerprint == "" {
		return nil, apperr.Validation("claimant fingerprint is required")
	}

	job, err := q.store.ClaimJob(ctx, jobID, fingerprint, q.now())
	if err != nil {
		return nil, err
	}
	if job != nil {
		metrics.RecordJobClaim("claimed")
		q.logger.Info("sync job claimed",
			zap.Int64("job_id", jobID),
			zap.String("fingerprint", fingerprint),
		)
		return job, nil
	}

	current, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		metrics.RecordJobClaim("not_found")
		return nil, fmt.Errorf("%w: job %d", apperr.ErrNotFound, jobID)
	}

	metrics.RecordJobClaim("conflict")
	q.logger.Debug("sync job claim lost",
		zap.Int64("job_id", jobID),
		zap.String("fingerprint", fingerprint),
		zap.String("state", string(current.State)),
	)
	return nil, fmt.Errorf("%w: job %d is %s", apperr.ErrConflict, jobID, current.State)
}

// Resolve moves a claimed job to completed or failed. Resolving a job that is
// not claimed is ErrInvalidTransition.
func (q *Queue) Resolve(ctx context.Context, jobID int64, outcome db.JobState, errorDetail *string) (*db.SyncJob, error) {
	if jobID <= 0 {
		return nil, apperr.Validation("job id must be positive")
	}
	event, err := db.EventFor(outcome)
	if err != nil {
		return nil, err
	}
	to, err := db.JobClaimed.Next(event)
	if err != nil {
		return nil, err
	}
	if to == db.JobCompleted {
		errorDetail = nil
	}

	job, err := q.store.ResolveJob(ctx, jobID, to, errorDetail, q.now())
	if err != nil {
		return nil, err
	}
	if job == nil {
		current, err := q.store.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, fmt.Errorf("%w: job %d", apperr.ErrNotFound, jobID)
		}
		_, err = current.State.Next(event)
		if err == nil {
			// Raced with a reclaim between the update and the read.
			err = fmt.Errorf("%w: job %d is no longer claimed", apperr.ErrInvalidTransition, jobID)
		}
		return nil, fmt.Errorf("job %d: %w", jobID, err)
	}

	metrics.RecordJobResolved(string(to))
	q.logger.Info("sync job resolved",
		zap.Int64("job_id", jobID),
		zap.String("outcome", string(to)),
	)

	if q.publisher != nil {
		if err := q.publisher.PublishOutcome(ctx, job); err != nil {
			q.logger.Warn("failed to publish job outcome",
				zap.Error(err),
				zap.Int64("job_id", jobID),
			)
		}
	}
	return job, nil
}

// ReclaimStale returns claims older than olderThan to pending so another
// terminal can pick them up. It is run by an operator or a cron caller.
func (q *Queue) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, apperr.Validation("reclaim threshold must be positive")
	}

	cutoff := q.now().Add(-olderThan)
	n, err := q.store.ReclaimStaleJobs(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	metrics.RecordJobsReclaimed(n)
	if n > 0 {
		q.logger.Warn("stale claims returned to pending",
			zap.Int64("count", n),
			zap.Time("cutoff", cutoff),
		)
	}
	return n, nil
}

func validatePartition(branchID, registerID int64) error {
	if branchID <= 0 || registerID <= 0 {
		return apperr.Validation("branch and register must be positive")
	}
	return nil
}
