package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/backoffice/internal/apperr"
)

const jobColumns = `
	id, branch_id, register_id, payload_date, initial, state,
	claimed_by, claimed_at, resolved_at, error_detail, created_at`

func scanJob(row rowScanner) (*SyncJob, error) {
	var job SyncJob
	var state string
	err := row.Scan(
		&job.ID,
		&job.BranchID,
		&job.RegisterID,
		&job.PayloadDate,
		&job.Initial,
		&state,
		&job.ClaimedBy,
		&job.ClaimedAt,
		&job.ResolvedAt,
		&job.ErrorDetail,
		&job.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.State = JobState(state)
	return &job, nil
}

// CreateJob inserts a pending job and fills in its id and creation time.
func (r *Repository) CreateJob(ctx context.Context, job *SyncJob) error {
	query := `
		INSERT INTO sync_jobs (branch_id, register_id, payload_date, initial, state)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		job.BranchID,
		job.RegisterID,
		job.PayloadDate,
		job.Initial,
		string(JobPending),
	).Scan(&job.ID, &job.CreatedAt)
	if err != nil {
		r.logger.Error("failed to create sync job",
			zap.Error(err),
			zap.Int64("branch_id", job.BranchID),
			zap.Int64("register_id", job.RegisterID),
		)
		return apperr.Storage("insert sync job", err)
	}

	job.State = JobPending
	return nil
}

// GetJob returns the job or nil when it does not exist.
func (r *Repository) GetJob(ctx context.Context, id int64) (*SyncJob, error) {
	query := `SELECT ` + jobColumns + ` FROM sync_jobs WHERE id = $1`

	job, err := scanJob(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storage("query sync job", err)
	}
	return job, nil
}

// ListPendingJobs returns all pending jobs of one (branch, register) pair, oldest first.
func (r *Repository) ListPendingJobs(ctx context.Context, branchID, registerID int64) ([]*SyncJob, error) {
	query := `SELECT ` + jobColumns + `
		FROM sync_jobs
		WHERE branch_id = $1 AND register_id = $2 AND state = 'pending'
		ORDER BY created_at ASC, id ASC`

	rows, err := r.db.Pool().Query(ctx, query, branchID, registerID)
	if err != nil {
		return nil, apperr.Storage("query pending jobs", err)
	}
	defer rows.Close()

	var jobs []*SyncJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, apperr.Storage("scan sync job", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("iterate pending jobs", err)
	}
	return jobs, nil
}

// ClaimJob marks a pending job as claimed by fingerprint. The check and the
// write are one statement; it returns nil when the job was not pending.
func (r *Repository) ClaimJob(ctx context.Context, id int64, fingerprint string, now time.Time) (*SyncJob, error) {
	query := `
		UPDATE sync_jobs
		SET state = 'claimed', claimed_by = $2, claimed_at = $3
		WHERE id = $1 AND state = 'pending'
		RETURNING ` + jobColumns

	job, err := scanJob(r.db.Pool().QueryRow(ctx, query, id, fingerprint, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("failed to claim sync job", zap.Error(err), zap.Int64("job_id", id))
		return nil, apperr.Storage("claim sync job", err)
	}
	return job, nil
}

// ResolveJob moves a claimed job to a terminal state. It returns nil when the
// job was not claimed.
func (r *Repository) ResolveJob(ctx context.Context, id int64, to JobState, errorDetail *string, now time.Time) (*SyncJob, error) {
	query := `
		UPDATE sync_jobs
		SET state = $2, resolved_at = $3, error_detail = $4
		WHERE id = $1 AND state = 'claimed'
		RETURNING ` + jobColumns

	job, err := scanJob(r.db.Pool().QueryRow(ctx, query, id, string(to), now, errorDetail))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("failed to resolve sync job",
			zap.Error(err),
			zap.Int64("job_id", id),
			zap.String("outcome", string(to)),
		)
		return nil, apperr.Storage("resolve sync job", err)
	}
	return job, nil
}

// ReclaimStaleJobs returns claims taken before cutoff to pending and reports
// how many were released.
func (r *Repository) ReclaimStaleJobs(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		UPDATE sync_jobs
		SET state = 'pending', claimed_by = NULL, claimed_at = NULL
		WHERE state = 'claimed' AND claimed_at < $1
	`

	result, err := r.db.Pool().Exec(ctx, query, cutoff)
	if err != nil {
		return 0, apperr.Storage("reclaim stale jobs", err)
	}
	return result.RowsAffected(), nil
}
