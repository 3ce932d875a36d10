package api

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/backoffice/internal/apperr"
	"github.com/lalithlochan/backoffice/internal/db"
	"github.com/lalithlochan/backoffice/internal/devices"
)

// PollJobs handles GET /v1/jobs?branch=&register=.
func (h *Handler) PollJobs(w http.ResponseWriter, r *http.Request) {
	branchID, err := queryInt64(r, "branch")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	registerID, err := queryInt64(r, "register")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	jobs, err := h.jobs.ListPending(r.Context(), branchID, registerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(jobs))
}

// ClaimJob handles POST /v1/jobs/{id}/claim. The claimant is the calling device.
func (h *Handler) ClaimJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	fingerprint, ok := devices.FingerprintFrom(r.Context())
	if !ok {
		h.writeError(w, r, fmt.Errorf("%w: no device on request", apperr.ErrNotAuthorized))
		return
	}

	job, err := h.jobs.Claim(r.Context(), jobID, fingerprint)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type resolveRequest struct {
	Outcome     string  `json:"outcome"`
	ErrorDetail *string `json:"error_detail,omitempty"`
}

// ResolveJob handles POST /v1/jobs/{id}/resolve.
func (h *Handler) ResolveJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	job, err := h.jobs.Resolve(r.Context(), jobID, db.JobState(req.Outcome), req.ErrorDetail)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type enqueueRequest struct {
	BranchID    int64  `json:"branch_id"`
	RegisterID  int64  `json:"register_id"`
	PayloadDate string `json:"payload_date"`
	Initial     bool   `json:"initial"`
}

// EnqueueJob handles POST /v1/jobs.
func (h *Handler) EnqueueJob(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	payloadDate, err := time.Parse(time.DateOnly, req.PayloadDate)
	if err != nil {
		h.writeError(w, r, apperr.Validation("payload_date must be YYYY-MM-DD"))
		return
	}

	job, err := h.jobs.Enqueue(r.Context(), req.BranchID, req.RegisterID, payloadDate, req.Initial)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

type reclaimRequest struct {
	OlderThan string `json:"older_than,omitempty"`
}

// ReclaimJobs handles POST /v1/jobs/reclaim. The body is optional.
func (h *Handler) ReclaimJobs(w http.ResponseWriter, r *http.Request) {
	olderThan := h.claimTimeout
	var req reclaimRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.OlderThan != "" {
		d, err := time.ParseDuration(req.OlderThan)
		if err != nil {
			h.writeError(w, r, apperr.Validation("older_than must be a duration such as 15m"))
			return
		}
		olderThan = d
	}

	n, err := h.jobs.ReclaimStale(r.Context(), olderThan)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.Info("reclaim requested", zap.Int64("reclaimed", n), zap.Duration("older_than", olderThan))
	writeJSON(w, http.StatusOK, map[string]any{
		"reclaimed":  n,
		"older_than": olderThan.String(),
	})
}
