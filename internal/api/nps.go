package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/lalithlochan/backoffice/internal/apperr"
	"github.com/lalithlochan/backoffice/internal/nps"
)

// ListDispatchable handles GET /v1/nps/dispatchable?now=. now defaults to the
// server clock.
func (h *Handler) ListDispatchable(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	if raw := r.URL.Query().Get("now"); raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		now = t
	}

	envelopes, err := h.scheduler.ListDispatchable(r.Context(), now)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(envelopes))
}

// Dispatch handles POST /v1/nps/dispatch.
func (h *Handler) Dispatch(w http.ResponseWriter, r *http.Request) {
	summary, err := h.dispatcher.RunOnce(r.Context(), h.now())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type scheduleRequest struct {
	CampaignID   uuid.UUID `json:"campaign_id"`
	OrderID      int64     `json:"order_id"`
	CustomerName string    `json:"customer_name"`
	Contact      string    `json:"contact"`
	Channel      string    `json:"channel,omitempty"`
	EligibleAt   string    `json:"eligible_at,omitempty"`
}

// ScheduleEnvelope handles POST /v1/nps/envelopes.
func (h *Handler) ScheduleEnvelope(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	var eligibleAt time.Time
	if req.EligibleAt != "" {
		t, err := parseTime(req.EligibleAt)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		eligibleAt = t
	}

	env, err := h.scheduler.Schedule(r.Context(), nps.ScheduleRequest{
		CampaignID:   req.CampaignID,
		OrderID:      req.OrderID,
		CustomerName: req.CustomerName,
		Contact:      req.Contact,
		Channel:      req.Channel,
		EligibleAt:   eligibleAt,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, env)
}

// GetEnvelope handles GET /v1/nps/envelopes/{id}.
func (h *Handler) GetEnvelope(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	env, err := h.scheduler.Lookup(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if env == nil {
		h.writeError(w, r, fmt.Errorf("%w: envelope %s", apperr.ErrNotFound, id))
		return
	}
	writeJSON(w, http.StatusOK, env)
}

// FindEnvelope handles GET /v1/nps/envelopes?order_id=&campaign_id=.
func (h *Handler) FindEnvelope(w http.ResponseWriter, r *http.Request) {
	orderID, err := queryInt64(r, "order_id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	campaignID, err := uuid.Parse(r.URL.Query().Get("campaign_id"))
	if err != nil {
		h.writeError(w, r, apperr.Validation("campaign_id must be a valid UUID"))
		return
	}

	env, err := h.scheduler.LookupByOrder(r.Context(), orderID, campaignID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if env == nil {
		h.writeError(w, r, fmt.Errorf("%w: no envelope for order %d", apperr.ErrNotFound, orderID))
		return
	}
	writeJSON(w, http.StatusOK, env)
}

type attemptRequest struct {
	Result string  `json:"result"`
	Error  *string `json:"error,omitempty"`
}

// RecordAttempt handles POST /v1/nps/envelopes/{id}/attempts.
func (h *Handler) RecordAttempt(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req attemptRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := nps.ParseResult(req.Result)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	env, err := h.scheduler.RecordAttempt(r.Context(), id, result, req.Error)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, env)
}

type requeueRequest struct {
	EligibleAt string `json:"eligible_at,omitempty"`
}

// RequeueEnvelope handles POST /v1/nps/envelopes/{id}/requeue.
func (h *Handler) RequeueEnvelope(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req requeueRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	var eligibleAt time.Time
	if req.EligibleAt != "" {
		if eligibleAt, err = parseTime(req.EligibleAt); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	env, err := h.scheduler.Requeue(r.Context(), id, eligibleAt)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, env)
}
