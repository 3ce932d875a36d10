package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// GetDevice handles GET /v1/devices/{fp}.
func (h *Handler) GetDevice(w http.ResponseWriter, r *http.Request) {
	device, err := h.devices.Get(r.Context(), chi.URLParam(r, "fp"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, device)
}

type authorizeRequest struct {
	SellerID *int64 `json:"seller_id,omitempty"`
}

// AuthorizeDevice handles PUT /v1/devices/{fp}/authorization. The body is
// optional and only names the owning seller.
func (h *Handler) AuthorizeDevice(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	device, err := h.devices.Authorize(r.Context(), chi.URLParam(r, "fp"), req.SellerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, device)
}

// RevokeDevice handles DELETE /v1/devices/{fp}/authorization.
func (h *Handler) RevokeDevice(w http.ResponseWriter, r *http.Request) {
	if err := h.devices.Revoke(r.Context(), chi.URLParam(r, "fp")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeactivateDevice handles POST /v1/devices/{fp}/deactivate.
func (h *Handler) DeactivateDevice(w http.ResponseWriter, r *http.Request) {
	if err := h.devices.Deactivate(r.Context(), chi.URLParam(r, "fp")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
