package api

import (
	"net/http"

	"go.uber.org/zap"
)

type loginRequest struct {
	Code     string `json:"code"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	SellerID  int64  `json:"seller_id"`
	Name      string `json:"name"`
}

// Login handles POST /v1/auth/token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	token, seller, err := h.auth.Login(r.Context(), req.Code, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.Debug("token issued", zap.Int64("seller_id", seller.ID))
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		TokenType: "Bearer",
		SellerID:  seller.ID,
		Name:      seller.Name,
	})
}
