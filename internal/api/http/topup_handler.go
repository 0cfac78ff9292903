package http

import (
	"encoding/json"
	"net/http"

	"tradehub-backend/internal/pricing"
	"tradehub-backend/internal/service"
)

// TopupHandler exposes auto-topup policy management.
type TopupHandler struct {
	topup service.TopupService
}

func NewTopupHandler(topup service.TopupService) *TopupHandler {
	return &TopupHandler{topup: topup}
}

type configureTopupRequest struct {
	TriggerBalance int64  `json:"trigger_balance"`
	TopupAmount    int64  `json:"topup_amount"`
	PackageType    string `json:"package_type"`
}

func (h *TopupHandler) Configure(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())

	var req configureTopupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed JSON body")
		return
	}

	err := h.topup.Configure(r.Context(), claims.AccountID, req.TriggerBalance, req.TopupAmount, pricing.PackageType(req.PackageType))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	policy, err := h.topup.GetPolicy(r.Context(), claims.AccountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

func (h *TopupHandler) Enable(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	if err := h.topup.Enable(r.Context(), claims.AccountID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TopupHandler) Disable(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	if err := h.topup.Disable(r.Context(), claims.AccountID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TopupHandler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	policy, err := h.topup.GetPolicy(r.Context(), claims.AccountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}
