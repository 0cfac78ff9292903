package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"tradehub-backend/internal/domain"
	"tradehub-backend/internal/pricing"
	"tradehub-backend/internal/service"
)

// CreditHandler exposes the credit engine over JSON.
type CreditHandler struct {
	credits service.CreditService
}

func NewCreditHandler(credits service.CreditService) *CreditHandler {
	return &CreditHandler{credits: credits}
}

type debitRequest struct {
	UsageType      string `json:"usage_type"`
	ReferenceID    string `json:"reference_id"`
	ReferenceType  string `json:"reference_type"`
	IdempotencyKey string `json:"idempotency_key"`
	ExpectedCost   int64  `json:"expected_cost,omitempty"`
}

func (h *CreditHandler) Debit(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())

	var req debitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed JSON body")
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}

	result, err := h.credits.Debit(r.Context(), service.DebitRequest{
		AccountID:      claims.AccountID,
		Role:           claims.Role,
		UsageType:      pricing.UsageType(req.UsageType),
		ReferenceID:    req.ReferenceID,
		ReferenceType:  req.ReferenceType,
		IdempotencyKey: req.IdempotencyKey,
		ExpectedCost:   req.ExpectedCost,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type grantRequest struct {
	AccountID      string `json:"account_id"`
	Amount         int64  `json:"amount"`
	Kind           string `json:"kind"`
	ReferenceID    string `json:"reference_id"`
	IdempotencyKey string `json:"idempotency_key"`
	Description    string `json:"description"`
}

// Grant credits an account outside the purchase flow (bonus, trial grant).
// Admin only.
func (h *CreditHandler) Grant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed JSON body")
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}

	result, err := h.credits.Credit(r.Context(), service.CreditRequest{
		AccountID:      req.AccountID,
		Amount:         req.Amount,
		Kind:           domain.TransactionKind(req.Kind),
		ReferenceID:    req.ReferenceID,
		IdempotencyKey: req.IdempotencyKey,
		Description:    req.Description,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *CreditHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	snap, err := h.credits.GetBalance(r.Context(), claims.AccountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *CreditHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	q := r.URL.Query()

	filter := domain.TransactionFilter{
		Kind:   domain.TransactionKind(q.Get("kind")),
		Status: domain.TransactionStatus(q.Get("status")),
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "from must be RFC3339")
			return
		}
		filter.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "to must be RFC3339")
			return
		}
		filter.To = &t
	}

	page := parseInt32(q.Get("page"), 1)
	pageSize := parseInt32(q.Get("page_size"), 20)

	txs, total, err := h.credits.GetHistory(r.Context(), claims.AccountID, filter, page, pageSize)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": txs,
		"total_count":  total,
		"page":         page,
		"page_size":    pageSize,
	})
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *CreditHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	transactionID := mux.Vars(r)["id"]

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed JSON body")
		return
	}

	entry, err := h.credits.Cancel(r.Context(), claims.AccountID, transactionID, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type refundRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

func (h *CreditHandler) Refund(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	transactionID := mux.Vars(r)["id"]

	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed JSON body")
		return
	}

	result, err := h.credits.Refund(r.Context(), claims.AccountID, transactionID, req.Amount, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type purchaseRequest struct {
	PackageType    string `json:"package_type"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (h *CreditHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())

	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed JSON body")
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}

	result, err := h.credits.Purchase(r.Context(), claims.AccountID, pricing.PackageType(req.PackageType), req.IdempotencyKey)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *CreditHandler) InitiatePurchase(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())

	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed JSON body")
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}

	entry, err := h.credits.InitiatePurchase(r.Context(), claims.AccountID, pricing.PackageType(req.PackageType), req.IdempotencyKey)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, entry)
}

type completePurchaseRequest struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason"`
}

// CompletePurchase settles a pending purchase once the gateway confirms or
// rejects the charge. Admin only; in production this is driven by the
// payment webhook consumer.
func (h *CreditHandler) CompletePurchase(w http.ResponseWriter, r *http.Request) {
	transactionID := mux.Vars(r)["id"]

	var req completePurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed JSON body")
		return
	}

	result, err := h.credits.CompletePurchase(r.Context(), transactionID, req.Success, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *CreditHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	if err := h.credits.CreateAccount(r.Context(), claims.AccountID); err != nil {
		writeDomainError(w, err)
		return
	}
	snap, err := h.credits.GetBalance(r.Context(), claims.AccountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func parseInt32(s string, fallback int32) int32 {
	if s == "" {
		return fallback
	}
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil || n <= 0 {
		return fallback
	}
	return int32(n)
}
