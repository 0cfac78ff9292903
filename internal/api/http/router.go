package http

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tradehub-backend/internal/security"
)

// NewRouter wires the credit engine's HTTP surface. Everything under /api/v1
// requires a valid bearer token; /healthz and /metrics do not.
func NewRouter(tokens security.TokenManager, credits *CreditHandler, topup *TopupHandler) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(AuthMiddleware(tokens))

	api.HandleFunc("/credits/account", credits.CreateAccount).Methods(http.MethodPost)
	api.HandleFunc("/credits/balance", credits.GetBalance).Methods(http.MethodGet)
	api.HandleFunc("/credits/transactions", credits.GetHistory).Methods(http.MethodGet)
	api.HandleFunc("/credits/debit", credits.Debit).Methods(http.MethodPost)
	api.HandleFunc("/credits/purchase", credits.Purchase).Methods(http.MethodPost)
	api.HandleFunc("/credits/purchase/initiate", credits.InitiatePurchase).Methods(http.MethodPost)
	api.HandleFunc("/credits/grant", RequireRole("admin", credits.Grant)).Methods(http.MethodPost)

	api.HandleFunc("/transactions/{id}/cancel", credits.Cancel).Methods(http.MethodPost)
	api.HandleFunc("/transactions/{id}/refund", credits.Refund).Methods(http.MethodPost)
	api.HandleFunc("/transactions/{id}/complete", RequireRole("admin", credits.CompletePurchase)).Methods(http.MethodPost)

	api.HandleFunc("/credits/auto-topup", topup.Configure).Methods(http.MethodPut)
	api.HandleFunc("/credits/auto-topup", topup.GetPolicy).Methods(http.MethodGet)
	api.HandleFunc("/credits/auto-topup/enable", topup.Enable).Methods(http.MethodPost)
	api.HandleFunc("/credits/auto-topup/disable", topup.Disable).Methods(http.MethodPost)

	return r
}
