// Package api provides routing for the wallet/AML core.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/casinocore/wallet-engine/internal/auth"
)

// NewRouter creates and configures the API router: public bootstrap
// auth, authenticated wallet mutations, and admin-only AML endpoints.
func NewRouter(h *Handler, issuer *auth.Issuer) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", h.HealthCheck).Methods("GET", "OPTIONS")

	// Bootstrap handshake: issues the bearer token consumed by every
	// other route. Not itself behind issuer.Middleware.
	r.HandleFunc("/ua/v1/{casino_key}/{api_token}", h.Bootstrap).Methods("POST", "OPTIONS")

	// Wallet routes: authenticated, player-scoped unless the credential
	// carries the admin role.
	walletRoutes := r.PathPrefix("/api").Subrouter()
	walletRoutes.Use(issuer.Middleware)
	walletRoutes.HandleFunc("/balance", h.Balance).Methods("POST", "OPTIONS")
	walletRoutes.HandleFunc("/check", h.Check).Methods("POST", "OPTIONS")
	walletRoutes.HandleFunc("/debit", h.Debit).Methods("POST", "OPTIONS")
	walletRoutes.HandleFunc("/credit", h.Credit).Methods("POST", "OPTIONS")
	walletRoutes.HandleFunc("/cancel", h.Cancel).Methods("POST", "OPTIONS")

	// AML routes: admin role required.
	amlRoutes := r.PathPrefix("/aml").Subrouter()
	amlRoutes.Use(issuer.Middleware, auth.RequireAdmin)
	amlRoutes.HandleFunc("/analyze-transaction/{transaction_id}", h.AnalyzeTransaction).Methods("POST", "OPTIONS")
	amlRoutes.HandleFunc("/alerts", h.CreateAlert).Methods("POST", "OPTIONS")
	amlRoutes.HandleFunc("/alerts", h.ListAlerts).Methods("GET", "OPTIONS")
	amlRoutes.HandleFunc("/alerts/{id}", h.GetAlert).Methods("GET", "OPTIONS")
	amlRoutes.HandleFunc("/alerts/{id}/status", h.UpdateAlertStatus).Methods("PUT", "OPTIONS")
	amlRoutes.HandleFunc("/player/{player_id}/risk-profile", h.GetRiskProfile).Methods("GET", "OPTIONS")
	amlRoutes.HandleFunc("/high-risk-players", h.ListHighRiskPlayers).Methods("GET", "OPTIONS")
	amlRoutes.HandleFunc("/player/{player_id}/alerts", h.GetPlayerAlerts).Methods("GET", "OPTIONS")
	amlRoutes.HandleFunc("/report", h.CreateReport).Methods("POST", "OPTIONS")

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Accept-Language", "X-Requested-With"},
		ExposedHeaders:   []string{"Link", "X-Total-Count"},
		AllowCredentials: true,
		MaxAge:           300,
	})

	return c.Handler(r)
}
