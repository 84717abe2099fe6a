package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xumezzan/maestro-uz/internal/logging"
	"github.com/xumezzan/maestro-uz/internal/service"
	"github.com/xumezzan/maestro-uz/internal/store"
)

// Authenticator identifies the calling account on the origination endpoint.
// Session issuance lives outside this service; the implementation wired in
// production trusts the identity the edge proxy established.
type Authenticator interface {
	Authenticate(r *http.Request) (int64, error)
}

var ErrUnauthenticated = errors.New("unauthenticated")

// TrustedHeaderAuthenticator reads the account id the authenticating reverse
// proxy injects after session validation.
type TrustedHeaderAuthenticator struct {
	Header string
}

func (a TrustedHeaderAuthenticator) Authenticate(r *http.Request) (int64, error) {
	header := a.Header
	if header == "" {
		header = "X-Account-ID"
	}
	id, err := strconv.ParseInt(r.Header.Get(header), 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrUnauthenticated
	}
	return id, nil
}

type Handler struct {
	store *store.Store
	payme *service.PaymeGateway
	click *service.ClickGateway
	topup *service.TopUpService
	auth  Authenticator
	lg    *logging.ZapLogger
}

func NewHandler(
	s *store.Store,
	payme *service.PaymeGateway,
	click *service.ClickGateway,
	topup *service.TopUpService,
	auth Authenticator,
	lg *logging.ZapLogger,
) *Handler {
	return &Handler{store: s, payme: payme, click: click, topup: topup, auth: auth, lg: lg}
}

// Router wires the gateway webhooks, the origination endpoint and the
// account read surface.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods("GET")

	r.HandleFunc("/api/payments/payme", h.PaymeWebhookHandler).Methods("POST")
	r.HandleFunc("/api/payments/click", h.ClickWebhookHandler).Methods("POST")

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/payments/topup", h.CreateTopUpHandler).Methods("POST")
	apiV1.HandleFunc("/accounts", h.CreateAccountHandler).Methods("POST")
	apiV1.HandleFunc("/accounts/{id}", h.GetAccountHandler).Methods("GET")
	apiV1.HandleFunc("/accounts/{id}/transactions", h.ListTransactionsHandler).Methods("GET")

	return r
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
