package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/xumezzan/maestro-uz/internal/models"
	"github.com/xumezzan/maestro-uz/internal/service"
	"github.com/xumezzan/maestro-uz/internal/store"
	"go.uber.org/zap"
)

// CreateTopUpHandler originates a balance top-up for the authenticated
// caller and returns the checkout redirect URL.
func (h *Handler) CreateTopUpHandler(w http.ResponseWriter, r *http.Request) {
	accountID, err := h.auth.Authenticate(r)
	if err != nil {
		respondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req models.TopUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	resp, err := h.topup.CreateTopUp(r.Context(), accountID, req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAmountTooLow):
			respondWithError(w, http.StatusBadRequest, "Minimum top-up amount is 5000 UZS")
		case errors.Is(err, service.ErrUnknownSystem):
			respondWithError(w, http.StatusBadRequest, "Unknown payment system")
		case errors.Is(err, store.ErrAccountNotFound):
			respondWithError(w, http.StatusNotFound, "Account not found")
		default:
			h.lg.Error("top-up origination failed", zap.Error(err))
			respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		}
		return
	}

	respondWithJSON(w, http.StatusCreated, resp)
}

func (h *Handler) CreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	id, err := h.store.CreateAccount(r.Context(), 0)
	if err != nil {
		h.lg.Error("account creation failed", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "System error creating account")
		return
	}
	respondWithJSON(w, http.StatusCreated, map[string]int64{"account_id": id})
}

func (h *Handler) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid account id")
		return
	}

	account, err := h.store.GetAccount(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			respondWithError(w, http.StatusNotFound, "Account not found")
			return
		}
		h.lg.Error("account fetch failed", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	respondWithJSON(w, http.StatusOK, account)
}

func (h *Handler) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid account id")
		return
	}

	txns, err := h.store.ListTransactions(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			respondWithError(w, http.StatusNotFound, "Account not found")
			return
		}
		h.lg.Error("transaction list failed", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if txns == nil {
		txns = []models.Transaction{}
	}
	respondWithJSON(w, http.StatusOK, txns)
}
