package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/xumezzan/maestro-uz/internal/service"
)

var (
	webhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_webhook_requests_total",
		Help: "Gateway webhook callbacks processed, labeled by operation and outcome",
	}, []string{"gateway", "operation", "outcome"})

	webhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payments_webhook_duration_seconds",
		Help:    "Latency distribution of gateway webhook handling",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"gateway"})
)

// PaymeWebhookHandler is the single RPC-style gateway endpoint. Every
// outcome, including authentication failures, rides the gateway's JSON-RPC
// envelope with HTTP 200: the gateway treats transport errors as retry
// triggers.
func (h *Handler) PaymeWebhookHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(webhookDuration.WithLabelValues("payme"))
	defer timer.ObserveDuration()

	var req service.PaymeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		webhookRequestsTotal.WithLabelValues("payme", "unknown", "parse_error").Inc()
		respondWithJSON(w, http.StatusOK, &service.PaymeResponse{
			JSONRPC: "2.0",
			Error:   &service.PaymeError{Code: service.PaymeCodeParseError, Message: "Parse error"},
		})
		return
	}

	resp := h.payme.Handle(r.Context(), r.Header.Get("Authorization"), &req)
	webhookRequestsTotal.WithLabelValues("payme", req.Method, paymeOutcome(resp)).Inc()
	respondWithJSON(w, http.StatusOK, resp)
}

// ClickWebhookHandler is the two-phase callback endpoint. Click posts
// form-encoded bodies; JSON is accepted as well since the merchant cabinet
// test console sends it.
func (h *Handler) ClickWebhookHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(webhookDuration.WithLabelValues("click"))
	defer timer.ObserveDuration()

	req, err := parseClickRequest(r)
	if err != nil {
		webhookRequestsTotal.WithLabelValues("click", "unknown", "parse_error").Inc()
		respondWithJSON(w, http.StatusOK, &service.ClickResponse{
			Error:     service.ClickErrBadRequest,
			ErrorNote: "Malformed request",
		})
		return
	}

	resp := h.click.Handle(r.Context(), req)
	webhookRequestsTotal.WithLabelValues("click", "action_"+req.Action, strconv.Itoa(resp.Error)).Inc()
	respondWithJSON(w, http.StatusOK, resp)
}

func parseClickRequest(r *http.Request) (*service.ClickRequest, error) {
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		var fields map[string]any
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			return nil, err
		}
		return &service.ClickRequest{
			ClickTransID:    fieldString(fields, "click_trans_id"),
			ServiceID:       fieldString(fields, "service_id"),
			MerchantTransID: fieldString(fields, "merchant_trans_id"),
			Amount:          fieldString(fields, "amount"),
			Action:          fieldString(fields, "action"),
			Error:           fieldString(fields, "error"),
			ErrorNote:       fieldString(fields, "error_note"),
			SignTime:        fieldString(fields, "sign_time"),
			SignString:      fieldString(fields, "sign_string"),
		}, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	return &service.ClickRequest{
		ClickTransID:    r.PostFormValue("click_trans_id"),
		ServiceID:       r.PostFormValue("service_id"),
		MerchantTransID: r.PostFormValue("merchant_trans_id"),
		Amount:          r.PostFormValue("amount"),
		Action:          r.PostFormValue("action"),
		Error:           r.PostFormValue("error"),
		ErrorNote:       r.PostFormValue("error_note"),
		SignTime:        r.PostFormValue("sign_time"),
		SignString:      r.PostFormValue("sign_string"),
	}, nil
}

// fieldString normalizes JSON field values to the string form the signature
// was computed over.
func fieldString(fields map[string]any, key string) string {
	switch v := fields[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

func paymeOutcome(resp *service.PaymeResponse) string {
	if resp.Error != nil {
		return strconv.Itoa(resp.Error.Code)
	}
	return "ok"
}
