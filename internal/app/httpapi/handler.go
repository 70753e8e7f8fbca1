// Package httpapi exposes the settlement services over REST.
package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	app "github.com/CurioWorks/commerce_layer/internal/app"
	"github.com/CurioWorks/commerce_layer/internal/app/core"
	"github.com/CurioWorks/commerce_layer/internal/app/metrics"
	"github.com/CurioWorks/commerce_layer/internal/payments"
	"github.com/CurioWorks/commerce_layer/pkg/logger"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
}

// requests per second and burst allowed per client IP
const (
	rateLimitPerSecond = 50
	rateLimitBurst     = 100
)

// NewHandler returns a router exposing the commerce REST API.
func NewHandler(application *app.Application, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{app: application}

	r := mux.NewRouter()
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(loggingMiddleware(log))
	v1.Use(metricsMiddleware())
	v1.Use(newRateLimiter(rateLimitPerSecond, rateLimitBurst).middleware())
	v1.HandleFunc("/listings", h.createListing).Methods(http.MethodPost)
	v1.HandleFunc("/listings/{id}", h.getListing).Methods(http.MethodGet)
	v1.HandleFunc("/checkout", h.checkout).Methods(http.MethodPost)
	v1.HandleFunc("/webhooks/payment", h.paymentWebhook).Methods(http.MethodPost)
	v1.HandleFunc("/purchases/chain", h.buyOnChain).Methods(http.MethodPost)
	v1.HandleFunc("/purchases/{id}", h.getPurchase).Methods(http.MethodGet)
	v1.HandleFunc("/purchases/{id}/claim", h.claim).Methods(http.MethodPost)
	return r
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) createListing(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Title        string `json:"title"`
		OwnerAccount string `json:"owner_account"`
		Stock        int64  `json:"stock"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	l, err := h.app.CreateListing(r.Context(), payload.Title, payload.OwnerAccount, payload.Stock)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

func (h *handler) getListing(w http.ResponseWriter, r *http.Request) {
	l, err := h.app.Store.GetListing(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (h *handler) checkout(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ListingID    string `json:"listing_id"`
		BuyerAccount string `json:"buyer_account"`
		WalletAddr   string `json:"wallet_addr"`
		Quantity     int64  `json:"quantity"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	p, err := h.app.Bridge.Checkout(r.Context(), payload.ListingID, payload.BuyerAccount, payload.WalletAddr, payload.Quantity)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// paymentWebhook ingests gateway callbacks. Replays acknowledge with 200 so
// the gateway stops retrying.
func (h *handler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	var ev payments.WebhookEvent
	if err := decodeJSON(r.Body, &ev); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.app.Bridge.HandlePaymentEvent(r.Context(), ev); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (h *handler) buyOnChain(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ListingID    string `json:"listing_id"`
		BuyerAccount string `json:"buyer_account"`
		WalletAddr   string `json:"wallet_addr"`
		Quantity     int64  `json:"quantity"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	p, err := h.app.BuyOnChain(r.Context(), payload.ListingID, payload.BuyerAccount, payload.WalletAddr, payload.Quantity)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *handler) getPurchase(w http.ResponseWriter, r *http.Request) {
	p, err := h.app.Store.GetPurchase(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	// Claim tokens travel only in the checkout/webhook flow responses.
	p.ClaimToken = ""
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) claim(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		WalletAddr string `json:"wallet_addr"`
		ClaimToken string `json:"claim_token"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	p, err := h.app.Bridge.Claim(r.Context(), mux.Vars(r)["id"], payload.ClaimToken, payload.WalletAddr)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// writeServiceError maps the error taxonomy onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case core.IsNotFound(err):
		writeError(w, http.StatusNotFound, err)
	case core.IsConflict(err):
		writeError(w, http.StatusConflict, err)
	case core.IsValidationError(err):
		writeError(w, http.StatusBadRequest, err)
	case core.IsUnreconciled(err):
		writeError(w, http.StatusBadGateway, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
