package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"card-match-api/internal/models"
	"card-match-api/internal/offer"
	"card-match-api/internal/service"
	"card-match-api/internal/validation"
)

// Handler provides HTTP handlers for the API.
type Handler struct {
	service     *service.Service
	maxBodySize int64
}

// NewHandlerOptions holds options for creating a handler.
type NewHandlerOptions struct {
	MaxBodySize int64
}

// DefaultHandlerOptions returns default handler options.
func DefaultHandlerOptions() NewHandlerOptions {
	return NewHandlerOptions{
		MaxBodySize: 10 << 20, // 10MB default
	}
}

// NewHandler creates a new handler instance.
func NewHandler(svc *service.Service) *Handler {
	return NewHandlerWithOptions(svc, DefaultHandlerOptions())
}

// NewHandlerWithOptions creates a new handler instance with custom options.
func NewHandlerWithOptions(svc *service.Service, opts NewHandlerOptions) *Handler {
	return &Handler{
		service:     svc,
		maxBodySize: opts.MaxBodySize,
	}
}

// CreateCard handles POST /cards
func (h *Handler) CreateCard(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var card models.Card
	if err := json.NewDecoder(r.Body).Decode(&card); err != nil {
		if err == io.EOF {
			h.respondError(w, http.StatusBadRequest, "request body is required")
			return
		}
		h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		return
	}

	card.ID = validation.SanitizeString(card.ID)
	card.OwnerID = validation.SanitizeString(card.OwnerID)
	card.BankName = validation.SanitizeString(card.BankName)

	if err := h.service.CreateCard(card); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.respondJSON(w, http.StatusCreated, card)
}

// GetCard handles GET /cards/{card_id}
func (h *Handler) GetCard(w http.ResponseWriter, r *http.Request) {
	cardID := validation.SanitizeString(chi.URLParam(r, "card_id"))

	card, err := h.service.GetCard(cardID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, card)
}

// CreateTransaction handles POST /transactions
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req models.CreateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err == io.EOF {
			h.respondError(w, http.StatusBadRequest, "request body is required")
			return
		}
		h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		return
	}

	req.BuyerID = validation.SanitizeString(req.BuyerID)
	req.CardID = validation.SanitizeString(req.CardID)
	req.Product.Name = validation.SanitizeString(req.Product.Name)
	req.Product.URL = validation.SanitizeString(req.Product.URL)

	txn, err := h.service.CreateTransaction(r.Context(), req, h.evaluationTime(r))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, txn)
}

// GetTransaction handles GET /transactions/{transaction_id}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	txnID := validation.SanitizeString(chi.URLParam(r, "transaction_id"))
	userID := validation.SanitizeString(r.URL.Query().Get("user_id"))

	txn, err := h.service.GetTransaction(txnID, userID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, txn)
}

// ListTransactions handles GET /transactions?user_id=&role=
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID := validation.SanitizeString(r.URL.Query().Get("user_id"))
	role := validation.SanitizeString(r.URL.Query().Get("role"))
	if role == "" {
		role = "buyer"
	}

	txns, err := h.service.ListTransactions(userID, role)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	if txns == nil {
		txns = []models.Transaction{}
	}
	h.respondJSON(w, http.StatusOK, txns)
}

// RespondToTransaction handles PUT /transactions/{transaction_id}/respond
func (h *Handler) RespondToTransaction(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	txnID := validation.SanitizeString(chi.URLParam(r, "transaction_id"))

	var req models.RespondToTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		return
	}

	req.OwnerID = validation.SanitizeString(req.OwnerID)
	req.Status = validation.SanitizeString(req.Status)

	txn, err := h.service.RespondToTransaction(r.Context(), txnID, req, h.evaluationTime(r))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, txn)
}

// CompleteTransaction handles PUT /transactions/{transaction_id}/complete
func (h *Handler) CompleteTransaction(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	txnID := validation.SanitizeString(chi.URLParam(r, "transaction_id"))

	var req models.CompleteTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		return
	}

	req.BuyerID = validation.SanitizeString(req.BuyerID)
	req.Review = validation.SanitizeString(req.Review)

	txn, err := h.service.CompleteTransaction(r.Context(), txnID, req, h.evaluationTime(r))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, txn)
}

// MatchCards handles POST /ai/match-cards
func (h *Handler) MatchCards(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req models.MatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err == io.EOF {
			h.respondError(w, http.StatusBadRequest, "request body is required")
			return
		}
		h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		return
	}

	req.PreferredBank = validation.SanitizeString(req.PreferredBank)

	resp, err := h.service.MatchCards(r.Context(), req, h.evaluationTime(r))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// GetRecommendations handles GET /ai/recommendations?platforms=Amazon,Myntra&limit=20
func (h *Handler) GetRecommendations(w http.ResponseWriter, r *http.Request) {
	var platforms []models.Platform
	for _, raw := range r.URL.Query()["platforms"] {
		for _, p := range splitCSV(raw) {
			platforms = append(platforms, models.Platform(p))
		}
	}

	limit := 0
	if rawLimit := r.URL.Query().Get("limit"); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil || parsed < 0 {
			h.respondError(w, http.StatusBadRequest, "invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	resp, err := h.service.RecommendCards(r.Context(), platforms, limit, h.evaluationTime(r))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// PredictSuccess handles GET /ai/predict-success/{owner_id}
func (h *Handler) PredictSuccess(w http.ResponseWriter, r *http.Request) {
	ownerID := validation.SanitizeString(chi.URLParam(r, "owner_id"))

	resp, err := h.service.PredictSuccess(r.Context(), ownerID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// evaluationTime returns the 'now' query parameter when supplied and valid,
// otherwise the current UTC time. Injected time keeps discount-expiry
// behavior reproducible in tests and replays.
func (h *Handler) evaluationTime(r *http.Request) time.Time {
	if nowParam := validation.SanitizeString(r.URL.Query().Get("now")); nowParam != "" {
		if parsed, err := validation.ValidateTimeString(nowParam); err == nil {
			return parsed.UTC()
		}
	}
	return time.Now().UTC()
}

// respondServiceError maps service errors to HTTP statuses.
func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		h.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrNotAuthorized):
		h.respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrFeatureDisabled):
		h.respondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, offer.ErrNoApplicableDiscount):
		h.respondError(w, http.StatusBadRequest, err.Error())
	default:
		h.respondError(w, http.StatusBadRequest, err.Error())
	}
}

// respondJSON sends a JSON response with the given status code.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response with the given status code and message.
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, models.ErrorResponse{Error: message})
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = validation.SanitizeString(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
