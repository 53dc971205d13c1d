package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"card-match-api/internal/cache"
	"card-match-api/internal/database"
	"card-match-api/internal/events"
	"card-match-api/internal/features"
	"card-match-api/internal/models"
	"card-match-api/internal/service"
)

var testNow = time.Date(2025, 10, 21, 10, 0, 0, 0, time.UTC)

func setupTestHandler(t *testing.T) (*Handler, *features.Manager, func()) {
	dbPath := "./test_handler_" + uuid.New().String() + ".db"
	db, err := database.NewDB(dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	flags := features.NewManager()
	flags.Register(features.FeatureMatchingEnabled, true, "")
	flags.Register(features.FeatureRecommendationsEnabled, true, "")
	flags.Register(features.FeatureSuccessPrediction, true, "")
	svc := service.NewService(db, cache.NewInMemoryCache(), events.NewManager(false), flags, nil)
	h := NewHandler(svc)

	cleanup := func() {
		db.Close()
		os.Remove(dbPath)
		flags.Shutdown()
	}

	return h, flags, cleanup
}

func setupRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Post("/cards", h.CreateCard)
	r.Get("/cards/{card_id}", h.GetCard)
	r.Post("/transactions", h.CreateTransaction)
	r.Get("/transactions", h.ListTransactions)
	r.Get("/transactions/{transaction_id}", h.GetTransaction)
	r.Put("/transactions/{transaction_id}/respond", h.RespondToTransaction)
	r.Put("/transactions/{transaction_id}/complete", h.CompleteTransaction)
	r.Post("/ai/match-cards", h.MatchCards)
	r.Get("/ai/recommendations", h.GetRecommendations)
	r.Get("/ai/predict-success/{owner_id}", h.PredictSuccess)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return r
}

func testCardPayload() models.Card {
	return models.Card{
		ID:          uuid.New().String(),
		OwnerID:     uuid.New().String(),
		BankName:    "HDFC",
		IsAvailable: true,
		UsageLimit:  5,
		Rating:      4.5,
		Discounts: []models.Discount{
			{
				Platform:   models.PlatformAmazon,
				Percentage: 10,
				MaxAmount:  1500,
				ValidUntil: testNow.Add(24 * time.Hour),
			},
		},
	}
}

func postJSON(t *testing.T, r *chi.Mux, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to marshal body: %v", err)
	}

	req := httptest.NewRequest("POST", path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func putJSON(t *testing.T, r *chi.Mux, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to marshal body: %v", err)
	}

	req := httptest.NewRequest("PUT", path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestHealthCheck(t *testing.T) {
	h, _, cleanup := setupTestHandler(t)
	defer cleanup()

	r := setupRouter(h)

	req := httptest.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}
	if rr.Body.String() != "OK" {
		t.Errorf("Expected body 'OK', got '%s'", rr.Body.String())
	}
}

func TestCreateCard_Success(t *testing.T) {
	h, _, cleanup := setupTestHandler(t)
	defer cleanup()

	r := setupRouter(h)

	rr := postJSON(t, r, "/cards", testCardPayload())
	if rr.Code != http.StatusCreated {
		t.Errorf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCreateCard_InvalidDiscount(t *testing.T) {
	h, _, cleanup := setupTestHandler(t)
	defer cleanup()

	r := setupRouter(h)

	card := testCardPayload()
	card.Discounts[0].Percentage = 150

	rr := postJSON(t, r, "/cards", card)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rr.Code)
	}
}

func TestCreateCard_EmptyBody(t *testing.T) {
	h, _, cleanup := setupTestHandler(t)
	defer cleanup()

	r := setupRouter(h)

	req := httptest.NewRequest("POST", "/cards", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rr.Code)
	}
}

func TestGetCard_NotFound(t *testing.T) {
	h, _, cleanup := setupTestHandler(t)
	defer cleanup()

	r := setupRouter(h)

	req := httptest.NewRequest("GET", "/cards/"+uuid.New().String(), nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rr.Code)
	}
}

func TestCreateTransaction_Success(t *testing.T) {
	h, _, cleanup := setupTestHandler(t)
	defer cleanup()

	r := setupRouter(h)

	card := testCardPayload()
	if rr := postJSON(t, r, "/cards", card); rr.Code != http.StatusCreated {
		t.Fatalf("Failed to create card: %s", rr.Body.String())
	}

	req := models.CreateTransactionRequest{
		BuyerID: uuid.New().String(),
		CardID:  card.ID,
		Product: models.Product{
			Name:          "Wireless Headphones",
			Platform:      models.PlatformAmazon,
			URL:           "https://amazon.in/item",
			OriginalPrice: 3000,
		},
	}

	rr := postJSON(t, r, "/transactions?now="+testNow.Format(time.RFC3339), req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var txn models.Transaction
	if err := json.Unmarshal(rr.Body.Bytes(), &txn); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if txn.DiscountAmount != 300 {
		t.Errorf("Expected discount 300, got %v", txn.DiscountAmount)
	}
	if txn.ServiceFee != 45.00 {
		t.Errorf("Expected service fee 45.00, got %v", txn.ServiceFee)
	}
	if txn.Status != models.StatusPending {
		t.Errorf("Expected pending status, got %s", txn.Status)
	}
}

func TestCreateTransaction_NoDiscount(t *testing.T) {
	h, _, cleanup := setupTestHandler(t)
	defer cleanup()

	r := setupRouter(h)

	card := testCardPayload()
	if rr := postJSON(t, r, "/cards", card); rr.Code != http.StatusCreated {
		t.Fatalf("Failed to create card: %s", rr.Body.String())
	}

	req := models.CreateTransactionRequest{
		BuyerID: uuid.New().String(),
		CardID:  card.ID,
		Product: models.Product{
			Name:          "Sneakers",
			Platform:      models.PlatformMyntra,
			URL:           "https://myntra.com/item",
			OriginalPrice: 2000,
		},
	}

	rr := postJSON(t, r, "/transactions?now="+testNow.Format(time.RFC3339), req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rr.Code)
	}
}

func TestTransactionLifecycle(t *testing.T) {
	h, _, cleanup := setupTestHandler(t)
	defer cleanup()

	r := setupRouter(h)

	card := testCardPayload()
	if rr := postJSON(t, r, "/cards", card); rr.Code != http.StatusCreated {
		t.Fatalf("Failed to create card: %s", rr.Body.String())
	}

	buyerID := uuid.New().String()
	createReq := models.CreateTransactionRequest{
		BuyerID: buyerID,
		CardID:  card.ID,
		Product: models.Product{
			Name:          "Wireless Headphones",
			Platform:      models.PlatformAmazon,
			URL:           "https://amazon.in/item",
			OriginalPrice: 3000,
		},
	}

	nowParam := "?now=" + testNow.Format(time.RFC3339)

	rr := postJSON(t, r, "/transactions"+nowParam, createReq)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Failed to create transaction: %s", rr.Body.String())
	}

	var txn models.Transaction
	if err := json.Unmarshal(rr.Body.Bytes(), &txn); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	// Approve as the card owner
	rr = putJSON(t, r, "/transactions/"+txn.ID+"/respond"+nowParam, models.RespondToTransactionRequest{
		OwnerID: card.OwnerID,
		Status:  models.StatusApproved,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("Failed to approve: %s", rr.Body.String())
	}

	// Complete as the buyer
	rr = putJSON(t, r, "/transactions/"+txn.ID+"/complete"+nowParam, models.CompleteTransactionRequest{
		BuyerID: buyerID,
		Rating:  5,
		Review:  "Smooth deal",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("Failed to complete: %s", rr.Body.String())
	}

	var completed models.Transaction
	if err := json.Unmarshal(rr.Body.Bytes(), &completed); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if completed.Status != models.StatusCompleted {
		t.Errorf("Expected completed status, got %s", completed.Status)
	}
}

func TestRespondToTransaction_Forbidden(t *testing.T) {
	h, _, cleanup := setupTestHandler(t)
	defer cleanup()

	r := setupRouter(h)

	card := testCardPayload()
	if rr := postJSON(t, r, "/cards", card); rr.Code != http.StatusCreated {
		t.Fatalf("Failed to create card: %s", rr.Body.String())
	}

	createReq := models.CreateTransactionRequest{
		BuyerID: uuid.New().String(),
		CardID:  card.ID,
		Product: models.Product{
			Name:          "Wireless Headphones",
			Platform:      models.PlatformAmazon,
			URL:           "https://amazon.in/item",
			OriginalPrice: 3000,
		},
	}

	rr := postJSON(t, r, "/transactions?now="+testNow.Format(time.RFC3339), createReq)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Failed to create transaction: %s", rr.Body.String())
	}

	var txn models.Transaction
	if err := json.Unmarshal(rr.Body.Bytes(), &txn); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	rr = putJSON(t, r, "/transactions/"+txn.ID+"/respond", models.RespondToTransactionRequest{
		OwnerID: uuid.New().String(),
		Status:  models.StatusApproved,
	})
	if rr.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", rr.Code)
	}
}

func TestMatchCards(t *testing.T) {
	h, _, cleanup := setupTestHandler(t)
	defer cleanup()

	r := setupRouter(h)

	card := testCardPayload()
	if rr := postJSON(t, r, "/cards", card); rr.Code != http.StatusCreated {
		t.Fatalf("Failed to create card: %s", rr.Body.String())
	}

	rr := postJSON(t, r, "/ai/match-cards?now="+testNow.Format(time.RFC3339), models.MatchRequest{
		Platform:     models.PlatformAmazon,
		ProductPrice: 3000,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp models.MatchResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if len(resp.Matches) != 1 {
		t.Fatalf("Expected 1 match, got %d", len(resp.Matches))
	}
	if resp.Matches[0].EstimatedSavings != 300 {
		t.Errorf("Expected savings 300, got %v", resp.Matches[0].EstimatedSavings)
	}
}

func TestMatchCards_InvalidPlatform(t *testing.T) {
	h, _, cleanup := setupTestHandler(t)
	defer cleanup()

	r := setupRouter(h)

	rr := postJSON(t, r, "/ai/match-cards", models.MatchRequest{
		Platform:     "eBay",
		ProductPrice: 3000,
	})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rr.Code)
	}
}

func TestGetRecommendations(t *testing.T) {
	h, _, cleanup := setupTestHandler(t)
	defer cleanup()

	r := setupRouter(h)

	card := testCardPayload()
	if rr := postJSON(t, r, "/cards", card); rr.Code != http.StatusCreated {
		t.Fatalf("Failed to create card: %s", rr.Body.String())
	}

	req := httptest.NewRequest("GET", "/ai/recommendations?platforms=Amazon,Myntra&limit=5&now="+testNow.Format(time.RFC3339), nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp models.RecommendationsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if len(resp.Recommendations) != 1 {
		t.Errorf("Expected 1 recommendation, got %d", len(resp.Recommendations))
	}
}

func TestGetRecommendations_InvalidLimit(t *testing.T) {
	h, _, cleanup := setupTestHandler(t)
	defer cleanup()

	r := setupRouter(h)

	req := httptest.NewRequest("GET", "/ai/recommendations?limit=abc", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rr.Code)
	}
}

func TestPredictSuccess(t *testing.T) {
	h, _, cleanup := setupTestHandler(t)
	defer cleanup()

	r := setupRouter(h)

	ownerID := uuid.New().String()
	req := httptest.NewRequest("GET", "/ai/predict-success/"+ownerID, nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp models.SuccessPredictionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if resp.SuccessRate != 0.75 {
		t.Errorf("Expected default 0.75, got %v", resp.SuccessRate)
	}
}

func TestMatchCards_FeatureDisabled(t *testing.T) {
	h, flags, cleanup := setupTestHandler(t)
	defer cleanup()

	flags.Disable(features.FeatureMatchingEnabled)

	r := setupRouter(h)

	rr := postJSON(t, r, "/ai/match-cards", models.MatchRequest{
		Platform:     models.PlatformAmazon,
		ProductPrice: 3000,
	})
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", rr.Code)
	}
}

func TestListTransactions_RequiresUserID(t *testing.T) {
	h, _, cleanup := setupTestHandler(t)
	defer cleanup()

	r := setupRouter(h)

	req := httptest.NewRequest("GET", "/transactions", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rr.Code)
	}
}
