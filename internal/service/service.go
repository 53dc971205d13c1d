package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"card-match-api/internal/cache"
	"card-match-api/internal/database"
	"card-match-api/internal/events"
	"card-match-api/internal/features"
	"card-match-api/internal/models"
	"card-match-api/internal/offer"
	"card-match-api/internal/ranking"
	"card-match-api/internal/validation"
)

// Service-level sentinel errors for conditions the handler maps to specific
// HTTP statuses.
var (
	ErrNotFound        = errors.New("record not found")
	ErrNotAuthorized   = errors.New("not authorized")
	ErrWrongStatus     = errors.New("transaction is not in the required status")
	ErrFeatureDisabled = errors.New("feature is disabled")
)

// Service provides the business logic for the card matching API. All discount
// and scoring computation is delegated to the pure offer and ranking packages;
// this layer supplies data, applies returned transforms to the store, and
// publishes events.
type Service struct {
	db     *database.DB
	cache  cache.Cache
	events *events.Manager
	flags  *features.Manager
	ranker *ranking.Ranker
}

// NewService creates a new service instance.
func NewService(db *database.DB, c cache.Cache, ev *events.Manager, flags *features.Manager, ranker *ranking.Ranker) *Service {
	if ranker == nil {
		ranker = ranking.New(nil)
	}
	if ev == nil {
		ev = events.NewManager(false)
	}
	return &Service{db: db, cache: c, events: ev, flags: flags, ranker: ranker}
}

// CreateCard validates and stores a card listing.
func (s *Service) CreateCard(card models.Card) error {
	if err := validation.ValidateCard(card); err != nil {
		return err
	}

	return s.db.UpsertCard(card)
}

// GetCard returns one card by id.
func (s *Service) GetCard(cardID string) (models.Card, error) {
	if err := validation.ValidateUUID(cardID, "card_id"); err != nil {
		return models.Card{}, err
	}

	card, err := s.db.GetCard(cardID)
	if errors.Is(err, database.ErrNotFound) {
		return models.Card{}, ErrNotFound
	}
	return card, err
}

// CreateTransaction resolves the discount for the requested card and product,
// computes the settlement and records a pending transaction. The card's
// counters are untouched until the owner approves.
func (s *Service) CreateTransaction(ctx context.Context, req models.CreateTransactionRequest, now time.Time) (models.Transaction, error) {
	if err := validation.ValidateUUID(req.BuyerID, "buyer_id"); err != nil {
		return models.Transaction{}, err
	}
	if err := validation.ValidateUUID(req.CardID, "card_id"); err != nil {
		return models.Transaction{}, err
	}
	if err := validation.ValidateProduct(req.Product); err != nil {
		return models.Transaction{}, err
	}

	card, err := s.db.GetCard(req.CardID)
	if errors.Is(err, database.ErrNotFound) {
		return models.Transaction{}, ErrNotFound
	}
	if err != nil {
		return models.Transaction{}, fmt.Errorf("failed to load card: %w", err)
	}

	intent := models.PurchaseIntent{
		Platform:      req.Product.Platform,
		OriginalPrice: req.Product.OriginalPrice,
	}

	discount, err := offer.ResolveDiscount(intent, card, now)
	if err != nil {
		return models.Transaction{}, err
	}

	settlement, err := offer.ComputeSettlement(intent, discount)
	if err != nil {
		return models.Transaction{}, err
	}

	product := req.Product
	product.DiscountedPrice = settlement.DiscountedPrice

	txn := models.Transaction{
		ID:             uuid.New().String(),
		BuyerID:        req.BuyerID,
		CardOwnerID:    card.OwnerID,
		CardID:         card.ID,
		Product:        product,
		DiscountAmount: settlement.DiscountAmount,
		ServiceFee:     settlement.ServiceFee,
		OwnerEarnings:  settlement.OwnerEarnings,
		Status:         models.StatusPending,
		RequestedAt:    now,
	}

	if err := s.db.InsertTransaction(txn); err != nil {
		return models.Transaction{}, err
	}

	s.events.PublishTransactionRequested(ctx, txn)

	return txn, nil
}

// GetTransaction returns one transaction, restricted to its participants.
func (s *Service) GetTransaction(txnID, userID string) (models.Transaction, error) {
	if err := validation.ValidateUUID(txnID, "transaction_id"); err != nil {
		return models.Transaction{}, err
	}

	txn, err := s.db.GetTransaction(txnID)
	if errors.Is(err, database.ErrNotFound) {
		return models.Transaction{}, ErrNotFound
	}
	if err != nil {
		return models.Transaction{}, err
	}

	if userID != "" && txn.BuyerID != userID && txn.CardOwnerID != userID {
		return models.Transaction{}, ErrNotAuthorized
	}

	return txn, nil
}

// ListTransactions returns a user's transactions in the given role.
func (s *Service) ListTransactions(userID, role string) ([]models.Transaction, error) {
	if err := validation.ValidateUUID(userID, "user_id"); err != nil {
		return nil, err
	}
	if role != "buyer" && role != "card_owner" {
		return nil, &validation.ValidationError{
			Field:   "role",
			Message: "must be 'buyer' or 'card_owner'",
		}
	}

	return s.db.ListTransactionsByUser(userID, role)
}

// RespondToTransaction lets the card owner approve or reject a pending
// transaction. Approval applies the usage increment atomically at the store,
// so a racing approval past the last slot fails rather than oversubscribing
// the card.
func (s *Service) RespondToTransaction(ctx context.Context, txnID string, req models.RespondToTransactionRequest, now time.Time) (models.Transaction, error) {
	if err := validation.ValidateUUID(txnID, "transaction_id"); err != nil {
		return models.Transaction{}, err
	}
	if err := validation.ValidateUUID(req.OwnerID, "owner_id"); err != nil {
		return models.Transaction{}, err
	}
	if req.Status != models.StatusApproved && req.Status != models.StatusRejected {
		return models.Transaction{}, &validation.ValidationError{
			Field:   "status",
			Message: "must be 'approved' or 'rejected'",
		}
	}

	txn, err := s.db.GetTransaction(txnID)
	if errors.Is(err, database.ErrNotFound) {
		return models.Transaction{}, ErrNotFound
	}
	if err != nil {
		return models.Transaction{}, err
	}

	if txn.CardOwnerID != req.OwnerID {
		return models.Transaction{}, ErrNotAuthorized
	}
	if txn.Status != models.StatusPending {
		return models.Transaction{}, ErrWrongStatus
	}

	if req.Status == models.StatusApproved {
		if err := s.db.ApplyCardUsage(txn.CardID); err != nil {
			if errors.Is(err, database.ErrUsageLimitRaced) {
				return models.Transaction{}, offer.ErrNoApplicableDiscount
			}
			return models.Transaction{}, err
		}
	}

	if err := s.db.UpdateTransactionStatus(txnID, req.Status, now, 0, ""); err != nil {
		return models.Transaction{}, err
	}

	s.events.PublishTransactionResponded(ctx, txnID, req.Status)

	return s.db.GetTransaction(txnID)
}

// CompleteTransaction lets the buyer complete an approved transaction with a
// rating. The card's rating and transaction counters are computed by the pure
// RecordCompletion transform, then applied to the store.
func (s *Service) CompleteTransaction(ctx context.Context, txnID string, req models.CompleteTransactionRequest, now time.Time) (models.Transaction, error) {
	if err := validation.ValidateUUID(txnID, "transaction_id"); err != nil {
		return models.Transaction{}, err
	}
	if err := validation.ValidateUUID(req.BuyerID, "buyer_id"); err != nil {
		return models.Transaction{}, err
	}
	if err := validation.ValidateRating(req.Rating); err != nil {
		return models.Transaction{}, err
	}

	txn, err := s.db.GetTransaction(txnID)
	if errors.Is(err, database.ErrNotFound) {
		return models.Transaction{}, ErrNotFound
	}
	if err != nil {
		return models.Transaction{}, err
	}

	if txn.BuyerID != req.BuyerID {
		return models.Transaction{}, ErrNotAuthorized
	}
	if txn.Status != models.StatusApproved {
		return models.Transaction{}, ErrWrongStatus
	}

	card, err := s.db.GetCard(txn.CardID)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("failed to load card: %w", err)
	}

	updated, err := offer.RecordCompletion(card, req.Rating)
	if err != nil {
		return models.Transaction{}, err
	}

	if err := s.db.ApplyCardCompletion(card.ID, updated.Rating, updated.TotalTransactions); err != nil {
		return models.Transaction{}, err
	}

	if err := s.db.UpdateTransactionStatus(txnID, models.StatusCompleted, now, req.Rating, req.Review); err != nil {
		return models.Transaction{}, err
	}

	txn, err = s.db.GetTransaction(txnID)
	if err != nil {
		return models.Transaction{}, err
	}

	s.events.PublishTransactionCompleted(ctx, txn)

	return txn, nil
}

// MatchCards ranks available cards for a buyer's intended purchase.
func (s *Service) MatchCards(ctx context.Context, req models.MatchRequest, now time.Time) (models.MatchResponse, error) {
	if s.flags != nil && !s.flags.IsEnabled(features.FeatureMatchingEnabled) {
		return models.MatchResponse{}, ErrFeatureDisabled
	}

	intent := models.PurchaseIntent{
		Platform:      req.Platform,
		OriginalPrice: req.ProductPrice,
	}
	if err := validation.ValidateIntent(intent); err != nil {
		return models.MatchResponse{}, err
	}

	candidates, err := s.db.ListAvailableCards()
	if err != nil {
		return models.MatchResponse{}, fmt.Errorf("failed to load candidate cards: %w", err)
	}

	matches := s.ranker.RankForPurchase(intent, req.PreferredBank, candidates, now)

	s.events.PublishMatchPerformed(ctx, req.Platform, len(candidates), len(matches))

	return models.MatchResponse{Matches: matches}, nil
}

// RecommendCards ranks available cards against a user's preferred platforms.
// Results are cached briefly when the cache flag is on; the cache is
// best-effort and failures fall through to a fresh ranking.
func (s *Service) RecommendCards(ctx context.Context, platforms []models.Platform, limit int, now time.Time) (models.RecommendationsResponse, error) {
	if s.flags != nil && !s.flags.IsEnabled(features.FeatureRecommendationsEnabled) {
		return models.RecommendationsResponse{}, ErrFeatureDisabled
	}

	for _, p := range platforms {
		if !p.Valid() {
			return models.RecommendationsResponse{}, &validation.ValidationError{
				Field:   "platforms",
				Message: fmt.Sprintf("unknown platform '%s'", p),
			}
		}
	}
	if limit <= 0 {
		limit = ranking.DefaultRecommendLimit
	}

	useCache := s.cache != nil && s.flags != nil && s.flags.IsEnabled(features.FeatureCacheEnabled)
	var key string
	if useCache {
		names := make([]string, len(platforms))
		for i, p := range platforms {
			names[i] = string(p)
		}
		key = cache.RecommendationKey(names, limit)

		var cached models.RecommendationsResponse
		if err := cache.GetJSON(ctx, s.cache, key, &cached); err == nil {
			return cached, nil
		}
	}

	candidates, err := s.db.ListAvailableCards()
	if err != nil {
		return models.RecommendationsResponse{}, fmt.Errorf("failed to load candidate cards: %w", err)
	}

	recs := s.ranker.RankForRecommendation(platforms, candidates, now, limit)
	resp := models.RecommendationsResponse{Recommendations: recs}

	if useCache {
		_ = cache.SetJSON(ctx, s.cache, key, resp, cache.DefaultRecommendationTTL)
	}

	return resp, nil
}

// PredictSuccess estimates how likely a card owner is to complete a new
// transaction, from their transaction history.
func (s *Service) PredictSuccess(ctx context.Context, ownerID string) (models.SuccessPredictionResponse, error) {
	if s.flags != nil && !s.flags.IsEnabled(features.FeatureSuccessPrediction) {
		return models.SuccessPredictionResponse{}, ErrFeatureDisabled
	}

	if err := validation.ValidateUUID(ownerID, "owner_id"); err != nil {
		return models.SuccessPredictionResponse{}, err
	}

	completed, total, err := s.db.CountTransactionsByOwner(ownerID)
	if err != nil {
		return models.SuccessPredictionResponse{}, err
	}

	return models.SuccessPredictionResponse{
		OwnerID:     ownerID,
		SuccessRate: ranking.PredictSuccessRate(completed, total),
	}, nil
}
