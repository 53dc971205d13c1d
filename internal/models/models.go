package models

import "time"

// Platform identifies the shopping platform a discount applies to.
type Platform string

const (
	PlatformAmazon   Platform = "Amazon"
	PlatformFlipkart Platform = "Flipkart"
	PlatformMyntra   Platform = "Myntra"
	PlatformOther    Platform = "Other"
)

// KnownPlatforms lists every accepted platform value.
var KnownPlatforms = []Platform{PlatformAmazon, PlatformFlipkart, PlatformMyntra, PlatformOther}

// Valid reports whether p is one of the known platforms.
func (p Platform) Valid() bool {
	for _, known := range KnownPlatforms {
		if p == known {
			return true
		}
	}
	return false
}

// Discount is a platform-scoped, time-bound percentage discount with an absolute cap.
type Discount struct {
	Platform    Platform  `json:"platform"`
	Percentage  float64   `json:"percentage"`   // 0..100
	MaxAmount   float64   `json:"max_amount"`   // absolute cap on the discount
	MinPurchase float64   `json:"min_purchase"` // minimum order value, 0 = none
	ValidUntil  time.Time `json:"valid_until"`  // RFC3339 timestamp
}

// ActiveAt reports whether the discount has not yet expired at the given time.
func (d Discount) ActiveAt(now time.Time) bool {
	return d.ValidUntil.After(now)
}

// Card represents a card listed by an owner, with its discount offers and
// usage/reputation counters.
type Card struct {
	ID                string     `json:"id"`       // uuid
	OwnerID           string     `json:"owner_id"` // uuid
	BankName          string     `json:"bank_name"`
	IsAvailable       bool       `json:"is_available"`
	UsageLimit        int        `json:"usage_limit"`   // max approved uses per period
	CurrentUsage      int        `json:"current_usage"` // approved uses so far
	Rating            float64    `json:"rating"`        // 0..5, running average
	TotalTransactions int        `json:"total_transactions"`
	Discounts         []Discount `json:"discounts"`
}

// HasCapacity reports whether the card can take another approved transaction.
func (c Card) HasCapacity() bool {
	return c.CurrentUsage < c.UsageLimit
}

// PurchaseIntent describes what a buyer wants to purchase.
type PurchaseIntent struct {
	Platform      Platform `json:"platform"`
	OriginalPrice float64  `json:"original_price"`
}

// Settlement is the deterministic monetary split of a realized discount.
// ServiceFee + OwnerEarnings always equals the rounded DiscountAmount.
type Settlement struct {
	DiscountAmount  float64 `json:"discount_amount"`
	DiscountedPrice float64 `json:"discounted_price"`
	ServiceFee      float64 `json:"service_fee"`
	OwnerEarnings   float64 `json:"owner_earnings"`
}

// ScoredCard is one ranked candidate. Ordering within a ranking result is the
// only externally meaningful property of the score.
type ScoredCard struct {
	Card             Card    `json:"card"`
	Score            float64 `json:"score"`
	EstimatedSavings float64 `json:"estimated_savings"`
}

// Transaction lifecycle states.
const (
	StatusPending   = "pending"
	StatusApproved  = "approved"
	StatusCompleted = "completed"
	StatusRejected  = "rejected"
	StatusCancelled = "cancelled"
)

// Product is the item a transaction is for.
type Product struct {
	Name            string   `json:"name"`
	Platform        Platform `json:"platform"`
	URL             string   `json:"url"`
	OriginalPrice   float64  `json:"original_price"`
	DiscountedPrice float64  `json:"discounted_price"`
}

// Transaction records one buyer/card-owner exchange and its settlement.
type Transaction struct {
	ID             string     `json:"id"` // uuid
	BuyerID        string     `json:"buyer_id"`
	CardOwnerID    string     `json:"card_owner_id"`
	CardID         string     `json:"card_id"`
	Product        Product    `json:"product"`
	DiscountAmount float64    `json:"discount_amount"`
	ServiceFee     float64    `json:"service_fee"`
	OwnerEarnings  float64    `json:"owner_earnings"`
	Status         string     `json:"status"`
	RequestedAt    time.Time  `json:"requested_at"`
	ApprovedAt     *time.Time `json:"approved_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	Rating         float64    `json:"rating,omitempty"` // 1..5, set on completion
	Review         string     `json:"review,omitempty"`
}

// CreateTransactionRequest is the request body for creating a transaction.
type CreateTransactionRequest struct {
	BuyerID string  `json:"buyer_id"`
	CardID  string  `json:"card_id"`
	Product Product `json:"product"`
}

// RespondToTransactionRequest is the request body for approving or rejecting
// a pending transaction.
type RespondToTransactionRequest struct {
	OwnerID string `json:"owner_id"`
	Status  string `json:"status"` // "approved" or "rejected"
}

// CompleteTransactionRequest is the request body for completing an approved
// transaction with the buyer's rating.
type CompleteTransactionRequest struct {
	BuyerID string  `json:"buyer_id"`
	Rating  float64 `json:"rating"` // 1..5
	Review  string  `json:"review"`
}

// MatchRequest is the request body for buyer/card matching.
type MatchRequest struct {
	Platform      Platform `json:"platform"`
	ProductPrice  float64  `json:"product_price"`
	PreferredBank string   `json:"preferred_bank,omitempty"`
}

// MatchResponse is the ranked result of a matching call.
type MatchResponse struct {
	Matches []ScoredCard `json:"matches"`
}

// RecommendationsResponse is the ranked result of a recommendation call.
type RecommendationsResponse struct {
	Recommendations []ScoredCard `json:"recommendations"`
}

// SuccessPredictionResponse carries a predicted completion likelihood.
type SuccessPredictionResponse struct {
	OwnerID     string  `json:"owner_id"`
	SuccessRate float64 `json:"success_rate"` // 0..1
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
