// Package offer holds the consolidated discount-resolution and settlement
// computation. Every function here is pure: the evaluation time is injected,
// nothing is read from or written to storage, and card transforms return
// copies for the caller to persist.
package offer

import (
	"errors"
	"math"
	"time"

	"card-match-api/internal/models"
	"card-match-api/internal/validation"
)

// ErrNoApplicableDiscount is returned when a card has no active discount for
// the requested platform, or is not eligible for new transactions. It is an
// expected outcome, not a fault; callers distinguish it from validation errors.
var ErrNoApplicableDiscount = errors.New("no applicable discount for this card and platform")

// Settlement split: 15% platform service fee, 85% to the card owner.
const (
	ServiceFeeRate = 0.15
	OwnerShareRate = 0.85
)

// ResolveDiscount selects the single applicable discount for a purchase on
// the given card at the given time.
//
// A discount applies when its platform matches the intent, it has not expired
// at now, and its minimum purchase (if any) is met. The card itself must be
// available and below its usage limit. When several discounts apply, the
// highest percentage wins; ties go to the highest cap.
func ResolveDiscount(intent models.PurchaseIntent, card models.Card, now time.Time) (models.Discount, error) {
	if err := validation.ValidateIntent(intent); err != nil {
		return models.Discount{}, err
	}

	if !card.IsAvailable || !card.HasCapacity() {
		return models.Discount{}, ErrNoApplicableDiscount
	}

	var (
		best  models.Discount
		found bool
	)
	for _, d := range card.Discounts {
		if d.Platform != intent.Platform || !d.ActiveAt(now) {
			continue
		}
		if d.MinPurchase > 0 && intent.OriginalPrice < d.MinPurchase {
			continue
		}
		if !found || betterDiscount(d, best) {
			best = d
			found = true
		}
	}

	if !found {
		return models.Discount{}, ErrNoApplicableDiscount
	}

	return best, nil
}

// betterDiscount reports whether a should be preferred over b.
func betterDiscount(a, b models.Discount) bool {
	if a.Percentage != b.Percentage {
		return a.Percentage > b.Percentage
	}
	return a.MaxAmount > b.MaxAmount
}

// ComputeSettlement computes the monetary split for a resolved discount.
//
// The discount amount is the percentage of the original price, capped by the
// discount's absolute maximum. The amount itself is never rounded, so it can
// never exceed either bound. The service fee and owner earnings are rounded
// to two decimals half-up; the earnings are reconciled against the fee so the
// two always sum to the rounded discount amount with no one-cent drift.
func ComputeSettlement(intent models.PurchaseIntent, discount models.Discount) (models.Settlement, error) {
	if err := validation.ValidateIntent(intent); err != nil {
		return models.Settlement{}, err
	}
	if discount.Percentage < 0 || discount.Percentage > 100 {
		return models.Settlement{}, &validation.ValidationError{
			Field:   "percentage",
			Message: "must be between 0 and 100",
		}
	}
	if discount.MaxAmount < 0 {
		return models.Settlement{}, &validation.ValidationError{
			Field:   "max_amount",
			Message: "must be non-negative",
		}
	}

	raw := intent.OriginalPrice * discount.Percentage / 100
	amount := math.Min(raw, discount.MaxAmount)

	fee := Round2(amount * ServiceFeeRate)
	earnings := Round2(amount * OwnerShareRate)
	if Round2(fee+earnings) != Round2(amount) {
		earnings = Round2(Round2(amount) - fee)
	}

	return models.Settlement{
		DiscountAmount:  amount,
		DiscountedPrice: intent.OriginalPrice - amount,
		ServiceFee:      fee,
		OwnerEarnings:   earnings,
	}, nil
}

// RecordUsage returns a copy of the card with one more approved use counted.
// The caller persists the result; the capacity check happens in ResolveDiscount
// and again atomically at the store.
func RecordUsage(card models.Card) models.Card {
	card.CurrentUsage++
	return card
}

// RecordCompletion returns a copy of the card with the completed transaction
// counted and the rating folded into the running average, rounded to one
// decimal and clamped to [0,5].
func RecordCompletion(card models.Card, rating float64) (models.Card, error) {
	if rating < 1 || rating > 5 {
		return models.Card{}, &validation.ValidationError{
			Field:   "rating",
			Message: "must be between 1 and 5",
		}
	}

	oldCount := float64(card.TotalTransactions)
	card.TotalTransactions++
	newRating := Round1((card.Rating*oldCount + rating) / float64(card.TotalTransactions))
	card.Rating = math.Max(0, math.Min(5, newRating))
	return card, nil
}

// Round2 rounds to two decimal places, half-up. Inputs here are always
// non-negative currency values.
func Round2(v float64) float64 {
	return math.Floor(v*100+0.5) / 100
}

// Round1 rounds to one decimal place, half-up.
func Round1(v float64) float64 {
	return math.Floor(v*10+0.5) / 10
}
