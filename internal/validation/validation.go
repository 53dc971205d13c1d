package validation

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"card-match-api/internal/models"
)

var uuidRegex = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// ValidateIntent checks a purchase intent.
func ValidateIntent(intent models.PurchaseIntent) error {
	if !intent.Platform.Valid() {
		return &ValidationError{
			Field:   "platform",
			Message: "must be one of Amazon, Flipkart, Myntra, Other",
		}
	}

	if intent.OriginalPrice <= 0 {
		return &ValidationError{
			Field:   "original_price",
			Message: "must be positive",
		}
	}

	return nil
}

// ValidateCard checks a card listing, including all of its discounts.
func ValidateCard(card models.Card) error {
	if err := ValidateUUID(card.ID, "id"); err != nil {
		return err
	}

	if err := ValidateUUID(card.OwnerID, "owner_id"); err != nil {
		return err
	}

	if card.BankName == "" {
		return &ValidationError{
			Field:   "bank_name",
			Message: "is required",
		}
	}

	if card.UsageLimit <= 0 {
		return &ValidationError{
			Field:   "usage_limit",
			Message: "must be positive",
		}
	}

	if card.CurrentUsage < 0 {
		return &ValidationError{
			Field:   "current_usage",
			Message: "must be non-negative",
		}
	}

	if card.CurrentUsage > card.UsageLimit {
		return &ValidationError{
			Field:   "current_usage",
			Message: "cannot exceed usage_limit",
		}
	}

	if card.Rating < 0 || card.Rating > 5 {
		return &ValidationError{
			Field:   "rating",
			Message: "must be between 0 and 5",
		}
	}

	if card.TotalTransactions < 0 {
		return &ValidationError{
			Field:   "total_transactions",
			Message: "must be non-negative",
		}
	}

	if len(card.Discounts) > 50 {
		return &ValidationError{
			Field:   "discounts",
			Message: "cannot contain more than 50 discounts",
		}
	}

	for i, d := range card.Discounts {
		if err := ValidateDiscount(d); err != nil {
			return &ValidationError{
				Field:   fmt.Sprintf("discounts[%d]", i),
				Message: err.Error(),
			}
		}
	}

	return nil
}

// ValidateDiscount checks a single discount configuration. Misconfigured
// discounts are rejected here, at creation time, rather than at resolution.
func ValidateDiscount(d models.Discount) error {
	if !d.Platform.Valid() {
		return &ValidationError{
			Field:   "platform",
			Message: "must be one of Amazon, Flipkart, Myntra, Other",
		}
	}

	if d.Percentage < 0 || d.Percentage > 100 {
		return &ValidationError{
			Field:   "percentage",
			Message: "must be between 0 and 100",
		}
	}

	if d.MaxAmount < 0 {
		return &ValidationError{
			Field:   "max_amount",
			Message: "must be non-negative",
		}
	}

	if d.MinPurchase < 0 {
		return &ValidationError{
			Field:   "min_purchase",
			Message: "must be non-negative",
		}
	}

	if d.ValidUntil.IsZero() {
		return &ValidationError{
			Field:   "valid_until",
			Message: "is required",
		}
	}

	return nil
}

// ValidateProduct checks the product block of a transaction request.
func ValidateProduct(p models.Product) error {
	if p.Name == "" {
		return &ValidationError{
			Field:   "name",
			Message: "is required",
		}
	}

	if !p.Platform.Valid() {
		return &ValidationError{
			Field:   "platform",
			Message: "must be one of Amazon, Flipkart, Myntra, Other",
		}
	}

	if p.OriginalPrice <= 0 {
		return &ValidationError{
			Field:   "original_price",
			Message: "must be positive",
		}
	}

	return nil
}

// ValidateRating checks a buyer-supplied completion rating.
func ValidateRating(rating float64) error {
	if rating < 1 || rating > 5 {
		return &ValidationError{
			Field:   "rating",
			Message: "must be between 1 and 5",
		}
	}
	return nil
}

func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}

func ValidateUUID(id, fieldName string) error {
	if id == "" {
		return &ValidationError{
			Field:   fieldName,
			Message: "is required",
		}
	}

	id = SanitizeString(id)

	if !uuidRegex.MatchString(strings.ToLower(id)) {
		return &ValidationError{
			Field:   fieldName,
			Message: "must be a valid UUID v4",
		}
	}

	return nil
}

func ValidateTimeString(timeStr string) (time.Time, error) {
	if timeStr == "" {
		return time.Time{}, &ValidationError{
			Field:   "time",
			Message: "is required",
		}
	}

	t, err := time.Parse(time.RFC3339, timeStr)
	if err != nil {
		return time.Time{}, &ValidationError{
			Field:   "time",
			Message: "must be a valid RFC3339 timestamp",
		}
	}

	return t, nil
}
