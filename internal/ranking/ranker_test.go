package ranking

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"card-match-api/internal/models"
)

var testNow = time.Date(2025, 10, 21, 10, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func candidate(bank string, rating float64, discounts ...models.Discount) models.Card {
	return models.Card{
		ID:                uuid.New().String(),
		OwnerID:           uuid.New().String(),
		BankName:          bank,
		IsAvailable:       true,
		UsageLimit:        5,
		CurrentUsage:      1,
		Rating:            rating,
		TotalTransactions: 10,
		Discounts:         discounts,
	}
}

func activeDiscount(platform models.Platform, percentage, maxAmount float64) models.Discount {
	return models.Discount{
		Platform:   platform,
		Percentage: percentage,
		MaxAmount:  maxAmount,
		ValidUntil: testNow.Add(24 * time.Hour),
	}
}

func TestRankForPurchase_ExcludesIneligibleCards(t *testing.T) {
	r := New(testLogger())
	intent := models.PurchaseIntent{Platform: models.PlatformAmazon, OriginalPrice: 1000}

	eligible := candidate("HDFC", 4.0, activeDiscount(models.PlatformAmazon, 10, 500))

	wrongPlatform := candidate("ICICI", 4.0, activeDiscount(models.PlatformMyntra, 10, 500))

	expired := candidate("SBI", 4.0, models.Discount{
		Platform:   models.PlatformAmazon,
		Percentage: 10,
		MaxAmount:  500,
		ValidUntil: testNow.Add(-time.Hour),
	})

	atCapacity := candidate("Axis", 4.0, activeDiscount(models.PlatformAmazon, 10, 500))
	atCapacity.CurrentUsage = 5

	unavailable := candidate("Kotak", 4.0, activeDiscount(models.PlatformAmazon, 10, 500))
	unavailable.IsAvailable = false

	results := r.RankForPurchase(intent, "", []models.Card{eligible, wrongPlatform, expired, atCapacity, unavailable}, testNow)

	if len(results) != 1 {
		t.Fatalf("Expected 1 eligible card, got %d", len(results))
	}
	if results[0].Card.ID != eligible.ID {
		t.Errorf("Wrong card ranked: %s", results[0].Card.ID)
	}
}

func TestRankForPurchase_EstimatedSavings(t *testing.T) {
	r := New(testLogger())
	intent := models.PurchaseIntent{Platform: models.PlatformAmazon, OriginalPrice: 3000}

	card := candidate("HDFC", 4.0, activeDiscount(models.PlatformAmazon, 10, 1500))

	results := r.RankForPurchase(intent, "", []models.Card{card}, testNow)
	if len(results) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(results))
	}

	if results[0].EstimatedSavings != 300 {
		t.Errorf("Expected savings 300, got %v", results[0].EstimatedSavings)
	}
}

func TestRankForPurchase_HigherRatingRanksFirst(t *testing.T) {
	// Equal savings, ratings 4.9 vs 4.2
	r := New(testLogger())
	intent := models.PurchaseIntent{Platform: models.PlatformAmazon, OriginalPrice: 1000}

	lower := candidate("HDFC", 4.2, activeDiscount(models.PlatformAmazon, 10, 500))
	higher := candidate("ICICI", 4.9, activeDiscount(models.PlatformAmazon, 10, 500))

	results := r.RankForPurchase(intent, "", []models.Card{lower, higher}, testNow)

	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	if results[0].Card.ID != higher.ID {
		t.Errorf("Expected the 4.9-rated card first")
	}
}

func TestRankForPurchase_RatingMonotonicity(t *testing.T) {
	r := New(testLogger())
	intent := models.PurchaseIntent{Platform: models.PlatformAmazon, OriginalPrice: 1000}

	base := candidate("HDFC", 3.0, activeDiscount(models.PlatformAmazon, 10, 500))

	var prevScore float64 = -1
	for _, rating := range []float64{0, 1, 2.5, 4, 5} {
		card := base
		card.Rating = rating
		results := r.RankForPurchase(intent, "", []models.Card{card}, testNow)
		if len(results) != 1 {
			t.Fatalf("Expected 1 result, got %d", len(results))
		}
		if results[0].Score < prevScore {
			t.Errorf("Score decreased when rating rose to %v", rating)
		}
		prevScore = results[0].Score
	}
}

func TestRankForPurchase_PreferredBankBonus(t *testing.T) {
	r := New(testLogger())
	intent := models.PurchaseIntent{Platform: models.PlatformAmazon, OriginalPrice: 1000}

	preferred := candidate("HDFC", 4.0, activeDiscount(models.PlatformAmazon, 10, 500))
	other := candidate("ICICI", 4.0, activeDiscount(models.PlatformAmazon, 10, 500))

	// Bank match is case-insensitive
	results := r.RankForPurchase(intent, "hdfc", []models.Card{other, preferred}, testNow)

	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	if results[0].Card.ID != preferred.ID {
		t.Errorf("Expected preferred-bank card first")
	}
	if results[0].Score-results[1].Score != bankBonus {
		t.Errorf("Expected score gap of %v, got %v", bankBonus, results[0].Score-results[1].Score)
	}
}

func TestRankForPurchase_TieBreakBySavings(t *testing.T) {
	r := New(testLogger())
	intent := models.PurchaseIntent{Platform: models.PlatformAmazon, OriginalPrice: 1000}

	// Identical scores except the savings term; bigger savings must win even
	// though sorting is otherwise stable.
	smallSavings := candidate("HDFC", 4.0, activeDiscount(models.PlatformAmazon, 10, 500))
	bigSavings := candidate("ICICI", 4.0, activeDiscount(models.PlatformAmazon, 20, 500))

	results := r.RankForPurchase(intent, "", []models.Card{smallSavings, bigSavings}, testNow)

	if results[0].Card.ID != bigSavings.ID {
		t.Errorf("Expected higher-savings card first")
	}
}

func TestRankForPurchase_SkipsMalformedCandidates(t *testing.T) {
	r := New(testLogger())
	intent := models.PurchaseIntent{Platform: models.PlatformAmazon, OriginalPrice: 1000}

	good := candidate("HDFC", 4.0, activeDiscount(models.PlatformAmazon, 10, 500))

	noID := candidate("ICICI", 4.0, activeDiscount(models.PlatformAmazon, 10, 500))
	noID.ID = ""

	zeroLimit := candidate("SBI", 4.0, activeDiscount(models.PlatformAmazon, 10, 500))
	zeroLimit.UsageLimit = 0

	badRating := candidate("Axis", 7.5, activeDiscount(models.PlatformAmazon, 10, 500))

	results := r.RankForPurchase(intent, "", []models.Card{noID, good, zeroLimit, badRating}, testNow)

	if len(results) != 1 {
		t.Fatalf("Expected only the well-formed card, got %d results", len(results))
	}
	if results[0].Card.ID != good.ID {
		t.Errorf("Wrong card survived filtering")
	}
}

func TestRankForPurchase_EmptyInput(t *testing.T) {
	r := New(testLogger())
	intent := models.PurchaseIntent{Platform: models.PlatformAmazon, OriginalPrice: 1000}

	results := r.RankForPurchase(intent, "", nil, testNow)
	if len(results) != 0 {
		t.Errorf("Expected empty result, got %d", len(results))
	}
}

func TestRankForPurchase_Deterministic(t *testing.T) {
	r := New(testLogger())
	intent := models.PurchaseIntent{Platform: models.PlatformAmazon, OriginalPrice: 1000}

	cards := []models.Card{
		candidate("HDFC", 4.0, activeDiscount(models.PlatformAmazon, 10, 500)),
		candidate("ICICI", 4.5, activeDiscount(models.PlatformAmazon, 12, 400)),
		candidate("SBI", 3.5, activeDiscount(models.PlatformAmazon, 8, 600)),
	}

	first := r.RankForPurchase(intent, "", cards, testNow)
	for i := 0; i < 20; i++ {
		again := r.RankForPurchase(intent, "", cards, testNow)
		if len(again) != len(first) {
			t.Fatalf("Result length changed between runs")
		}
		for j := range again {
			if again[j].Card.ID != first[j].Card.ID || again[j].Score != first[j].Score {
				t.Fatalf("Ranking not deterministic at position %d", j)
			}
		}
	}
}

func TestRankForRecommendation_PreferredPlatformScoresHigher(t *testing.T) {
	r := New(testLogger())

	amazonCard := candidate("HDFC", 4.0, activeDiscount(models.PlatformAmazon, 10, 500))
	myntraCard := candidate("ICICI", 4.0, activeDiscount(models.PlatformMyntra, 10, 500))

	results := r.RankForRecommendation([]models.Platform{models.PlatformAmazon}, []models.Card{myntraCard, amazonCard}, testNow, 0)

	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	if results[0].Card.ID != amazonCard.ID {
		t.Errorf("Expected preferred-platform card first")
	}
}

func TestRankForRecommendation_ExcludesInactiveAndUnavailable(t *testing.T) {
	r := New(testLogger())

	active := candidate("HDFC", 4.0, activeDiscount(models.PlatformAmazon, 10, 500))

	allExpired := candidate("ICICI", 4.0, models.Discount{
		Platform:   models.PlatformAmazon,
		Percentage: 10,
		MaxAmount:  500,
		ValidUntil: testNow.Add(-time.Hour),
	})

	unavailable := candidate("SBI", 4.0, activeDiscount(models.PlatformAmazon, 10, 500))
	unavailable.IsAvailable = false

	results := r.RankForRecommendation(nil, []models.Card{active, allExpired, unavailable}, testNow, 0)

	if len(results) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(results))
	}
	if results[0].Card.ID != active.ID {
		t.Errorf("Wrong card recommended")
	}
}

func TestRankForRecommendation_LimitApplied(t *testing.T) {
	r := New(testLogger())

	var cards []models.Card
	for i := 0; i < 30; i++ {
		cards = append(cards, candidate("HDFC", 4.0, activeDiscount(models.PlatformAmazon, 10, 500)))
	}

	results := r.RankForRecommendation(nil, cards, testNow, 0)
	if len(results) != DefaultRecommendLimit {
		t.Errorf("Expected default limit %d, got %d", DefaultRecommendLimit, len(results))
	}

	results = r.RankForRecommendation(nil, cards, testNow, 5)
	if len(results) != 5 {
		t.Errorf("Expected 5 results, got %d", len(results))
	}
}

func TestPredictSuccessRate(t *testing.T) {
	cases := []struct {
		name      string
		completed int
		total     int
		want      float64
	}{
		{"no history defaults to 0.75", 0, 0, 0.75},
		{"perfect small history", 10, 10, 1.0},
		{"half completion with volume bonus", 10, 20, 0.6},
		{"capped at 1", 100, 100, 1.0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := PredictSuccessRate(tc.completed, tc.total)
			if got != tc.want {
				t.Errorf("PredictSuccessRate(%d, %d) = %v, want %v", tc.completed, tc.total, got, tc.want)
			}
		})
	}
}
