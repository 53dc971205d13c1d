// Package ranking scores and orders candidate cards for a buyer. Like the
// offer package it is pure computation over caller-supplied data; the only
// side effect is a warning log when a malformed candidate is skipped.
package ranking

import (
	"errors"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"card-match-api/internal/models"
	"card-match-api/internal/offer"
)

// Purchase-ranking weights. The four base terms sum to 100; the preferred-bank
// bonus sits on top.
const (
	savingsWeight    = 40.0
	ratingWeight     = 25.0
	historyWeight    = 20.0
	capacityWeight   = 15.0
	bankBonus        = 5.0
	newOwnerBaseline = 10.0 // history term for owners with no transactions yet
)

// Recommendation-ranking weights.
const (
	recPlatformMatch      = 30.0
	recGenerosityMax      = 40.0
	recRatingWeight       = 20.0
	recCapacityWeight     = 10.0
	DefaultRecommendLimit = 20
)

// Ranker ranks candidate cards. The zero value is usable; a logger may be
// injected to direct skip warnings.
type Ranker struct {
	logger *slog.Logger
}

// New creates a Ranker. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Ranker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ranker{logger: logger}
}

// RankForPurchase scores candidates for a concrete purchase and returns them
// best first. Candidates with no applicable discount are excluded silently;
// malformed candidates are skipped with a warning. An empty result is a
// normal outcome, never an error.
func (r *Ranker) RankForPurchase(intent models.PurchaseIntent, preferredBank string, candidates []models.Card, now time.Time) []models.ScoredCard {
	scored := make([]models.ScoredCard, 0, len(candidates))

	for _, card := range candidates {
		if !r.wellFormed(card) {
			continue
		}

		discount, err := offer.ResolveDiscount(intent, card, now)
		if err != nil {
			if !errors.Is(err, offer.ErrNoApplicableDiscount) {
				r.log().Warn("skipping candidate card", "card_id", card.ID, "error", err)
			}
			continue
		}

		settlement, err := offer.ComputeSettlement(intent, discount)
		if err != nil {
			r.log().Warn("skipping candidate card", "card_id", card.ID, "error", err)
			continue
		}

		savings := settlement.DiscountAmount

		score := (savings / intent.OriginalPrice) * savingsWeight
		score += (card.Rating / 5) * ratingWeight
		score += historyTerm(card.TotalTransactions)
		score += capacityTerm(card) * capacityWeight
		if preferredBank != "" && strings.EqualFold(card.BankName, preferredBank) {
			score += bankBonus
		}

		scored = append(scored, models.ScoredCard{
			Card:             card,
			Score:            score,
			EstimatedSavings: savings,
		})
	}

	sortScored(scored)
	return scored
}

// RankForRecommendation scores candidates on preferences alone, with no
// concrete purchase. Cards that are unavailable or have no active discount
// are excluded. At most limit results are returned (DefaultRecommendLimit
// when limit is not positive).
func (r *Ranker) RankForRecommendation(preferredPlatforms []models.Platform, candidates []models.Card, now time.Time, limit int) []models.ScoredCard {
	if limit <= 0 {
		limit = DefaultRecommendLimit
	}

	preferred := make(map[models.Platform]bool, len(preferredPlatforms))
	for _, p := range preferredPlatforms {
		preferred[p] = true
	}

	scored := make([]models.ScoredCard, 0, len(candidates))

	for _, card := range candidates {
		if !r.wellFormed(card) {
			continue
		}
		if !card.IsAvailable {
			continue
		}

		var score float64
		active := false
		for _, d := range card.Discounts {
			if !d.ActiveAt(now) {
				continue
			}
			active = true
			if preferred[d.Platform] {
				score += recPlatformMatch
			}
			score += (d.Percentage / 100) * recGenerosityMax
		}
		if !active {
			continue
		}

		score += (card.Rating / 5) * recRatingWeight
		score += capacityTerm(card) * recCapacityWeight

		scored = append(scored, models.ScoredCard{Card: card, Score: score})
	}

	sortScored(scored)
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

// PredictSuccessRate estimates the likelihood an owner completes a new
// transaction from their history: base completion ratio plus a small volume
// bonus, capped at 1. Owners with no history default to 0.75.
func PredictSuccessRate(completed, total int) float64 {
	if total <= 0 {
		return 0.75
	}

	rate := float64(completed) / float64(total)
	bonus := math.Min(float64(total)/100, 0.1)
	return math.Min(rate+bonus, 1.0)
}

// wellFormed filters out candidates whose counters make scoring meaningless.
// Stale or partial records degrade the ranking, not the request.
func (r *Ranker) wellFormed(card models.Card) bool {
	switch {
	case card.ID == "":
		r.log().Warn("skipping malformed candidate card", "reason", "missing id")
	case card.UsageLimit <= 0:
		r.log().Warn("skipping malformed candidate card", "card_id", card.ID, "reason", "non-positive usage_limit")
	case card.CurrentUsage < 0:
		r.log().Warn("skipping malformed candidate card", "card_id", card.ID, "reason", "negative current_usage")
	case card.Rating < 0 || card.Rating > 5:
		r.log().Warn("skipping malformed candidate card", "card_id", card.ID, "reason", "rating out of range")
	case card.TotalTransactions < 0:
		r.log().Warn("skipping malformed candidate card", "card_id", card.ID, "reason", "negative total_transactions")
	default:
		return true
	}
	return false
}

func (r *Ranker) log() *slog.Logger {
	if r.logger == nil {
		return slog.Default()
	}
	return r.logger
}

func historyTerm(totalTransactions int) float64 {
	if totalTransactions <= 0 {
		return newOwnerBaseline
	}
	n := float64(totalTransactions)
	return n / (n + 1) * historyWeight
}

func capacityTerm(card models.Card) float64 {
	remaining := card.UsageLimit - card.CurrentUsage
	if remaining < 0 {
		remaining = 0
	}
	return float64(remaining) / float64(card.UsageLimit)
}

// sortScored orders results best first: score, then estimated savings, then
// owner rating, all descending. The sort is stable so equal candidates keep
// their input order.
func sortScored(scored []models.ScoredCard) {
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if scored[i].EstimatedSavings != scored[j].EstimatedSavings {
			return scored[i].EstimatedSavings > scored[j].EstimatedSavings
		}
		return scored[i].Card.Rating > scored[j].Card.Rating
	})
}
