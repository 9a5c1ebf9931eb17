package services

import (
	"math"
	"sort"

	"github.com/coachconnect/booking-engine/internal/config"
	"github.com/coachconnect/booking-engine/internal/models"
)

// PricingPolicy computes session prices and the platform fee split. All
// amounts are integer cents. The payout always equals total minus fee.
type PricingPolicy struct {
	FeeRate float64
	Tiers   []config.DiscountTier
}

// NewPricingPolicy builds a policy from the booking configuration
func NewPricingPolicy(cfg config.BookingConfig) PricingPolicy {
	tiers := make([]config.DiscountTier, len(cfg.DiscountTiers))
	copy(tiers, cfg.DiscountTiers)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].MinSessions < tiers[j].MinSessions })
	return PricingPolicy{FeeRate: cfg.PlatformFeeRate, Tiers: tiers}
}

// DiscountFor returns the percentage off for a number of sessions
func (p PricingPolicy) DiscountFor(sessions int) float64 {
	var pct float64
	for _, t := range p.Tiers {
		if sessions >= t.MinSessions {
			pct = t.PercentOff
		}
	}
	return pct
}

// Quote prices sessions at the trainer's hourly rate
func (p PricingPolicy) Quote(hourlyRateCents int64, sessions int) models.PriceQuote {
	if sessions < 1 {
		sessions = 1
	}
	subtotal := hourlyRateCents * int64(sessions)
	pct := p.DiscountFor(sessions)
	discount := int64(math.Round(float64(subtotal) * pct / 100))
	total := subtotal - discount
	fee, payout := p.Split(total)

	return models.PriceQuote{
		HourlyRateCents:    hourlyRateCents,
		SessionCount:       sessions,
		SubtotalCents:      subtotal,
		DiscountPercent:    pct,
		DiscountCents:      discount,
		TotalAmountCents:   total,
		PlatformFeeCents:   fee,
		TrainerPayoutCents: payout,
	}
}

// Split divides a total into the platform fee and the trainer payout
func (p PricingPolicy) Split(totalCents int64) (fee, payout int64) {
	fee = int64(math.Round(float64(totalCents) * p.FeeRate))
	return fee, totalCents - fee
}

// SplitEvenly divides total into n parts that differ by at most one cent
// and sum to total. Earlier parts carry the remainder.
func SplitEvenly(total int64, n int) []int64 {
	if n <= 0 {
		return nil
	}
	parts := make([]int64, n)
	base, rem := total/int64(n), total%int64(n)
	for i := range parts {
		parts[i] = base
		if int64(i) < rem {
			parts[i]++
		}
	}
	return parts
}
