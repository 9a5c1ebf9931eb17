package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/coachconnect/booking-engine/internal/config"
)

func testPricing() PricingPolicy {
	return NewPricingPolicy(config.BookingConfig{
		PlatformFeeRate: 0.25,
		// unsorted on purpose
		DiscountTiers: []config.DiscountTier{{MinSessions: 10, PercentOff: 15}, {MinSessions: 5, PercentOff: 10}},
	})
}

func TestPricingPolicy_Quote(t *testing.T) {
	p := testPricing()

	tests := []struct {
		name     string
		rate     int64
		sessions int
		discount float64
		total    int64
	}{
		{"single session", 8000, 1, 0, 8000},
		{"four sessions", 8000, 4, 0, 32000},
		{"five session package", 8000, 5, 10, 36000},
		{"ten session package", 8000, 10, 15, 68000},
		{"eight session series", 8000, 8, 10, 57600},
		{"odd rate rounds the discount", 3333, 5, 10, 14998},
		{"zero sessions counts as one", 8000, 0, 0, 8000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := p.Quote(tt.rate, tt.sessions)
			assert.Equal(t, tt.discount, q.DiscountPercent)
			assert.Equal(t, tt.total, q.TotalAmountCents)
			assert.Equal(t, q.SubtotalCents-q.DiscountCents, q.TotalAmountCents)
			assert.Equal(t, q.TotalAmountCents, q.PlatformFeeCents+q.TrainerPayoutCents)
		})
	}
}

func TestPricingPolicy_Split(t *testing.T) {
	p := testPricing()

	fee, payout := p.Split(36000)
	assert.Equal(t, int64(9000), fee)
	assert.Equal(t, int64(27000), payout)

	fee, payout = p.Split(3333)
	assert.Equal(t, int64(833), fee)
	assert.Equal(t, int64(2500), payout)
}

func TestSplitEvenly(t *testing.T) {
	parts := SplitEvenly(57600, 8)
	assert.Len(t, parts, 8)
	for _, p := range parts {
		assert.Equal(t, int64(7200), p)
	}

	parts = SplitEvenly(1000, 3)
	assert.Equal(t, []int64{334, 333, 333}, parts)

	var sum int64
	for _, p := range SplitEvenly(99999, 7) {
		sum += p
	}
	assert.Equal(t, int64(99999), sum)
}
