package ledger_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"dax/ledger"
	"dax/models"
)

func newPricingAuction(startPrice, reservePrice string, duration time.Duration) models.Auction {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	return models.Auction{
		StartTime:    start,
		EndTime:      start.Add(duration),
		StartPrice:   decimal.RequireFromString(startPrice),
		ReservePrice: decimal.RequireFromString(reservePrice),
	}
}

func TestCurrentPrice(t *testing.T) {
	auction := newPricingAuction("1.0", "0.5", time.Hour)

	tests := []struct {
		name    string
		elapsed time.Duration
		want    string
	}{
		{name: "at start", elapsed: 0, want: "1"},
		{name: "before start", elapsed: -10 * time.Minute, want: "1"},
		{name: "quarter elapsed", elapsed: 15 * time.Minute, want: "0.875"},
		{name: "half elapsed", elapsed: 30 * time.Minute, want: "0.75"},
		{name: "at end", elapsed: time.Hour, want: "0.5"},
		{name: "after end", elapsed: 2 * time.Hour, want: "0.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			price := ledger.CurrentPrice(auction, auction.StartTime.Add(tt.elapsed))
			assert.Equal(t, tt.want, price.String())
		})
	}
}

func TestCurrentPrice_MonotoneAndBounded(t *testing.T) {
	auction := newPricingAuction("13.37", "0.01", 97*time.Second)

	previous := auction.StartPrice
	for elapsed := time.Duration(0); elapsed <= 120*time.Second; elapsed += time.Second {
		price := ledger.CurrentPrice(auction, auction.StartTime.Add(elapsed))
		assert.True(t, price.LessThanOrEqual(previous),
			"price must never rise: %s -> %s at %s", previous, price, elapsed)
		assert.True(t, price.GreaterThanOrEqual(auction.ReservePrice))
		assert.True(t, price.LessThanOrEqual(auction.StartPrice))
		previous = price
	}
}

func TestCurrentPrice_SubSecondAuction(t *testing.T) {
	// 整場不滿一秒的拍賣在期間內也要能報價，視同已衰減到底價
	auction := newPricingAuction("1.0", "0.5", 500*time.Millisecond)

	assert.NotPanics(t, func() {
		price := ledger.CurrentPrice(auction, auction.StartTime.Add(250*time.Millisecond))
		assert.Equal(t, "0.5", price.String())
	})
	assert.Equal(t, "1", ledger.CurrentPrice(auction, auction.StartTime).String())
	assert.Equal(t, "0.5", ledger.CurrentPrice(auction, auction.EndTime).String())
}

func TestCurrentPrice_FlatCurve(t *testing.T) {
	// 起標價等於底價時，整場拍賣都是同一個價格
	auction := newPricingAuction("2.5", "2.5", time.Hour)
	for _, elapsed := range []time.Duration{0, 30 * time.Minute, time.Hour} {
		price := ledger.CurrentPrice(auction, auction.StartTime.Add(elapsed))
		assert.Equal(t, "2.5", price.String())
	}
}
