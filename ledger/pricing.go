package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"dax/models"
)

// CurrentPrice 計算拍賣在 now 時刻的單位價格
// 價格從 StartPrice 起以秒為粒度線性下降，EndTime 之後固定為 ReservePrice；
// now 早於 StartTime 時視同 StartTime(回傳 StartPrice)
// 先乘後除以避免精度流失，結果永遠落在 [ReservePrice, StartPrice] 區間內
func CurrentPrice(auction models.Auction, now time.Time) decimal.Decimal {
	if !now.Before(auction.EndTime) {
		return auction.ReservePrice
	}
	if !now.After(auction.StartTime) {
		return auction.StartPrice
	}

	duration := decimal.NewFromInt(int64(auction.EndTime.Sub(auction.StartTime) / time.Second))
	// 整場拍賣不滿一秒時，以秒為粒度等於已完整衰減到底價
	if !duration.IsPositive() {
		return auction.ReservePrice
	}
	elapsed := decimal.NewFromInt(int64(now.Sub(auction.StartTime) / time.Second))
	drop := auction.StartPrice.Sub(auction.ReservePrice).Mul(elapsed).Div(duration)

	price := auction.StartPrice.Sub(drop)
	if price.LessThan(auction.ReservePrice) {
		return auction.ReservePrice
	}
	return price
}
