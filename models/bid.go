package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bid 記錄某位出價者在某場拍賣中的唯一一筆出價
// ReservedQuantity 和 DepositedAmount 在成立後不再變動，
// BidderIndex 是出價者在該拍賣中的進場順序(從0開始)，結算時依此順序派發
type Bid struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement;<-:false"`
	AuctionID   uint64 `gorm:"not null;uniqueIndex:uidx_bids_auction_bidder;<-:create"`
	Bidder      string `gorm:"type:varchar(128);not null;uniqueIndex:uidx_bids_auction_bidder;<-:create"`
	BidderIndex uint64 `gorm:"not null;<-:create"`

	ReservedQuantity uint64          `gorm:"not null;<-:create"`
	DepositedAmount  decimal.Decimal `gorm:"type:numeric;not null;<-:create"`

	CreatedAt time.Time
}
