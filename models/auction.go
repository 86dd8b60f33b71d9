package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Auction 代表一場荷蘭拍賣
// 建立時賣方將 TotalSupply 單位的資源轉入託管帳戶，
// 單價從 StartPrice 隨時間線性下降到 ReservePrice，
// 結算後 Closed 會被永久設為 true
type Auction struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement;<-:false"`
	Owner       string `gorm:"type:varchar(128);not null;index;<-:create"`
	Resource    string `gorm:"type:varchar(128);not null;<-:create"`
	Description string `gorm:"type:text;not null;<-:create"`

	StartTime    time.Time       `gorm:"not null;<-:create"`
	EndTime      time.Time       `gorm:"not null;<-:create"`
	StartPrice   decimal.Decimal `gorm:"type:numeric;not null;<-:create"`
	ReservePrice decimal.Decimal `gorm:"type:numeric;not null;<-:create"`

	TotalSupply     uint64          `gorm:"not null;<-:create"`
	RemainingSupply uint64          `gorm:"not null"`
	TotalBidsCount  uint64          `gorm:"not null"`
	TotalEscrowed   decimal.Decimal `gorm:"type:numeric;not null"`
	Closed          bool            `gorm:"not null"`

	CreatedAt time.Time
	UpdatedAt time.Time

	// 外鍵關聯
	Bids []Bid
}
