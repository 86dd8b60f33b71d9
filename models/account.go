package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CurrencyAccount 記錄單一身份的貨幣餘額
// 出價時押金從出價者帳戶轉入託管帳戶，結算時再由託管帳戶轉給拍賣主
type CurrencyAccount struct {
	ID      uint64          `gorm:"primaryKey;autoIncrement;<-:false"`
	Address string          `gorm:"type:varchar(128);not null;uniqueIndex;<-:create"`
	Balance decimal.Decimal `gorm:"type:numeric;not null"`

	UpdatedAt time.Time
}
