package models

import "time"

// TokenBalance 記錄某資源在某持有者名下的餘額
// 資源是同質化的，數量以整數單位計
type TokenBalance struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement;<-:false"`
	Resource string `gorm:"type:varchar(128);not null;uniqueIndex:uidx_token_balances_holder;<-:create"`
	Holder   string `gorm:"type:varchar(128);not null;uniqueIndex:uidx_token_balances_holder;<-:create"`
	Amount   uint64 `gorm:"not null"`

	UpdatedAt time.Time
}

// TokenAllowance 記錄 Owner 授權 Spender 可代為轉出的資源額度
// 代轉(TransferFrom)成功後額度會等量扣減
type TokenAllowance struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement;<-:false"`
	Resource string `gorm:"type:varchar(128);not null;uniqueIndex:uidx_token_allowances;<-:create"`
	Owner    string `gorm:"type:varchar(128);not null;uniqueIndex:uidx_token_allowances;<-:create"`
	Spender  string `gorm:"type:varchar(128);not null;uniqueIndex:uidx_token_allowances;<-:create"`
	Amount   uint64 `gorm:"not null"`

	UpdatedAt time.Time
}
