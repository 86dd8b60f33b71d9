package bank

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"dax/models"
	"dax/storage"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("amount must be positive")
)

// Bank 是系統內的貨幣轉帳原語
// 實作核心需要的 ledger.ICurrencyLedger 介面；轉帳失敗時不會移動任何資金，
// 在操作交易內執行時由外層交易保證這一點
type Bank struct {
	db *gorm.DB
}

func NewBank(db *gorm.DB) *Bank {
	return &Bank{db: db}
}

// Deposit 入金到指定帳戶(營運用途，API層會限制只有管理者可呼叫)
func (b *Bank) Deposit(ctx context.Context, account string, amount decimal.Decimal) error {
	const op = "bank.Bank.Deposit"
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	tx := storage.FromContext(ctx, b.db)
	if err := credit(tx, account, amount); err != nil {
		return fmt.Errorf("[%s] Fail to credit account, err=%w", op, err)
	}
	return nil
}

// Transfer 將貨幣從 sender 推送給 recipient
func (b *Bank) Transfer(ctx context.Context, sender, recipient string, amount decimal.Decimal) error {
	const op = "bank.Bank.Transfer"
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	tx := storage.FromContext(ctx, b.db)

	if err := debit(tx, sender, amount); err != nil {
		return fmt.Errorf("[%s] Fail to debit sender %s, err=%w", op, sender, err)
	}
	if err := credit(tx, recipient, amount); err != nil {
		return fmt.Errorf("[%s] Fail to credit recipient %s, err=%w", op, recipient, err)
	}
	return nil
}

// BalanceOf 查詢帳戶餘額，帳戶不存在時回傳0
func (b *Bank) BalanceOf(ctx context.Context, account string) (decimal.Decimal, error) {
	const op = "bank.Bank.BalanceOf"
	tx := storage.FromContext(ctx, b.db)

	var record models.CurrencyAccount
	result := tx.Where("address = ?", account).First(&record)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil
	}
	if result.Error != nil {
		return decimal.Zero, fmt.Errorf("[%s] Fail to load account, err=%w", op, result.Error)
	}
	return record.Balance, nil
}

func credit(tx *gorm.DB, account string, amount decimal.Decimal) error {
	var record models.CurrencyAccount
	result := tx.Where("address = ?", account).First(&record)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		record = models.CurrencyAccount{Address: account, Balance: amount}
		return tx.Create(&record).Error
	}
	if result.Error != nil {
		return result.Error
	}
	return tx.Model(&record).Update("balance", record.Balance.Add(amount)).Error
}

func debit(tx *gorm.DB, account string, amount decimal.Decimal) error {
	var record models.CurrencyAccount
	result := tx.Where("address = ?", account).First(&record)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) || (result.Error == nil && record.Balance.LessThan(amount)) {
		return ErrInsufficientFunds
	}
	if result.Error != nil {
		return result.Error
	}
	return tx.Model(&record).Update("balance", record.Balance.Sub(amount)).Error
}
