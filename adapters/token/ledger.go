package token

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"dax/models"
	"dax/storage"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient resource balance")
	ErrInsufficientAllowance = errors.New("insufficient resource allowance")
	ErrInvalidAmount         = errors.New("amount must be positive")
)

// Ledger 是同質化資源的帳本
// 實作核心需要的 ledger.IResourceLedger 介面，所有變動都透過
// context 內的交易執行，讓外層操作可以整筆回滾
type Ledger struct {
	db *gorm.DB
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// Mint 憑空發行資源給指定持有者(營運用途，API層會限制只有管理者可呼叫)
func (l *Ledger) Mint(ctx context.Context, resource, holder string, amount uint64) error {
	const op = "token.Ledger.Mint"
	if amount == 0 {
		return ErrInvalidAmount
	}
	tx := storage.FromContext(ctx, l.db)
	if err := credit(tx, resource, holder, amount); err != nil {
		return fmt.Errorf("[%s] Fail to credit balance, err=%w", op, err)
	}
	return nil
}

// Approve 設定 owner 授權給 spender 的代轉額度(覆寫而非累加)
func (l *Ledger) Approve(ctx context.Context, resource, owner, spender string, amount uint64) error {
	const op = "token.Ledger.Approve"
	tx := storage.FromContext(ctx, l.db)

	var allowance models.TokenAllowance
	result := tx.Where("resource = ? AND owner = ? AND spender = ?", resource, owner, spender).First(&allowance)
	if result.Error != nil && !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return fmt.Errorf("[%s] Fail to load allowance, err=%w", op, result.Error)
	}
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		allowance = models.TokenAllowance{Resource: resource, Owner: owner, Spender: spender, Amount: amount}
		if result := tx.Create(&allowance); result.Error != nil {
			return fmt.Errorf("[%s] Fail to create allowance, err=%w", op, result.Error)
		}
		return nil
	}
	if result := tx.Model(&allowance).Update("amount", amount); result.Error != nil {
		return fmt.Errorf("[%s] Fail to update allowance, err=%w", op, result.Error)
	}
	return nil
}

// Allowance 查詢 owner 授權給 spender 的剩餘額度
func (l *Ledger) Allowance(ctx context.Context, resource, owner, spender string) (uint64, error) {
	const op = "token.Ledger.Allowance"
	tx := storage.FromContext(ctx, l.db)

	var allowance models.TokenAllowance
	result := tx.Where("resource = ? AND owner = ? AND spender = ?", resource, owner, spender).First(&allowance)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if result.Error != nil {
		return 0, fmt.Errorf("[%s] Fail to load allowance, err=%w", op, result.Error)
	}
	return allowance.Amount, nil
}

// BalanceOf 查詢持有量，從未持有過時回傳0
func (l *Ledger) BalanceOf(ctx context.Context, resource, holder string) (uint64, error) {
	const op = "token.Ledger.BalanceOf"
	tx := storage.FromContext(ctx, l.db)

	var balance models.TokenBalance
	result := tx.Where("resource = ? AND holder = ?", resource, holder).First(&balance)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if result.Error != nil {
		return 0, fmt.Errorf("[%s] Fail to load balance, err=%w", op, result.Error)
	}
	return balance.Amount, nil
}

// Transfer 將資源從 sender 轉給 recipient
func (l *Ledger) Transfer(ctx context.Context, resource, sender, recipient string, amount uint64) error {
	const op = "token.Ledger.Transfer"
	if amount == 0 {
		return ErrInvalidAmount
	}
	tx := storage.FromContext(ctx, l.db)

	if err := debit(tx, resource, sender, amount); err != nil {
		return fmt.Errorf("[%s] Fail to debit sender %s, err=%w", op, sender, err)
	}
	if err := credit(tx, resource, recipient, amount); err != nil {
		return fmt.Errorf("[%s] Fail to credit recipient %s, err=%w", op, recipient, err)
	}
	return nil
}

// TransferFrom 在授權額度內將資源從 owner 轉給 recipient
// 這裡的 spender 就是 recipient(託管帳戶)，成功後額度等量扣減
func (l *Ledger) TransferFrom(ctx context.Context, resource, owner, recipient string, amount uint64) error {
	const op = "token.Ledger.TransferFrom"
	if amount == 0 {
		return ErrInvalidAmount
	}
	tx := storage.FromContext(ctx, l.db)

	var allowance models.TokenAllowance
	result := tx.Where("resource = ? AND owner = ? AND spender = ?", resource, owner, recipient).First(&allowance)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) || (result.Error == nil && allowance.Amount < amount) {
		return fmt.Errorf("[%s] owner=%s spender=%s need=%d, err=%w", op, owner, recipient, amount, ErrInsufficientAllowance)
	}
	if result.Error != nil {
		return fmt.Errorf("[%s] Fail to load allowance, err=%w", op, result.Error)
	}

	if err := debit(tx, resource, owner, amount); err != nil {
		return fmt.Errorf("[%s] Fail to debit owner %s, err=%w", op, owner, err)
	}
	if err := credit(tx, resource, recipient, amount); err != nil {
		return fmt.Errorf("[%s] Fail to credit recipient %s, err=%w", op, recipient, err)
	}
	if result := tx.Model(&allowance).Update("amount", allowance.Amount-amount); result.Error != nil {
		return fmt.Errorf("[%s] Fail to consume allowance, err=%w", op, result.Error)
	}
	return nil
}

func credit(tx *gorm.DB, resource, holder string, amount uint64) error {
	var balance models.TokenBalance
	result := tx.Where("resource = ? AND holder = ?", resource, holder).First(&balance)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		balance = models.TokenBalance{Resource: resource, Holder: holder, Amount: amount}
		return tx.Create(&balance).Error
	}
	if result.Error != nil {
		return result.Error
	}
	return tx.Model(&balance).Update("amount", balance.Amount+amount).Error
}

func debit(tx *gorm.DB, resource, holder string, amount uint64) error {
	var balance models.TokenBalance
	result := tx.Where("resource = ? AND holder = ?", resource, holder).First(&balance)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) || (result.Error == nil && balance.Amount < amount) {
		return ErrInsufficientBalance
	}
	if result.Error != nil {
		return result.Error
	}
	return tx.Model(&balance).Update("amount", balance.Amount-amount).Error
}
