package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// IResourceLedger 定義了核心需要的資源帳本操作
// 所有呼叫都是同步的，失敗時必須回傳非nil錯誤且不得留下任何轉帳效果；
// 在同一個操作交易內呼叫時，外層交易回滾會一併撤銷這裡的變動
type IResourceLedger interface {
	// TransferFrom 在 owner 授權額度內，將資源從 owner 轉給 recipient
	TransferFrom(ctx context.Context, resource, owner, recipient string, amount uint64) error
	// Transfer 將資源從 sender 轉給 recipient
	Transfer(ctx context.Context, resource, sender, recipient string, amount uint64) error
	// BalanceOf 查詢持有量
	BalanceOf(ctx context.Context, resource, holder string) (uint64, error)
	// Allowance 查詢 owner 授權給 spender 的剩餘額度
	Allowance(ctx context.Context, resource, owner, spender string) (uint64, error)
}

// ICurrencyLedger 定義了核心需要的貨幣轉帳原語
type ICurrencyLedger interface {
	// Transfer 將貨幣從 sender 推送給 recipient，失敗時不得移動任何資金
	Transfer(ctx context.Context, sender, recipient string, amount decimal.Decimal) error
	// BalanceOf 查詢帳戶餘額
	BalanceOf(ctx context.Context, account string) (decimal.Decimal, error)
}

// IEventPublisher 對外發布拍賣事件，供外部觀察者訂閱
// 發布發生在操作成功提交之後，失敗只記錄不影響操作結果
type IEventPublisher interface {
	Publish(event Event) error
}
