package storage

import (
	"context"

	"gorm.io/gorm"
)

type txKey struct{}

// ContextWithTx 將進行中的交易放入context，
// 讓同一個操作內的所有資料存取共用同一筆交易
func ContextWithTx(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// FromContext 取出context中的交易，沒有交易時退回fallback連線
func FromContext(ctx context.Context, fallback *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return fallback.WithContext(ctx)
}
