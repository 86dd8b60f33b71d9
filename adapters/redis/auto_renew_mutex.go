package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// AutoRenewMutex 是帶自動續期的分散式互斥鎖
// 多個服務實例共用同一個資料庫時，用它把同一場拍賣上的操作跨節點序列化；
// 持有期間背景goroutine會定期延長鎖的效期，避免長交易期間鎖先過期
type AutoRenewMutex struct {
	*redsync.Mutex
	cancel   context.CancelFunc
	renewing bool
	mu       sync.Mutex
	wg       sync.WaitGroup
	options  autoRenewMutexOptions
}

type autoRenewMutexOptions struct {
	expiry        time.Duration
	renewInterval time.Duration
	retryDelay    time.Duration
	tries         int
}

type AutoRenewMutexOption func(*autoRenewMutexOptions)

// WithMutexExpiry 設置鎖的效期
func WithMutexExpiry(d time.Duration) AutoRenewMutexOption {
	return func(o *autoRenewMutexOptions) {
		o.expiry = d
	}
}

// WithMutexRenewInterval 設置自動續期間隔
func WithMutexRenewInterval(d time.Duration) AutoRenewMutexOption {
	return func(o *autoRenewMutexOptions) {
		o.renewInterval = d
	}
}

// WithMutexRetry 設置取鎖的重試次數與間隔
func WithMutexRetry(tries int, delay time.Duration) AutoRenewMutexOption {
	return func(o *autoRenewMutexOptions) {
		o.tries = tries
		o.retryDelay = delay
	}
}

// NewAutoRenewMutex 建立分散式互斥鎖，未設定續期間隔時取效期的1/3
func NewAutoRenewMutex(client *redis.Client, key string, opts ...AutoRenewMutexOption) *AutoRenewMutex {
	options := autoRenewMutexOptions{
		expiry:     8 * time.Second,
		retryDelay: 500 * time.Millisecond,
		tries:      16,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.renewInterval <= 0 {
		options.renewInterval = options.expiry / 3
	}

	rs := redsync.New(goredis.NewPool(client))
	mutex := rs.NewMutex(
		key,
		redsync.WithExpiry(options.expiry),
		redsync.WithTries(options.tries),
		redsync.WithRetryDelay(options.retryDelay),
	)

	return &AutoRenewMutex{
		Mutex:   mutex,
		options: options,
	}
}

// Lock 取得鎖並啟動自動續期，取鎖本身可被context取消
func (m *AutoRenewMutex) Lock(ctx context.Context) error {
	if err := m.Mutex.LockContext(ctx); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	renewCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.startAutoRenew(renewCtx)
	return nil
}

// Unlock 停止自動續期並釋放鎖
func (m *AutoRenewMutex) Unlock() (bool, error) {
	m.stopAutoRenew()
	m.wg.Wait()
	return m.Mutex.Unlock()
}

// Valid 檢查鎖是否仍然有效
func (m *AutoRenewMutex) Valid() bool {
	m.mu.Lock()
	renewing := m.renewing
	m.mu.Unlock()
	return renewing && time.Now().Before(m.Mutex.Until())
}

func (m *AutoRenewMutex) startAutoRenew(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.renewing {
		return
	}
	m.renewing = true

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.options.renewInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				success, err := m.Mutex.Extend()
				if err != nil || !success {
					m.stopAutoRenew()
					return
				}
			}
		}
	}()
}

func (m *AutoRenewMutex) stopAutoRenew() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.renewing {
		return
	}
	m.renewing = false
	if m.cancel != nil {
		m.cancel()
	}
}
