package sse

import "sync"

// Channel 管理單一主題的所有訂閱者，並將訊息廣播給每一位
// 訂閱者的通道帶緩衝，廣播永遠不會被慢速客戶端卡住：
// 緩衝塞滿時該訂閱者直接漏掉這一則訊息
type Channel[T any] struct {
	mu          sync.RWMutex
	bufferSize  int
	subscribers map[<-chan T]chan T
}

func NewChannel[T any](bufferSize int) *Channel[T] {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &Channel[T]{
		bufferSize:  bufferSize,
		subscribers: make(map[<-chan T]chan T),
	}
}

// Subscribe 建立一個新的訂閱，回傳唯讀通道給呼叫者
func (c *Channel[T]) Subscribe() <-chan T {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan T, c.bufferSize)
	c.subscribers[ch] = ch
	return ch
}

// Unsubscribe 移除指定訂閱並關閉其通道
func (c *Channel[T]) Unsubscribe(ch <-chan T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if writeCh, exists := c.subscribers[ch]; exists {
		delete(c.subscribers, ch)
		close(writeCh)
	}
}

// UnsubscribeAll 關閉所有訂閱者的通道並清空訂閱清單
func (c *Channel[T]) UnsubscribeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, writeCh := range c.subscribers {
		close(writeCh)
	}
	clear(c.subscribers)
}

// Broadcast 將訊息廣播給所有訂閱者，回傳因緩衝塞滿而漏掉的訂閱者數
func (c *Channel[T]) Broadcast(message T) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	dropped := 0
	for _, writeCh := range c.subscribers {
		select {
		case writeCh <- message:
		default:
			dropped++
		}
	}
	return dropped
}

// IsIdle 判斷是否已無任何訂閱者
func (c *Channel[T]) IsIdle() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscribers) == 0
}
