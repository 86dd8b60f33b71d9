package sse

import (
	"context"
	"log/slog"
	"sync"
)

type managerOptions[T any] struct {
	logger     *slog.Logger
	subscriber ISubscriber[T]
	routeFunc  func(T) []string
	bufferSize int
}

type ManagerOption[T any] func(*managerOptions[T])

// WithLogger 設置日誌記錄器
func WithLogger[T any](logger *slog.Logger) ManagerOption[T] {
	return func(o *managerOptions[T]) {
		o.logger = logger
	}
}

// WithSubscriber 設置外部訊息來源(例如 Redis Stream 消費者)
// 設定後來源上的每一則訊息都會依 route function 廣播到對應頻道
func WithSubscriber[T any](subscriber ISubscriber[T]) ManagerOption[T] {
	return func(o *managerOptions[T]) {
		o.subscriber = subscriber
	}
}

// WithRouteFunc 設置訊息到頻道名稱的路由函數
// 一則訊息可以同時路由到多個頻道
func WithRouteFunc[T any](fn func(T) []string) ManagerOption[T] {
	return func(o *managerOptions[T]) {
		o.routeFunc = fn
	}
}

// WithChannelBufferSize 設置每個訂閱者通道的緩衝大小
func WithChannelBufferSize[T any](size int) ManagerOption[T] {
	return func(o *managerOptions[T]) {
		o.bufferSize = size
	}
}

// connectionManager 管理多個 SSE 頻道的訂閱與廣播
// 單實例部署時訊息由 Publish 直接進來；多實例部署時掛上
// Redis Stream 訂閱來源，讓每個節點都收到完整事件流
type connectionManager[T any] struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	mu     sync.RWMutex
	wg     sync.WaitGroup
	active bool

	channels map[string]*Channel[T]
	options  managerOptions[T]
}

func NewConnectionManager[T any](opts ...ManagerOption[T]) (IConnectionManager[T], error) {
	options := managerOptions[T]{
		logger:     slog.Default(),
		bufferSize: 16,
	}
	for _, opt := range opts {
		opt(&options)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &connectionManager[T]{
		ctx:      ctx,
		cancel:   cancel,
		logger:   options.logger.With(slog.String("caller", "ConnectionManager")),
		channels: make(map[string]*Channel[T]),
		options:  options,
		active:   true,
	}, nil
}

// Start 啟動管理員，若有外部訊息來源則開始接收並廣播
func (cm *connectionManager[T]) Start() {
	if cm.options.subscriber == nil {
		return
	}
	cm.options.subscriber.Start()

	cm.wg.Add(1)
	go func() {
		defer cm.wg.Done()
		upstream := cm.options.subscriber.Subscribe()
		for {
			select {
			case <-cm.ctx.Done():
				return
			case msg, ok := <-upstream:
				if !ok {
					return
				}
				cm.broadcast(msg)
			}
		}
	}()
}

// Done 停止管理員並關閉所有訂閱者的通道
func (cm *connectionManager[T]) Done() {
	cm.mu.Lock()
	if !cm.active {
		cm.mu.Unlock()
		return
	}
	cm.active = false
	cm.mu.Unlock()

	cm.cancel()
	if cm.options.subscriber != nil {
		cm.options.subscriber.Close()
	}
	cm.wg.Wait()

	cm.mu.Lock()
	defer cm.mu.Unlock()
	for _, channel := range cm.channels {
		channel.UnsubscribeAll()
	}
	clear(cm.channels)
}

// Subscribe 訂閱指定頻道
func (cm *connectionManager[T]) Subscribe(channelName string) (<-chan T, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if !cm.active {
		return nil, context.Canceled
	}
	c, ok := cm.channels[channelName]
	if !ok {
		c = NewChannel[T](cm.options.bufferSize)
		cm.channels[channelName] = c
	}
	return c.Subscribe(), nil
}

// Unsubscribe 取消訂閱指定頻道，頻道閒置時一併回收
func (cm *connectionManager[T]) Unsubscribe(channelName string, ch <-chan T) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	c, ok := cm.channels[channelName]
	if !ok {
		return
	}
	c.Unsubscribe(ch)
	if c.IsIdle() {
		delete(cm.channels, channelName)
	}
}

// Publish 將訊息直接廣播到指定頻道
func (cm *connectionManager[T]) Publish(channelName string, data T) error {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if !cm.active {
		return context.Canceled
	}
	if channel, ok := cm.channels[channelName]; ok {
		if dropped := channel.Broadcast(data); dropped > 0 {
			cm.logger.Warn("Slow subscribers missed a message",
				slog.String("channel", channelName),
				slog.Int("dropped", dropped))
		}
	}
	return nil
}

// broadcast 依路由函數把來源訊息送進對應頻道
func (cm *connectionManager[T]) broadcast(msg T) {
	names := []string{}
	if cm.options.routeFunc != nil {
		names = cm.options.routeFunc(msg)
	}
	for _, name := range names {
		if err := cm.Publish(name, msg); err != nil {
			return
		}
	}
}
