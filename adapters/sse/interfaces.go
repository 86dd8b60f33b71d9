package sse

// ISubscriber 是餵給 ConnectionManager 的外部訊息來源
// 形狀對齊 redis adapter 的 StreamConsumer，讓多實例部署時
// 可以直接把 Redis Stream 的事件接進來
type ISubscriber[T any] interface {
	Start()
	Subscribe() <-chan T
	Close()
}

// IConnectionManager 定義了 SSE 連線管理員的介面
type IConnectionManager[T any] interface {
	// Start 啟動管理員，開始接收與廣播訊息，應在其他方法之前呼叫
	Start()
	// Done 停止管理員並釋放所有資源
	Done()
	// Subscribe 訂閱指定頻道，返回接收訊息的唯讀通道
	Subscribe(channelName string) (<-chan T, error)
	// Unsubscribe 取消訂閱指定頻道
	Unsubscribe(channelName string, ch <-chan T)
	// Publish 將訊息直接廣播到指定頻道(單實例模式使用)
	Publish(channelName string, data T) error
}
