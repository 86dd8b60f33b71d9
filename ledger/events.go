package ledger

import (
	"strconv"
	"time"
)

type EventKind string

const (
	EventAuctionCreated EventKind = "auction_created"
	EventBidPlaced      EventKind = "bid_placed"
	EventAuctionClosed  EventKind = "auction_closed"
)

// Event 是拍賣對外的通知
// 金額欄位以十進位字串表示，方便經過 msgpack/JSON 傳遞而不失真
type Event struct {
	Kind      EventKind `json:"kind" msgpack:"kind"`
	AuctionID uint64    `json:"auctionId" msgpack:"auctionId"`
	Resource  string    `json:"resource,omitempty" msgpack:"resource"`
	Quantity  uint64    `json:"quantity,omitempty" msgpack:"quantity"`
	Bidder    string    `json:"bidder,omitempty" msgpack:"bidder"`
	Price     string    `json:"price,omitempty" msgpack:"price"`
	Amount    string    `json:"amount,omitempty" msgpack:"amount"`
	Time      time.Time `json:"time" msgpack:"time"`
}

// Channel 回傳事件所屬的SSE頻道名稱(拍賣ID)
func (e Event) Channel() string {
	return strconv.FormatUint(e.AuctionID, 10)
}
