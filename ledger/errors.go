package ledger

import "errors"

// 驗證類錯誤：在任何狀態變動前被擋下，呼叫端修正輸入後重送即可
var (
	ErrAuctionNotFound     = errors.New("auction not found")
	ErrAuctionClosed       = errors.New("auction already closed")
	ErrOwnerBid            = errors.New("auction owner cannot make a bid")
	ErrDuplicateBid        = errors.New("bidder already has a bid in this auction")
	ErrSoldOut             = errors.New("auction has no remaining supply")
	ErrInsufficientSupply  = errors.New("requested quantity exceeds remaining supply")
	ErrInsufficientPayment = errors.New("attached payment is below the current cost")
	ErrNotAuctionOwner     = errors.New("caller is not the auction owner")
	ErrBidNotFound         = errors.New("bid not found")

	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrInvalidPriceRange = errors.New("start price must not be below the reserve price")
	ErrInvalidEndTime    = errors.New("end time must be after the start time")
	ErrInvalidIdentity   = errors.New("caller identity must not be empty")
	ErrInvalidResource   = errors.New("resource address must not be empty")
)

// IsValidation 判斷錯誤是否屬於驗證類(相對於協作方轉帳失敗)
func IsValidation(err error) bool {
	for _, e := range []error{
		ErrAuctionNotFound, ErrAuctionClosed, ErrOwnerBid, ErrDuplicateBid,
		ErrSoldOut, ErrInsufficientSupply, ErrInsufficientPayment,
		ErrNotAuctionOwner, ErrBidNotFound, ErrInvalidQuantity,
		ErrInvalidPriceRange, ErrInvalidEndTime, ErrInvalidIdentity,
		ErrInvalidResource,
	} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
