package api

import (
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"dax/ledger"
	"dax/models"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type CreateAuctionRequest struct {
	Resource     string          `json:"resource" binding:"required"`
	Description  string          `json:"description"`
	EndTime      time.Time       `json:"endTime" binding:"required"`
	StartPrice   decimal.Decimal `json:"startPrice" binding:"required"`
	ReservePrice decimal.Decimal `json:"reservePrice"`
	Quantity     uint64          `json:"quantity" binding:"required"`
}

type CreateAuctionResponse struct {
	AuctionID uint64 `json:"auctionID"`
}

type PlaceBidRequest struct {
	Quantity uint64          `json:"quantity" binding:"required"`
	Payment  decimal.Decimal `json:"payment" binding:"required"`
}

type BidResponse struct {
	Bidder           string          `json:"bidder"`
	BidderIndex      uint64          `json:"bidderIndex"`
	ReservedQuantity uint64          `json:"reservedQuantity"`
	DepositedAmount  decimal.Decimal `json:"depositedAmount"`
	CreatedAt        time.Time       `json:"createdAt"`
}

type AuctionResponse struct {
	ID              uint64          `json:"id"`
	Owner           string          `json:"owner"`
	Resource        string          `json:"resource"`
	Description     string          `json:"description"`
	StartTime       time.Time       `json:"startTime"`
	EndTime         time.Time       `json:"endTime"`
	StartPrice      decimal.Decimal `json:"startPrice"`
	ReservePrice    decimal.Decimal `json:"reservePrice"`
	CurrentPrice    decimal.Decimal `json:"currentPrice"`
	TotalSupply     uint64          `json:"totalSupply"`
	RemainingSupply uint64          `json:"remainingSupply"`
	TotalBidsCount  uint64          `json:"totalBidsCount"`
	TotalEscrowed   decimal.Decimal `json:"totalEscrowed"`
	Closed          bool            `json:"closed"`
	Bids            []BidResponse   `json:"bids"`
}

type PriceResponse struct {
	AuctionID uint64          `json:"auctionID"`
	Price     decimal.Decimal `json:"price"`
	Time      time.Time       `json:"time"`
}

type SettlementResponse struct {
	AuctionID            uint64          `json:"auctionID"`
	BidsSettled          int             `json:"bidsSettled"`
	DistributedQuantity  uint64          `json:"distributedQuantity"`
	UnsoldReturned       uint64          `json:"unsoldReturned"`
	ProceedsPaidToSeller decimal.Decimal `json:"proceedsPaidToSeller"`
}

type LatestAuctionResponse struct {
	Owner     string `json:"owner"`
	AuctionID uint64 `json:"auctionID"`
}

type TokenApproveRequest struct {
	// Spender 留空時授權給系統託管帳戶
	Spender string `json:"spender"`
	Amount  uint64 `json:"amount"`
}

type TokenMintRequest struct {
	Holder string `json:"holder" binding:"required"`
	Amount uint64 `json:"amount" binding:"required"`
}

type TokenBalanceResponse struct {
	Resource string `json:"resource"`
	Holder   string `json:"holder"`
	Amount   uint64 `json:"amount"`
}

type TokenAllowanceResponse struct {
	Resource string `json:"resource"`
	Owner    string `json:"owner"`
	Spender  string `json:"spender"`
	Amount   uint64 `json:"amount"`
}

type DepositRequest struct {
	Account string          `json:"account" binding:"required"`
	Amount  decimal.Decimal `json:"amount" binding:"required"`
}

type BankBalanceResponse struct {
	Account string          `json:"account"`
	Balance decimal.Decimal `json:"balance"`
}

func newBidResponse(bid models.Bid) BidResponse {
	return BidResponse{
		Bidder:           bid.Bidder,
		BidderIndex:      bid.BidderIndex,
		ReservedQuantity: bid.ReservedQuantity,
		DepositedAmount:  bid.DepositedAmount,
		CreatedAt:        bid.CreatedAt,
	}
}

func newAuctionResponse(auction models.Auction, now time.Time) AuctionResponse {
	bids := lo.Map(auction.Bids, func(bid models.Bid, _ int) BidResponse {
		return newBidResponse(bid)
	})
	return AuctionResponse{
		ID:              auction.ID,
		Owner:           auction.Owner,
		Resource:        auction.Resource,
		Description:     auction.Description,
		StartTime:       auction.StartTime,
		EndTime:         auction.EndTime,
		StartPrice:      auction.StartPrice,
		ReservePrice:    auction.ReservePrice,
		CurrentPrice:    ledger.CurrentPrice(auction, now),
		TotalSupply:     auction.TotalSupply,
		RemainingSupply: auction.RemainingSupply,
		TotalBidsCount:  auction.TotalBidsCount,
		TotalEscrowed:   auction.TotalEscrowed,
		Closed:          auction.Closed,
		Bids:            bids,
	}
}
