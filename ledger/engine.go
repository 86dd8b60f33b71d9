package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"dax/models"
	"dax/storage"
)

// Engine 是拍賣總帳的核心
// 負責拍賣註冊表、出價入帳與結算三件事；每個操作都包在單一資料庫交易內，
// 配合以拍賣ID為粒度的互斥鎖，保證同一場拍賣上的操作完全序列化且不留部分效果
type Engine struct {
	db        *gorm.DB
	resources IResourceLedger
	currency  ICurrencyLedger
	events    IEventPublisher
	locks     *KeyedMutex
	escrow    string
	now       func() time.Time
	logger    *slog.Logger
}

type EngineOption func(*Engine)

// WithClock 注入時鐘，測試時用來固定價格曲線上的時間點
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// WithEventPublisher 設定事件發布器
func WithEventPublisher(publisher IEventPublisher) EngineOption {
	return func(e *Engine) {
		e.events = publisher
	}
}

// WithLogger 設定日誌記錄器
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine 建立拍賣引擎
// escrow 是系統託管帳戶的身份，拍賣期間的資源與押金都掛在這個帳戶名下
func NewEngine(db *gorm.DB, resources IResourceLedger, currency ICurrencyLedger, escrow string, opts ...EngineOption) (*Engine, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	if resources == nil || currency == nil {
		return nil, errors.New("resource and currency ledgers cannot be nil")
	}
	if escrow == "" {
		return nil, errors.New("escrow account cannot be empty")
	}

	engine := &Engine{
		db:        db,
		resources: resources,
		currency:  currency,
		locks:     NewKeyedMutex(),
		escrow:    escrow,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(engine)
	}
	engine.logger = engine.logger.With(slog.String("caller", "Engine"))
	return engine, nil
}

// CreateAuctionParams 是建立拍賣的輸入
// StartTime 一律取建立當下的時間，不開放指定
type CreateAuctionParams struct {
	EndTime      time.Time
	StartPrice   decimal.Decimal
	ReservePrice decimal.Decimal
	Quantity     uint64
	Resource     string
	Description  string
}

// CreateAuction 建立新拍賣
// 透過資源帳本的授權代轉把 Quantity 單位資源從 owner 轉入託管帳戶，
// 代轉失敗時整個操作失敗且不會留下任何拍賣記錄
func (e *Engine) CreateAuction(ctx context.Context, owner string, params CreateAuctionParams) (uint64, error) {
	const op = "Engine.CreateAuction"
	if owner == "" {
		return 0, ErrInvalidIdentity
	}
	if params.Resource == "" {
		return 0, ErrInvalidResource
	}
	if params.Quantity == 0 {
		return 0, ErrInvalidQuantity
	}
	if params.ReservePrice.IsNegative() || params.StartPrice.LessThan(params.ReservePrice) {
		return 0, ErrInvalidPriceRange
	}

	startTime := e.now()
	if !params.EndTime.After(startTime) {
		return 0, ErrInvalidEndTime
	}

	auction := models.Auction{
		Owner:           owner,
		Resource:        params.Resource,
		Description:     params.Description,
		StartTime:       startTime,
		EndTime:         params.EndTime,
		StartPrice:      params.StartPrice,
		ReservePrice:    params.ReservePrice,
		TotalSupply:     params.Quantity,
		RemainingSupply: params.Quantity,
		TotalEscrowed:   decimal.Zero,
	}
	err := e.db.Transaction(func(tx *gorm.DB) error {
		txCtx := storage.ContextWithTx(ctx, tx)
		// 先入金再立案：代轉失敗時交易回滾，不會產生空拍賣
		if err := e.resources.TransferFrom(txCtx, params.Resource, owner, e.escrow, params.Quantity); err != nil {
			return fmt.Errorf("[%s] Fail to move resource into escrow, err=%w", op, err)
		}
		if result := tx.Create(&auction); result.Error != nil {
			return fmt.Errorf("[%s] Fail to create auction record, err=%w", op, result.Error)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	e.publish(Event{
		Kind:      EventAuctionCreated,
		AuctionID: auction.ID,
		Resource:  auction.Resource,
		Quantity:  auction.TotalSupply,
		Time:      startTime,
	})
	e.logger.Info("Auction created",
		slog.Uint64("auctionID", auction.ID),
		slog.String("owner", owner),
		slog.Uint64("quantity", params.Quantity),
		slog.String("resource", params.Resource))
	return auction.ID, nil
}

// PlaceBid 替 bidder 在指定拍賣上建立唯一一筆出價
// payment 是隨請求附上的金額，會先全額轉入託管帳戶，
// 成交價以入帳當下的現價計算，超付的部分在同一筆交易內立即退還
func (e *Engine) PlaceBid(ctx context.Context, bidder string, auctionID uint64, quantity uint64, payment decimal.Decimal) (models.Bid, error) {
	const op = "Engine.PlaceBid"
	if bidder == "" {
		return models.Bid{}, ErrInvalidIdentity
	}
	if quantity == 0 {
		return models.Bid{}, ErrInvalidQuantity
	}

	e.locks.Lock(auctionID)
	defer e.locks.Unlock(auctionID)

	var bid models.Bid
	var price decimal.Decimal
	err := e.db.Transaction(func(tx *gorm.DB) error {
		txCtx := storage.ContextWithTx(ctx, tx)

		// 前置條件依序檢查，任一不符都在改動任何狀態之前失敗
		var auction models.Auction
		if result := tx.First(&auction, auctionID); result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return ErrAuctionNotFound
			}
			return fmt.Errorf("[%s] Fail to load auction, err=%w", op, result.Error)
		}
		if auction.Closed {
			return ErrAuctionClosed
		}
		if bidder == auction.Owner {
			return ErrOwnerBid
		}
		var existing int64
		if result := tx.Model(&models.Bid{}).Where("auction_id = ? AND bidder = ?", auctionID, bidder).Count(&existing); result.Error != nil {
			return fmt.Errorf("[%s] Fail to check previous bids, err=%w", op, result.Error)
		}
		if existing > 0 {
			return ErrDuplicateBid
		}
		if auction.RemainingSupply == 0 {
			return ErrSoldOut
		}
		if quantity > auction.RemainingSupply {
			return ErrInsufficientSupply
		}

		// 成交價取入帳當下的現價，查價到入帳之間的滑價由出價者承擔
		price = CurrentPrice(auction, e.now())
		cost := price.Mul(decimal.NewFromUint64(quantity))
		if payment.LessThan(cost) {
			return ErrInsufficientPayment
		}

		// 全額入託管，再立即退還超付；退款失敗會讓整筆出價回滾
		// 底價為0時可能出現零元出價，此時沒有資金要移動
		if payment.IsPositive() {
			if err := e.currency.Transfer(txCtx, bidder, e.escrow, payment); err != nil {
				return fmt.Errorf("[%s] Fail to move payment into escrow, err=%w", op, err)
			}
			if excess := payment.Sub(cost); excess.IsPositive() {
				if err := e.currency.Transfer(txCtx, e.escrow, bidder, excess); err != nil {
					return fmt.Errorf("[%s] Fail to refund excess payment, err=%w", op, err)
				}
			}
		}

		bid = models.Bid{
			AuctionID:        auctionID,
			Bidder:           bidder,
			BidderIndex:      auction.TotalBidsCount,
			ReservedQuantity: quantity,
			DepositedAmount:  cost,
		}
		if result := tx.Create(&bid); result.Error != nil {
			return fmt.Errorf("[%s] Fail to create bid record, err=%w", op, result.Error)
		}

		updates := map[string]any{
			"remaining_supply": auction.RemainingSupply - quantity,
			"total_bids_count": auction.TotalBidsCount + 1,
			"total_escrowed":   auction.TotalEscrowed.Add(cost),
		}
		if result := tx.Model(&models.Auction{}).Where("id = ?", auctionID).Updates(updates); result.Error != nil {
			return fmt.Errorf("[%s] Fail to update auction counters, err=%w", op, result.Error)
		}

		e.verifyInvariants(tx, auctionID)
		return nil
	})
	if err != nil {
		return models.Bid{}, err
	}

	e.publish(Event{
		Kind:      EventBidPlaced,
		AuctionID: auctionID,
		Bidder:    bidder,
		Quantity:  quantity,
		Price:     price.String(),
		Amount:    bid.DepositedAmount.String(),
		Time:      bid.CreatedAt,
	})
	e.logger.Info("Bid placed",
		slog.Uint64("auctionID", auctionID),
		slog.String("bidder", bidder),
		slog.Uint64("quantity", quantity),
		slog.String("deposited", bid.DepositedAmount.String()))
	return bid, nil
}

// Settlement 是結算結果的摘要
type Settlement struct {
	AuctionID            uint64
	BidsSettled          int
	DistributedQuantity  uint64
	UnsoldReturned       uint64
	ProceedsPaidToSeller decimal.Decimal
}

// EndAuction 由拍賣主結算拍賣，整場拍賣只會成功一次
// 依進場順序把保留量派發給各出價者，未售出的資源與全部押金退回拍賣主，
// 任一轉帳失敗都會讓整個結算回滾，拍賣保持開放可重試
func (e *Engine) EndAuction(ctx context.Context, caller string, auctionID uint64) (Settlement, error) {
	const op = "Engine.EndAuction"
	if caller == "" {
		return Settlement{}, ErrInvalidIdentity
	}

	e.locks.Lock(auctionID)
	defer e.locks.Unlock(auctionID)

	var settlement Settlement
	err := e.db.Transaction(func(tx *gorm.DB) error {
		txCtx := storage.ContextWithTx(ctx, tx)

		var auction models.Auction
		if result := tx.First(&auction, auctionID); result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return ErrAuctionNotFound
			}
			return fmt.Errorf("[%s] Fail to load auction, err=%w", op, result.Error)
		}
		if caller != auction.Owner {
			return ErrNotAuctionOwner
		}
		if auction.Closed {
			return ErrAuctionClosed
		}

		var bids []models.Bid
		if result := tx.Where("auction_id = ?", auctionID).Order("bidder_index ASC").Find(&bids); result.Error != nil {
			return fmt.Errorf("[%s] Fail to load bids, err=%w", op, result.Error)
		}

		// 依進場順序派發；每個人拿到的量在入帳時就已定案，順序不影響金額
		for _, bid := range bids {
			if err := e.resources.Transfer(txCtx, auction.Resource, e.escrow, bid.Bidder, bid.ReservedQuantity); err != nil {
				return fmt.Errorf("[%s] Fail to distribute resource to bidder %s, err=%w", op, bid.Bidder, err)
			}
			settlement.DistributedQuantity += bid.ReservedQuantity
		}
		if auction.RemainingSupply > 0 {
			if err := e.resources.Transfer(txCtx, auction.Resource, e.escrow, auction.Owner, auction.RemainingSupply); err != nil {
				return fmt.Errorf("[%s] Fail to return unsold resource, err=%w", op, err)
			}
		}
		if auction.TotalEscrowed.IsPositive() {
			if err := e.currency.Transfer(txCtx, e.escrow, auction.Owner, auction.TotalEscrowed); err != nil {
				return fmt.Errorf("[%s] Fail to pay proceeds to owner, err=%w", op, err)
			}
		}

		updates := map[string]any{
			"remaining_supply": 0,
			"total_escrowed":   decimal.Zero,
			"closed":           true,
		}
		if result := tx.Model(&models.Auction{}).Where("id = ?", auctionID).Updates(updates); result.Error != nil {
			return fmt.Errorf("[%s] Fail to close auction, err=%w", op, result.Error)
		}

		settlement.AuctionID = auctionID
		settlement.BidsSettled = len(bids)
		settlement.UnsoldReturned = auction.RemainingSupply
		settlement.ProceedsPaidToSeller = auction.TotalEscrowed

		e.verifyInvariants(tx, auctionID)
		return nil
	})
	if err != nil {
		return Settlement{}, err
	}

	e.publish(Event{
		Kind:      EventAuctionClosed,
		AuctionID: auctionID,
		Quantity:  settlement.DistributedQuantity,
		Amount:    settlement.ProceedsPaidToSeller.String(),
		Time:      e.now(),
	})
	e.logger.Info("Auction settled",
		slog.Uint64("auctionID", auctionID),
		slog.Int("bids", settlement.BidsSettled),
		slog.Uint64("unsold", settlement.UnsoldReturned),
		slog.String("proceeds", settlement.ProceedsPaidToSeller.String()))
	return settlement, nil
}

// GetAuction 依ID查詢拍賣，連同所有出價(依進場順序)
func (e *Engine) GetAuction(ctx context.Context, auctionID uint64) (models.Auction, error) {
	const op = "Engine.GetAuction"
	var auction models.Auction
	result := storage.FromContext(ctx, e.db).
		Preload("Bids", func(db *gorm.DB) *gorm.DB {
			return db.Order("bidder_index ASC")
		}).
		First(&auction, auctionID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return models.Auction{}, ErrAuctionNotFound
		}
		return models.Auction{}, fmt.Errorf("[%s] Fail to load auction, err=%w", op, result.Error)
	}
	return auction, nil
}

// GetBid 查詢 bidder 在指定拍賣中的出價，不存在時回傳 ErrBidNotFound
func (e *Engine) GetBid(ctx context.Context, auctionID uint64, bidder string) (models.Bid, error) {
	const op = "Engine.GetBid"
	var bid models.Bid
	result := storage.FromContext(ctx, e.db).Where("auction_id = ? AND bidder = ?", auctionID, bidder).First(&bid)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return models.Bid{}, ErrBidNotFound
		}
		return models.Bid{}, fmt.Errorf("[%s] Fail to load bid, err=%w", op, result.Error)
	}
	return bid, nil
}

// CurrentPriceByID 查詢指定拍賣的現價
func (e *Engine) CurrentPriceByID(ctx context.Context, auctionID uint64) (decimal.Decimal, error) {
	auction, err := e.GetAuction(ctx, auctionID)
	if err != nil {
		return decimal.Zero, err
	}
	return CurrentPrice(auction, e.now()), nil
}

// LatestAuctionID 查詢 owner 最近建立的拍賣ID，從未建立過時回傳0
func (e *Engine) LatestAuctionID(ctx context.Context, owner string) (uint64, error) {
	const op = "Engine.LatestAuctionID"
	var id uint64
	result := storage.FromContext(ctx, e.db).
		Model(&models.Auction{}).
		Where("owner = ?", owner).
		Select("COALESCE(MAX(id), 0)").
		Scan(&id)
	if result.Error != nil {
		return 0, fmt.Errorf("[%s] Fail to query latest auction, err=%w", op, result.Error)
	}
	return id, nil
}

// publish 在操作提交後對外發布事件，失敗只記錄不回傳
func (e *Engine) publish(event Event) {
	if e.events == nil {
		return
	}
	if err := e.events.Publish(event); err != nil {
		e.logger.Error("Fail to publish event",
			slog.String("kind", string(event.Kind)),
			slog.Uint64("auctionID", event.AuctionID),
			slog.Any("error", err))
	}
}

// verifyInvariants 重新驗證供給與押金兩條恆等式
// 依照驗證規則這裡不可能失敗，一旦失敗視為致命缺陷直接panic
func (e *Engine) verifyInvariants(tx *gorm.DB, auctionID uint64) {
	var auction models.Auction
	if result := tx.First(&auction, auctionID); result.Error != nil {
		panic(fmt.Sprintf("ledger: fail to reload auction %d for invariant check: %v", auctionID, result.Error))
	}
	var bids []models.Bid
	if result := tx.Where("auction_id = ?", auctionID).Find(&bids); result.Error != nil {
		panic(fmt.Sprintf("ledger: fail to load bids of auction %d for invariant check: %v", auctionID, result.Error))
	}

	// 結算後供給與押金欄位都歸零，結算前兩條恆等式必須同時成立
	if auction.Closed {
		if auction.RemainingSupply != 0 || !auction.TotalEscrowed.IsZero() {
			panic(fmt.Sprintf("ledger: closed auction %d still holds state: remaining=%d escrowed=%s",
				auctionID, auction.RemainingSupply, auction.TotalEscrowed))
		}
		return
	}

	var reserved uint64
	deposited := decimal.Zero
	for _, bid := range bids {
		reserved += bid.ReservedQuantity
		deposited = deposited.Add(bid.DepositedAmount)
	}
	if auction.RemainingSupply+reserved != auction.TotalSupply {
		panic(fmt.Sprintf("ledger: supply invariant broken on auction %d: remaining=%d reserved=%d total=%d",
			auctionID, auction.RemainingSupply, reserved, auction.TotalSupply))
	}
	if !auction.TotalEscrowed.Equal(deposited) {
		panic(fmt.Sprintf("ledger: escrow invariant broken on auction %d: escrowed=%s deposited=%s",
			auctionID, auction.TotalEscrowed, deposited))
	}
}
