package api

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"dax/adapters/bank"
	daxredis "dax/adapters/redis"
	"dax/adapters/sse"
	"dax/adapters/token"
	"dax/ledger"
	"dax/storage"
)

// lobbyChannel 是拍賣建立事件的廣播頻道，訂閱者不需要知道拍賣ID
const lobbyChannel = "auctions"

// routeEvent 決定一則事件要進哪些SSE頻道
// 所有事件都進該場拍賣的頻道，建立事件額外進大廳頻道
func routeEvent(event ledger.Event) []string {
	names := []string{event.Channel()}
	if event.Kind == ledger.EventAuctionCreated {
		names = append(names, lobbyChannel)
	}
	return names
}

// localPublisher 把核心事件直接廣播給行程內的SSE訂閱者
// 單實例部署時使用；多實例部署改走 Redis Stream
type localPublisher struct {
	manager sse.IConnectionManager[ledger.Event]
}

func (p localPublisher) Publish(event ledger.Event) error {
	for _, name := range routeEvent(event) {
		if err := p.manager.Publish(name, event); err != nil {
			return err
		}
	}
	return nil
}

type ServerImpl struct {
	config     ServerConfig
	logger     *slog.Logger
	privateKey ed25519.PrivateKey
	sanitizer  *bluemonday.Policy

	db     *gorm.DB
	engine *ledger.Engine
	tokens *token.Ledger
	bank   *bank.Bank

	events      sse.IConnectionManager[ledger.Event]
	producer    *daxredis.StreamProducer[ledger.Event]
	redisClient *redis.Client
}

// NewServer 組裝整個服務：資料庫、資源與貨幣帳本、拍賣引擎與事件管線
// Redis 位址留空時以單實例模式運作，事件在行程內廣播、互斥只靠本地鎖
func NewServer(config ServerConfig, logger *slog.Logger) (*ServerImpl, error) {
	const op = "NewServer"
	if logger == nil {
		logger = slog.Default()
	}

	privateKey, err := config.Auth.PrivateKey()
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to load signing key, err=%w", op, err)
	}

	db, err := storage.Open(config.DB)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to open storage, err=%w", op, err)
	}

	impl := &ServerImpl{
		config:     config,
		logger:     logger.With(slog.String("caller", "Server")),
		privateKey: privateKey,
		sanitizer:  bluemonday.StrictPolicy(),
		db:         db,
		tokens:     token.NewLedger(db),
		bank:       bank.NewBank(db),
	}

	var publisher ledger.IEventPublisher
	if config.Redis.Addr != "" {
		impl.redisClient = redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})
		stream := config.Redis.KeyPrefix + config.Redis.StreamKeys.AuctionEvents

		impl.producer, err = daxredis.NewStreamProducer[ledger.Event](impl.redisClient, stream,
			daxredis.WithProducerLogger[ledger.Event](logger))
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create stream producer, err=%w", op, err)
		}
		consumer, err := daxredis.NewStreamConsumer[ledger.Event](impl.redisClient, stream,
			daxredis.WithConsumerLogger[ledger.Event](logger))
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create stream consumer, err=%w", op, err)
		}
		impl.events, err = sse.NewConnectionManager(
			sse.WithLogger[ledger.Event](logger),
			sse.WithSubscriber[ledger.Event](consumer),
			sse.WithRouteFunc(routeEvent))
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create connection manager, err=%w", op, err)
		}
		publisher = impl.producer
	} else {
		impl.events, err = sse.NewConnectionManager(
			sse.WithLogger[ledger.Event](logger),
			sse.WithRouteFunc(routeEvent))
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create connection manager, err=%w", op, err)
		}
		publisher = localPublisher{manager: impl.events}
	}

	impl.engine, err = ledger.NewEngine(db, impl.tokens, impl.bank, config.Escrow.Account,
		ledger.WithEventPublisher(publisher),
		ledger.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create auction engine, err=%w", op, err)
	}
	return impl, nil
}

// Start 啟動事件管線的背景goroutine
func (impl *ServerImpl) Start() {
	if impl.producer != nil {
		impl.producer.Start()
	}
	impl.events.Start()
}

// Close 依序關閉事件管線與Redis連線
func (impl *ServerImpl) Close() {
	impl.events.Done()
	if impl.producer != nil {
		impl.producer.Close()
	}
	if impl.redisClient != nil {
		if err := impl.redisClient.Close(); err != nil {
			impl.logger.Error("Fail to close redis client", slog.Any("error", err))
		}
	}
}

// RegisterRoutes 掛載所有HTTP端點
func (impl *ServerImpl) RegisterRoutes(router gin.IRouter) {
	auction := router.Group("/auction")
	{
		auction.POST("", impl.postAuction)
		auction.GET("/events", impl.getLobbyEvents)
		auction.GET("/owner/:address", impl.getLatestAuction)
		auction.GET("/:auctionID", impl.getAuction)
		auction.GET("/:auctionID/price", impl.getAuctionPrice)
		auction.POST("/:auctionID/bids", impl.postBid)
		auction.GET("/:auctionID/bids/:bidder", impl.getBid)
		auction.POST("/:auctionID/end", impl.postEndAuction)
		auction.GET("/:auctionID/events", impl.getAuctionEvents)
	}
	tokenGroup := router.Group("/token")
	{
		tokenGroup.POST("/:resource/approve", impl.postTokenApprove)
		tokenGroup.POST("/:resource/mint", impl.postTokenMint)
		tokenGroup.GET("/:resource/balance/:holder", impl.getTokenBalance)
		tokenGroup.GET("/:resource/allowance/:owner/:spender", impl.getTokenAllowance)
	}
	bankGroup := router.Group("/bank")
	{
		bankGroup.POST("/deposit", impl.postBankDeposit)
		bankGroup.GET("/balance", impl.getBankBalance)
	}
}

func (impl *ServerImpl) postAuction(c *gin.Context) {
	caller, ok := impl.caller(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "authentication required"})
		return
	}
	var request CreateAuctionRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	auctionID, err := impl.engine.CreateAuction(c.Request.Context(), caller, ledger.CreateAuctionParams{
		EndTime:      request.EndTime,
		StartPrice:   request.StartPrice,
		ReservePrice: request.ReservePrice,
		Quantity:     request.Quantity,
		Resource:     request.Resource,
		Description:  impl.sanitizer.Sanitize(request.Description),
	})
	if err != nil {
		impl.abortWithError(c, err)
		return
	}
	c.Header("Location", "/auction/"+strconv.FormatUint(auctionID, 10))
	c.JSON(http.StatusCreated, CreateAuctionResponse{AuctionID: auctionID})
}

func (impl *ServerImpl) getAuction(c *gin.Context) {
	auctionID, ok := parseAuctionID(c)
	if !ok {
		return
	}
	auction, err := impl.engine.GetAuction(c.Request.Context(), auctionID)
	if err != nil {
		impl.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newAuctionResponse(auction, time.Now()))
}

func (impl *ServerImpl) getAuctionPrice(c *gin.Context) {
	auctionID, ok := parseAuctionID(c)
	if !ok {
		return
	}
	price, err := impl.engine.CurrentPriceByID(c.Request.Context(), auctionID)
	if err != nil {
		impl.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, PriceResponse{AuctionID: auctionID, Price: price, Time: time.Now()})
}

func (impl *ServerImpl) postBid(c *gin.Context) {
	caller, ok := impl.caller(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "authentication required"})
		return
	}
	auctionID, ok := parseAuctionID(c)
	if !ok {
		return
	}
	var request PlaceBidRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	unlock, err := impl.lockAuction(c, auctionID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "auction is busy, try again later"})
		return
	}
	defer unlock()

	bid, err := impl.engine.PlaceBid(c.Request.Context(), caller, auctionID, request.Quantity, request.Payment)
	if err != nil {
		impl.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newBidResponse(bid))
}

func (impl *ServerImpl) getBid(c *gin.Context) {
	auctionID, ok := parseAuctionID(c)
	if !ok {
		return
	}
	bid, err := impl.engine.GetBid(c.Request.Context(), auctionID, c.Param("bidder"))
	if err != nil {
		impl.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newBidResponse(bid))
}

func (impl *ServerImpl) postEndAuction(c *gin.Context) {
	caller, ok := impl.caller(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "authentication required"})
		return
	}
	auctionID, ok := parseAuctionID(c)
	if !ok {
		return
	}

	unlock, err := impl.lockAuction(c, auctionID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "auction is busy, try again later"})
		return
	}
	defer unlock()

	settlement, err := impl.engine.EndAuction(c.Request.Context(), caller, auctionID)
	if err != nil {
		impl.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, SettlementResponse{
		AuctionID:            settlement.AuctionID,
		BidsSettled:          settlement.BidsSettled,
		DistributedQuantity:  settlement.DistributedQuantity,
		UnsoldReturned:       settlement.UnsoldReturned,
		ProceedsPaidToSeller: settlement.ProceedsPaidToSeller,
	})
}

func (impl *ServerImpl) getLatestAuction(c *gin.Context) {
	owner := c.Param("address")
	auctionID, err := impl.engine.LatestAuctionID(c.Request.Context(), owner)
	if err != nil {
		impl.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, LatestAuctionResponse{Owner: owner, AuctionID: auctionID})
}

func (impl *ServerImpl) getAuctionEvents(c *gin.Context) {
	auctionID, ok := parseAuctionID(c)
	if !ok {
		return
	}
	// 先確認拍賣存在，避免訂閱者掛在永遠不會有事件的頻道上
	if _, err := impl.engine.GetAuction(c.Request.Context(), auctionID); err != nil {
		impl.abortWithError(c, err)
		return
	}
	impl.streamEvents(c, strconv.FormatUint(auctionID, 10))
}

func (impl *ServerImpl) getLobbyEvents(c *gin.Context) {
	impl.streamEvents(c, lobbyChannel)
}

// streamEvents 以SSE把頻道上的事件推給客戶端，直到連線中斷
func (impl *ServerImpl) streamEvents(c *gin.Context, channelName string) {
	subscription, err := impl.events.Subscribe(channelName)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "event stream is shutting down"})
		return
	}
	defer impl.events.Unsubscribe(channelName, subscription)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Flush()

	keepAlive := time.NewTicker(30 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case event, open := <-subscription:
			if !open {
				return
			}
			c.SSEvent(string(event.Kind), event)
			c.Writer.Flush()
		case <-keepAlive.C:
			if _, err := c.Writer.WriteString(": keep-alive\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}

func (impl *ServerImpl) postTokenApprove(c *gin.Context) {
	caller, ok := impl.caller(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "authentication required"})
		return
	}
	resource := c.Param("resource")
	var request TokenApproveRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	spender := request.Spender
	if spender == "" {
		spender = impl.config.Escrow.Account
	}
	if err := impl.tokens.Approve(c.Request.Context(), resource, caller, spender, request.Amount); err != nil {
		impl.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, TokenAllowanceResponse{
		Resource: resource,
		Owner:    caller,
		Spender:  spender,
		Amount:   request.Amount,
	})
}

func (impl *ServerImpl) postTokenMint(c *gin.Context) {
	if !impl.requireAdmin(c) {
		return
	}
	resource := c.Param("resource")
	var request TokenMintRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if err := impl.tokens.Mint(c.Request.Context(), resource, request.Holder, request.Amount); err != nil {
		impl.abortWithError(c, err)
		return
	}
	amount, err := impl.tokens.BalanceOf(c.Request.Context(), resource, request.Holder)
	if err != nil {
		impl.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, TokenBalanceResponse{Resource: resource, Holder: request.Holder, Amount: amount})
}

func (impl *ServerImpl) getTokenBalance(c *gin.Context) {
	resource, holder := c.Param("resource"), c.Param("holder")
	amount, err := impl.tokens.BalanceOf(c.Request.Context(), resource, holder)
	if err != nil {
		impl.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, TokenBalanceResponse{Resource: resource, Holder: holder, Amount: amount})
}

func (impl *ServerImpl) getTokenAllowance(c *gin.Context) {
	resource, owner, spender := c.Param("resource"), c.Param("owner"), c.Param("spender")
	amount, err := impl.tokens.Allowance(c.Request.Context(), resource, owner, spender)
	if err != nil {
		impl.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, TokenAllowanceResponse{Resource: resource, Owner: owner, Spender: spender, Amount: amount})
}

func (impl *ServerImpl) postBankDeposit(c *gin.Context) {
	if !impl.requireAdmin(c) {
		return
	}
	var request DepositRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if err := impl.bank.Deposit(c.Request.Context(), request.Account, request.Amount); err != nil {
		impl.abortWithError(c, err)
		return
	}
	balance, err := impl.bank.BalanceOf(c.Request.Context(), request.Account)
	if err != nil {
		impl.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, BankBalanceResponse{Account: request.Account, Balance: balance})
}

func (impl *ServerImpl) getBankBalance(c *gin.Context) {
	caller, ok := impl.caller(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "authentication required"})
		return
	}
	balance, err := impl.bank.BalanceOf(c.Request.Context(), caller)
	if err != nil {
		impl.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, BankBalanceResponse{Account: caller, Balance: balance})
}

// requireAdmin 限制端點只有管理者能呼叫，未設定管理者時一律拒絕
func (impl *ServerImpl) requireAdmin(c *gin.Context) bool {
	caller, ok := impl.caller(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "authentication required"})
		return false
	}
	if impl.config.Escrow.Admin == "" || caller != impl.config.Escrow.Admin {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "administrator only"})
		return false
	}
	return true
}

// lockAuction 在多實例部署時對同一場拍賣跨節點上鎖
// 單實例部署(未設定Redis)時直接放行，序列化由引擎內的本地鎖負責
func (impl *ServerImpl) lockAuction(c *gin.Context, auctionID uint64) (func(), error) {
	if impl.redisClient == nil {
		return func() {}, nil
	}
	mutex := daxredis.NewAutoRenewMutex(impl.redisClient,
		fmt.Sprintf("%sauction:%d:lock", impl.config.Redis.KeyPrefix, auctionID))
	if err := mutex.Lock(c.Request.Context()); err != nil {
		return nil, err
	}
	return func() {
		if _, err := mutex.Unlock(); err != nil {
			impl.logger.Error("Fail to release auction lock",
				slog.Uint64("auctionID", auctionID),
				slog.Any("error", err))
		}
	}, nil
}

func parseAuctionID(c *gin.Context) (uint64, bool) {
	auctionID, err := strconv.ParseUint(c.Param("auctionID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "auctionID must be a positive integer"})
		return 0, false
	}
	return auctionID, true
}

// abortWithError 把核心與帳本的錯誤對應到HTTP狀態碼
func (impl *ServerImpl) abortWithError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrAuctionNotFound) || errors.Is(err, ledger.ErrBidNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.Is(err, ledger.ErrNotAuctionOwner) || errors.Is(err, ledger.ErrOwnerBid):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: err.Error()})
	case errors.Is(err, ledger.ErrAuctionClosed):
		c.JSON(http.StatusGone, ErrorResponse{Error: err.Error()})
	case errors.Is(err, ledger.ErrDuplicateBid):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
	case ledger.IsValidation(err):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, token.ErrInsufficientBalance) ||
		errors.Is(err, token.ErrInsufficientAllowance) ||
		errors.Is(err, token.ErrInvalidAmount) ||
		errors.Is(err, bank.ErrInsufficientFunds) ||
		errors.Is(err, bank.ErrInvalidAmount):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
	default:
		impl.logger.Error("Unexpected error", slog.String("path", c.FullPath()), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}
