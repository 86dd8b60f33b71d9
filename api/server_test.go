package api_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dax/api"
	"dax/storage"
)

const (
	testIssuer   = "dax-test"
	testAudience = "dax-test"
)

func testConfig(t *testing.T) api.ServerConfig {
	t.Helper()
	seed := bytes.Repeat([]byte{7}, 32)
	return api.ServerConfig{
		Auth: api.AuthConfig{
			PrivateKeySeed: base64.StdEncoding.EncodeToString(seed),
			Issuer:         testIssuer,
			Audience:       testAudience,
			ExpireDuration: time.Hour,
		},
		Escrow: api.EscrowConfig{
			Account: "escrow",
			Admin:   "admin",
		},
		DB: storage.Config{
			SQLitePath: filepath.Join(t.TempDir(), "dax.db"),
		},
	}
}

func setupServer(t *testing.T) (*gin.Engine, api.ServerConfig) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	config := testConfig(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	server, err := api.NewServer(config, logger)
	require.NoError(t, err)
	server.Start()
	t.Cleanup(server.Close)

	router := gin.New()
	server.RegisterRoutes(router)
	return router, config
}

func tokenFor(t *testing.T, config api.ServerConfig, address string) string {
	t.Helper()
	key, err := config.Auth.PrivateKey()
	require.NoError(t, err)
	signed, err := api.SignJWT(address, address, key, testIssuer, testAudience, time.Hour)
	require.NoError(t, err)
	return signed
}

func doJSON(t *testing.T, router *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var result T
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &result))
	return result
}

func TestAuctionLifecycle(t *testing.T) {
	router, config := setupServer(t)
	adminToken := tokenFor(t, config, "admin")
	aliceToken := tokenFor(t, config, "alice")
	bobToken := tokenFor(t, config, "bob")

	// 管理者發行資源給alice並給bob入金
	recorder := doJSON(t, router, http.MethodPost, "/token/foo/mint", adminToken, api.TokenMintRequest{
		Holder: "alice", Amount: 100,
	})
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())

	recorder = doJSON(t, router, http.MethodPost, "/bank/deposit", adminToken, api.DepositRequest{
		Account: "bob", Amount: decimal.RequireFromString("100"),
	})
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())

	// alice授權託管帳戶代轉(spender留空時預設託管帳戶)
	recorder = doJSON(t, router, http.MethodPost, "/token/foo/approve", aliceToken, api.TokenApproveRequest{Amount: 100})
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	allowance := decodeBody[api.TokenAllowanceResponse](t, recorder)
	assert.Equal(t, "escrow", allowance.Spender)

	// 建立拍賣
	recorder = doJSON(t, router, http.MethodPost, "/auction", aliceToken, api.CreateAuctionRequest{
		Resource:     "foo",
		Description:  "a batch of foo",
		EndTime:      time.Now().Add(time.Hour),
		StartPrice:   decimal.RequireFromString("1.0"),
		ReservePrice: decimal.RequireFromString("0.5"),
		Quantity:     20,
	})
	require.Equal(t, http.StatusCreated, recorder.Code, recorder.Body.String())
	created := decodeBody[api.CreateAuctionResponse](t, recorder)
	require.GreaterOrEqual(t, created.AuctionID, uint64(1))
	auctionPath := "/auction/" + strconv.FormatUint(created.AuctionID, 10)

	// 查詢拍賣與現價
	recorder = doJSON(t, router, http.MethodGet, auctionPath, "", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	auction := decodeBody[api.AuctionResponse](t, recorder)
	assert.Equal(t, "alice", auction.Owner)
	assert.Equal(t, uint64(20), auction.RemainingSupply)
	assert.False(t, auction.Closed)

	recorder = doJSON(t, router, http.MethodGet, auctionPath+"/price", "", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	price := decodeBody[api.PriceResponse](t, recorder)
	assert.True(t, price.Price.GreaterThanOrEqual(decimal.RequireFromString("0.5")))
	assert.True(t, price.Price.LessThanOrEqual(decimal.RequireFromString("1.0")))

	// bob出價，超付的部分立即退還
	recorder = doJSON(t, router, http.MethodPost, auctionPath+"/bids", bobToken, api.PlaceBidRequest{
		Quantity: 5, Payment: decimal.RequireFromString("100"),
	})
	require.Equal(t, http.StatusCreated, recorder.Code, recorder.Body.String())
	bid := decodeBody[api.BidResponse](t, recorder)
	assert.Equal(t, "bob", bid.Bidder)
	assert.Equal(t, uint64(0), bid.BidderIndex)
	assert.Equal(t, uint64(5), bid.ReservedQuantity)
	assert.True(t, bid.DepositedAmount.LessThanOrEqual(decimal.RequireFromString("5")))

	recorder = doJSON(t, router, http.MethodGet, auctionPath+"/bids/bob", "", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	// alice結算
	recorder = doJSON(t, router, http.MethodPost, auctionPath+"/end", aliceToken, nil)
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	settlement := decodeBody[api.SettlementResponse](t, recorder)
	assert.Equal(t, 1, settlement.BidsSettled)
	assert.Equal(t, uint64(5), settlement.DistributedQuantity)
	assert.Equal(t, uint64(15), settlement.UnsoldReturned)
	assert.True(t, settlement.ProceedsPaidToSeller.IsPositive())

	// 結算款項進了alice的帳戶
	recorder = doJSON(t, router, http.MethodGet, "/bank/balance", aliceToken, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	balance := decodeBody[api.BankBalanceResponse](t, recorder)
	assert.True(t, balance.Balance.Equal(settlement.ProceedsPaidToSeller))

	// bob拿到資源
	recorder = doJSON(t, router, http.MethodGet, "/token/foo/balance/bob", "", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	holding := decodeBody[api.TokenBalanceResponse](t, recorder)
	assert.Equal(t, uint64(5), holding.Amount)

	// owner對應到最近一場拍賣
	recorder = doJSON(t, router, http.MethodGet, "/auction/owner/alice", "", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	latest := decodeBody[api.LatestAuctionResponse](t, recorder)
	assert.Equal(t, created.AuctionID, latest.AuctionID)
}

func TestAuthRequired(t *testing.T) {
	router, _ := setupServer(t)

	for _, tt := range []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/auction"},
		{http.MethodPost, "/auction/1/bids"},
		{http.MethodPost, "/auction/1/end"},
		{http.MethodPost, "/token/foo/approve"},
		{http.MethodGet, "/bank/balance"},
	} {
		recorder := doJSON(t, router, tt.method, tt.path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, recorder.Code, "%s %s", tt.method, tt.path)
	}

	// 偽造的憑證一樣被拒絕
	recorder := doJSON(t, router, http.MethodGet, "/bank/balance", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestAdminOnly(t *testing.T) {
	router, config := setupServer(t)
	aliceToken := tokenFor(t, config, "alice")

	recorder := doJSON(t, router, http.MethodPost, "/token/foo/mint", aliceToken, api.TokenMintRequest{
		Holder: "alice", Amount: 100,
	})
	assert.Equal(t, http.StatusForbidden, recorder.Code)

	recorder = doJSON(t, router, http.MethodPost, "/bank/deposit", aliceToken, api.DepositRequest{
		Account: "alice", Amount: decimal.RequireFromString("100"),
	})
	assert.Equal(t, http.StatusForbidden, recorder.Code)
}

func TestErrorMapping(t *testing.T) {
	router, config := setupServer(t)
	adminToken := tokenFor(t, config, "admin")
	aliceToken := tokenFor(t, config, "alice")
	bobToken := tokenFor(t, config, "bob")

	// 不存在的拍賣
	recorder := doJSON(t, router, http.MethodGet, "/auction/999", "", nil)
	assert.Equal(t, http.StatusNotFound, recorder.Code)

	recorder = doJSON(t, router, http.MethodPost, "/auction/999/bids", bobToken, api.PlaceBidRequest{
		Quantity: 1, Payment: decimal.RequireFromString("10"),
	})
	assert.Equal(t, http.StatusNotFound, recorder.Code)

	// 非法的路徑參數
	recorder = doJSON(t, router, http.MethodGet, "/auction/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	// 準備一場拍賣
	doJSON(t, router, http.MethodPost, "/token/foo/mint", adminToken, api.TokenMintRequest{
		Holder: "alice", Amount: 20,
	})
	doJSON(t, router, http.MethodPost, "/token/foo/approve", aliceToken, api.TokenApproveRequest{Amount: 20})
	doJSON(t, router, http.MethodPost, "/bank/deposit", adminToken, api.DepositRequest{
		Account: "bob", Amount: decimal.RequireFromString("100"),
	})
	recorder = doJSON(t, router, http.MethodPost, "/auction", aliceToken, api.CreateAuctionRequest{
		Resource:     "foo",
		EndTime:      time.Now().Add(time.Hour),
		StartPrice:   decimal.RequireFromString("1.0"),
		ReservePrice: decimal.RequireFromString("0.5"),
		Quantity:     20,
	})
	require.Equal(t, http.StatusCreated, recorder.Code, recorder.Body.String())
	created := decodeBody[api.CreateAuctionResponse](t, recorder)
	auctionPath := "/auction/" + strconv.FormatUint(created.AuctionID, 10)

	// 拍賣主不能自己出價
	recorder = doJSON(t, router, http.MethodPost, auctionPath+"/bids", aliceToken, api.PlaceBidRequest{
		Quantity: 1, Payment: decimal.RequireFromString("10"),
	})
	assert.Equal(t, http.StatusForbidden, recorder.Code)

	// 重複出價
	recorder = doJSON(t, router, http.MethodPost, auctionPath+"/bids", bobToken, api.PlaceBidRequest{
		Quantity: 1, Payment: decimal.RequireFromString("10"),
	})
	require.Equal(t, http.StatusCreated, recorder.Code)
	recorder = doJSON(t, router, http.MethodPost, auctionPath+"/bids", bobToken, api.PlaceBidRequest{
		Quantity: 1, Payment: decimal.RequireFromString("10"),
	})
	assert.Equal(t, http.StatusConflict, recorder.Code)

	// 只有拍賣主能結算
	recorder = doJSON(t, router, http.MethodPost, auctionPath+"/end", bobToken, nil)
	assert.Equal(t, http.StatusForbidden, recorder.Code)

	// 結算只會成功一次
	recorder = doJSON(t, router, http.MethodPost, auctionPath+"/end", aliceToken, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	recorder = doJSON(t, router, http.MethodPost, auctionPath+"/end", aliceToken, nil)
	assert.Equal(t, http.StatusGone, recorder.Code)

	// 查無出價
	recorder = doJSON(t, router, http.MethodGet, auctionPath+"/bids/mallory", "", nil)
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestEventStream(t *testing.T) {
	router, _ := setupServer(t)

	// 不存在的拍賣拿不到事件流
	recorder := doJSON(t, router, http.MethodGet, "/auction/999/events", "", nil)
	assert.Equal(t, http.StatusNotFound, recorder.Code)

	// 大廳事件流：連線保持到客戶端斷線為止
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	request := httptest.NewRequest(http.MethodGet, "/auction/events", nil).WithContext(ctx)
	streamRecorder := httptest.NewRecorder()
	router.ServeHTTP(streamRecorder, request)
	assert.Equal(t, "text/event-stream", streamRecorder.Header().Get("Content-Type"))
}
