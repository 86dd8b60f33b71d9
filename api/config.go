package api

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"time"

	"dax/storage"
)

type ServerConfig struct {
	Auth   AuthConfig
	DB     storage.Config
	Redis  RedisConfig
	Escrow EscrowConfig
}

type AuthConfig struct {
	// PrivateKeySeed 是base64編碼的32-byte Ed25519種子
	PrivateKeySeed string
	Issuer         string
	Audience       string
	ExpireDuration time.Duration
}

// PrivateKey 從種子還原簽章金鑰
func (c AuthConfig) PrivateKey() (ed25519.PrivateKey, error) {
	seed, err := base64.StdEncoding.DecodeString(c.PrivateKeySeed)
	if err != nil {
		return nil, fmt.Errorf("invalid private key seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("private key seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

type EscrowConfig struct {
	// Account 是託管帳戶的身份，資源與押金在拍賣期間掛在這個名下
	Account string
	// Admin 可以鑄造資源與入金(營運用)，留空時停用這些端點
	Admin string
}

type RedisConfig struct {
	// Addr 留空時以單實例模式運作：事件走行程內廣播、互斥只用本地鎖
	Addr      string
	Password  string
	DB        int
	KeyPrefix string

	StreamKeys RedisStreamKeys
}

type RedisStreamKeys struct {
	AuctionEvents string
}
