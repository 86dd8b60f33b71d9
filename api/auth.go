package api

import (
	"crypto"
	"crypto/ed25519"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// JWT 是執行環境發給呼叫者的身份憑證
// Subject 即呼叫者在帳本上的身份(address)，核心信任它不可偽造
type JWT struct {
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

func ParseAndValidateJWT(tokenString string, secret crypto.Signer) (*JWT, error) {
	const op = "ParseJWT"
	token, err := jwt.ParseWithClaims(tokenString, &JWT{}, func(token *jwt.Token) (interface{}, error) {
		return secret.Public(), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("%s: token is invalid", op)
	}
	claims, ok := token.Claims.(*JWT)
	if !ok {
		return nil, fmt.Errorf("%s: token claims are invalid", op)
	}
	return claims, nil
}

// SignJWT 簽發身份憑證，提供營運工具與測試使用
func SignJWT(address, username string, key ed25519.PrivateKey, issuer, audience string, ttl time.Duration) (string, error) {
	const op = "SignJWT"
	token := jwt.NewWithClaims(&jwt.SigningMethodEd25519{}, JWT{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    issuer,
			Subject:   address,
			ID:        uuid.NewString(),
			Audience:  []string{audience},
		},
	})
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("[%s] Fail to sign JWT, err=%w", op, err)
	}
	return signed, nil
}

// caller 解析請求的呼叫者身份
// 依序找 Authorization: Bearer 與 access_token cookie，驗證失敗回傳false
func (impl *ServerImpl) caller(c *gin.Context) (string, bool) {
	const op = "caller"
	var tokenString string
	if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
		tokenString = strings.TrimPrefix(header, "Bearer ")
	} else if cookie, err := c.Cookie("access_token"); err == nil {
		tokenString = cookie
	}
	if tokenString == "" {
		return "", false
	}

	token, err := ParseAndValidateJWT(tokenString, impl.privateKey)
	if err != nil {
		impl.logger.Debug("Fail to parse and validate JWT", "op", op, "error", err)
		return "", false
	}
	if token.Subject == "" {
		return "", false
	}
	return token.Subject, true
}
