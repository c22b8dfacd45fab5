package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// PushClaims содержит данные токена push-канала
type PushClaims struct {
	Username  string `json:"username"`
	SessionID string `json:"session_id"`
	jwt.RegisteredClaims
}

// ErrInvalidToken возвращается для недействительного или чужого токена
var ErrInvalidToken = errors.New("invalid push token")

// TokenIssuer выдаёт и проверяет JWT для подписки на push-канал
type TokenIssuer struct {
	secret []byte
	expiry time.Duration
}

// NewTokenIssuer создаёт выдачу токенов. Пустой secret заменяется случайным.
func NewTokenIssuer(secret string, expiry time.Duration) (*TokenIssuer, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("не удалось сгенерировать JWT секрет: %w", err)
		}
	}
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &TokenIssuer{secret: key, expiry: expiry}, nil
}

// Issue создает токен для пользователя, привязанный к сессии TCP соединения
func (ti *TokenIssuer) Issue(username, sessionID string) (string, error) {
	now := time.Now()
	claims := &PushClaims{
		Username:  username,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ti.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "wordle-server",
			Subject:   username,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ti.secret)
	if err != nil {
		return "", fmt.Errorf("ошибка подписи JWT токена: %w", err)
	}
	return signed, nil
}

// Validate проверяет токен и совпадение имени пользователя
func (ti *TokenIssuer) Validate(tokenString, username string) (*PushClaims, error) {
	claims := &PushClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("неожиданный алгоритм подписи: %v", token.Header["alg"])
		}
		return ti.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Username != username {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
