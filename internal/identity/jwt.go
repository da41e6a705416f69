package identity

import (
	"crypto/rsa"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Principal — пользователь текущего запроса, как он попадает в отчет.
type Principal struct {
	UserID string   `json:"user_id"`
	Scopes []string `json:"scopes,omitempty"`
}

func (p Principal) String() string {
	if len(p.Scopes) == 0 {
		return "user_id: " + p.UserID
	}
	return "user_id: " + p.UserID + "\nscopes: " + strings.Join(p.Scopes, ", ")
}

// Claims — полезная нагрузка токена.
type Claims struct {
	UserID string          `json:"user_id"`
	Scopes map[string]bool `json:"scopes"` // "admin": true или "jira.read": true
	jwt.RegisteredClaims
}

// JWTResolver достает пользователя из Bearer-токена, подписанного RS256.
// Невалидный или отсутствующий токен — это "пользователь неизвестен",
// а не ошибка: запрос все равно попадает в историю.
type JWTResolver struct {
	publicKey *rsa.PublicKey
}

func NewJWTResolver(pubKey *rsa.PublicKey) *JWTResolver {
	return &JWTResolver{publicKey: pubKey}
}

func (v *JWTResolver) Resolve(r *http.Request) (any, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, false
	}
	claims, err := v.VerifyToken(authHeader)
	if err != nil {
		return nil, false
	}

	p := Principal{UserID: claims.UserID}
	if p.UserID == "" {
		p.UserID = claims.Subject
	}
	for scope, granted := range claims.Scopes {
		if granted {
			p.Scopes = append(p.Scopes, scope)
		}
	}
	sort.Strings(p.Scopes)
	return p, true
}

// VerifyToken проверяет JWT токен, подписанный асимметричным ключом RS256.
func (v *JWTResolver) VerifyToken(tokenStr string) (*Claims, error) {
	tokenStr = strings.TrimPrefix(tokenStr, "Bearer ")
	tokenStr = strings.TrimSpace(tokenStr)

	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.publicKey, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("invalid claims")
	}
	return claims, nil
}

// ParseRSAPublicKey превращает []byte в объект для проверки подписи
func ParseRSAPublicKey(data []byte) (*rsa.PublicKey, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("public key data is empty")
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return key, nil
}
