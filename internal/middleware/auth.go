// Package middleware содержит HTTP middleware для сервиса стейкинга.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
)

type contextKey string

const identityKey contextKey = "identity"

const bearerPrefix = "Bearer "

// Identity описывает аутентифицированного пользователя и его группы.
type Identity struct {
	UserID string   `json:"user_id"`
	Groups []string `json:"groups,omitempty"`
}

// HasGroup сообщает, состоит ли пользователь в указанной группе.
func (i *Identity) HasGroup(group string) bool {
	for _, g := range i.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// AuthMiddleware выполняет проверку аутентификации пользователя по подписанному bearer-токену.
type AuthMiddleware struct {
	secretKey []byte
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным секретным ключом.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &AuthMiddleware{
		secretKey: key,
	}
}

// Middleware проверяет заголовок Authorization и добавляет идентичность
// пользователя в контекст запроса. Ошибки проверки не детализируются.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), bearerPrefix)
		if !ok || token == "" {
			unauthorized(w)
			return
		}

		identity, ok := a.parseToken(token)
		if !ok {
			unauthorized(w)
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": "invalid or missing authentication token"})
}

// IssueToken формирует подписанный токен для указанной идентичности.
func (a *AuthMiddleware) IssueToken(identity Identity) (string, error) {
	payload, err := json.Marshal(identity)
	if err != nil {
		return "", err
	}

	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + a.sign(encoded), nil
}

func (a *AuthMiddleware) parseToken(token string) (*Identity, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return nil, false
	}

	encoded := parts[0]
	signature := parts[1]

	expected := a.sign(encoded)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return nil, false
	}

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, false
	}

	var identity Identity
	if err := json.Unmarshal(payload, &identity); err != nil {
		return nil, false
	}
	if identity.UserID == "" {
		return nil, false
	}

	return &identity, true
}

func (a *AuthMiddleware) sign(payload string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// GetIdentityFromContext извлекает идентичность пользователя из контекста запроса.
func GetIdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey).(*Identity)
	return identity, ok
}
