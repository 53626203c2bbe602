package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const DefaultTokenTTL = 24 * time.Hour

type Claims struct {
	KeyID string `json:"kid"`
	jwt.RegisteredClaims
}

// GenerateToken signs a token for the API key identified by keyID.
func GenerateToken(keyID, secret string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := time.Now()
	claims := &Claims{
		KeyID: keyID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   keyID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ValidateToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}

// APIKeys is the set of keys allowed to request tokens. Keys are kept as
// sha256 digests and never logged.
type APIKeys struct {
	digests [][]byte
}

func NewAPIKeys(keys []string) *APIKeys {
	k := &APIKeys{}
	for _, key := range keys {
		if key == "" {
			continue
		}
		sum := sha256.Sum256([]byte(key))
		k.digests = append(k.digests, sum[:])
	}
	return k
}

// Lookup returns the key ID of apiKey when it is known.
func (k *APIKeys) Lookup(apiKey string) (string, bool) {
	sum := sha256.Sum256([]byte(apiKey))
	for _, d := range k.digests {
		if subtle.ConstantTimeCompare(d, sum[:]) == 1 {
			return KeyID(apiKey), true
		}
	}
	return "", false
}

func (k *APIKeys) Len() int {
	return len(k.digests)
}

// KeyID is a short stable identifier of an API key, safe to log.
func KeyID(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:8])
}
