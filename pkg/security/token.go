package security

import (
	"crypto/rand"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const tokenChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// TokenLength is the size of minted agent bearer tokens. It must exceed
// BundleKeySize so token[:32] can serve as the bundle key.
const TokenLength = 36

// TokenManager mints and validates the bearer tokens the agent uses to
// authorize command callbacks. One live token is reused per user while it
// has not expired.
type TokenManager struct {
	ttl   time.Duration
	cache *gocache.Cache
}

// NewTokenManager creates a token manager with the given token lifetime.
func NewTokenManager(ttl time.Duration) *TokenManager {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenManager{
		ttl:   ttl,
		cache: gocache.New(ttl, 10*time.Minute),
	}
}

// Create returns a live token for the user, minting one if none exists.
func (tm *TokenManager) Create(userID string) (string, error) {
	userKey := "user:" + userID
	if cached, ok := tm.cache.Get(userKey); ok {
		return cached.(string), nil
	}

	token, err := randomString(TokenLength)
	if err != nil {
		return "", fmt.Errorf("failed to mint token: %w", err)
	}
	tm.cache.Set(userKey, token, tm.ttl)
	tm.cache.Set("token:"+token, userID, tm.ttl)
	return token, nil
}

// Validate resolves a token back to its user id.
func (tm *TokenManager) Validate(token string) (string, error) {
	userID, ok := tm.cache.Get("token:" + token)
	if !ok {
		return "", fmt.Errorf("invalid token")
	}
	return userID.(string), nil
}

// Revoke invalidates a token before its natural expiry.
func (tm *TokenManager) Revoke(token string) {
	if userID, ok := tm.cache.Get("token:" + token); ok {
		tm.cache.Delete("user:" + userID.(string))
	}
	tm.cache.Delete("token:" + token)
}

func randomString(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = tokenChars[int(b)%len(tokenChars)]
	}
	return string(buf), nil
}
