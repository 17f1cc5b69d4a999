package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// TokenPrefix identifies tenantguard API tokens
	TokenPrefix = "tg_"
	// TokenLength is the number of random bytes in a token (256 bits)
	TokenLength = 32
	// displayPrefixLength is how many encoded characters are kept for display
	displayPrefixLength = 8
)

// TokenGenerator generates and hashes API tokens
type TokenGenerator struct{}

// NewTokenGenerator creates a new token generator
func NewTokenGenerator() *TokenGenerator {
	return &TokenGenerator{}
}

// GenerateToken creates a new API token.
// Format: tg_<base64url(32 random bytes)>. Only the hash and display prefix
// are meant to be stored.
func (tg *TokenGenerator) GenerateToken() (token string, tokenHash string, tokenPrefix string, err error) {
	randomBytes := make([]byte, TokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(randomBytes)
	token = TokenPrefix + encoded

	return token, tg.HashToken(token), TokenPrefix + encoded[:displayPrefixLength], nil
}

// HashToken computes the SHA256 hash of a token for lookup
func (tg *TokenGenerator) HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateTokenFormat checks if a token has the correct format
func (tg *TokenGenerator) ValidateTokenFormat(token string) error {
	if !strings.HasPrefix(token, TokenPrefix) {
		return fmt.Errorf("token must start with %q", TokenPrefix)
	}

	encoded := strings.TrimPrefix(token, TokenPrefix)
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("invalid token encoding: %w", err)
	}
	if len(raw) != TokenLength {
		return fmt.Errorf("token has %d bytes, want %d", len(raw), TokenLength)
	}

	return nil
}
