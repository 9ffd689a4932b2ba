// Package auth provides project API key generation, admin password
// hashing, and the admin session token contract.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// KeyLength is the number of random bytes encoded into a project API key,
// producing a 32-character hex string.
const KeyLength = 16

// BCryptCost is the cost factor for admin password hashing.
const BCryptCost = 12

// GenerateAPIKey generates a new project API key: the given prefix (config's
// AuthTokenPrefix, e.g. "exk_") followed by 32 hex characters. Project keys
// are stored and looked up in plaintext: store.GetProjectByAPIKey is an
// indexed equality lookup, which a hashed-at-rest key cannot serve.
func GenerateAPIKey(prefix string) (string, error) {
	b := make([]byte, KeyLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("auth: generate api key: %w", err)
	}
	return prefix + hex.EncodeToString(b), nil
}

// HashPassword hashes an admin password for storage in AdminUser.PasswordHash.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BCryptCost)
	if err != nil {
		return "", fmt.Errorf("auth: hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword checks a plaintext password against a stored bcrypt hash.
func VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
