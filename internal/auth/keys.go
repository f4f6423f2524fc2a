package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const keyPrefix = "sf"

// Key format: sf_{env}_{id}_{secret}
// - id: 12 hex chars, stored in clear as the lookup prefix
// - secret: 32 hex chars, stored only as a bcrypt hash
func GenerateAPIKey(env string) (id string, rawKey string, secretHash []byte, err error) {
	if env == "" || strings.Contains(env, "_") {
		return "", "", nil, fmt.Errorf("invalid key environment %q", env)
	}
	id, err = randomHex(6)
	if err != nil {
		return "", "", nil, err
	}
	secret, err := randomHex(16)
	if err != nil {
		return "", "", nil, err
	}
	rawKey = fmt.Sprintf("%s_%s_%s_%s", keyPrefix, env, id, secret)
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", "", nil, err
	}
	return id, rawKey, hash, nil
}

// ParseAPIKey splits into env, id, secret
func ParseAPIKey(raw string) (env string, id string, secret string, ok bool) {
	parts := strings.Split(raw, "_")
	if len(parts) != 4 || parts[0] != keyPrefix {
		return "", "", "", false
	}
	if parts[1] == "" || parts[2] == "" || parts[3] == "" {
		return "", "", "", false
	}
	return parts[1], parts[2], parts[3], true
}

func isAPIKey(s string) bool { return strings.HasPrefix(s, keyPrefix+"_") }

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
