package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ErrInvalidAPIKey is returned when an operator API key does not match.
var ErrInvalidAPIKey = errors.New("auth: invalid API key") //nolint:gochecknoglobals // sentinel error

const (
	apiKeyPrefix  = "tb_"
	apiKeyRandLen = 16 // 16 bytes = 32 hex chars
)

// argon2id parameters following OWASP recommendations.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // 64 MiB
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

// GenerateAPIKey creates an operator API key and its argon2id hash. The raw
// key is shown once; only the hash goes into configuration.
// Key format: "tb_" + 32 random hex chars.
func GenerateAPIKey() (rawKey, hash string, err error) {
	raw := make([]byte, apiKeyRandLen)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("auth.GenerateAPIKey: %w", err)
	}
	rawKey = apiKeyPrefix + hex.EncodeToString(raw)

	hash, err = HashAPIKey(rawKey)
	if err != nil {
		return "", "", fmt.Errorf("auth.GenerateAPIKey: %w", err)
	}
	return rawKey, hash, nil
}

// HashAPIKey hashes key with a random salt.
// Format: hex(salt) + "$" + hex(hash)
func HashAPIKey(key string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	sum := argon2.IDKey([]byte(key), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return hex.EncodeToString(salt) + "$" + hex.EncodeToString(sum), nil
}

// VerifyAPIKey checks key against any of the encoded hashes.
func VerifyAPIKey(key string, hashes []string) error {
	if !strings.HasPrefix(key, apiKeyPrefix) {
		return fmt.Errorf("auth.VerifyAPIKey: %w", ErrInvalidAPIKey)
	}
	for _, encoded := range hashes {
		if verifyHash(key, encoded) {
			return nil
		}
	}
	return fmt.Errorf("auth.VerifyAPIKey: %w", ErrInvalidAPIKey)
}

func verifyHash(key, encoded string) bool {
	saltHex, sumHex, ok := strings.Cut(encoded, "$")
	if !ok || saltHex == "" || sumHex == "" {
		return false
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return false
	}
	expected, err := hex.DecodeString(sumHex)
	if err != nil {
		return false
	}

	computed := argon2.IDKey([]byte(key), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return subtle.ConstantTimeCompare(computed, expected) == 1
}
