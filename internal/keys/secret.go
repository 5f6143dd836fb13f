package keys

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
)

// SecretPrefix namespaces issued secrets so they are recognizable in logs
// and secret scanners.
const SecretPrefix = "flt_"

const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
)

// generateSecret issues a new plaintext secret: product prefix, base-36
// millisecond timestamp, and a 128-bit random suffix. Collision-resistant
// and non-guessable; never persisted.
func generateSecret() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secret entropy: %w", err)
	}
	ts := strconv.FormatInt(time.Now().UnixMilli(), 36)
	return SecretPrefix + ts + hex.EncodeToString(buf), nil
}

// lookupDigest derives the store lookup key for a secret. Keying lookups by
// a SHA-256 digest keeps the plaintext out of the store's key space.
func lookupDigest(secret string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(secret)))
	return hex.EncodeToString(sum[:])
}

// hashSecret produces an encoded argon2id hash for at-rest verification,
// in the standard $argon2id$v=...$m=...,t=...,p=...$salt$hash form.
func hashSecret(secret string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(secret), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

// verifySecret compares a plaintext secret against an encoded argon2id hash
// in constant time.
func verifySecret(secret, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}
	var mem, iters, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &iters, &threads); err != nil {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}
	derived := argon2.IDKey([]byte(secret), salt, iters, mem, uint8(threads), uint32(len(hash)))
	return subtle.ConstantTimeCompare(derived, hash) == 1
}

// generateID issues a short key id: 8 random bytes, hex encoded.
func generateID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate key id: %w", err)
	}
	return "ak_" + hex.EncodeToString(buf), nil
}
