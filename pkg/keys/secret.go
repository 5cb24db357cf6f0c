package keys

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters. Chosen for interactive verification latency on the
// hot path: 3 passes over 64 MiB, single lane, 32-byte key, 16-byte salt.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 1
	argonKeyLen  = 32
	argonSaltLen = 16
)

const (
	keyIDAlphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	secretAlphabet = keyIDAlphabet + "-_"

	keyIDRandomLen = 7

	// DefaultSecretLen is the length of generated secrets in characters.
	DefaultSecretLen = 32
)

// GenerateKeyID returns a fresh key identifier of the form "k_" followed
// by seven alphanumeric characters drawn from crypto/rand.
func GenerateKeyID() (string, error) {
	s, err := randomString(keyIDAlphabet, keyIDRandomLen)
	if err != nil {
		return "", err
	}
	return "k_" + s, nil
}

// GenerateSecret returns length characters drawn uniformly from the
// URL-safe alphabet [A-Za-z0-9-_] using crypto/rand. A non-positive
// length falls back to DefaultSecretLen.
func GenerateSecret(length int) (string, error) {
	if length <= 0 {
		length = DefaultSecretLen
	}
	return randomString(secretAlphabet, length)
}

func randomString(alphabet string, n int) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("reading random source: %w", err)
		}
		b.WriteByte(alphabet[idx.Int64()])
	}
	return b.String(), nil
}

// HashSecret derives an Argon2id hash of the secret and returns it in PHC
// string form, parameters and salt included:
//
//	$argon2id$v=19$m=65536,t=3,p=1$<salt b64>$<hash b64>
func HashSecret(secret string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	hash := argon2.IDKey([]byte(secret), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifySecret re-derives the hash of secret under the parameters encoded
// in the PHC string and compares in constant time. A mismatch or a
// malformed encoding yields false, never an error: the caller treats both
// as a failed authentication.
func VerifySecret(secret, encoded string) bool {
	salt, want, timeCost, memory, threads, ok := decodePHC(encoded)
	if !ok {
		return false
	}

	got := argon2.IDKey([]byte(secret), salt, timeCost, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

// decodePHC unpacks a $argon2id$ PHC string. Only version 19 is accepted.
func decodePHC(encoded string) (salt, hash []byte, timeCost, memory uint32, threads uint8, ok bool) {
	parts := strings.Split(encoded, "$")
	// "", "argon2id", "v=19", "m=...,t=...,p=...", salt, hash
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return nil, nil, 0, 0, 0, false
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return nil, nil, 0, 0, 0, false
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &timeCost, &threads); err != nil {
		return nil, nil, 0, 0, 0, false
	}

	var err error
	if salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return nil, nil, 0, 0, 0, false
	}
	if hash, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return nil, nil, 0, 0, 0, false
	}
	if len(hash) == 0 {
		return nil, nil, 0, 0, 0, false
	}
	return salt, hash, timeCost, memory, threads, true
}
