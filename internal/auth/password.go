package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

// scrypt parameters. Changing them invalidates every stored hash, so
// they are fixed rather than configurable.
const (
	scryptN      = 32768
	scryptR      = 8
	scryptP      = 1
	hashLen      = 32
	saltByteSize = 16
)

// NewSalt returns a random hex-encoded per-user salt.
func NewSalt() (string, error) {
	b := make([]byte, saltByteSize)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashPassword derives a fixed-length hex digest from the password and
// salt. The same function backs both password verification and the
// master knocking digest.
func HashPassword(password, salt string) (string, error) {
	dk, err := scrypt.Key([]byte(password), []byte(salt), scryptN, scryptR, scryptP, hashLen)
	if err != nil {
		return "", fmt.Errorf("derive key: %w", err)
	}
	return hex.EncodeToString(dk), nil
}

// VerifyPassword reports whether password+salt derives to hash, in
// constant time.
func VerifyPassword(password, salt, hash string) bool {
	derived, err := HashPassword(password, salt)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(derived), []byte(hash)) == 1
}
