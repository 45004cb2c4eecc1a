package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

func UserKey(id uuid.UUID) string {
	return fmt.Sprintf("user:ref:%s", id)
}

// MasterUserKey caches the provisioned master account id so knocking
// requests do not re-run the provisioning check every time.
func MasterUserKey() string {
	return "user:master"
}

func EmailOTPKey(email string) string {
	return fmt.Sprintf("email:verify:%s", email)
}

func SessionKey(token string) string {
	return fmt.Sprintf("session:%s", token)
}

func ApplicationKey(id uuid.UUID) string {
	return fmt.Sprintf("application:ref:%s", id)
}

// ApplicationListKey joins the filter tuple verbatim; the tuple is
// order-sensitive, so two logically equal filters written differently
// cache separately.
func ApplicationListKey(parts []string) string {
	return fmt.Sprintf("application:list:[%s]", strings.Join(parts, ","))
}

func APIKeyKey(id uuid.UUID) string {
	return fmt.Sprintf("key:ref:%s", id)
}

// APIKeyLookupKey maps a presented key string to the record id. The
// literal key is hashed so it never appears in Redis a second time.
func APIKeyLookupKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return fmt.Sprintf("key:ref-key:%s", hex.EncodeToString(sum[:]))
}

func APIKeyListKey(parts []string) string {
	return fmt.Sprintf("key:list:[%s]", strings.Join(parts, ","))
}

func RateLimitKey(id string) string {
	return fmt.Sprintf("ratelimit:%s", id)
}
