package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// DerivedID returns prefix + "-" + the first 12 upper-case hex characters of
// sha256(key). The same key always yields the same identifier, which lets a
// replayed request compute the id of the row it would have created.
//
//	utils.DerivedID("RMA", "CASE-1:resolution:ORD-1001:ITEM-1") // "RMA-3F2A..."
func DerivedID(prefix, key string) string {
	sum := sha256.Sum256([]byte(key))
	return prefix + "-" + strings.ToUpper(hex.EncodeToString(sum[:])[:12])
}

// RandomID returns prefix + "-" + 12 upper-case hex characters from a random
// UUID.
func RandomID(prefix string) string {
	u := uuid.New()
	return prefix + "-" + strings.ToUpper(hex.EncodeToString(u[:])[:12])
}
