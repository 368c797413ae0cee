package portal

import (
	"crypto/sha512"
	"encoding/hex"
)

// SHA512Hex returns the lowercase hex SHA-512 digest of text.
func SHA512Hex(text string) string {
	sum := sha512.Sum512([]byte(text))
	return hex.EncodeToString(sum[:])
}

// SaltedPassword computes the value the portal expects in the password
// field: sha512hex(sha512hex(salt) + sha512hex(password)). The inner digests
// are concatenated as hex strings, not raw bytes, and the order is salt first.
func SaltedPassword(salt, password string) string {
	return SHA512Hex(SHA512Hex(salt) + SHA512Hex(password))
}
