package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"strconv"
	"strings"
)

// Sha256 returns the SHA-256 digest of text as 64 lowercase hex characters.
func Sha256(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Sha256UserId hashes a numeric OS user id.
//
// Non-numeric input is returned unchanged. Numeric input is parsed as an int64
// (values that do not fit saturate to math.MaxInt64), encoded big endian and hashed.
// The digest is returned as 64 uppercase hex characters.
func Sha256UserId(text string) string {
	if !isNumeric(text) {
		return text
	}

	value, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		value = math.MaxInt64
	}

	var raw [8]byte
	binary.BigEndian.PutUint64(raw[:], uint64(value))
	sum := sha256.Sum256(raw[:])
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// GetRandomKey returns length bytes read from the operating system CSPRNG.
// It panics if the entropy source fails, which crypto/rand documents as unrecoverable.
func GetRandomKey(length int) []byte {
	if length <= 0 {
		return []byte{}
	}
	key := make([]byte, length)
	if _, err := rand.Read(key); err != nil {
		panic("crypto: entropy source failed: " + err.Error())
	}
	return key
}

// Zero overwrites b with zeros.
func Zero(b []byte) {
	clear(b)
}

func isNumeric(text string) bool {
	if text == "" {
		return false
	}
	for i := 0; i < len(text); i++ {
		if text[i] < '0' || text[i] > '9' {
			return false
		}
	}
	return true
}
