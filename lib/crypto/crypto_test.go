package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSha256(t *testing.T) {
	// well known digest of the empty string
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Sha256(""))

	h := Sha256("com.example.app")
	assert.Len(t, h, 64)
	assert.Equal(t, strings.ToLower(h), h)
	assert.Equal(t, h, Sha256("com.example.app"))
}

func TestSha256UserIdPassThrough(t *testing.T) {
	for _, in := range []string{"", "default_account", "12a", "-1", " 1"} {
		assert.Equal(t, in, Sha256UserId(in))
	}
}

func TestSha256UserIdNumeric(t *testing.T) {
	raw := []byte{0, 0, 0, 0, 0, 0, 0x27, 0x10} // 10000
	sum := sha256.Sum256(raw)
	want := strings.ToUpper(hex.EncodeToString(sum[:]))

	got := Sha256UserId("10000")
	assert.Equal(t, want, got)
	assert.Len(t, got, 64)
	assert.Equal(t, strings.ToUpper(got), got)
}

func TestSha256UserIdSaturates(t *testing.T) {
	assert.Equal(t, Sha256UserId("9223372036854775807"), Sha256UserId("99999999999999999999999"))
	assert.NotEqual(t, Sha256UserId("1"), Sha256UserId("2"))
}

func TestGetRandomKey(t *testing.T) {
	a := GetRandomKey(32)
	b := GetRandomKey(32)
	require.Len(t, a, 32)
	require.Len(t, b, 32)
	assert.NotEqual(t, a, b)
	assert.Empty(t, GetRandomKey(0))
}

func TestZero(t *testing.T) {
	key := GetRandomKey(32)
	Zero(key)
	assert.Equal(t, make([]byte, 32), key)
}
