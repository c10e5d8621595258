package internal

import (
	"testing"

	"github.com/ValentinKolb/kvds/lib/db"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandRoundTrip(t *testing.T) {
	for _, cmd := range []Command{
		{Type: CommandTSet, Key: "KvStoreMetaData###dev###0###default###com.example###notes", Value: []byte(`{"version":1}`)},
		{Type: CommandTSetE, Key: "k", ExpireIn: 1 << 40, DeleteIn: 300, Value: []byte("v")},
		{Type: CommandTDelete, Key: "k"},
	} {
		data, err := cmd.MarshalBinary()
		require.NoError(t, err)

		var got Command
		require.NoError(t, got.UnmarshalBinary(data))
		assert.Equal(t, cmd, got, cmd.Type.String())
	}
}

func TestCommandValueDoesNotAlias(t *testing.T) {
	data, err := (&Command{Type: CommandTSet, Key: "k", Value: []byte("abc")}).MarshalBinary()
	require.NoError(t, err)

	var got Command
	require.NoError(t, got.UnmarshalBinary(data))
	data[len(data)-1] = 'x'
	assert.Equal(t, []byte("abc"), got.Value)
}

func TestCommandDecodeErrors(t *testing.T) {
	valid, err := (&Command{Type: CommandTSet, Key: "key", Value: []byte("v")}).MarshalBinary()
	require.NoError(t, err)

	var cmd Command
	assert.ErrorIs(t, cmd.UnmarshalBinary(nil), ErrCommandTooShort)
	assert.ErrorIs(t, cmd.UnmarshalBinary([]byte{commandVersion + 1, 0, 0, 0, 1, 'k'}), ErrCommandVersion)
	assert.ErrorIs(t, cmd.UnmarshalBinary([]byte{commandVersion, 0, 0, 0, 0}), ErrEmptyKey)
	// key length larger than the remaining bytes
	assert.ErrorIs(t, cmd.UnmarshalBinary(valid[:len(valid)-3]), ErrCommandTooShort)

	_, err = (&Command{Type: CommandTSet}).MarshalBinary()
	assert.True(t, errors.Is(err, ErrEmptyKey))
}

func TestCommandFeatures(t *testing.T) {
	feat, err := CommandTSetIfUnset.ToDBFeature()
	require.NoError(t, err)
	assert.Equal(t, db.FeatureSetEIfUnset, feat)

	_, err = CommandType(42).ToDBFeature()
	assert.Error(t, err)
	assert.Equal(t, "Unknown(42)", CommandType(42).String())
	assert.Equal(t, "Scan", QueryTScan.String())
}
