package kvstore

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusString(t *testing.T) {
	assert.Equal(t, "SUCCESS", Success.String())
	assert.Equal(t, "SYSTEM_ACCOUNT_EVENT_PROCESSING", SystemAccountEventProcessing.String())
	assert.Equal(t, "STATUS(999)", Status(999).String())

	for s := Success; s <= IpcError; s++ {
		parsed, ok := ParseStatus(s.String())
		require.True(t, ok, s.String())
		assert.Equal(t, s, parsed)
	}
}

func TestStatusErr(t *testing.T) {
	assert.NoError(t, Success.Err())

	err := CryptError.Err()
	require.Error(t, err)
	assert.Equal(t, CryptError, StatusOf(err))

	wrapped := errors.Wrap(Errorf(DbError, "open %s", "x"), "context")
	assert.Equal(t, DbError, StatusOf(wrapped))
	assert.Contains(t, wrapped.Error(), "DB_ERROR: open x")

	assert.Equal(t, Success, StatusOf(nil))
	assert.Equal(t, Error, StatusOf(errors.New("plain")))

	assert.True(t, RecoverSuccess.IsSuccess())
	assert.False(t, RecoverFailed.IsSuccess())
}

func TestLocalRemoteObject(t *testing.T) {
	o := NewLocalRemoteObject()
	calls := 0

	require.True(t, o.AddDeathRecipient(func() { calls++ }))
	assert.False(t, o.AddDeathRecipient(func() {}), "only one recipient")

	o.Die()
	o.Die()
	assert.Equal(t, 1, calls)
	assert.True(t, o.IsDead())
	assert.False(t, o.AddDeathRecipient(func() {}), "dead objects accept no recipient")

	o2 := NewLocalRemoteObject()
	require.True(t, o2.AddDeathRecipient(func() { calls++ }))
	assert.True(t, o2.RemoveDeathRecipient())
	o2.Die()
	assert.Equal(t, 1, calls)
}

func TestCaller(t *testing.T) {
	ctx := WithCaller(context.Background(), Caller{UID: 200001, PID: 7})
	assert.Equal(t, int32(200001), CallerFrom(ctx).UID)
	assert.NotZero(t, CallerFrom(context.Background()).PID)
}
