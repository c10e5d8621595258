package lockmgr

import (
	"testing"

	"github.com/ValentinKolb/kvds/lib/db"
	"github.com/ValentinKolb/kvds/lib/db/engines/maple"
	"github.com/ValentinKolb/kvds/lib/store/lstore"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager() ILockManager {
	return NewLockManager(lstore.NewLocalStore(func() db.KVDB { return maple.NewMapleDB(nil) }))
}

func TestAcquireRelease(t *testing.T) {
	lm := newManager()

	ok, owner, err := lm.AcquireLock("res", 0)
	require.NoError(t, err)
	require.True(t, ok)

	ok, _, err = lm.AcquireLock("res", 0)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must fail")

	released, err := lm.ReleaseLock("res", []byte("not-the-owner"))
	require.NoError(t, err)
	assert.False(t, released)

	released, err = lm.ReleaseLock("res", owner)
	require.NoError(t, err)
	assert.True(t, released)

	ok, _, err = lm.AcquireLock("res", 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseMissing(t *testing.T) {
	released, err := newManager().ReleaseLock("missing", []byte("x"))
	require.NoError(t, err)
	assert.True(t, released)
}

func TestWithLock(t *testing.T) {
	lm := newManager()

	ran := false
	require.NoError(t, lm.WithLock("res", 0, func() error {
		ran = true
		err := lm.WithLock("res", 0, func() error { return nil })
		assert.True(t, errors.Is(err, ErrLocked))
		return nil
	}))
	assert.True(t, ran)

	// released after fn returned
	require.NoError(t, lm.WithLock("res", 0, func() error { return nil }))

	boom := errors.New("boom")
	assert.True(t, errors.Is(lm.WithLock("res", 0, func() error { return boom }), boom))
}
