package lockmgr

import "github.com/cockroachdb/errors"

// ErrLocked is returned by WithLock when another owner holds the lock.
var ErrLocked = errors.New("lock is held by another owner")

// ILockManager coordinates exclusive access to named resources through a store.IStore.
type ILockManager interface {
	// AcquireLock acquires the lock for the given key. A non-zero ttl releases the lock
	// automatically after ttl write ticks of the underlying store.
	// Returns whether the lock was acquired and the owner ID needed to release it.
	AcquireLock(key string, ttl uint64) (ok bool, ownerID []byte, err error)

	// ReleaseLock releases the lock for the given key if ownerID still owns it.
	// Releasing a lock that does not exist (anymore) reports ok=true.
	ReleaseLock(key string, ownerID []byte) (ok bool, err error)

	// WithLock runs fn while holding the lock for key and releases it afterward.
	// It returns ErrLocked without running fn if the lock is taken.
	WithLock(key string, ttl uint64, fn func() error) (err error)
}
