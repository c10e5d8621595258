package lockmgr

import (
	"bytes"

	"github.com/ValentinKolb/kvds/lib/store"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
)

// KeyPrefix namespaces lock entries inside the shared store.
const KeyPrefix = "Lock###"

var log = logger.GetLogger("lockmgr")

type lockMgrImpl struct {
	store store.IStore
}

// NewLockManager returns a lock manager keeping its locks in s.
// The manager is stateless, any number of managers may share the same store.
func NewLockManager(s store.IStore) ILockManager {
	return &lockMgrImpl{store: s}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see lockmgr/interface.go)
// --------------------------------------------------------------------------

func (lm *lockMgrImpl) AcquireLock(key string, ttl uint64) (bool, []byte, error) {
	owner, err := uuid.NewRandom()
	if err != nil {
		return false, nil, errors.Wrap(err, "generate owner id")
	}
	ownerID := owner[:]

	// only the first SetEIfUnset creates the entry, everyone else keeps the old value
	if err := lm.store.SetEIfUnset(KeyPrefix+key, ownerID, 0, ttl); err != nil {
		return false, nil, errors.Wrapf(err, "acquire lock %s", key)
	}

	value, found, err := lm.store.Get(KeyPrefix + key)
	if err != nil {
		return false, nil, errors.Wrapf(err, "verify lock %s", key)
	}
	if found && bytes.Equal(value, ownerID) {
		return true, ownerID, nil
	}
	return false, nil, nil
}

func (lm *lockMgrImpl) ReleaseLock(key string, ownerID []byte) (bool, error) {
	value, found, err := lm.store.Get(KeyPrefix + key)
	if err != nil {
		return false, errors.Wrapf(err, "read lock %s", key)
	}
	if !found {
		return true, nil
	}
	if !bytes.Equal(ownerID, value) {
		return false, nil
	}
	if err := lm.store.Delete(KeyPrefix + key); err != nil {
		return false, errors.Wrapf(err, "release lock %s", key)
	}
	return true, nil
}

func (lm *lockMgrImpl) WithLock(key string, ttl uint64, fn func() error) error {
	ok, ownerID, err := lm.AcquireLock(key, ttl)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrapf(ErrLocked, "lock %s", key)
	}
	defer func() {
		if released, err := lm.ReleaseLock(key, ownerID); err != nil || !released {
			log.Warningf("could not release lock %s (released=%v): %v", key, released, err)
		}
	}()
	return fn()
}
