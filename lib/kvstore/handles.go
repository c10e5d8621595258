package kvstore

import "sync"

// IKvStore is the handle returned to clients for an opened store.
type IKvStore interface {
	GetStoreId() StoreId
	Put(key string, value []byte) Status
	PutBatch(entries []Entry) Status
	Get(key string) ([]byte, Status)
	Delete(key string) Status
	DeleteBatch(keys []string) Status
	// GetEntries returns all entries whose key starts with prefix, sorted by key.
	GetEntries(prefix string) ([]Entry, Status)
}

// ISingleKvStore is the handle of a single version store.
// It adds sync capability configuration on top of IKvStore.
type ISingleKvStore interface {
	IKvStore
	SetCapabilityEnabled(enabled bool) Status
	SetCapabilityRange(localLabels, remoteLabels []string) Status
	GetSecurityLevel() (SecurityLevel, Status)
}

// --------------------------------------------------------------------------
// Remote Objects
// --------------------------------------------------------------------------

// IRemoteObject is the service side view of a client process.
type IRemoteObject interface {
	// AddDeathRecipient registers fn to run once when the client dies.
	// Returns false if the object is already dead or a recipient is registered.
	AddDeathRecipient(fn func()) bool
	// RemoveDeathRecipient unregisters the recipient, returns false if none was registered.
	RemoveDeathRecipient() bool
}

// LocalRemoteObject is an in-process IRemoteObject. Die simulates the death of the client.
type LocalRemoteObject struct {
	mu        sync.Mutex
	recipient func()
	dead      bool
}

// NewLocalRemoteObject returns a live remote object.
func NewLocalRemoteObject() *LocalRemoteObject {
	return &LocalRemoteObject{}
}

func (o *LocalRemoteObject) AddDeathRecipient(fn func()) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.dead || o.recipient != nil || fn == nil {
		return false
	}
	o.recipient = fn
	return true
}

func (o *LocalRemoteObject) RemoveDeathRecipient() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.recipient == nil {
		return false
	}
	o.recipient = nil
	return true
}

// Die marks the object dead and runs the registered recipient (outside the lock).
func (o *LocalRemoteObject) Die() {
	o.mu.Lock()
	if o.dead {
		o.mu.Unlock()
		return
	}
	o.dead = true
	fn := o.recipient
	o.recipient = nil
	o.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// IsDead reports whether Die was called.
func (o *LocalRemoteObject) IsDead() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dead
}
