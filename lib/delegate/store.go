package delegate

import (
	"bytes"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/kvds/lib/crypto"
	"github.com/ValentinKolb/kvds/lib/db"
	"github.com/ValentinKolb/kvds/lib/db/util"
	"github.com/ValentinKolb/kvds/lib/kvstore"
	"github.com/cockroachdb/errors"
)

const (
	MaxKeyLength   = 1024
	MaxValueLength = 4 * 1024 * 1024
)

// database is one open store file, shared by every handle on it.
type database struct {
	mu     sync.RWMutex
	path   string
	kv     db.KVDB
	secret []byte
	level  byte
	refs   int // guarded by registryMu
}

// persist writes the current content to disk. Caller holds mu (or owns d exclusively).
func (d *database) persist() error {
	var buf bytes.Buffer
	if err := d.kv.Save(&buf); err != nil {
		return errors.Wrapf(err, "snapshot %s", d.path)
	}
	data, err := encodeFile(buf.Bytes(), d.secret, d.level)
	if err != nil {
		return err
	}
	return util.WriteFileAtomic(d.path, data)
}

func (d *database) close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	crypto.Zero(d.secret)
	return d.kv.Close()
}

// nextIdx returns the write index of the next mutation. Caller holds mu.
func (d *database) nextIdx() uint64 {
	return d.kv.WriteIdx() + 1
}

// Store is a handle on an open database.
//
// Thread-safety: a Store may be used from several goroutines. Every mutation is
// written to disk before the call returns.
type Store struct {
	id     string
	db     *database
	closed atomic.Bool
}

func (s *Store) StoreId() string { return s.id }

// Path returns the location of the store file.
func (s *Store) Path() string { return s.db.path }

// SecurityLevel returns the label the store was created with.
func (s *Store) SecurityLevel() kvstore.SecurityLevel {
	return kvstore.SecurityLevel(s.db.level)
}

func (s *Store) check() error {
	if s.closed.Load() {
		return ErrAlreadyClosed
	}
	return nil
}

func checkEntry(key string, value []byte) error {
	if key == "" || len(key) > MaxKeyLength {
		return errors.Wrapf(ErrInvalidArgs, "invalid key length %d", len(key))
	}
	if len(value) > MaxValueLength {
		return errors.Wrapf(ErrInvalidArgs, "invalid value length %d", len(value))
	}
	return nil
}

// --------------------------------------------------------------------------
// Data operations
// --------------------------------------------------------------------------

func (s *Store) Put(key string, value []byte) error {
	return s.PutBatch([]kvstore.Entry{{Key: key, Value: value}})
}

// PutBatch writes all entries or none of them.
func (s *Store) PutBatch(entries []kvstore.Entry) error {
	if err := s.check(); err != nil {
		return err
	}
	for _, e := range entries {
		if err := checkEntry(e.Key, e.Value); err != nil {
			return err
		}
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	idx := s.db.nextIdx()
	for _, e := range entries {
		s.db.kv.Set(e.Key, e.Value, idx)
	}
	return s.db.persist()
}

func (s *Store) Get(key string) ([]byte, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if err := checkEntry(key, nil); err != nil {
		return nil, err
	}

	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	value, ok := s.db.kv.Get(key)
	if !ok {
		return nil, ErrKeyNotFound
	}
	return value, nil
}

func (s *Store) Delete(key string) error {
	return s.DeleteBatch([]string{key})
}

// DeleteBatch removes all keys, missing keys are ignored.
func (s *Store) DeleteBatch(keys []string) error {
	if err := s.check(); err != nil {
		return err
	}
	for _, k := range keys {
		if err := checkEntry(k, nil); err != nil {
			return err
		}
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	idx := s.db.nextIdx()
	for _, k := range keys {
		s.db.kv.Delete(k, idx)
	}
	return s.db.persist()
}

// GetEntries returns all entries with the given key prefix sorted by key.
func (s *Store) GetEntries(prefix string) ([]kvstore.Entry, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	s.db.mu.RLock()
	var entries []kvstore.Entry
	s.db.kv.Scan(prefix, func(key string, value []byte) bool {
		entries = append(entries, kvstore.Entry{Key: key, Value: value})
		return true
	})
	s.db.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

// --------------------------------------------------------------------------
// Key and file operations
// --------------------------------------------------------------------------

// Rekey re-encrypts the store file with newKey.
func (s *Store) Rekey(newKey []byte) error {
	if err := s.check(); err != nil {
		return err
	}
	if len(newKey) == 0 {
		return errors.Wrap(ErrInvalidArgs, "empty key")
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if len(s.db.secret) == 0 {
		return errors.Wrap(ErrInvalidArgs, "store is not encrypted")
	}
	old := s.db.secret
	s.db.secret = append([]byte(nil), newKey...)
	if err := s.db.persist(); err != nil {
		crypto.Zero(s.db.secret)
		s.db.secret = old
		return err
	}
	crypto.Zero(old)
	return nil
}

// Export writes a copy of the store to path, sealed with key if key is not empty.
func (s *Store) Export(path string, key []byte) error {
	if err := s.check(); err != nil {
		return err
	}

	s.db.mu.RLock()
	var buf bytes.Buffer
	err := s.db.kv.Save(&buf)
	level := s.db.level
	s.db.mu.RUnlock()
	if err != nil {
		return errors.Wrapf(err, "snapshot store %s", s.id)
	}

	data, err := encodeFile(buf.Bytes(), key, level)
	if err != nil {
		return err
	}
	return util.WriteFileAtomic(path, data)
}

// Import replaces the content of the store with the export at path.
func (s *Store) Import(path string, key []byte) error {
	if err := s.check(); err != nil {
		return err
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return errors.Wrapf(ErrStoreNotFound, "import %s", path)
	}
	if err != nil {
		return errors.Wrapf(err, "import %s", path)
	}
	snapshot, _, err := decodeFile(raw, key)
	if err != nil {
		return err
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.kv.Load(bytes.NewReader(snapshot)); err != nil {
		return errors.Wrapf(ErrInvalidPasswdOrCorrupted, "import %s: %v", path, err)
	}
	return s.db.persist()
}
