package delegate

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"

	"github.com/ValentinKolb/kvds/lib/crypto"
	"github.com/ValentinKolb/kvds/lib/db"
	"github.com/ValentinKolb/kvds/lib/db/engines/maple"
	"github.com/ValentinKolb/kvds/lib/kvstore"
	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("delegate")

var (
	ErrInvalidPasswdOrCorrupted = errors.New("invalid password or corrupted database")
	ErrStoreNotFound            = errors.New("store not found")
	ErrAlreadyClosed            = errors.New("store already closed")
	ErrInvalidArgs              = errors.New("invalid arguments")
	ErrBusy                     = errors.New("store is in use")
	ErrKeyNotFound              = errors.New("key not found")
)

const storeFileName = "store.db"

// Option configures GetKvStore.
type Option struct {
	CreateIfNecessary bool
	IsEncryptedDb     bool
	// Passwd is the secret key of an encrypted store. It is copied, the caller may wipe it afterward.
	Passwd        []byte
	SecurityLevel kvstore.SecurityLevel
}

// --------------------------------------------------------------------------
// Open database registry
// --------------------------------------------------------------------------

// databases shares one open database per file between all managers of the process.
var (
	databases  = xsync.NewMapOf[string, *database]()
	registryMu sync.Mutex
)

func newEngine() db.KVDB {
	return maple.NewMapleDB(&maple.DBOptions{NumShards: 4})
}

// IsOpen reports whether the store file at path is open in this process.
func IsOpen(path string) bool {
	_, ok := databases.Load(path)
	return ok
}

// --------------------------------------------------------------------------
// Manager
// --------------------------------------------------------------------------

// Manager opens the stores of one application inside dataDir.
// Managers are cheap, several managers may point at the same directory.
type Manager struct {
	appId   string
	userId  string
	dataDir string
}

// NewManager creates a manager for appId/userId storing its files below dataDir.
func NewManager(appId, userId, dataDir string) *Manager {
	return &Manager{appId: appId, userId: userId, dataDir: dataDir}
}

func (m *Manager) AppId() string   { return m.appId }
func (m *Manager) UserId() string  { return m.userId }
func (m *Manager) DataDir() string { return m.dataDir }

// GetDatabaseDir returns the directory of a store.
func (m *Manager) GetDatabaseDir(storeId string) string {
	return filepath.Join(m.dataDir, crypto.Sha256(storeId))
}

func (m *Manager) storePath(storeId string) string {
	return filepath.Join(m.GetDatabaseDir(storeId), storeFileName)
}

// GetKvStore opens (or creates) a store.
//
// Errors:
//   - ErrStoreNotFound: the store does not exist and CreateIfNecessary is false
//   - ErrInvalidPasswdOrCorrupted: the key does not match the file or the file is damaged
func (m *Manager) GetKvStore(storeId string, opt Option) (*Store, error) {
	if storeId == "" {
		return nil, errors.Wrap(ErrInvalidArgs, "empty store id")
	}
	if opt.IsEncryptedDb != (len(opt.Passwd) > 0) {
		return nil, errors.Wrap(ErrInvalidArgs, "encrypted stores need a key, plain stores must not have one")
	}
	path := m.storePath(storeId)

	registryMu.Lock()
	defer registryMu.Unlock()

	if d, ok := databases.Load(path); ok {
		if !bytes.Equal(d.secret, opt.Passwd) {
			return nil, errors.Wrapf(ErrInvalidPasswdOrCorrupted, "store %s is open with another key", storeId)
		}
		d.refs++
		return &Store{id: storeId, db: d}, nil
	}

	d, err := openDatabase(path, opt)
	if err != nil {
		return nil, err
	}
	d.refs = 1
	databases.Store(path, d)
	log.Debugf("opened store %s of app %s", storeId, m.appId)
	return &Store{id: storeId, db: d}, nil
}

// CloseKvStore releases a handle. The database is closed with its last handle.
func (m *Manager) CloseKvStore(s *Store) error {
	if s == nil {
		return errors.Wrap(ErrInvalidArgs, "nil store")
	}
	if !s.closed.CompareAndSwap(false, true) {
		return ErrAlreadyClosed
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	s.db.refs--
	if s.db.refs > 0 {
		return nil
	}
	databases.Delete(s.db.path)
	return s.db.close()
}

// DeleteKvStore removes the files of a closed store.
func (m *Manager) DeleteKvStore(storeId string) error {
	path := m.storePath(storeId)

	registryMu.Lock()
	defer registryMu.Unlock()

	if _, open := databases.Load(path); open {
		return errors.Wrapf(ErrBusy, "delete store %s", storeId)
	}
	dir := m.GetDatabaseDir(storeId)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return errors.Wrapf(ErrStoreNotFound, "delete store %s", storeId)
	}
	if err := os.RemoveAll(dir); err != nil {
		return errors.Wrapf(err, "delete store %s", storeId)
	}
	log.Infof("deleted store %s of app %s", storeId, m.appId)
	return nil
}

// GetKvStoreDiskSize returns the size of the store file in bytes.
func (m *Manager) GetKvStoreDiskSize(storeId string) (int64, error) {
	info, err := os.Stat(m.storePath(storeId))
	if os.IsNotExist(err) {
		return 0, errors.Wrapf(ErrStoreNotFound, "stat store %s", storeId)
	}
	if err != nil {
		return 0, errors.Wrapf(err, "stat store %s", storeId)
	}
	return info.Size(), nil
}

// openDatabase loads or creates the file at path. Caller holds registryMu.
func openDatabase(path string, opt Option) (*database, error) {
	d := &database{
		path:   path,
		kv:     newEngine(),
		secret: append([]byte(nil), opt.Passwd...),
		level:  byte(opt.SecurityLevel),
	}

	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		if !opt.CreateIfNecessary {
			_ = d.kv.Close()
			return nil, errors.Wrapf(ErrStoreNotFound, "open %s", path)
		}
		if err := d.persist(); err != nil {
			_ = d.kv.Close()
			return nil, err
		}
		return d, nil
	case err != nil:
		_ = d.kv.Close()
		return nil, errors.Wrapf(err, "read %s", path)
	}

	snapshot, header, err := decodeFile(raw, d.secret)
	if err != nil {
		_ = d.kv.Close()
		return nil, err
	}
	if err := d.kv.Load(bytes.NewReader(snapshot)); err != nil {
		_ = d.kv.Close()
		return nil, errors.Wrapf(ErrInvalidPasswdOrCorrupted, "load %s: %v", path, err)
	}
	d.level = header.level
	return d, nil
}
