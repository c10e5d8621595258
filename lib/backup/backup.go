package backup

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/ValentinKolb/kvds/lib/crypto"
	"github.com/ValentinKolb/kvds/lib/db"
	"github.com/ValentinKolb/kvds/lib/db/engines/maple"
	"github.com/ValentinKolb/kvds/lib/delegate"
	"github.com/ValentinKolb/kvds/lib/kvstore"
	"github.com/ValentinKolb/kvds/lib/layout"
	"github.com/ValentinKolb/kvds/lib/lockmgr"
	"github.com/ValentinKolb/kvds/lib/meta"
	"github.com/ValentinKolb/kvds/lib/store/lstore"
	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("backup")

const (
	// DefaultInterval is the period of the backup scheduler.
	DefaultInterval = 10 * time.Minute

	lockPrefix = "backup###"
	// lockTTL is counted in write ticks of the lock store.
	lockTTL = 1000

	tmpSuffix = ".tmp"
)

// Config configures a Handler.
type Config struct {
	Layout layout.Layout
	Meta   meta.IKvStoreMetaManager
	// IsSystemService decides the protection class of unlabeled stores (nil: never).
	IsSystemService func(bundleName string) bool
	// Locks serializes export and import of a backup file. nil uses a process local lock store.
	Locks    lockmgr.ILockManager
	Interval time.Duration
}

// Handler exports stores to backup files and restores them.
type Handler struct {
	cfg Config
}

// NewHandler creates a backup handler.
func NewHandler(cfg Config) *Handler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.IsSystemService == nil {
		cfg.IsSystemService = func(string) bool { return false }
	}
	if cfg.Locks == nil {
		cfg.Locks = lockmgr.NewLockManager(lstore.NewLocalStore(func() db.KVDB { return maple.NewMapleDB(nil) }))
	}
	return &Handler{cfg: cfg}
}

// --------------------------------------------------------------------------
// Paths
// --------------------------------------------------------------------------

// GetHashedBackupName returns the file name of the backup called name.
func GetHashedBackupName(name string) string {
	return crypto.Sha256(name)
}

// BackupName is the unhashed backup name of a store.
func BackupName(userId, bundleName, storeId string) string {
	return userId + "_" + bundleName + "_" + storeId
}

// FileExists reports whether path exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// RemoveFile deletes path. A missing file counts as removed.
func RemoveFile(path string) bool {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warningf("remove %s failed: %v", path, err)
		return false
	}
	return true
}

// GetBackupPath returns the backup directory of a device account.
func (h *Handler) GetBackupPath(deviceAccountId string, t layout.PathType) string {
	return h.cfg.Layout.BackupPath(deviceAccountId, t)
}

// BackupFile returns the backup file of the store described by md.
func (h *Handler) BackupFile(md meta.KvStoreMetaData) string {
	t := layout.ConvertPathType(h.cfg.IsSystemService(md.BundleName), md.SecurityLevel)
	return filepath.Join(h.GetBackupPath(md.DeviceAccountId, t),
		GetHashedBackupName(BackupName(md.UserId, md.BundleName, md.StoreId)))
}

// --------------------------------------------------------------------------
// Scheduler
// --------------------------------------------------------------------------

// BackSchedule backs up every store with the backup option once per interval until ctx is done.
func (h *Handler) BackSchedule(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()
	log.Infof("backup scheduler started, interval %s", h.cfg.Interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.BackupAll()
		}
	}
}

// BackupAll runs one backup pass and returns the number of stores written.
func (h *Handler) BackupAll() int {
	entries, ok := h.cfg.Meta.GetFullMetaData()
	if !ok {
		log.Warningf("backup skipped, meta data unavailable")
		return 0
	}

	done := 0
	for _, entry := range entries {
		if !entry.KvStoreMetaData.IsBackup || entry.KvStoreMetaData.StoreId == meta.ServiceStoreId {
			continue
		}
		var ok bool
		if entry.KvStoreType == kvstore.MultiVersion {
			ok = h.MultiKvStoreBackup(entry)
		} else {
			ok = h.SingleKvStoreBackup(entry)
		}
		crypto.Zero(entry.SecretKey)
		if ok {
			done++
		}
	}
	log.Debugf("backup pass finished, %d of %d stores", done, len(entries))
	return done
}

// --------------------------------------------------------------------------
// Backup
// --------------------------------------------------------------------------

// SingleKvStoreBackup exports a single version (or device collaboration) store.
func (h *Handler) SingleKvStoreBackup(md meta.MetaData) bool {
	return h.backup(md)
}

// MultiKvStoreBackup exports a multi version store.
func (h *Handler) MultiKvStoreBackup(md meta.MetaData) bool {
	return h.backup(md)
}

func (h *Handler) backup(md meta.MetaData) bool {
	m := md.KvStoreMetaData
	t := layout.ConvertPathType(h.cfg.IsSystemService(m.BundleName), m.SecurityLevel)
	if err := os.MkdirAll(h.GetBackupPath(m.DeviceAccountId, t), 0o700); err != nil {
		log.Errorf("create backup dir failed: %v", err)
		return false
	}
	file := h.BackupFile(m)

	err := h.withFileLock(file, func() error {
		mgr := delegate.NewManager(m.AppId, m.UserId, h.cfg.Layout.DataStoragePath(m.DeviceAccountId, m.BundleName, t))
		s, err := mgr.GetKvStore(m.StoreId, delegate.Option{
			IsEncryptedDb: m.IsEncrypt,
			Passwd:        md.SecretKey,
			SecurityLevel: m.SecurityLevel,
		})
		if err != nil {
			return errors.Wrapf(err, "open store %s", m.StoreId)
		}
		defer func() {
			if err := mgr.CloseKvStore(s); err != nil {
				log.Warningf("close store %s after backup: %v", m.StoreId, err)
			}
		}()

		// the previous backup stays in place until the new one is complete
		tmp := file + tmpSuffix
		if err := s.Export(tmp, md.SecretKey); err != nil {
			RemoveFile(tmp)
			return err
		}
		return os.Rename(tmp, file)
	})
	if err != nil {
		log.Errorf("backup of %s/%s failed: %v", m.BundleName, m.StoreId, err)
		return false
	}
	log.Debugf("backup of %s/%s written", m.BundleName, m.StoreId)
	return true
}

// --------------------------------------------------------------------------
// Recovery
// --------------------------------------------------------------------------

// SingleKvStoreRecover replaces the content of s with the backup of the store described by md.
func (h *Handler) SingleKvStoreRecover(md meta.MetaData, s *delegate.Store) bool {
	return h.recover(md, s)
}

// MultiKvStoreRecover replaces the content of s with the backup of the store described by md.
func (h *Handler) MultiKvStoreRecover(md meta.MetaData, s *delegate.Store) bool {
	return h.recover(md, s)
}

func (h *Handler) recover(md meta.MetaData, s *delegate.Store) bool {
	if s == nil {
		log.Errorf("recover: store is not open")
		return false
	}
	file := h.BackupFile(md.KvStoreMetaData)
	if !FileExists(file) {
		log.Warningf("recover: no backup for %s/%s", md.KvStoreMetaData.BundleName, md.KvStoreMetaData.StoreId)
		return false
	}

	err := h.withFileLock(file, func() error {
		return s.Import(file, md.SecretKey)
	})
	if err != nil {
		log.Errorf("recover of %s/%s failed: %v", md.KvStoreMetaData.BundleName, md.KvStoreMetaData.StoreId, err)
		return false
	}
	log.Infof("store %s/%s recovered from backup", md.KvStoreMetaData.BundleName, md.KvStoreMetaData.StoreId)
	return true
}

func (h *Handler) withFileLock(file string, fn func() error) error {
	return h.cfg.Locks.WithLock(lockPrefix+filepath.Base(file), lockTTL, fn)
}
