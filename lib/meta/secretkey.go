package meta

import (
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ValentinKolb/kvds/lib/crypto"
	"github.com/ValentinKolb/kvds/lib/db/util"
	"github.com/ValentinKolb/kvds/lib/kvstore"
	"github.com/cockroachdb/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	timeFieldSize = 8
	keyMaxAge     = 365 * 24 * time.Hour
	workKeyAAD    = "kvds work key"
)

var errNoRootKey = errors.New("root key not available")

// --------------------------------------------------------------------------
// Root key
// --------------------------------------------------------------------------

func (m *managerImpl) rootKeyPath() string {
	return filepath.Join(m.opts.MetaDir, rootKeyFile)
}

// loadRootKey returns the cached root key, reading it from disk on first use.
//
// Thread-safety: guarded by rootKeyMu.
func (m *managerImpl) loadRootKey() ([]byte, error) {
	m.rootKeyMu.Lock()
	defer m.rootKeyMu.Unlock()

	if m.rootKey != nil {
		return m.rootKey, nil
	}
	raw, err := os.ReadFile(m.rootKeyPath())
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "read root key"), errNoRootKey)
	}
	if len(raw) != chacha20poly1305.KeySize {
		return nil, errors.Wrapf(errNoRootKey, "root key has %d bytes", len(raw))
	}
	m.rootKey = raw
	return raw, nil
}

func (m *managerImpl) GenerateRootKey() kvstore.Status {
	if _, err := m.loadRootKey(); err != nil {
		m.rootKeyMu.Lock()
		key := crypto.GetRandomKey(chacha20poly1305.KeySize)
		err = util.WriteFileAtomic(m.rootKeyPath(), key)
		if err == nil {
			m.rootKey = key
		}
		m.rootKeyMu.Unlock()
		if err != nil {
			log.Errorf("write root key failed: %v", err)
			return kvstore.Error
		}
		log.Infof("generated new root key")
	}

	if err := m.local.Set(rootKeyMarker, []byte{1}); err != nil {
		log.Errorf("write root key marker failed: %v", err)
		return kvstore.Error
	}
	if err := m.flush(true); err != nil {
		log.Errorf("persist root key marker failed: %v", err)
		return kvstore.Error
	}
	return kvstore.Success
}

func (m *managerImpl) CheckRootKeyExist() kvstore.Status {
	_, found, err := m.local.Get(rootKeyMarker)
	if err != nil || !found {
		return kvstore.Error
	}
	if _, err := m.loadRootKey(); err != nil {
		log.Warningf("root key marker present but key unusable: %v", err)
		return kvstore.Error
	}
	return kvstore.Success
}

// --------------------------------------------------------------------------
// Work key sealing
// --------------------------------------------------------------------------

// sealWorkKey encrypts key with the root key. The result is nonce || ciphertext.
func (m *managerImpl) sealWorkKey(key []byte) ([]byte, error) {
	root, err := m.loadRootKey()
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(root)
	if err != nil {
		return nil, errors.Wrap(err, "init cipher")
	}
	nonce := crypto.GetRandomKey(aead.NonceSize())
	return aead.Seal(nonce, nonce, key, []byte(workKeyAAD)), nil
}

func (m *managerImpl) unsealWorkKey(sealed []byte) ([]byte, error) {
	root, err := m.loadRootKey()
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(root)
	if err != nil {
		return nil, errors.Wrap(err, "init cipher")
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, errors.New("sealed work key too short")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, []byte(workKeyAAD))
	if err != nil {
		return nil, errors.Wrap(err, "unseal work key")
	}
	return plain, nil
}

func encodeTime(t time.Time) []byte {
	buf := make([]byte, timeFieldSize)
	binary.LittleEndian.PutUint64(buf, uint64(t.Unix()))
	return buf
}

func (m *managerImpl) isOutdated(raw []byte) bool {
	if len(raw) < timeFieldSize {
		return true
	}
	created := time.Unix(int64(binary.LittleEndian.Uint64(raw[:timeFieldSize])), 0)
	return m.opts.Now().Sub(created) > keyMaxAge
}

func storeTypeOfKey(metaKey string) kvstore.KvStoreType {
	if strings.HasSuffix(metaKey, Separator+SingleKeySuffix) {
		return kvstore.SingleVersion
	}
	return kvstore.MultiVersion
}

// --------------------------------------------------------------------------
// Secret keys
// --------------------------------------------------------------------------

func (m *managerImpl) putSecretRecord(metaKey string, record SecretKeyMetaData) kvstore.Status {
	value, err := json.Marshal(record)
	if err != nil {
		return kvstore.Error
	}
	return m.CheckUpdateServiceMeta(metaKey, UpdateLocal, value)
}

func (m *managerImpl) WriteSecretKeyToMeta(metaKey string, key []byte) kvstore.Status {
	sealed, err := m.sealWorkKey(key)
	if err != nil {
		log.Errorf("seal secret key for %s failed: %v", metaKey, err)
		return kvstore.CryptError
	}
	return m.putSecretRecord(metaKey, SecretKeyMetaData{
		Time:        encodeTime(m.opts.Now()),
		SecretKey:   sealed,
		KvStoreType: storeTypeOfKey(metaKey),
	})
}

func (m *managerImpl) WriteSecretKeyToFile(file string, key []byte) kvstore.Status {
	sealed, err := m.sealWorkKey(key)
	if err != nil {
		log.Errorf("seal secret key for %s failed: %v", file, err)
		return kvstore.CryptError
	}
	data := append(encodeTime(m.opts.Now()), sealed...)
	if err := util.WriteFileAtomic(file, data); err != nil {
		log.Errorf("write secret key file failed: %v", err)
		return kvstore.Error
	}
	return kvstore.Success
}

func (m *managerImpl) GetSecretKeyFromMeta(metaKey string) ([]byte, bool, kvstore.Status) {
	raw, found, err := m.local.Get(metaKey)
	if err != nil || !found {
		return nil, false, kvstore.DbError
	}

	var record SecretKeyMetaData
	if err := json.Unmarshal(raw, &record); err != nil {
		log.Errorf("decode secret key record %s failed: %v", metaKey, err)
		return nil, false, kvstore.Error
	}

	outdated := m.isOutdated(record.Time)
	key, err := m.unsealWorkKey(record.SecretKey)
	if err != nil {
		log.Warningf("secret key %s cannot be unsealed: %v", metaKey, err)
		return []byte{}, outdated, kvstore.Success
	}
	return key, outdated, kvstore.Success
}

func (m *managerImpl) RecoverSecretKeyFromFile(file, metaKey string) ([]byte, bool, kvstore.Status) {
	raw, err := os.ReadFile(file)
	if err != nil {
		log.Warningf("read secret key file %s failed: %v", file, err)
		return nil, false, kvstore.Error
	}
	if len(raw) < timeFieldSize+SecretKeySize {
		log.Errorf("secret key file %s is truncated", file)
		return nil, false, kvstore.Error
	}

	created, sealed := raw[:timeFieldSize], raw[timeFieldSize:]
	key, err := m.unsealWorkKey(sealed)
	if err != nil {
		log.Errorf("secret key file %s cannot be unsealed: %v", file, err)
		return nil, false, kvstore.Error
	}

	status := m.putSecretRecord(metaKey, SecretKeyMetaData{
		Time:        append([]byte(nil), created...),
		SecretKey:   append([]byte(nil), sealed...),
		KvStoreType: storeTypeOfKey(metaKey),
	})
	if status != kvstore.Success {
		crypto.Zero(key)
		return nil, false, status
	}
	return key, m.isOutdated(created), kvstore.Success
}

func (m *managerImpl) RemoveSecretKey(deviceAccountId, bundleName, storeId string) kvstore.Status {
	status := kvstore.Success
	for _, suffix := range []string{MultiKeySuffix, SingleKeySuffix} {
		metaKey := m.GetMetaKey(deviceAccountId, defaultHarmonyAccountName, bundleName, storeId, suffix)
		if err := m.local.Delete(metaKey); err != nil {
			log.Errorf("delete secret key record %s failed: %v", metaKey, err)
			status = kvstore.DbError
		}
	}

	for _, file := range []string{
		m.GetSecretKeyFile(deviceAccountId, bundleName, storeId),
		m.GetSecretSingleKeyFile(deviceAccountId, bundleName, storeId),
	} {
		if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
			log.Errorf("remove secret key file %s failed: %v", file, err)
			status = kvstore.DbError
		}
	}

	if err := m.flush(true); err != nil {
		log.Errorf("persist meta failed: %v", err)
		status = kvstore.DbError
	}
	return status
}

func (m *managerImpl) ReKey(deviceAccountId, bundleName, storeId string, single bool, s ReKeyer) kvstore.Status {
	suffix, file := MultiKeySuffix, m.GetSecretKeyFile(deviceAccountId, bundleName, storeId)
	if single {
		suffix, file = SingleKeySuffix, m.GetSecretSingleKeyFile(deviceAccountId, bundleName, storeId)
	}
	metaKey := m.GetMetaKey(deviceAccountId, defaultHarmonyAccountName, bundleName, storeId, suffix)

	key := crypto.GetRandomKey(SecretKeySize)
	defer crypto.Zero(key)

	if status := m.WriteSecretKeyToMeta(metaKey, key); status != kvstore.Success {
		log.Errorf("rekey %s: write meta failed: %s", storeId, status)
		return status
	}
	status := s.ReKey(key)
	if status != kvstore.Success {
		log.Errorf("rekey %s failed: %s", storeId, status)
		return status
	}
	if st := m.WriteSecretKeyToFile(file, key); st != kvstore.Success {
		log.Warningf("rekey %s: write key file failed: %s", storeId, st)
	}
	return kvstore.Success
}
