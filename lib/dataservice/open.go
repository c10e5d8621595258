package dataservice

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ValentinKolb/kvds/lib/account"
	"github.com/ValentinKolb/kvds/lib/appmgr"
	"github.com/ValentinKolb/kvds/lib/backup"
	"github.com/ValentinKolb/kvds/lib/crypto"
	"github.com/ValentinKolb/kvds/lib/kvstore"
	"github.com/ValentinKolb/kvds/lib/meta"
	"github.com/ValentinKolb/kvds/lib/usermgr"
)

// opener opens a store through the user manager of the caller, calling cb exactly once.
type opener[H any] func(um *usermgr.Manager, options kvstore.Options, bundleName, storeId string, uid int32, key []byte, cb func(H)) kvstore.Status

// openRequest is the validated identity of an open call.
type openRequest struct {
	options         kvstore.Options
	bundleName      string
	storeId         string
	trueAppId       string
	deviceAccountId string
	uid             int32
}

func (r openRequest) single() bool { return r.options.KvStoreType != kvstore.MultiVersion }

func isNilHandle[H any](h H) bool { return any(h) == nil }

// --------------------------------------------------------------------------
// Interface Methods (docu see interface.go)
// --------------------------------------------------------------------------

func (s *Service) GetKvStore(ctx context.Context, options kvstore.Options, appId kvstore.AppId, storeId kvstore.StoreId, cb func(kvstore.IKvStore)) kvstore.Status {
	if cb == nil {
		log.Warningf("open without callback")
		return kvstore.Error
	}
	h, status := s.OpenKvStore(ctx, options, appId, storeId)
	cb(h)
	return status
}

func (s *Service) GetSingleKvStore(ctx context.Context, options kvstore.Options, appId kvstore.AppId, storeId kvstore.StoreId, cb func(kvstore.ISingleKvStore)) kvstore.Status {
	if cb == nil {
		log.Warningf("open without callback")
		return kvstore.Error
	}
	h, status := s.OpenSingleKvStore(ctx, options, appId, storeId)
	cb(h)
	return status
}

// OpenKvStore is GetKvStore returning the handle. A single version or device
// collaboration type opens a single store, which is an IKvStore as well.
func (s *Service) OpenKvStore(ctx context.Context, options kvstore.Options, appId kvstore.AppId, storeId kvstore.StoreId) (kvstore.IKvStore, kvstore.Status) {
	var (
		h      kvstore.IKvStore
		status kvstore.Status
	)
	switch options.KvStoreType {
	case kvstore.MultiVersion:
		h, status = openStore[kvstore.IKvStore](s, ctx, options, appId, storeId, (*usermgr.Manager).GetKvStore)
	case kvstore.SingleVersion, kvstore.DeviceCollaboration:
		var single kvstore.ISingleKvStore
		single, status = openStore[kvstore.ISingleKvStore](s, ctx, options, appId, storeId, (*usermgr.Manager).GetSingleKvStore)
		if single != nil {
			h = single
		}
	default:
		log.Errorf("invalid store type %s", options.KvStoreType)
		status = kvstore.InvalidArgument
	}
	s.faults.observe("GetKvStore", status)
	return h, status
}

// OpenSingleKvStore is GetSingleKvStore returning the handle.
func (s *Service) OpenSingleKvStore(ctx context.Context, options kvstore.Options, appId kvstore.AppId, storeId kvstore.StoreId) (kvstore.ISingleKvStore, kvstore.Status) {
	if options.KvStoreType != kvstore.SingleVersion && options.KvStoreType != kvstore.DeviceCollaboration {
		log.Errorf("invalid store type %s", options.KvStoreType)
		s.faults.observe("GetSingleKvStore", kvstore.InvalidArgument)
		return nil, kvstore.InvalidArgument
	}
	h, status := openStore[kvstore.ISingleKvStore](s, ctx, options, appId, storeId, (*usermgr.Manager).GetSingleKvStore)
	s.faults.observe("GetSingleKvStore", status)
	return h, status
}

// --------------------------------------------------------------------------
// Open flow
// --------------------------------------------------------------------------

// resolveRequest validates the identity of a store request.
func (s *Service) resolveRequest(ctx context.Context, appId kvstore.AppId, storeId kvstore.StoreId) (openRequest, kvstore.Status) {
	req := openRequest{
		bundleName: strings.TrimSpace(string(appId)),
		storeId:    strings.TrimSpace(string(storeId)),
	}
	if !CheckBundleName(req.bundleName) {
		log.Errorf("invalid bundle name %q", req.bundleName)
		return req, kvstore.InvalidArgument
	}
	if !CheckStoreId(req.storeId) {
		log.Errorf("invalid store id %q", req.storeId)
		return req, kvstore.InvalidArgument
	}
	if req.trueAppId = s.cfg.AppIdResolver(req.bundleName); req.trueAppId == "" {
		log.Warningf("no app id for %s", req.bundleName)
		return req, kvstore.PermissionDenied
	}
	req.deviceAccountId, req.uid = s.deviceAccountId(ctx)
	if req.deviceAccountId != account.MainDeviceAccountId {
		log.Errorf("device account %s is not supported", req.deviceAccountId)
		return req, kvstore.NotSupport
	}
	return req, kvstore.Success
}

func openStore[H any](s *Service, ctx context.Context, options kvstore.Options, appId kvstore.AppId, storeId kvstore.StoreId, open opener[H]) (H, kvstore.Status) {
	var none H
	if appId == "" || storeId == "" {
		log.Warningf("app id or store id empty")
		return none, kvstore.InvalidArgument
	}
	if s.accountEventProcessing.Load() {
		log.Warningf("account event in progress, open of %s/%s rejected", appId, storeId)
		return none, kvstore.SystemAccountEventProcessing
	}
	req, status := s.resolveRequest(ctx, appId, storeId)
	if status != kvstore.Success {
		return none, status
	}
	req.options = options

	s.accountMu.Lock()
	defer s.accountMu.Unlock()
	if s.accountEventProcessing.Load() {
		log.Warningf("account event processed while waiting, open of %s/%s rejected", appId, storeId)
		return none, kvstore.SystemAccountEventProcessing
	}

	metaKey := s.cfg.Meta.GetMetaKey(req.deviceAccountId, account.DefaultGroupId, req.bundleName, req.storeId, "")
	if !s.checkOptions(options, metaKey) {
		return none, kvstore.InvalidArgument
	}

	keyRecord, keyFile := s.secretKeyLocation(req)
	alreadyCreated := s.cfg.Meta.CheckUpdateServiceMeta(keyRecord, meta.CheckExistLocal, nil) == kvstore.Success ||
		backup.FileExists(keyFile)

	var secretKey []byte
	defer func() { crypto.Zero(secretKey) }()
	outdated := false

	if options.Encrypt {
		if !alreadyCreated {
			log.Infof("new secret key for %s/%s", req.bundleName, req.storeId)
			secretKey = crypto.GetRandomKey(meta.SecretKeySize)
			s.cfg.Meta.WriteSecretKeyToMeta(keyRecord, secretKey)
			s.cfg.Meta.WriteSecretKeyToFile(keyFile, secretKey)
		} else {
			secretKey, outdated, _ = s.cfg.Meta.GetSecretKeyFromMeta(keyRecord)
			if len(secretKey) == 0 {
				log.Warningf("secret key of %s/%s not in meta, recovering from file", req.bundleName, req.storeId)
				secretKey, outdated, _ = s.cfg.Meta.RecoverSecretKeyFromFile(keyFile, keyRecord)
			}
			if len(secretKey) == 0 {
				log.Errorf("secret key of %s/%s unrecoverable", req.bundleName, req.storeId)
				return none, kvstore.CryptError
			}
		}
	} else if alreadyCreated {
		log.Warningf("plain open of encrypted store %s/%s", req.bundleName, req.storeId)
		return none, kvstore.CryptError
	}

	um := s.userManagerLocked(req.deviceAccountId)
	var handle H
	capture := func(h H) { handle = h }

	status = open(um, options, req.bundleName, req.storeId, req.uid, secretKey, capture)
	if status == kvstore.Success {
		s.afterOpen(req, handle, outdated)
		return handle, s.persistMeta(um, req, metaKey)
	}
	log.Warningf("open of %s/%s failed: %s", req.bundleName, req.storeId, status)

	first := status
	if first == kvstore.CryptError && options.Encrypt {
		if !alreadyCreated {
			s.cfg.Meta.RemoveSecretKey(req.deviceAccountId, req.bundleName, req.storeId)
			return none, kvstore.Error
		}
		crypto.Zero(secretKey)
		var st kvstore.Status
		secretKey, outdated, st = s.cfg.Meta.RecoverSecretKeyFromFile(keyFile, keyRecord)
		if st != kvstore.Success {
			return none, kvstore.CryptError
		}
		status = open(um, options, req.bundleName, req.storeId, req.uid, secretKey, capture)
		if status == kvstore.Success {
			s.afterOpen(req, handle, outdated)
			return handle, s.persistMeta(um, req, metaKey)
		}
	}

	if first != kvstore.CryptError {
		return none, status
	}
	if !s.backupExists(req) {
		log.Warningf("no backup of damaged store %s/%s", req.bundleName, req.storeId)
		return none, kvstore.CryptError
	}
	if st := um.DeleteKvStore(req.bundleName, req.storeId, req.uid); st != kvstore.Success {
		log.Errorf("remove damaged store %s/%s: %s", req.bundleName, req.storeId, st)
		s.faults.report(faultDatabase, "delete_damaged", req.bundleName)
		return none, kvstore.DbError
	}
	return recoverStore(s, um, req, metaKey, secretKey, open)
}

// recoverStore recreates a deleted store and imports its backup. The handle is
// returned with RECOVER_SUCCESS and with RECOVER_FAILED.
func recoverStore[H any](s *Service, um *usermgr.Manager, req openRequest, metaKey string, secretKey []byte, open opener[H]) (H, kvstore.Status) {
	var none, handle H
	options := req.options
	options.CreateIfMissing = true

	status := open(um, options, req.bundleName, req.storeId, req.uid, secretKey, func(h H) { handle = h })
	if status != kvstore.Success || isNilHandle(handle) {
		log.Errorf("recreate %s/%s failed: %s", req.bundleName, req.storeId, status)
		return none, kvstore.DbError
	}
	s.persistMeta(um, req, metaKey)

	importer, ok := any(handle).(appmgr.Importer)
	if !ok || !importer.Import() {
		log.Errorf("import backup of %s/%s failed", req.bundleName, req.storeId)
		s.faults.report(faultDatabase, "recover", req.bundleName)
		return handle, kvstore.RecoverFailed
	}
	log.Infof("store %s/%s recovered from backup", req.bundleName, req.storeId)
	return handle, kvstore.RecoverSuccess
}

// afterOpen replaces an outdated secret key of a freshly opened store.
func (s *Service) afterOpen(req openRequest, handle any, outdated bool) {
	if !outdated {
		return
	}
	rk, ok := handle.(meta.ReKeyer)
	if !ok {
		return
	}
	if st := s.cfg.Meta.ReKey(req.deviceAccountId, req.bundleName, req.storeId, req.single(), rk); st != kvstore.Success {
		log.Warningf("rekey of %s/%s: %s", req.bundleName, req.storeId, st)
	}
}

// checkOptions compares the requested options with the stored record of the store.
func (s *Service) checkOptions(options kvstore.Options, metaKey string) bool {
	md, status := s.cfg.Meta.GetKvStoreMeta(metaKey)
	if status == kvstore.KeyNotFound {
		return true
	}
	if status != kvstore.Success {
		log.Errorf("read meta %s: %s", metaKey, status)
		return false
	}
	if options.Encrypt != md.IsEncrypt {
		log.Errorf("encrypt option differs from the existing store")
		return false
	}
	if options.KvStoreType != md.KvStoreType && md.Version != 0 {
		log.Errorf("store type %s differs from the existing %s", options.KvStoreType, md.KvStoreType)
		return false
	}
	return true
}

func (s *Service) secretKeyLocation(req openRequest) (record, file string) {
	if req.single() {
		return s.cfg.Meta.GetMetaKey(req.deviceAccountId, account.DefaultGroupId, req.bundleName, req.storeId, meta.SingleKeySuffix),
			s.cfg.Meta.GetSecretSingleKeyFile(req.deviceAccountId, req.bundleName, req.storeId)
	}
	return s.cfg.Meta.GetMetaKey(req.deviceAccountId, account.DefaultGroupId, req.bundleName, req.storeId, meta.MultiKeySuffix),
		s.cfg.Meta.GetSecretKeyFile(req.deviceAccountId, req.bundleName, req.storeId)
}

func (s *Service) backupExists(req openRequest) bool {
	return backup.FileExists(s.cfg.Backup.BackupFile(meta.KvStoreMetaData{
		BundleName:      req.bundleName,
		DeviceAccountId: req.deviceAccountId,
		StoreId:         req.storeId,
		UserId:          account.DefaultGroupId,
		SecurityLevel:   req.options.SecurityLevel,
	}))
}

// persistMeta writes the store record after a successful open.
func (s *Service) persistMeta(um *usermgr.Manager, req openRequest, metaKey string) kvstore.Status {
	md := meta.KvStoreMetaData{
		AppId:           req.trueAppId,
		AppType:         meta.HarmonyAppType,
		BundleName:      req.bundleName,
		DataDir:         um.GetDbDir(req.bundleName, req.options),
		DeviceAccountId: req.deviceAccountId,
		DeviceId:        s.cfg.Meta.LocalDeviceId(),
		IsAutoSync:      req.options.AutoSync,
		IsBackup:        req.options.Backup,
		IsEncrypt:       req.options.Encrypt,
		KvStoreType:     req.options.KvStoreType,
		Schema:          req.options.Schema,
		StoreId:         req.storeId,
		UserId:          account.DefaultGroupId,
		Uid:             req.uid,
		Version:         meta.MetaVersion,
		SecurityLevel:   req.options.SecurityLevel,
	}
	raw, err := json.Marshal(md)
	if err != nil {
		log.Errorf("encode meta of %s/%s: %v", req.bundleName, req.storeId, err)
		return kvstore.Error
	}
	return s.cfg.Meta.CheckUpdateServiceMeta(metaKey, meta.Update, raw)
}
