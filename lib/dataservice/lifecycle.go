package dataservice

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/ValentinKolb/kvds/lib/account"
	"github.com/ValentinKolb/kvds/lib/backup"
	"github.com/ValentinKolb/kvds/lib/kvstore"
	"github.com/ValentinKolb/kvds/lib/layout"
	"github.com/ValentinKolb/kvds/lib/meta"
	"github.com/ValentinKolb/kvds/lib/permission"
)

// clientDeathObserver ties a client process handle to its bundle.
type clientDeathObserver struct {
	appId    kvstore.AppId
	observer kvstore.IRemoteObject
}

// resolveApp validates a bundle name and resolves the device account of the caller.
func (s *Service) resolveApp(ctx context.Context, appId kvstore.AppId) (openRequest, kvstore.Status) {
	req := openRequest{bundleName: strings.TrimSpace(string(appId))}
	if !CheckBundleName(req.bundleName) {
		log.Errorf("invalid bundle name %q", req.bundleName)
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

// --------------------------------------------------------------------------
// Interface Methods (docu see interface.go)
// --------------------------------------------------------------------------

func (s *Service) GetAllKvStoreId(ctx context.Context, appId kvstore.AppId, cb func(kvstore.Status, []kvstore.StoreId)) {
	if cb == nil {
		return
	}
	ids, status := s.allKvStoreIds(ctx, appId)
	s.faults.observe("GetAllKvStoreId", status)
	cb(status, ids)
}

func (s *Service) allKvStoreIds(ctx context.Context, appId kvstore.AppId) ([]kvstore.StoreId, kvstore.Status) {
	bundleName := strings.TrimSpace(string(appId))
	if bundleName == "" || len(bundleName) > MaxAppIdLength {
		return nil, kvstore.InvalidArgument
	}
	if s.cfg.AppIdResolver(bundleName) == "" {
		return nil, kvstore.PermissionDenied
	}
	deviceAccountId, _ := s.deviceAccountId(ctx)
	if deviceAccountId != account.MainDeviceAccountId {
		log.Errorf("device account %s is not supported", deviceAccountId)
		return nil, kvstore.NotSupport
	}

	prefix := meta.JoinKey(meta.KvStoreMetaPrefix, s.cfg.Meta.LocalDeviceId(), deviceAccountId, account.DefaultGroupId, bundleName) + meta.Separator
	entries, status := s.cfg.Meta.ScanMeta(prefix)
	if status != kvstore.Success {
		if len(entries) == 0 {
			return nil, kvstore.Success
		}
		return nil, kvstore.DbError
	}
	ids := make([]kvstore.StoreId, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, kvstore.StoreId(meta.StoreIdFromMetaKey(e.Key)))
	}
	return ids, kvstore.Success
}

func (s *Service) CloseKvStore(ctx context.Context, appId kvstore.AppId, storeId kvstore.StoreId) kvstore.Status {
	req, status := s.resolveRequest(ctx, appId, storeId)
	if status != kvstore.Success {
		return status
	}

	s.accountMu.Lock()
	um, ok := s.deviceAccounts[req.deviceAccountId]
	if ok {
		status = um.CloseKvStore(req.bundleName, req.storeId)
	}
	s.accountMu.Unlock()

	if ok && status != kvstore.StoreNotOpen {
		s.faults.observe("CloseKvStore", status)
		return status
	}
	s.faults.report(faultRuntime, "close_db", req.bundleName)
	log.Errorf("store %s/%s not open", req.bundleName, req.storeId)
	s.faults.observe("CloseKvStore", kvstore.StoreNotOpen)
	return kvstore.StoreNotOpen
}

func (s *Service) CloseAllKvStore(ctx context.Context, appId kvstore.AppId) kvstore.Status {
	req, status := s.resolveApp(ctx, appId)
	if status != kvstore.Success {
		return status
	}
	status = s.closeAllOfApp(req)
	if status == kvstore.StoreNotOpen {
		s.faults.report(faultRuntime, "close_db", req.bundleName)
	}
	s.faults.observe("CloseAllKvStore", status)
	return status
}

func (s *Service) closeAllOfApp(req openRequest) kvstore.Status {
	s.accountMu.Lock()
	defer s.accountMu.Unlock()
	um, ok := s.deviceAccounts[req.deviceAccountId]
	if !ok {
		return kvstore.StoreNotOpen
	}
	return um.CloseAllKvStoreOfApp(req.bundleName)
}

func (s *Service) DeleteKvStore(ctx context.Context, appId kvstore.AppId, storeId kvstore.StoreId) kvstore.Status {
	req, status := s.resolveRequest(ctx, appId, storeId)
	if status != kvstore.Success {
		return status
	}

	name := backup.GetHashedBackupName(backup.BackupName(account.DefaultGroupId, req.bundleName, req.storeId))
	for _, t := range layout.PathTypes {
		file := filepath.Join(s.cfg.Backup.GetBackupPath(req.deviceAccountId, t), name)
		if backup.FileExists(file) && !backup.RemoveFile(file) {
			log.Errorf("remove backup %s failed", file)
		}
	}

	status = s.deleteStore(req)
	s.faults.observe("DeleteKvStore", status)
	return status
}

// deleteStore deletes the store files, then its meta record, secret keys and strategy.
func (s *Service) deleteStore(req openRequest) kvstore.Status {
	s.accountMu.Lock()
	defer s.accountMu.Unlock()

	um, ok := s.deviceAccounts[req.deviceAccountId]
	if !ok {
		um = s.newUserManager(req.deviceAccountId)
	}
	status := um.DeleteKvStore(req.bundleName, req.storeId, req.uid)
	if status != kvstore.Success {
		return status
	}

	metaKey := s.cfg.Meta.GetMetaKey(req.deviceAccountId, account.DefaultGroupId, req.bundleName, req.storeId, "")
	if status = s.cfg.Meta.CheckUpdateServiceMeta(metaKey, meta.Delete, nil); status != kvstore.Success {
		log.Warningf("remove meta of %s/%s failed", req.bundleName, req.storeId)
	}
	s.cfg.Meta.RemoveSecretKey(req.deviceAccountId, req.bundleName, req.storeId)
	s.cfg.Meta.DeleteStrategyMeta(req.bundleName, req.storeId)
	return status
}

func (s *Service) DeleteAllKvStore(ctx context.Context, appId kvstore.AppId) kvstore.Status {
	req, status := s.resolveApp(ctx, appId)
	if status != kvstore.Success {
		return status
	}
	ids, status := s.allKvStoreIds(ctx, kvstore.AppId(req.bundleName))
	if status != kvstore.Success {
		log.Errorf("list stores of %s: %s", req.bundleName, status)
		return status
	}
	for _, id := range ids {
		if status = s.DeleteKvStore(ctx, kvstore.AppId(req.bundleName), id); status != kvstore.Success {
			log.Errorf("delete %s/%s: %s", req.bundleName, id, status)
			return status
		}
	}
	return kvstore.Success
}

// --------------------------------------------------------------------------
// Clients
// --------------------------------------------------------------------------

func (s *Service) RegisterClientDeathObserver(ctx context.Context, appId kvstore.AppId, observer kvstore.IRemoteObject) kvstore.Status {
	if s.accountEventProcessing.Load() {
		return kvstore.SystemAccountEventProcessing
	}
	bundleName := strings.TrimSpace(string(appId))
	if !CheckBundleName(bundleName) || observer == nil {
		return kvstore.InvalidArgument
	}
	trueAppId := s.cfg.AppIdResolver(bundleName)
	if trueAppId == "" {
		return kvstore.PermissionDenied
	}

	// the death callback runs AppExit as the registering caller
	callerCtx := kvstore.WithCaller(context.Background(), kvstore.CallerFrom(ctx))
	exitApp := kvstore.AppId(bundleName)

	s.deathMu.Lock()
	if prev, ok := s.deathObservers[bundleName]; ok {
		prev.observer.RemoveDeathRecipient()
	}
	if !observer.AddDeathRecipient(func() { s.AppExit(callerCtx, exitApp) }) {
		delete(s.deathObservers, bundleName)
		s.deathMu.Unlock()
		log.Warningf("add death recipient for %s failed", bundleName)
		return kvstore.Error
	}
	s.deathObservers[bundleName] = &clientDeathObserver{appId: exitApp, observer: observer}
	log.Infof("death observer of %s registered, %d observers", bundleName, len(s.deathObservers))
	s.deathMu.Unlock()

	s.cfg.Validator.RegisterPermissionChanged(permission.KvStoreTuple{
		UserId: s.cfg.Accounts.GetCurrentHarmonyAccountId(bundleName),
		AppId:  trueAppId,
	})
	return kvstore.Success
}

func (s *Service) AppExit(ctx context.Context, appId kvstore.AppId) kvstore.Status {
	bundleName := strings.TrimSpace(string(appId))
	log.Infof("app %s exits", bundleName)

	s.deathMu.Lock()
	if prev, ok := s.deathObservers[bundleName]; ok {
		prev.observer.RemoveDeathRecipient()
		delete(s.deathObservers, bundleName)
	}
	s.deathMu.Unlock()

	trueAppId := s.cfg.AppIdResolver(bundleName)
	if trueAppId == "" {
		log.Errorf("no app id for exiting %s", bundleName)
		return kvstore.PermissionDenied
	}
	s.cfg.Validator.UnregisterPermissionChanged(permission.KvStoreTuple{
		UserId: s.cfg.Accounts.GetCurrentHarmonyAccountId(bundleName),
		AppId:  trueAppId,
	})

	if req, status := s.resolveApp(ctx, appId); status == kvstore.Success {
		s.closeAllOfApp(req)
	}
	return kvstore.Success
}

// IsDeathObserverRegistered reports whether a client handle is registered for appId.
func (s *Service) IsDeathObserverRegistered(appId kvstore.AppId) bool {
	s.deathMu.Lock()
	defer s.deathMu.Unlock()
	_, ok := s.deathObservers[strings.TrimSpace(string(appId))]
	return ok
}
