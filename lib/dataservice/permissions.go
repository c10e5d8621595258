package dataservice

import (
	"github.com/ValentinKolb/kvds/lib/crypto"
	"github.com/ValentinKolb/kvds/lib/kvstore"
	"github.com/ValentinKolb/kvds/lib/meta"
)

// AutoLaunchParam describes how to open a store that a remote device wants to sync with.
type AutoLaunchParam struct {
	UserId        string
	AppId         string
	StoreId       string
	DataDir       string
	Schema        string
	IsEncrypt     bool
	SecretKey     []byte
	SecurityLevel kvstore.SecurityLevel
}

// CheckPermissions decides whether deviceId may sync storeId of appId.
//
// Stores of type "default" always pass. All others must pass the strategy label
// check of the meta manager. Beyond that non-harmony apps and auto-launch apps pass,
// every other harmony app needs the approval of the sync permission checker.
func (s *Service) CheckPermissions(userId, appId, storeId, deviceId string, flag uint8) bool {
	md, status := s.cfg.Meta.QueryKvStoreMetaDataByDeviceIdAndAppId(s.cfg.Meta.LocalDeviceId(), appId)
	if status != kvstore.Success {
		// the local device id may have been empty when the record was written
		if md, status = s.cfg.Meta.QueryKvStoreMetaDataByDeviceIdAndAppId("", appId); status != kvstore.Success {
			log.Warningf("sync permission: app %s unknown", appId)
			return false
		}
	}
	if md.AppType == meta.DefaultAppType {
		return true
	}
	if s.cfg.Meta.CheckSyncPermission(userId, appId, storeId, flag, deviceId) != kvstore.Success {
		log.Warningf("sync permission of %s/%s for %s denied by strategy", appId, storeId, deviceId)
		return false
	}
	if md.AppType != meta.HarmonyAppType {
		return true
	}
	if s.cfg.Validator.IsAutoLaunchEnabled(appId) {
		return true
	}
	return s.cfg.Validator.CheckSyncPermission(userId, appId, md.Uid)
}

// StoreIdentifier is the identifier remote devices use to request a store.
func StoreIdentifier(userId, appId, storeId string) string {
	return crypto.Sha256(userId + "-" + appId + "-" + storeId)
}

// ResolveAutoLaunchParam finds the store behind identifier.
// It fails until auto launch is enabled, shortly after OnStart.
func (s *Service) ResolveAutoLaunchParam(identifier string) (AutoLaunchParam, bool) {
	if !s.autoLaunchEnabled.Load() {
		return AutoLaunchParam{}, false
	}
	entries, ok := s.cfg.Meta.GetFullMetaData()
	if !ok {
		return AutoLaunchParam{}, false
	}
	for _, e := range entries {
		md := e.KvStoreMetaData
		userId := s.cfg.Accounts.GetCurrentHarmonyAccountId(md.BundleName)
		if StoreIdentifier(userId, md.AppId, md.StoreId) != identifier {
			continue
		}
		return AutoLaunchParam{
			UserId:        userId,
			AppId:         md.AppId,
			StoreId:       md.StoreId,
			DataDir:       md.DataDir,
			Schema:        md.Schema,
			IsEncrypt:     md.IsEncrypt,
			SecretKey:     e.SecretKey,
			SecurityLevel: md.SecurityLevel,
		}, true
	}
	return AutoLaunchParam{}, false
}
