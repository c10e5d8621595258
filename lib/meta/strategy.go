package meta

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/ValentinKolb/kvds/lib/kvstore"
)

// --------------------------------------------------------------------------
// Strategies
// --------------------------------------------------------------------------

func (m *managerImpl) loadStrategy(key string) (StrategyMeta, bool) {
	var sm StrategyMeta
	raw, found, err := m.syncStore.Get(key)
	if err != nil || !found {
		return sm, false
	}
	if err := json.Unmarshal(raw, &sm); err != nil {
		log.Warningf("strategy record %s is damaged, rewriting: %v", key, err)
		return StrategyMeta{}, false
	}
	return sm, true
}

func (m *managerImpl) saveStrategy(key string, sm StrategyMeta) kvstore.Status {
	value, err := json.Marshal(sm)
	if err != nil {
		return kvstore.Error
	}
	return m.CheckUpdateServiceMeta(key, Update, value)
}

func (m *managerImpl) SaveStrategyMetaEnable(key string, enable bool) kvstore.Status {
	sm, _ := m.loadStrategy(key)
	sm.CapabilityEnabled = enable
	return m.saveStrategy(key, sm)
}

func (m *managerImpl) SaveStrategyMetaLabels(key string, localLabels, remoteLabels []string) kvstore.Status {
	sm, _ := m.loadStrategy(key)
	if localLabels == nil {
		localLabels = []string{}
	}
	if remoteLabels == nil {
		remoteLabels = []string{}
	}
	sm.CapabilityRange = &CapabilityRange{LocalLabel: localLabels, RemoteLabel: remoteLabels}
	return m.saveStrategy(key, sm)
}

// DeleteStrategyMeta removes the strategy records of a store on every device.
func (m *managerImpl) DeleteStrategyMeta(bundleName, storeId string) kvstore.Status {
	entries, status := m.ScanMeta(StrategyMetaPrefix + Separator)
	if status != kvstore.Success {
		return status
	}
	suffix := JoinKey("", bundleName, storeId)
	for _, e := range entries {
		if !strings.HasSuffix(e.Key, suffix) {
			continue
		}
		if st := m.CheckUpdateServiceMeta(e.Key, Delete, nil); st != kvstore.Success {
			return st
		}
	}
	return kvstore.Success
}

// GetStrategyMeta returns the labels of a strategy record, keyed "localLabel" and "remoteLabel".
// A record without a capability range yields an empty map.
func (m *managerImpl) GetStrategyMeta(key string) (map[string][]string, kvstore.Status) {
	raw, found, err := m.syncStore.Get(key)
	if err != nil {
		return nil, kvstore.DbError
	}
	labels := map[string][]string{}
	if !found {
		return labels, kvstore.Success
	}
	var sm StrategyMeta
	if err := json.Unmarshal(raw, &sm); err != nil {
		return nil, kvstore.Error
	}
	if sm.CapabilityRange == nil {
		return labels, kvstore.Success
	}
	if sm.CapabilityRange.LocalLabel != nil {
		labels["localLabel"] = sm.CapabilityRange.LocalLabel
	}
	if sm.CapabilityRange.RemoteLabel != nil {
		labels["remoteLabel"] = sm.CapabilityRange.RemoteLabel
	}
	return labels, kvstore.Success
}

func (m *managerImpl) CheckSyncPermission(userId, appId, storeId string, flag uint8, deviceId string) kvstore.Status {
	localDev := m.LocalDeviceId()
	md, status := m.QueryKvStoreMetaDataByDeviceIdAndAppId(localDev, appId)
	if status != kvstore.Success {
		log.Debugf("sync permission: no local store of app %s", appId)
		return kvstore.Error
	}

	localKey := m.GetStrategyMetaKey(StrategyKey{localDev, md.DeviceAccountId, defaultHarmonyAccountName, md.BundleName, storeId})
	remoteKey := m.GetStrategyMetaKey(StrategyKey{deviceId, md.DeviceAccountId, defaultHarmonyAccountName, md.BundleName, storeId})

	localLabels, st := m.GetStrategyMeta(localKey)
	if st != kvstore.Success {
		return st
	}
	remoteLabels, st := m.GetStrategyMeta(remoteKey)
	if st != kvstore.Success {
		return st
	}
	if len(localLabels) == 0 || len(remoteLabels) == 0 {
		return kvstore.Success
	}

	for _, label := range localLabels["remoteLabel"] {
		if slices.Contains(remoteLabels["localLabel"], label) {
			return kvstore.Success
		}
	}
	log.Infof("sync of %s/%s with %s denied by strategy (user %s, flag %d)", appId, storeId, deviceId, userId, flag)
	return kvstore.Error
}

// --------------------------------------------------------------------------
// Listeners
// --------------------------------------------------------------------------

func (m *managerImpl) SubscribeMetaKvStore(fn func(KvStoreMetaData)) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	m.listeners = append(m.listeners, fn)
}

func (m *managerImpl) notify(md KvStoreMetaData) {
	m.listenerMu.RLock()
	listeners := slices.Clone(m.listeners)
	m.listenerMu.RUnlock()
	for _, fn := range listeners {
		fn(md)
	}
}

// notifyIfDirty informs the listeners about a written store record that is dirty and belongs to a harmony app.
func (m *managerImpl) notifyIfDirty(metaKey string, value []byte) {
	if !strings.HasPrefix(metaKey, KvStoreMetaPrefix+Separator) {
		return
	}
	var md KvStoreMetaData
	if err := json.Unmarshal(value, &md); err != nil {
		return
	}
	if md.IsDirty && md.AppType == HarmonyAppType {
		m.notify(md)
	}
}

func (m *managerImpl) WatchDirtyMeta(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			entries, status := m.ScanMeta(KvStoreMetaPrefix + Separator)
			if status != kvstore.Success {
				continue
			}
			for _, e := range entries {
				m.notifyIfDirty(e.Key, e.Value)
			}
			m.SyncMeta()
		}
	}
}
