package dataservice

import (
	"os"

	"github.com/ValentinKolb/kvds/lib/account"
	"github.com/ValentinKolb/kvds/lib/kvstore"
	"github.com/ValentinKolb/kvds/lib/layout"
	"github.com/ValentinKolb/kvds/lib/meta"
	"github.com/hashicorp/go-multierror"
)

// AccountEventChanged reacts to account events. Open requests arriving while an
// event is processed fail with SYSTEM_ACCOUNT_EVENT_PROCESSING.
func (s *Service) AccountEventChanged(info account.AccountEventInfo) {
	log.Infof("account event %s for device account %q, begin", info.Status, info.DeviceAccountId)
	switch info.Status {
	case account.HarmonyAccountLogin, account.HarmonyAccountLogout, account.DeviceAccountDelete:
	default:
		return
	}

	s.accountEventProcessing.Store(true)
	defer s.accountEventProcessing.Store(false)

	s.accountMu.Lock()
	defer s.accountMu.Unlock()

	if s.accountEventHook != nil {
		s.accountEventHook(info)
	}

	switch info.Status {
	case account.HarmonyAccountLogin, account.HarmonyAccountLogout:
		for id, um := range s.deviceAccounts {
			if status := um.MigrateAllKvStore(info.HarmonyAccountId); status != kvstore.Success {
				log.Errorf("migrate stores of device account %s: %s", id, status)
				s.faults.report(faultDatabase, "migrate", id)
			}
		}
	case account.DeviceAccountDelete:
		for _, um := range s.deviceAccounts {
			um.DeleteAllKvStore()
		}
		delete(s.deviceAccounts, info.DeviceAccountId)
		s.removeDeviceAccountData(info.DeviceAccountId)
	}
	s.faults.observe("AccountEvent_"+info.Status.String(), kvstore.Success)
	log.Infof("account event %s, end", info.Status)
}

// removeDeviceAccountData removes the data directories of both protection classes
// and every meta record, secret key and strategy of deviceAccountId.
func (s *Service) removeDeviceAccountData(deviceAccountId string) {
	if deviceAccountId == "" {
		return
	}
	var result *multierror.Error
	for _, t := range layout.PathTypes {
		if err := os.RemoveAll(s.cfg.Layout.DeviceAccountDir(deviceAccountId, t)); err != nil {
			result = multierror.Append(result, err)
		}
	}

	entries, status := s.cfg.Meta.ScanMeta(meta.JoinKey(meta.KvStoreMetaPrefix, s.cfg.Meta.LocalDeviceId(), deviceAccountId) + meta.Separator)
	if status != kvstore.Success {
		result = multierror.Append(result, status.Err())
	}
	for _, e := range entries {
		md, st := s.cfg.Meta.GetKvStoreMeta(e.Key)
		if st != kvstore.Success {
			continue
		}
		if st := s.cfg.Meta.CheckUpdateServiceMeta(e.Key, meta.Delete, nil); st != kvstore.Success {
			result = multierror.Append(result, st.Err())
		}
		s.cfg.Meta.RemoveSecretKey(deviceAccountId, md.BundleName, md.StoreId)
		s.cfg.Meta.DeleteStrategyMeta(md.BundleName, md.StoreId)
	}

	strategies, _ := s.cfg.Meta.ScanMeta(meta.JoinKey(meta.StrategyMetaPrefix, s.cfg.Meta.LocalDeviceId(), deviceAccountId) + meta.Separator)
	for _, e := range strategies {
		s.cfg.Meta.CheckUpdateServiceMeta(e.Key, meta.Delete, nil)
	}

	if err := result.ErrorOrNil(); err != nil {
		log.Warningf("cleanup of device account %s incomplete: %v", deviceAccountId, err)
	}
}
