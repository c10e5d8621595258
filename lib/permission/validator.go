package permission

import (
	"strings"

	"github.com/ValentinKolb/kvds/lib/concurrent"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("permission")

// SyncPermissionChecker decides whether userId/appId may sync with remote devices.
type SyncPermissionChecker func(userId, appId string, uid int32) bool

// AllowAll is the default SyncPermissionChecker.
func AllowAll(string, string, int32) bool { return true }

// KvStoreTuple identifies an application of a harmony account.
type KvStoreTuple struct {
	UserId string
	AppId  string
}

// Validator answers permission questions for the data service.
//
// Thread-safety: all methods are safe for concurrent use, the allow-lists are immutable.
type Validator struct {
	lists   AllowLists
	checker SyncPermissionChecker
	tuples  *concurrent.Map[KvStoreTuple, struct{}]
}

// NewValidator creates a validator with the given allow-lists.
// A nil checker allows every sync.
func NewValidator(lists AllowLists, checker SyncPermissionChecker) *Validator {
	if checker == nil {
		checker = AllowAll
	}
	return &Validator{
		lists:   lists.clone(),
		checker: checker,
		tuples:  concurrent.NewMap[KvStoreTuple, struct{}](),
	}
}

// AllowLists returns a copy of the configured allow-lists.
func (v *Validator) AllowLists() AllowLists {
	return v.lists.clone()
}

// CheckSyncPermission returns false when sync must be denied.
func (v *Validator) CheckSyncPermission(userId, appId string, uid int32) bool {
	ok := v.checker(userId, appId, uid)
	if !ok {
		log.Infof("sync permission denied for app %s", appId)
	}
	return ok
}

// IsSystemService reports whether bundleName is a system service (exact match).
func (v *Validator) IsSystemService(bundleName string) bool {
	for _, name := range v.lists.SystemServices {
		if name == bundleName {
			return true
		}
	}
	return false
}

// IsAutoLaunchEnabled reports whether bundleName contains one of the auto-launch entries.
// This is a substring test, "x.providers.calendar.y" is enabled by "providers.calendar".
func (v *Validator) IsAutoLaunchEnabled(bundleName string) bool {
	for _, name := range v.lists.AutoLaunchApps {
		if name != "" && strings.Contains(bundleName, name) {
			return true
		}
	}
	return false
}

// --------------------------------------------------------------------------
// Permission change registration
// --------------------------------------------------------------------------

// RegisterPermissionChanged starts tracking permission changes for tuple.
// Returns false if the tuple was already registered.
func (v *Validator) RegisterPermissionChanged(tuple KvStoreTuple) bool {
	return v.tuples.Emplace(tuple, struct{}{})
}

// UnregisterPermissionChanged stops tracking tuple.
func (v *Validator) UnregisterPermissionChanged(tuple KvStoreTuple) {
	v.tuples.Erase(tuple)
}

// UpdateKvStoreTupleMap moves a registration after the harmony account of an app changed.
func (v *Validator) UpdateKvStoreTupleMap(src, dst KvStoreTuple) {
	if v.tuples.Erase(src) {
		v.tuples.Insert(dst, struct{}{})
	}
}

// IsRegistered reports whether tuple is tracked.
func (v *Validator) IsRegistered(tuple KvStoreTuple) bool {
	return v.tuples.ContainsKey(tuple)
}
