package account

import "github.com/ValentinKolb/kvds/lib/kvstore"

const (
	// DefaultGroupId is the harmony account id of auto-launch apps and the group of every meta key.
	DefaultGroupId = "default"
	// DefaultAccountId is returned when the OS account cannot be resolved.
	DefaultAccountId = "default_account"
	// MainDeviceAccountId is the only device account the data service supports.
	MainDeviceAccountId = "0"
	// UidRange is the number of uids reserved per device account.
	UidRange = 100000
)

// AccountStatus is the kind of an account event.
type AccountStatus int

const (
	HarmonyAccountLogin AccountStatus = iota
	HarmonyAccountLogout
	HarmonyAccountDelete
	DeviceAccountDelete
	DeviceAccountSwitched
)

func (s AccountStatus) String() string {
	switch s {
	case HarmonyAccountLogin:
		return "HARMONY_ACCOUNT_LOGIN"
	case HarmonyAccountLogout:
		return "HARMONY_ACCOUNT_LOGOUT"
	case HarmonyAccountDelete:
		return "HARMONY_ACCOUNT_DELETE"
	case DeviceAccountDelete:
		return "DEVICE_ACCOUNT_DELETE"
	case DeviceAccountSwitched:
		return "DEVICE_ACCOUNT_SWITCHED"
	default:
		return "UNKNOWN"
	}
}

// AccountEventInfo describes one account event.
type AccountEventInfo struct {
	HarmonyAccountId string        `json:"harmonyAccountId"`
	DeviceAccountId  string        `json:"deviceAccountId"`
	Status           AccountStatus `json:"status"`
}

// Observer is notified about account events. Name must be non-empty and unique.
type Observer interface {
	Name() string
	OnAccountChanged(info AccountEventInfo)
}

// IOSAccountProvider gives access to the account subsystem of the host.
type IOSAccountProvider interface {
	// CurrentUID returns the uid of the logged in account.
	CurrentUID() (string, error)
	// WatchEvents delivers account events to handler until stop is called.
	WatchEvents(handler func(AccountEventInfo)) (stop func(), err error)
}

// IAccountDelegate resolves account identities and distributes account events.
type IAccountDelegate interface {
	// GetCurrentHarmonyAccountId returns DefaultGroupId for auto-launch bundles, the hashed
	// uid of the current OS account otherwise, or DefaultAccountId if it cannot be resolved.
	GetCurrentHarmonyAccountId(bundleName string) string

	// GetDeviceAccountIdByUID returns the device account a process uid belongs to.
	GetDeviceAccountIdByUID(uid int32) string

	// Subscribe registers an observer.
	// Returns InvalidArgument for a nil observer, an empty name or a duplicate name.
	Subscribe(observer Observer) kvstore.Status

	// Unsubscribe removes an observer, InvalidArgument if it is not registered.
	Unsubscribe(observer Observer) kvstore.Status

	// NotifyAccountChanged calls every observer synchronously, in no particular order.
	NotifyAccountChanged(info AccountEventInfo)

	// SubscribeAccountEvent starts forwarding OS account events to NotifyAccountChanged.
	SubscribeAccountEvent() error

	// UnsubscribeAccountEvent stops forwarding OS account events.
	UnsubscribeAccountEvent()
}
