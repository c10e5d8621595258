package account

import (
	"os/user"
	"strconv"
	"sync"

	"github.com/ValentinKolb/kvds/lib/concurrent"
	"github.com/ValentinKolb/kvds/lib/crypto"
	"github.com/ValentinKolb/kvds/lib/kvstore"
	"github.com/ValentinKolb/kvds/lib/permission"
	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("account")

type delegateImpl struct {
	validator *permission.Validator
	provider  IOSAccountProvider
	observers *concurrent.Map[string, Observer]

	mu        sync.Mutex
	stopWatch func()
}

// NewAccountDelegate creates an account delegate.
// A nil provider uses the account of the current OS process.
func NewAccountDelegate(validator *permission.Validator, provider IOSAccountProvider) IAccountDelegate {
	if provider == nil {
		provider = NewOSAccountProvider()
	}
	return &delegateImpl{
		validator: validator,
		provider:  provider,
		observers: concurrent.NewMap[string, Observer](),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see account/interface.go)
// --------------------------------------------------------------------------

func (d *delegateImpl) GetCurrentHarmonyAccountId(bundleName string) string {
	if bundleName != "" && d.validator != nil && d.validator.IsAutoLaunchEnabled(bundleName) {
		return DefaultGroupId
	}

	uid, err := d.provider.CurrentUID()
	if err != nil {
		log.Warningf("get current os account failed: %v", err)
		return DefaultAccountId
	}
	if uid == "" {
		log.Warningf("current os account has no uid")
		return DefaultAccountId
	}
	return crypto.Sha256UserId(uid)
}

func (d *delegateImpl) GetDeviceAccountIdByUID(uid int32) string {
	if uid < 0 {
		return MainDeviceAccountId
	}
	return strconv.Itoa(int(uid / UidRange))
}

func (d *delegateImpl) Subscribe(observer Observer) kvstore.Status {
	if observer == nil || observer.Name() == "" {
		return kvstore.InvalidArgument
	}
	if !d.observers.Emplace(observer.Name(), observer) {
		log.Warningf("observer %s already subscribed", observer.Name())
		return kvstore.InvalidArgument
	}
	log.Debugf("observer %s subscribed", observer.Name())
	return kvstore.Success
}

func (d *delegateImpl) Unsubscribe(observer Observer) kvstore.Status {
	if observer == nil || observer.Name() == "" {
		return kvstore.InvalidArgument
	}
	if !d.observers.Erase(observer.Name()) {
		return kvstore.InvalidArgument
	}
	return kvstore.Success
}

func (d *delegateImpl) NotifyAccountChanged(info AccountEventInfo) {
	log.Infof("account event %s (device account %s)", info.Status, info.DeviceAccountId)
	d.observers.ForEach(func(_ string, o Observer) bool {
		o.OnAccountChanged(info)
		return true
	})
}

func (d *delegateImpl) SubscribeAccountEvent() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopWatch != nil {
		return nil
	}
	stop, err := d.provider.WatchEvents(d.NotifyAccountChanged)
	if err != nil {
		return errors.Wrap(err, "subscribe account events")
	}
	d.stopWatch = stop
	return nil
}

func (d *delegateImpl) UnsubscribeAccountEvent() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopWatch != nil {
		d.stopWatch()
		d.stopWatch = nil
	}
}

// --------------------------------------------------------------------------
// Providers
// --------------------------------------------------------------------------

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc struct {
	ObserverName string
	Fn           func(AccountEventInfo)
}

func (o *ObserverFunc) Name() string                          { return o.ObserverName }
func (o *ObserverFunc) OnAccountChanged(info AccountEventInfo) { o.Fn(info) }

type osAccountProvider struct{}

// NewOSAccountProvider returns a provider backed by os/user.
// The host emits no account events, those are injected through NotifyAccountChanged.
func NewOSAccountProvider() IOSAccountProvider {
	return osAccountProvider{}
}

func (osAccountProvider) CurrentUID() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", err
	}
	return u.Uid, nil
}

func (osAccountProvider) WatchEvents(func(AccountEventInfo)) (func(), error) {
	return func() {}, nil
}
