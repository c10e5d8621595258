package account

import (
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/kvds/lib/crypto"
	"github.com/ValentinKolb/kvds/lib/kvstore"
	"github.com/ValentinKolb/kvds/lib/permission"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	uid     string
	err     error
	handler func(AccountEventInfo)
	stopped atomic.Bool
}

func (p *fakeProvider) CurrentUID() (string, error) { return p.uid, p.err }

func (p *fakeProvider) WatchEvents(h func(AccountEventInfo)) (func(), error) {
	p.handler = h
	return func() { p.stopped.Store(true) }, nil
}

func newDelegate(p IOSAccountProvider) IAccountDelegate {
	return NewAccountDelegate(permission.NewValidator(permission.DefaultAllowLists(), nil), p)
}

func TestHarmonyAccountId(t *testing.T) {
	p := &fakeProvider{uid: "10000"}
	d := newDelegate(p)

	assert.Equal(t, crypto.Sha256UserId("10000"), d.GetCurrentHarmonyAccountId("com.example.app"))
	assert.Equal(t, crypto.Sha256UserId("10000"), d.GetCurrentHarmonyAccountId(""))

	// auto-launch bundles bypass account resolution entirely
	p.err = errors.New("account service down")
	assert.Equal(t, DefaultGroupId, d.GetCurrentHarmonyAccountId("providers.calendar"))

	assert.Equal(t, DefaultAccountId, d.GetCurrentHarmonyAccountId("com.example.app"))

	p.err = nil
	p.uid = ""
	assert.Equal(t, DefaultAccountId, d.GetCurrentHarmonyAccountId("com.example.app"))
}

func TestDeviceAccountId(t *testing.T) {
	d := newDelegate(&fakeProvider{})
	assert.Equal(t, "0", d.GetDeviceAccountIdByUID(1000))
	assert.Equal(t, "2", d.GetDeviceAccountIdByUID(200123))
	assert.Equal(t, MainDeviceAccountId, d.GetDeviceAccountIdByUID(-1))
}

func TestSubscribe(t *testing.T) {
	d := newDelegate(&fakeProvider{})

	var got []AccountEventInfo
	o := &ObserverFunc{ObserverName: "svc", Fn: func(info AccountEventInfo) { got = append(got, info) }}

	assert.Equal(t, kvstore.InvalidArgument, d.Subscribe(nil))
	assert.Equal(t, kvstore.InvalidArgument, d.Subscribe(&ObserverFunc{Fn: o.Fn}))
	require.Equal(t, kvstore.Success, d.Subscribe(o))
	assert.Equal(t, kvstore.InvalidArgument, d.Subscribe(o))

	info := AccountEventInfo{DeviceAccountId: "0", Status: HarmonyAccountLogin}
	d.NotifyAccountChanged(info)
	assert.Equal(t, []AccountEventInfo{info}, got)

	require.Equal(t, kvstore.Success, d.Unsubscribe(o))
	assert.Equal(t, kvstore.InvalidArgument, d.Unsubscribe(o))
	d.NotifyAccountChanged(info)
	assert.Len(t, got, 1)
}

func TestAccountEventSubscription(t *testing.T) {
	p := &fakeProvider{}
	d := newDelegate(p)

	calls := 0
	require.Equal(t, kvstore.Success, d.Subscribe(&ObserverFunc{ObserverName: "o", Fn: func(AccountEventInfo) { calls++ }}))

	require.NoError(t, d.SubscribeAccountEvent())
	require.NoError(t, d.SubscribeAccountEvent())
	require.NotNil(t, p.handler)

	p.handler(AccountEventInfo{Status: DeviceAccountDelete, DeviceAccountId: "1"})
	assert.Equal(t, 1, calls)

	d.UnsubscribeAccountEvent()
	assert.True(t, p.stopped.Load())
}

func TestStatusNames(t *testing.T) {
	assert.Equal(t, "DEVICE_ACCOUNT_DELETE", DeviceAccountDelete.String())
	assert.Equal(t, "UNKNOWN", AccountStatus(42).String())
}
